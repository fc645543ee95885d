package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetpipe/assetpipe/pkg/types"
)

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestStore_InsertAndGet(t *testing.T) {
	s := NewStore()

	rec := s.Insert("sprite1", "image", &types.Image{Src: "s.png", Width: 10, Height: 2})
	assert.Equal(t, 1, rec.RefCount)
	assert.Equal(t, int64(80), rec.Size)

	v, ok := s.Get("sprite1")
	require.True(t, ok)
	assert.Equal(t, "s.png", v.(*types.Image).Source())

	_, ok = s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_RefCounting(t *testing.T) {
	s := NewStore()
	img := &types.Image{Src: "s.png"}
	s.Insert("a", "image", img)

	_, n, ok := s.Acquire("a")
	require.True(t, ok)
	assert.Equal(t, 2, n)

	n, evicted, ok := s.Release("a")
	assert.True(t, ok)
	assert.False(t, evicted)
	assert.Equal(t, 1, n)
	assert.Equal(t, "s.png", img.Source())

	n, evicted, ok = s.Release("a")
	assert.True(t, ok)
	assert.True(t, evicted)
	assert.Equal(t, 0, n)
	assert.Equal(t, "", img.Source(), "evicted images are detached")

	_, _, ok = s.Release("a")
	assert.False(t, ok, "releasing an uncached id is a no-op")
}

func TestStore_RefCountProperty(t *testing.T) {
	ops := []int{+1, +1, -1, +1, -1, -1, -1}

	s := NewStore()
	s.Insert("a", "json", map[string]any{"k": 1})
	net := 1
	for _, op := range ops {
		if op > 0 {
			if _, _, ok := s.Acquire("a"); ok {
				net++
			}
		} else if _, _, ok := s.Release("a"); ok {
			net--
		}
		_, cached := s.Get("a")
		assert.Equal(t, net > 0, cached)
	}
}

func TestStore_ForceEvictAndSweep(t *testing.T) {
	s := NewStore()
	audio := &types.Audio{Src: "theme.ogg"}
	audio.Play()
	c := &closer{}

	s.Insert("theme", "audio", audio)
	s.Insert("res", "json", c)
	s.Insert("keep", "json", "x")

	assert.True(t, s.ForceEvict("theme"))
	assert.False(t, audio.Playing())
	assert.Equal(t, "", audio.Source())
	assert.False(t, s.ForceEvict("theme"))

	assert.Empty(t, s.Sweep(), "nothing is at zero yet")

	assert.Equal(t, []string{"keep", "res"}, s.Clear())
	assert.True(t, c.closed)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(3), s.Stats().Evictions)
}

func TestStore_Sweep(t *testing.T) {
	s := NewStore()
	s.Insert("a", "json", 1)
	s.Insert("b", "json", 2)

	// drive a record to zero without evicting it through Release
	s.mu.Lock()
	s.items["b"].RefCount = 0
	s.mu.Unlock()

	assert.Equal(t, []string{"b"}, s.Sweep())
	assert.Equal(t, []string{"a"}, s.Keys())
}

func TestStore_InsertReplacesAndTearsDown(t *testing.T) {
	s := NewStore()
	old := &types.Image{Src: "old.png"}
	s.Insert("a", "image", old)

	next := &types.Image{Src: "new.png"}
	s.Insert("a", "image", next)
	assert.Equal(t, "", old.Source())
	assert.Equal(t, "new.png", next.Source())

	s.Insert("a", "image", next)
	assert.Equal(t, "new.png", next.Source(), "re-inserting the same handle keeps it")
}

func TestStore_Stats(t *testing.T) {
	s := NewStore()
	s.Insert("a", "json", "ab")
	s.Acquire("a")
	s.Acquire("b")

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, int64(8), stats.Memory)
	assert.Equal(t, s.Memory(), stats.Memory)

	rec, ok := s.Record("a")
	require.True(t, ok)
	assert.Equal(t, 2, rec.RefCount)
}

func TestEstimateSize(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int64
	}{
		{"nil", nil, 0},
		{"image", &types.Image{Width: 4, Height: 3}, 48},
		{"audio", &types.Audio{Data: []byte("OggS")}, 0},
		{"object", map[string]any{"a": 1}, 14},
		{"string", "ab", 8},
		{"unserializable", make(chan int), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateSize(tt.value))
		})
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore()
	s.Insert("a", "json", 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Acquire("a")
		}()
	}
	wg.Wait()

	rec, _ := s.Record("a")
	assert.Equal(t, 51, rec.RefCount)
}
