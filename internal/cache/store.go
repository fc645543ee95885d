package cache

import (
	"io"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/assetpipe/assetpipe/pkg/types"
)

// Record is a live cache entry
type Record struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Value      any       `json:"-"`
	RefCount   int       `json:"ref_count"`
	Size       int64     `json:"size"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastAccess time.Time `json:"last_access"`
}

// Stats represents cache statistics
type Stats struct {
	Entries   int     `json:"entries"`
	Memory    int64   `json:"memory"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Store is a reference-counted cache of decoded assets. An entry lives
// exactly as long as its reference count is positive, unless it is
// force-evicted. Evicted values are torn down.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Record
	stats Stats
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{items: make(map[string]*Record)}
}

// Insert stores value under id with a reference count of 1, replacing and
// tearing down any previous entry.
func (s *Store) Insert(id, assetType string, value any) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.items[id]; exists && !sameHandle(old.Value, value) {
		Teardown(old.Value)
	}

	now := time.Now()
	rec := &Record{
		ID:         id,
		Type:       assetType,
		Value:      value,
		RefCount:   1,
		Size:       EstimateSize(value),
		LoadedAt:   now,
		LastAccess: now,
	}
	s.items[id] = rec
	return *rec
}

// Get returns the cached value without touching its reference count
func (s *Store) Get(id string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.items[id]
	if !exists {
		return nil, false
	}
	return rec.Value, true
}

// Record returns a copy of the entry
func (s *Store) Record(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.items[id]
	if !exists {
		return Record{}, false
	}
	return *rec, true
}

// Acquire increments the reference count of a cached entry and returns the
// value and new count. ok is false on a miss.
func (s *Store) Acquire(id string) (value any, refCount int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.items[id]
	if !exists {
		s.stats.Misses++
		s.updateHitRate()
		return nil, 0, false
	}

	rec.RefCount++
	rec.LastAccess = time.Now()
	s.stats.Hits++
	s.updateHitRate()
	return rec.Value, rec.RefCount, true
}

// Release decrements the reference count. When it reaches zero the entry
// is torn down and removed. ok is false when id is not cached.
func (s *Store) Release(id string) (refCount int, evicted bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.items[id]
	if !exists {
		return 0, false, false
	}

	rec.RefCount--
	if rec.RefCount > 0 {
		return rec.RefCount, false, true
	}
	s.removeItem(id)
	return rec.RefCount, true, true
}

// ForceEvict removes id regardless of its reference count
func (s *Store) ForceEvict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.items[id]
	if !exists {
		return false
	}
	rec.RefCount = 0
	s.removeItem(id)
	return true
}

// Sweep evicts every entry whose reference count is not positive and
// returns their ids in order.
func (s *Store) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, rec := range s.items {
		if rec.RefCount <= 0 {
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	for _, id := range evicted {
		s.removeItem(id)
	}
	return evicted
}

// Clear evicts everything and returns the evicted ids in order
func (s *Store) Clear() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.keysLocked()
	for _, id := range ids {
		s.removeItem(id)
	}
	return ids
}

// Keys returns cached ids in order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keysLocked()
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Memory returns the summed size estimate of all entries
func (s *Store) Memory() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, rec := range s.items {
		total += rec.Size
	}
	return total
}

// Stats returns cache statistics
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Entries = len(s.items)
	for _, rec := range s.items {
		stats.Memory += rec.Size
	}
	return stats
}

func (s *Store) keysLocked() []string {
	keys := make([]string, 0, len(s.items))
	for id := range s.items {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) removeItem(id string) {
	rec := s.items[id]
	delete(s.items, id)
	Teardown(rec.Value)
	s.stats.Evictions++
}

func (s *Store) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

// Teardown releases what a decoded handle holds. Audio is paused before
// it is detached.
func Teardown(value any) {
	switch v := value.(type) {
	case *types.Image:
		v.Detach()
	case *types.Audio:
		v.Pause()
		v.Detach()
	case io.Closer:
		_ = v.Close()
	}
}

func sameHandle(a, b any) bool {
	switch av := a.(type) {
	case *types.Image:
		bv, ok := b.(*types.Image)
		return ok && av == bv
	case *types.Audio:
		bv, ok := b.(*types.Audio)
		return ok && av == bv
	}
	return false
}

// EstimateSize is a rough memory estimate: width×height×4 for images,
// twice the serialized JSON length for structured data. Audio handles and
// unserializable values count as zero.
func EstimateSize(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case *types.Image:
		return int64(v.Width) * int64(v.Height) * 4
	case *types.Audio:
		return 0
	}

	data, err := gojson.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(data)) * 2
}
