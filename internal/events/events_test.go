package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetpipe/assetpipe/pkg/types"
)

var _ types.EventSink = (*Bus)(nil)
var _ types.EventSink = (*Recorder)(nil)
var _ types.EventSink = Multi(nil)
var _ types.EventSink = Nop{}
var _ types.EventSink = LogSink{}

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var loaded, all []Event
	unsubscribe := bus.Subscribe(TopicLoaded, func(ev Event) { loaded = append(loaded, ev) })
	bus.Subscribe("", func(ev Event) { all = append(all, ev) })

	bus.Emit(TopicLoaded, Loaded{AssetID: "a", Type: "image"})
	bus.Emit(TopicUnloaded, Unloaded{AssetID: "a"})

	require.Len(t, loaded, 1)
	assert.Equal(t, Loaded{AssetID: "a", Type: "image"}, loaded[0].Payload)
	assert.Len(t, all, 2)

	unsubscribe()
	bus.Emit(TopicLoaded, Loaded{AssetID: "b"})
	assert.Len(t, loaded, 1)
	assert.Len(t, all, 3)
}

func TestBus_PanicIsolated(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	bus.Subscribe(TopicCleared, func(Event) { panic("boom") })
	bus.Subscribe(TopicCleared, func(Event) { calls++ })

	assert.NotPanics(t, func() { bus.Emit(TopicCleared, Cleared{}) })
	assert.Equal(t, 1, calls)
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	sink := Multi{a, nil, b, Nop{}, LogSink{}}

	sink.Emit(TopicCleanup, Cleanup{Unloaded: 2})
	sink.Emit(TopicCleared, Cleared{})

	for _, r := range []*Recorder{a, b} {
		assert.Equal(t, []Event{
			{Topic: TopicCleanup, Payload: Cleanup{Unloaded: 2}},
			{Topic: TopicCleared, Payload: Cleared{}},
		}, r.Events())
		assert.Equal(t, 1, r.Count(TopicCleared))
	}

	a.Reset()
	assert.Empty(t, a.Events())
	assert.Len(t, b.Events(), 2)
}
