package devicelock

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcaster_SubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster(quietLogger())

	var got []Event
	unsub := b.Subscribe(func(ev Event) { got = append(got, ev) })
	assert.Equal(t, 1, b.Len())

	b.Publish(EventLocked)
	b.Publish(EventUnlocked)
	assert.Equal(t, []Event{EventLocked, EventUnlocked}, got)

	unsub()
	unsub()
	assert.Equal(t, 0, b.Len())

	b.Publish(EventLocked)
	assert.Len(t, got, 2, "no delivery after unsubscribe")
}

func TestBroadcaster_OnFiltersKind(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster(quietLogger())

	locked, unlocked := 0, 0
	b.On(EventLocked, func() { locked++ })
	b.On(EventUnlocked, func() { unlocked++ })

	b.Publish(EventLocked)
	b.Publish(EventLocked)
	b.Publish(EventUnlocked)

	assert.Equal(t, 2, locked)
	assert.Equal(t, 1, unlocked)
}

func TestBroadcaster_PanickingListenerIsolated(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster(quietLogger())

	b.Subscribe(func(Event) { panic("boom") })
	delivered := 0
	b.Subscribe(func(Event) { delivered++ })

	assert.NotPanics(t, func() { b.Publish(EventLocked) })
	assert.Equal(t, 1, delivered)
}

func TestBroadcaster_UnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster(quietLogger())

	var unsub func()
	calls := 0
	unsub = b.Subscribe(func(Event) {
		calls++
		unsub()
	})

	b.Publish(EventLocked)
	b.Publish(EventLocked)
	assert.Equal(t, 1, calls)
}

func TestBroadcaster_NilListener(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster(nil)

	b.Subscribe(nil)()
	b.On(EventLocked, nil)()
	assert.Equal(t, 0, b.Len())
}

func TestEventString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "locked", EventLocked.String())
	assert.Equal(t, "unlocked", EventUnlocked.String())
	assert.Equal(t, "unknown", Event(0).String())
}
