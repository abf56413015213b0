package app

import (
	"testing"

	"chartdraw/internal/drawing"
	drawinghttp "chartdraw/internal/transport/http/drawing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubFanOut(t *testing.T) {
	h := NewEventHub()
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	h.OnDrawingComplete(drawing.Snapshot{ID: "x"})
	assert.Equal(t, EventDrawingComplete, (<-a).Type)
	assert.Equal(t, EventDrawingComplete, (<-b).Type)

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok, "unsubscribe closes the channel")
	assert.Equal(t, 1, h.Subscribers())

	h.OnFibLevels(drawing.DefaultFibLevels())
	ev := <-b
	assert.Equal(t, EventFibLevels, ev.Type)
	cancelB()
}

func TestEventHubDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch, cancel := h.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(drawinghttp.Event{Type: EventDrawingChange})
	}
	assert.Equal(t, int64(5), h.Dropped())
	assert.Len(t, ch, subscriberBuffer)
}

func TestEventHubClose(t *testing.T) {
	h := NewEventHub()
	ch, cancel := h.Subscribe()
	h.Close()
	h.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	late, _ := h.Subscribe()
	_, ok = <-late
	require.False(t, ok, "subscribe after close yields a closed channel")
	h.OnDrawingChange(nil)
	assert.Zero(t, h.Subscribers())
}
