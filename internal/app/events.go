package app

import (
	"sync"
	"sync/atomic"

	"chartdraw/internal/drawing"
	"chartdraw/internal/logger"
	drawinghttp "chartdraw/internal/transport/http/drawing"
)

const (
	EventDrawingChange   = "drawing.change"
	EventDrawingComplete = "drawing.complete"
	EventFibLevels       = "fib.levels"

	subscriberBuffer = 32
)

// EventHub 把引擎回调扇出给所有 SSE 连接。Publish 从不阻塞：
// 订阅者缓冲区满时丢弃该条事件。
type EventHub struct {
	mu      sync.Mutex
	subs    map[int]chan drawinghttp.Event
	nextID  int
	closed  bool
	dropped atomic.Int64
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]chan drawinghttp.Event)}
}

// Subscribe 注册一个订阅者；hub 关闭后返回已关闭的通道。
func (h *EventHub) Subscribe() (<-chan drawinghttp.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan drawinghttp.Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	return ch, func() { h.unsubscribe(id) }
}

func (h *EventHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *EventHub) Publish(ev drawinghttp.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			logger.Debugf("event %s dropped for slow subscriber %d", ev.Type, id)
		}
	}
}

func (h *EventHub) OnDrawingChange(all []drawing.Snapshot) {
	h.Publish(drawinghttp.Event{Type: EventDrawingChange, Data: all})
}

func (h *EventHub) OnDrawingComplete(created drawing.Snapshot) {
	h.Publish(drawinghttp.Event{Type: EventDrawingComplete, Data: created})
}

func (h *EventHub) OnFibLevels(levels []drawing.FibLevel) {
	h.Publish(drawinghttp.Event{Type: EventFibLevels, Data: levels})
}

func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped 返回因缓冲区满而丢弃的事件总数。
func (h *EventHub) Dropped() int64 { return h.dropped.Load() }

// Close 关闭所有订阅通道，SSE 连接随之结束；可重复调用。
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
