// Package events broadcasts pipeline progress to subscribers (the
// websocket watch endpoint). Delivery is best-effort: a slow subscriber
// drops events rather than stalling the pipeline.
package events

import (
	"sync"
	"time"
)

// Event is one stage-progress notification.
type Event struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"` // started | finished | failed
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives pipeline events.
type Sink interface {
	Emit(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// Hub fans events out to dynamic subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel and its cancel func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// Emit broadcasts to all subscribers, dropping on full buffers.
func (h *Hub) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
