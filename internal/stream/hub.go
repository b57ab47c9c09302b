// Package stream fans simulation output out to subscribers: in-process
// channels, WebSocket clients and a NATS bridge.
package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind tags a message.
type Kind string

const (
	KindSnapshot  Kind = "snapshot"
	KindMarket    Kind = "market"
	KindIndicator Kind = "indicator"
	KindEvent     Kind = "event"
)

// Message is one published item.
type Message struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

const defaultBuffer = 64

// Hub delivers every published message to every subscriber without
// blocking: a subscriber whose buffer is full misses the message and the
// drop is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Message
	next    uint64
	closed  bool
	dropped atomic.Int64
	onDrop  func()
}

// NewHub creates a hub. onDrop, if set, is called once per dropped delivery.
func NewHub(onDrop func()) *Hub {
	return &Hub{subs: make(map[uint64]chan Message), onDrop: onDrop}
}

// Subscribe registers a subscriber with the given channel buffer.
func (h *Hub) Subscribe(buffer int) (uint64, <-chan Message) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Message, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return 0, ch
	}
	h.next++
	h.subs[h.next] = ch
	return h.next, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish offers msg to every subscriber and returns how many took it.
func (h *Hub) Publish(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- msg:
			delivered++
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of deliveries skipped because a buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.closed = true
}
