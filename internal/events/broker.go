// Package events fans coordinator activity out to live SSE subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

// Event is one coordinator lifecycle event.
type Event struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload string    `json:"-"`
}

// Broker fans out events to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	closed      bool
	nextID      atomic.Int64
	published   atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a client. The channel is buffered; slow consumers
// have events dropped. After Close the channel comes back already closed.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Close ends every subscription so open streams return.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Send delivers evt to every subscriber without blocking.
func (b *Broker) Send(evt Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Publish encodes payload as JSON and sends it under kind.
func (b *Broker) Publish(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Debug("event payload encode failed", "kind", kind, "error", err)
		return
	}
	b.Send(Event{Kind: kind, At: time.Now().UTC(), Payload: string(data)})
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Published returns how many events have been sent since start.
func (b *Broker) Published() int64 {
	return b.published.Load()
}
