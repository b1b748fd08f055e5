package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/chartsync/internal/session"
)

const subscriberBufSize = 256

// Event is a single session update encoded for SSE delivery.
type Event struct {
	Symbol  string
	Kind    string
	Payload string
}

// Broker fans out session updates to all subscribed SSE clients. It
// implements session.Sink.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

// NewBroker creates a new SSE event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
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

// Publish encodes u and sends it to every subscriber without blocking.
func (b *Broker) Publish(u session.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		slog.Warn("relay encode failed", "symbol", u.Symbol, "kind", u.Kind, "error", err)
		return
	}
	b.Send(Event{Symbol: u.Symbol, Kind: string(u.Kind), Payload: string(payload)})
}

// Send delivers evt to all subscribers. Non-blocking: slow clients
// have events dropped.
func (b *Broker) Send(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many events were discarded for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
