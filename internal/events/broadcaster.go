// ABOUTME: In-memory fan-out broadcaster for pairing lifecycle events
// ABOUTME: Delivers each Event to every subscriber of the emitting agent's identity

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides pub/sub for Events keyed by agent identity.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // agent -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events emitted by agent. The subscription is
// removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, agent string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[agent]; !ok {
		b.subscribers[agent] = make(map[string]chan *Event)
	}
	b.subscribers[agent][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agent", agent, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agent, subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber of ev.Agent without blocking.
func (b *Broadcaster) Publish(ev *Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[ev.Agent] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"agent", ev.Agent,
				"kind", ev.Kind,
				"event_id", ev.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agent, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[agent]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, agent)
	}

	b.logger.Debug("subscriber removed", "agent", agent, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agent, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, agent)
	}
	b.closed = true
}
