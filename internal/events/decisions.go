// Package events fans decision outcomes out to in-process subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

// DecisionBroadcaster fans out decision events to all subscribers via buffered channels.
type DecisionBroadcaster struct {
	mu      sync.RWMutex
	subs    map[chan domain.DecisionEvent]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewDecisionBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewDecisionBroadcaster(buffer int) *DecisionBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &DecisionBroadcaster{
		subs:   make(map[chan domain.DecisionEvent]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for slow readers.
func (b *DecisionBroadcaster) Publish(e domain.DecisionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *DecisionBroadcaster) Subscribe() chan domain.DecisionEvent {
	ch := make(chan domain.DecisionEvent, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *DecisionBroadcaster) Unsubscribe(ch chan domain.DecisionEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *DecisionBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *DecisionBroadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
