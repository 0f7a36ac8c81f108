// Package eventbus fans run progress events out to live subscribers.
package eventbus

import (
	"sync"

	"github.com/jxucoder/promptopt/model"
)

// Bus delivers progress events of a run to its subscribers.
type Bus interface {
	Subscribe(runID string) chan *model.Event
	Unsubscribe(runID string, ch chan *model.Event)
	Publish(runID string, event *model.Event)
}

// subscriberBuffer bounds each subscriber channel. A run emits a handful of
// events per stage, so a full buffer means the subscriber stopped reading.
const subscriberBuffer = 64

// InMemoryBus is a Bus backed by buffered channels.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.Event),
	}
}

// Subscribe creates a channel that receives events for a run.
func (b *InMemoryBus) Subscribe(runID string) chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, subscriberBuffer)
	b.subs[runID] = append(b.subs[runID], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Unknown channels are ignored.
func (b *InMemoryBus) Unsubscribe(runID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[runID]
	for i, s := range subs {
		if s == ch {
			b.subs[runID] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			close(ch)
			return
		}
	}
}

// Publish sends an event to every subscriber of a run without blocking.
func (b *InMemoryBus) Publish(runID string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[runID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
