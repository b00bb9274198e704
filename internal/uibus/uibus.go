// Package uibus fans UI-bound events out to any number of front-end
// subscribers. The gateway exposes subscriptions as a local SSE
// endpoint; the activity tracker and config routes publish into it.
package uibus

import (
	"sync"
)

// Event is one UI-bound message, e.g. a session-activity phase change
// or an interface-reload instruction.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// Bus is a non-blocking broadcast channel. Slow subscribers drop
// events instead of stalling publishers; UI state events are
// re-derivable so loss is acceptable.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers e to every current subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a receive channel and a cancel func. Cancel must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
