// Package history records supervised-process lifecycle transitions so
// "why did opencode restart at 3am" is answerable after the fact.
package history

import (
	"context"
	"time"
)

// Event is one lifecycle transition of the supervised process.
type Event struct {
	OccurredAt time.Time `json:"occurredAt"`
	Kind       string    `json:"kind"` // spawned, ready, restarted, stopped, exited
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink persists lifecycle events. Implementations must tolerate
// concurrent Record calls.
type Sink interface {
	Record(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Nop discards events; used when no DSN is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Event, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }
