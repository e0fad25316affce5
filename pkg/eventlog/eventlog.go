// Package eventlog ships committed ledger events to subscribers.
package eventlog

import (
	"context"
	"errors"
	"sync"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
)

// Sink receives the events of one committed operation, in emission order.
type Sink interface {
	Publish(ctx context.Context, evs []events.Event) error
}

// Fanout publishes to every sink. A failing sink does not stop the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, evs []events.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, evs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps the most recent events in a bounded ring.
type Memory struct {
	mu     sync.Mutex
	events []events.Event
	limit  int
}

// NewMemory keeps up to limit events; 0 keeps everything.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Publish(_ context.Context, evs []events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evs...)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = append([]events.Event(nil), m.events[len(m.events)-m.limit:]...)
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *Memory) Events() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

// Since returns retained events with Seq greater than seq.
func (m *Memory) Since(seq uint64) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
