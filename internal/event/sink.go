// Package event delivers the notifications emitted by the capsule store.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/chrono/internal/capsule"
)

// Recorder keeps every notification in memory, in emission order.
type Recorder struct {
	mu     sync.Mutex
	events []capsule.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, ev capsule.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded notifications.
func (r *Recorder) Events() []capsule.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capsule.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded notifications, in order.
func (r *Recorder) Kinds() []capsule.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]capsule.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind()
	}
	return kinds
}

// Reset discards recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogSink writes each notification to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at info level on l.
func NewLogSink(l *slog.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Notify(ctx context.Context, ev capsule.Event) error {
	switch e := ev.(type) {
	case capsule.Created:
		s.logger.InfoContext(ctx, string(e.Kind()),
			"id", e.ID, "from", e.From, "to", e.To, "unlock_block", e.UnlockBlock)
	case capsule.Opened:
		s.logger.InfoContext(ctx, string(e.Kind()), "id", e.ID, "by", e.By)
	default:
		s.logger.InfoContext(ctx, string(ev.Kind()), "id", ev.Capsule())
	}
	return nil
}

// Fanout delivers each notification to every sink in order.
// The first error stops delivery and is returned.
type Fanout []capsule.Notifier

func (f Fanout) Notify(ctx context.Context, ev capsule.Event) error {
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Deferred holds notifications until the unit that emitted them commits,
// then hands them to its sink. Notifications of a unit that fails are
// dropped. Units are delimited by the runner returned from Wrap; outside
// a unit notifications pass straight through.
type Deferred struct {
	mu      sync.Mutex
	sink    capsule.Notifier
	depth   int
	pending []capsule.Event
}

// NewDeferred creates a Deferred delivering to sink.
func NewDeferred(sink capsule.Notifier) *Deferred {
	return &Deferred{sink: sink}
}

func (d *Deferred) Notify(ctx context.Context, ev capsule.Event) error {
	d.mu.Lock()
	if d.depth > 0 {
		d.pending = append(d.pending, ev)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.sink.Notify(ctx, ev)
}

// Wrap returns a runner that runs fn through next as one unit. A nil next
// runs fn directly. Nested units join the outer one: their notifications
// are dropped if they fail and otherwise wait for the outer unit.
//
// Delivery happens after next returns. A sink error at that point is
// returned, but the unit itself has already committed.
func (d *Deferred) Wrap(next func(ctx context.Context, fn func(ctx context.Context) error) error) func(ctx context.Context, fn func(ctx context.Context) error) error {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		d.mu.Lock()
		d.depth++
		mark := len(d.pending)
		d.mu.Unlock()

		var err error
		if next == nil {
			err = fn(ctx)
		} else {
			err = next(ctx, fn)
		}

		d.mu.Lock()
		d.depth--
		if err != nil {
			d.pending = d.pending[:mark]
		}
		if d.depth > 0 || err != nil {
			d.mu.Unlock()
			return err
		}
		events := d.pending
		d.pending = nil
		d.mu.Unlock()

		for _, ev := range events {
			if err := d.sink.Notify(ctx, ev); err != nil {
				return fmt.Errorf("deliver %s for capsule %d: %w", ev.Kind(), ev.Capsule(), err)
			}
		}
		return nil
	}
}
