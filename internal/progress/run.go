package progress

import (
	"context"
	"errors"
	"sync"
)

// ErrTerminated is returned when emitting after a terminal event or Close.
var ErrTerminated = errors.New("progress stream terminated")

// Sink receives events in order.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// RunContext owns the event stream of one run. Events are numbered and
// delivered in emit order to a single reader of Events. A RunContext is never
// shared across runs.
type RunContext struct {
	events chan Event
	id     string
	mu     sync.Mutex
	seq    int
	done   bool
}

// NewRunContext creates a run with the given id. buffer bounds how far the
// producer may run ahead of the reader.
func NewRunContext(id string, buffer int) *RunContext {
	if buffer < 0 {
		buffer = 0
	}
	return &RunContext{id: id, events: make(chan Event, buffer)}
}

// ID returns the run id.
func (r *RunContext) ID() string {
	return r.id
}

// Events returns the read side of the stream. It is closed after a terminal
// event or Close.
func (r *RunContext) Events() <-chan Event {
	return r.events
}

// Emit stamps the event with the run id and the next sequence number and
// delivers it. It blocks until the reader accepts the event or ctx is done.
func (r *RunContext) Emit(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return ErrTerminated
	}

	e.RunID = r.id
	e.Seq = r.seq + 1

	select {
	case r.events <- e:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.seq = e.Seq

	if e.Kind.Terminal() {
		r.done = true
		close(r.events)
	}
	return nil
}

// Close ends the stream without a terminal event. It is safe to call more than once.
func (r *RunContext) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	close(r.events)
}

// Terminated reports whether the stream has ended.
func (r *RunContext) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) error { return nil }

// Collector is a Sink that keeps every event in memory.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the event.
func (c *Collector) Emit(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.Seq = len(c.events) + 1
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfKind returns the recorded events of one kind.
func (c *Collector) OfKind(kind Kind) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
