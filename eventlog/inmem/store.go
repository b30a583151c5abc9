// Package inmem implements the local, single-process variant of the event
// log: an in-memory ordered append log paired with a bounded-queue fan-out
// bus. Grounded on the teacher's runlog/inmem store and hooks bus, merged
// into a single Log since this package is the local half of the dual
// transport abstraction.
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runflow/engine/eventlog"
)

const defaultSubscriberQueue = 256

type run struct {
	mu     sync.Mutex
	events []eventlog.Event
	subs   map[*subscription]struct{}
}

// Log is the in-process Store+Bus implementation of eventlog.Log.
type Log struct {
	mu   sync.Mutex
	runs map[string]*run
}

// New constructs an empty in-memory Log.
func New() *Log {
	return &Log{runs: make(map[string]*run)}
}

func (l *Log) runFor(runID string) *run {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		r = &run{subs: make(map[*subscription]struct{})}
		l.runs[runID] = r
	}
	return r
}

// Append persists data under a fresh monotonically-increasing seq for runID
// and then broadcasts to live subscribers (persist-then-broadcast, 4.A).
func (l *Log) Append(ctx context.Context, runID string, typ eventlog.Type, data json.RawMessage) (eventlog.Event, error) {
	r := l.runFor(runID)

	r.mu.Lock()
	seq := int64(len(r.events)) + 1
	e := eventlog.Event{
		EventID:   uuid.NewString(),
		RunID:     runID,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Data:      data,
	}
	r.events = append(r.events, e)
	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.deliver(e)
	}
	return e, nil
}

// History returns the full ordered event list for runID.
func (l *Log) History(ctx context.Context, runID string) ([]eventlog.Event, error) {
	r := l.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventlog.Event, len(r.events))
	copy(out, r.events)
	return out, nil
}

// Publish delivers e to the run's current subscribers without persisting
// it. Append already broadcasts, so callers of Append need not call it;
// it exists to satisfy eventlog.Bus for callers that hold a Log as a Bus.
func (l *Log) Publish(ctx context.Context, e eventlog.Event) error {
	r := l.runFor(e.RunID)
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()
	for _, s := range subs {
		s.deliver(e)
	}
	return nil
}

// Subscribe opens a replay-then-tail subscription for runID starting after
// fromSeq. A slow subscriber whose queue fills is dropped with an overflow
// error rather than blocking Append (4.A "Local").
func (l *Log) Subscribe(ctx context.Context, runID string, fromSeq int64) (eventlog.Subscription, error) {
	r := l.runFor(runID)

	r.mu.Lock()
	replay := make([]eventlog.Event, 0, len(r.events))
	for _, e := range r.events {
		if e.Seq > fromSeq {
			replay = append(replay, e)
		}
	}
	s := &subscription{
		queue: make(chan eventlog.Event, len(replay)+defaultSubscriberQueue),
		done:  make(chan struct{}),
	}
	for _, e := range replay {
		s.queue <- e
	}
	r.subs[s] = struct{}{}
	s.onClose = func() {
		r.mu.Lock()
		delete(r.subs, s)
		r.mu.Unlock()
	}
	r.mu.Unlock()

	return s, nil
}

type subscription struct {
	queue    chan eventlog.Event
	done     chan struct{}
	closeOne sync.Once
	onClose  func()
	overflow bool
	mu       sync.Mutex
}

func (s *subscription) deliver(e eventlog.Event) {
	select {
	case s.queue <- e:
	default:
		s.mu.Lock()
		s.overflow = true
		s.mu.Unlock()
		s.Close()
	}
}

func (s *subscription) Next(ctx context.Context) (eventlog.Event, error) {
	select {
	case e, ok := <-s.queue:
		if !ok {
			return eventlog.Event{}, eventlog.ErrSubscriptionClosed
		}
		if isTerminal(e.Type) {
			s.drainAfterTerminal()
		}
		return e, nil
	case <-s.done:
		s.mu.Lock()
		overflow := s.overflow
		s.mu.Unlock()
		if overflow {
			return eventlog.Event{}, fmt.Errorf("eventlog: subscriber overflow: %w", eventlog.ErrSubscriptionClosed)
		}
		return eventlog.Event{}, eventlog.ErrSubscriptionClosed
	case <-ctx.Done():
		return eventlog.Event{}, ctx.Err()
	}
}

// drainAfterTerminal closes the subscription once the terminal event has
// been handed to Next, per 4.A: a terminal event is the last event ever
// delivered.
func (s *subscription) drainAfterTerminal() {
	s.Close()
}

func (s *subscription) Close() error {
	s.closeOne.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
	return nil
}

func isTerminal(t eventlog.Type) bool {
	return t == eventlog.TypeRunCompleted || t == eventlog.TypeRunFailed
}
