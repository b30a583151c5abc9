package redisbus

import (
	"context"
	"fmt"

	"goa.design/pulse/streaming"

	"github.com/runflow/engine/eventlog"
)

// Subscribe opens a replay-then-tail subscription: it reads history from
// Redis for events after fromSeq, then opens a Pulse consumer-group sink on
// the run's notify stream. Each notification triggers a re-read of Redis
// for events beyond the highest seq already delivered, deduplicated by seq
// to absorb the overlap window between replay and the first live
// notification.
func (l *Log) Subscribe(ctx context.Context, runID string, fromSeq int64) (eventlog.Subscription, error) {
	history, err := l.History(ctx, runID)
	if err != nil {
		return nil, err
	}
	var replay []eventlog.Event
	for _, e := range history {
		if e.Seq > fromSeq {
			replay = append(replay, e)
		}
	}

	stream, err := l.pulse.Stream(notifyStreamName(runID))
	if err != nil {
		return nil, fmt.Errorf("redisbus: open notify stream: %w", err)
	}
	sink, err := stream.NewSink(ctx, notifySinkName)
	if err != nil {
		return nil, fmt.Errorf("redisbus: open notify sink: %w", err)
	}

	lastSeq := fromSeq
	if len(replay) > 0 {
		lastSeq = replay[len(replay)-1].Seq
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		log:      l,
		runID:    runID,
		sink:     sink,
		lastSeq:  lastSeq,
		outQueue: make(chan eventlog.Event, 256),
		errs:     make(chan error, 1),
		cancel:   cancel,
	}
	for _, e := range replay {
		sub.outQueue <- e
	}
	go sub.pump(runCtx)
	return sub, nil
}

type notifySink interface {
	Subscribe() <-chan *streaming.Event
	Ack(ctx context.Context, e *streaming.Event) error
	Close(ctx context.Context)
}

type subscription struct {
	log      *Log
	runID    string
	sink     notifySink
	lastSeq  int64
	outQueue chan eventlog.Event
	errs     chan error
	cancel   context.CancelFunc
	closed   bool
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.outQueue)
	ch := s.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fresh, err := s.log.History(ctx, s.runID)
			if err != nil {
				s.pushErr(err)
				continue
			}
			terminal := false
			for _, e := range fresh {
				if e.Seq <= s.lastSeq {
					continue
				}
				select {
				case s.outQueue <- e:
					s.lastSeq = e.Seq
					if e.Type == eventlog.TypeRunCompleted || e.Type == eventlog.TypeRunFailed {
						terminal = true
					}
				case <-ctx.Done():
					return
				}
			}
			if ackErr := s.sink.Ack(ctx, evt); ackErr != nil {
				s.pushErr(ackErr)
			}
			if terminal {
				return
			}
		}
	}
}

func (s *subscription) pushErr(err error) {
	select {
	case s.errs <- fmt.Errorf("redisbus: %w", err):
	default:
	}
}

func (s *subscription) Next(ctx context.Context) (eventlog.Event, error) {
	select {
	case e, ok := <-s.outQueue:
		if !ok {
			return eventlog.Event{}, eventlog.ErrSubscriptionClosed
		}
		return e, nil
	case err := <-s.errs:
		return eventlog.Event{}, err
	case <-ctx.Done():
		return eventlog.Event{}, ctx.Err()
	}
}

func (s *subscription) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.sink.Close(context.Background())
	return nil
}
