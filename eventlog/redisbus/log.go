// Package redisbus implements the distributed variant of the event log:
// durable per-run persistence to a Redis ordered list plus a Pulse stream
// used purely for change notification. Subscribers read history from Redis,
// then tail the Pulse stream, deduplicating the brief overlap window by seq
// (4.A "Distributed").
//
// Grounded on the teacher's features/stream/pulse sink/subscriber pair and
// its clients/pulse Redis wrapper.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/eventlog/redisbus/pulseclient"
)

const notifySinkName = "runengine_eventlog"

// Log is the Redis-backed distributed implementation of eventlog.Log.
// History is persisted to "runs:{run_id}:events" ordered lists; new-event
// notifications flow over a Pulse stream named "runs:{run_id}:notify" so
// live subscribers know to re-read the list rather than carrying the
// payload twice.
type Log struct {
	redis *redis.Client
	pulse pulseclient.Client
}

// New constructs a Redis-backed Log. redisClient must already be connected;
// Log does not own its lifecycle.
func New(redisClient *redis.Client) (*Log, error) {
	pulse, err := pulseclient.New(pulseclient.Options{Redis: redisClient, StreamMaxLen: 64})
	if err != nil {
		return nil, fmt.Errorf("redisbus: %w", err)
	}
	return &Log{redis: redisClient, pulse: pulse}, nil
}

func eventsKey(runID string) string        { return fmt.Sprintf("runs:%s:events", runID) }
func notifyStreamName(runID string) string { return fmt.Sprintf("runs:%s:notify", runID) }

type storedEvent struct {
	EventID   string          `json:"event_id"`
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      eventlog.Type   `json:"type"`
	Data      json.RawMessage `json:"data"`
}

func toEvent(s storedEvent) eventlog.Event {
	return eventlog.Event{
		EventID:   s.EventID,
		RunID:     s.RunID,
		Seq:       s.Seq,
		Timestamp: s.Timestamp,
		Type:      s.Type,
		Data:      s.Data,
	}
}

// Append serializes writers for runID through a short-lived Redis lock,
// assigns seq from the current list length, persists, then notifies.
// Order is persist → notify, matching the local transport's persist →
// broadcast; notify failures never fail Append.
func (l *Log) Append(ctx context.Context, runID string, typ eventlog.Type, data json.RawMessage) (eventlog.Event, error) {
	lockKey := fmt.Sprintf("runs:%s:append-lock", runID)
	unlock, err := l.acquireLock(ctx, lockKey)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("%w: acquire append lock: %v", eventlog.ErrEventStoreUnavailable, err)
	}
	defer unlock()

	length, err := l.redis.LLen(ctx, eventsKey(runID)).Result()
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("%w: %v", eventlog.ErrEventStoreUnavailable, err)
	}

	stored := storedEvent{
		EventID:   uuid.NewString(),
		RunID:     runID,
		Seq:       length + 1,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Data:      data,
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("%w: encode event: %v", eventlog.ErrEventStoreUnavailable, err)
	}
	if err := l.redis.RPush(ctx, eventsKey(runID), payload).Err(); err != nil {
		return eventlog.Event{}, fmt.Errorf("%w: %v", eventlog.ErrEventStoreUnavailable, err)
	}

	e := toEvent(stored)
	_ = l.notify(ctx, runID, e.Seq, string(e.Type))
	return e, nil
}

// History returns the full ordered event list for runID from Redis.
func (l *Log) History(ctx context.Context, runID string) ([]eventlog.Event, error) {
	raw, err := l.redis.LRange(ctx, eventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventlog.ErrEventStoreUnavailable, err)
	}
	out := make([]eventlog.Event, 0, len(raw))
	for _, r := range raw {
		var s storedEvent
		if err := json.Unmarshal([]byte(r), &s); err != nil {
			return nil, fmt.Errorf("%w: decode event: %v", eventlog.ErrEventStoreUnavailable, err)
		}
		out = append(out, toEvent(s))
	}
	return out, nil
}

// Publish re-sends a notification for an already-persisted event. Most
// callers rely on Append's own notify; this exists so Log satisfies
// eventlog.Bus for components that persist through another path (e.g. a
// backfill or replay tool).
func (l *Log) Publish(ctx context.Context, e eventlog.Event) error {
	return l.notify(ctx, e.RunID, e.Seq, string(e.Type))
}

func (l *Log) notify(ctx context.Context, runID string, seq int64, typ string) error {
	stream, err := l.pulse.Stream(notifyStreamName(runID))
	if err != nil {
		return fmt.Errorf("redisbus: open notify stream: %w", err)
	}
	payload, err := json.Marshal(struct {
		Seq int64 `json:"seq"`
	}{Seq: seq})
	if err != nil {
		return fmt.Errorf("redisbus: encode notification: %w", err)
	}
	if _, err := stream.Add(ctx, typ, payload); err != nil {
		return fmt.Errorf("redisbus: notify: %w", err)
	}
	return nil
}

// acquireLock takes a short-lived Redis lock serializing Append calls for a
// single run_id, per 4.A's "single logical lock (per-run mutex / per-run
// stream)" ordering guarantee. Distinct run_ids never contend.
func (l *Log) acquireLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ok, err := l.redis.SetNX(ctx, key, token, 5*time.Second).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redisbus: timed out acquiring %s", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return func() {
		cur, err := l.redis.Get(ctx, key).Result()
		if err == nil && cur == token {
			l.redis.Del(ctx, key)
		}
	}, nil
}
