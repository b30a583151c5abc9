package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/runflow/engine/eventlog"
)

// handleRunEvents streams runID's event log as server-sent events: replay
// of history followed seamlessly by live events (eventlog.Bus.Subscribe's
// contract), one SSE "event: <type>\ndata: <json>" frame per eventlog.Event.
//
// Grounded on ashita-ai-akashi's HandleSubscribe: disable the write
// deadline for the long-lived connection, flush after every write, and
// interleave a keepalive comment so idle connections survive proxies.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := runIDFromRequest(s.mux, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ctx := r.Context()
	sub, err := s.deps.Log.Subscribe(ctx, runID, 0)
	if err != nil {
		s.deps.Logger.Error(ctx, "subscribe to run events failed", "run_id", runID, "err", err)
		return
	}
	defer sub.Close()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	events := make(chan eventlog.Event)
	errs := make(chan error, 1)
	go func() {
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case err := <-errs:
			if !errors.Is(err, eventlog.ErrSubscriptionClosed) {
				s.deps.Logger.Error(ctx, "run event stream ended", "run_id", runID, "err", err)
			}
			return
		case ev := <-events:
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev eventlog.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
