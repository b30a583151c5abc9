package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logmem "github.com/runflow/engine/eventlog/inmem"
	"github.com/runflow/engine/permission"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/tools"
)

type stubServer struct {
	output json.RawMessage
	err    error
	delay  time.Duration
	calls  int
}

func (s *stubServer) Invoke(ctx context.Context, spec *tools.Spec, arguments json.RawMessage) (json.RawMessage, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.output, s.err
}

type stubRouter struct {
	servers map[string]Server
}

func (r stubRouter) Server(serverID string) (Server, bool) {
	s, ok := r.servers[serverID]
	return s, ok
}

func newSpec() *tools.Spec {
	return &tools.Spec{
		Name:            "calc.add",
		ServerID:        "calc",
		PermissionScope: "calc.compute",
		InputSchema:     json.RawMessage(`{"type":"object","required":["a","b"],"properties":{"a":{"type":"number"},"b":{"type":"number"}}}`),
		ReadOnly:        true,
	}
}

func TestExecuteSuccessEmitsCompleted(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	srv := &stubServer{output: json.RawMessage(`{"sum":3}`)}
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, permission.New(permission.Options{}))

	req := tools.Request{RunID: "run-1", RequestID: "req-1", ToolName: "calc.add", ServerID: "calc", PermissionScope: "calc.compute", Arguments: json.RawMessage(`{"a":1,"b":2}`)}
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")

	history, err := log.History(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "tool.completed", string(history[0].Type))
	assert.Equal(t, 1, srv.calls)
}

func TestExecuteDeniedByPermissionGate(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	srv := &stubServer{output: json.RawMessage(`{}`)}
	gate := permission.New(permission.Options{BlockScopes: []string{"calc.compute"}})
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, gate)

	req := tools.Request{RunID: "run-2", RequestID: "req-2", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"a":1,"b":2}`)}
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")

	history, _ := log.History(context.Background(), "run-2")
	require.Len(t, history, 1)
	assert.Equal(t, "tool.denied", string(history[0].Type))
	assert.Equal(t, 0, srv.calls)
}

func TestExecuteSchemaViolationSkipsServer(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	srv := &stubServer{}
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, permission.New(permission.Options{}))

	req := tools.Request{RunID: "run-3", RequestID: "req-3", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"a":"not a number"}`)}
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")

	history, _ := log.History(context.Background(), "run-3")
	require.Len(t, history, 1)
	assert.Equal(t, "tool.failed", string(history[0].Type))
	assert.Equal(t, 0, srv.calls)
}

func TestExecuteDeduplicatesByRequestID(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	srv := &stubServer{output: json.RawMessage(`{"sum":3}`)}
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, permission.New(permission.Options{}))

	req := tools.Request{RunID: "run-4", RequestID: "req-4", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"a":1,"b":2}`)}
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")

	history, _ := log.History(context.Background(), "run-4")
	assert.Len(t, history, 1)
	assert.Equal(t, 1, srv.calls)
}

func TestExecuteServerErrorEmitsServerErrorThenFailed(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	srv := &stubServer{err: errors.New("boom")}
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, permission.New(permission.Options{}))

	req := tools.Request{RunID: "run-5", RequestID: "req-5", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"a":1,"b":2}`)}
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")

	history, _ := log.History(context.Background(), "run-5")
	require.Len(t, history, 2)
	assert.Equal(t, "tool.server.error", string(history[0].Type))
	assert.Equal(t, "tool.failed", string(history[1].Type))
}

func TestExecuteTimeoutEmitsFailed(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	spec.Timeout = int64(10 * time.Millisecond)
	srv := &stubServer{output: json.RawMessage(`{}`), delay: 100 * time.Millisecond}
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, permission.New(permission.Options{}))

	req := tools.Request{RunID: "run-6", RequestID: "req-6", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"a":1,"b":2}`)}
	exec.Execute(context.Background(), req, runstate.Identity{}, "production")

	history, _ := log.History(context.Background(), "run-6")
	require.Len(t, history, 1)
	assert.Equal(t, "tool.failed", string(history[0].Type))
}

func TestExecuteCacheHitSkipsServerOnSecondCall(t *testing.T) {
	log := logmem.New()
	spec := newSpec()
	srv := &stubServer{output: json.RawMessage(`{"sum":3}`)}
	exec := New(log, tools.NewRegistry(spec), stubRouter{servers: map[string]Server{"calc": srv}}, permission.New(permission.Options{}), WithCache(NewCache(8)))

	req1 := tools.Request{RunID: "run-7", RequestID: "req-7a", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"a":1,"b":2}`)}
	req2 := tools.Request{RunID: "run-7", RequestID: "req-7b", ToolName: "calc.add", ServerID: "calc", Arguments: json.RawMessage(`{"b":2,"a":1}`)}
	exec.Execute(context.Background(), req1, runstate.Identity{}, "production")
	exec.Execute(context.Background(), req2, runstate.Identity{}, "production")

	assert.Equal(t, 1, srv.calls)
}
