// Package toolexec implements the in-process Tool Executor (spec.md §4.F):
// dedupe by request_id, resolve the tool descriptor, validate arguments,
// gate permission, invoke the server under a bounded timeout, and classify
// the outcome into exactly one terminal event.
//
// Grounded on the teacher's runtime/toolregistry/executor package: a
// functional-options Executor carrying a telemetry logger/tracer, reduced
// from registry+Pulse result-stream plumbing to a direct in-process Server
// call since spec.md's in-process variant has no registry gateway to route
// through (that role is toolqueue's, for the distributed variant).
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/permission"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/telemetry"
	"github.com/runflow/engine/tools"
)

// Server invokes a single tool server-side and returns its raw JSON output.
// Implementations wrap whatever transport the tool actually uses (HTTP,
// gRPC, an MCP server, a nested run through the Coordinator for Nested
// tools).
type Server interface {
	Invoke(ctx context.Context, spec *tools.Spec, arguments json.RawMessage) (json.RawMessage, error)
}

// ServerRouter resolves the Server responsible for a tool's ServerID.
type ServerRouter interface {
	Server(serverID string) (Server, bool)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the executor's logger. Defaults to a noop logger.
func WithLogger(logger telemetry.Logger) Option { return func(e *Executor) { e.logger = logger } }

// WithTracer overrides the executor's tracer. Defaults to a noop tracer.
func WithTracer(tracer telemetry.Tracer) Option { return func(e *Executor) { e.tracer = tracer } }

// WithTimeout overrides the default per-invocation timeout.
func WithTimeout(d time.Duration) Option { return func(e *Executor) { e.timeout = d } }

// WithCache enables the content-addressed result cache for read-only tools
// (4.F step 6).
func WithCache(cache *Cache) Option { return func(e *Executor) { e.cache = cache } }

// Executor consumes tool.requested events and drives a single request
// through the six steps of spec.md §4.F.
type Executor struct {
	log     eventlog.Log
	specs   tools.Registry
	router  ServerRouter
	gate    permission.Gate
	cache   *Cache
	timeout time.Duration

	logger telemetry.Logger
	tracer telemetry.Tracer

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds an Executor. specs resolves tool descriptors, router dispatches
// to the owning server, and gate authorizes each call's permission scope.
func New(log eventlog.Log, specs tools.Registry, router ServerRouter, gate permission.Gate, opts ...Option) *Executor {
	e := &Executor{
		log:     log,
		specs:   specs,
		router:  router,
		gate:    gate,
		timeout: 30 * time.Second,
		logger:  telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
		seen:    make(map[string]struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Execute runs req through the six-step pipeline and appends exactly one
// terminal event (tool.completed|failed|denied), optionally preceded by
// tool.server.error (the "ordering invariant" of §4.F).
func (e *Executor) Execute(ctx context.Context, req tools.Request, identity runstate.Identity, environment string) {
	ctx, span := e.tracer.Start(ctx, "toolexec.execute", trace.WithAttributes(
		attribute.String("toolexec.request_id", req.RequestID),
		attribute.String("toolexec.tool", string(req.ToolName)),
	))
	defer span.End()

	if e.duplicate(req.RequestID) {
		e.logger.Debug(ctx, "toolexec: duplicate request dropped", "request_id", req.RequestID)
		return
	}

	spec, ok := e.specs.Spec(req.ToolName)
	if !ok {
		e.fail(ctx, req, "schema_violation", fmt.Sprintf("unknown tool %q", req.ToolName))
		return
	}

	if err := validateArguments(spec, req.Arguments); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "argument validation failed")
		e.fail(ctx, req, "schema_violation", err.Error())
		return
	}

	decision, err := e.gate.Check(ctx, spec.PermissionScope, environment, identity)
	if err != nil {
		e.fail(ctx, req, "permission_denied", err.Error())
		return
	}
	if !decision.Allowed {
		e.deny(ctx, req, decision.Reason)
		return
	}

	if spec.ReadOnly && e.cache != nil {
		key := tools.CacheKey(req.ToolName, canonicalize(req.Arguments))
		if cached, ok := e.cache.Get(key); ok {
			e.complete(ctx, req, cached, 0)
			return
		}
	}

	server, ok := e.router.Server(spec.ServerID)
	if !ok {
		e.fail(ctx, req, "transport", fmt.Sprintf("no server registered for %q", spec.ServerID))
		return
	}

	timeout := e.timeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := server.Invoke(callCtx, spec, req.Arguments)
	duration := time.Since(start)

	if err != nil {
		if callCtx.Err() != nil {
			e.fail(ctx, req, "timeout", err.Error())
			return
		}
		e.appendServerError(ctx, req, err.Error())
		e.fail(ctx, req, "server_error", err.Error())
		return
	}

	if spec.ReadOnly && e.cache != nil {
		e.cache.Put(tools.CacheKey(req.ToolName, canonicalize(req.Arguments)), output)
	}
	e.complete(ctx, req, output, duration.Milliseconds())
}

func (e *Executor) duplicate(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seen[requestID]; ok {
		return true
	}
	e.seen[requestID] = struct{}{}
	return false
}

func (e *Executor) complete(ctx context.Context, req tools.Request, output json.RawMessage, durationMS int64) {
	appendToolEvent(ctx, e.log, req.RunID, eventlog.TypeToolCompleted, req.RequestID, map[string]any{
		"output":      output,
		"duration_ms": durationMS,
	})
}

func (e *Executor) fail(ctx context.Context, req tools.Request, errorKind, message string) {
	appendToolEvent(ctx, e.log, req.RunID, eventlog.TypeToolFailed, req.RequestID, map[string]any{
		"error_kind": errorKind,
		"error":      message,
	})
}

func (e *Executor) deny(ctx context.Context, req tools.Request, reason string) {
	appendToolEvent(ctx, e.log, req.RunID, eventlog.TypeToolDenied, req.RequestID, map[string]any{
		"reason": reason,
	})
}

func (e *Executor) appendServerError(ctx context.Context, req tools.Request, message string) {
	appendToolEvent(ctx, e.log, req.RunID, eventlog.TypeToolServerErr, req.RequestID, map[string]any{
		"error": message,
	})
}

func appendToolEvent(ctx context.Context, log eventlog.Log, runID string, typ eventlog.Type, requestID string, fields map[string]any) {
	fields["request_id"] = requestID
	raw, err := json.Marshal(fields)
	if err != nil {
		return
	}
	_, _ = log.Append(ctx, runID, typ, raw)
}

func validateArguments(spec *tools.Spec, arguments json.RawMessage) error {
	if len(spec.InputSchema) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(spec.InputSchema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(string(spec.Name)+".json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(string(spec.Name) + ".json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var payload any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &payload); err != nil {
			return fmt.Errorf("unmarshal arguments: %w", err)
		}
	}
	if err := schema.Validate(payload); err != nil {
		return err
	}
	return nil
}

// canonicalize returns a stable byte representation of arguments for cache
// keying: re-marshal through a generic map/slice decode so key order does
// not affect the hash.
func canonicalize(arguments json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(arguments, &v); err != nil {
		return arguments
	}
	out, err := json.Marshal(v)
	if err != nil {
		return arguments
	}
	return out
}
