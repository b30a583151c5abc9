// Package httpapi exposes the run-lifecycle surface spec.md §6 names over
// HTTP: start a run, stream its events, and read its materialized state.
//
// Grounded on example/cmd/assistant/http.go's hand-assembled transport:
// goa.design/goa/v3/http's Muxer for pattern routing and goa.design/clue/log
// for request logging, but without that file's generated server/endpoint
// layer — there are exactly six fixed routes here, not a DSL-described
// service, so the handlers are written directly against net/http.
package httpapi

import (
	"net/http"

	goahttp "goa.design/goa/v3/http"

	"github.com/runflow/engine/coordinator"
	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/telemetry"
	"github.com/runflow/engine/workflow"
)

// Deps wires the Coordinator and the read-side stores the handlers query.
type Deps struct {
	Coordinator  *coordinator.Coordinator
	Log          eventlog.Log
	RunStates    runstate.Store
	WorkflowRuns workflow.Store
	Engine       workflow.Engine

	Logger telemetry.Logger
}

// Server bundles the six spec.md §6 endpoints behind a goahttp.Muxer.
type Server struct {
	deps Deps
	mux  goahttp.Muxer
}

// New builds a Server and mounts every route.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	s := &Server{deps: deps, mux: goahttp.NewMuxer()}
	s.mount()
	return s
}

func (s *Server) mount() {
	s.mux.Handle(http.MethodPost, "/runs", s.handleStartRun)
	s.mux.Handle(http.MethodGet, "/runs/{id}/events", s.handleRunEvents)
	s.mux.Handle(http.MethodGet, "/runs/{id}/state", s.handleRunState)
	s.mux.Handle(http.MethodGet, "/runs/{id}/workflow", s.handleRunWorkflow)
	s.mux.Handle(http.MethodPost, "/runs/{id}/approval", s.handleRunApproval)
	s.mux.Handle(http.MethodGet, "/health", s.handleHealth)
}

// ServeHTTP implements http.Handler by delegating to the mounted mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func runIDFromRequest(mux goahttp.Muxer, r *http.Request) string {
	return mux.Vars(r)["id"]
}
