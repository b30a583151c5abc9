// Command runengine serves the run-lifecycle HTTP surface (spec.md §6) and
// drives runs to completion through the workflow engine.
//
// Grounded on example/cmd/assistant/main.go: flag-driven host/port
// configuration, goa.design/clue/log for structured startup logging, a
// signal handler feeding an error channel, and a WaitGroup'd graceful
// shutdown. Narrowed from that file's multi-transport (HTTP/gRPC/JSON-RPC)
// wiring to this service's single HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/runflow/engine/activity"
	"github.com/runflow/engine/collaborator"
	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/collaborator/model/anthropic"
	"github.com/runflow/engine/collaborator/model/openai"
	"github.com/runflow/engine/config"
	"github.com/runflow/engine/coordinator"
	"github.com/runflow/engine/eventlog"
	logmem "github.com/runflow/engine/eventlog/inmem"
	"github.com/runflow/engine/eventlog/redisbus"
	"github.com/runflow/engine/httpapi"
	"github.com/runflow/engine/permission"
	"github.com/runflow/engine/runstate"
	rsmem "github.com/runflow/engine/runstate/inmem"
	"github.com/runflow/engine/telemetry"
	"github.com/runflow/engine/toolexec"
	"github.com/runflow/engine/tools"
	"github.com/runflow/engine/workflow"
	inmemengine "github.com/runflow/engine/workflow/engine/inmem"
	temporalengine "github.com/runflow/engine/workflow/engine/temporal"
	wfmem "github.com/runflow/engine/workflow/store/inmem"
)

func main() {
	var (
		hostF     = flag.String("host", "localhost", "HTTP host")
		httpPortF = flag.String("http-port", "8080", "HTTP port")
		configF   = flag.String("config", "", "Path to an optional YAML config file")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	eventLog, runStates, wfStates, err := buildStores(cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}
	projector := runstate.NewProjector(runStates, eventLog)

	gate := permission.New(permission.Options{})
	registry := tools.NewRegistry() // populate with deployment-specific tool specs
	executor := toolexec.New(eventLog, registry, nil, gate)
	submitter := toolexec.Submitter{Executor: executor, RunStates: runStates, Environment: string(cfg.Mode)}

	deps := activity.Deps{
		Log:           eventLog,
		Planner:       collaborator.EchoPlanner{},
		Retriever:     collaborator.NullRetriever{},
		Guardrail:     collaborator.PermissiveGuardrail{},
		Model:         buildModelClient(ctx),
		ToolSubmitter: submitter,
		Gate:          gate,
		Registry:      registry,
		Environment:   string(cfg.Mode),
		CostLimit:     cfg.RunModelBudget,
	}
	stepRegistry := activity.Build(deps)

	engine, closeEngine, err := buildEngine(cfg, eventLog, runStates, wfStates, stepRegistry, logger)
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer closeEngine()

	coord := coordinator.New(coordinator.Options{
		Engine:            engine,
		Log:               eventLog,
		Projector:         projector,
		WorkflowRuns:      wfStates,
		GlobalConcurrency: cfg.GlobalConcurrency,
		TenantConcurrency: cfg.TenantConcurrency,
	})
	if err := coord.ResumeIncomplete(ctx); err != nil {
		logger.Error(ctx, "resume incomplete runs failed", "err", err)
	}

	server := httpapi.New(httpapi.Deps{
		Coordinator:  coord,
		Log:          eventLog,
		RunStates:    runStates,
		WorkflowRuns: wfStates,
		Engine:       engine,
		Logger:       logger,
	})

	addr := net.JoinHostPort(*hostF, *httpPortF)
	httpServer := &http.Server{Addr: addr, Handler: server, ReadHeaderTimeout: 60 * time.Second}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "HTTP server listening on %q", addr)
		errc <- httpServer.ListenAndServe()
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "failed to shutdown: %v", err)
	}
	wg.Wait()
	log.Printf(ctx, "exited")
}

// buildStores selects the in-memory stores in ModeInMemory (or when no
// event store URL is configured) and a Redis-backed durable event log
// otherwise. RunState/WorkflowState persistence stays in-memory even in
// temporal mode unless a deployment wires its own mongostore-backed
// Options in place of these — spec.md §6's configuration keys name an
// event store URL but no separate state-store URL.
func buildStores(cfg config.Config) (eventlog.Log, runstate.Store, workflow.Store, error) {
	if cfg.Mode == config.ModeInMemory || cfg.EventStoreURL == "" {
		return logmem.New(), rsmem.New(), wfmem.New(), nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.EventStoreURL})
	eventLog, err := redisbus.New(rc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("runengine: build event log: %w", err)
	}
	return eventLog, rsmem.New(), wfmem.New(), nil
}

func buildEngine(cfg config.Config, eventLog eventlog.Log, runStates runstate.Store, wfStates workflow.Store, registry workflow.Registry, logger telemetry.Logger) (workflow.Engine, func(), error) {
	if cfg.Mode != config.ModeTemporal {
		eng := inmemengine.New(inmemengine.Options{
			Log:       eventLog,
			States:    wfStates,
			RunStates: runStates,
			Registry:  registry,
			Policies:  cfg.StepPolicies,
			Workers:   8,
		})
		return eng, func() { _ = eng.Close(context.Background()) }, nil
	}
	eng, err := temporalengine.New(temporalengine.Options{
		ClientOptions: &client.Options{HostPort: cfg.TemporalHostPort, Namespace: cfg.TemporalNamespace},
		TaskQueue:     cfg.TemporalTaskQueue,
		Log:           eventLog,
		RunStates:     runStates,
		Registry:      registry,
		Policies:      cfg.StepPolicies,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, func() { _ = eng.Close(context.Background()) }, nil
}

func buildModelClient(ctx context.Context) model.Client {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if c, err := anthropic.NewFromAPIKey(key, os.Getenv("MODEL_NAME")); err == nil {
			return c
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c, err := openai.NewFromAPIKey(key, os.Getenv("MODEL_NAME")); err == nil {
			return c
		}
	}
	log.Printf(ctx, "no model provider credentials found; direct answers in the respond step will fail")
	return nil
}
