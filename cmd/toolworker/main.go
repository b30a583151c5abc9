// Command toolworker runs the distributed Tool Executor worker pool (spec.md
// §4.G): it dequeues tool requests from the durable queue:tools stream and
// drives each through toolexec.Executor.
//
// Grounded on example/cmd/assistant/main.go's process shutdown idiom
// (signal handler, error channel, graceful Wait), narrowed to a single
// worker loop instead of a transport server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/runflow/engine/config"
	"github.com/runflow/engine/eventlog/redisbus"
	"github.com/runflow/engine/eventlog/redisbus/pulseclient"
	"github.com/runflow/engine/permission"
	"github.com/runflow/engine/runstate"
	rsmem "github.com/runflow/engine/runstate/inmem"
	"github.com/runflow/engine/telemetry"
	"github.com/runflow/engine/toolexec"
	"github.com/runflow/engine/toolqueue"
	"github.com/runflow/engine/tools"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to an optional YAML config file")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
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
	if cfg.EventStoreURL == "" {
		log.Fatal(ctx, fmt.Errorf("toolworker: EVENT_STORE_URL is required"))
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.EventStoreURL})
	eventLog, err := redisbus.New(rc)
	if err != nil {
		log.Fatal(ctx, err)
	}
	pulse, err := pulseclient.New(pulseclient.Options{Redis: rc})
	if err != nil {
		log.Fatal(ctx, err)
	}

	runStates := rsmem.New() // replace with mongostore in a deployment sharing state across processes
	gate := permission.New(permission.Options{})
	registry := tools.NewRegistry() // populate with deployment-specific tool specs
	executor := toolexec.New(eventLog, registry, nil, gate, toolexec.WithLogger(logger))

	handler := toolqueue.HandlerFunc(func(ctx context.Context, req tools.Request) {
		var (
			environment string
			identity    runstate.Identity
		)
		if rs, err := runStates.Load(ctx, req.RunID); err == nil && rs != nil {
			environment = rs.Mode
			identity = rs.Identity
		}
		executor.Execute(ctx, req, identity, environment)
	})
	worker := toolqueue.NewWorker(handler, toolqueue.WithWorkerLogger(logger))

	runCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		errc <- worker.Run(runCtx, pulse)
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
}
