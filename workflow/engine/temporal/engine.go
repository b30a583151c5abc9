package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/telemetry"
	"github.com/runflow/engine/workflow"
)

const (
	runWorkflowName     = "run_workflow"
	runStepActivityName = "run_step"
	wakeSignalName      = "engine.wake"
)

// Options configures the Temporal-backed Engine.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions
	// builds a lazy one.
	Client        client.Client
	ClientOptions *client.Options

	// TaskQueue is the queue the single worker this engine manages polls.
	TaskQueue   string
	WorkerOptions worker.Options

	Instrumentation InstrumentationOptions

	// DisableWorkerAutoStart disables starting the worker on first Submit;
	// call Worker().Start() manually instead.
	DisableWorkerAutoStart bool

	Log       eventlog.Log
	RunStates runstate.Store
	Registry  workflow.Registry
	Policies  map[workflow.Step]workflow.StepPolicy // defaults to workflow.DefaultPolicies()

	Logger telemetry.Logger
}

// InstrumentationOptions mirrors the teacher's OTEL toggle, narrowed to
// this engine's single client/worker pair.
type InstrumentationOptions struct {
	DisableTracing bool
	DisableMetrics bool
	TracerOptions  temporalotel.TracerOptions
	MetricsOptions temporalotel.MetricsHandlerOptions
}

// Engine implements workflow.Engine on Temporal.
type Engine struct {
	client      client.Client
	closeClient bool
	taskQueue   string

	worker            worker.Worker
	autoStartDisabled bool
	startOnce         sync.Once

	logger telemetry.Logger
}

// New constructs a Temporal-backed Engine and registers its workflow and
// activity. Call Close during shutdown.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("temporal engine: registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	policies := opts.Policies
	if policies == nil {
		policies = workflow.DefaultPolicies()
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.WorkerOptions
	applyWorkerInstrumentation(&workerOpts, inst)
	w := worker.New(cli, opts.TaskQueue, workerOpts)

	deps := stepActivityDeps{
		log:       opts.Log,
		runStates: opts.RunStates,
		registry:  opts.Registry,
	}
	w.RegisterWorkflowWithOptions(newRunWorkflow(policies), workflowRegisterOptions())
	w.RegisterActivityWithOptions(deps.run, activityRegisterOptions())

	e := &Engine{
		client:            cli,
		closeClient:       closeClient,
		taskQueue:         opts.TaskQueue,
		worker:            w,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            logger,
	}
	return e, nil
}

// Worker exposes manual start/stop control, mirroring the in-process
// engine's implicit always-on worker pool.
func (e *Engine) Worker() *WorkerController { return &WorkerController{engine: e} }

func (e *Engine) ensureWorkerStarted() {
	e.startOnce.Do(func() {
		go func() {
			if err := e.worker.Run(worker.InterruptCh()); err != nil {
				e.logger.Error(context.Background(), "temporal worker exited", "queue", e.taskQueue, "err", err)
			}
		}()
	})
}

// Submit implements workflow.Engine: starts runWorkflow with ID=runID. If a
// workflow with that ID is already running, Temporal's default ID-reuse
// policy rejects the duplicate start, which Submit treats as success — the
// run is, after all, already in progress.
func (e *Engine) Submit(ctx context.Context, runID string) error {
	if !e.autoStartDisabled {
		e.ensureWorkerStarted()
	}
	_, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        runID,
		TaskQueue: e.taskQueue,
	}, runWorkflowName, runID)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("temporal engine: start workflow: %w", err)
	}
	return nil
}

// Wake implements workflow.Engine by signaling the run's workflow execution
// with the waking event's type. runWorkflow itself decides whether the type
// satisfies whatever it is currently waiting on; a signal that does not
// match is simply dropped by the loop in wakeCh's consumer.
func (e *Engine) Wake(ctx context.Context, runID string, eventType string) error {
	err := e.client.SignalWorkflow(ctx, runID, "", wakeSignalName, eventType)
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("temporal engine: signal workflow: %w", err)
}

// Cancel implements workflow.Engine. Per the interface's documented
// precondition, callers have already appended run.failed{reason=
// "cancelled"}; Cancel only asks Temporal to stop the execution.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	err := e.client.CancelWorkflow(ctx, runID, "")
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Resume implements workflow.Engine. Temporal's server, not this process,
// is the durable source of truth for in-flight runs; starting the worker is
// all that is needed for it to pick up redelivered activity and signal
// tasks for runs that were already open before the process restarted.
func (e *Engine) Resume(ctx context.Context) error {
	if !e.autoStartDisabled {
		e.ensureWorkerStarted()
	}
	return nil
}

// Close stops the worker and, if this Engine created the client, closes it.
func (e *Engine) Close(ctx context.Context) error {
	e.worker.Stop()
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

// WorkerController gives callers manual control over worker lifecycle when
// DisableWorkerAutoStart is set.
type WorkerController struct {
	engine *Engine
}

// Start launches the worker if it has not already started.
func (c *WorkerController) Start() error {
	c.engine.ensureWorkerStarted()
	return nil
}

// Stop gracefully stops the worker.
func (c *WorkerController) Stop() { c.engine.worker.Stop() }

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}
