package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/backoff"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/ext"
	"github.com/xraph/ragflow/graph"
	mw "github.com/xraph/ragflow/middleware"
	"github.com/xraph/ragflow/observability"
	"github.com/xraph/ragflow/query"
	"github.com/xraph/ragflow/queue"
	"github.com/xraph/ragflow/rag"
	"github.com/xraph/ragflow/store"
	"github.com/xraph/ragflow/worker"
	"github.com/xraph/ragflow/workflow"
)

const instrumentationName = "github.com/xraph/ragflow"

// Engine wraps an Orchestrator with typed subsystem access.
// Use Build() to create one.
type Engine struct {
	o          *ragflow.Orchestrator
	config     ragflow.Config
	store      store.Store
	extensions *ext.Registry
	logger     *slog.Logger

	components *graph.Registry
	converter  *converter.CompositeConverter
	activities *activity.Registry
	workflows  *workflow.Registry
	runner     *workflow.Runner
	pool       *worker.Pool

	mws          []mw.Middleware
	bo           backoff.Strategy
	ragConfig    rag.Config
	custom       []converter.EncodingConverter
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the end of the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, the strategy
// named by Config.RetryBackoff is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it. If not set, the
// global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithRAGConfig selects the pipeline stages the query activities build.
func WithRAGConfig(cfg rag.Config) Option {
	return func(eng *Engine) {
		eng.ragConfig = cfg
	}
}

// WithConverters chains extra encodings ahead of graph/v1 and the
// defaults.
func WithConverters(cs ...converter.EncodingConverter) Option {
	return func(eng *Engine) {
		eng.custom = append(eng.custom, cs...)
	}
}

// Build creates an Engine from an Orchestrator. The Orchestrator's store
// must implement store.Store.
func Build(o *ragflow.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	if o.Store() == nil {
		return nil, ragflow.ErrNoStore
	}
	s, ok := o.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("ragflow: store %T does not implement store.Store", o.Store())
	}

	eng := &Engine{
		o:          o,
		config:     o.Config(),
		store:      s,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		components: graph.NewRegistry(),
		activities: activity.NewRegistry(),
		workflows:  workflow.NewRegistry(),
		ragConfig:  rag.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	cfg := eng.config

	// Payload codec: custom encodings, then graph/v1, then the defaults.
	rag.RegisterComponents(eng.components)
	chain := make([]converter.EncodingConverter, 0, len(eng.custom)+1)
	chain = append(chain, eng.custom...)
	chain = append(chain, graph.NewPayloadConverter(eng.components))
	conv, err := converter.NewForCodec(cfg.Codec, chain...)
	if err != nil {
		return nil, err
	}
	eng.converter = conv

	// Query activities and workflows.
	query.NewActivities(eng.ragConfig, eng.components, logger).Register(eng.activities, cfg.TaskQueue)
	query.RegisterWorkflows(eng.workflows)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := make([]mw.Middleware, 0, 5+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.activities, eng.converter, eng.extensions, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(eng.queues()),
		worker.WithPollInterval(cfg.PollInterval),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(executor, logger, poolOpts...)

	runnerOpts := []workflow.RunnerOption{
		workflow.WithConfig(cfg),
		workflow.WithConverter(eng.converter),
		workflow.WithCatalog(eng.activities),
	}
	if eng.bo != nil {
		runnerOpts = append(runnerOpts, workflow.WithBackoff(eng.bo))
	}
	eng.runner = workflow.NewRunner(eng.workflows, s, eng.pool, eng.extensions, logger, runnerOpts...)

	// Wire back into the Orchestrator.
	o.SetPool(eng.pool)
	o.SetExtensions(eng.extensions)

	return eng, nil
}

// queues returns the task queue plus any queue that only appears in a
// queue config.
func (eng *Engine) queues() []string {
	out := []string{eng.config.TaskQueue}
	for _, qc := range eng.queueConfigs {
		if qc.Name != eng.config.TaskQueue {
			out = append(out, qc.Name)
		}
	}
	return out
}

// Start starts the worker pool, then resumes any run left running by a
// previous process.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.o.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	// Best-effort crash recovery.
	n, err := eng.runner.ResumeAll(ctx)
	if err != nil {
		eng.logger.Warn("failed to resume workflow runs", slog.String("error", err.Error()))
	} else if n > 0 {
		eng.logger.Info("resumed workflow runs", slog.Int("count", n))
	}
	return nil
}

// Stop interrupts executing runs, then drains the pool, emits the
// shutdown hook and closes the store. Interrupted runs stay running and
// are resumed by the next Start.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.runner.Stop(ctx); err != nil {
		eng.logger.Error("workflow runner stop error", slog.String("error", err.Error()))
	}
	return eng.o.Stop(ctx)
}

// ExecuteWorkflow runs the named workflow with a query.QueryRequest for
// question under the run key the configuration derives, attaching to an
// identical run already in flight. A nil error means the returned run is
// terminal.
func (eng *Engine) ExecuteWorkflow(ctx context.Context, name, question string) (*workflow.Run, error) {
	req := query.QueryRequest{Question: question}
	return eng.runner.Execute(ctx, name, eng.config.RunKey(question), req)
}

// RegisterActivity adds an activity definition.
func (eng *Engine) RegisterActivity(def *activity.Definition) {
	eng.activities.Register(def)
}

// RegisterWorkflow registers a typed workflow definition with the engine.
func RegisterWorkflow[In, Out any](eng *Engine, def *workflow.Definition[In, Out]) {
	workflow.RegisterDefinition(eng.workflows, def)
}

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *ragflow.Orchestrator { return eng.o }

// Config returns the configuration the engine was built with.
func (eng *Engine) Config() ragflow.Config { return eng.config }

// Store returns the run store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Converter returns the payload converter.
func (eng *Engine) Converter() converter.DataConverter { return eng.converter }

// Components returns the pipeline component registry.
func (eng *Engine) Components() *graph.Registry { return eng.components }

// Activities returns the activity registry.
func (eng *Engine) Activities() *activity.Registry { return eng.activities }

// Workflows returns the workflow registry.
func (eng *Engine) Workflows() *workflow.Registry { return eng.workflows }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
