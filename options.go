package ragflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator holds the configuration, logger and store shared by the
// coordinator, the worker pool and the gateway.
//
// Create one with New() and functional options, then hand it to
// engine.Build to wire the subsystems together.
type Orchestrator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config {
	c := o.config
	c.StepTimeouts = maps.Clone(o.config.StepTimeouts)
	return c
}

// SetPool sets the worker pool (called by the engine package).
func (o *Orchestrator) SetPool(p poolRunner) { o.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (o *Orchestrator) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start begins activity processing.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.pool == nil {
		return ErrNoStore
	}
	if err := o.pool.Start(ctx); err != nil {
		return err
	}
	o.started = true
	return nil
}

// Stop gracefully shuts down the orchestrator.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.pool != nil && o.started {
		if err := o.pool.Stop(ctx); err != nil {
			o.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		o.started = false
	}
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) error {
		if cfg.TaskQueue == "" {
			return fmt.Errorf("ragflow: task queue must not be empty")
		}
		o.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of worker goroutines per task queue.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("ragflow: concurrency must be positive, got %d", n)
		}
		o.config.Concurrency = n
		return nil
	}
}

// WithTaskQueue sets the task queue activities are dispatched on.
func WithTaskQueue(name string) Option {
	return func(o *Orchestrator) error {
		o.config.TaskQueue = name
		return nil
	}
}

// WithStepTimeout overrides the start-to-close timeout of one activity.
func WithStepTimeout(activity string, d time.Duration) Option {
	return func(o *Orchestrator) error {
		if o.config.StepTimeouts == nil {
			o.config.StepTimeouts = make(map[string]time.Duration)
		} else {
			o.config.StepTimeouts = maps.Clone(o.config.StepTimeouts)
		}
		o.config.StepTimeouts[activity] = d
		return nil
	}
}

// WithMaxAttempts caps activity attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) error {
		o.config.MaxAttempts = n
		return nil
	}
}

// WithRetryInterval sets the initial and maximum delay between attempts.
func WithRetryInterval(initial, maxInterval time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.RetryInitialInterval = initial
		o.config.RetryMaxInterval = maxInterval
		return nil
	}
}

// WithUniqueRunKeys disables deduplication of identical questions.
func WithUniqueRunKeys(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.config.UniqueRunKeys = enabled
		return nil
	}
}

// WithLogger sets the structured logger for the orchestrator.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the orchestrator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which also carries the workflow store.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}
