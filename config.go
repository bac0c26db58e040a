package ragflow

import (
	"time"

	"github.com/google/uuid"
)

// Config holds configuration for the Orchestrator.
type Config struct {
	// TaskQueue is the queue activities are dispatched on and the worker
	// pool polls.
	TaskQueue string `mapstructure:"task_queue"`

	// Concurrency is the number of worker goroutines per task queue.
	Concurrency int `mapstructure:"concurrency"`

	// PollInterval is how often a caller attached to a run owned by
	// another process checks for a terminal state.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RunLease is how long a process owns a running run without renewing
	// its lease. Another process may take over a run whose lease expired.
	RunLease time.Duration `mapstructure:"run_lease"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Workflow is the workflow the gateway starts for each question.
	Workflow string `mapstructure:"workflow"`

	// RunKeyPrefix is prepended to the question to form the run key.
	RunKeyPrefix string `mapstructure:"run_key_prefix"`

	// UniqueRunKeys appends a random nonce to every run key, disabling
	// deduplication of identical questions.
	UniqueRunKeys bool `mapstructure:"unique_run_keys"`

	// DefaultStepTimeout applies to activities with no configured or
	// declared timeout.
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"`

	// StepTimeouts overrides the start-to-close timeout per activity name.
	StepTimeouts map[string]time.Duration `mapstructure:"step_timeouts"`

	// MaxAttempts caps activity attempts, including the first.
	MaxAttempts int `mapstructure:"max_attempts"`

	// RetryBackoff names the strategy used between attempts:
	// constant, linear, exponential or jitter.
	RetryBackoff string `mapstructure:"retry_backoff"`

	// RetryInitialInterval is the first delay between attempts.
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`

	// RetryMaxInterval caps the delay between attempts.
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval"`

	// Codec selects the structural default encoding: json or msgpack.
	Codec string `mapstructure:"codec"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TaskQueue:          "rag-task-queue",
		Concurrency:        10,
		PollInterval:       250 * time.Millisecond,
		RunLease:           30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		Workflow:           "query-pipeline",
		RunKeyPrefix:       "query-",
		DefaultStepTimeout: 10 * time.Second,
		StepTimeouts: map[string]time.Duration{
			"create_corpus":         10 * time.Second,
			"create_retriever":      10 * time.Second,
			"create_prompt_builder": 10 * time.Second,
			"create_generator":      10 * time.Second,
			"create_rag_pipeline":   20 * time.Second,
			"run_query":             30 * time.Second,
			"answer_query":          30 * time.Second,
		},
		MaxAttempts:          3,
		RetryBackoff:         "jitter",
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
		Codec:                "json",
	}
}

// RunKey derives the workflow run key for a question.
func (c Config) RunKey(question string) string {
	key := c.RunKeyPrefix + question
	if c.UniqueRunKeys {
		key += "#" + uuid.NewString()
	}
	return key
}

// StepTimeout returns the configured timeout for the named activity, or
// zero when none is configured.
func (c Config) StepTimeout(activity string) time.Duration {
	return c.StepTimeouts[activity]
}
