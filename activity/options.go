package activity

import (
	"time"

	"github.com/xraph/ragflow/backoff"
)

// RetryPolicy bounds how often a failed or timed-out attempt is retried.
type RetryPolicy struct {
	// MaxAttempts caps attempts, including the first. Values below 1 mean 1.
	MaxAttempts int

	// Backoff computes the wait between attempts. Nil means no wait.
	Backoff backoff.Strategy
}

// Attempts returns the effective attempt cap.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after failed attempt n.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if p == nil || p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}

// Options configures an activity. Zero fields fall back to the
// orchestrator configuration when the activity is scheduled.
type Options struct {
	// TaskQueue is the queue attempts are dispatched on.
	TaskQueue string

	// StartToCloseTimeout bounds a single attempt from activation.
	StartToCloseTimeout time.Duration

	// RetryPolicy overrides the orchestrator retry policy.
	RetryPolicy *RetryPolicy
}

// Option is a functional option for configuring an activity definition.
type Option func(*Options)

// WithTaskQueue sets the queue the activity runs on.
func WithTaskQueue(q string) Option {
	return func(o *Options) {
		o.TaskQueue = q
	}
}

// WithTimeout sets the default start-to-close timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.StartToCloseTimeout = d
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) {
		o.RetryPolicy = &p
	}
}
