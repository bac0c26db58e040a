package activity

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
)

// Task is one attempt of an activity invocation, as handed to a worker.
type Task struct {
	ID       id.InvocationID      `json:"id"`
	RunID    id.RunID             `json:"run_id"`
	Seq      int                  `json:"seq"`
	Activity string               `json:"activity"`
	Queue    string               `json:"queue"`
	Input    []*converter.Payload `json:"input"`
	Timeout  time.Duration        `json:"timeout"`
	Attempt  int                  `json:"attempt"`
}

// Status is the result class of one attempt.
type Status string

const (
	// StatusSucceeded means the handler returned a result.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the handler returned an error or panicked.
	StatusFailed Status = "failed"
	// StatusTimedOut means the start-to-close timeout expired first.
	StatusTimedOut Status = "timed_out"
	// StatusCancelled means the run was cancelled while the attempt ran.
	StatusCancelled Status = "cancelled"
)

// Outcome is the result of one attempt.
type Outcome struct {
	Status  Status
	Result  *converter.Payload
	Err     *Error
	Elapsed time.Duration
}

// Retryable reports whether another attempt may change the result.
func (o *Outcome) Retryable() bool {
	switch o.Status {
	case StatusTimedOut:
		return true
	case StatusFailed:
		return o.Err == nil || !o.Err.NonRetryable
	default:
		return false
	}
}

// Succeeded builds a successful outcome.
func Succeeded(result *converter.Payload, elapsed time.Duration) *Outcome {
	return &Outcome{Status: StatusSucceeded, Result: result, Elapsed: elapsed}
}

// Cancelled builds a cancelled outcome for task.
func Cancelled(task *Task, cause error) *Outcome {
	return &Outcome{Status: StatusCancelled, Err: NewError(task.Activity, KindCancelled, cause)}
}

// Failed builds a failed outcome. Non-retryable causes stay non-retryable.
func Failed(task *Task, cause error, elapsed time.Duration) *Outcome {
	return &Outcome{Status: StatusFailed, Err: NewError(task.Activity, KindFailure, cause), Elapsed: elapsed}
}

// TimedOut builds a timed-out outcome.
func TimedOut(task *Task, cause error, elapsed time.Duration) *Outcome {
	return &Outcome{Status: StatusTimedOut, Err: NewError(task.Activity, KindTimeout, cause), Elapsed: elapsed}
}

// ──────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────

// ErrorKind classifies an activity error.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindFailure   ErrorKind = "failure"
	KindCancelled ErrorKind = "cancelled"
)

// Error is the error an activity call returns to the workflow once its
// attempts are exhausted, or the error recorded for a single attempt.
type Error struct {
	Activity     string    `json:"activity"`
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	Attempts     int       `json:"attempts,omitempty"`
	NonRetryable bool      `json:"non_retryable,omitempty"`

	cause error
}

// NewError wraps cause. A nil cause yields the kind's sentinel message.
func NewError(activity string, kind ErrorKind, cause error) *Error {
	e := &Error{Activity: activity, Kind: kind, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
		e.NonRetryable = IsNonRetryable(cause)
	} else {
		e.Message = kindSentinel(kind).Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("activity %s: %s after %d attempts: %s", e.Activity, e.Kind, e.Attempts, e.Message)
	}
	return fmt.Sprintf("activity %s: %s: %s", e.Activity, e.Kind, e.Message)
}

// Unwrap exposes the kind's sentinel and the original cause.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{kindSentinel(e.Kind), e.cause}
	}
	return []error{kindSentinel(e.Kind)}
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindTimeout:
		return ragflow.ErrActivityTimeout
	case KindCancelled:
		return ragflow.ErrCancelled
	default:
		return ragflow.ErrActivityFailure
	}
}

type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so the coordinator fails the step without
// another attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
