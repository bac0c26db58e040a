// Package middleware wraps activity attempts with cross-cutting concerns:
// panic recovery, tracing, metrics, logging and the start-to-close
// timeout.
package middleware

import (
	"context"

	"github.com/xraph/ragflow/activity"
)

// Handler is the terminal function that runs one activity attempt.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It receives the task being attempted and
// must call next unless it short-circuits with an error.
type Middleware func(ctx context.Context, t *activity.Task, next Handler) error

// Chain composes middleware; the first in the list is the outermost.
//
//	Chain(recover, tracing, timeout) runs recover → tracing → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *activity.Task, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error {
				return mw(ctx, t, inner)
			}
		}
		return h(ctx)
	}
}
