// Package store defines the aggregate persistence interface. The
// coordinator's workflow.Store is the only subsystem store; backends add
// lifecycle methods on top. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/ragflow/workflow"
)

// Store is the aggregate persistence interface.
type Store interface {
	workflow.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
