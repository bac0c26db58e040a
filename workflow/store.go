package workflow

import (
	"context"
	"time"

	"github.com/xraph/ragflow/id"
)

// Store persists runs and their replay logs.
type Store interface {
	// CreateRun persists a new run. It returns ragflow.ErrRunAlreadyExists
	// while another run with the same Key is running.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns ragflow.ErrRunNotFound for unknown IDs.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// GetActiveRun returns the running run holding key, or
	// ragflow.ErrRunNotFound.
	GetActiveRun(ctx context.Context, key string) (*Run, error)

	// UpdateRun replaces a run's mutable fields. A terminal state frees
	// the key for a future run. A stored terminal run only moves back to
	// running; any other update of it returns ragflow.ErrInvalidState.
	UpdateRun(ctx context.Context, r *Run) error

	// AcquireRun atomically makes owner the holder of a running run until
	// now+ttl and returns the stored run. It succeeds when the run is
	// unowned, already held by owner, or its lease has expired. A zero ttl
	// releases the run. It returns ragflow.ErrRunNotFound,
	// ragflow.ErrInvalidState for a terminal run, or ragflow.ErrRunLeased.
	AcquireRun(ctx context.Context, runID id.RunID, owner id.WorkerID, ttl time.Duration) (*Run, error)

	// ListRuns returns runs ordered by creation time.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveInvocation inserts or replaces the invocation at (RunID, Seq).
	SaveInvocation(ctx context.Context, inv *Invocation) error

	// ListInvocations returns a run's log ordered by Seq.
	ListInvocations(ctx context.Context, runID id.RunID) ([]*Invocation, error)

	// DeleteInvocationsAfter removes entries with Seq greater than seq.
	DeleteInvocationsAfter(ctx context.Context, runID id.RunID, seq int) error
}
