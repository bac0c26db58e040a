package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/id"
)

const defaultRunLease = 30 * time.Second

// runLease keeps this process the owner of a run while it executes it.
// Renewal also observes the stored run: a run made terminal elsewhere is
// cancelled, and a run acquired by another owner is abandoned.
type runLease struct {
	store  Store
	runID  id.RunID
	owner  id.WorkerID
	ttl    time.Duration
	cancel context.CancelCauseFunc
	logger *slog.Logger
}

func (l *runLease) renew(ctx context.Context) {
	_, err := l.store.AcquireRun(ctx, l.runID, l.owner, l.ttl)
	switch {
	case err == nil:
	case errors.Is(err, ragflow.ErrInvalidState):
		l.cancel(ragflow.ErrCancelled)
	case errors.Is(err, ragflow.ErrRunLeased):
		l.cancel(ragflow.ErrLeaseLost)
	case ctx.Err() != nil:
	default:
		l.logger.Warn("failed to renew run lease", slog.String("error", err.Error()))
	}
}

// heartbeat renews the lease every third of its ttl until ctx is done.
func (l *runLease) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.renew(ctx)
		}
	}
}

// release lets another process acquire the run immediately.
func (l *runLease) release(ctx context.Context) {
	_, err := l.store.AcquireRun(ctx, l.runID, l.owner, 0)
	if err != nil && !errors.Is(err, ragflow.ErrInvalidState) {
		l.logger.Warn("failed to release run lease", slog.String("error", err.Error()))
	}
}
