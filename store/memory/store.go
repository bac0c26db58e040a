// Package memory provides an in-memory store for development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/store"
	"github.com/xraph/ragflow/workflow"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store. Safe for
// concurrent access. Values are copied in and out so callers never share
// a record with the store.
type Store struct {
	mu sync.RWMutex

	runs        map[string]*workflow.Run
	activeKeys  map[string]string
	invocations map[string]map[int]*workflow.Invocation
	closed      bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:        make(map[string]*workflow.Run),
		activeKeys:  make(map[string]string),
		invocations: make(map[string]map[int]*workflow.Invocation),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds until the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ragflow.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// CreateRun persists a new run, claiming its key while it is running.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID.String()]; exists {
		return ragflow.ErrRunAlreadyExists
	}
	if run.State == workflow.RunStateRunning {
		if _, held := m.activeKeys[run.Key]; held {
			return ragflow.ErrRunAlreadyExists
		}
		m.activeKeys[run.Key] = run.ID.String()
	}
	m.runs[run.ID.String()] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, ragflow.ErrRunNotFound
	}
	return copyRun(r), nil
}

// GetActiveRun returns the running run holding key.
func (m *Store) GetActiveRun(_ context.Context, key string) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runID, ok := m.activeKeys[key]
	if !ok {
		return nil, ragflow.ErrRunNotFound
	}
	return copyRun(m.runs[runID]), nil
}

// UpdateRun persists changes to an existing run and releases or claims
// its key according to the new state.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.runs[run.ID.String()]
	if !ok {
		return ragflow.ErrRunNotFound
	}
	if stored.State.Terminal() && run.State.Terminal() {
		return ragflow.ErrInvalidState
	}

	holder, held := m.activeKeys[run.Key]
	switch {
	case run.State == workflow.RunStateRunning && held && holder != run.ID.String():
		return ragflow.ErrRunAlreadyExists
	case run.State == workflow.RunStateRunning:
		m.activeKeys[run.Key] = run.ID.String()
	case held && holder == run.ID.String():
		delete(m.activeKeys, run.Key)
	}

	run.UpdatedAt = time.Now().UTC()
	m.runs[run.ID.String()] = copyRun(run)
	return nil
}

// AcquireRun makes owner the lease holder of a running run.
func (m *Store) AcquireRun(_ context.Context, runID id.RunID, owner id.WorkerID, ttl time.Duration) (*workflow.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, ragflow.ErrRunNotFound
	}
	if r.State.Terminal() {
		return nil, ragflow.ErrInvalidState
	}
	now := time.Now().UTC()
	if r.Owner != owner.String() && r.Leased(now) {
		return nil, ragflow.ErrRunLeased
	}
	r.Owner = owner.String()
	r.LeaseExpiresAt = now.Add(ttl)
	return copyRun(r), nil
}

// ListRuns returns runs matching the given options, oldest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		result = append(result, copyRun(r))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Invocations
// ──────────────────────────────────────────────────

// SaveInvocation inserts or replaces the invocation at (RunID, Seq).
func (m *Store) SaveInvocation(_ context.Context, inv *workflow.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[inv.RunID.String()]; !ok {
		return ragflow.ErrRunNotFound
	}
	log, ok := m.invocations[inv.RunID.String()]
	if !ok {
		log = make(map[int]*workflow.Invocation)
		m.invocations[inv.RunID.String()] = log
	}
	log[inv.Seq] = copyInvocation(inv)
	return nil
}

// ListInvocations returns a run's log ordered by Seq.
func (m *Store) ListInvocations(_ context.Context, runID id.RunID) ([]*workflow.Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.invocations[runID.String()]
	result := make([]*workflow.Invocation, 0, len(log))
	for _, inv := range log {
		result = append(result, copyInvocation(inv))
	}
	slices.SortFunc(result, func(a, b *workflow.Invocation) int { return a.Seq - b.Seq })
	return result, nil
}

// DeleteInvocationsAfter removes entries with Seq greater than seq.
func (m *Store) DeleteInvocationsAfter(_ context.Context, runID id.RunID, seq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := range m.invocations[runID.String()] {
		if s > seq {
			delete(m.invocations[runID.String()], s)
		}
	}
	return nil
}

func copyRun(r *workflow.Run) *workflow.Run {
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyInvocation(inv *workflow.Invocation) *workflow.Invocation {
	cp := *inv
	cp.Input = slices.Clone(inv.Input)
	if inv.CompletedAt != nil {
		t := *inv.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
