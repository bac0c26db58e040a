package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/workflow"
)

const runColumns = `id, key, name, task_queue, state,
	input_encoding, input_data, output_encoding, output_data,
	error, started_at, completed_at, created_at, updated_at,
	owner, lease_expires_at`

// CreateRun persists a new run. The partial unique index on key rejects a
// second running run for the same key.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	inEnc, inData := splitPayload(run.Input)
	outEnc, outData := splitPayload(run.Output)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ragflow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		run.ID.String(), run.Key, run.Name, run.TaskQueue, string(run.State),
		inEnc, inData, outEnc, outData,
		run.Error, run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
		run.Owner, leaseTime(run.LeaseExpiresAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ragflow.ErrRunAlreadyExists
		}
		return fmt.Errorf("ragflow/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM ragflow_runs WHERE id = $1`,
		runID.String(),
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ragflow.ErrRunNotFound
		}
		return nil, fmt.Errorf("ragflow/postgres: get run: %w", err)
	}
	return r, nil
}

// GetActiveRun returns the running run holding key.
func (s *Store) GetActiveRun(ctx context.Context, key string) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM ragflow_runs WHERE key = $1 AND state = 'running'`,
		key,
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ragflow.ErrRunNotFound
		}
		return nil, fmt.Errorf("ragflow/postgres: get active run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run. A terminal run only
// accepts a move back to running.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	outEnc, outData := splitPayload(run.Output)
	tag, err := s.pool.Exec(ctx, `
		UPDATE ragflow_runs SET
			state = $2, output_encoding = $3, output_data = $4,
			error = $5, completed_at = $6, updated_at = $7,
			owner = $8, lease_expires_at = $9
		WHERE id = $1 AND (state = 'running' OR $2 = 'running')`,
		run.ID.String(), string(run.State), outEnc, outData,
		run.Error, run.CompletedAt, time.Now().UTC(),
		run.Owner, leaseTime(run.LeaseExpiresAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ragflow.ErrRunAlreadyExists
		}
		return fmt.Errorf("ragflow/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRun(ctx, run.ID); err != nil {
			return err
		}
		return ragflow.ErrInvalidState
	}
	return nil
}

// AcquireRun makes owner the lease holder of a running run. The
// conditional update is the compare-and-set; a miss is classified by
// re-reading the row.
func (s *Store) AcquireRun(ctx context.Context, runID id.RunID, owner id.WorkerID, ttl time.Duration) (*workflow.Run, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE ragflow_runs SET owner = $2, lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND state = 'running'
		  AND (owner = '' OR owner = $2 OR lease_expires_at IS NULL OR lease_expires_at <= $4)
		RETURNING `+runColumns,
		runID.String(), owner.String(), now.Add(ttl), now,
	)
	r, err := scanRun(row)
	if err == nil {
		return r, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("ragflow/postgres: acquire run: %w", err)
	}

	cur, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cur.State.Terminal() {
		return nil, ragflow.ErrInvalidState
	}
	return nil, ragflow.ErrRunLeased
}

// ListRuns returns runs ordered by creation time.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM ragflow_runs`
	args := []any{}
	if opts.State != "" {
		args = append(args, string(opts.State))
		query += fmt.Sprintf(" WHERE state = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ragflow/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ragflow/postgres: scan run: %w", scanErr)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ragflow/postgres: list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		r              workflow.Run
		rawID, state   string
		inEnc, outEnc  *string
		inData, outDat []byte
		leaseUntil     *time.Time
	)
	err := row.Scan(
		&rawID, &r.Key, &r.Name, &r.TaskQueue, &state,
		&inEnc, &inData, &outEnc, &outDat,
		&r.Error, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
		&r.Owner, &leaseUntil,
	)
	if err != nil {
		return nil, err
	}
	if leaseUntil != nil {
		r.LeaseExpiresAt = leaseUntil.UTC()
	}
	r.ID, err = id.ParseWithPrefix(rawID, id.PrefixRun)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	r.State = workflow.RunState(state)
	r.Input = joinPayload(inEnc, inData)
	r.Output = joinPayload(outEnc, outDat)
	return &r, nil
}

func leaseTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
