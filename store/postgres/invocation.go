package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/workflow"
)

const invocationColumns = `id, run_id, seq, activity, input, timeout_ms, attempts, state,
	result_encoding, result_data, error, error_kind, scheduled_at, completed_at`

// SaveInvocation inserts or replaces the invocation at (RunID, Seq).
func (s *Store) SaveInvocation(ctx context.Context, inv *workflow.Invocation) error {
	input, err := json.Marshal(inputOrEmpty(inv.Input))
	if err != nil {
		return fmt.Errorf("ragflow/postgres: encode invocation input: %w", err)
	}
	resEnc, resData := splitPayload(inv.Result)
	scheduledAt := inv.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ragflow_invocations (`+invocationColumns+`)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id, seq) DO UPDATE SET
			id = EXCLUDED.id,
			activity = EXCLUDED.activity,
			input = EXCLUDED.input,
			timeout_ms = EXCLUDED.timeout_ms,
			attempts = EXCLUDED.attempts,
			state = EXCLUDED.state,
			result_encoding = EXCLUDED.result_encoding,
			result_data = EXCLUDED.result_data,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			scheduled_at = EXCLUDED.scheduled_at,
			completed_at = EXCLUDED.completed_at`,
		inv.ID.String(), inv.RunID.String(), inv.Seq, inv.Activity, string(input),
		inv.Timeout.Milliseconds(), inv.Attempts, string(inv.State),
		resEnc, resData, inv.Error, string(inv.ErrorKind), scheduledAt, inv.CompletedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ragflow.ErrRunNotFound
		}
		return fmt.Errorf("ragflow/postgres: save invocation: %w", err)
	}
	return nil
}

// ListInvocations returns a run's log ordered by Seq.
func (s *Store) ListInvocations(ctx context.Context, runID id.RunID) ([]*workflow.Invocation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+invocationColumns+` FROM ragflow_invocations WHERE run_id = $1 ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ragflow/postgres: list invocations: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Invocation
	for rows.Next() {
		inv, scanErr := scanInvocation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ragflow/postgres: scan invocation: %w", scanErr)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ragflow/postgres: list invocations: %w", err)
	}
	return out, nil
}

// DeleteInvocationsAfter removes entries with Seq greater than seq.
func (s *Store) DeleteInvocationsAfter(ctx context.Context, runID id.RunID, seq int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ragflow_invocations WHERE run_id = $1 AND seq > $2`,
		runID.String(), seq,
	)
	if err != nil {
		return fmt.Errorf("ragflow/postgres: delete invocations: %w", err)
	}
	return nil
}

func inputOrEmpty(in []*converter.Payload) []*converter.Payload {
	if in == nil {
		return []*converter.Payload{}
	}
	return in
}

func scanInvocation(row pgx.Row) (*workflow.Invocation, error) {
	var (
		inv              workflow.Invocation
		rawID, rawRunID  string
		input            []byte
		timeoutMS        int64
		state, errorKind string
		resEnc           *string
		resData          []byte
	)
	err := row.Scan(
		&rawID, &rawRunID, &inv.Seq, &inv.Activity, &input, &timeoutMS, &inv.Attempts, &state,
		&resEnc, &resData, &inv.Error, &errorKind, &inv.ScheduledAt, &inv.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if rawID != "" {
		if inv.ID, err = id.ParseWithPrefix(rawID, id.PrefixInvocation); err != nil {
			return nil, fmt.Errorf("parse invocation id: %w", err)
		}
	}
	if inv.RunID, err = id.ParseWithPrefix(rawRunID, id.PrefixRun); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if err := json.Unmarshal(input, &inv.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	inv.Timeout = time.Duration(timeoutMS) * time.Millisecond
	inv.State = workflow.InvocationState(state)
	inv.ErrorKind = activity.ErrorKind(errorKind)
	inv.Result = joinPayload(resEnc, resData)
	return &inv, nil
}
