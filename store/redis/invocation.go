package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/workflow"
)

// invocationRecord is the msgpack form of a workflow.Invocation.
type invocationRecord struct {
	ID          string               `msgpack:"id"`
	RunID       string               `msgpack:"run_id"`
	Seq         int                  `msgpack:"seq"`
	Activity    string               `msgpack:"activity"`
	Input       []*converter.Payload `msgpack:"input"`
	Timeout     time.Duration        `msgpack:"timeout"`
	Attempts    int                  `msgpack:"attempts"`
	State       string               `msgpack:"state"`
	Result      *converter.Payload   `msgpack:"result,omitempty"`
	Error       string               `msgpack:"error,omitempty"`
	ErrorKind   string               `msgpack:"error_kind,omitempty"`
	ScheduledAt time.Time            `msgpack:"scheduled_at"`
	CompletedAt *time.Time           `msgpack:"completed_at,omitempty"`
}

// SaveInvocation inserts or replaces the invocation at (RunID, Seq).
func (s *Store) SaveInvocation(ctx context.Context, inv *workflow.Invocation) error {
	rID := inv.RunID.String()
	exists, err := s.client.Exists(ctx, runKey(rID)).Result()
	if err != nil {
		return fmt.Errorf("ragflow/redis: save invocation exists: %w", err)
	}
	if exists == 0 {
		return ragflow.ErrRunNotFound
	}

	data, err := msgpack.Marshal(toRecord(inv))
	if err != nil {
		return fmt.Errorf("ragflow/redis: encode invocation: %w", err)
	}
	if err := s.client.HSet(ctx, invocationsKey(rID), strconv.Itoa(inv.Seq), data).Err(); err != nil {
		return fmt.Errorf("ragflow/redis: save invocation: %w", err)
	}
	return nil
}

// ListInvocations returns a run's log ordered by Seq.
func (s *Store) ListInvocations(ctx context.Context, runID id.RunID) ([]*workflow.Invocation, error) {
	vals, err := s.client.HGetAll(ctx, invocationsKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: list invocations: %w", err)
	}

	out := make([]*workflow.Invocation, 0, len(vals))
	for field, raw := range vals {
		var rec invocationRecord
		if err := msgpack.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("ragflow/redis: decode invocation %s: %w", field, err)
		}
		inv, err := fromRecord(&rec)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// DeleteInvocationsAfter removes entries with Seq greater than seq.
func (s *Store) DeleteInvocationsAfter(ctx context.Context, runID id.RunID, seq int) error {
	key := invocationsKey(runID.String())
	fields, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ragflow/redis: list invocation seqs: %w", err)
	}

	var drop []string
	for _, f := range fields {
		n, convErr := strconv.Atoi(f)
		if convErr != nil || n > seq {
			drop = append(drop, f)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, drop...).Err(); err != nil {
		return fmt.Errorf("ragflow/redis: delete invocations: %w", err)
	}
	return nil
}

// ── helpers ──

func toRecord(inv *workflow.Invocation) *invocationRecord {
	return &invocationRecord{
		ID:          inv.ID.String(),
		RunID:       inv.RunID.String(),
		Seq:         inv.Seq,
		Activity:    inv.Activity,
		Input:       inv.Input,
		Timeout:     inv.Timeout,
		Attempts:    inv.Attempts,
		State:       string(inv.State),
		Result:      inv.Result,
		Error:       inv.Error,
		ErrorKind:   string(inv.ErrorKind),
		ScheduledAt: inv.ScheduledAt,
		CompletedAt: inv.CompletedAt,
	}
}

func fromRecord(rec *invocationRecord) (*workflow.Invocation, error) {
	var invID id.InvocationID
	if rec.ID != "" {
		parsed, err := id.ParseWithPrefix(rec.ID, id.PrefixInvocation)
		if err != nil {
			return nil, fmt.Errorf("ragflow/redis: parse invocation id: %w", err)
		}
		invID = parsed
	}
	rID, err := id.ParseWithPrefix(rec.RunID, id.PrefixRun)
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: parse run id: %w", err)
	}
	return &workflow.Invocation{
		ID:          invID,
		RunID:       rID,
		Seq:         rec.Seq,
		Activity:    rec.Activity,
		Input:       rec.Input,
		Timeout:     rec.Timeout,
		Attempts:    rec.Attempts,
		State:       workflow.InvocationState(rec.State),
		Result:      rec.Result,
		Error:       rec.Error,
		ErrorKind:   activity.ErrorKind(rec.ErrorKind),
		ScheduledAt: rec.ScheduledAt,
		CompletedAt: rec.CompletedAt,
	}, nil
}
