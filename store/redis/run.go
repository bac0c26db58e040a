package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/workflow"
)

// claimScript sets KEYS[1] to ARGV[1] unless another run holds it.
// It returns 1 when ARGV[1] holds the key afterwards.
var claimScript = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
if cur == ARGV[1] then
	return 1
end
return 0
`)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// updateScript writes the field/value pairs in ARGV[2:] to the run hash
// KEYS[1] unless both the stored state and the new state ARGV[1] are
// terminal. It returns 0 for a missing run and -1 for a refused update.
var updateScript = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "state")
if not cur then
	return 0
end
if cur ~= "running" and ARGV[1] ~= "running" then
	return -1
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
return 1
`)

// acquireScript leases the run hash KEYS[1] to owner ARGV[1] until
// ARGV[3] (unix ms) when it is running and unowned, owned by ARGV[1], or
// its lease ended before ARGV[2]. It returns 1 on success, 0 for a missing
// run, -1 for a terminal run and -2 for a run leased to someone else.
var acquireScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
	return 0
end
if state ~= "running" then
	return -1
end
local owner = redis.call("HGET", KEYS[1], "owner")
local lease = tonumber(redis.call("HGET", KEYS[1], "lease_expires_at") or "0") or 0
if owner and owner ~= "" and owner ~= ARGV[1] and lease > tonumber(ARGV[2]) then
	return -2
end
redis.call("HSET", KEYS[1], "owner", ARGV[1], "lease_expires_at", ARGV[3])
return 1
`)

// CreateRun persists a new run and claims its key when it is running.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ragflow/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return ragflow.ErrRunAlreadyExists
	}

	if run.State == workflow.RunStateRunning {
		if err := s.claim(ctx, run); err != nil {
			return err
		}
	}

	m, err := runToMap(run)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	pipe.ZAdd(ctx, runIndexKey, goredis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: rID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ragflow/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	vals, err := s.client.HGetAll(ctx, runKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, ragflow.ErrRunNotFound
	}
	return mapToRun(vals)
}

// GetActiveRun returns the running run holding key.
func (s *Store) GetActiveRun(ctx context.Context, key string) (*workflow.Run, error) {
	rID, err := s.client.Get(ctx, activeKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ragflow.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: get active run: %w", err)
	}

	parsed, err := id.ParseWithPrefix(rID, id.PrefixRun)
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: parse active run id: %w", err)
	}
	run, err := s.GetRun(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if run.State != workflow.RunStateRunning {
		return nil, ragflow.ErrRunNotFound
	}
	return run, nil
}

// UpdateRun persists changes to an existing run. A running state claims
// the key; a terminal state releases it.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ragflow/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return ragflow.ErrRunNotFound
	}

	if run.State == workflow.RunStateRunning {
		if err := s.claim(ctx, run); err != nil {
			return err
		}
	}

	m, err := runToMap(run)
	if err != nil {
		return err
	}
	m["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if run.CompletedAt == nil {
		m["completed_at"] = ""
	}
	args := make([]any, 0, 1+2*len(m))
	args = append(args, string(run.State))
	for field, val := range m {
		args = append(args, field, val)
	}
	res, err := updateScript.Run(ctx, s.client, []string{key}, args...).Int()
	if err != nil {
		return fmt.Errorf("ragflow/redis: update run: %w", err)
	}
	switch res {
	case 0:
		return ragflow.ErrRunNotFound
	case -1:
		return ragflow.ErrInvalidState
	}

	if run.State.Terminal() && run.Key != "" {
		if err := releaseScript.Run(ctx, s.client, []string{activeKey(run.Key)}, rID).Err(); err != nil {
			return fmt.Errorf("ragflow/redis: release run key: %w", err)
		}
	}
	return nil
}

// AcquireRun makes owner the lease holder of a running run.
func (s *Store) AcquireRun(ctx context.Context, runID id.RunID, owner id.WorkerID, ttl time.Duration) (*workflow.Run, error) {
	now := time.Now()
	res, err := acquireScript.Run(ctx, s.client, []string{runKey(runID.String())},
		owner.String(), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: acquire run: %w", err)
	}
	switch res {
	case 0:
		return nil, ragflow.ErrRunNotFound
	case -1:
		return nil, ragflow.ErrInvalidState
	case -2:
		return nil, ragflow.ErrRunLeased
	}
	return s.GetRun(ctx, runID)
}

// ListRuns returns runs ordered by creation time.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.ZRange(ctx, runIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: list runs zrange: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			s.logger.Warn("skipping unreadable run", "run_id", rID, "error", convErr)
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		runs = append(runs, r)
	}

	if opts.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

func (s *Store) claim(ctx context.Context, run *workflow.Run) error {
	if run.Key == "" {
		return nil
	}
	ok, err := claimScript.Run(ctx, s.client, []string{activeKey(run.Key)}, run.ID.String()).Int()
	if err != nil {
		return fmt.Errorf("ragflow/redis: claim run key: %w", err)
	}
	if ok != 1 {
		return ragflow.ErrRunAlreadyExists
	}
	return nil
}

// ── helpers ──

func runToMap(r *workflow.Run) (map[string]any, error) {
	input, err := encodePayload(r.Input)
	if err != nil {
		return nil, err
	}
	output, err := encodePayload(r.Output)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"id":         r.ID.String(),
		"key":        r.Key,
		"name":       r.Name,
		"task_queue": r.TaskQueue,
		"state":      string(r.State),
		"input":      input,
		"output":     output,
		"error":      r.Error,
		"started_at": r.StartedAt.Format(time.RFC3339Nano),
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": r.UpdatedAt.Format(time.RFC3339Nano),
		"owner":      r.Owner,

		"lease_expires_at": "0",
	}
	if !r.LeaseExpiresAt.IsZero() {
		m["lease_expires_at"] = strconv.FormatInt(r.LeaseExpiresAt.UnixMilli(), 10)
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func mapToRun(m map[string]string) (*workflow.Run, error) {
	rID, err := id.ParseWithPrefix(m["id"], id.PrefixRun)
	if err != nil {
		return nil, fmt.Errorf("ragflow/redis: parse run id: %w", err)
	}
	input, err := decodePayload(m["input"])
	if err != nil {
		return nil, err
	}
	output, err := decodePayload(m["output"])
	if err != nil {
		return nil, err
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"])
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])

	r := &workflow.Run{
		Entity: ragflow.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        rID,
		Key:       m["key"],
		Name:      m["name"],
		TaskQueue: m["task_queue"],
		State:     workflow.RunState(m["state"]),
		Input:     input,
		Output:    output,
		Error:     m["error"],
		StartedAt: startedAt,
		Owner:     m["owner"],
	}
	if ms, _ := strconv.ParseInt(m["lease_expires_at"], 10, 64); ms > 0 {
		r.LeaseExpiresAt = time.UnixMilli(ms).UTC()
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v)
		r.CompletedAt = &t
	}
	return r, nil
}

// encodePayload returns "" for a nil payload.
func encodePayload(p *converter.Payload) (string, error) {
	if p == nil {
		return "", nil
	}
	data, err := msgpack.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("ragflow/redis: encode payload: %w", err)
	}
	return string(data), nil
}

func decodePayload(s string) (*converter.Payload, error) {
	if s == "" {
		return nil, nil
	}
	var p converter.Payload
	if err := msgpack.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("ragflow/redis: decode payload: %w", err)
	}
	return &p, nil
}
