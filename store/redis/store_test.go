package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/store/redis"
	"github.com/xraph/ragflow/workflow"
)

func newTestStore(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client)
}

func newRun(key string) *workflow.Run {
	return &workflow.Run{
		Entity:    ragflow.NewEntity(),
		ID:        id.NewRunID(),
		Key:       key,
		Name:      "query",
		TaskQueue: "rag-task-queue",
		State:     workflow.RunStateRunning,
		Input:     &converter.Payload{Encoding: converter.EncodingJSON, Data: []byte(`"Who lives in Rome?"`)},
		StartedAt: time.Now().UTC(),
	}
}

func TestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newRun("query-Who lives in Rome?")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Key != r.Key || got.Name != "query" || got.TaskQueue != "rag-task-queue" {
		t.Errorf("got %+v", got)
	}
	if !got.Input.Equal(r.Input) {
		t.Errorf("input = %+v, want %+v", got.Input, r.Input)
	}
	if got.Output != nil || got.CompletedAt != nil {
		t.Error("fresh run carries output or completion time")
	}

	now := time.Now().UTC()
	r.State = workflow.RunStateCompleted
	r.Output = &converter.Payload{Encoding: converter.EncodingJSON, Data: []byte(`"Giorgio"`)}
	r.CompletedAt = &now
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, _ = s.GetRun(ctx, r.ID)
	if got.State != workflow.RunStateCompleted || !got.Output.Equal(r.Output) || got.CompletedAt == nil {
		t.Errorf("after update got %+v", got)
	}
}

func TestActiveKeyUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newRun("query-rome")
	if err := s.CreateRun(ctx, first); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, newRun("query-rome")); !errors.Is(err, ragflow.ErrRunAlreadyExists) {
		t.Fatalf("second CreateRun = %v, want ErrRunAlreadyExists", err)
	}

	active, err := s.GetActiveRun(ctx, "query-rome")
	if err != nil {
		t.Fatalf("GetActiveRun: %v", err)
	}
	if active.ID.String() != first.ID.String() {
		t.Errorf("active run = %s, want %s", active.ID, first.ID)
	}

	first.State = workflow.RunStateFailed
	first.Error = "boom"
	if err := s.UpdateRun(ctx, first); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if _, err := s.GetActiveRun(ctx, "query-rome"); !errors.Is(err, ragflow.ErrRunNotFound) {
		t.Fatalf("GetActiveRun after failure = %v, want ErrRunNotFound", err)
	}

	second := newRun("query-rome")
	if err := s.CreateRun(ctx, second); err != nil {
		t.Fatalf("CreateRun after failure: %v", err)
	}
	first.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, first); !errors.Is(err, ragflow.ErrRunAlreadyExists) {
		t.Fatalf("reopen = %v, want ErrRunAlreadyExists", err)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, ragflow.ErrRunNotFound) {
		t.Fatalf("GetRun = %v, want ErrRunNotFound", err)
	}
	if err := s.UpdateRun(ctx, newRun("x")); !errors.Is(err, ragflow.ErrRunNotFound) {
		t.Fatalf("UpdateRun = %v, want ErrRunNotFound", err)
	}
	inv := &workflow.Invocation{ID: id.NewInvocationID(), RunID: id.NewRunID(), Seq: 1}
	if err := s.SaveInvocation(ctx, inv); !errors.Is(err, ragflow.ErrRunNotFound) {
		t.Fatalf("SaveInvocation = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, key := range []string{"a", "b", "c"} {
		r := newRun(key)
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if key == "b" {
			r.State = workflow.RunStateCancelled
		}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun(%s): %v", key, err)
		}
	}

	tests := []struct {
		name string
		opts workflow.ListOpts
		want []string
	}{
		{"all", workflow.ListOpts{}, []string{"a", "b", "c"}},
		{"cancelled", workflow.ListOpts{State: workflow.RunStateCancelled}, []string{"b"}},
		{"limit", workflow.ListOpts{Limit: 1}, []string{"a"}},
		{"offset", workflow.ListOpts{Offset: 2}, []string{"c"}},
		{"offset past end", workflow.ListOpts{Offset: 3}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(runs), len(tt.want))
			}
			for i, r := range runs {
				if r.Key != tt.want[i] {
					t.Errorf("runs[%d].Key = %q, want %q", i, r.Key, tt.want[i])
				}
			}
		})
	}
}

func TestInvocationLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newRun("k")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for _, seq := range []int{2, 3, 1} {
		inv := &workflow.Invocation{
			ID:          id.NewInvocationID(),
			RunID:       r.ID,
			Seq:         seq,
			Activity:    "create_corpus",
			Input:       []*converter.Payload{{Encoding: converter.EncodingNull}},
			Timeout:     10 * time.Second,
			State:       workflow.InvocationScheduled,
			ScheduledAt: time.Now().UTC(),
		}
		if err := s.SaveInvocation(ctx, inv); err != nil {
			t.Fatalf("SaveInvocation(%d): %v", seq, err)
		}
	}

	failed := &workflow.Invocation{
		ID:        id.NewInvocationID(),
		RunID:     r.ID,
		Seq:       3,
		Activity:  "run_query",
		Attempts:  3,
		State:     workflow.InvocationTimedOut,
		Error:     "run_query exceeded 1s",
		ErrorKind: activity.KindTimeout,
	}
	if err := s.SaveInvocation(ctx, failed); err != nil {
		t.Fatalf("SaveInvocation: %v", err)
	}

	log, err := s.ListInvocations(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("got %d invocations, want 3", len(log))
	}
	for i, inv := range log {
		if inv.Seq != i+1 {
			t.Errorf("log[%d].Seq = %d", i, inv.Seq)
		}
	}
	if log[0].Timeout != 10*time.Second || len(log[0].Input) != 1 {
		t.Errorf("seq 1 = %+v", log[0])
	}
	if log[2].State != workflow.InvocationTimedOut || log[2].Attempts != 3 {
		t.Errorf("seq 3 = %+v", log[2])
	}
	if err := log[2].Err(); !errors.Is(err, ragflow.ErrActivityTimeout) {
		t.Errorf("seq 3 Err() = %v, want ErrActivityTimeout", err)
	}

	if err := s.DeleteInvocationsAfter(ctx, r.ID, 1); err != nil {
		t.Fatalf("DeleteInvocationsAfter: %v", err)
	}
	log, _ = s.ListInvocations(ctx, r.ID)
	if len(log) != 1 || log[0].Seq != 1 {
		t.Fatalf("after truncate got %d invocations", len(log))
	}
}

func TestTerminalRunStaysTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newRun("query-terminal")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	r.State = workflow.RunStateCancelled
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	r.State = workflow.RunStateCompleted
	if err := s.UpdateRun(ctx, r); !errors.Is(err, ragflow.ErrInvalidState) {
		t.Fatalf("complete after cancel = %v, want ErrInvalidState", err)
	}
	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != workflow.RunStateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}

	r.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestAcquireRunLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := id.NewWorkerID(), id.NewWorkerID()

	r := newRun("query-lease")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.AcquireRun(ctx, r.ID, a, time.Minute)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if got.Owner != a.String() || !got.Leased(time.Now()) {
		t.Fatalf("owner = %q leased = %t, want %q leased", got.Owner, got.Leased(time.Now()), a)
	}
	if _, err := s.AcquireRun(ctx, r.ID, b, time.Minute); !errors.Is(err, ragflow.ErrRunLeased) {
		t.Fatalf("acquire b = %v, want ErrRunLeased", err)
	}
	if _, err := s.AcquireRun(ctx, r.ID, a, time.Minute); err != nil {
		t.Fatalf("renew a: %v", err)
	}

	if _, err := s.AcquireRun(ctx, r.ID, a, 0); err != nil {
		t.Fatalf("release a: %v", err)
	}
	got, err = s.AcquireRun(ctx, r.ID, b, time.Minute)
	if err != nil {
		t.Fatalf("acquire b after release: %v", err)
	}
	if got.Owner != b.String() {
		t.Errorf("owner = %q, want %q", got.Owner, b)
	}

	got.State = workflow.RunStateFailed
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("fail run: %v", err)
	}
	if _, err := s.AcquireRun(ctx, r.ID, a, time.Minute); !errors.Is(err, ragflow.ErrInvalidState) {
		t.Fatalf("acquire terminal = %v, want ErrInvalidState", err)
	}
	if _, err := s.AcquireRun(ctx, id.NewRunID(), a, time.Minute); !errors.Is(err, ragflow.ErrRunNotFound) {
		t.Fatalf("acquire unknown = %v, want ErrRunNotFound", err)
	}
}
