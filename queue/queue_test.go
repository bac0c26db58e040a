package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/ragflow/queue"
)

func TestManager_UnconfiguredQueueIsUnlimited(t *testing.T) {
	m := queue.NewManager()
	for range 100 {
		if !m.Acquire("rag-task-queue") {
			t.Fatal("expected Acquire to succeed for unconfigured queue")
		}
	}
	if got := m.ActiveCount("rag-task-queue"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0 for untracked queue", got)
	}
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 2})

	if !m.Acquire("q") || !m.Acquire("q") {
		t.Fatal("first two Acquire calls should succeed")
	}
	if m.Acquire("q") {
		t.Fatal("third Acquire should fail")
	}
	m.Release("q")
	if !m.Acquire("q") {
		t.Fatal("Acquire should succeed after Release")
	}
	if got := m.ActiveCount("q"); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
}

func TestManager_RateLimit(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", RateLimit: 0.001, RateBurst: 3})

	allowed := 0
	for range 10 {
		if m.Acquire("q") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want burst of 3", allowed)
	}
}

func TestManager_ReleaseNeverGoesNegative(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 1})
	m.Release("q")
	m.Release("q")
	if got := m.ActiveCount("q"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestManager_SetQueueConfigKeepsActive(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 1})
	if !m.Acquire("q") {
		t.Fatal("Acquire should succeed")
	}
	m.SetQueueConfig(queue.Config{Name: "q", MaxConcurrency: 2})
	if got := m.ActiveCount("q"); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if !m.Acquire("q") {
		t.Error("Acquire should succeed under raised limit")
	}

	stats := m.Stats()
	if len(stats) != 1 || stats[0].Active != 2 || stats[0].MaxConcurrency != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManager_ConcurrentAcquireRespectsCap(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 5})

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("q") {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 5 {
		t.Errorf("granted = %d, want 5", got)
	}
}
