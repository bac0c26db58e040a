package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/workflow"
)

// errPoolStopped is the cancellation cause for tasks handed to a stopped pool.
var errPoolStopped = errors.New("worker: pool stopped")

// QueueManager controls per-queue rate limiting and concurrency. The pool
// calls Acquire before starting an attempt and Release after it ends.
type QueueManager interface {
	Acquire(queue string) bool
	Release(queue string)
}

// request is one attempt waiting for a worker.
type request struct {
	ctx   context.Context
	task  *activity.Task
	reply chan *activity.Outcome
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	WorkerID    string   `json:"worker_id"`
	Queues      []string `json:"queues"`
	Concurrency int      `json:"concurrency"`
	Active      int      `json:"active"`
	Running     bool     `json:"running"`
}

// Pool runs a fixed set of worker goroutines per task queue. It implements
// workflow.Dispatcher: Dispatch hands a task to a worker on the task's
// queue and waits for its outcome.
type Pool struct {
	executor     *Executor
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Queue manager (optional).
	queueManager QueueManager

	requests    map[string]chan *request
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	stopped     bool
	activeTasks map[string]context.CancelCauseFunc
	activeMu    sync.Mutex
}

var _ workflow.Dispatcher = (*Pool)(nil)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines per queue.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the task queues the pool serves.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long a worker waits before asking the queue
// manager for a slot again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:     executor,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: 50 * time.Millisecond,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeTasks:  make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	p.requests = make(map[string]chan *request, len(p.queues))
	for _, q := range p.queues {
		p.requests[q] = make(chan *request)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.stopped {
		return errPoolStopped
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for queue, ch := range p.requests {
		for range p.concurrency {
			p.wg.Add(1)
			go p.workLoop(queue, ch)
		}
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If ctx ends first, active attempts are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActiveTasks()
		<-done
	}
	return nil
}

// Dispatch runs one attempt of task on a worker serving task.Queue and
// returns its outcome. If ctx ends first the attempt is reported as
// cancelled and whatever the worker produces later is discarded.
func (p *Pool) Dispatch(ctx context.Context, task *activity.Task) *activity.Outcome {
	ch, ok := p.requests[task.Queue]
	if !ok {
		err := activity.NonRetryable(fmt.Errorf("no workers serve task queue %q", task.Queue))
		return activity.Failed(task, err, 0)
	}

	req := &request{ctx: ctx, task: task, reply: make(chan *activity.Outcome, 1)}
	select {
	case ch <- req:
	case <-ctx.Done():
		return activity.Cancelled(task, context.Cause(ctx))
	case <-p.stopCh:
		return activity.Cancelled(task, errPoolStopped)
	}

	select {
	case out := <-req.reply:
		return out
	case <-ctx.Done():
		return activity.Cancelled(task, context.Cause(ctx))
	}
}

// Stats returns the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	p.activeMu.Lock()
	active := len(p.activeTasks)
	p.activeMu.Unlock()

	return Stats{
		WorkerID:    p.workerID.String(),
		Queues:      p.queues,
		Concurrency: p.concurrency,
		Active:      active,
		Running:     running,
	}
}

// workLoop is run by each worker goroutine.
func (p *Pool) workLoop(queue string, ch <-chan *request) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case req := <-ch:
			p.serve(queue, req)
		}
	}
}

func (p *Pool) serve(queue string, req *request) {
	t := req.task

	// Wait for a queue slot.
	if p.queueManager != nil {
		for !p.queueManager.Acquire(queue) {
			select {
			case <-time.After(p.pollInterval):
			case <-req.ctx.Done():
				req.reply <- activity.Cancelled(t, context.Cause(req.ctx))
				return
			case <-p.stopCh:
				req.reply <- activity.Cancelled(t, errPoolStopped)
				return
			}
		}
		defer p.queueManager.Release(queue)
	}

	if req.ctx.Err() != nil {
		req.reply <- activity.Cancelled(t, context.Cause(req.ctx))
		return
	}

	ctx, cancel := context.WithCancelCause(req.ctx)
	key := t.ID.String() + "#" + strconv.Itoa(t.Attempt)
	p.trackTask(key, cancel)

	out := p.executor.Execute(ctx, t)

	p.untrackTask(key)
	cancel(nil)

	// The reply buffer holds one outcome, so a dispatcher that already
	// left never blocks the worker.
	req.reply <- out
}

func (p *Pool) trackTask(key string, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeTasks[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackTask(key string) {
	p.activeMu.Lock()
	delete(p.activeTasks, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.activeTasks {
		p.logger.Warn("cancelling active task", slog.String("task", key))
		cancel(errPoolStopped)
	}
}
