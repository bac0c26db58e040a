// Package queue enforces per-task-queue rate and concurrency limits at
// the moment a worker picks up an activity attempt.
//
//	m := queue.NewManager(queue.Config{Name: "rag-task-queue", MaxConcurrency: 4, RateLimit: 20})
//	if m.Acquire("rag-task-queue") {
//	    defer m.Release("rag-task-queue")
//	    // run the attempt
//	}
//
// Queues without a Config have no limits beyond the pool's worker count.
package queue
