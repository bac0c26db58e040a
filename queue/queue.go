package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines limits for one task queue.
type Config struct {
	// Name is the task queue name.
	Name string `mapstructure:"name"`

	// MaxConcurrency caps attempts running at once. Zero means no cap.
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// RateLimit is the sustained attempts per second. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`

	// RateBurst is the token bucket size; it defaults to 1.
	RateBurst int `mapstructure:"rate_burst"`
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return qs
}

// Stats is a point-in-time view of one queue.
type Stats struct {
	Name           string `json:"name"`
	Active         int    `json:"active"`
	MaxConcurrency int    `json:"max_concurrency"`
}

// Manager gates attempts per task queue. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

// Acquire reports whether an attempt on queue may start now. On true the
// caller must call Release when the attempt ends.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	qs.active++
	return true
}

// Release frees the slot taken by a successful Acquire.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig creates or replaces a queue's limits, keeping its active
// count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the running attempts on a configured queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// Stats returns the state of every configured queue.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(m.queues))
	for name, qs := range m.queues {
		out = append(out, Stats{Name: name, Active: qs.active, MaxConcurrency: qs.config.MaxConcurrency})
	}
	return out
}
