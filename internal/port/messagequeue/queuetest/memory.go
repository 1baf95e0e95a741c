// Package queuetest provides an in-memory messagequeue.Queue for tests.
package queuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/chin-flags/fixapp/internal/port/messagequeue"
)

// Memory keeps jobs and dead letters in maps. Broadcasts are delivered
// synchronously; consumers are recorded but never driven.
type Memory struct {
	mu        sync.Mutex
	seq       int
	handlers  map[string][]messagequeue.Handler
	pending   map[string][][]byte
	failed    map[string][]messagequeue.FailedJob
	Connected bool
}

var _ messagequeue.Queue = (*Memory)(nil)

// NewMemory returns a connected, empty queue.
func NewMemory() *Memory {
	return &Memory{
		handlers:  make(map[string][]messagequeue.Handler),
		pending:   make(map[string][][]byte),
		failed:    make(map[string][]messagequeue.FailedJob),
		Connected: true,
	}
}

// DeadLetter parks job on the dead-letter list of its subject.
func (m *Memory) DeadLetter(job messagequeue.FailedJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[job.Subject] = append(m.failed[job.Subject], job)
}

func (m *Memory) Publish(ctx context.Context, subject string, data []byte) error {
	m.mu.Lock()
	handlers := append([]messagequeue.Handler(nil), m.handlers[subject]...)
	m.mu.Unlock()
	for _, h := range handlers {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = append(m.handlers[subject], h)
	return func() {}, nil
}

func (m *Memory) Enqueue(_ context.Context, subject string, data []byte, _ messagequeue.RetryPolicy) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.pending[subject] = append(m.pending[subject], data)
	return fmt.Sprintf("job-%d", m.seq), nil
}

func (m *Memory) Consume(context.Context, string, string, messagequeue.RetryPolicy, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *Memory) Pending(_ context.Context, subject string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.pending[subject])), nil
}

func (m *Memory) FailedCount(_ context.Context, subject string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.failed[subject])), nil
}

func (m *Memory) Failed(_ context.Context, subject, tenantID string, start, end int) ([]messagequeue.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if start < 0 || end < start {
		return nil, nil
	}
	var out []messagequeue.FailedJob
	idx := 0
	for _, job := range m.failed[subject] {
		if tenantID != "" && job.TenantID != tenantID {
			continue
		}
		if idx > end {
			break
		}
		if idx >= start {
			out = append(out, job)
		}
		idx++
	}
	return out, nil
}

func (m *Memory) Retry(_ context.Context, subject, jobID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.failed[subject]
	for i, job := range jobs {
		if job.ID != jobID {
			continue
		}
		if tenantID != "" && job.TenantID != tenantID {
			break
		}
		m.failed[subject] = append(jobs[:i:i], jobs[i+1:]...)
		m.pending[subject] = append(m.pending[subject], job.Data)
		return nil
	}
	return messagequeue.ErrJobNotFound
}

func (m *Memory) Drain() error      { return nil }
func (m *Memory) Close() error      { return nil }
func (m *Memory) IsConnected() bool { return m.Connected }
