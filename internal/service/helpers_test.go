package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/isolation"
	"github.com/chin-flags/fixapp/internal/port/database/databasetest"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// plainHasher is a cheap passwordhash.Hasher for tests.
type plainHasher struct {
	mu       sync.Mutex
	verifies int
}

func (h *plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (h *plainHasher) Verify(hash, password string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return hash == "plain:"+password
}

func (h *plainHasher) Verifies() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

type published struct {
	subject string
	data    []byte
}

// fakeQueue records publishes and jobs, and delivers broadcasts synchronously.
type fakeQueue struct {
	mu        sync.Mutex
	published []published
	jobs      []published
	policies  []messagequeue.RetryPolicy
	handlers  map[string][]messagequeue.Handler
	consumers map[string]messagequeue.Handler
	pending   map[string]uint64
	failed    map[string][]messagequeue.FailedJob
	lastRange [2]int
	connected bool
	failWith  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		handlers:  make(map[string][]messagequeue.Handler),
		consumers: make(map[string]messagequeue.Handler),
		pending:   make(map[string]uint64),
		failed:    make(map[string][]messagequeue.FailedJob),
		connected: true,
	}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published = append(q.published, published{subject, data})
	handlers := append([]messagequeue.Handler(nil), q.handlers[subject]...)
	q.mu.Unlock()
	for _, h := range handlers {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = append(q.handlers[subject], h)
	return func() {}, nil
}

func (q *fakeQueue) Enqueue(_ context.Context, subject string, data []byte, p messagequeue.RetryPolicy) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return "", q.failWith
	}
	q.jobs = append(q.jobs, published{subject, data})
	q.policies = append(q.policies, p)
	q.pending[subject]++
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *fakeQueue) Consume(_ context.Context, subject, _ string, _ messagequeue.RetryPolicy, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers[subject] = h
	return func() {}, nil
}

func (q *fakeQueue) Pending(_ context.Context, subject string) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[subject], nil
}

func (q *fakeQueue) FailedCount(_ context.Context, subject string) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint64(len(q.failed[subject])), nil
}

func (q *fakeQueue) Failed(_ context.Context, subject, tenantID string, start, end int) ([]messagequeue.FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastRange = [2]int{start, end}
	var out []messagequeue.FailedJob
	for _, job := range q.failed[subject] {
		if tenantID == "" || job.TenantID == tenantID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (q *fakeQueue) Retry(_ context.Context, subject, jobID, tenantID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.failed[subject] {
		if job.ID == jobID && (tenantID == "" || job.TenantID == tenantID) {
			q.failed[subject] = append(q.failed[subject][:i:i], q.failed[subject][i+1:]...)
			q.pending[subject]++
			return nil
		}
	}
	return messagequeue.ErrJobNotFound
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return q.connected }

// fakePresigner returns deterministic URLs.
type fakePresigner struct {
	lastTTL time.Duration
	fail    bool
}

func (p *fakePresigner) PresignUpload(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if p.fail {
		return "", errors.New("presign failed")
	}
	p.lastTTL = ttl
	return "https://blob.test/put/" + key + "?ct=" + contentType, nil
}

func (p *fakePresigner) PresignDownload(_ context.Context, key string, ttl time.Duration) (string, error) {
	if p.fail {
		return "", errors.New("presign failed")
	}
	p.lastTTL = ttl
	return "https://blob.test/get/" + key, nil
}

type emitted struct {
	tenantID string
	room     string
	event    string
	payload  any
}

// fakeEmitter records realtime emits.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *fakeEmitter) EmitToRoom(_ context.Context, tenantID, resource, resourceID, event string, payload any) error {
	e.add(tenantID, strings.Join([]string{"tenant", tenantID, resource, resourceID}, ":"), event, payload)
	return nil
}

func (e *fakeEmitter) EmitToUser(_ context.Context, tenantID, userID, event string, payload any) error {
	e.add(tenantID, "tenant:"+tenantID+":user:"+userID, event, payload)
	return nil
}

func (e *fakeEmitter) EmitToTenant(_ context.Context, tenantID, event string, payload any) error {
	e.add(tenantID, "tenant:"+tenantID, event, payload)
	return nil
}

func (e *fakeEmitter) add(tenantID, room, event string, payload any) {
	e.mu.Lock()
	e.events = append(e.events, emitted{tenantID, room, event, payload})
	e.mu.Unlock()
}

// seedTenant inserts an active tenant and returns its snapshot.
func seedTenant(t *testing.T, mem *databasetest.Memory, subdomain string) tenancy.Snapshot {
	t.Helper()
	tn := &tenant.Tenant{Name: subdomain, Subdomain: subdomain, Status: tenant.StatusActive, Settings: map[string]string{}}
	if err := mem.CreateTenant(context.Background(), tn); err != nil {
		t.Fatal(err)
	}
	return tenancy.FromTenant(tn)
}

// isolated wraps mem the way production wiring does.
func isolated(mem *databasetest.Memory) *isolation.Store {
	return isolation.NewStore(mem, isolation.NewGuard(nil, nil, isolation.Options{}))
}
