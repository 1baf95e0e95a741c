// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a dead-lettered job does not exist or
// belongs to another tenant.
var ErrJobNotFound = errors.New("job not found")

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// RetryPolicy bounds redelivery of a durable job. Attempt n (1-based) is
// retried after Backoff * 2^(n-1).
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is three attempts with 2s and 4s between them.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 2 * time.Second}

// Delay returns the wait before retrying after the given failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Backoff << (attempt - 1)
}

// Delays returns the backoff schedule between all attempts.
func (p RetryPolicy) Delays() []time.Duration {
	if p.Attempts < 2 {
		return nil
	}
	out := make([]time.Duration, 0, p.Attempts-1)
	for i := 1; i < p.Attempts; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}

// FailedJob is a job parked on the dead-letter subject after its attempts
// ran out.
type FailedJob struct {
	ID       string          `json:"id"`
	Subject  string          `json:"subject"`
	TenantID string          `json:"tenantId,omitempty"`
	Data     json.RawMessage `json:"data"`
	Reason   string          `json:"reason"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failedAt"`
}

// Queue is the port interface for fan-out messaging and durable jobs.
type Queue interface {
	// Publish broadcasts a message to every current subscriber of subject.
	// Delivery is at-most-once and nothing is persisted.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for broadcast messages on subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Enqueue persists a job on subject and returns its id. Workers see it
	// at most policy.Attempts times.
	Enqueue(ctx context.Context, subject string, data []byte, policy RetryPolicy) (jobID string, err error)

	// Consume attaches a durable worker to subject. A handler error
	// triggers redelivery after the policy delay until attempts run out.
	Consume(ctx context.Context, subject, durable string, policy RetryPolicy, handler Handler) (cancel func(), err error)

	// Pending returns the number of jobs stored on subject.
	Pending(ctx context.Context, subject string) (uint64, error)

	// FailedCount returns the number of dead-lettered jobs of subject.
	FailedCount(ctx context.Context, subject string) (uint64, error)

	// Failed lists the dead-lettered jobs of subject in failure order, from
	// index start to end inclusive. A non-empty tenantID restricts the
	// listing to jobs enqueued inside that tenant.
	Failed(ctx context.Context, subject, tenantID string, start, end int) ([]FailedJob, error)

	// Retry moves a dead-lettered job back onto subject with a fresh attempt
	// budget. A non-empty tenantID must match the job's tenant, otherwise
	// ErrJobNotFound is returned.
	Retry(ctx context.Context, subject, jobID, tenantID string) error

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by fixapp.
const (
	SubjectJobsEmails        = "jobs.emails"
	SubjectJobsDocuments     = "jobs.documents"
	SubjectJobsNotifications = "jobs.notifications"

	// SubjectTenantInvalidate tells every instance to drop a cached tenant.
	SubjectTenantInvalidate = "tenants.invalidate"

	// SubjectRealtimePrefix is followed by ".{tenantID}" for room fan-out.
	SubjectRealtimePrefix = "realtime"
)

// JobSubjects lists the durable job subjects.
var JobSubjects = []string{SubjectJobsEmails, SubjectJobsDocuments, SubjectJobsNotifications}

// JobSubject maps a queue name such as "emails" to its subject.
func JobSubject(name string) (string, bool) {
	subject := "jobs." + name
	for _, s := range JobSubjects {
		if s == subject {
			return subject, true
		}
	}
	return "", false
}

// RealtimeSubject returns the fan-out subject of one tenant.
func RealtimeSubject(tenantID string) string {
	return SubjectRealtimePrefix + "." + tenantID
}
