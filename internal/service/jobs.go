package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// maxFailedPage caps one listing of dead-lettered jobs.
const maxFailedPage = 100

// QueueHealth reports the state of the job queues.
type QueueHealth struct {
	Connected bool              `json:"connected"`
	Pending   map[string]uint64 `json:"pending"`
	Failed    map[string]uint64 `json:"failed"`
}

// JobQueue enqueues background jobs. Tenant-bearing jobs are stamped with the
// ambient tenant, overriding whatever the caller put in the payload.
type JobQueue struct {
	queue  messagequeue.Queue
	policy messagequeue.RetryPolicy
	log    *zap.Logger
}

// NewJobQueue creates a JobQueue using policy for every job.
func NewJobQueue(queue messagequeue.Queue, policy messagequeue.RetryPolicy, log *zap.Logger) *JobQueue {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.Attempts < 1 {
		policy = messagequeue.DefaultRetryPolicy
	}
	return &JobQueue{queue: queue, policy: policy, log: log}
}

// EnqueueEmail queues an email.
func (j *JobQueue) EnqueueEmail(ctx context.Context, job messagequeue.EmailJob) (string, error) {
	if snap, ok := tenancy.Current(ctx); ok {
		job.TenantID = snap.TenantID
	}
	return j.enqueue(ctx, messagequeue.SubjectJobsEmails, job)
}

// EnqueuePDF queues a PDF rendering of a resource.
func (j *JobQueue) EnqueuePDF(ctx context.Context, job messagequeue.DocumentJob) (string, error) {
	job.Kind = messagequeue.DocumentPDF
	return j.enqueueDocument(ctx, job)
}

// EnqueueExcel queues a spreadsheet export of a resource.
func (j *JobQueue) EnqueueExcel(ctx context.Context, job messagequeue.DocumentJob) (string, error) {
	job.Kind = messagequeue.DocumentExcel
	return j.enqueueDocument(ctx, job)
}

func (j *JobQueue) enqueueDocument(ctx context.Context, job messagequeue.DocumentJob) (string, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return "", err
	}
	job.TenantID = snap.TenantID
	return j.enqueue(ctx, messagequeue.SubjectJobsDocuments, job)
}

// EnqueueNotification queues a push notification to a user of the ambient tenant.
func (j *JobQueue) EnqueueNotification(ctx context.Context, job messagequeue.NotificationJob) (string, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return "", err
	}
	job.TenantID = snap.TenantID
	return j.enqueue(ctx, messagequeue.SubjectJobsNotifications, job)
}

func (j *JobQueue) enqueue(ctx context.Context, subject string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s job: %w", subject, err)
	}
	if err := messagequeue.Validate(subject, data); err != nil {
		return "", err
	}
	id, err := j.queue.Enqueue(ctx, subject, data, j.policy)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", subject, err)
	}
	logger.FromContext(ctx, j.log).Info("job queued", zap.String("subject", subject), zap.String("job_id", id))
	return id, nil
}

// Work attaches handler as a durable worker for subject. The handler runs
// inside the tenant scope named by the job payload, if any.
func (j *JobQueue) Work(ctx context.Context, subject, durable string, handler messagequeue.Handler) (func(), error) {
	return j.queue.Consume(ctx, subject, durable, j.policy, func(ctx context.Context, subj string, data []byte) error {
		var stamp struct {
			TenantID string `json:"tenant_id"`
		}
		if err := json.Unmarshal(data, &stamp); err == nil && stamp.TenantID != "" {
			ctx = tenancy.WithTenant(ctx, tenancy.Snapshot{TenantID: stamp.TenantID})
		}
		return handler(ctx, subj, data)
	})
}

// Health reports connection state and the pending and failed counts of
// each job subject.
func (j *JobQueue) Health(ctx context.Context) (*QueueHealth, error) {
	h := &QueueHealth{
		Connected: j.queue.IsConnected(),
		Pending:   make(map[string]uint64, len(messagequeue.JobSubjects)),
		Failed:    make(map[string]uint64, len(messagequeue.JobSubjects)),
	}
	if !h.Connected {
		return h, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, subject := range messagequeue.JobSubjects {
		g.Go(func() error {
			n, err := j.queue.Pending(gctx, subject)
			if err != nil {
				return fmt.Errorf("pending %s: %w", subject, err)
			}
			failed, err := j.queue.FailedCount(gctx, subject)
			if err != nil {
				return fmt.Errorf("failed %s: %w", subject, err)
			}
			mu.Lock()
			h.Pending[subject] = n
			h.Failed[subject] = failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return h, nil
}

// FailedJobs lists the ambient tenant's dead-lettered jobs of queue, from
// index start to end inclusive. At most maxFailedPage jobs are returned.
func (j *JobQueue) FailedJobs(ctx context.Context, queue string, start, end int) ([]messagequeue.FailedJob, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	subject, err := jobSubject(queue)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, domain.Validationf("invalid range %d-%d", start, end)
	}
	if end-start >= maxFailedPage {
		end = start + maxFailedPage - 1
	}

	jobs, err := j.queue.Failed(ctx, subject, snap.TenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed jobs %s: %w", subject, err)
	}
	if jobs == nil {
		jobs = []messagequeue.FailedJob{}
	}
	return jobs, nil
}

// Retry puts a dead-lettered job of the ambient tenant back on its queue.
func (j *JobQueue) Retry(ctx context.Context, queue, jobID string) error {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return err
	}
	subject, err := jobSubject(queue)
	if err != nil {
		return err
	}
	if err := j.queue.Retry(ctx, subject, jobID, snap.TenantID); err != nil {
		if errors.Is(err, messagequeue.ErrJobNotFound) {
			return domain.NewError(domain.ErrNotFound, "Job not found: "+jobID)
		}
		return fmt.Errorf("retry %s: %w", jobID, err)
	}
	logger.FromContext(ctx, j.log).Info("job requeued", zap.String("subject", subject), zap.String("job_id", jobID))
	return nil
}

func jobSubject(queue string) (string, error) {
	subject, ok := messagequeue.JobSubject(queue)
	if !ok {
		return "", domain.NewError(domain.ErrNotFound, "Queue not found: "+queue)
	}
	return subject, nil
}
