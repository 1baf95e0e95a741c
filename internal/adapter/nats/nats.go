// Package nats implements the message queue port using NATS. Broadcasts use
// core NATS subjects; durable jobs use a JetStream work-queue stream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

const (
	headerRequestID = logger.RequestIDHeader
	headerJobID     = "Fixapp-Job-Id"
	headerTenantID  = "Fixapp-Tenant-Id"
	headerReason    = "Fixapp-Failure-Reason"
	headerAttempts  = "Fixapp-Attempts"
	dlqSuffix       = ".dlq"
	maxReasonLen    = 512
)

var errDuplicatePublish = errors.New("stream dropped publish as duplicate")

var _ messagequeue.Queue = (*Queue)(nil)

// Queue implements messagequeue.Queue.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	log    *zap.Logger
}

// Connect establishes a connection to NATS and ensures the jobs stream exists.
func Connect(ctx context.Context, cfg config.NATS, log *zap.Logger) (*Queue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("fixapp"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Work-queue retention removes a job once acked, so the stored message
	// count of a subject is its backlog.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{"jobs.>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", zap.String("url", cfg.URL), zap.String("stream", cfg.Stream))
	return &Queue{nc: nc, js: js, stream: cfg.Stream, log: log}, nil
}

// JetStream exposes the JetStream context for KV buckets.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// Publish sends a broadcast on a core NATS subject. The request ID in ctx
// travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	logger.InjectRequestID(ctx, msg.Header)
	if err := q.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for broadcasts on subject. Handler errors are
// logged; broadcasts are never redelivered.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	sub, err := q.nc.Subscribe(subject, func(msg *nats.Msg) {
		hctx := withHeaders(context.WithoutCancel(ctx), msg.Header)
		if err := messagequeue.Validate(msg.Subject, msg.Data); err != nil {
			q.log.Warn("dropping invalid broadcast", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := handler(hctx, msg.Subject, msg.Data); err != nil {
			logger.FromContext(hctx, q.log).Error("broadcast handler failed",
				zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			q.log.Warn("nats unsubscribe failed", zap.String("subject", subject), zap.Error(err))
		}
	}, nil
}

// Enqueue stores a job on the stream. The job ID doubles as the JetStream
// message ID, so a retried publish within the dedup window is stored once.
// The ambient tenant travels as a header so dead letters can be listed per
// tenant.
func (q *Queue) Enqueue(ctx context.Context, subject string, data []byte, _ messagequeue.RetryPolicy) (string, error) {
	if err := messagequeue.Validate(subject, data); err != nil {
		return "", err
	}
	id := ulid.Make().String()
	hdr := nats.Header{}
	hdr.Set(headerJobID, id)
	if tenantID := tenancy.TenantID(ctx); tenantID != "" {
		hdr.Set(headerTenantID, tenantID)
	}
	logger.InjectRequestID(ctx, hdr)
	if err := q.publishJob(ctx, &nats.Msg{Subject: subject, Data: data, Header: hdr}, id); err != nil {
		return "", fmt.Errorf("nats enqueue %s: %w", subject, err)
	}
	return id, nil
}

// publishJob stores msg under msgID and fails when the stream deduplicated it.
func (q *Queue) publishJob(ctx context.Context, msg *nats.Msg, msgID string) error {
	ack, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(msgID))
	if err != nil {
		return err
	}
	if ack.Duplicate {
		return errDuplicatePublish
	}
	return nil
}

// Consume attaches a durable worker. A failed job is redelivered after the
// policy delay; once attempts run out it moves to {subject}.dlq.
func (q *Queue) Consume(ctx context.Context, subject, durable string, policy messagequeue.RetryPolicy, handler messagequeue.Handler) (func(), error) {
	if policy.Attempts < 1 {
		policy = messagequeue.DefaultRetryPolicy
	}
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    policy.Attempts,
		BackOff:       policy.Delays(),
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handleJob(context.WithoutCancel(ctx), msg, policy, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

func (q *Queue) handleJob(ctx context.Context, msg jetstream.Msg, policy messagequeue.RetryPolicy, handler messagequeue.Handler) {
	ctx = withHeaders(ctx, msg.Headers())
	log := logger.FromContext(ctx, q.log).With(zap.String("subject", msg.Subject()))

	attempt := 1
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		log.Error("invalid job payload", zap.Error(err))
		q.moveToDLQ(ctx, msg, attempt, err, log)
		return
	}

	if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
		if attempt >= policy.Attempts {
			log.Error("job failed, attempts exhausted", zap.Int("attempt", attempt), zap.Error(err))
			q.moveToDLQ(ctx, msg, attempt, err, log)
			return
		}
		log.Warn("job failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if nakErr := msg.NakWithDelay(policy.Delay(attempt)); nakErr != nil {
			log.Error("nats nak failed", zap.Error(nakErr))
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("nats ack failed", zap.Error(ackErr))
	}
}

// moveToDLQ copies the job to {subject}.dlq and terminates the original.
// The copy gets its own message ID: reusing the job's would make the stream
// drop it as a duplicate inside the dedup window.
func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg, attempts int, cause error, log *zap.Logger) {
	reason := cause.Error()
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	hdr := nats.Header{}
	for _, k := range []string{headerJobID, headerTenantID, headerRequestID} {
		if v := msg.Headers().Get(k); v != "" {
			hdr.Set(k, v)
		}
	}
	hdr.Set(headerReason, reason)
	hdr.Set(headerAttempts, strconv.Itoa(attempts))

	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: hdr}
	if err := q.publishJob(ctx, dlq, ulid.Make().String()); err != nil {
		log.Error("dlq publish failed", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("nats nak failed", zap.Error(nakErr))
		}
		return
	}
	if err := msg.Term(); err != nil {
		log.Error("nats term failed", zap.Error(err))
	}
}

// Pending returns the number of stored jobs on subject.
func (q *Queue) Pending(ctx context.Context, subject string) (uint64, error) {
	return q.count(ctx, subject)
}

// FailedCount returns the number of dead letters of subject.
func (q *Queue) FailedCount(ctx context.Context, subject string) (uint64, error) {
	return q.count(ctx, subject+dlqSuffix)
}

func (q *Queue) count(ctx context.Context, subject string) (uint64, error) {
	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		return 0, fmt.Errorf("nats stream %s: %w", q.stream, err)
	}
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return 0, fmt.Errorf("nats stream info: %w", err)
	}
	return info.State.Subjects[subject], nil
}

// Failed lists dead letters of subject from index start to end inclusive.
func (q *Queue) Failed(ctx context.Context, subject, tenantID string, start, end int) ([]messagequeue.FailedJob, error) {
	if start < 0 || end < start {
		return nil, nil
	}
	var out []messagequeue.FailedJob
	idx := 0
	err := q.scanDLQ(ctx, subject, func(raw *jetstream.RawStreamMsg) bool {
		if tenantID != "" && raw.Header.Get(headerTenantID) != tenantID {
			return true
		}
		if idx >= start {
			out = append(out, failedJob(subject, raw))
		}
		idx++
		return idx <= end
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Retry republishes a dead letter onto subject under a fresh message ID and
// removes it from the DLQ.
func (q *Queue) Retry(ctx context.Context, subject, jobID, tenantID string) error {
	var found *jetstream.RawStreamMsg
	err := q.scanDLQ(ctx, subject, func(raw *jetstream.RawStreamMsg) bool {
		if raw.Header.Get(headerJobID) == jobID {
			found = raw
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if found == nil || (tenantID != "" && found.Header.Get(headerTenantID) != tenantID) {
		return messagequeue.ErrJobNotFound
	}

	hdr := nats.Header{}
	for _, k := range []string{headerJobID, headerTenantID} {
		if v := found.Header.Get(k); v != "" {
			hdr.Set(k, v)
		}
	}
	logger.InjectRequestID(ctx, hdr)
	if err := q.publishJob(ctx, &nats.Msg{Subject: subject, Data: found.Data, Header: hdr}, ulid.Make().String()); err != nil {
		return fmt.Errorf("nats retry %s: %w", jobID, err)
	}

	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		return fmt.Errorf("nats stream %s: %w", q.stream, err)
	}
	if err := stream.DeleteMsg(ctx, found.Sequence); err != nil {
		return fmt.Errorf("nats delete dlq entry %d: %w", found.Sequence, err)
	}
	logger.FromContext(ctx, q.log).Info("job retried", zap.String("subject", subject), zap.String("job_id", jobID))
	return nil
}

// scanDLQ walks the dead letters of subject in stream order until fn
// returns false.
func (q *Queue) scanDLQ(ctx context.Context, subject string, fn func(*jetstream.RawStreamMsg) bool) error {
	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		return fmt.Errorf("nats stream %s: %w", q.stream, err)
	}
	dlq := subject + dlqSuffix
	for seq := uint64(1); ; {
		raw, err := stream.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(dlq))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("nats get %s: %w", dlq, err)
		}
		if !fn(raw) {
			return nil
		}
		seq = raw.Sequence + 1
	}
}

func failedJob(subject string, raw *jetstream.RawStreamMsg) messagequeue.FailedJob {
	attempts, _ := strconv.Atoi(raw.Header.Get(headerAttempts))
	return messagequeue.FailedJob{
		ID:       raw.Header.Get(headerJobID),
		Subject:  subject,
		TenantID: raw.Header.Get(headerTenantID),
		Data:     raw.Data,
		Reason:   raw.Header.Get(headerReason),
		Attempts: attempts,
		FailedAt: raw.Time,
	}
}

// Drain stops accepting new messages and lets in-flight handlers finish.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	deadline := time.Now().Add(30 * time.Second)
	for q.nc.IsDraining() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}

func withHeaders(ctx context.Context, h nats.Header) context.Context {
	if h == nil {
		return ctx
	}
	return logger.ExtractRequestID(ctx, h)
}
