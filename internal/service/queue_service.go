// Package service composes the store and notification hub into the
// user-observable queue/message operations: creation, publish, the
// long-polling receive, delete, redrive, and retention sweep.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kyrosq/mqs/internal/domain"
	"github.com/kyrosq/mqs/internal/hashutil"
	"github.com/kyrosq/mqs/internal/logging"
	"github.com/kyrosq/mqs/internal/metrics"
	"github.com/kyrosq/mqs/internal/notify"
	"github.com/kyrosq/mqs/internal/observability"
	"github.com/kyrosq/mqs/internal/store"
)

// opLog returns the operational logger, annotated with the active span's
// trace/span IDs when the context carries one, so log lines can be
// correlated with traces in the same request.
func opLog(ctx context.Context) *slog.Logger {
	return logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx))
}

// MaxWaitTime is the upper bound on a Receive's requested wait_time,
// applied regardless of what the caller asks for (§4.6 step 4).
const MaxWaitTime = 20 * time.Second

// ReceivedMessage is the snapshot of a claimed message returned to a
// caller, carrying only the fields the wire protocol exposes.
type ReceivedMessage struct {
	ID              string
	Payload         []byte
	ContentType     string
	ContentEncoding string
	Receives        int32
}

// QueueService is the orchestrator: the only component aware of
// wall-clock time and long-polling.
type QueueService struct {
	store store.Store
	hub   notify.Hub
}

// New builds a QueueService over st, waking long-poll waiters through hub.
func New(st store.Store, hub notify.Hub) *QueueService {
	return &QueueService{store: st, hub: hub}
}

// CreateQueue validates cfg and inserts a new queue definition.
func (s *QueueService) CreateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	if err := domain.ValidateName(name); err != nil {
		return domain.Queue{}, err
	}
	if err := domain.ValidateConfig(cfg); err != nil {
		return domain.Queue{}, err
	}
	q, err := s.store.CreateQueue(ctx, name, cfg)
	if err != nil {
		return domain.Queue{}, err
	}
	metrics.Global().RecordQueueCreated()
	return q, nil
}

// UpdateQueue validates cfg and replaces the mutable fields of an existing
// queue. A change to visibility_timeout only affects subsequent receives;
// currently-hidden messages keep their already-scheduled visible_since.
func (s *QueueService) UpdateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	if err := domain.ValidateConfig(cfg); err != nil {
		return domain.Queue{}, err
	}
	return s.store.UpdateQueue(ctx, name, cfg)
}

// DeleteQueue removes a queue. Referential cleanup on queues that pointed
// to it as a dead-letter target (I3) is performed by the database's
// ON DELETE SET NULL foreign key plus its redrive-pair trigger; the
// service does not re-implement that cascade.
func (s *QueueService) DeleteQueue(ctx context.Context, name string) (domain.Queue, error) {
	q, err := s.store.DeleteQueue(ctx, name)
	if err != nil {
		return domain.Queue{}, err
	}
	metrics.Global().RecordQueueDeleted()
	return q, nil
}

// GetQueue describes a queue's configuration and point-in-time status.
func (s *QueueService) GetQueue(ctx context.Context, name string) (domain.Description, error) {
	q, err := s.store.GetQueue(ctx, name)
	if err != nil {
		return domain.Description{}, err
	}
	now := time.Now().UTC()
	status, err := s.store.QueueStatus(ctx, name, now, q.Config.RetentionTimeout)
	if err != nil {
		return domain.Description{}, err
	}
	return domain.Description{Queue: q, Status: status}, nil
}

// ListQueues returns a page of queue configurations plus the total number
// of queues that exist, independent of limit.
func (s *QueueService) ListQueues(ctx context.Context, offset, limit int) ([]domain.Queue, int, error) {
	if offset < 0 {
		return nil, 0, domain.BadRequest("offset must be >= 0")
	}
	if limit < 1 || limit > 1000 {
		return nil, 0, domain.BadRequest("limit must be between 1 and 1000")
	}
	return s.store.ListQueues(ctx, offset, limit)
}

// Publish inserts payload into queue, deduplicating by content fingerprint
// when the queue has content_based_deduplication enabled.
func (s *QueueService) Publish(ctx context.Context, queueName string, payload []byte, contentType, contentEncoding string, maxMessageSize int64) (domain.PublishResult, error) {
	q, err := s.store.GetQueue(ctx, queueName)
	if err != nil {
		return domain.PublishResult{}, err
	}
	if contentType == "" {
		contentType = domain.DefaultContentType
	}
	if int64(len(payload)) > maxMessageSize {
		payload = payload[:maxMessageSize]
	}

	var hash string
	if q.Config.ContentBasedDeduplication {
		hash = hashutil.Fingerprint(contentType, contentEncoding, payload)
	}

	now := time.Now().UTC()
	msg := domain.Message{
		ID:              uuid.NewString(),
		Queue:           queueName,
		Payload:         payload,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		Hash:            hash,
		VisibleSince:    now.Add(q.Config.MessageDelay),
		CreatedAt:       now,
	}

	result, err := s.store.PublishMessage(ctx, queueName, msg, q.Config.ContentBasedDeduplication)
	if err != nil {
		return domain.PublishResult{}, err
	}

	metrics.Global().RecordPublish(queueName, result.Deduplicated)
	if !result.Deduplicated {
		if err := s.hub.Notify(ctx, queueName); err != nil {
			opLog(ctx).Warn("notify publish failed", "queue", queueName, "error", err)
		}
	}
	return result, nil
}

// Receive claims the next deliverable message on queueName, long-polling
// up to waitTime (capped at MaxWaitTime) when none is immediately
// available. It returns (nil, nil) when the wait budget is exhausted
// without finding a message.
func (s *QueueService) Receive(ctx context.Context, queueName string, waitTime time.Duration) (*ReceivedMessage, error) {
	q, err := s.store.GetQueue(ctx, queueName)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	msg, err := s.attemptReceive(ctx, queueName, q)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		metrics.Global().RecordReceive(queueName, time.Since(started).Milliseconds(), false)
		return msg, nil
	}

	if waitTime <= 0 {
		metrics.Global().RecordReceive(queueName, time.Since(started).Milliseconds(), true)
		return nil, nil
	}
	if waitTime > MaxWaitTime {
		waitTime = MaxWaitTime
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitTime)
	defer cancel()

	wake := s.hub.Subscribe(waitCtx, queueName)

	// Close the race between the first attempt and subscribing.
	msg, err = s.attemptReceive(ctx, queueName, q)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		metrics.Global().RecordReceive(queueName, time.Since(started).Milliseconds(), false)
		return msg, nil
	}

	select {
	case <-wake:
	case <-waitCtx.Done():
	}

	msg, err = s.attemptReceive(ctx, queueName, q)
	if err != nil {
		return nil, err
	}
	metrics.Global().RecordReceive(queueName, time.Since(started).Milliseconds(), msg == nil)
	return msg, nil
}

func (s *QueueService) attemptReceive(ctx context.Context, queueName string, q domain.Queue) (*ReceivedMessage, error) {
	dlqDedup, err := s.dlqDedupEnabled(ctx, q.Config.Redrive)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.ReceiveMessage(ctx, queueName, q.Config.VisibilityTimeout, q.Config.Redrive, dlqDedup)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	return &ReceivedMessage{
		ID:              msg.ID,
		Payload:         msg.Payload,
		ContentType:     msg.ContentType,
		ContentEncoding: msg.ContentEncoding,
		Receives:        msg.Receives,
	}, nil
}

func (s *QueueService) dlqDedupEnabled(ctx context.Context, redrive *domain.RedrivePolicy) (bool, error) {
	if redrive == nil {
		return false, nil
	}
	dlq, err := s.store.GetQueue(ctx, redrive.DeadLetterQueue)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return dlq.Config.ContentBasedDeduplication, nil
}

// DeleteMessage acknowledges and removes a message by id.
func (s *QueueService) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return false, domain.BadRequest("message_id %q is not a valid UUID", messageID)
	}
	existed, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if existed {
		metrics.Global().RecordDelete("")
	}
	return existed, nil
}

// Sweep deletes messages past their queue's retention window. It is
// intended to run on a fixed interval from a background goroutine (§5).
func (s *QueueService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.Global().RecordExpired("*", n)
		logging.Op().Info("retention sweep removed expired messages", "count", n)
	}
	return n, nil
}
