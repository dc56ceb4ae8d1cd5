// Package store is the durable persistence layer: queue and message
// repositories backed by PostgreSQL, reached through the generic db.Database
// abstraction rather than pgx types directly.
package store

import (
	"context"
	"time"

	"github.com/kyrosq/mqs/internal/domain"
)

// QueueStore is the durable repository for queue configuration.
type QueueStore interface {
	CreateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error)
	UpdateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error)
	// DeleteQueue removes the queue and returns its configuration as it was
	// immediately before deletion, or domain.NotFound if it did not exist.
	DeleteQueue(ctx context.Context, name string) (domain.Queue, error)
	GetQueue(ctx context.Context, name string) (domain.Queue, error)
	QueueStatus(ctx context.Context, name string, now time.Time, retention time.Duration) (domain.Status, error)
	// ListQueues returns a page of queues plus the total number of queues
	// that exist, independent of limit.
	ListQueues(ctx context.Context, offset, limit int) ([]domain.Queue, int, error)
}

// MessageStore is the durable repository for message bodies and their
// visibility-timeout state machine.
type MessageStore interface {
	// PublishMessage inserts a message. When the queue has content-based
	// deduplication enabled and a message with the same fingerprint is
	// already present, it returns the existing message with Deduplicated
	// set, per invariant I5.
	PublishMessage(ctx context.Context, queue string, msg domain.Message, dedup bool) (domain.PublishResult, error)

	// ReceiveMessage atomically claims the oldest visible message on queue,
	// applying the redrive policy (if any) before handing a message back.
	// It returns a nil message (no error) when none is currently claimable.
	ReceiveMessage(ctx context.Context, queue string, visibility time.Duration, redrive *domain.RedrivePolicy, dlqDedup bool) (*domain.Message, error)

	// DeleteMessage removes a message by id, reporting whether it existed.
	DeleteMessage(ctx context.Context, id string) (bool, error)

	// SweepExpired deletes messages past their queue's retention window,
	// returning the number removed. It is safe to call repeatedly and
	// operates across all queues in one pass.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store bundles both repositories plus lifecycle management; PostgresStore
// is its database-backed implementation, and CachedStore wraps a Store with
// a cache over GetQueue.
type Store interface {
	QueueStore
	MessageStore
	Ping(ctx context.Context) error
	Close() error
}
