package api

import (
	"context"
	"time"

	"github.com/kyrosq/mqs/internal/domain"
	"github.com/kyrosq/mqs/internal/service"
)

// queueServicer is the subset of *service.QueueService the HTTP layer
// depends on, narrowed so handlers can be tested against a fake.
type queueServicer interface {
	CreateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error)
	UpdateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error)
	DeleteQueue(ctx context.Context, name string) (domain.Queue, error)
	GetQueue(ctx context.Context, name string) (domain.Description, error)
	ListQueues(ctx context.Context, offset, limit int) ([]domain.Queue, int, error)
	Publish(ctx context.Context, queueName string, payload []byte, contentType, contentEncoding string, maxMessageSize int64) (domain.PublishResult, error)
	Receive(ctx context.Context, queueName string, waitTime time.Duration) (*service.ReceivedMessage, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
}

// pinger is the subset of store.Store the health check depends on.
type pinger interface {
	Ping(ctx context.Context) error
}
