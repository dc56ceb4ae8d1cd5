package notify

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "mqs:notify:"

// RedisHub is a distributed, Redis-backed Hub that uses PUBLISH/SUBSCRIBE
// to broadcast wake-up signals across every server instance sharing one
// Postgres database. When a message is published on one instance, all
// instances waiting on that queue wake immediately. A redrive into a
// dead-letter queue sends no wake-up.
type RedisHub struct {
	client *redis.Client
	mu     sync.Mutex
	subs   map[string][]*redisSub
	closed bool
}

type redisSub struct {
	ch     chan struct{}
	cancel context.CancelFunc
}

// NewRedisHub creates a new Redis-backed hub.
func NewRedisHub(client *redis.Client) *RedisHub {
	return &RedisHub{
		client: client,
		subs:   make(map[string][]*redisSub),
	}
}

// Notify publishes a wake-up signal to the Redis channel for queue. Every
// server instance subscribed to it receives the notification.
func (n *RedisHub) Notify(ctx context.Context, queue string) error {
	channel := redisChannelPrefix + queue
	return n.client.Publish(ctx, channel, "1").Err()
}

// Subscribe returns a channel that receives a wake whenever Notify is
// called for queue on any instance. A background goroutine listens on the
// Redis PubSub channel and forwards notifications to the returned channel.
func (n *RedisHub) Subscribe(ctx context.Context, queue string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}

	subCtx, cancel := context.WithCancel(ctx)
	rs := &redisSub{ch: ch, cancel: cancel}
	n.subs[queue] = append(n.subs[queue], rs)
	n.mu.Unlock()

	channel := redisChannelPrefix + queue
	pubsub := n.client.Subscribe(subCtx, channel)

	go func() {
		defer pubsub.Close()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				n.removeSub(queue, rs)
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
					// Non-blocking: subscriber already has a pending wake.
				}
			}
		}
	}()

	return ch
}

// Close releases all resources held by the hub, closing all subscriber
// channels and cancelling background goroutines.
func (n *RedisHub) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, subs := range n.subs {
		for _, s := range subs {
			s.cancel()
			close(s.ch)
		}
	}
	n.subs = nil
	return nil
}

func (n *RedisHub) removeSub(queue string, target *redisSub) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.subs[queue]
	for i, s := range subs {
		if s == target {
			n.subs[queue] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
