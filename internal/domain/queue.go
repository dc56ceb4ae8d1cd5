package domain

import (
	"regexp"
	"time"
)

// Bounds on the tunable queue durations, expressed in seconds. The upper
// bound matches a signed 32-bit second count, the same ceiling the wire
// format uses.
const (
	MinRetentionSeconds  = 1
	MaxRetentionSeconds  = 1<<31 - 1
	MaxVisibilitySeconds = 1<<31 - 1
	MaxDelaySeconds      = 1<<31 - 1
	MinMaxReceives       = 1
	MaxMaxReceives       = 1<<31 - 1

	DefaultRetentionSeconds  = 4 * 24 * 3600
	DefaultVisibilitySeconds = 30
)

// NamePattern is the allowed shape of a queue name, matching the HTTP path
// segment constraint in the external interface.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RedrivePolicy pairs the receive-count ceiling with its destination queue.
// Both fields are set together or not at all (invariant I1).
type RedrivePolicy struct {
	MaxReceives     int32
	DeadLetterQueue string
}

// QueueConfig is the mutable, user-supplied configuration of a queue.
type QueueConfig struct {
	Redrive                    *RedrivePolicy
	RetentionTimeout           time.Duration
	VisibilityTimeout          time.Duration
	MessageDelay               time.Duration
	ContentBasedDeduplication  bool
}

// Queue is the full persisted queue record.
type Queue struct {
	ID        int64
	Name      string
	Config    QueueConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status reports point-in-time occupancy of a queue, computed by the store.
type Status struct {
	Messages                int64
	VisibleMessages         int64
	OldestMessageAgeSeconds int64
}

// Description bundles a queue's configuration with its current status, the
// shape returned by GET /queues/{name}.
type Description struct {
	Queue  Queue
	Status Status
}

// ValidateName checks the queue name against the path-segment pattern used
// by the HTTP layer, so a name rejected by the route can also be rejected
// up front by the service.
func ValidateName(name string) error {
	if name == "" || !NamePattern.MatchString(name) {
		return BadRequest("invalid queue name %q", name)
	}
	return nil
}

// ValidateConfig enforces invariants I1 and I4. It does not check that
// DeadLetterQueue refers to an existing queue (I2) — that requires a store
// lookup and is the caller's responsibility.
func ValidateConfig(cfg QueueConfig) error {
	if cfg.Redrive != nil {
		if cfg.Redrive.DeadLetterQueue == "" {
			return BadRequest("redrive_policy.dead_letter_queue is required when max_receives is set")
		}
		if err := ValidateName(cfg.Redrive.DeadLetterQueue); err != nil {
			return BadRequest("redrive_policy.dead_letter_queue: %v", err)
		}
		if cfg.Redrive.MaxReceives < MinMaxReceives || cfg.Redrive.MaxReceives > MaxMaxReceives {
			return BadRequest("redrive_policy.max_receives must be between %d and %d", MinMaxReceives, MaxMaxReceives)
		}
	}
	if cfg.RetentionTimeout < MinRetentionSeconds*time.Second || cfg.RetentionTimeout > MaxRetentionSeconds*time.Second {
		return BadRequest("retention_timeout must be between %d and %d seconds", MinRetentionSeconds, MaxRetentionSeconds)
	}
	if cfg.VisibilityTimeout < 0 || cfg.VisibilityTimeout > MaxVisibilitySeconds*time.Second {
		return BadRequest("visibility_timeout must be between 0 and %d seconds", MaxVisibilitySeconds)
	}
	if cfg.MessageDelay < 0 || cfg.MessageDelay > MaxDelaySeconds*time.Second {
		return BadRequest("message_delay must be between 0 and %d seconds", MaxDelaySeconds)
	}
	return nil
}

// DefaultQueueConfig returns the configuration applied when a field is left
// at its zero value by a caller that only wants sane defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		RetentionTimeout:  DefaultRetentionSeconds * time.Second,
		VisibilityTimeout: DefaultVisibilitySeconds * time.Second,
		MessageDelay:      0,
	}
}
