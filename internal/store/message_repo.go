package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kyrosq/mqs/internal/domain"
	"github.com/kyrosq/mqs/internal/hashutil"
)

// maxRedriveAttemptsPerReceive bounds how many messages ReceiveMessage will
// redrive to a dead-letter queue within a single call before giving up and
// returning nil, so a queue with a fast-filling DLQ cannot turn one Receive
// call into an unbounded loop.
const maxRedriveAttemptsPerReceive = 8

func (s *PostgresStore) PublishMessage(ctx context.Context, queue string, msg domain.Message, dedup bool) (domain.PublishResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var hash *string
	if dedup && msg.Hash != "" {
		hash = &msg.Hash
	}

	tag, err := s.conn.Exec(ctx, `
		INSERT INTO messages (id, queue, payload, content_type, content_encoding, hash, receives, visible_since, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		ON CONFLICT (queue, hash) WHERE hash IS NOT NULL DO NOTHING
	`, msg.ID, queue, msg.Payload, msg.ContentType, msg.ContentEncoding, hash, msg.VisibleSince, msg.CreatedAt)
	if err != nil {
		return domain.PublishResult{}, domain.Internal(err, "publish message to %q", queue)
	}

	if tag.RowsAffected() == 1 {
		return domain.PublishResult{Message: msg, Deduplicated: false}, nil
	}

	// Dedup conflict: the row we tried to insert lost to an existing one
	// with the same (queue, hash). Return the existing message (I5).
	existing, err := s.getMessageByHash(ctx, queue, *hash)
	if err != nil {
		return domain.PublishResult{}, domain.Internal(err, "load deduplicated message for %q", queue)
	}
	return domain.PublishResult{Message: existing, Deduplicated: true}, nil
}

func (s *PostgresStore) getMessageByHash(ctx context.Context, queue, hash string) (domain.Message, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT id, queue, payload, content_type, content_encoding, COALESCE(hash, ''), receives, visible_since, created_at
		FROM messages WHERE queue = $1 AND hash = $2
	`, queue, hash)
	return scanMessage(row)
}

func (s *PostgresStore) ReceiveMessage(ctx context.Context, queue string, visibility time.Duration, redrive *domain.RedrivePolicy, dlqDedup bool) (*domain.Message, error) {
	for attempt := 0; attempt < maxRedriveAttemptsPerReceive; attempt++ {
		msg, redriven, err := s.receiveOnce(ctx, queue, visibility, redrive, dlqDedup)
		if err != nil {
			return nil, err
		}
		if redriven {
			continue
		}
		return msg, nil
	}
	return nil, nil
}

// receiveOnce claims at most one message in a single transaction. redriven
// reports that the claimed message was moved to its dead-letter queue
// instead of being returned, so the caller should try again.
func (s *PostgresStore) receiveOnce(ctx context.Context, queue string, visibility time.Duration, redrive *domain.RedrivePolicy, dlqDedup bool) (*domain.Message, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, domain.Internal(err, "begin receive tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `
		SELECT messages.id, messages.queue, messages.payload, messages.content_type, messages.content_encoding,
		       COALESCE(messages.hash, ''), messages.receives, messages.visible_since, messages.created_at
		FROM messages
		JOIN queues ON queues.name = messages.queue
		WHERE messages.queue = $1
		  AND messages.visible_since <= $2
		  AND messages.created_at > $2 - (queues.retention_seconds * INTERVAL '1 second')
		ORDER BY messages.visible_since ASC, messages.id ASC
		FOR UPDATE OF messages SKIP LOCKED
		LIMIT 1
	`, queue, now)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, domain.Internal(err, "claim message on %q", queue)
	}

	if redrive != nil && msg.Receives+1 > redrive.MaxReceives {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, msg.ID); err != nil {
			return nil, false, domain.Internal(err, "redrive delete on %q", queue)
		}
		var hash *string
		if dlqDedup {
			h := hashutil.Fingerprint(msg.ContentType, msg.ContentEncoding, msg.Payload)
			hash = &h
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, queue, payload, content_type, content_encoding, hash, receives, visible_since, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
			ON CONFLICT (queue, hash) WHERE hash IS NOT NULL DO NOTHING
		`, uuid.NewString(), redrive.DeadLetterQueue, msg.Payload, msg.ContentType, msg.ContentEncoding, hash, time.Now().UTC()); err != nil {
			return nil, false, domain.Internal(err, "redrive insert into %q", redrive.DeadLetterQueue)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, domain.Internal(err, "commit redrive")
		}
		return nil, true, nil
	}

	visibleSince := time.Now().UTC().Add(visibility)
	if _, err := tx.Exec(ctx, `
		UPDATE messages SET receives = receives + 1, visible_since = $2 WHERE id = $1
	`, msg.ID, visibleSince); err != nil {
		return nil, false, domain.Internal(err, "claim update on %q", queue)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, domain.Internal(err, "commit claim")
	}

	msg.Receives++
	msg.VisibleSince = visibleSince
	return &msg, false, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	tag, err := s.conn.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, domain.Internal(err, "delete message %q", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM messages
		USING queues
		WHERE messages.queue = queues.name
		  AND messages.created_at <= $1 - (queues.retention_seconds * INTERVAL '1 second')
	`, now)
	if err != nil {
		return 0, domain.Internal(err, "sweep expired messages")
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row scanner) (domain.Message, error) {
	var m domain.Message
	if err := row.Scan(&m.ID, &m.Queue, &m.Payload, &m.ContentType, &m.ContentEncoding, &m.Hash, &m.Receives, &m.VisibleSince, &m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}
