package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kyrosq/mqs/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func (s *PostgresStore) CreateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	var deadLetter *string
	var maxReceives *int32
	if cfg.Redrive != nil {
		deadLetter = &cfg.Redrive.DeadLetterQueue
		maxReceives = &cfg.Redrive.MaxReceives
	}

	row := s.conn.QueryRow(ctx, `
		INSERT INTO queues (name, max_receives, dead_letter_queue, retention_seconds, visibility_seconds, delay_seconds, content_based_dedup)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, name, max_receives, dead_letter_queue, retention_seconds, visibility_seconds, delay_seconds, content_based_dedup, created_at, updated_at
	`, name, maxReceives, deadLetter, int64(cfg.RetentionTimeout.Seconds()), int64(cfg.VisibilityTimeout.Seconds()), int64(cfg.MessageDelay.Seconds()), cfg.ContentBasedDeduplication)

	q, err := scanQueue(row)
	if err != nil {
		return domain.Queue{}, mapQueueWriteErr(err, name, cfg)
	}
	return q, nil
}

func (s *PostgresStore) UpdateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	var deadLetter *string
	var maxReceives *int32
	if cfg.Redrive != nil {
		deadLetter = &cfg.Redrive.DeadLetterQueue
		maxReceives = &cfg.Redrive.MaxReceives
	}

	row := s.conn.QueryRow(ctx, `
		UPDATE queues SET
			max_receives = $2,
			dead_letter_queue = $3,
			retention_seconds = $4,
			visibility_seconds = $5,
			delay_seconds = $6,
			content_based_dedup = $7
		WHERE name = $1
		RETURNING id, name, max_receives, dead_letter_queue, retention_seconds, visibility_seconds, delay_seconds, content_based_dedup, created_at, updated_at
	`, name, maxReceives, deadLetter, int64(cfg.RetentionTimeout.Seconds()), int64(cfg.VisibilityTimeout.Seconds()), int64(cfg.MessageDelay.Seconds()), cfg.ContentBasedDeduplication)

	q, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Queue{}, domain.NotFound("queue %q not found", name)
		}
		return domain.Queue{}, mapQueueWriteErr(err, name, cfg)
	}
	return q, nil
}

func (s *PostgresStore) DeleteQueue(ctx context.Context, name string) (domain.Queue, error) {
	row := s.conn.QueryRow(ctx, `
		DELETE FROM queues
		WHERE name = $1
		RETURNING id, name, max_receives, dead_letter_queue, retention_seconds, visibility_seconds, delay_seconds, content_based_dedup, created_at, updated_at
	`, name)

	q, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Queue{}, domain.NotFound("queue %q not found", name)
		}
		return domain.Queue{}, domain.Internal(err, "delete queue %q", name)
	}
	return q, nil
}

func (s *PostgresStore) GetQueue(ctx context.Context, name string) (domain.Queue, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT id, name, max_receives, dead_letter_queue, retention_seconds, visibility_seconds, delay_seconds, content_based_dedup, created_at, updated_at
		FROM queues WHERE name = $1
	`, name)

	q, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Queue{}, domain.NotFound("queue %q not found", name)
		}
		return domain.Queue{}, domain.Internal(err, "get queue %q", name)
	}
	return q, nil
}

func (s *PostgresStore) QueueStatus(ctx context.Context, name string, now time.Time, retention time.Duration) (domain.Status, error) {
	var status domain.Status
	var oldest *time.Time
	err := s.conn.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at > $2),
			COUNT(*) FILTER (WHERE created_at > $2 AND visible_since <= $3),
			MIN(created_at) FILTER (WHERE created_at > $2)
		FROM messages WHERE queue = $1
	`, name, now.Add(-retention), now).Scan(&status.Messages, &status.VisibleMessages, &oldest)
	if err != nil {
		return domain.Status{}, domain.Internal(err, "queue status %q", name)
	}
	if oldest != nil {
		status.OldestMessageAgeSeconds = int64(now.Sub(*oldest).Seconds())
	}
	return status, nil
}

func (s *PostgresStore) ListQueues(ctx context.Context, offset, limit int) ([]domain.Queue, int, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, name, max_receives, dead_letter_queue, retention_seconds, visibility_seconds, delay_seconds, content_based_dedup, created_at, updated_at,
		       COUNT(*) OVER() AS total
		FROM queues ORDER BY name ASC OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, 0, domain.Internal(err, "list queues")
	}
	defer rows.Close()

	out := make([]domain.Queue, 0, limit)
	var total int
	for rows.Next() {
		q, rowTotal, err := scanQueueWithTotal(rows)
		if err != nil {
			return nil, 0, domain.Internal(err, "scan queue")
		}
		total = rowTotal
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.Internal(err, "list queues rows")
	}

	if len(out) == 0 {
		// COUNT(*) OVER() rides along with the page's rows, so an empty page
		// (offset past the end, or zero queues) carries no total. Fall back
		// to a direct count.
		if err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM queues`).Scan(&total); err != nil {
			return nil, 0, domain.Internal(err, "count queues")
		}
	}
	return out, total, nil
}

// scanner is satisfied by both db.Row and db.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanQueue(row scanner) (domain.Queue, error) { return scanQueueInto(row) }

func scanQueueRows(rows scanner) (domain.Queue, error) { return scanQueueInto(rows) }

// scanQueueWithTotal scans a row from a query that appends a trailing
// COUNT(*) OVER() column, as ListQueues does.
func scanQueueWithTotal(row scanner) (domain.Queue, int, error) {
	var q domain.Queue
	var maxReceives *int32
	var deadLetter *string
	var retentionS, visibilityS, delayS int64
	var total int

	if err := row.Scan(&q.ID, &q.Name, &maxReceives, &deadLetter, &retentionS, &visibilityS, &delayS, &q.Config.ContentBasedDeduplication, &q.CreatedAt, &q.UpdatedAt, &total); err != nil {
		return domain.Queue{}, 0, err
	}
	applyQueueConfig(&q, maxReceives, deadLetter, retentionS, visibilityS, delayS)
	return q, total, nil
}

func scanQueueInto(row scanner) (domain.Queue, error) {
	var q domain.Queue
	var maxReceives *int32
	var deadLetter *string
	var retentionS, visibilityS, delayS int64

	if err := row.Scan(&q.ID, &q.Name, &maxReceives, &deadLetter, &retentionS, &visibilityS, &delayS, &q.Config.ContentBasedDeduplication, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return domain.Queue{}, err
	}
	applyQueueConfig(&q, maxReceives, deadLetter, retentionS, visibilityS, delayS)
	return q, nil
}

func applyQueueConfig(q *domain.Queue, maxReceives *int32, deadLetter *string, retentionS, visibilityS, delayS int64) {
	q.Config.RetentionTimeout = time.Duration(retentionS) * time.Second
	q.Config.VisibilityTimeout = time.Duration(visibilityS) * time.Second
	q.Config.MessageDelay = time.Duration(delayS) * time.Second
	if deadLetter != nil {
		q.Config.Redrive = &domain.RedrivePolicy{
			DeadLetterQueue: *deadLetter,
		}
		if maxReceives != nil {
			q.Config.Redrive.MaxReceives = *maxReceives
		}
	}
}

func mapQueueWriteErr(err error, name string, cfg domain.QueueConfig) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.AlreadyExists("queue %q already exists", name)
		case pgForeignKeyViolation:
			if cfg.Redrive != nil {
				return domain.BadRequest("redrive_policy.dead_letter_queue %q does not exist", cfg.Redrive.DeadLetterQueue)
			}
		}
	}
	return domain.Internal(err, "write queue %q", name)
}
