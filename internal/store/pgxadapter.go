package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyrosq/mqs/internal/db"
)

// pgxPool adapts a *pgxpool.Pool to db.Database so the repository layer is
// written once against db.Executor/db.Tx and does not hard-code pgx types.
type pgxPool struct {
	pool *pgxpool.Pool
}

func newPgxPool(pool *pgxpool.Pool) db.Database {
	return &pgxPool{pool: pool}
}

func (p *pgxPool) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult(tag), nil
}

func (p *pgxPool) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *pgxPool) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows}, nil
}

func (p *pgxPool) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Tx, error) {
	txOpts := pgx.TxOptions{}
	if opts != nil {
		if opts.ReadOnly {
			txOpts.AccessMode = pgx.ReadOnly
		}
		switch opts.IsolationLevel {
		case "serializable":
			txOpts.IsoLevel = pgx.Serializable
		case "repeatable read":
			txOpts.IsoLevel = pgx.RepeatableRead
		}
	}
	tx, err := p.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

func (p *pgxPool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *pgxPool) Close() error { p.pool.Close(); return nil }

func (p *pgxPool) DriverName() string { return "postgres" }

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult(tag), nil
}

func (t *pgxTx) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type pgxResult pgconn.CommandTag

func (r pgxResult) RowsAffected() int64 { return pgconn.CommandTag(r).RowsAffected() }

type pgxRows struct {
	pgx.Rows
}

func (r pgxRows) Err() error { return r.Rows.Err() }
