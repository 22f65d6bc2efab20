package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter serves adapter-level calls from a small connection pool.
// A transaction holds one pooled connection from Begin until Commit or
// Rollback.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// newPostgresAdapter builds the pool without dialing; connections are opened
// on first use.
func newPostgresAdapter(dsn string) (*PostgresAdapter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &PostgresAdapter{pool: pool}, nil
}

func (p *PostgresAdapter) Provider() Provider { return Postgres }

func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresAdapter) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) Exec(ctx context.Context, stmt string, args ...any) error {
	return pgExec(ctx, p.pool, stmt, args...)
}

func (p *PostgresAdapter) Query(ctx context.Context, scan func(Row) error, stmt string, args ...any) error {
	return pgQuery(ctx, p.pool, scan, stmt, args...)
}

func (p *PostgresAdapter) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, pgQueryError("BEGIN", err)
	}
	return &postgresTx{tx: tx}, nil
}

// pgxQuerier is the statement surface shared by *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgExec runs stmt; without arguments pgx uses the simple protocol, which lets
// a migration file carry several statements.
func pgExec(ctx context.Context, q pgxQuerier, stmt string, args ...any) error {
	if _, err := q.Exec(ctx, stmt, args...); err != nil {
		return pgQueryError(stmt, err)
	}
	return nil
}

func pgQuery(ctx context.Context, q pgxQuerier, scan func(Row) error, stmt string, args ...any) error {
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return pgQueryError(stmt, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return pgQueryError(stmt, err)
	}
	return nil
}

func pgQueryError(stmt string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryError{Statement: stmt, Code: pgErr.Code, Message: pgErr.Message, Err: err}
	}
	return &QueryError{Statement: stmt, Message: err.Error(), Err: err}
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Exec(ctx context.Context, stmt string, args ...any) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	return pgExec(ctx, t.tx, stmt, args...)
}

func (t *postgresTx) Query(ctx context.Context, scan func(Row) error, stmt string, args ...any) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	return pgQuery(ctx, t.tx, scan, stmt, args...)
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	defer t.finish()
	if err := t.tx.Commit(ctx); err != nil {
		return pgQueryError("COMMIT", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	defer t.finish()
	if err := t.tx.Rollback(ctx); err != nil {
		return pgQueryError("ROLLBACK", err)
	}
	return nil
}

// finish drops the handle; pgx returns the connection to the pool once the
// transaction ends.
func (t *postgresTx) finish() {
	t.tx = nil
}
