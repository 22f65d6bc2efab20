package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLAdapter runs one-off statements through a small pool and gives each
// transaction a connection of its own.
type MySQLAdapter struct {
	db *sql.DB
}

func newMySQLAdapter(dsn string) (*MySQLAdapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxOpenConns(5)
	return &MySQLAdapter{db: db}, nil
}

func (m *MySQLAdapter) Provider() Provider { return MySQL }

func (m *MySQLAdapter) Close() error { return m.db.Close() }

func (m *MySQLAdapter) Ping(ctx context.Context) error { return m.db.PingContext(ctx) }

func (m *MySQLAdapter) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := m.db.ExecContext(ctx, stmt, args...); err != nil {
		return mysqlQueryError(stmt, err)
	}
	return nil
}

func (m *MySQLAdapter) Query(ctx context.Context, scan func(Row) error, stmt string, args ...any) error {
	return sqlQuery(ctx, m.db, scan, stmt, args...)
}

func (m *MySQLAdapter) Begin(ctx context.Context) (Tx, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, mysqlQueryError("BEGIN", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, mysqlQueryError("BEGIN", err)
	}
	return &mysqlTx{conn: conn, tx: tx}, nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlQuery(ctx context.Context, q sqlQuerier, scan func(Row) error, stmt string, args ...any) error {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return mysqlQueryError(stmt, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return mysqlQueryError(stmt, err)
	}
	return nil
}

func mysqlQueryError(stmt string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &QueryError{
			Statement: stmt,
			Code:      strconv.Itoa(int(myErr.Number)),
			Message:   myErr.Message,
			Err:       err,
		}
	}
	return &QueryError{Statement: stmt, Message: err.Error(), Err: err}
}

type mysqlTx struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (t *mysqlTx) Exec(ctx context.Context, stmt string, args ...any) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return mysqlQueryError(stmt, err)
	}
	return nil
}

func (t *mysqlTx) Query(ctx context.Context, scan func(Row) error, stmt string, args ...any) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	return sqlQuery(ctx, t.tx, scan, stmt, args...)
}

func (t *mysqlTx) Commit(ctx context.Context) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	defer t.finish()
	if err := t.tx.Commit(); err != nil {
		return mysqlQueryError("COMMIT", err)
	}
	return nil
}

func (t *mysqlTx) Rollback(ctx context.Context) error {
	if t.tx == nil {
		return ErrNoConnection
	}
	defer t.finish()
	if err := t.tx.Rollback(); err != nil {
		return mysqlQueryError("ROLLBACK", err)
	}
	return nil
}

// finish discards the session instead of returning it to the pool: USE inside
// the transaction changes the connection's default database.
func (t *mysqlTx) finish() {
	_ = t.conn.Raw(func(any) error { return driver.ErrBadConn })
	t.conn.Close()
	t.conn = nil
	t.tx = nil
}
