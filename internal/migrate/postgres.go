package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"exodus/internal/db"
)

// PostgresBackend keeps the bookkeeping table in the target database and runs
// each file inside a scratch schema placed first on search_path.
//
// Everything a file's text creates without a schema prefix lands in the
// scratch schema, not only up and down. An unqualified CREATE TABLE at the top
// level of a file is therefore dropped with the schema at TearDown; permanent
// objects must be schema-qualified.
type PostgresBackend struct {
	table string
}

func (b *PostgresBackend) quoted() string {
	return db.Postgres.QuoteIdent(b.table)
}

func (b *PostgresBackend) IsMigrationTableCreated(ctx context.Context, q db.Executor) (bool, error) {
	var found bool
	err := q.Query(ctx, func(r db.Row) error {
		return r.Scan(&found)
	}, `SELECT to_regclass($1) IS NOT NULL`, b.quoted())
	return found, err
}

func (b *PostgresBackend) CreateMigrationTable(ctx context.Context, q db.Executor) error {
	return q.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	file VARCHAR PRIMARY KEY,
	ran_at TIMESTAMP DEFAULT NOW(),
	batch INT NOT NULL
)`, b.quoted()))
}

func (b *PostgresBackend) AllAppliedFiles(ctx context.Context, q db.Executor) ([]string, error) {
	return queryFiles(ctx, q, fmt.Sprintf(
		`SELECT file FROM %s ORDER BY ran_at ASC, file ASC`, b.quoted()))
}

func (b *PostgresBackend) LatestBatchFiles(ctx context.Context, q db.Executor) ([]string, error) {
	t := b.quoted()
	return queryFiles(ctx, q, fmt.Sprintf(
		`SELECT file FROM %s WHERE batch = (SELECT MAX(batch) FROM %s) ORDER BY ran_at ASC, file ASC`, t, t))
}

func (b *PostgresBackend) LatestBatchNumber(ctx context.Context, q db.Executor) (int, error) {
	return queryInt(ctx, q, fmt.Sprintf(`SELECT COALESCE(MAX(batch), 0) FROM %s`, b.quoted()))
}

func (b *PostgresBackend) Records(ctx context.Context, q db.Executor) ([]Record, error) {
	return queryRecords(ctx, q, fmt.Sprintf(
		`SELECT file, ran_at, batch FROM %s ORDER BY batch ASC, ran_at ASC, file ASC`, b.quoted()))
}

// SetUp saves search_path before creating the scratch schema so RunMigration
// can put the schema in front of it and restore it afterwards.
func (b *PostgresBackend) SetUp(ctx context.Context, tx db.Tx) (Namespace, error) {
	var path string
	err := tx.Query(ctx, func(r db.Row) error {
		return r.Scan(&path)
	}, `SELECT current_setting('search_path')`)
	if err != nil {
		return Namespace{}, err
	}
	ns := Namespace{Name: newNamespaceName(), restore: path}
	if err := tx.Exec(ctx, "CREATE SCHEMA "+db.Postgres.QuoteIdent(ns.Name)); err != nil {
		return Namespace{}, err
	}
	return ns, nil
}

func (b *PostgresBackend) RunMigration(ctx context.Context, tx db.Tx, ns Namespace, text string) error {
	return b.run(ctx, tx, ns, text, "up")
}

func (b *PostgresBackend) RunRollback(ctx context.Context, tx db.Tx, ns Namespace, text string) error {
	return b.run(ctx, tx, ns, text, "down")
}

// run executes the file text with the scratch schema first on search_path so
// its unqualified up and down land there, then calls the requested procedure
// under the original path. The previous file's up and down are dropped first
// so every file starts from an empty namespace.
func (b *PostgresBackend) run(ctx context.Context, tx db.Tx, ns Namespace, text, procedure string) error {
	schema := db.Postgres.QuoteIdent(ns.Name)
	path := schema
	if ns.restore != "" {
		path = schema + ", " + ns.restore
	}
	if err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, path); err != nil {
		return err
	}
	if err := tx.Exec(ctx, fmt.Sprintf("DROP FUNCTION IF EXISTS %s.up(), %s.down()", schema, schema)); err != nil {
		return err
	}
	if err := tx.Exec(ctx, text); err != nil {
		return err
	}
	if err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, ns.restore); err != nil {
		return err
	}
	return tx.Exec(ctx, fmt.Sprintf("SELECT %s.%s()", schema, procedure))
}

func (b *PostgresBackend) AddMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error {
	// clock_timestamp keeps ran_at increasing inside one transaction, where NOW() is fixed.
	stmt := fmt.Sprintf(`INSERT INTO %s (file, batch, ran_at) VALUES ($1, $2, clock_timestamp())`, b.quoted())
	for _, file := range files {
		if err := tx.Exec(ctx, stmt, file, batch); err != nil {
			return err
		}
	}
	return nil
}

func (b *PostgresBackend) RemoveMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE file = $1 AND batch = $2`, b.quoted())
	for _, file := range files {
		if err := tx.Exec(ctx, stmt, file, batch); err != nil {
			return err
		}
	}
	return nil
}

func (b *PostgresBackend) TearDown(ctx context.Context, tx db.Tx, ns Namespace) error {
	return tx.Exec(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", db.Postgres.QuoteIdent(ns.Name)))
}

func queryRecords(ctx context.Context, q db.Executor, stmt string) ([]Record, error) {
	var records []Record
	err := q.Query(ctx, func(r db.Row) error {
		var (
			rec   Record
			ranAt sql.NullTime
		)
		if err := r.Scan(&rec.File, &ranAt, &rec.Batch); err != nil {
			return err
		}
		if ranAt.Valid {
			rec.RanAt = ranAt.Time
		}
		records = append(records, rec)
		return nil
	}, stmt)
	if err != nil {
		return nil, err
	}
	return records, nil
}
