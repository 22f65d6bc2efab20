package migrate

import (
	"context"
	"fmt"
	"strings"

	"exodus/internal/db"
)

// MySQLBackend runs each file inside a scratch database made the session
// default with USE.
//
// MySQL commits implicitly around DDL and then falls back to autocommit, so
// the backend reopens the transaction with START TRANSACTION after each of
// its own DDL steps (CREATE DATABASE, and dropping and defining a file's
// routines). What a rollback undoes is the work since the last implicit
// commit: the current file's up or down call and the bookkeeping writes.
// Earlier files of the run are committed by the next file's routine
// definition, and DDL inside up or down commits as well.
type MySQLBackend struct {
	table string
}

func (b *MySQLBackend) quoted() string {
	return db.MySQL.QuoteIdent(b.table)
}

func (b *MySQLBackend) IsMigrationTableCreated(ctx context.Context, q db.Executor) (bool, error) {
	schema, name := "", b.table
	if i := strings.LastIndex(b.table, "."); i >= 0 {
		schema, name = b.table[:i], b.table[i+1:]
	}
	n, err := queryInt(ctx, q, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?`, schema, name)
	return n > 0, err
}

func (b *MySQLBackend) CreateMigrationTable(ctx context.Context, q db.Executor) error {
	return q.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	file VARCHAR(255) NOT NULL PRIMARY KEY,
	ran_at TIMESTAMP(6) NULL DEFAULT CURRENT_TIMESTAMP(6),
	batch INT NOT NULL
) ENGINE=InnoDB`, b.quoted()))
}

func (b *MySQLBackend) AllAppliedFiles(ctx context.Context, q db.Executor) ([]string, error) {
	return queryFiles(ctx, q, fmt.Sprintf(
		"SELECT file FROM %s ORDER BY ran_at ASC, file ASC", b.quoted()))
}

func (b *MySQLBackend) LatestBatchFiles(ctx context.Context, q db.Executor) ([]string, error) {
	t := b.quoted()
	return queryFiles(ctx, q, fmt.Sprintf(
		"SELECT file FROM %s WHERE batch = (SELECT MAX(batch) FROM %s) ORDER BY ran_at ASC, file ASC", t, t))
}

func (b *MySQLBackend) LatestBatchNumber(ctx context.Context, q db.Executor) (int, error) {
	return queryInt(ctx, q, fmt.Sprintf("SELECT COALESCE(MAX(batch), 0) FROM %s", b.quoted()))
}

func (b *MySQLBackend) Records(ctx context.Context, q db.Executor) ([]Record, error) {
	return queryRecords(ctx, q, fmt.Sprintf(
		"SELECT file, ran_at, batch FROM %s ORDER BY batch ASC, ran_at ASC, file ASC", b.quoted()))
}

func (b *MySQLBackend) SetUp(ctx context.Context, tx db.Tx) (Namespace, error) {
	var current string
	err := tx.Query(ctx, func(r db.Row) error {
		return r.Scan(&current)
	}, "SELECT COALESCE(DATABASE(), '')")
	if err != nil {
		return Namespace{}, err
	}
	ns := Namespace{Name: newNamespaceName(), restore: current}
	if err := tx.Exec(ctx, "CREATE DATABASE "+db.MySQL.QuoteIdent(ns.Name)); err != nil {
		return Namespace{}, err
	}
	if err := tx.Exec(ctx, "START TRANSACTION"); err != nil {
		return Namespace{}, err
	}
	return ns, nil
}

func (b *MySQLBackend) RunMigration(ctx context.Context, tx db.Tx, ns Namespace, text string) error {
	return b.run(ctx, tx, ns, text, "up")
}

func (b *MySQLBackend) RunRollback(ctx context.Context, tx db.Tx, ns Namespace, text string) error {
	return b.run(ctx, tx, ns, text, "down")
}

// run drops the previous file's routines, defines the new ones from the file
// text and calls the requested procedure inside a fresh transaction.
func (b *MySQLBackend) run(ctx context.Context, tx db.Tx, ns Namespace, text, procedure string) error {
	scratch := db.MySQL.QuoteIdent(ns.Name)
	stmts := []string{
		"USE " + scratch,
		"DROP PROCEDURE IF EXISTS " + scratch + ".up",
		"DROP PROCEDURE IF EXISTS " + scratch + ".down",
		text,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if err := b.restore(ctx, tx, ns); err != nil {
		return err
	}
	if err := tx.Exec(ctx, "START TRANSACTION"); err != nil {
		return err
	}
	return tx.Exec(ctx, fmt.Sprintf("CALL %s.%s()", scratch, procedure))
}

func (b *MySQLBackend) restore(ctx context.Context, tx db.Tx, ns Namespace) error {
	if ns.restore == "" {
		return nil
	}
	return tx.Exec(ctx, "USE "+db.MySQL.QuoteIdent(ns.restore))
}

func (b *MySQLBackend) AddMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error {
	// SYSDATE reads the clock per statement, NOW() is fixed per statement start.
	stmt := fmt.Sprintf("INSERT INTO %s (file, batch, ran_at) VALUES (?, ?, SYSDATE(6))", b.quoted())
	for _, file := range files {
		if err := tx.Exec(ctx, stmt, file, batch); err != nil {
			return err
		}
	}
	return nil
}

func (b *MySQLBackend) RemoveMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE file = ? AND batch = ?", b.quoted())
	for _, file := range files {
		if err := tx.Exec(ctx, stmt, file, batch); err != nil {
			return err
		}
	}
	return nil
}

func (b *MySQLBackend) TearDown(ctx context.Context, tx db.Tx, ns Namespace) error {
	if err := tx.Exec(ctx, "DROP DATABASE "+db.MySQL.QuoteIdent(ns.Name)); err != nil {
		return err
	}
	return b.restore(ctx, tx, ns)
}
