package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"exodus/internal/db"
)

// Record is one row of the bookkeeping table.
type Record struct {
	File  string    `json:"file"`
	RanAt time.Time `json:"ran_at"`
	Batch int       `json:"batch"`
}

// Namespace is the scratch schema (postgres) or database (mysql) that holds a
// run's up and down procedures. It only lives inside one transaction.
type Namespace struct {
	Name string
	// restore is the resolution path in effect before SetUp.
	restore string
}

// Backend is the dialect side of the engine: bookkeeping table access and the
// per-file execution protocol. Reads accept any executor; writes take the
// engine's transaction.
type Backend interface {
	IsMigrationTableCreated(ctx context.Context, q db.Executor) (bool, error)
	CreateMigrationTable(ctx context.Context, q db.Executor) error
	AllAppliedFiles(ctx context.Context, q db.Executor) ([]string, error)
	LatestBatchFiles(ctx context.Context, q db.Executor) ([]string, error)
	LatestBatchNumber(ctx context.Context, q db.Executor) (int, error)
	Records(ctx context.Context, q db.Executor) ([]Record, error)

	SetUp(ctx context.Context, tx db.Tx) (Namespace, error)
	RunMigration(ctx context.Context, tx db.Tx, ns Namespace, text string) error
	RunRollback(ctx context.Context, tx db.Tx, ns Namespace, text string) error
	AddMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error
	RemoveMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error
	TearDown(ctx context.Context, tx db.Tx, ns Namespace) error
}

// NewBackend picks the backend matching the adapter's dialect.
func NewBackend(adapter db.Adapter, table string) (Backend, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("migration table name is empty")
	}
	switch adapter.Provider() {
	case db.Postgres:
		return &PostgresBackend{table: table}, nil
	case db.MySQL:
		return &MySQLBackend{table: table}, nil
	default:
		return nil, fmt.Errorf("%w: %s", db.ErrInvalidAdapter, adapter.Provider())
	}
}

func newNamespaceName() string {
	return "exodus_tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// queryFiles collects the first column of every row.
func queryFiles(ctx context.Context, q db.Executor, stmt string) ([]string, error) {
	var files []string
	err := q.Query(ctx, func(r db.Row) error {
		var file string
		if err := r.Scan(&file); err != nil {
			return err
		}
		files = append(files, file)
		return nil
	}, stmt)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func queryInt(ctx context.Context, q db.Executor, stmt string, args ...any) (int, error) {
	var n int
	err := q.Query(ctx, func(r db.Row) error {
		return r.Scan(&n)
	}, stmt, args...)
	return n, err
}
