package migrate

import (
	"context"
	"errors"
	"path/filepath"

	"exodus/internal/db"
	"exodus/internal/storage"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Files is the filesystem surface the engine reads migrations through.
type Files interface {
	PathExists(path string) bool
	ListEntries(dir string) ([]string, error)
	IsRegularFile(path string) bool
	ReadFile(path string) (string, error)
}

// Engine reconciles the migration directory with the bookkeeping table.
type Engine struct {
	adapter db.Adapter
	backend Backend
	files   Files
	dir     string
	logger  Logger
}

// Status is the applied history plus what a migrate would run next.
type Status struct {
	Applied []Record `json:"applied"`
	Pending []string `json:"pending"`
}

func NewEngine(adapter db.Adapter, backend Backend, files Files, dir string, logger Logger) *Engine {
	return &Engine{
		adapter: adapter,
		backend: backend,
		files:   files,
		dir:     dir,
		logger:  logger,
	}
}

// CreateMigrationTable creates the bookkeeping table unless it exists and
// reports whether it did.
func (e *Engine) CreateMigrationTable(ctx context.Context) (bool, error) {
	exists, err := e.backend.IsMigrationTableCreated(ctx, e.adapter)
	if err != nil || exists {
		return false, err
	}
	if err := e.backend.CreateMigrationTable(ctx, e.adapter); err != nil {
		return false, err
	}
	e.logger.Info("migration table created")
	return true, nil
}

// MigrationsToRun lists files on disk that have no record, in lexical order.
func (e *Engine) MigrationsToRun(ctx context.Context) ([]string, error) {
	onDisk, err := e.migrationFiles()
	if err != nil {
		return nil, err
	}
	if len(onDisk) == 0 {
		return nil, nil
	}
	applied, err := e.appliedFiles(ctx)
	if err != nil {
		return nil, err
	}
	return pendingFiles(onDisk, applied), nil
}

// MigrationsToRollback returns up to count files of the latest batch, newest
// first. A count of zero or less selects the whole batch.
func (e *Engine) MigrationsToRollback(ctx context.Context, count int) ([]string, error) {
	created, err := e.backend.IsMigrationTableCreated(ctx, e.adapter)
	if err != nil || !created {
		return nil, err
	}
	latest, err := e.backend.LatestBatchFiles(ctx, e.adapter)
	if err != nil {
		return nil, err
	}
	return rollbackFiles(latest, count), nil
}

// RunMigrations applies files in order as one new batch inside a single
// transaction. On failure nothing is recorded and the error is returned as is.
func (e *Engine) RunMigrations(ctx context.Context, files []string) error {
	return e.inTransaction(ctx, func(tx db.Tx, ns Namespace) error {
		latest, err := e.backend.LatestBatchNumber(ctx, tx)
		if err != nil {
			return err
		}
		batch := latest + 1
		for _, file := range files {
			text, err := e.files.ReadFile(e.path(file))
			if err != nil {
				return err
			}
			if err := e.backend.RunMigration(ctx, tx, ns, text); err != nil {
				e.logger.Error("migration failed", "file", file, "error", err)
				return err
			}
			e.logger.Debug("migration executed", "file", file, "batch", batch)
		}
		if err := e.backend.AddMigrations(ctx, tx, files, batch); err != nil {
			return err
		}
		for _, file := range files {
			e.logger.Info("migration applied", "file", file, "batch", batch)
		}
		return nil
	})
}

// RollbackMigrations runs down for files in the given order and removes their
// records from the latest batch, all in one transaction.
func (e *Engine) RollbackMigrations(ctx context.Context, files []string) error {
	return e.inTransaction(ctx, func(tx db.Tx, ns Namespace) error {
		batch, err := e.backend.LatestBatchNumber(ctx, tx)
		if err != nil {
			return err
		}
		for _, file := range files {
			text, err := e.files.ReadFile(e.path(file))
			if err != nil {
				return err
			}
			if err := e.backend.RunRollback(ctx, tx, ns, text); err != nil {
				e.logger.Error("rollback failed", "file", file, "error", err)
				return err
			}
		}
		if err := e.backend.RemoveMigrations(ctx, tx, files, batch); err != nil {
			return err
		}
		for _, file := range files {
			e.logger.Info("migration rolled back", "file", file, "batch", batch)
		}
		return nil
	})
}

// Migrate creates the bookkeeping table when needed and applies everything
// pending. It returns the files applied.
func (e *Engine) Migrate(ctx context.Context) ([]string, error) {
	if _, err := e.CreateMigrationTable(ctx); err != nil {
		return nil, err
	}
	files, err := e.MigrationsToRun(ctx)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	if err := e.RunMigrations(ctx, files); err != nil {
		return nil, err
	}
	return files, nil
}

// Rollback reverses up to count files of the latest batch and returns them
// newest first.
func (e *Engine) Rollback(ctx context.Context, count int) ([]string, error) {
	files, err := e.MigrationsToRollback(ctx, count)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	if err := e.RollbackMigrations(ctx, files); err != nil {
		return nil, err
	}
	return files, nil
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	created, err := e.backend.IsMigrationTableCreated(ctx, e.adapter)
	if err != nil {
		return st, err
	}
	if created {
		if st.Applied, err = e.backend.Records(ctx, e.adapter); err != nil {
			return st, err
		}
	}
	if st.Pending, err = e.MigrationsToRun(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// inTransaction wraps fn between SetUp and TearDown on a fresh transaction.
// Any failure rolls the transaction back and returns the failure unchanged.
func (e *Engine) inTransaction(ctx context.Context, fn func(tx db.Tx, ns Namespace) error) error {
	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return err
	}
	ns, err := e.backend.SetUp(ctx, tx)
	if err != nil {
		return e.abort(ctx, tx, err)
	}
	if err := fn(tx, ns); err != nil {
		return e.abort(ctx, tx, err)
	}
	if err := e.backend.TearDown(ctx, tx, ns); err != nil {
		return e.abort(ctx, tx, err)
	}
	return tx.Commit(ctx)
}

func (e *Engine) abort(ctx context.Context, tx db.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil {
		e.logger.Error("transaction rollback failed", "error", err)
	}
	e.logger.Error("run aborted", "error", cause)
	return cause
}

func (e *Engine) appliedFiles(ctx context.Context) ([]string, error) {
	created, err := e.backend.IsMigrationTableCreated(ctx, e.adapter)
	if err != nil || !created {
		return nil, err
	}
	return e.backend.AllAppliedFiles(ctx, e.adapter)
}

// migrationFiles lists regular files in the migration directory. A missing
// directory has no migrations.
func (e *Engine) migrationFiles() ([]string, error) {
	if !e.files.PathExists(e.dir) {
		return nil, nil
	}
	entries, err := e.files.ListEntries(e.dir)
	if err != nil {
		if errors.Is(err, storage.ErrDirectoryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, name := range entries {
		if name == "." || name == ".." {
			continue
		}
		if e.files.IsRegularFile(e.path(name)) {
			files = append(files, name)
		}
	}
	return files, nil
}

func (e *Engine) path(file string) string {
	return filepath.Join(e.dir, file)
}
