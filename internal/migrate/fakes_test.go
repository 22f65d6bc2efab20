package migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"exodus/internal/db"
	"exodus/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter hands out fakeTx values and records them.
type fakeAdapter struct {
	txs      []*fakeTx
	beginErr error
}

func (a *fakeAdapter) Provider() db.Provider { return db.Postgres }

func (a *fakeAdapter) Exec(ctx context.Context, stmt string, args ...any) error { return nil }

func (a *fakeAdapter) Query(ctx context.Context, scan func(db.Row) error, stmt string, args ...any) error {
	return nil
}

func (a *fakeAdapter) Begin(ctx context.Context) (db.Tx, error) {
	if a.beginErr != nil {
		return nil, a.beginErr
	}
	tx := &fakeTx{}
	a.txs = append(a.txs, tx)
	return tx, nil
}

func (a *fakeAdapter) Ping(ctx context.Context) error { return nil }

func (a *fakeAdapter) Close() error { return nil }

func (a *fakeAdapter) lastTx() *fakeTx {
	if len(a.txs) == 0 {
		return nil
	}
	return a.txs[len(a.txs)-1]
}

// fakeTx applies staged writes only on Commit.
type fakeTx struct {
	staged     []func()
	committed  bool
	rolledBack bool
}

func (t *fakeTx) done() bool { return t.committed || t.rolledBack }

func (t *fakeTx) Exec(ctx context.Context, stmt string, args ...any) error {
	if t.done() {
		return db.ErrNoConnection
	}
	return nil
}

func (t *fakeTx) Query(ctx context.Context, scan func(db.Row) error, stmt string, args ...any) error {
	if t.done() {
		return db.ErrNoConnection
	}
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.done() {
		return db.ErrNoConnection
	}
	for _, apply := range t.staged {
		apply()
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done() {
		return db.ErrNoConnection
	}
	t.staged = nil
	t.rolledBack = true
	return nil
}

// fakeBackend keeps the bookkeeping table in memory. Text containing
// "FAIL" makes RunMigration and RunRollback reject it.
type fakeBackend struct {
	tableCreated bool
	records      []Record

	executed   []string
	procedures []string
	namespaces []Namespace
	tornDown   []Namespace
}

func (b *fakeBackend) IsMigrationTableCreated(ctx context.Context, q db.Executor) (bool, error) {
	return b.tableCreated, nil
}

func (b *fakeBackend) CreateMigrationTable(ctx context.Context, q db.Executor) error {
	b.tableCreated = true
	return nil
}

func (b *fakeBackend) AllAppliedFiles(ctx context.Context, q db.Executor) ([]string, error) {
	var files []string
	for _, r := range b.records {
		files = append(files, r.File)
	}
	return files, nil
}

func (b *fakeBackend) LatestBatchFiles(ctx context.Context, q db.Executor) ([]string, error) {
	latest, _ := b.LatestBatchNumber(ctx, q)
	var files []string
	for _, r := range b.records {
		if r.Batch == latest {
			files = append(files, r.File)
		}
	}
	return files, nil
}

func (b *fakeBackend) LatestBatchNumber(ctx context.Context, q db.Executor) (int, error) {
	latest := 0
	for _, r := range b.records {
		if r.Batch > latest {
			latest = r.Batch
		}
	}
	return latest, nil
}

func (b *fakeBackend) Records(ctx context.Context, q db.Executor) ([]Record, error) {
	return append([]Record(nil), b.records...), nil
}

func (b *fakeBackend) SetUp(ctx context.Context, tx db.Tx) (Namespace, error) {
	ns := Namespace{Name: newNamespaceName(), restore: "public"}
	b.namespaces = append(b.namespaces, ns)
	return ns, nil
}

func (b *fakeBackend) RunMigration(ctx context.Context, tx db.Tx, ns Namespace, text string) error {
	return b.run(text, "up")
}

func (b *fakeBackend) RunRollback(ctx context.Context, tx db.Tx, ns Namespace, text string) error {
	return b.run(text, "down")
}

func (b *fakeBackend) run(text, procedure string) error {
	if strings.Contains(text, "FAIL") {
		return &db.QueryError{Statement: text, Code: "42601", Message: "syntax error"}
	}
	b.executed = append(b.executed, text)
	b.procedures = append(b.procedures, procedure)
	return nil
}

func (b *fakeBackend) AddMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error {
	ftx := tx.(*fakeTx)
	for _, f := range files {
		f := f
		ftx.staged = append(ftx.staged, func() {
			b.records = append(b.records, Record{File: f, Batch: batch})
		})
	}
	return nil
}

func (b *fakeBackend) RemoveMigrations(ctx context.Context, tx db.Tx, files []string, batch int) error {
	ftx := tx.(*fakeTx)
	ftx.staged = append(ftx.staged, func() {
		drop := make(map[string]bool, len(files))
		for _, f := range files {
			drop[f] = true
		}
		kept := b.records[:0]
		for _, r := range b.records {
			if !(drop[r.File] && r.Batch == batch) {
				kept = append(kept, r)
			}
		}
		b.records = kept
	})
	return nil
}

func (b *fakeBackend) TearDown(ctx context.Context, tx db.Tx, ns Namespace) error {
	b.tornDown = append(b.tornDown, ns)
	return nil
}

// fakeFiles is an in-memory migration directory.
type fakeFiles struct {
	dir     string
	missing bool
	files   map[string]string
	subdirs []string
}

func newFakeFiles(dir string, files map[string]string) *fakeFiles {
	return &fakeFiles{dir: dir, files: files}
}

func (f *fakeFiles) PathExists(path string) bool {
	return !f.missing && path == f.dir
}

func (f *fakeFiles) ListEntries(dir string) ([]string, error) {
	if f.missing || dir != f.dir {
		return nil, fmt.Errorf("%w: %s", storage.ErrDirectoryNotFound, dir)
	}
	names := []string{".", ".."}
	for name := range f.files {
		names = append(names, name)
	}
	names = append(names, f.subdirs...)
	sort.Strings(names)
	return names, nil
}

func (f *fakeFiles) IsRegularFile(path string) bool {
	_, ok := f.files[filepath.Base(path)]
	return ok && filepath.Dir(path) == f.dir
}

func (f *fakeFiles) ReadFile(path string) (string, error) {
	text, ok := f.files[filepath.Base(path)]
	if !ok {
		return "", fmt.Errorf("read migration: %s: no such file", path)
	}
	return text, nil
}
