package db

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifies a supported database dialect.
type Provider int

const (
	ProviderUnknown Provider = iota
	Postgres
	MySQL
)

// ParseProvider maps a configured adapter name onto a Provider.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgresql", "postgres", "pgsql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return ProviderUnknown, fmt.Errorf("%w: %q", ErrInvalidAdapter, name)
	}
}

func (p Provider) String() string {
	switch p {
	case Postgres:
		return "postgresql"
	case MySQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// QuoteIdent quotes a possibly schema-qualified identifier for the dialect.
func (p Provider) QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if p == MySQL {
			parts[i] = "`" + strings.ReplaceAll(part, "`", "``") + "`"
		} else {
			parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Row is the read side of a result row; pgx.Rows and *sql.Rows both satisfy it.
type Row interface {
	Scan(dest ...any) error
}

// Executor runs statements. Query calls scan once per returned row.
type Executor interface {
	Exec(ctx context.Context, stmt string, args ...any) error
	Query(ctx context.Context, scan func(Row) error, stmt string, args ...any) error
}

// Tx is an open transaction holding exclusive use of one connection.
// Once Commit or Rollback returns, every further call fails with ErrNoConnection.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
