package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"exodus/internal/config"
)

// Adapter owns the connection pool for one target database. Exec and Query on
// the adapter itself borrow a pooled connection per call; Begin hands out a
// transaction that keeps its connection until Commit or Rollback.
type Adapter interface {
	Executor
	Provider() Provider
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds an adapter for the given configuration.
func Open(cfg config.DBConfig) (Adapter, error) {
	provider, err := ParseProvider(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	switch provider {
	case Postgres:
		adapter, err := newPostgresAdapter(postgresDSN(cfg))
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case MySQL:
		dsn, err := mysqlDSN(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		adapter, err := newMySQLAdapter(dsn)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAdapter, cfg.Adapter)
	}
}

func postgresDSN(cfg config.DBConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// mysqlDSN always enables multiStatements so a migration file can be sent as
// one text, and parseTime so ran_at scans into time values.
func mysqlDSN(cfg config.DBConfig) (string, error) {
	var mc *mysql.Config
	if strings.TrimSpace(cfg.DSN) != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", err
		}
		mc = parsed
	} else {
		mc = mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
	}
	mc.MultiStatements = true
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}
