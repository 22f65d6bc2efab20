package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnection is returned when a statement is issued on a transaction
	// that is no longer open.
	ErrNoConnection = errors.New("no database connection is active")

	// ErrQueryFailed matches every statement the database rejected.
	ErrQueryFailed = errors.New("query failed")

	// ErrInvalidAdapter is returned for an unsupported dialect.
	ErrInvalidAdapter = errors.New("invalid database adapter")
)

// QueryError carries the backend's native error for a rejected statement.
type QueryError struct {
	Statement string
	Code      string // SQLSTATE for postgres, error number for mysql
	Message   string
	Err       error
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("query failed (%s): %s", e.Code, e.Message)
	}
	return "query failed: " + e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Is(target error) bool {
	return target == ErrQueryFailed
}
