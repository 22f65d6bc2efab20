package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// ErrDirectoryNotFound is returned when a listed directory does not exist.
var ErrDirectoryNotFound = errors.New("directory not found")

var migrationNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Dir is the filesystem collaborator used by the engine and the CLI.
type Dir struct{}

func (Dir) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsRegularFile follows symlinks.
func (Dir) IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ListEntries returns every entry name in dir, sorted lexically.
func (Dir) ListEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (Dir) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read migration: %w", err)
	}
	return string(data), nil
}

// Copy writes the contents of src to dst, creating or truncating dst.
func (Dir) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// MigrationFileName builds "<unix seconds>_<name>.sql".
func MigrationFileName(name string, now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10) + "_" + name + ".sql"
}

// CreateMigration writes a new migration file into dir from template and
// returns its path. The directory is created when missing.
func CreateMigration(dir, name string, now time.Time, template string) (string, error) {
	if !migrationNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid migration name %q: use letters, digits, '_' or '-'", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migration directory: %w", err)
	}
	path := filepath.Join(dir, MigrationFileName(name, now))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("migration %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}
