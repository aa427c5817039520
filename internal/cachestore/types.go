package cachestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("cachestore: row not found")
	ErrReservedColumn = errors.New("cachestore: column name id is reserved")
	ErrColumnMismatch = errors.New("cachestore: value count does not match columns")
	ErrInvalidColumn  = errors.New("cachestore: invalid column")
	ErrEmptyID        = errors.New("cachestore: empty id")
	ErrClosed         = errors.New("cachestore: closed")
)

// Store is the row cache API.
type Store interface {
	// Get returns the row for id or ErrNotFound.
	Get(ctx context.Context, id string) (Row, error)
	// Set inserts or replaces the row.
	Set(ctx context.Context, row Row) error
	Close() error
}

// Row is an id plus its column values, in column order.
type Row struct {
	ID     string `json:"id"`
	Values []any  `json:"values"`
}

// Column declares one value slot. Type is passed to SQLite as-is and
// ignored by schema-less drivers.
type Column struct {
	Name string
	Type string
}

// Config configures a store.
type Config struct {
	Driver      string
	Path        string   // file, sqlite, badger
	Columns     []Column // required arity when non-empty; always for sqlite
	Addr        string   // redis
	Password    string   // redis
	DB          int      // redis
	Prefix      string   // redis key prefix
	BusyTimeout time.Duration
}

var (
	reIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reType  = regexp.MustCompile(`^[A-Za-z][A-Za-z ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?$`)
)

// ValidateColumns rejects the reserved id column, bad identifiers and duplicates.
func ValidateColumns(cols []Column) error {
	seen := make(map[string]struct{}, len(cols))
	for i, c := range cols {
		name := strings.TrimSpace(c.Name)
		if strings.EqualFold(name, "id") {
			return ErrReservedColumn
		}
		if !reIdent.MatchString(name) {
			return fmt.Errorf("%w: column %d name %q", ErrInvalidColumn, i, c.Name)
		}
		if t := strings.TrimSpace(c.Type); t != "" && !reType.MatchString(t) {
			return fmt.Errorf("%w: column %s type %q", ErrInvalidColumn, name, c.Type)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidColumn, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// checkRow validates a row against the declared columns. strict forces the
// arity check even with no columns declared.
func checkRow(cols []Column, row Row, strict bool) error {
	if strings.TrimSpace(row.ID) == "" {
		return ErrEmptyID
	}
	if (strict || len(cols) > 0) && len(row.Values) != len(cols) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrColumnMismatch, len(row.Values), len(cols))
	}
	return nil
}

func cloneValues(v []any) []any {
	if v == nil {
		return []any{}
	}
	out := make([]any, len(v))
	copy(out, v)
	return out
}
