package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "cacheful/pkg/logx"

	_ "modernc.org/sqlite"
)

// sqliteStore maps each declared column to a nullable table column.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	cols []Column

	getSQL string
	setSQL string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("cache.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log, cols: cfg.Columns}
	s.buildSQL()
	if _, err := db.Exec(createTableSQL(cfg.Columns)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	log.Debug("sqlite cache opened", logx.String("path", path), logx.Int("columns", len(cfg.Columns)))
	return s, nil
}

func quoteIdent(name string) string { return `"` + strings.TrimSpace(name) + `"` }

func createTableSQL(cols []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS cache(id TEXT PRIMARY KEY")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c.Name))
		if t := strings.TrimSpace(c.Type); t != "" {
			b.WriteString(" ")
			b.WriteString(t)
		}
		b.WriteString(" NULL")
	}
	b.WriteString(")")
	return b.String()
}

func (s *sqliteStore) buildSQL() {
	names := make([]string, len(s.cols))
	marks := make([]string, len(s.cols))
	updates := make([]string, len(s.cols))
	for i, c := range s.cols {
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
		updates[i] = names[i] + "=excluded." + names[i]
	}

	sel := "id"
	if len(names) > 0 {
		sel += ", " + strings.Join(names, ", ")
	}
	s.getSQL = "SELECT " + sel + " FROM cache WHERE id = ?"

	ins := "INSERT INTO cache(" + sel + ") VALUES(?"
	if len(marks) > 0 {
		ins += ", " + strings.Join(marks, ", ")
	}
	ins += ")"
	if len(updates) > 0 {
		ins += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(updates, ", ")
	} else {
		ins += " ON CONFLICT(id) DO NOTHING"
	}
	s.setSQL = ins
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Row, error) {
	if s == nil || s.db == nil {
		return Row{}, ErrClosed
	}
	dest := make([]any, len(s.cols)+1)
	var gotID string
	dest[0] = &gotID
	vals := make([]any, len(s.cols))
	for i := range vals {
		dest[i+1] = &vals[i]
	}
	err := s.db.QueryRowContext(ctx, s.getSQL, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, err
	}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	return Row{ID: gotID, Values: vals}, nil
}

func (s *sqliteStore) Set(ctx context.Context, row Row) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := checkRow(s.cols, row, true); err != nil {
		return err
	}
	args := make([]any, 0, len(row.Values)+1)
	args = append(args, row.ID)
	args = append(args, row.Values...)
	_, err := s.db.ExecContext(ctx, s.setSQL, args...)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
