package cachestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "cacheful/pkg/logx"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []Column{{Name: "message", Type: "TEXT"}, {Name: "fired_at", Type: "TEXT"}}

func openers(t *testing.T) map[string]func(t *testing.T) Config {
	t.Helper()
	return map[string]func(t *testing.T) Config{
		"file": func(t *testing.T) Config {
			return Config{Driver: "file", Path: filepath.Join(t.TempDir(), "cache.json"), Columns: testColumns}
		},
		"sqlite": func(t *testing.T) Config {
			return Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "cache.db"), Columns: testColumns}
		},
		"badger": func(t *testing.T) Config {
			return Config{Driver: "badger", Path: filepath.Join(t.TempDir(), "badger"), Columns: testColumns}
		},
		"redis": func(t *testing.T) Config {
			mr := miniredis.RunT(t)
			return Config{Driver: "redis", Addr: mr.Addr(), Columns: testColumns}
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, mk := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(mk(t), logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, s)
			defer s.Close()

			_, err = s.Get(ctx, "1")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, Row{ID: "1", Values: []any{"hello", "2026-05-14T12:00:00Z"}}))
			row, err := s.Get(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, Row{ID: "1", Values: []any{"hello", "2026-05-14T12:00:00Z"}}, row)

			// Replace.
			require.NoError(t, s.Set(ctx, Row{ID: "1", Values: []any{"again", nil}}))
			row, err = s.Get(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, []any{"again", nil}, row.Values)

			err = s.Set(ctx, Row{ID: "2", Values: []any{"only one"}})
			require.ErrorIs(t, err, ErrColumnMismatch)
			require.ErrorIs(t, s.Set(ctx, Row{ID: " ", Values: []any{"a", "b"}}), ErrEmptyID)
		})
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, s)
	}
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestValidateColumns(t *testing.T) {
	tests := []struct {
		name string
		cols []Column
		want error
	}{
		{name: "ok", cols: testColumns},
		{name: "reserved id", cols: []Column{{Name: "ID", Type: "INT"}}, want: ErrReservedColumn},
		{name: "injection", cols: []Column{{Name: "x); DROP TABLE cache; --"}}, want: ErrInvalidColumn},
		{name: "bad type", cols: []Column{{Name: "x", Type: "TEXT; --"}}, want: ErrInvalidColumn},
		{name: "sized type", cols: []Column{{Name: "x", Type: "VARCHAR(20)"}}},
		{name: "duplicate", cols: []Column{{Name: "a"}, {Name: "A"}}, want: ErrInvalidColumn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateColumns(tt.cols)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "c.db"), Columns: []Column{{Name: "id"}}}, logx.Nop())
	require.ErrorIs(t, err, ErrReservedColumn)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "cache.json")
	cfg := Config{Driver: "file", Path: path}

	s, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	assert.FileExists(t, path, "created on open")
	require.NoError(t, s.Set(ctx, Row{ID: "a", Values: []any{"x", "y", "z"}}))
	require.NoError(t, s.Close())
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrClosed)

	s, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	row, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y", "z"}, row.Values)
}

func TestFileStoreAcceptsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteSchemaAndReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "cache.db"), Columns: testColumns}
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS cache(id TEXT PRIMARY KEY, "message" TEXT NULL, "fired_at" TEXT NULL)`,
		createTableSQL(cfg.Columns))

	s, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, Row{ID: "42", Values: []any{"m", "t"}}))
	require.NoError(t, s.Close())

	s, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	row, err := s.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []any{"m", "t"}, row.Values)

	// An id with SQL in it is just a key.
	_, err = s.Get(ctx, "1 OR 1=1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteWithoutColumnsStoresIDsOnly(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ids.db")}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, Row{ID: "a"}))
	require.ErrorIs(t, s.Set(ctx, Row{ID: "b", Values: []any{"x"}}), ErrColumnMismatch)
	row, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", row.ID)
	assert.Empty(t, row.Values)
}
