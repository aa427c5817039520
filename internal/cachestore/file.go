package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cacheful/pkg/logx"

	"github.com/google/renameio/v2"
)

// fileStore keeps every row in memory and rewrites the whole dictionary on
// each Set. The file is created empty when missing.
type fileStore struct {
	path string
	cols []Column
	log  logx.Logger

	mu     sync.Mutex
	rows   map[string][]any
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("cache.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{path: path, cols: cfg.Columns, log: log, rows: map[string][]any{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.commitLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case len(strings.TrimSpace(string(b))) > 0:
		if err := json.Unmarshal(b, &s.rows); err != nil {
			return nil, fmt.Errorf("cache file %s: %w", path, err)
		}
		if s.rows == nil {
			s.rows = map[string][]any{}
		}
	}
	log.Debug("file cache opened", logx.String("path", path), logx.Int("rows", len(s.rows)))
	return s, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (Row, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Row{}, ErrClosed
	}
	v, ok := s.rows[id]
	if !ok {
		return Row{}, ErrNotFound
	}
	return Row{ID: id, Values: cloneValues(v)}, nil
}

func (s *fileStore) Set(ctx context.Context, row Row) error {
	_ = ctx
	if err := checkRow(s.cols, row, false); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.rows[row.ID]
	s.rows[row.ID] = cloneValues(row.Values)
	if err := s.commitLocked(); err != nil {
		if had {
			s.rows[row.ID] = prev
		} else {
			delete(s.rows, row.ID)
		}
		return err
	}
	return nil
}

// commitLocked replaces the file atomically with the current dictionary.
func (s *fileStore) commitLocked() error {
	b, err := json.Marshal(s.rows)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending cache file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.log.Debug("cleanup pending cache file", logx.Err(err))
		}
	}()
	if _, err := pending.Write(b); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
