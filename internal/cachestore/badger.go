package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	logx "cacheful/pkg/logx"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "row:"

type badgerStore struct {
	db   *badger.DB
	cols []Column
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("cache.path is required for badger driver")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	log.Debug("badger cache opened", logx.String("path", path))
	return &badgerStore{db: db, cols: cfg.Columns}, nil
}

func (s *badgerStore) Get(ctx context.Context, id string) (Row, error) {
	_ = ctx
	var vals []any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error { return json.Unmarshal(b, &vals) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Row{}, ErrNotFound
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return Row{}, ErrClosed
	}
	if err != nil {
		return Row{}, err
	}
	return Row{ID: id, Values: cloneValues(vals)}, nil
}

func (s *badgerStore) Set(ctx context.Context, row Row) error {
	_ = ctx
	if err := checkRow(s.cols, row, false); err != nil {
		return err
	}
	buf, err := json.Marshal(cloneValues(row.Values))
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+row.ID), buf)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func (s *badgerStore) Close() error { return s.db.Close() }
