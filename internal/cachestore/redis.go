package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "cacheful/pkg/logx"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cacheful:row:"

type redisStore struct {
	client *redis.Client
	prefix string
	cols   []Column
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("cache.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	log.Info("connected to redis cache", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return &redisStore{client: client, prefix: prefix, cols: cfg.Columns}, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (Row, error) {
	b, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Row{}, ErrNotFound
	}
	if errors.Is(err, redis.ErrClosed) {
		return Row{}, ErrClosed
	}
	if err != nil {
		return Row{}, err
	}
	var vals []any
	if err := json.Unmarshal(b, &vals); err != nil {
		return Row{}, fmt.Errorf("decode row %s: %w", id, err)
	}
	return Row{ID: id, Values: cloneValues(vals)}, nil
}

func (s *redisStore) Set(ctx context.Context, row Row) error {
	if err := checkRow(s.cols, row, false); err != nil {
		return err
	}
	buf, err := json.Marshal(cloneValues(row.Values))
	if err != nil {
		return err
	}
	err = s.client.Set(ctx, s.prefix+row.ID, buf, 0).Err()
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (s *redisStore) Close() error { return s.client.Close() }
