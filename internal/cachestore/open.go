package cachestore

import (
	"errors"
	"strings"

	logx "cacheful/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if the cache is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := ValidateColumns(cfg.Columns); err != nil {
		return nil, err
	}
	log = log.With(logx.String("comp", "cachestore"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "badger":
		return openBadger(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown cache driver: " + driver)
	}
}
