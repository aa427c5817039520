package app

import (
	"fmt"
	"strings"
	"time"

	"cacheful/internal/cachestore"
	"cacheful/internal/config"
	"cacheful/internal/notify/telegram"
	"cacheful/internal/observability/httpserver"
	logx "cacheful/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapCacheConfig returns enabled=false for the "none" driver.
func mapCacheConfig(cfg *config.Config) (cachestore.Config, bool, error) {
	if cfg == nil {
		return cachestore.Config{}, false, nil
	}
	cc := cfg.Cache
	driver := strings.ToLower(strings.TrimSpace(cc.Driver))
	if driver == "" || driver == "none" {
		return cachestore.Config{}, false, nil
	}
	path := strings.TrimSpace(cc.Path)

	cols := make([]cachestore.Column, 0, len(cc.Columns))
	for _, c := range cc.Columns {
		cols = append(cols, cachestore.Column{Name: strings.TrimSpace(c.Name), Type: strings.TrimSpace(c.Type)})
	}
	out := cachestore.Config{Driver: driver, Path: path, Columns: cols}

	switch driver {
	case "file":
		if path == "" {
			out.Path = "./cache.json"
		}
	case "sqlite", "sqlite3":
		if path == "" {
			return cachestore.Config{}, false, fmt.Errorf("cache.path is required when cache.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("cache.busy_timeout", cc.BusyTimeout, time.Second)
		if err != nil {
			return cachestore.Config{}, false, err
		}
		out.BusyTimeout = busy
	case "badger":
		if path == "" {
			return cachestore.Config{}, false, fmt.Errorf("cache.path is required when cache.driver=badger")
		}
	case "redis":
		out.Addr = strings.TrimSpace(cc.Addr)
		if out.Addr == "" {
			out.Addr = "127.0.0.1:6379"
		}
		out.Password = cc.Password
		out.DB = cc.DB
		out.Prefix = cc.Prefix
	default:
		return cachestore.Config{}, false, fmt.Errorf("unknown cache.driver: %s", cc.Driver)
	}
	return out, true, nil
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	h := cfg.HTTP
	rt, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	// profile and trace stream for their whole duration
	wt, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	return httpserver.Config{
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		PprofPrefix:   h.PprofPrefix,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	t := cfg.Notify.Telegram
	return telegram.Config{
		Token:      t.Token,
		ChatID:     t.ChatID,
		ThreadID:   t.ThreadID,
		RatePerSec: t.RatePerSec,
		Buffer:     cfg.Notify.Buffer,
	}
}

// OpenCache opens the configured cache store, or returns (nil, nil) when
// cache.driver is none.
func OpenCache(cfg *config.Config, log logx.Logger) (cachestore.Store, error) {
	sc, enabled, err := mapCacheConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return cachestore.Open(sc, log)
}
