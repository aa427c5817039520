package config

import (
	"errors"
	"fmt"
	"strings"

	"cacheful/internal/notify"
	"cacheful/internal/pidlock"
)

type Config struct {
	Timer   TimerConfig   `json:"timer"`
	Logging LoggingConfig `json:"logging"`
	Notify  NotifyConfig  `json:"notify"`
	Cache   CacheConfig   `json:"cache"`
	HTTP    HTTPConfig    `json:"http"`
}

// TimerConfig is the schedule of the single timed action.
//
// Example:
//
//	"timer": { "time": "03:00:00", "period": "01:00:00", "pid_file": "timer.pid" }
type TimerConfig struct {
	Time    string `json:"time"`               // H:MM:SS daily anchor (UPDATE_TIME)
	Period  string `json:"period"`             // H:MM:SS, >= 00:02:00 (UPDATE_PERIOD)
	PIDFile string `json:"pid_file,omitempty"` // default "timer.pid" (UPDATE_PID_NAME)
	Message string `json:"message,omitempty"`  // what the built-in task logs
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "text" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifyConfig selects the bus subscribers.
//
// Thresholds are severity labels (INFO, EVENT, WARNING, ERROR, EXCEPTION);
// anything else means EVENT.
type NotifyConfig struct {
	Log      NotifyLog      `json:"log"`
	Telegram NotifyTelegram `json:"telegram"`
	Systemd  bool           `json:"systemd,omitempty"`
	// Buffer is the queue size of subscribers that deliver asynchronously.
	Buffer int `json:"buffer,omitempty"`
}

type NotifyLog struct {
	Enabled   bool   `json:"enabled"`
	Threshold string `json:"threshold,omitempty"`
}

type NotifyTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	Threshold  string `json:"threshold,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// CacheConfig controls the optional row cache written by the built-in task.
//
// Example:
//
//	"cache": { "driver": "sqlite", "path": "./cache.db",
//	           "columns": [{"name": "message", "type": "TEXT"}] }
type CacheConfig struct {
	Driver      string        `json:"driver"` // none|file|sqlite|badger|redis
	Path        string        `json:"path,omitempty"`
	Columns     []CacheColumn `json:"columns,omitempty"`
	Addr        string        `json:"addr,omitempty"`
	Password    string        `json:"password,omitempty"` // do not log
	DB          int           `json:"db,omitempty"`
	Prefix      string        `json:"prefix,omitempty"`
	BusyTimeout string        `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type CacheColumn struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// HTTPConfig controls the optional health/metrics/pprof listener.
//
// Security note:
//   - Prefer binding to localhost (the default).
//   - A non-loopback address needs a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

const (
	DefaultHTTPAddr    = "127.0.0.1:9464"
	DefaultPprofPrefix = "/debug/pprof/"
	DefaultMessage     = "It's happening now!"
	DefaultNotifyBuf   = 64
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Notify:  NotifyConfig{Log: NotifyLog{Enabled: true, Threshold: "INFO"}},
	}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Timer.PIDFile) == "" {
		c.Timer.PIDFile = pidlock.DefaultPath
	}
	if strings.TrimSpace(c.Timer.Message) == "" {
		c.Timer.Message = DefaultMessage
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Notify.Buffer <= 0 {
		c.Notify.Buffer = DefaultNotifyBuf
	}
	if c.Notify.Telegram.RatePerSec <= 0 {
		c.Notify.Telegram.RatePerSec = 1
	}
	if strings.TrimSpace(c.Cache.Driver) == "" {
		c.Cache.Driver = "none"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if strings.TrimSpace(c.HTTP.PprofPrefix) == "" {
		c.HTTP.PprofPrefix = DefaultPprofPrefix
	}
}

// Validate reports every problem at once. The timer schedule is left to
// the runner, which publishes a rejected schedule on the bus.
func (c *Config) Validate() error {
	var errs []error
	for name, label := range map[string]string{
		"notify.log.threshold":      c.Notify.Log.Threshold,
		"notify.telegram.threshold": c.Notify.Telegram.Threshold,
	} {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if _, ok := notify.ParseLevel(label); !ok {
			errs = append(errs, fmt.Errorf("%s: unknown level %q", name, label))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if t := c.Notify.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			errs = append(errs, errors.New("notify.telegram.token: required when enabled"))
		}
		if t.ChatID == 0 {
			errs = append(errs, errors.New("notify.telegram.chat_id: required when enabled"))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3", "badger", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}
	if _, err := ParseDurationField("cache.busy_timeout", c.Cache.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
