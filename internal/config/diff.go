package config

import (
	"reflect"
	"strings"

	logx "cacheful/pkg/logx"
)

// Change lists which sections differ between two configs.
type Change struct {
	Sections []string
	// Restart holds sections that only take effect after a restart.
	Restart []string
	// Fields are safe to log; tokens and passwords are never included.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff summarizes what changed from oldCfg to newCfg.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Timer != newCfg.Timer {
		ch.Sections = append(ch.Sections, "timer")
		ch.Restart = append(ch.Restart, "timer")
		ch.Fields = append(ch.Fields,
			logx.String("timer.time", newCfg.Timer.Time),
			logx.String("timer.period", newCfg.Timer.Period),
			logx.String("timer.pid_file", newCfg.Timer.PIDFile),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		ch.Sections = append(ch.Sections, "notify")
		ch.Restart = append(ch.Restart, "notify")
		ch.Fields = append(ch.Fields,
			logx.Bool("notify.log", newCfg.Notify.Log.Enabled),
			logx.Bool("notify.telegram", newCfg.Notify.Telegram.Enabled),
			logx.Bool("notify.systemd", newCfg.Notify.Systemd),
		)
	}

	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		ch.Sections = append(ch.Sections, "cache")
		ch.Restart = append(ch.Restart, "cache")
		ch.Fields = append(ch.Fields,
			logx.String("cache.driver", strings.ToLower(newCfg.Cache.Driver)),
			logx.Int("cache.columns", len(newCfg.Cache.Columns)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		ch.Sections = append(ch.Sections, "http")
		ch.Restart = append(ch.Restart, "http")
		ch.Fields = append(ch.Fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	return ch
}
