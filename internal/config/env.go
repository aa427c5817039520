package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides for the timer section.
const (
	EnvTime    = "UPDATE_TIME"
	EnvPeriod  = "UPDATE_PERIOD"
	EnvPIDName = "UPDATE_PID_NAME"
)

// DefaultEnvFile is read when present and no other file is named.
const DefaultEnvFile = ".env"

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing default file is fine;
// a missing explicitly named file is an error.
func LoadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overlays UPDATE_* variables onto the timer section.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvTime); ok && strings.TrimSpace(v) != "" {
		c.Timer.Time = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPeriod); ok && strings.TrimSpace(v) != "" {
		c.Timer.Period = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPIDName); ok && strings.TrimSpace(v) != "" {
		c.Timer.PIDFile = strings.TrimSpace(v)
	}
}
