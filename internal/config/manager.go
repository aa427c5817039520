package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	logx "cacheful/pkg/logx"
)

// Manager loads the config file, overlays the environment and republishes
// the result when the file changes.
type Manager struct {
	path     string
	lookup   func(string) (string, bool)
	log      logx.Logger
	debounce time.Duration

	mu      sync.RWMutex
	cfg     *Config
	encoded []byte // canonical JSON of cfg, for change detection

	subsMu sync.Mutex
	subs   []chan *Config
}

// NewManager returns a manager for path. An empty path means defaults plus
// environment only.
func NewManager(path string) *Manager {
	return &Manager{
		path:     strings.TrimSpace(path),
		lookup:   os.LookupEnv,
		debounce: 250 * time.Millisecond,
	}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetEnvLookup replaces os.LookupEnv for the UPDATE_* overrides.
func (m *Manager) SetEnvLookup(fn func(string) (string, bool)) {
	if fn != nil {
		m.lookup = fn
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Parse builds a config without committing it: defaults, then the file,
// then UPDATE_* variables, then derived defaults, then validation.
func (m *Manager) Parse() (*Config, error) {
	cfg := Default()
	if m.path != "" {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if err := overlayFile(m.path, raw, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", m.path, err)
		}
	}
	cfg.ApplyEnv(m.lookup)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load parses and commits.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.swap(cfg)
	return cfg, nil
}

// overlayFile decodes strictly into cfg. Omitted keys keep their defaults;
// unknown keys and trailing documents are errors.
func overlayFile(path string, raw []byte, cfg *Config) error {
	js, err := toJSON(path, raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return nil
	case err == nil:
		return errors.New("trailing data")
	default:
		return err
	}
}

// swap commits cfg and reports whether it differs from the previous one.
func (m *Manager) swap(cfg *Config) bool {
	enc, _ := json.Marshal(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.encoded == nil || !bytes.Equal(enc, m.encoded)
	m.cfg, m.encoded = cfg, enc
	return changed
}

// reload re-parses the file. An invalid file is logged and ignored so the
// running config stays in effect; an identical one is not republished.
func (m *Manager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	if !m.swap(cfg) {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path))
}

// Subscribe returns a channel that receives every committed change.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 && ch != nil {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

// publish never blocks: a full subscriber loses its oldest pending config.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func offerLatest(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}
