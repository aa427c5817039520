package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "cacheful/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
	relevantOps   = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// debouncer collapses bursts of calls into one fn call after a quiet delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

// Watch follows the config file until ctx ends. The parent directory is
// watched so editors that replace the file are seen. A broken watcher is
// recreated after a jittered, doubling delay.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("dir", dir), logx.String("file", name))
	deb := &debouncer{delay: m.debounce, fn: m.reload}
	defer deb.stop()

	retry := watchRetryMin
	for {
		healthy, err := m.watchOnce(ctx, dir, name, deb, log)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			retry = watchRetryMin
		}
		log.Warn("config watcher restarting", logx.Err(err), logx.Duration("retry", retry))
		wait := retry + time.Duration(rand.Int64N(int64(retry/2)+1))
		retry = min(retry*2, watchRetryMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends. healthy
// reports whether the watcher got as far as watching dir.
func (m *Manager) watchOnce(ctx context.Context, dir, name string, deb *debouncer, log logx.Logger) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return false, err
	}
	log.Debug("config watcher started")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				deb.trigger()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error channel closed")
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				log.Warn("config watch overflow; forcing reload")
				deb.trigger()
			} else if werr != nil {
				log.Warn("config watch error", logx.Err(werr))
			}
		}
	}
}
