// Package pidlock implements the single-instance guard: a plain file whose
// entire content is the decimal PID of the process that created it.
//
// Absence means no timer is running. Presence with this process's PID means
// "owned by me"; any other content means "owned by someone else".
//
// The guard is advisory and host-local. Creation uses O_EXCL so two
// processes racing on the same path cannot both succeed.
package pidlock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPath is used when no lock path is configured.
const DefaultPath = "timer.pid"

var (
	// ErrAlreadyRunning reports that the lock artifact already exists.
	ErrAlreadyRunning = errors.New("timer already running")
	// ErrCorrupt reports lock content that is not a PID.
	ErrCorrupt = errors.New("lock file content is not a pid")
)

// IOError wraps a filesystem failure on the lock artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("pidlock %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ReleaseResult describes what Release did.
type ReleaseResult int

const (
	// ReleaseRemoved: the artifact held our PID and was deleted.
	ReleaseRemoved ReleaseResult = iota
	// ReleaseAbsent: nothing to remove (already gone or already released).
	ReleaseAbsent
	// ReleaseNotOwner: the artifact names another process and was left alone.
	ReleaseNotOwner
	// ReleaseFailed: reading, parsing or removing failed; see the error.
	ReleaseFailed
)

func (r ReleaseResult) String() string {
	switch r {
	case ReleaseRemoved:
		return "removed"
	case ReleaseAbsent:
		return "absent"
	case ReleaseNotOwner:
		return "not_owner"
	default:
		return "failed"
	}
}

// Lock is a held lock artifact.
type Lock struct {
	path string
	pid  int

	mu       sync.Mutex
	released bool
}

// TryAcquire creates path and writes this process's PID into it.
func TryAcquire(path string) (*Lock, error) {
	return acquire(path, os.Getpid())
}

func acquire(path string, pid int) (*Lock, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists", ErrAlreadyRunning, path)
		}
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &IOError{Op: "close", Path: path, Err: err}
	}
	return &Lock{path: path, pid: pid}, nil
}

func (l *Lock) Path() string { return l.path }
func (l *Lock) PID() int     { return l.pid }

// Release removes the artifact if it still carries the holder's PID.
//
// It is idempotent: after the first successful call (or when the artifact is
// gone) it reports ReleaseAbsent. A file naming another PID is never
// removed. Corrupt content is reported as an *IOError wrapping ErrCorrupt.
func (l *Lock) Release() (ReleaseResult, error) {
	if l == nil {
		return ReleaseAbsent, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ReleaseAbsent, nil
	}

	owner, err := readPID(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.released = true
		return ReleaseAbsent, nil
	case err != nil:
		return ReleaseFailed, err
	case owner != l.pid:
		return ReleaseNotOwner, nil
	}

	if err := os.Remove(l.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.released = true
			return ReleaseAbsent, nil
		}
		return ReleaseFailed, &IOError{Op: "remove", Path: l.path, Err: err}
	}
	l.released = true
	return ReleaseRemoved, nil
}

// Status is a point-in-time view of a lock path.
type Status struct {
	Path string
	Held bool
	PID  int
	Self bool
}

// Inspect reports whether path is held and by whom. Unreadable or corrupt
// content still counts as held.
func Inspect(path string) (Status, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	st := Status{Path: path}
	pid, err := readPID(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	st.Held = true
	if err != nil {
		return st, err
	}
	st.PID = pid
	st.Self = pid == os.Getpid()
	return st, nil
}

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		return 0, &IOError{Op: "read", Path: path, Err: err}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, &IOError{Op: "parse", Path: path, Err: ErrCorrupt}
	}
	return pid, nil
}
