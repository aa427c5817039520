package notify

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	logx "cacheful/pkg/logx"
)

// AsyncSubscriber decouples a slow subscriber from the publisher.
//
// Contract:
//   - Notify never blocks.
//   - Events are delivered to the wrapped subscriber in order on one goroutine.
//   - When the buffer is full the event is dropped and counted.
type AsyncSubscriber struct {
	next Subscriber
	ch   chan Event

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	done    chan struct{}
}

// Async wraps next with a bounded queue. Close must be called to stop the
// delivery goroutine.
func Async(next Subscriber, buffer int) *AsyncSubscriber {
	if buffer <= 0 {
		buffer = 64
	}
	a := &AsyncSubscriber{
		next: next,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSubscriber) run() {
	defer close(a.done)
	for ev := range a.ch {
		deliver(a.next, ev)
	}
}

func (a *AsyncSubscriber) Notify(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (a *AsyncSubscriber) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events, drains the queue and waits for the
// delivery goroutine. Safe to call more than once.
func (a *AsyncSubscriber) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

// LimitedSubscriber forwards at most a fixed rate of events; the rest are dropped.
type LimitedSubscriber struct {
	next    Subscriber
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// Limited wraps next with a token bucket of perSec events per second.
func Limited(next Subscriber, perSec int) *LimitedSubscriber {
	if perSec <= 0 {
		perSec = 1
	}
	return &LimitedSubscriber{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (l *LimitedSubscriber) Notify(e Event) {
	if !l.limiter.Allow() {
		l.dropped.Add(1)
		return
	}
	l.next.Notify(e)
}

func (l *LimitedSubscriber) Dropped() uint64 { return l.dropped.Load() }

// LogSubscriber writes events to a logx.Logger.
type LogSubscriber struct {
	log logx.Logger
}

// NewLogSubscriber returns the console/file logging sink.
func NewLogSubscriber(log logx.Logger) *LogSubscriber {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSubscriber{log: log}
}

func (s *LogSubscriber) Notify(e Event) {
	fields := make([]logx.Field, 0, len(e.Details)+1)
	fields = append(fields, logx.String("level_label", e.Level.String()))
	for _, d := range e.Details {
		switch v := d.Value.(type) {
		case error:
			fields = append(fields, logx.String(d.Key, v.Error()))
		case fmt.Stringer:
			fields = append(fields, logx.String(d.Key, v.String()))
		default:
			fields = append(fields, logx.Any(d.Key, v))
		}
	}
	s.log.Log(logLevel(e.Level), e.Message, fields...)
}

func logLevel(l Level) logx.Level {
	switch l {
	case LevelInfo, LevelEvent:
		return logx.LevelInfo
	case LevelWarning:
		return logx.LevelWarn
	default:
		return logx.LevelError
	}
}
