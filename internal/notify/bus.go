package notify

import (
	"slices"
	"sync"
	"time"
)

// Subscriber receives events from a Bus.
//
// Notify runs on the publisher's goroutine. Implementations that may block
// (network sinks, slow writers) should be wrapped with Async or Limited.
type Subscriber interface {
	Notify(e Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(e Event)

func (f SubscriberFunc) Notify(e Event) { f(e) }

type subscription struct {
	sub       Subscriber
	threshold Level
}

// Bus is a leveled publish/subscribe fanout.
//
// Subscriptions are append-only and live as long as the bus. The list is
// read-mostly, so Publish snapshots it under a read lock and delivers
// without holding any lock.
//
// The zero value is a bus with no subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers sub for events at threshold or above.
// An invalid threshold falls back to EVENT.
func (b *Bus) Subscribe(sub Subscriber, threshold Level) {
	if sub == nil {
		return
	}
	if !threshold.Valid() {
		threshold = DefaultThreshold
	}
	b.mu.Lock()
	b.subs = append(b.subs, subscription{sub: sub, threshold: threshold})
	b.mu.Unlock()
}

// SubscribeLabel is Subscribe with a textual threshold ("INFO", "WARNING", ...).
// Unknown labels fall back to EVENT.
func (b *Bus) SubscribeLabel(sub Subscriber, label string) {
	b.Subscribe(sub, LevelOrDefault(label))
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every subscriber whose threshold is met, in
// subscription order. A nil bus is a valid, silent bus.
func (b *Bus) Publish(level Level, message string, details ...Detail) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var ev Event
	built := false
	for _, s := range subs {
		if !s.threshold.Allows(level) {
			continue
		}
		if !built {
			ev = Event{Level: level, Message: message, Details: details, Time: time.Now()}
			built = true
		}
		deliver(s.sub, ev)
	}
}

// deliver isolates the publisher from a panicking subscriber. Each
// subscriber gets its own Details so neither the caller nor another
// subscriber can change what it sees.
func deliver(sub Subscriber, ev Event) {
	defer func() { _ = recover() }()
	ev.Details = slices.Clone(ev.Details)
	sub.Notify(ev)
}
