package notify

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "cacheful/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) levels() []Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Level, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Level)
	}
	return out
}

var allLevels = []Level{LevelInfo, LevelEvent, LevelWarning, LevelError, LevelException}

func TestPublishRespectsThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		threshold Level
		want      []Level
	}{
		{name: "info", threshold: LevelInfo, want: allLevels},
		{name: "event", threshold: LevelEvent, want: []Level{LevelEvent, LevelWarning, LevelError, LevelException}},
		{name: "warning", threshold: LevelWarning, want: []Level{LevelWarning, LevelError, LevelException}},
		{name: "error", threshold: LevelError, want: []Level{LevelError, LevelException}},
		{name: "exception", threshold: LevelException, want: []Level{LevelError, LevelException}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := New()
			rec := &recorder{}
			bus.Subscribe(rec, tt.threshold)
			for _, l := range allLevels {
				bus.Publish(l, "m")
			}
			assert.Equal(t, tt.want, rec.levels())
		})
	}
}

func TestSubscribeUnknownLabelFallsBackToEvent(t *testing.T) {
	t.Parallel()
	bus := New()
	unknown := &recorder{}
	explicit := &recorder{}
	bus.SubscribeLabel(unknown, "VERBOSE")
	bus.SubscribeLabel(explicit, "EVENT")
	bus.Subscribe(&recorder{}, Level(42))

	for _, l := range allLevels {
		bus.Publish(l, "m")
	}
	assert.Equal(t, explicit.levels(), unknown.levels())
	assert.Equal(t, 3, bus.Len())
}

func TestPublishOrderAndPanicIsolation(t *testing.T) {
	t.Parallel()
	bus := New()
	var order []string
	bus.Subscribe(SubscriberFunc(func(Event) { order = append(order, "a") }), LevelInfo)
	bus.Subscribe(SubscriberFunc(func(Event) { panic("boom") }), LevelInfo)
	bus.Subscribe(SubscriberFunc(func(Event) { order = append(order, "c") }), LevelInfo)

	require.NotPanics(t, func() { bus.Publish(LevelEvent, "m") })
	assert.Equal(t, []string{"a", "c"}, order)
}

func TestPublishedDetailsAreIsolated(t *testing.T) {
	t.Parallel()
	b := New()
	vandal := SubscriberFunc(func(e Event) { e.Details[0] = D("id", "changed") })
	rec := &recorder{}
	async := Async(rec, 4)
	b.Subscribe(vandal, LevelInfo)
	b.Subscribe(async, LevelInfo)

	ds := []Detail{D("id", "original")}
	b.Publish(LevelEvent, "stored", ds...)
	ds[0] = D("id", "reused")
	async.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 1)
	v, ok := rec.events[0].Value("id")
	require.True(t, ok)
	assert.Equal(t, "original", v)
}

func TestNilBusIsSilent(t *testing.T) {
	t.Parallel()
	var bus *Bus
	require.NotPanics(t, func() { bus.Publish(LevelException, "m") })
	assert.Zero(t, bus.Len())
}

func TestRender(t *testing.T) {
	t.Parallel()
	e := Event{Level: LevelEvent, Message: "Action completed."}
	assert.Equal(t, `Level: EVENT; Message: "Action completed."; Details: None`, Render(e))

	e.Details = []Detail{D("a", 1), D("b", 2)}
	assert.True(t, strings.HasSuffix(Render(e), "Details: a: 1, b: 2"), Render(e))

	at := time.Date(2026, 3, 1, 11, 11, 30, 0, time.UTC)
	e = Event{Level: LevelWarning, Message: "x", Details: []Detail{D("z", "last"), D("exception", errors.New("bad")), D("at", at)}}
	assert.Equal(t, `Level: WARNING; Message: "x"; Details: z: last, exception: bad, at: 2026-03-01 11:11:30`, e.String())
}

func TestLevelRanks(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelError.Rank(), LevelException.Rank())
	assert.True(t, LevelException.Allows(LevelError))
	assert.False(t, LevelWarning.Allows(LevelEvent))
	l, ok := ParseLevel(" exception ")
	require.True(t, ok)
	assert.Equal(t, LevelException, l)
	assert.Equal(t, LevelEvent, LevelOrDefault("nope"))
}

func TestAsyncDropsWhenFull(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	got := &recorder{}
	slow := SubscriberFunc(func(e Event) {
		<-release
		got.Notify(e)
	})
	a := Async(slow, 1)

	// One in flight, one buffered, the rest dropped.
	for i := 0; i < 5; i++ {
		a.Notify(Event{Level: LevelEvent})
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	a.Close()
	a.Close()

	assert.Len(t, got.levels(), 2)
	assert.EqualValues(t, 3, a.Dropped())

	a.Notify(Event{Level: LevelEvent})
	assert.EqualValues(t, 4, a.Dropped())
}

func TestLimited(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	l := Limited(rec, 2)
	for i := 0; i < 10; i++ {
		l.Notify(Event{Level: LevelEvent})
	}
	assert.Len(t, rec.levels(), 2)
	assert.EqualValues(t, 8, l.Dropped())
}

func TestLogSubscriberWritesStructuredLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sub := NewLogSubscriber(logx.NewWriter(&buf, "info"))
	sub.Notify(Event{Level: LevelWarning, Message: "Could not remove file.", Details: []Detail{D("filename", "timer.pid")}})

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"filename":"timer.pid"`)
	assert.Contains(t, out, `"level_label":"WARNING"`)
}
