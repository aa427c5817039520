// Package metrics turns timer notifications into Prometheus series.
//
// The timer never imports this package; a Metrics value is subscribed to the
// bus at INFO like any other subscriber.
package metrics

import (
	"time"

	"cacheful/internal/notify"
	"cacheful/internal/timer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cacheful"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	Events         *prometheus.CounterVec
	ActionRuns     *prometheus.CounterVec
	ActionDuration prometheus.Histogram
	NextFire       prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Notifications published on the timer bus, by level",
		}, []string{"level"}),
		ActionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_runs_total",
			Help:      "Scheduled action outcomes (ok, error, missed)",
		}, []string{"result"}),
		ActionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Wall time of scheduled action invocations",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		NextFire: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_fire_timestamp_seconds",
			Help:      "Unix time of the next scheduled fire",
		}),
	}
}

// Notify implements notify.Subscriber.
func (m *Metrics) Notify(e notify.Event) {
	m.Events.WithLabelValues(e.Level.String()).Inc()

	switch e.Message {
	case timer.MsgStarted:
		m.setNextFire(e, "starttime")
	case timer.MsgActionCompleted:
		m.ActionRuns.WithLabelValues("ok").Inc()
		m.observe(e)
		m.setNextFire(e, "nextfire")
	case timer.MsgActionFailed:
		m.ActionRuns.WithLabelValues("error").Inc()
		m.observe(e)
	case timer.MsgMissedWindow:
		m.ActionRuns.WithLabelValues("missed").Inc()
		m.setNextFire(e, "nextfire")
	}
}

func (m *Metrics) observe(e notify.Event) {
	if v, ok := e.Value("timeelapsed"); ok {
		if d, ok := v.(time.Duration); ok {
			m.ActionDuration.Observe(d.Seconds())
		}
	}
}

func (m *Metrics) setNextFire(e notify.Event, key string) {
	if v, ok := e.Value(key); ok {
		if t, ok := v.(time.Time); ok {
			m.NextFire.Set(float64(t.Unix()))
		}
	}
}
