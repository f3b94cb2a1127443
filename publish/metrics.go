package publish

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/platform"
)

// Metrics are the publishing counters exported on /metrics.
type Metrics struct {
	Attempts     *prometheus.CounterVec
	PostDuration *prometheus.HistogramVec
	FeedErrors   *prometheus.CounterVec
	ItemsFetched *prometheus.CounterVec
	LastBatch    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg (nil skips
// registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcast_publish_attempts_total",
				Help: "Publish decisions by platform and resulting status",
			},
			[]string{"platform", "status"},
		),
		PostDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedcast_post_duration_seconds",
				Help:    "Duration of remote posting calls",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"platform"},
		),
		FeedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcast_feed_errors_total",
				Help: "Feed fetch or parse failures",
			},
			[]string{"feed"},
		),
		ItemsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcast_items_fetched_total",
				Help: "Content items returned by sources",
			},
			[]string{"feed"},
		),
		LastBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedcast_last_batch_timestamp_seconds",
			Help: "Unix time the last batch finished",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.PostDuration, m.FeedErrors, m.ItemsFetched, m.LastBatch)
	}
	return m
}

func (m *Metrics) attempt(p platform.Platform, s content.Status) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(string(p), string(s)).Inc()
}

func (m *Metrics) posted(p platform.Platform, d time.Duration) {
	if m == nil {
		return
	}
	m.PostDuration.WithLabelValues(string(p)).Observe(d.Seconds())
}

func (m *Metrics) feedError(feed string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(feed).Inc()
}

func (m *Metrics) fetched(feed string, n int) {
	if m == nil {
		return
	}
	m.ItemsFetched.WithLabelValues(feed).Add(float64(n))
}

func (m *Metrics) batchDone(t time.Time) {
	if m == nil {
		return
	}
	m.LastBatch.Set(float64(t.Unix()))
}
