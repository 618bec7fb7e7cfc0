package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by the consumer.
const (
	OutcomeStored    = "stored"
	OutcomeFiltered  = "filtered"
	OutcomeMalformed = "malformed"
	OutcomeDuplicate = "duplicate"
)

// Metrics holds all Prometheus collectors for the pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Consumer metrics
	MessagesTotal         *prometheus.CounterVec
	Reconnects            prometheus.Counter
	CursorPersistFailures prometheus.Counter
	StoreAppendFailures   prometheus.Counter

	// Store metrics
	StoreEntries  prometheus.Gauge
	Backlog       prometheus.Gauge
	PrunedEntries prometheus.Counter
	PruneSkipped  prometheus.Counter

	// Retrain metrics
	RetrainsTotal   *prometheus.CounterVec
	RetrainDuration prometheus.Histogram

	// Prediction metrics
	Predictions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydra_stream_messages_total",
				Help: "Stream messages handled by the consumer, by outcome",
			},
			[]string{"outcome"},
		),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "hydra_stream_reconnects_total",
			Help: "Backoff waits caused by stream connectivity errors",
		}),
		CursorPersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hydra_cursor_persist_failures_total",
			Help: "Failed attempts to persist the stream cursor",
		}),
		StoreAppendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hydra_store_append_failures_total",
			Help: "Failed log store appends (retried)",
		}),
		StoreEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_store_entries",
			Help: "Entries retained in the log store",
		}),
		Backlog: f.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_retrain_backlog",
			Help: "Entries appended since the last successful retrain",
		}),
		PrunedEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "hydra_store_pruned_entries_total",
			Help: "Entries removed by retention pruning",
		}),
		PruneSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "hydra_store_prune_skipped_total",
			Help: "Prune passes skipped to honor the minimum retained count",
		}),
		RetrainsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydra_retrains_total",
				Help: "Retrain attempts, by result",
			},
			[]string{"result"},
		),
		RetrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hydra_retrain_duration_seconds",
			Help:    "Time spent fitting and saving a model",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43min
		}),
		Predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydra_predictions_total",
				Help: "Predictions served, by predicted label",
			},
			[]string{"label"},
		),
	}
}

func (m *Metrics) MessageHandled(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) CursorPersistFailed() {
	if m == nil {
		return
	}
	m.CursorPersistFailures.Inc()
}

func (m *Metrics) StoreAppendFailed() {
	if m == nil {
		return
	}
	m.StoreAppendFailures.Inc()
}

// StoreSize records the current store length and backlog.
func (m *Metrics) StoreSize(entries, backlog int) {
	if m == nil {
		return
	}
	m.StoreEntries.Set(float64(entries))
	m.Backlog.Set(float64(backlog))
}

func (m *Metrics) Pruned(removed int, skipped bool) {
	if m == nil {
		return
	}
	m.PrunedEntries.Add(float64(removed))
	if skipped {
		m.PruneSkipped.Inc()
	}
}

func (m *Metrics) Retrained(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.RetrainsTotal.WithLabelValues(result).Inc()
	m.RetrainDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Predicted(label int) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(strconv.Itoa(label)).Inc()
}
