// Package metrics exposes prometheus collectors for fetch and persistence
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls collector naming and registration.
type Config struct {
	Namespace  string
	Registerer prometheus.Registerer
}

// Metrics groups the collectors shared by the store, the persistence plugin
// and the remote adapter.
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	staleDiscards *prometheus.CounterVec
	saves         *prometheus.CounterVec
	saveFailures  *prometheus.CounterVec
	saveLatency   *prometheus.HistogramVec
}

// New builds the collectors and registers them when cfg.Registerer is set.
// Collectors that are already registered are reused.
func New(cfg Config) (*Metrics, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = "synced"
	}
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "remote_fetches_total",
			Help:      "Remote fetches issued per resource",
		}, []string{"resource"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "remote_fetch_failures_total",
			Help:      "Remote fetches that failed per resource",
		}, []string{"resource"}),
		staleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "remote_stale_discards_total",
			Help:      "Remote responses dropped because a newer fetch or local write superseded them",
		}, []string{"resource"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "document_saves_total",
			Help:      "Documents written to the persistence backend",
		}, []string{"document"}),
		saveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "document_save_failures_total",
			Help:      "Document writes that failed",
		}, []string{"document"}),
		saveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "document_save_seconds",
			Help:      "Time spent encoding and writing a document",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"format"}),
	}
	if cfg.Registerer == nil {
		return m, nil
	}
	var err error
	reg := cfg.Registerer
	if m.fetches, err = register(reg, m.fetches); err != nil {
		return nil, err
	}
	if m.fetchFailures, err = register(reg, m.fetchFailures); err != nil {
		return nil, err
	}
	if m.staleDiscards, err = register(reg, m.staleDiscards); err != nil {
		return nil, err
	}
	if m.saves, err = register(reg, m.saves); err != nil {
		return nil, err
	}
	if m.saveFailures, err = register(reg, m.saveFailures); err != nil {
		return nil, err
	}
	if m.saveLatency, err = register(reg, m.saveLatency); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// FetchStarted counts a remote fetch for resource.
func (m *Metrics) FetchStarted(resource string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(resource).Inc()
}

// FetchFailed counts a failed remote fetch for resource.
func (m *Metrics) FetchFailed(resource string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(resource).Inc()
}

// StaleDiscarded counts a response that was not applied.
func (m *Metrics) StaleDiscarded(resource string) {
	if m == nil {
		return
	}
	m.staleDiscards.WithLabelValues(resource).Inc()
}

// Saved records a successful document write.
func (m *Metrics) Saved(document, format string, took time.Duration) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(document).Inc()
	m.saveLatency.WithLabelValues(format).Observe(took.Seconds())
}

// SaveFailed counts a failed document write.
func (m *Metrics) SaveFailed(document string) {
	if m == nil {
		return
	}
	m.saveFailures.WithLabelValues(document).Inc()
}
