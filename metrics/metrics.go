// Package metrics counts what a mirror run did. Counters live in a private registry that
// can be written out as a node-exporter textfile at the end of the run.
package metrics

import (
	"fmt"

	"github.com/ortelius/release-mirror/model"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "release_mirror"

// Metrics holds the run counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	releases    *prometheus.CounterVec
	assets      *prometheus.CounterVec
	bytes       prometheus.Counter
	checkpoints *prometheus.CounterVec
	synced      prometheus.Gauge
}

// New registers the counters in a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Releases reconciled, by outcome.",
		}, []string{"outcome"}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_total",
			Help:      "Assets evaluated, by staleness verdict and transfer result.",
		}, []string{"verdict", "result"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes downloaded from the source and uploaded to the target.",
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "State checkpoints, by result.",
		}, []string{"result"}),
		synced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synced_releases",
			Help:      "Releases recorded as fully mirrored.",
		}),
	}
	m.registry.MustRegister(m.releases, m.assets, m.bytes, m.checkpoints, m.synced)
	return m
}

// ObserveRelease counts one reconciled release
func (m *Metrics) ObserveRelease(kind model.OutcomeKind) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(kind.String()).Inc()
}

// ObserveAsset counts one evaluated asset. result is "skipped", "transferred" or "failed".
func (m *Metrics) ObserveAsset(verdict model.Verdict, result string) {
	if m == nil {
		return
	}
	m.assets.WithLabelValues(verdict.String(), result).Inc()
}

// ObserveBytes adds transferred bytes
func (m *Metrics) ObserveBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

// ObserveCheckpoint counts one save+publish attempt
func (m *Metrics) ObserveCheckpoint(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.checkpoints.WithLabelValues(result).Inc()
}

// SetSynced records the size of the sync record
func (m *Metrics) SetSynced(n int) {
	if m == nil {
		return
	}
	m.synced.Set(float64(n))
}

// WriteTextfile writes all counters in the Prometheus text format, atomically
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
