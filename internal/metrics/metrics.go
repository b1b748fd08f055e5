// Package metrics exposes Prometheus collectors for persistence, history
// fetches and live channel activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chartsync"

type Metrics struct {
	persistOps       *prometheus.CounterVec
	historyFetches   *prometheus.CounterVec
	liveReconfigures *prometheus.CounterVec
	viewportDecision *prometheus.CounterVec
	savesInFlight    prometheus.Gauge
	sessions         prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		persistOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_operations_total",
			Help:      "Annotation persistence requests by operation and result.",
		}, []string{"op", "result"}),
		historyFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_fetches_total",
			Help:      "Historical data requests by result (ok, error, cached).",
		}, []string{"result"}),
		liveReconfigures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_reconfigures_total",
			Help:      "Live channel reconfigurations by result.",
		}, []string{"result"}),
		viewportDecision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewport_decisions_total",
			Help:      "Quiet-window outcomes of the viewport watcher (fetch or reconfigure).",
		}, []string{"decision"}),
		savesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "saves_in_flight",
			Help:      "Annotation saves currently awaiting the backend.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open chart sessions.",
		}),
	}
}

func (m *Metrics) Persist(op, result string) {
	if m == nil {
		return
	}
	m.persistOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) HistoryFetch(result string) {
	if m == nil {
		return
	}
	m.historyFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) LiveReconfigure(result string) {
	if m == nil {
		return
	}
	m.liveReconfigures.WithLabelValues(result).Inc()
}

func (m *Metrics) ViewportDecision(decision string) {
	if m == nil {
		return
	}
	m.viewportDecision.WithLabelValues(decision).Inc()
}

func (m *Metrics) SaveStarted() {
	if m == nil {
		return
	}
	m.savesInFlight.Inc()
}

func (m *Metrics) SaveFinished() {
	if m == nil {
		return
	}
	m.savesInFlight.Dec()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
