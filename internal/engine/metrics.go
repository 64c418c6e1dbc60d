package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the buffer's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	depth          prometheus.Gauge
	pushed         prometheus.Counter
	popped         prometheus.Counter
	backedUp       prometheus.Counter
	recovered      prometheus.Counter
	backupFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nanolog",
			Subsystem: "spool",
			Name:      "buffer_depth",
			Help:      "Records currently held in memory.",
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanolog",
			Subsystem: "spool",
			Name:      "records_pushed_total",
			Help:      "Records appended by producers.",
		}),
		popped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanolog",
			Subsystem: "spool",
			Name:      "records_popped_total",
			Help:      "Records handed to the drainer.",
		}),
		backedUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanolog",
			Subsystem: "spool",
			Name:      "records_backed_up_total",
			Help:      "Records written to the cache file.",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanolog",
			Subsystem: "spool",
			Name:      "records_recovered_total",
			Help:      "Records replayed from the cache file at startup.",
		}),
		backupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanolog",
			Subsystem: "spool",
			Name:      "backup_failures_total",
			Help:      "Backups that kept their records in memory.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.depth, m.pushed, m.popped, m.backedUp, m.recovered, m.backupFailures)
	}
	return m
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}

func (m *Metrics) addPushed(n int) {
	if m == nil {
		return
	}
	m.pushed.Add(float64(n))
}

func (m *Metrics) addPopped(n int) {
	if m == nil {
		return
	}
	m.popped.Add(float64(n))
}

func (m *Metrics) addBackedUp(n int) {
	if m == nil {
		return
	}
	m.backedUp.Add(float64(n))
}

func (m *Metrics) addRecovered(n int) {
	if m == nil {
		return
	}
	m.recovered.Add(float64(n))
}

func (m *Metrics) backupFailed(reason string) {
	if m == nil {
		return
	}
	m.backupFailures.WithLabelValues(reason).Inc()
}
