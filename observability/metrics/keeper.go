package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// KeeperMetrics tracks the auto-settlement loop run by the daemon.
type KeeperMetrics struct {
	sweeps       prometheus.Counter
	settled      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	lockSkipped  prometheus.Counter
	lastSweep    prometheus.Gauge
	pendingGauge prometheus.Gauge
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			sweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collarfi_keeper_sweeps_total",
				Help: "Count of completed keeper sweeps.",
			}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "collarfi_keeper_settled_total",
				Help: "Positions settled by the keeper segmented by engine.",
			}, []string{"engine"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "collarfi_keeper_failures_total",
				Help: "Keeper settlement attempts that reverted, by error kind.",
			}, []string{"kind"}),
			lockSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collarfi_keeper_lock_skipped_total",
				Help: "Sweeps skipped because another instance held the keeper lock.",
			}),
			lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collarfi_keeper_last_sweep_timestamp",
				Help: "Unix time of the most recent keeper sweep.",
			}),
			pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collarfi_keeper_pending_positions",
				Help: "Expired but unsettled positions observed during the last sweep.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.sweeps,
			keeperRegistry.settled,
			keeperRegistry.failures,
			keeperRegistry.lockSkipped,
			keeperRegistry.lastSweep,
			keeperRegistry.pendingGauge,
		)
	})
	return keeperRegistry
}

func (m *KeeperMetrics) ObserveSweep(unix int64, pending int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.lastSweep.Set(float64(unix))
	m.pendingGauge.Set(float64(pending))
}

func (m *KeeperMetrics) ObserveSettled(engine string) {
	if m == nil {
		return
	}
	if engine == "" {
		engine = "unknown"
	}
	m.settled.WithLabelValues(engine).Inc()
}

func (m *KeeperMetrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *KeeperMetrics) ObserveLockSkipped() {
	if m == nil {
		return
	}
	m.lockSkipped.Inc()
}

// Settled exposes the per-engine counter for tests and dashboards.
func (m *KeeperMetrics) Settled() *prometheus.CounterVec { return m.settled }

// Failures exposes the failure counter.
func (m *KeeperMetrics) Failures() *prometheus.CounterVec { return m.failures }
