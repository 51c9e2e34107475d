package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "syncval"

// metrics are the engine's Prometheus instruments.
type metrics struct {
	hazards       *prometheus.CounterVec
	submissions   prometheus.Counter
	deferred      prometheus.Counter
	revalidations prometheus.Counter
	pruned        prometheus.Counter
	hostSyncs     *prometheus.CounterVec
	pendingWaits  prometheus.Gauge
	liveBatches   prometheus.Gauge
	signals       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		hazards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hazards_total",
			Help:      "Unique hazards reported, by kind",
		}, []string{"kind"}),
		submissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Batches submitted",
		}),
		deferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deferred_waits_total",
			Help:      "Waits registered before their value was signaled",
		}),
		revalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deferred_resolutions_total",
			Help:      "Batches re-validated after learning a new ancestor",
		}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pruned_batches_total",
			Help:      "Host-synchronized batches released",
		}),
		hostSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "host_syncs_total",
			Help:      "Host synchronization calls that completed, by operation",
		}, []string{"op"}),
		pendingWaits: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_waits",
			Help:      "Waits not yet bound to a signal",
		}),
		liveBatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "live_batches",
			Help:      "Batches held by the engine",
		}),
		signals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "signal_records",
			Help:      "Signal records held by the timeline registry",
		}),
	}
}
