package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the custody registry.
type Metrics struct {
	RegistrationsTotal prometheus.Counter
	TransfersTotal     *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
}

// New creates and registers all registry metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a caller-supplied registerer so tests can
// use an isolated registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RegistrationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pawbase_registry_registrations_total",
			Help: "Total number of first-time pet registrations.",
		}),
		TransfersTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pawbase_registry_transfers_total",
			Help: "Total custody transfers recorded, by transfer type.",
		}, []string{"transfer_type"}),
		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pawbase_registry_cache_hits_total",
			Help: "Registry record cache hits.",
		}),
		CacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pawbase_registry_cache_misses_total",
			Help: "Registry record cache misses.",
		}),
	}
}

// ObserveTransfer increments the transfer counter for a type.
func (m *Metrics) ObserveTransfer(transferType string) {
	m.TransfersTotal.WithLabelValues(transferType).Inc()
}
