package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for the rejected counter.
const (
	ReasonFormat   = "format"
	ReasonMismatch = "mismatch"
	ReasonUsed     = "used"
	ReasonExpired  = "expired"
)

// Metrics holds the Prometheus metrics for the handover coordinator.
type Metrics struct {
	IssuedTotal     prometheus.Counter
	VerifiedTotal   prometheus.Counter
	RejectedTotal   *prometheus.CounterVec
	FinalizeRetries prometheus.Counter
}

// New creates and registers all handover metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a caller-supplied registerer so tests can
// use an isolated registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		IssuedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pawbase_handover_otp_issued_total",
			Help: "One-time codes issued, including regenerations.",
		}),
		VerifiedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pawbase_handover_verified_total",
			Help: "Handovers completed through OTP verification.",
		}),
		RejectedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pawbase_handover_rejected_total",
			Help: "OTP verifications rejected, by reason.",
		}, []string{"reason"}),
		FinalizeRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pawbase_handover_finalize_retries_total",
			Help: "Retries of the registry transfer after a verified handover.",
		}),
	}
}
