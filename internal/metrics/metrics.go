package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters the token subsystem exposes
// Alert formatting and delivery stays with the operator's stack
type Metrics struct {
	IssuedTotal            prometheus.Counter
	RotationsTotal         prometheus.Counter
	ReuseDetectedTotal     prometheus.Counter
	ManualRevocationsTotal prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IssuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenguard_tokens_issued_total",
			Help: "Refresh tokens issued at login (new families).",
		}),
		RotationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenguard_rotations_total",
			Help: "Successful refresh token rotations.",
		}),
		ReuseDetectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenguard_reuse_detected_total",
			Help: "Rotations rejected because an already revoked token was presented.",
		}),
		ManualRevocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenguard_manual_revocations_total",
			Help: "Sessions revoked explicitly by the user or an administrator.",
		}),
	}
}
