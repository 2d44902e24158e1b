package services

import (
	"errors"
	"time"

	"github.com/ferreirogomes/matricula/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os coletores do fluxo de registro. Um *Metrics nil é válido e não coleta nada.
type Metrics struct {
	operations *prometheus.CounterVec
	settlement *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "registry",
			Name:      "operations_total",
			Help:      "Operações do fluxo de registro por resultado.",
		}, []string{"operation", "outcome"}),
		settlement: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "registry",
			Name:      "settlement_seconds",
			Help:      "Latência das chamadas ao ledger.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.operations, m.settlement)
	return m
}

func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) observeSettlement(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.settlement.WithLabelValues(outcome(err)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrServiceFailure):
		return "service_failure"
	case errors.Is(err, models.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
