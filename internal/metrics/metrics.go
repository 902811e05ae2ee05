// Package metrics provides Prometheus metrics for the key service.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registered Prometheus collectors.
type Metrics struct {
	ActivationCounter *prometheus.CounterVec
	CheckCounter      *prometheus.CounterVec
	KeysIssued        prometheus.Counter
}

// New creates the service metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ActivationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyserv_activations_total",
				Help: "Total activation attempts by outcome",
			},
			[]string{"result"},
		),
		CheckCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyserv_checks_total",
				Help: "Total usability checks by answer",
			},
			[]string{"usable"},
		),
		KeysIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keyserv_keys_issued_total",
				Help: "Total keys issued",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.ActivationCounter, m.CheckCounter, m.KeysIssued} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Activation records one activation attempt with its outcome code.
func (m *Metrics) Activation(result string) {
	m.ActivationCounter.WithLabelValues(result).Inc()
}

// Check records one usability check and its answer.
func (m *Metrics) Check(usable bool) {
	m.CheckCounter.WithLabelValues(strconv.FormatBool(usable)).Inc()
}

// KeyIssued records one successfully created key.
func (m *Metrics) KeyIssued() {
	m.KeysIssued.Inc()
}
