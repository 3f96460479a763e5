package slide

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	currentPositionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slide_current_position",
		Help: "Reconciled current position reported to the hub (0 closed, 100 open)",
	}, []string{"name"})

	targetPositionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slide_target_position",
		Help: "Commanded or inferred target position (0 closed, 100 open)",
	}, []string{"name"})

	positionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slide_position_state",
		Help: "Movement state: 0 decreasing, 1 increasing, 2 stopped",
	}, []string{"name"})

	externalMoveGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slide_external_move",
		Help: "1 while a move not commanded by this bridge is settling",
	}, []string{"name"})

	gatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slide_gateway_errors_total",
		Help: "Failed device calls, by operation",
	}, []string{"name", "op"})
)

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (s *Shutter) observe() {
	currentPositionGauge.WithLabelValues(s.name).Set(float64(s.current))
	targetPositionGauge.WithLabelValues(s.name).Set(float64(s.target))
	positionStateGauge.WithLabelValues(s.name).Set(float64(s.state))
	externalMoveGauge.WithLabelValues(s.name).Set(boolGauge(s.external))
}

func (s *Shutter) forget() {
	currentPositionGauge.DeleteLabelValues(s.name)
	targetPositionGauge.DeleteLabelValues(s.name)
	positionStateGauge.DeleteLabelValues(s.name)
	externalMoveGauge.DeleteLabelValues(s.name)
}
