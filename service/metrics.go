package service

import (
	"github.com/layer-3/pearauth/core"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxFlowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pearauth_flow_steps_total",
			Help: "Flow steps by outcome (ok or error kind)",
		},
		[]string{"step", "outcome"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pearauth_orders_total",
			Help: "Spot orders by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	mtxFlowState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pearauth_flow_state",
			Help: "Current flow state, 0 (idle) to 6 (fully approved)",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxFlowSteps, mtxOrders, mtxFlowState)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return core.KindName(err)
}
