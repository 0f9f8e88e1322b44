package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricForward = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "web0_relay_forward_total",
			Help: "Forward attempts to staff, by result: sent, failed, skipped.",
		},
		[]string{"result"},
	)
	metricDelivery = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "web0_relay_delivery_total",
			Help: "Inbound delivery decisions, by result: accepted, unknownuser, badmessage.",
		},
		[]string{"result"},
	)
)
