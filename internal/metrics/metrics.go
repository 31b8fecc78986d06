package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campd_steps_total",
			Help: "Sequence step outcomes",
		},
		[]string{"outcome"}, // executed|skipped|failed
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campd_campaign_transitions_total",
			Help: "Campaign lifecycle transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campd_webhook_deliveries_total",
			Help: "Webhook delivery outcomes",
		},
		[]string{"status"}, // delivered|failed
	)

	LedgerDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campd_ledger_denials_total",
			Help: "Send attempts denied by the resource ledger",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		StepsTotal,
		TransitionsTotal,
		DeliveriesTotal,
		LedgerDenialsTotal,
	)
}
