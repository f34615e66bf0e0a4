// Package metrics holds the prometheus collectors for alert intake, delivery and payments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alertbot"

// AlertsIngested counts alerts persisted by intake
var AlertsIngested = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "ingested_total",
		Help:      "Alerts accepted and persisted by the webhook intake",
	},
	[]string{"source"},
)

// AlertsFinished counts alerts reaching processed or failed
var AlertsFinished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "finished_total",
		Help:      "Alerts that reached a processed or failed status",
	},
	[]string{"status"},
)

// Deliveries counts per-recipient delivery outcomes
var Deliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "recipients_total",
		Help:      "Per-recipient delivery outcomes (delivered, failed, blocked)",
	},
	[]string{"outcome"},
)

// DeliveryAttempts counts adapter send calls
var DeliveryAttempts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "attempts_total",
		Help:      "Send calls made to the notification channel",
	},
)

// PaymentTransitions counts payment status changes
var PaymentTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "transitions_total",
		Help:      "Payment status transitions by target status",
	},
	[]string{"status"},
)
