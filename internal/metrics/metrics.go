// Package metrics содержит счётчики Prometheus биллингового ядра.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки result счётчика WebhookEventsTotal.
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
	ResultIgnored   = "ignored"
	ResultRejected  = "rejected"
)

var (
	// WebhookEventsTotal считает обработанные вебхуки по типу события и итогу.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Webhook events by gateway event type and processing result.",
	}, []string{"event_type", "result"})

	// CheckoutSessionsTotal считает открытые checkout-сессии.
	CheckoutSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_checkout_sessions_total",
		Help: "Checkout sessions successfully created at the gateway.",
	})
)
