// ABOUTME: Prometheus collectors for ingress, dispatch, completions and gateway sessions.
// ABOUTME: Registered on the default registry and served from the metrics endpoint.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morpheus_assistant_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "morpheus_assistant_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)

	// Webhook metrics
	WebhookResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morpheus_assistant_webhooks_total",
			Help: "Webhook requests by platform and result",
		},
		[]string{"platform", "result"}, // accepted, unauthorized, unsupported, invalid, unknown_platform
	)

	// Dispatch metrics
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morpheus_assistant_events_total",
			Help: "Dispatched events by platform, kind and outcome",
		},
		[]string{"platform", "kind", "outcome"}, // handled, dropped, duplicate, failed
	)

	// Completion metrics
	CompletionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morpheus_assistant_completion_failures_total",
			Help: "Completion failures by reason",
		},
		[]string{"reason"}, // rate_limited, error
	)

	// Gateway metrics
	GatewaySessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morpheus_assistant_gateway_sessions_total",
			Help: "Gateway listening sessions by platform and terminal state",
		},
		[]string{"platform", "state"}, // draining, dropped, failed
	)

	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morpheus_assistant_gateway_events_total",
			Help: "Events received over gateway connections",
		},
		[]string{"platform"},
	)

	// Background task metrics
	BackgroundTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "morpheus_assistant_background_tasks",
			Help: "Background tasks currently running",
		},
	)
)
