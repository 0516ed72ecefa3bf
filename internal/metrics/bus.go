// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus instrumentation for the event bus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerbus_published_total",
		Help: "Total number of events published, by channel and event type",
	}, []string{"channel", "event_type"})

	DeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerbus_delivered_total",
		Help: "Total number of successful handler invocations",
	}, []string{"channel", "event_type"})

	HandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerbus_handler_errors_total",
		Help: "Total number of handler invocations that returned an error",
	}, []string{"channel", "event_type"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerbus_retries_total",
		Help: "Total number of events re-published after a handler failure",
	}, []string{"channel"})

	DeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerbus_dead_lettered_total",
		Help: "Total number of events moved to the dead-letter queue",
	}, []string{"channel"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerbus_dropped_total",
		Help: "Total number of messages dropped before any handler ran, by reason",
	}, []string{"channel", "reason"})

	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerbus_poll_errors_total",
		Help: "Total number of dispatch loop poll errors (loop continues)",
	})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerbus_handler_duration_seconds",
		Help:    "Handler execution time in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel", "event_type"})
)

// IncDropped records a message dropped before dispatch with a concrete reason
// (no registered handlers, undecodable envelope, unknown event type).
func IncDropped(channel, reason string) {
	if channel == "" {
		channel = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	DroppedTotal.WithLabelValues(channel, reason).Inc()
}
