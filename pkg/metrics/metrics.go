// Package metrics holds the process Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "merlinn"

var (
	// WebhooksTotal counts webhook deliveries by vendor and outcome
	// (ok, unauthorized, quota_exceeded, error).
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Webhook deliveries by vendor and outcome",
	}, []string{"vendor", "outcome"})

	// AgentRunDuration measures reasoning engine runs.
	AgentRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "run_duration_seconds",
		Help:      "Agent run latency in seconds",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"status"})

	// ToolCallsTotal counts tool invocations made by the agent.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Tool calls made by the agent",
	}, []string{"tool", "status"})

	// ToolCompileDuration measures toolset assembly.
	ToolCompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tools",
		Name:      "compile_duration_seconds",
		Help:      "Time to load every tool for one run",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// IndexBuildsTotal counts build requests by dispatch outcome.
	IndexBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "builds_total",
		Help:      "Index builds by outcome",
	}, []string{"outcome"})

	// IndexSourceUpdatesTotal counts builder progress reports.
	IndexSourceUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "source_updates_total",
		Help:      "Per-source progress reports by status",
	}, []string{"status"})

	// CredentialRefreshesTotal counts OAuth refresh attempts.
	CredentialRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credentials",
		Name:      "refreshes_total",
		Help:      "OAuth credential refreshes by vendor and status",
	}, []string{"vendor", "status"})

	// EventsPublishedTotal counts system events by type.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "System events accepted by the bus",
	}, []string{"type"})

	// EventsDroppedTotal counts events dropped because the bus buffer was full
	// or the bus was closed.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "System events dropped by the bus",
	})

	// QueueDepth is the number of build tasks waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Build tasks waiting in the in-process queue",
	})
)
