// README: Prometheus collectors shared by dispatch, matching, pooling and the location feed.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleetd"

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_total", Help: "Dispatch attempts by outcome",
	}, []string{"kind", "outcome"})

	DispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "dispatch_latency_seconds", Help: "Dispatch latency seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"kind"})

	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "claim_conflicts_total", Help: "Driver claims lost to a concurrent dispatch",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "transitions_total", Help: "Committed lifecycle transitions",
	}, []string{"kind", "status"})

	PoolPlans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_plans_total", Help: "Pooling plans by outcome",
	}, []string{"outcome"})

	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "location_feed_messages_total", Help: "Driver location messages by result",
	}, []string{"result"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "notification_failures_total", Help: "Notifier errors by sink",
	}, []string{"sink"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
