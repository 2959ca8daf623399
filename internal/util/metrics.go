package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of pending orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders confirmed as paid",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of unpaid orders cancelled by the reconciler",
	})

	TicketsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Total number of pending tickets created",
	})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total number of payment confirmations by outcome",
	}, []string{"outcome"})

	PaymentProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_provider_latency_seconds",
		Help:    "Latency of payment provider order creation",
		Buckets: prometheus.DefBuckets,
	})

	InventoryCommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_commit_retries_total",
		Help: "Total number of ledger increments that needed the fallback retry",
	})

	InventoryCommitFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_commit_failed_total",
		Help: "Total number of rejected ledger increments",
	}, []string{"reason"})

	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of ticket delivery notifications that failed",
	})

	ReconcilerSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciler_sweep_duration_seconds",
		Help:    "Duration of reconciler sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	ReconcilerAffectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_affected_total",
		Help: "Total number of records changed by reconciler steps",
	}, []string{"step"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
