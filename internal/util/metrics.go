package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of reservations created",
	})

	ReservationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Total number of reservation status transitions",
	}, []string{"to"})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reservation operations",
	}, []string{"operation", "reason"})

	StockAdjustmentLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stock_adjustment_latency_seconds",
		Help:    "Latency of transactional stock adjustments",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	StockUnitsAdjustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_units_adjusted_total",
		Help: "Total product units decremented or restored",
	}, []string{"direction"})

	StockMirrorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_mirror_events_total",
		Help: "Lifecycle events applied to the stock mirror",
	}, []string{"result"})

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
