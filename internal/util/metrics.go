package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartItemsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_items_added_total",
		Help: "Total number of cart items created with a stock reservation",
	})

	CartItemsRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_items_removed_total",
		Help: "Total number of cart item removals",
	}, []string{"result"})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of rejected or failed stock reservations",
	}, []string{"reason"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of the reserve-and-create cart transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockAdjustmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_adjustments_total",
		Help: "Total number of administrative stock overrides",
	})

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders committed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	StockCacheUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_cache_updates_total",
		Help: "Stock cache writes after commits and by the inventory worker",
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
