// Package metrics holds the Prometheus collectors shared across the relay.
// All collectors register with the default registry; Handler exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

var (
	// EventsTotal counts inbound events by filter decision ("accepted" or a
	// rejection reason).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaybot_events_total",
		Help: "Inbound chat events by admission decision.",
	}, []string{"decision"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaybot_deliveries_total",
		Help: "Delivery attempts by sink and result.",
	}, []string{"sink", "result"})

	DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaybot_delivery_latency_seconds",
		Help:    "Per-sink delivery latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"sink"})

	MessagesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaybot_messages_lost_total",
		Help: "Messages for which every sink failed.",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaybot_deliveries_in_flight",
		Help: "Messages currently being delivered.",
	})

	RetentionDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaybot_retention_deleted_total",
		Help: "Records removed by retention trimming, per channel key.",
	}, []string{"channel_key"})

	FeedListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaybot_feed_listeners",
		Help: "Connected live feed listeners.",
	})
)

// ObserveDelivery records one sink outcome.
func ObserveDelivery(sink string, attempted, succeeded bool, latency time.Duration) {
	result := "failed"
	switch {
	case !attempted:
		result = "skipped"
	case succeeded:
		result = "succeeded"
	}
	DeliveriesTotal.WithLabelValues(sink, result).Inc()
	if attempted {
		DeliveryLatency.WithLabelValues(sink).Observe(latency.Seconds())
	}
}

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
