package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_queue_items_published_total",
			Help: "Total number of queue items published to the outbound exchange",
		},
		[]string{"platform", "delayed"},
	)

	itemsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_queue_items_consumed_total",
			Help: "Total number of queue items pulled by dispatch workers",
		},
		[]string{"platform"},
	)

	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_sends_total",
			Help: "Total number of adapter sends by outcome",
		},
		[]string{"platform", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_send_duration_seconds",
			Help:    "Adapter send duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"platform"},
	)

	retriesScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_retries_scheduled_total",
			Help: "Total number of delayed republishes scheduled",
		},
		[]string{"platform"},
	)

	deadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_dead_lettered_total",
			Help: "Total number of deliveries dropped at the broker ceiling",
		},
		[]string{"platform", "reason"},
	)

	sweeperRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_sweeper_recovered_total",
			Help: "Total number of destinations re-published by the sweeper",
		},
		[]string{"kind"},
	)
)

func RecordPublished(platform string, delayed bool) {
	d := "false"
	if delayed {
		d = "true"
	}
	itemsPublishedTotal.WithLabelValues(platform, d).Inc()
}

func RecordConsumed(platform string) {
	itemsConsumedTotal.WithLabelValues(platform).Inc()
}

func RecordSend(platform, outcome string, duration time.Duration) {
	sendsTotal.WithLabelValues(platform, outcome).Inc()
	sendDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

func RecordRetryScheduled(platform string) {
	retriesScheduledTotal.WithLabelValues(platform).Inc()
}

func RecordDeadLettered(platform, reason string) {
	deadLetteredTotal.WithLabelValues(platform, reason).Inc()
}

func RecordSweeperRecovered(kind string) {
	sweeperRecoveredTotal.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
