// Package metrics provides Prometheus instrumentation for the Tooty chat
// gateway and moderator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks open gateway WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tooty_connections_active",
		Help: "Current number of open gateway WebSocket connections",
	})

	// MessagesTotal counts send attempts by outcome: "accepted",
	// "inappropriate", "muted", "rate_limited", "invalid", "unavailable",
	// "store_error".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tooty_messages_total",
		Help: "Chat message send attempts by outcome",
	}, []string{"outcome"})

	// ModerationVerdicts counts filter verdicts by matching stage ("clean"
	// when nothing matched).
	ModerationVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tooty_moderation_verdicts_total",
		Help: "Moderation verdicts by matching stage",
	}, []string{"stage"})

	// ModerationLatency records time spent producing a verdict.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tooty_moderation_check_seconds",
		Help:    "Time spent screening one text",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
	})

	// SendLatency records the full submission path duration.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tooty_message_send_seconds",
		Help:    "Chat message submission latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// StrikesTotal counts recorded moderation strikes.
	StrikesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tooty_moderation_strikes_total",
		Help: "Strikes recorded against users for blocked messages",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		MessagesTotal,
		ModerationVerdicts,
		ModerationLatency,
		SendLatency,
		StrikesTotal,
	)
}

// ObserveVerdict records a verdict under its stage label.
func ObserveVerdict(stage string) {
	if stage == "" {
		stage = "clean"
	}
	ModerationVerdicts.WithLabelValues(stage).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
