package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Name:      "llm_calls_total",
			Help:      "Total language model calls",
		},
		[]string{"provider", "model", "method", "status"}, // status: ok, error, cancelled
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Name:      "llm_call_duration_seconds",
			Help:      "Wall-clock duration of language model calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~100s
		},
		[]string{"provider", "model", "method"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Name:      "llm_tokens_total",
			Help:      "Total language model tokens consumed",
		},
		[]string{"provider", "model", "direction"},
	)
)
