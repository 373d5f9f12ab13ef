package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuo_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shuo_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shuo_calls_active",
		Help: "Number of calls with a running event loop",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuo_calls_total",
		Help: "Total calls by how they ended",
	}, []string{"reason"})

	OutboundCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuo_outbound_calls_total",
		Help: "Outbound calls placed through the telephony API",
	}, []string{"status"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuo_agent_turns_total",
		Help: "Agent turns by outcome",
	}, []string{"outcome"})

	BargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuo_barge_ins_total",
		Help: "Agent turns reset because the caller started speaking",
	})

	LeakedTurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuo_agent_turns_leaked_total",
		Help: "Reset agent turns that did not finish within the grace period",
	})

	TurnFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shuo_agent_turn_first_audio_seconds",
		Help:    "Time from turn start to the first synthesized audio",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5},
	})

	LLMFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shuo_llm_first_token_seconds",
		Help:    "Time from turn start to the first generated token",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	TTSPoolAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuo_tts_pool_acquires_total",
		Help: "Synthesis connection leases by source",
	}, []string{"source"})

	TTSPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shuo_tts_pool_idle",
		Help: "Idle warm synthesis connections",
	})
)
