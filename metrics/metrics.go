// Package metrics exposes Prometheus counters and histograms for the
// conversation orchestration core, grounded on the Metrics struct in
// vango-go-vai-lite/pkg/proxy/metrics.go (live-session gauges, per-stage
// counters, duration histograms) but registered against the default
// registry and exposed via promhttp on the server's HTTP mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tank"

var (
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_opened_total",
		Help:      "Total number of sessions accepted.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of sessions currently open.",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Total reasoning turns completed, by outcome.",
	}, []string{"outcome"}) // complete | interrupted | error

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Total tool invocations, by tool name and outcome.",
	}, []string{"tool", "outcome"})

	ToolIterationsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_iterations_exhausted_total",
		Help:      "Turns that hit the max tool iteration bound.",
	})

	UtterancesSegmented = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "utterances_segmented_total",
		Help:      "Utterances produced by the VAD segmenter.",
	})

	ASRLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "asr_latency_seconds",
		Help:      "ASR round-trip latency per utterance.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	})

	LLMFirstTokenSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_first_token_seconds",
		Help:      "Time from turn start to first LLM delta.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	})

	TTSChunkLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tts_chunk_latency_seconds",
		Help:      "Latency from text chunk submission to synthesized audio.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	})

	CancelToSilenceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cancel_to_silence_seconds",
		Help:      "Latency from interrupt signal to playback silence.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5},
	})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_total",
		Help:      "Best-effort token accounting, by direction.",
	}, []string{"direction"}) // prompt | completion

	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_frames_total",
		Help:      "Frames dropped under backpressure, by channel.",
	}, []string{"channel"})
)
