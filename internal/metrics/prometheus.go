package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors contains all Prometheus metrics for the transcriber
type Collectors struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioFrames *prometheus.CounterVec
	AudioBytes  prometheus.Counter

	// Transcription metrics
	Transcripts        *prometheus.CounterVec
	Commits            *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	FirstResultLatency prometheus.Histogram
}

// NewCollectors creates the metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_sessions_started_total",
			Help: "Total number of streaming sessions started",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_sessions",
			Help: "Current number of streaming sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_session_duration_seconds",
			Help:    "Duration of streaming sessions",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),

		AudioFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_audio_frames_total",
			Help: "Audio frames processed, by VAD classification",
		}, []string{"class"}),
		AudioBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_audio_bytes_total",
			Help: "PCM bytes received from frame sources",
		}),

		Transcripts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_transcript_events_total",
			Help: "Transcript events received, by kind",
		}, []string{"kind"}),
		Commits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_commits_total",
			Help: "Final transcript requests, by reason",
		}, []string{"reason"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_errors_total",
			Help: "Errors surfaced to sessions, by kind",
		}, []string{"kind"}),
		FirstResultLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_first_result_latency_seconds",
			Help:    "Time from session start to the first transcript event",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
