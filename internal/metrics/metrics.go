package metrics

import (
	"fmt"
	"sync"
	"time"
)

// SessionMetrics accumulates per-session counters and mirrors them into the
// shared Prometheus collectors. All methods are safe on a nil receiver.
type SessionMetrics struct {
	Provider         string
	SessionID        string
	SampleRate       int
	StartTime        time.Time
	EndTime          time.Time
	AudioBytes       int
	SpeechFrames     int
	SilenceFrames    int
	TranscriptLength int
	PartialCount     int
	FinalCount       int
	CommitCount      int
	ErrorCount       int
	FirstResultTime  *time.Time

	collectors *Collectors
	finalized  bool
	mu         sync.Mutex
}

func NewSessionMetrics(provider, sessionID string, sampleRate int, collectors *Collectors) *SessionMetrics {
	if collectors != nil {
		collectors.SessionsStarted.Inc()
		collectors.ActiveSessions.Inc()
	}

	return &SessionMetrics{
		Provider:   provider,
		SessionID:  sessionID,
		SampleRate: sampleRate,
		StartTime:  time.Now(),
		collectors: collectors,
	}
}

func (m *SessionMetrics) AddAudioFrame(bytes int, speaking bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AudioBytes += bytes
	class := "silence"
	if speaking {
		m.SpeechFrames++
		class = "speech"
	} else {
		m.SilenceFrames++
	}

	if m.collectors != nil {
		m.collectors.AudioBytes.Add(float64(bytes))
		m.collectors.AudioFrames.WithLabelValues(class).Inc()
	}
}

func (m *SessionMetrics) AddTranscriptResult(text string, isFinal bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstResultTime == nil {
		now := time.Now()
		m.FirstResultTime = &now
		if m.collectors != nil {
			m.collectors.FirstResultLatency.Observe(now.Sub(m.StartTime).Seconds())
		}
	}

	kind := "partial"
	if isFinal {
		m.FinalCount++
		m.TranscriptLength = len(text)
		kind = "final"
	} else {
		m.PartialCount++
	}

	if m.collectors != nil {
		m.collectors.Transcripts.WithLabelValues(kind).Inc()
	}
}

// AddCommit records a final transcript request; reason is "silence" or "stop".
func (m *SessionMetrics) AddCommit(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CommitCount++
	if m.collectors != nil {
		m.collectors.Commits.WithLabelValues(reason).Inc()
	}
}

func (m *SessionMetrics) AddError(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ErrorCount++
	if m.collectors != nil {
		m.collectors.Errors.WithLabelValues(kind).Inc()
	}
}

// Finalize marks the session ended. Only the first call has an effect.
func (m *SessionMetrics) Finalize() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return
	}
	m.finalized = true
	m.EndTime = time.Now()

	if m.collectors != nil {
		m.collectors.ActiveSessions.Dec()
		m.collectors.SessionDuration.Observe(m.EndTime.Sub(m.StartTime).Seconds())
	}
}

func (m *SessionMetrics) Summary() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(m.StartTime)

	var latency time.Duration
	if m.FirstResultTime != nil {
		latency = m.FirstResultTime.Sub(m.StartTime)
	}

	var audioDuration float64
	if m.SampleRate > 0 {
		audioDuration = float64(m.AudioBytes) / float64(m.SampleRate*2)
	}
	var realtimeFactor float64
	if audioDuration > 0 {
		realtimeFactor = duration.Seconds() / audioDuration
	}

	return fmt.Sprintf(
		"Provider: %s\n"+
			"Session: %s\n"+
			"Duration: %v\n"+
			"Audio Duration: %.2f seconds\n"+
			"Audio Bytes: %d\n"+
			"Speech Frames: %d\n"+
			"Silence Frames: %d\n"+
			"Transcript Length: %d chars\n"+
			"First Result Latency: %v\n"+
			"Partial Results: %d\n"+
			"Final Results: %d\n"+
			"Commits: %d\n"+
			"Errors: %d\n"+
			"Real-time Factor: %.2fx\n",
		m.Provider,
		m.SessionID,
		duration,
		audioDuration,
		m.AudioBytes,
		m.SpeechFrames,
		m.SilenceFrames,
		m.TranscriptLength,
		latency,
		m.PartialCount,
		m.FinalCount,
		m.CommitCount,
		m.ErrorCount,
		realtimeFactor,
	)
}
