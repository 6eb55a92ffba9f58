package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger writes session events as JSONL, one file per session. It is an Observer.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string

	lastCountdown uint
}

type logRecord struct {
	Timestamp   string `json:"ts"`
	Event       string `json:"event"`
	SessionID   string `json:"session_id"`
	Text        string `json:"text,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Recording   *bool  `json:"is_recording,omitempty"`
	Streaming   *bool  `json:"is_streaming,omitempty"`
	CountdownMs uint   `json:"silence_countdown_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewLogger creates a logger under outputDir. Filename is timestamp + short session id.
func NewLogger(outputDir, sessionID string, started time.Time) (*Logger, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	shortID := sessionID
	if len(sessionID) > 8 {
		shortID = sessionID[:8]
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_session_%s.jsonl", started.Format("20060102_150405"), shortID))
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f, path: filename}, nil
}

// Path returns the file being written.
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) write(rec logRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	rec.Text = strings.TrimSpace(rec.Text)
	_ = json.NewEncoder(l.file).Encode(rec)
}

func (l *Logger) OnTranscript(ev TranscriptEvent) {
	event := "partial"
	if ev.Final {
		event = "final"
	}
	l.write(logRecord{
		Timestamp: ev.At.Format(time.RFC3339Nano),
		Event:     event,
		SessionID: ev.SessionID.String(),
		Text:      ev.Text,
		Final:     ev.Final,
	})
}

// OnVoiceState logs state transitions and errors. Intermediate countdown
// ticks are collapsed to the first and last value.
func (l *Logger) OnVoiceState(st VoiceState) {
	rec := logRecord{
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		SessionID:   st.SessionID.String(),
		Recording:   &st.IsRecording,
		Streaming:   &st.IsStreaming,
		CountdownMs: st.SilenceCountdownMs,
	}

	l.mu.Lock()
	prev := l.lastCountdown
	l.lastCountdown = st.SilenceCountdownMs
	l.mu.Unlock()

	switch {
	case st.Err != nil:
		rec.Event = "error"
		rec.Error = st.Err.Error()
	case st.SilenceCountdownMs > 0 && prev == 0:
		rec.Event = "countdown_start"
	case st.SilenceCountdownMs > 0:
		return
	case prev > 0:
		rec.Event = "countdown_end"
	case st.IsRecording:
		rec.Event = "recording"
	default:
		rec.Event = "stopped"
	}
	l.write(rec)
}
