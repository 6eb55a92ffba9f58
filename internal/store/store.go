// Package store persists finished transcripts.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the outcome of one session.
type Record struct {
	SessionID  uuid.UUID
	Provider   string
	Language   string
	SampleRate int
	StartTime  time.Time
	EndTime    time.Time
	Transcript string

	// Audio is the raw PCM16 input, kept only when audio saving is enabled.
	Audio []byte
}

// Duration returns how long the session lasted.
func (r Record) Duration() time.Duration {
	if r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// TranscriptStore receives final transcripts while a session runs and the
// full record once it ends.
type TranscriptStore interface {
	PublishFinal(ctx context.Context, sessionID uuid.UUID, text string) error
	Save(ctx context.Context, rec Record) error
}
