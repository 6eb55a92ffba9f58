package server

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amanullahtanweer/realtime-transcriber/internal/config"
	"github.com/amanullahtanweer/realtime-transcriber/internal/metrics"
	"github.com/amanullahtanweer/realtime-transcriber/internal/session"
	"github.com/amanullahtanweer/realtime-transcriber/internal/store"
)

const storeTimeout = 800 * time.Millisecond

// Backend holds what every frame source needs to run a transcription session.
type Backend struct {
	Transcription config.TranscriptionConfig
	NewClient     session.ClientFactory
	Collectors    *metrics.Collectors
	Provider      string
	Stores        []store.TranscriptStore

	// LogDir enables per-session JSONL logs when set.
	LogDir    string
	SaveAudio bool
}

// call is one session bound to a frame source. It observes its own session to
// log and persist transcripts, and forwards events to an optional observer.
type call struct {
	backend    *Backend
	session    *session.Session
	id         uuid.UUID
	language   string
	sampleRate int
	started    time.Time
	logger     *session.Logger

	mu     sync.Mutex
	finals []string
	audio  []byte

	finishOnce sync.Once
}

// startCall creates and starts a session for id. On error nothing is left running.
func (b *Backend) startCall(ctx context.Context, id uuid.UUID, language string, sampleRate int, forward session.Observer) (*call, error) {
	c := &call{
		backend: b,
		id:      id,
		started: time.Now(),
		session: session.New(session.Options{
			NewClient:  b.NewClient,
			Collectors: b.Collectors,
			Provider:   b.Provider,
		}),
	}

	if b.LogDir != "" {
		logger, err := session.NewLogger(b.LogDir, id.String(), c.started)
		if err != nil {
			log.Printf("Session %s: Failed to create session log: %v", id, err)
		} else {
			c.logger = logger
		}
	}

	observers := []session.Observer{c}
	if c.logger != nil {
		observers = append(observers, c.logger)
	}
	if forward != nil {
		observers = append(observers, forward)
	}
	c.session.Subscribe(session.Multi(observers...))

	cfg := b.Transcription.SessionConfig(language, sampleRate)
	cfg.SessionID = id
	c.language = cfg.Language
	c.sampleRate = cfg.SampleRate

	if err := c.session.Start(ctx, cfg); err != nil {
		c.session.Close()
		if c.logger != nil {
			c.logger.Close()
		}
		return nil, err
	}
	return c, nil
}

func (c *call) sendAudio(frame []byte) error {
	if c.backend.SaveAudio {
		c.mu.Lock()
		c.audio = append(c.audio, frame...)
		c.mu.Unlock()
	}
	return c.session.SendAudio(frame)
}

func (c *call) OnTranscript(ev session.TranscriptEvent) {
	if ev.Text == "" {
		return
	}
	timestamp := ev.At.Format("15:04:05")
	if !ev.Final {
		log.Printf("[%s] Session %s [%s] Partial: %s", c.provider(), c.id, timestamp, ev.Text)
		return
	}

	log.Printf("[%s] Session %s [%s] Final: %s", c.provider(), c.id, timestamp, ev.Text)
	c.mu.Lock()
	c.finals = append(c.finals, ev.Text)
	c.mu.Unlock()

	for _, st := range c.backend.Stores {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := st.PublishFinal(ctx, c.id, ev.Text); err != nil {
			log.Printf("Session %s: Failed to publish transcript: %v", c.id, err)
		}
		cancel()
	}
}

func (c *call) OnVoiceState(st session.VoiceState) {
	if st.Err != nil {
		log.Printf("Session %s: %v", c.id, st.Err)
	}
}

// finish stops the session, waits for pending events and saves the record.
func (c *call) finish() {
	c.finishOnce.Do(func() {
		if err := c.session.Close(); err != nil {
			log.Printf("Session %s: %v", c.id, err)
		}
		if c.logger != nil {
			c.logger.Close()
		}

		rec := c.record()
		for _, st := range c.backend.Stores {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := st.Save(ctx, rec); err != nil {
				log.Printf("Session %s: %v", c.id, err)
			}
			cancel()
		}
		log.Printf("Session %s ended (Duration: %v, Provider: %s)", c.id, rec.Duration(), rec.Provider)
	})
}

func (c *call) record() store.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	transcript := strings.Join(c.finals, "\n")
	if transcript == "" {
		transcript = c.session.Transcript()
	}
	return store.Record{
		SessionID:  c.id,
		Provider:   c.provider(),
		Language:   c.language,
		SampleRate: c.sampleRate,
		StartTime:  c.started,
		EndTime:    time.Now(),
		Transcript: transcript,
		Audio:      c.audio,
	}
}

func (c *call) provider() string {
	if c.backend.Provider == "" {
		return session.DefaultProvider
	}
	return c.backend.Provider
}
