package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amanullahtanweer/realtime-transcriber/internal/audio"
	"github.com/amanullahtanweer/realtime-transcriber/internal/metrics"
	"github.com/amanullahtanweer/realtime-transcriber/internal/silence"
	"github.com/amanullahtanweer/realtime-transcriber/internal/transcriber"
)

const (
	EncodingPCM16          = "pcm16"
	DefaultSampleRate      = 16000
	DefaultCountdownTickMs = 100
	DefaultProvider        = "openai-realtime"

	// telephony sources deliver 8kHz audio, the wire format is declared at 16kHz
	telephonySampleRate = 8000
)

var (
	// ErrAlreadyStarted is returned by Start while a session is active.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrUnsupportedEncoding is returned by Start for encodings other than pcm16.
	ErrUnsupportedEncoding = errors.New("unsupported audio encoding")
	// ErrUnsupportedSampleRate is returned by Start for rates other than 8000 and 16000 Hz.
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
)

// Config describes one utterance-capture session.
type Config struct {
	// SessionID is optional; a random id is generated when zero.
	SessionID uuid.UUID

	APIKey            string
	Language          string
	SampleRate        int
	Encoding          string
	AutoSendOnSilence bool
	SilenceDelayMs    uint

	VADThreshold    float64
	CountdownTickMs uint
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Encoding == "" {
		c.Encoding = EncodingPCM16
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = audio.DefaultThreshold
	}
	if c.CountdownTickMs == 0 {
		c.CountdownTickMs = DefaultCountdownTickMs
	}
	return c
}

// ClientFactory builds the transcription client for one session start.
type ClientFactory func(cfg Config) transcriber.Client

// RealtimeFactory returns a ClientFactory building realtime clients from base,
// with the API key taken from the session config.
func RealtimeFactory(base transcriber.RealtimeConfig) ClientFactory {
	return func(cfg Config) transcriber.Client {
		rc := base
		rc.APIKey = cfg.APIKey
		return transcriber.NewRealtimeClient(rc)
	}
}

// Options are the collaborators of a Session.
type Options struct {
	NewClient  ClientFactory
	Clock      silence.Clock
	Collectors *metrics.Collectors
	Provider   string
}

// Session coordinates voice activity detection, the silence auto-commit
// policy and the transcription client. All state changes happen under mu.
type Session struct {
	opts Options

	mu         sync.Mutex
	id         uuid.UUID
	cfg        Config
	client     transcriber.Client
	gen        uint64
	starting   bool
	listening  bool
	vad        *audio.Detector
	policy     *silence.Policy
	state      VoiceState
	transcript string
	metrics    *metrics.SessionMetrics

	notifier  *notifier
	closeOnce sync.Once
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = silence.SystemClock
	}
	if opts.Provider == "" {
		opts.Provider = DefaultProvider
	}
	return &Session{
		opts:     opts,
		notifier: newNotifier(),
	}
}

// Subscribe registers the single observer of this session, replacing any previous one.
func (s *Session) Subscribe(o Observer) {
	s.notifier.subscribe(o)
}

// ID returns the id of the current or last session.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Transcript returns the last transcript text received.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// State returns the last voice state emitted.
func (s *Session) State() VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session has a live client.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Start opens the transcription client. The client is started without mu
// held, so its events can be handled while the connection is being set up.
func (s *Session) Start(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	if s.client != nil || s.starting {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	s.gen++
	s.listening = false
	s.id = cfg.SessionID
	if s.id == uuid.Nil {
		s.id = uuid.New()
	}
	s.cfg = cfg
	s.transcript = ""
	s.state = VoiceState{SessionID: s.id}

	if err := s.validate(cfg); err != nil {
		log.Printf("Session %s: %v", s.id, err)
		s.emitError(err)
		s.mu.Unlock()
		return err
	}

	s.vad = audio.NewDetector(cfg.VADThreshold)
	s.policy = silence.New(silence.Options{
		Enabled:     cfg.AutoSendOnSilence,
		Delay:       time.Duration(cfg.SilenceDelayMs) * time.Millisecond,
		Tick:        time.Duration(cfg.CountdownTickMs) * time.Millisecond,
		Clock:       s.opts.Clock,
		Locker:      &s.mu,
		OnCountdown: s.onCountdown,
		OnFire:      s.onSilence,
	})
	s.metrics = metrics.NewSessionMetrics(s.opts.Provider, s.id.String(), cfg.SampleRate, s.opts.Collectors)

	client := s.opts.NewClient(cfg)
	client.Subscribe(&clientHandler{session: s, gen: s.gen})
	s.starting = true
	s.mu.Unlock()

	err := client.Start(ctx, cfg.Language)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	if err != nil {
		log.Printf("Session %s: failed to start transcription: %v", s.id, err)
		s.metrics.AddError(errorKind(err))
		s.metrics.Finalize()
		s.emitError(err)
		return fmt.Errorf("failed to start transcription: %w", err)
	}

	s.client = client
	s.listening = true
	s.emitState(VoiceState{IsRecording: true, IsStreaming: true})
	log.Printf("Session %s started (language: %q, sample rate: %d, auto send: %v, silence delay: %dms)",
		s.id, cfg.Language, cfg.SampleRate, cfg.AutoSendOnSilence, cfg.SilenceDelayMs)
	return nil
}

func (s *Session) validate(cfg Config) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return transcriber.ErrMissingCredential
	}
	if !strings.EqualFold(cfg.Encoding, EncodingPCM16) {
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, cfg.Encoding)
	}
	if cfg.SampleRate != telephonySampleRate && cfg.SampleRate != DefaultSampleRate {
		return fmt.Errorf("%w: %d Hz", ErrUnsupportedSampleRate, cfg.SampleRate)
	}
	if s.opts.NewClient == nil {
		return transcriber.ErrTransportUnavailable
	}
	return nil
}

// SendAudio classifies the frame and forwards it to the client. Silence never
// suppresses transmission. It is a no-op when the session is not started.
func (s *Session) SendAudio(frame []byte) error {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return nil
	}
	result := s.vad.Classify(frame)
	s.policy.Observe(result.Edge)
	client := s.client
	m := s.metrics
	upsample := s.cfg.SampleRate == telephonySampleRate
	s.mu.Unlock()

	m.AddAudioFrame(len(frame), result.Speaking)

	out := frame
	if upsample {
		out = audio.Upsample8kTo16k(frame)
	}
	if err := client.SendAudio(out); err != nil {
		return fmt.Errorf("failed to forward audio: %w", err)
	}
	return nil
}

// Stop cancels the silence countdown, finalizes and releases the client.
// A second call, a call without Start, or a call while Start is still
// connecting, is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return nil
	}
	s.policy.Stop()
	client := s.client
	s.client = nil
	s.emitState(VoiceState{})
	id := s.id
	m := s.metrics
	s.mu.Unlock()

	// the client's Stop performs the commit/response request
	m.AddCommit("stop")
	err := client.Stop()
	m.Finalize()
	log.Printf("Session %s stopped\n%s", id, m.Summary())

	if err != nil {
		return fmt.Errorf("failed to stop transcription: %w", err)
	}
	return nil
}

// Close stops the session and delivers pending events. It must not be
// called from an observer callback.
func (s *Session) Close() error {
	err := s.Stop()
	s.closeOnce.Do(s.notifier.close)
	return err
}

// onCountdown runs with mu held.
func (s *Session) onCountdown(remaining time.Duration) {
	st := s.state
	st.SilenceCountdownMs = uint(remaining / time.Millisecond)
	s.emitState(st)
}

// onSilence runs with mu held.
func (s *Session) onSilence() {
	if s.client == nil {
		return
	}
	log.Printf("Session %s: %dms of silence, requesting final transcript", s.id, s.cfg.SilenceDelayMs)
	s.metrics.AddCommit("silence")
	if err := s.client.RequestFinal(); err != nil {
		log.Printf("Session %s: failed to request final transcript: %v", s.id, err)
		s.metrics.AddError(errorKind(err))
		s.emitError(err)
	}
}

func (s *Session) emitState(st VoiceState) {
	st.SessionID = s.id
	st.Err = nil
	s.state = st
	s.notifier.push(event{state: &st})
}

func (s *Session) emitError(err error) {
	st := s.state
	st.SessionID = s.id
	st.Err = err
	s.notifier.push(event{state: &st})
}

// clientHandler binds client callbacks to the session start that created the client.
type clientHandler struct {
	session *Session
	gen     uint64
}

func (h *clientHandler) OnTranscript(text string, final bool) {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.gen != s.gen || !s.listening {
		return
	}
	s.transcript = text
	s.metrics.AddTranscriptResult(text, final)
	if final {
		log.Printf("Session %s: Final: %s", s.id, text)
	}
	s.notifier.push(event{transcript: &TranscriptEvent{
		SessionID: s.id,
		Text:      text,
		Final:     final,
		At:        s.opts.Clock.Now(),
	}})
}

func (h *clientHandler) OnError(err error) {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.gen != s.gen || !s.listening {
		return
	}
	s.metrics.AddError(errorKind(err))

	if errors.Is(err, transcriber.ErrTransportError) && s.client != nil {
		log.Printf("Session %s: transcription connection lost: %v", s.id, err)
		s.policy.Stop()
		s.client = nil
		s.metrics.Finalize()
		s.state = VoiceState{SessionID: s.id}
		s.emitError(err)
		return
	}

	log.Printf("Session %s: transcription error: %v", s.id, err)
	s.emitError(err)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, transcriber.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, transcriber.ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, transcriber.ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, transcriber.ErrTransportError):
		return "transport"
	case errors.Is(err, transcriber.ErrRemote):
		return "remote"
	default:
		return "other"
	}
}
