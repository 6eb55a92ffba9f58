package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amanullahtanweer/realtime-transcriber/internal/silence/silencetest"
	"github.com/amanullahtanweer/realtime-transcriber/internal/transcriber"
)

type fakeClient struct {
	mu       sync.Mutex
	startErr error
	language string
	calls    []string
	frames   [][]byte
	handler  transcriber.Handler
}

func (f *fakeClient) Start(_ context.Context, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	f.language = language
	return f.startErr
}

func (f *fakeClient) SendAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "audio")
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeClient) RequestFinal() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "final")
	return nil
}

func (f *fakeClient) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	return nil
}

func (f *fakeClient) Subscribe(h transcriber.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeClient) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// commitPairs counts commit/response requests; Stop performs one.
func (f *fakeClient) commitPairs() int {
	return f.count("final") + f.count("stop")
}

type recorder struct {
	mu          sync.Mutex
	transcripts []TranscriptEvent
	states      []VoiceState
}

func (r *recorder) OnTranscript(ev TranscriptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, ev)
}

func (r *recorder) OnVoiceState(st VoiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) snapshot() ([]TranscriptEvent, []VoiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscriptEvent(nil), r.transcripts...), append([]VoiceState(nil), r.states...)
}

func (r *recorder) countdowns() []uint {
	_, states := r.snapshot()
	var out []uint
	for _, st := range states {
		if st.IsRecording {
			out = append(out, st.SilenceCountdownMs)
		}
	}
	return out
}

type harness struct {
	session *Session
	clock   *silencetest.Clock
	rec     *recorder

	mu      sync.Mutex
	clients []*fakeClient
	created int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{clock: silencetest.NewClock(time.Unix(0, 0)), rec: &recorder{}}
	h.session = New(Options{
		Clock: h.clock,
		NewClient: func(Config) transcriber.Client {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.created++
			c := &fakeClient{}
			if len(h.clients) > h.created-1 {
				c = h.clients[h.created-1]
			} else {
				h.clients = append(h.clients, c)
			}
			return c
		},
	})
	h.session.Subscribe(h.rec)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) client(i int) *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[i]
}

func (h *harness) factoryCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created
}

func (h *harness) flush() {
	h.session.notifier.flush()
}

func testConfig() Config {
	return Config{
		APIKey:            "sk-test",
		Language:          "en",
		AutoSendOnSilence: true,
		SilenceDelayMs:    300,
	}
}

func pcmFrame(value int16) []byte {
	frame := make([]byte, 640)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(value))
	}
	return frame
}

var (
	speech = pcmFrame(3000)
	quiet  = pcmFrame(0)
)

func TestStartWithoutAPIKeyMakesNoConnectionAttempt(t *testing.T) {
	h := newHarness(t)

	cfg := testConfig()
	cfg.APIKey = ""
	err := h.session.Start(context.Background(), cfg)
	if !errors.Is(err, transcriber.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if h.factoryCalls() != 0 {
		t.Fatalf("expected no client construction, got %d", h.factoryCalls())
	}

	h.flush()
	_, states := h.rec.snapshot()
	if len(states) != 1 || !errors.Is(states[0].Err, transcriber.ErrMissingCredential) {
		t.Fatalf("expected one missing credential event, got %+v", states)
	}
	if states[0].IsRecording || states[0].IsStreaming {
		t.Fatalf("expected non-recording state, got %+v", states[0])
	}
}

func TestStartEmitsRecordingState(t *testing.T) {
	h := newHarness(t)

	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.client(0).language != "en" {
		t.Fatalf("expected language en, got %q", h.client(0).language)
	}

	h.flush()
	_, states := h.rec.snapshot()
	if len(states) != 1 || !states[0].IsRecording || !states[0].IsStreaming || states[0].SilenceCountdownMs != 0 {
		t.Fatalf("unexpected start state: %+v", states)
	}
	if states[0].SessionID != h.session.ID() || h.session.ID() == uuid.Nil {
		t.Fatalf("expected session id on state, got %v", states[0].SessionID)
	}
}

func TestStartUsesProvidedSessionID(t *testing.T) {
	h := newHarness(t)

	cfg := testConfig()
	cfg.SessionID = uuid.MustParse("4f0c5d1e-2d43-4a8f-9d6b-0a1b2c3d4e5f")
	if err := h.session.Start(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.session.ID() != cfg.SessionID {
		t.Fatalf("expected %s, got %s", cfg.SessionID, h.session.ID())
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	h := newHarness(t)

	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.session.Start(context.Background(), testConfig()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
	if h.factoryCalls() != 1 {
		t.Fatalf("expected a single client, got %d", h.factoryCalls())
	}
}

func TestStartRejectsUnsupportedEncoding(t *testing.T) {
	h := newHarness(t)

	cfg := testConfig()
	cfg.Encoding = "opus"
	if err := h.session.Start(context.Background(), cfg); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("expected unsupported encoding, got %v", err)
	}
	if h.factoryCalls() != 0 {
		t.Fatalf("expected no client, got %d", h.factoryCalls())
	}
}

func TestStartRejectsUnsupportedSampleRate(t *testing.T) {
	h := newHarness(t)

	for _, rate := range []int{22050, 44100, 48000} {
		cfg := testConfig()
		cfg.SampleRate = rate
		if err := h.session.Start(context.Background(), cfg); !errors.Is(err, ErrUnsupportedSampleRate) {
			t.Fatalf("rate %d: expected unsupported sample rate, got %v", rate, err)
		}
	}
	if h.factoryCalls() != 0 {
		t.Fatalf("expected no client, got %d", h.factoryCalls())
	}
	if h.session.Active() {
		t.Fatal("session should not be active")
	}
}

// droppedConn fails every read at once and writes slowly, so the read loop
// reports the drop while Start is still configuring the stream.
type droppedConn struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func (d *droppedConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (d *droppedConn) WriteMessage(int, []byte) error {
	time.Sleep(50 * time.Millisecond)
	return nil
}

func (d *droppedConn) SetWriteDeadline(time.Time) error { return nil }

func (d *droppedConn) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func TestStartSurvivesConnectionDroppedDuringSetup(t *testing.T) {
	s := New(Options{
		NewClient: RealtimeFactory(transcriber.RealtimeConfig{
			Dial: func(context.Context, string, []string) (transcriber.Conn, error) {
				return &droppedConn{closed: make(chan struct{})}, nil
			},
			FinalGrace: -1,
		}),
	})
	defer s.Close()

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background(), testConfig()) }()

	select {
	case err := <-started:
		if !errors.Is(err, transcriber.ErrTransportError) {
			t.Fatalf("expected transport error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after the connection dropped")
	}

	done := make(chan struct{})
	go func() {
		s.ID()
		s.SendAudio(speech)
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session is still locked after the failed start")
	}
	if s.Active() {
		t.Fatal("session should not be active")
	}
}

func TestStartWhileConnectingIsRejected(t *testing.T) {
	release := make(chan struct{})
	dialing := make(chan struct{})
	s := New(Options{
		NewClient: RealtimeFactory(transcriber.RealtimeConfig{
			Dial: func(context.Context, string, []string) (transcriber.Conn, error) {
				close(dialing)
				<-release
				return nil, errors.New("refused")
			},
		}),
	})
	defer s.Close()

	first := make(chan error, 1)
	go func() { first <- s.Start(context.Background(), testConfig()) }()
	<-dialing

	if err := s.Start(context.Background(), testConfig()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected already started while connecting, got %v", err)
	}

	close(release)
	if err := <-first; !errors.Is(err, transcriber.ErrTransportError) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClientStartFailureLeavesSessionStartable(t *testing.T) {
	h := newHarness(t)
	h.clients = []*fakeClient{{startErr: fmt.Errorf("%w: refused", transcriber.ErrTransportError)}}

	err := h.session.Start(context.Background(), testConfig())
	if !errors.Is(err, transcriber.ErrTransportError) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if h.session.Active() {
		t.Fatal("session should not be active after a failed start")
	}

	h.flush()
	_, states := h.rec.snapshot()
	if len(states) != 1 || !errors.Is(states[0].Err, transcriber.ErrTransportError) {
		t.Fatalf("expected error state, got %+v", states)
	}

	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("expected restart to succeed, got %v", err)
	}
}

func TestSendAudioBeforeStartAndAfterStopIsNoop(t *testing.T) {
	h := newHarness(t)

	if err := h.session.SendAudio(speech); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if h.factoryCalls() != 0 {
		t.Fatalf("expected no client, got %d", h.factoryCalls())
	}

	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.session.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.session.SendAudio(speech); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if n := h.client(0).count("audio"); n != 0 {
		t.Fatalf("expected no audio transmitted, got %d", n)
	}
}

func TestSendAudioForwardsEveryFrame(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, frame := range [][]byte{quiet, speech, quiet, {0x01}} {
		if err := h.session.SendAudio(frame); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := h.client(0).count("audio"); n != 4 {
		t.Fatalf("expected 4 frames forwarded, got %d", n)
	}
}

func TestTelephonyAudioIsUpsampled(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	cfg.SampleRate = 8000
	if err := h.session.Start(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.session.SendAudio(speech); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := h.client(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) != 1 || len(c.frames[0]) != 2*len(speech) {
		t.Fatalf("expected one upsampled frame of %d bytes, got %d frames", 2*len(speech), len(c.frames))
	}
}

func TestSustainedSilenceCommitsOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := h.client(0)

	h.session.SendAudio(speech)
	h.session.SendAudio(quiet)
	h.session.SendAudio(quiet)
	h.clock.Advance(time.Second)
	h.session.SendAudio(quiet)
	h.clock.Advance(time.Second)

	if n := c.count("final"); n != 1 {
		t.Fatalf("expected exactly one commit request, got %d", n)
	}

	// the service answers the commit
	c.handler.OnTranscript("Hello", true)

	h.flush()
	transcripts, _ := h.rec.snapshot()
	finals := 0
	for _, ev := range transcripts {
		if ev.Final {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected one final transcript, got %d", finals)
	}

	expected := []uint{0, 300, 200, 100, 0}
	if got := h.rec.countdowns(); fmt.Sprint(got) != fmt.Sprint(expected) {
		t.Fatalf("expected countdown %v, got %v", expected, got)
	}
}

func TestSpeechCancelsPendingCommit(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := h.client(0)

	h.session.SendAudio(speech)
	h.session.SendAudio(quiet)
	h.clock.Advance(150 * time.Millisecond)
	h.session.SendAudio(speech)

	h.flush()
	if got := h.rec.countdowns(); got[len(got)-1] != 0 {
		t.Fatalf("expected countdown reset to 0, got %v", got)
	}
	if state := h.session.State(); state.SilenceCountdownMs != 0 || !state.IsRecording {
		t.Fatalf("unexpected state after speech: %+v", state)
	}

	h.clock.Advance(time.Second)
	if n := c.count("final"); n != 0 {
		t.Fatalf("expected no commit after speech resumed, got %d", n)
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("expected no timers alive, got %d", h.clock.Pending())
	}
}

func TestAutoSendDisabledNeverCommits(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	cfg.AutoSendOnSilence = false
	if err := h.session.Start(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.session.SendAudio(speech)
	h.session.SendAudio(quiet)
	h.clock.Advance(5 * time.Second)

	if n := h.client(0).count("final"); n != 0 {
		t.Fatalf("expected no commit, got %d", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.session.SendAudio(speech)
	h.session.SendAudio(quiet)

	if err := h.session.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.session.Stop(); err != nil {
		t.Fatalf("unexpected error on second stop: %v", err)
	}

	c := h.client(0)
	if n := c.count("stop"); n != 1 {
		t.Fatalf("expected one client stop, got %d", n)
	}
	if n := c.commitPairs(); n != 1 {
		t.Fatalf("expected one commit pair, got %d", n)
	}

	h.clock.Advance(time.Second)
	if n := c.count("final"); n != 0 {
		t.Fatalf("stop should cancel the countdown, got %d commits", n)
	}

	h.flush()
	_, states := h.rec.snapshot()
	last := states[len(states)-1]
	if last.IsRecording || last.IsStreaming || last.SilenceCountdownMs != 0 || last.Err != nil {
		t.Fatalf("unexpected final state: %+v", last)
	}
	stopped := 0
	for _, st := range states {
		if !st.IsRecording && st.Err == nil {
			stopped++
		}
	}
	if stopped != 1 {
		t.Fatalf("expected one stopped state, got %d", stopped)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.flush()
	if _, states := h.rec.snapshot(); len(states) != 0 {
		t.Fatalf("expected no events, got %+v", states)
	}
}

func TestStopAfterAutoCommitSendsSecondPair(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.session.SendAudio(speech)
	h.session.SendAudio(quiet)
	h.clock.Advance(time.Second)
	h.session.Stop()

	if n := h.client(0).commitPairs(); n != 2 {
		t.Fatalf("expected duplicate commit pairs to be sent, got %d", n)
	}
}

func TestTranscriptsDeliveredInOrder(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := h.client(0)

	c.handler.OnTranscript("Hel", false)
	c.handler.OnTranscript("Hello", false)
	c.handler.OnTranscript("Hello", true)

	h.flush()
	transcripts, _ := h.rec.snapshot()
	var got []string
	for _, ev := range transcripts {
		got = append(got, fmt.Sprintf("%s/%v", ev.Text, ev.Final))
	}
	if strings.Join(got, ",") != "Hel/false,Hello/false,Hello/true" {
		t.Fatalf("unexpected transcript order: %v", got)
	}
	if h.session.Transcript() != "Hello" {
		t.Fatalf("expected transcript Hello, got %q", h.session.Transcript())
	}
}

func TestFinalTranscriptDuringStopIsDelivered(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := h.client(0)
	h.session.Stop()

	// arrives while the client finishes its grace period
	c.handler.OnTranscript("late final", true)

	h.flush()
	transcripts, _ := h.rec.snapshot()
	if len(transcripts) != 1 || transcripts[0].Text != "late final" {
		t.Fatalf("expected late final to be delivered, got %+v", transcripts)
	}
}

func TestTransportErrorEndsSession(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := h.client(0)
	h.session.SendAudio(speech)
	h.session.SendAudio(quiet)

	c.handler.OnError(fmt.Errorf("%w: unexpected EOF", transcriber.ErrTransportError))

	if h.session.Active() {
		t.Fatal("session should be inactive after a transport error")
	}
	h.clock.Advance(time.Second)
	if n := c.count("final"); n != 0 {
		t.Fatalf("expected countdown cancelled, got %d commits", n)
	}
	h.session.SendAudio(speech)
	if n := c.count("audio"); n != 2 {
		t.Fatalf("expected no audio after transport error, got %d frames", n)
	}
	if err := h.session.Stop(); err != nil || c.count("stop") != 0 {
		t.Fatalf("expected stop to be a no-op, err=%v stops=%d", err, c.count("stop"))
	}

	h.flush()
	_, states := h.rec.snapshot()
	last := states[len(states)-1]
	if !errors.Is(last.Err, transcriber.ErrTransportError) || last.IsRecording || last.IsStreaming {
		t.Fatalf("unexpected state after transport error: %+v", last)
	}
}

func TestMalformedMessageKeepsSessionAlive(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.client(0).handler.OnError(fmt.Errorf("%w: bad json", transcriber.ErrMalformedMessage))

	if !h.session.Active() {
		t.Fatal("session should stay active")
	}
	h.flush()
	_, states := h.rec.snapshot()
	last := states[len(states)-1]
	if !errors.Is(last.Err, transcriber.ErrMalformedMessage) || !last.IsRecording {
		t.Fatalf("unexpected state: %+v", last)
	}
	if h.session.State().Err != nil {
		t.Fatal("errors should not stick to the stored state")
	}
}

func TestEventsFromPreviousClientAreIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	old := h.client(0)
	h.session.Stop()
	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old.handler.OnTranscript("stale", true)
	old.handler.OnError(fmt.Errorf("%w: old", transcriber.ErrTransportError))

	if !h.session.Active() {
		t.Fatal("stale error should not end the new session")
	}
	h.flush()
	if transcripts, _ := h.rec.snapshot(); len(transcripts) != 0 {
		t.Fatalf("expected stale transcript to be dropped, got %+v", transcripts)
	}
}

func TestObserverMayStopSessionFromCallback(t *testing.T) {
	h := newHarness(t)
	stopped := make(chan error, 1)
	h.session.Subscribe(ObserverFuncs{
		Transcript: func(ev TranscriptEvent) {
			if ev.Final {
				stopped <- h.session.Stop()
			}
		},
	})

	if err := h.session.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.client(0).handler.OnTranscript("done", true)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer callback did not run")
	}
	if h.session.Active() {
		t.Fatal("session should be stopped")
	}
}

func TestSessionWithRealtimeClient(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"realtime"}}
	commits := make(chan struct{}, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch {
			case strings.Contains(string(payload), `"input_audio_buffer.commit"`):
				commits <- struct{}{}
			case strings.Contains(string(payload), `"response.create"`):
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","delta":"Hel"}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","delta":"lo"}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done"}`))
			}
		}
	}))
	defer srv.Close()

	clock := silencetest.NewClock(time.Unix(0, 0))
	finals := make(chan TranscriptEvent, 4)
	s := New(Options{
		Clock: clock,
		NewClient: RealtimeFactory(transcriber.RealtimeConfig{
			URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
			Dial:       transcriber.WebsocketDialer(nil),
			FinalGrace: 50 * time.Millisecond,
		}),
	})
	defer s.Close()
	s.Subscribe(ObserverFuncs{Transcript: func(ev TranscriptEvent) {
		if ev.Final {
			finals <- ev
		}
	}})

	if err := s.Start(context.Background(), testConfig()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	s.SendAudio(speech)
	s.SendAudio(quiet)
	clock.Advance(time.Second)

	select {
	case ev := <-finals:
		if ev.Text != "Hello" {
			t.Fatalf("expected final Hello, got %q", ev.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}

	select {
	case <-commits:
	default:
		t.Fatal("expected a commit on the wire")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
}
