package transcriber

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel = "gpt-4o-realtime-preview"
	DefaultWriteTimeout  = 5 * time.Second
	DefaultFinalGrace    = time.Second

	subprotocolRealtime = "realtime"
	subprotocolKey      = "openai-insecure-api-key."
	subprotocolBeta     = "openai-beta.realtime-v1"
)

// State of the realtime connection
type State int

const (
	Disconnected State = iota
	Connecting
	Streaming
	Closing
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	default:
		return "disconnected"
	}
}

// RealtimeConfig controls the realtime websocket client.
type RealtimeConfig struct {
	APIKey     string
	URL        string
	Model      string
	SampleRate int
	Dial       DialFunc

	WriteTimeout time.Duration
	// FinalGrace bounds how long Stop waits for the final transcript.
	// Zero means DefaultFinalGrace, a negative value disables the wait.
	FinalGrace time.Duration
}

// RealtimeClient streams PCM16 audio over the realtime transcription protocol.
type RealtimeClient struct {
	cfg RealtimeConfig

	mu      sync.Mutex
	state   State
	conn    Conn
	handler Handler
	buffer  string
	done    chan struct{}
	final   chan struct{}
	ready   chan struct{}

	writeMu sync.Mutex
}

func NewRealtimeClient(cfg RealtimeConfig) *RealtimeClient {
	if cfg.URL == "" {
		cfg.URL = DefaultRealtimeURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRealtimeModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultInputSampleRate
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.FinalGrace == 0 {
		cfg.FinalGrace = DefaultFinalGrace
	}
	return &RealtimeClient{cfg: cfg}
}

func (c *RealtimeClient) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// State returns the connection state.
func (c *RealtimeClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the current transcript buffer.
func (c *RealtimeClient) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

func (c *RealtimeClient) Start(ctx context.Context, language string) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrMissingCredential
	}
	if c.cfg.Dial == nil {
		return ErrTransportUnavailable
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = Connecting
	ready := make(chan struct{})
	c.ready = ready
	c.mu.Unlock()
	defer close(ready)

	endpoint, err := c.endpoint()
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	conn, err := c.cfg.Dial(ctx, endpoint, c.subprotocols())
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("failed to connect to realtime service: %w: %w", ErrTransportError, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.final = make(chan struct{}, 1)
	c.buffer = ""
	c.mu.Unlock()

	go c.readLoop(conn, done)

	if language != "" {
		update := sessionUpdateMessage{
			Type: TypeSessionUpdate,
			Session: sessionParams{
				InputAudioFormat: audioFormat{Type: AudioFormatPCM16, SampleRateHz: c.cfg.SampleRate},
				Language:         language,
			},
		}
		if err := c.write(conn, update); err != nil {
			c.abort(conn, done)
			return err
		}
	}

	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		c.abort(conn, done)
		return fmt.Errorf("%w: connection closed during setup", ErrTransportError)
	}
	c.state = Streaming
	c.mu.Unlock()

	log.Printf("Realtime transcriber connected (language: %q)", language)
	return nil
}

func (c *RealtimeClient) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	streaming := c.state == Streaming
	c.mu.Unlock()
	if !streaming {
		return nil
	}

	return c.write(conn, audioAppendMessage{
		Type:  TypeAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// RequestFinal commits the buffered audio and asks for a response. Duplicate
// calls send duplicate commit/response pairs.
func (c *RealtimeClient) RequestFinal() error {
	c.mu.Lock()
	conn := c.conn
	streaming := c.state == Streaming
	c.mu.Unlock()
	if !streaming {
		return ErrNotStreaming
	}
	return c.requestFinal(conn)
}

// Stop finalizes and closes the stream. A Stop racing a Start waits for the
// dial and setup to finish before closing.
func (c *RealtimeClient) Stop() error {
	c.mu.Lock()
	if c.state == Connecting {
		ready := c.ready
		c.mu.Unlock()
		<-ready
		c.mu.Lock()
	}
	if c.state != Streaming {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	conn, done, final := c.conn, c.done, c.final
	c.mu.Unlock()

	select {
	case <-final:
	default:
	}

	if err := c.requestFinal(conn); err != nil {
		log.Printf("Failed to request final transcript: %v", err)
	} else {
		c.awaitFinal(final, done)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	_ = conn.Close()
	<-done

	c.mu.Lock()
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	log.Printf("Realtime transcriber closed")
	return nil
}

func (c *RealtimeClient) requestFinal(conn Conn) error {
	return c.write(conn,
		commandMessage{Type: TypeAudioCommit},
		responseCreateMessage{Type: TypeResponseCreate, Response: responseParams{Modalities: []string{"text"}}},
	)
}

func (c *RealtimeClient) awaitFinal(final <-chan struct{}, done <-chan struct{}) {
	if c.cfg.FinalGrace <= 0 {
		return
	}

	timer := time.NewTimer(c.cfg.FinalGrace)
	defer timer.Stop()

	select {
	case <-final:
	case <-done:
	case <-timer.C:
	}
}

// write encodes and sends messages back to back so no other message is
// interleaved between them.
func (c *RealtimeClient) write(conn Conn, messages ...any) error {
	if conn == nil {
		return ErrNotStreaming
	}

	payloads := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode %T: %w", msg, err)
		}
		payloads = append(payloads, payload)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, payload := range payloads {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return fmt.Errorf("failed to send message: %w: %w", ErrTransportError, err)
		}
	}
	return nil
}

func (c *RealtimeClient) abort(conn Conn, done <-chan struct{}) {
	c.mu.Lock()
	if c.state == Connecting {
		c.state = Closing
	}
	c.mu.Unlock()

	_ = conn.Close()
	<-done

	c.mu.Lock()
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()
}

func (c *RealtimeClient) readLoop(conn Conn, done chan struct{}) {
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.state == Closing
			if !closing {
				c.state = Disconnected
				c.conn = nil
			}
			c.mu.Unlock()

			if !closing {
				_ = conn.Close()
				log.Printf("Realtime WebSocket error: %v", err)
				c.emitError(fmt.Errorf("%w: %w", ErrTransportError, err))
			}
			return
		}

		c.handleMessage(payload)
	}
}

func (c *RealtimeClient) handleMessage(payload []byte) {
	var event serverEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("Failed to parse realtime message: %v", err)
		c.emitError(fmt.Errorf("%w: %w", ErrMalformedMessage, err))
		return
	}

	switch classify(event.Type) {
	case eventDelta:
		c.mu.Lock()
		c.buffer += event.deltaText()
		text := c.buffer
		c.mu.Unlock()
		c.emitTranscript(text, false)

	case eventCompletion:
		text := event.finalText()
		c.mu.Lock()
		if text == "" {
			text = c.buffer
		} else {
			c.buffer = text
		}
		final := c.final
		c.mu.Unlock()

		c.emitTranscript(text, true)
		select {
		case final <- struct{}{}:
		default:
		}

	case eventSnapshot:
		c.mu.Lock()
		c.buffer = event.snapshotText()
		text := c.buffer
		c.mu.Unlock()
		c.emitTranscript(text, false)

	case eventError:
		message := "unknown error"
		if event.Error != nil && strings.TrimSpace(event.Error.Message) != "" {
			message = event.Error.Message
		}
		log.Printf("Realtime service error: %s", message)
		c.emitError(fmt.Errorf("%w: %s", ErrRemote, message))
	}
}

func (c *RealtimeClient) emitTranscript(text string, final bool) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.OnTranscript(text, final)
	}
}

func (c *RealtimeClient) emitError(err error) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.OnError(err)
	}
}

func (c *RealtimeClient) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *RealtimeClient) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	query := u.Query()
	if query.Get("model") == "" {
		query.Set("model", c.cfg.Model)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// subprotocols carries the credential in the handshake, never in a message body.
func (c *RealtimeClient) subprotocols() []string {
	return []string{
		subprotocolRealtime,
		subprotocolKey + strings.TrimSpace(c.cfg.APIKey),
		subprotocolBeta,
	}
}
