package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amanullahtanweer/realtime-transcriber/internal/session"
)

// HTTPServer exposes the browser frame source on /ws, Prometheus metrics on
// /metrics and a health check on /healthz.
type HTTPServer struct {
	app     *fiber.App
	backend *Backend
}

// Messages pushed to websocket clients.
type transcriptMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type voiceStateMessage struct {
	Type               string `json:"type"`
	SessionID          string `json:"session_id"`
	IsRecording        bool   `json:"is_recording"`
	IsStreaming        bool   `json:"is_streaming"`
	SilenceCountdownMs uint   `json:"silence_countdown_ms"`
	Error              string `json:"error,omitempty"`
}

type controlMessage struct {
	Type string `json:"type"`
}

func NewHTTPServer(backend *Backend, gatherer prometheus.Gatherer) *HTTPServer {
	h := &HTTPServer{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		backend: backend,
	}

	h.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	if gatherer != nil {
		h.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	h.app.Get("/ws", websocket.New(h.handleStream))

	return h
}

func (h *HTTPServer) Listen(addr string) error {
	log.Printf("HTTP server listening on %s", addr)
	return h.app.Listen(addr)
}

// Serve accepts connections on an existing listener.
func (h *HTTPServer) Serve(ln net.Listener) error {
	return h.app.Listener(ln)
}

func (h *HTTPServer) Shutdown() error {
	return h.app.Shutdown()
}

// App returns the underlying Fiber application.
func (h *HTTPServer) App() *fiber.App {
	return h.app
}

// handleStream runs one session for the lifetime of the websocket. Binary
// messages are PCM16 frames; a {"type":"stop"} text message ends the session.
func (h *HTTPServer) handleStream(ws *websocket.Conn) {
	defer ws.Close()

	id := uuid.New()
	language := ws.Query("language")
	sampleRate, _ := strconv.Atoi(ws.Query("sample_rate"))

	push := &wsObserver{conn: ws}
	c, err := h.backend.startCall(context.Background(), id, language, sampleRate, push)
	if err != nil {
		// the error voice state has already been pushed
		log.Printf("Session %s: Failed to start transcription: %v", id, err)
		return
	}
	defer c.finish()

	log.Printf("Session %s: websocket stream connected from %s", id, ws.RemoteAddr())

	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Session %s: read error: %v", id, err)
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			if err := c.sendAudio(msg); err != nil {
				log.Printf("Session %s: %v", id, err)
			}

		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(msg, &ctl); err != nil {
				log.Printf("Session %s: invalid control message: %v", id, err)
				continue
			}
			if ctl.Type == "stop" {
				log.Printf("Session %s: stop requested", id)
				c.finish()
				return
			}
			log.Printf("Session %s: unknown control message: %s", id, ctl.Type)
		}
	}
}

// wsObserver relays session events to the websocket client.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) OnTranscript(ev session.TranscriptEvent) {
	o.write(transcriptMessage{Type: "transcript", Text: ev.Text, Final: ev.Final})
}

func (o *wsObserver) OnVoiceState(st session.VoiceState) {
	msg := voiceStateMessage{
		Type:               "voice_state",
		SessionID:          st.SessionID.String(),
		IsRecording:        st.IsRecording,
		IsStreaming:        st.IsStreaming,
		SilenceCountdownMs: st.SilenceCountdownMs,
	}
	if st.Err != nil {
		msg.Error = st.Err.Error()
	}
	o.write(msg)
}

func (o *wsObserver) write(v interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.WriteJSON(v); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
