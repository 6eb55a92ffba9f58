package transcriber

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredential is returned by Start when no API key is configured.
	ErrMissingCredential = errors.New("transcription API key is not configured")
	// ErrTransportUnavailable is returned by Start when no dial function was provided.
	ErrTransportUnavailable = errors.New("no network transport available")
	// ErrTransportError reports a dial failure, a failed write, or an unexpected close.
	ErrTransportError = errors.New("transport error")
	// ErrMalformedMessage reports an inbound message that could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrRemote reports an error event sent by the transcription service.
	ErrRemote = errors.New("transcription service error")
	// ErrNotStreaming is returned when a command needs an open stream.
	ErrNotStreaming = errors.New("transcription stream is not open")
	// ErrAlreadyStarted is returned by Start on a client that is not disconnected.
	ErrAlreadyStarted = errors.New("transcription client already started")
)

// Client is the common interface for streaming transcription backends.
type Client interface {
	// Start opens the stream. language may be empty.
	Start(ctx context.Context, language string) error
	// SendAudio forwards one PCM16 frame. It is a no-op when the stream is not open.
	SendAudio(frame []byte) error
	// RequestFinal asks the backend to finalize the buffered audio.
	RequestFinal() error
	// Stop finalizes and closes the stream. Safe to call more than once, and
	// concurrently with Start: it waits for a pending Start to finish first.
	Stop() error
	// Subscribe registers the single receiver of transcript and error events.
	Subscribe(h Handler)
}

// Handler receives client events in arrival order. Clients never call it
// from inside their own methods, so handlers may take locks held around
// those calls.
type Handler interface {
	OnTranscript(text string, final bool)
	OnError(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Transcript func(text string, final bool)
	Error      func(err error)
}

func (h HandlerFuncs) OnTranscript(text string, final bool) {
	if h.Transcript != nil {
		h.Transcript(text, final)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
