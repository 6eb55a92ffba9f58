package transcriber

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message-oriented connection a client streams over.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a connection negotiating the given subprotocols.
type DialFunc func(ctx context.Context, url string, subprotocols []string) (Conn, error)

// WebsocketDialer returns a DialFunc backed by a gorilla websocket dialer.
// A nil dialer uses websocket.DefaultDialer.
func WebsocketDialer(d *websocket.Dialer) DialFunc {
	if d == nil {
		d = websocket.DefaultDialer
	}

	return func(ctx context.Context, url string, subprotocols []string) (Conn, error) {
		dialer := *d
		dialer.Subprotocols = subprotocols

		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}
		return conn, nil
	}
}
