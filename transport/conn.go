package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is one established connection to the gateway, framed at the Frame
// level. Implementations must be safe for one concurrent reader and one
// concurrent writer.
type Conn interface {
	ReadFrame(ctx context.Context) (*Frame, error)
	WriteFrame(ctx context.Context, frame *Frame) error
	Close() error
}

// Dialer establishes gateway connections. The manager uses it for the
// initial connect and every reconnect; tests substitute an in-memory
// implementation.
type Dialer interface {
	Dial(ctx context.Context, url, bearerToken string) (Conn, error)
}

// WebSocketDialer dials the gateway over WebSocket, presenting the bearer
// token once in the upgrade request. The server closes the socket on an
// invalid or expired token.
type WebSocketDialer struct{}

// Dial opens the WebSocket and wraps it in the frame codec.
func (WebSocketDialer) Dial(ctx context.Context, url, bearerToken string) (Conn, error) {
	headers := http.Header{}
	if bearerToken != "" {
		headers.Set("Authorization", "Bearer "+bearerToken)
	}

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a coder/websocket connection to the Conn interface.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadFrame(ctx context.Context) (*Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return DecodeFrame(data)
}

func (c *wsConn) WriteFrame(ctx context.Context, frame *Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
