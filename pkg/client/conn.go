package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Conn is a chat connection to one path.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Dial opens the chat channel of path. The first message received is the
// room's current text.
func (c *Client) Dial(ctx context.Context, path string) (*Conn, error) {
	u := c.base + "/chat/" + path
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	default:
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// Send writes the whole text as one message.
func (c *Conn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive blocks for the next text from the room.
func (c *Conn) Receive() (string, error) {
	for {
		mt, p, err := c.ws.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read message: %w", err)
		}
		if mt == websocket.TextMessage {
			return string(p), nil
		}
	}
}

// Close says goodbye to the server and closes the socket.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
	return c.ws.Close()
}
