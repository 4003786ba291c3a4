package signalws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ownerofglory/go-pion-rtcbridge/signaling"
)

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer
	wmx  sync.Mutex
	once sync.Once
}

var _ signaling.Client = (*client)(nil)

func NewWebSocketClient(ctx context.Context, wsURL string, header http.Header) (*client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		slog.Error("WebSocket Dial error:", "err", err)
		return nil, fmt.Errorf("WebSocket Dial error: %w", err)
	}

	return &client{
		conn: ws,
	}, nil
}

func (c *client) Write(message *signaling.ClientMessage) error {
	c.wmx.Lock()
	defer c.wmx.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(message)
	if err != nil {
		slog.Error("error writing to websocket:", "err", err)
		return fmt.Errorf("error writing to websocket: %w", err)
	}

	return nil
}

func (c *client) Read() (*signaling.ClientMessage, error) {
	var m signaling.ClientMessage
	err := c.conn.ReadJSON(&m)
	if err != nil {
		slog.Error("error reading from client:", "err", err)
		return nil, fmt.Errorf("error reading from client: %w", err)
	}

	return &m, nil
}

// Close sends a close frame and closes the connection. Later calls are no-ops.
func (c *client) Close() error {
	if c.conn == nil {
		return nil
	}

	var err error
	c.once.Do(func() {
		slog.Debug("closing websocket client")
		c.wmx.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmx.Unlock()

		if err = c.conn.Close(); err != nil {
			slog.Error("error when closing websocket connection", "err", err)
			return
		}
		slog.Debug("closed websocket client")
	})
	return err
}
