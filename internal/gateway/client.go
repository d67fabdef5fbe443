package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// clientSendBuffer bounds queued outbound frames per connection.
	clientSendBuffer = 256
	writeTimeout     = 10 * time.Second
)

// ErrClientGone is returned by Send once the connection is closed or
// its outbound buffer overflows. The pool uses it to evict the
// subscriber.
var ErrClientGone = errors.New("client gone")

// Client wraps one WebSocket connection with a buffered write pump so
// broadcasts never block on a slow consumer. It implements
// pool.Subscriber.
type Client struct {
	id   string
	conn *websocket.Conn

	sendCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps a connection and starts its write pump.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, clientSendBuffer),
		closed: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// ID returns the connection id, used only for logging.
func (c *Client) ID() string { return c.id }

// Send queues a frame for delivery. It never blocks: a full buffer
// marks the client dead so the pool evicts it on this send.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClientGone
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		slog.Warn("client send buffer full, dropping connection", "client", c.id)
		c.Close()
		return ErrClientGone
	}
}

// SendJSON marshals and queues a payload.
func (c *Client) SendJSON(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close shuts the write pump down and closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// ReadMessage reads the next text frame from the connection.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			// Drain what is already queued, then stop.
			for {
				select {
				case data := <-c.sendCh:
					c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if c.conn.WriteMessage(websocket.TextMessage, data) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
