package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// client is one websocket connection. The reader runs on the handler
// goroutine and the writer on its own goroutine; only the writer touches
// the socket after the handshake.
type client struct {
	id     string
	userID string // empty for anonymous observers
	conn   *websocket.Conn
	gw     *Gateway

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) anonymous() bool { return c.userID == "" }

func (c *client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue queues msg without blocking. When the buffer is full the message
// is dropped for this connection only.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.gw.metrics.Dropped()
		c.gw.logger.Warn("realtime: send buffer full, dropping event",
			"connection_id", c.id, "user_id", c.userID)
		return false
	}
}

// close tears the connection down exactly once, whichever side notices first.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.gw.unregister(c)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.close()

	readWait := 2 * c.gw.cfg.PingInterval
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Debug("realtime: read failed", "connection_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.gw.dispatch(c, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
