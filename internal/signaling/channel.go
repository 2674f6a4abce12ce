package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// pingInterval and pongWait are used for heartbeat.
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
	maxFrameSize = 65536
)

// Channel is one participant's exclusively-owned duplex message handle.
// Send is best-effort: once the channel is closed (or its buffer is full)
// frames are dropped silently.
type Channel interface {
	Send(Signal)
	Close()
}

// wsChannel implements Channel over a gorilla websocket connection.
// Outbound frames go through a buffered channel drained by writePump.
type wsChannel struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newWSChannel(conn *websocket.Conn, logger *zap.Logger) *wsChannel {
	c := &wsChannel{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.writePump()
	return c
}

// Send enqueues a frame for delivery. No-op after Close; frames are also
// dropped when the buffer is full (slow consumer).
func (c *wsChannel) Send(s Signal) {
	data, err := Encode(s)
	if err != nil {
		c.logger.Warn("encode outbound frame", zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		// buffer full, skip
	}
}

// Close stops accepting sends and lets writePump flush what is already
// queued before the underlying connection is torn down.
func (c *wsChannel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// flush pending frames, then signal close to the client
			for {
				select {
				case data := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
