package realtime

import (
	stdErrors "errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrConnectionGone is returned by Send once a connection is closed or has fallen
// too far behind to keep.
var ErrConnectionGone = stdErrors.New("realtime: connection gone")

// Conn is the engine's handle on one physical connection. Send must not block.
type Conn interface {
	ID() string
	Send(msg Message) error
	Close() error
}

type wsConn struct {
	id     string
	socket *websocket.Conn
	opts   ServerOptions
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
	send   chan Message
}

func newWSConn(id string, socket *websocket.Conn, opts ServerOptions, log *zap.Logger) *wsConn {
	return &wsConn{
		id:     id,
		socket: socket,
		opts:   opts,
		log:    log,
		send:   make(chan Message, opts.SendBuffer),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

// Send queues msg for the writer. A full queue closes the connection.
func (c *wsConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionGone
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.log.Warn("dropping backpressure connection", zap.String("connection_id", c.id))
		c.closeLocked()
		return ErrConnectionGone
	}
}

// Close stops accepting messages. Already queued messages are flushed before the
// close frame is written.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *wsConn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsConn) readLoop(handle func(payload []byte)) {
	defer c.Close()

	c.socket.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		messageType, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("unexpected close", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage || len(payload) == 0 {
			continue
		}
		handle(payload)
	}
}

func (c *wsConn) writeLoop() {
	defer c.socket.Close()

	ticker := time.NewTicker(c.opts.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
