package service

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wellness_hub/server/hub/domain"
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

type WSConfig struct {
	SendBuffer int
	ReadLimit  int64
	PongWait   time.Duration
	WriteWait  time.Duration
}

func DefaultWSConfig() WSConfig {
	return WSConfig{
		SendBuffer: 64,
		ReadLimit:  64 << 10,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	def := DefaultWSConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	return c
}

func (c WSConfig) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// WSConn adapts a gorilla connection to Conn. Pushes are queued and written
// by a single writer goroutine, so a slow peer only fills its own buffer.
type WSConn struct {
	id        string
	userID    string
	ws        *websocket.Conn
	cfg       WSConfig
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSConn(ws *websocket.Conn, userID string, cfg WSConfig) *WSConn {
	cfg = cfg.withDefaults()
	return &WSConn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *WSConn) ID() string     { return c.id }
func (c *WSConn) UserID() string { return c.userID }

func (c *WSConn) Push(ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *WSConn) enqueue(b []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Close stops the writer, which then sends a close frame and releases the
// socket. Safe to call more than once.
func (c *WSConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()
	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// flush writes whatever is still queued when the connection is closing.
func (c *WSConn) flush() {
	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		default:
			return
		}
	}
}
