package hub

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nimbus-tales/aegis-gateway/internal/dispatch"
)

func connectionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("hub: generate connection id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Connection is the per-connection actor spec §9 calls for: one
// goroutine pair (read/write pumps) owning the socket, plus the identity
// and role set resolved at negotiate time. It never holds encryption key
// material directly — that lives in the encryption.Service, keyed by
// UserID, so it survives across every connection the same user opens.
type Connection struct {
	ID      string
	Caller  dispatch.Caller
	HubName string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(id, hubName string, caller dispatch.Caller, conn *websocket.Conn) *Connection {
	return &Connection{
		ID:      id,
		Caller:  caller,
		HubName: hubName,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// enqueue schedules payload for delivery without blocking the caller; a
// connection whose send buffer is full is treated as unresponsive and
// closed rather than letting one slow reader stall the hub.
func (c *Connection) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		c.closeSend()
	}
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads inbound frames and hands each to handle until the
// connection closes. It must run on its own goroutine.
func (c *Connection) readPump(handle func(raw []byte)) {
	defer func() {
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(raw)
	}
}

// writePump drains the send channel to the socket and keeps the
// connection alive with periodic pings, until closed.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logx.Errorf("hub: write to connection %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
