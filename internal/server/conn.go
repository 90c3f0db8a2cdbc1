package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport handle owned by a session. The websocket
// implementation wraps gorilla's single-writer connection; tests substitute
// in-memory fakes.
type Conn interface {
	Send(data []byte) error
	Close() error
}

const writeTimeout = 10 * time.Second

// wsConn serializes writes to a gorilla websocket connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
