package transport

import (
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel is a Channel backed by a gorilla/websocket connection. Each
// Write is sent as a single binary message; the channel handles its own
// write-mutex since gorilla's *websocket.Conn permits only one concurrent
// writer.
type WSChannel struct {
	activity

	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSChannel wraps an upgraded websocket connection as a Channel under id.
func NewWSChannel(id string, conn *websocket.Conn) *WSChannel {
	return &WSChannel{
		activity: newActivity(),
		id:       id,
		conn:     conn,
	}
}

func (c *WSChannel) ID() string { return c.id }

func (c *WSChannel) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *WSChannel) Port() int {
	_, portStr, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return 0
	}
	var port int
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return 0
		}
		port = port*10 + int(r-'0')
	}
	return port
}

func (c *WSChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ReadFrame blocks until one binary message has been read from the
// connection.
func (c *WSChannel) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}
