package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// TCPChannel is a Channel backed by a raw net.Conn, framing outbound writes
// with a 4-byte big-endian length prefix so the peer can delimit datagrams on
// a byte stream.
type TCPChannel struct {
	activity

	id   string
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

// NewTCPChannel wraps an accepted connection as a Channel under id.
func NewTCPChannel(id string, conn net.Conn) *TCPChannel {
	return &TCPChannel{
		activity: newActivity(),
		id:       id,
		conn:     conn,
	}
}

func (c *TCPChannel) ID() string { return c.id }

func (c *TCPChannel) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *TCPChannel) Port() int {
	_, portStr, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return 0
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	return port
}

// Write sends data framed with a 4-byte length prefix.
func (c *TCPChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *TCPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ReadFrame blocks until one length-prefixed frame has been read from the
// connection, or returns an error (including io.EOF on clean peer close).
func (c *TCPChannel) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
