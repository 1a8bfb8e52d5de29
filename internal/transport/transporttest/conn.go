// Package transporttest provides an in-memory transport.Conn for tests.
package transporttest

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/zsiec/tscast/internal/transport"
)

// Write is one recorded Conn.Write.
type Write struct {
	At   time.Time
	Data []byte
}

// Conn is an in-memory transport.Conn. Writes are recorded; ReadMessage
// returns the messages queued with Push and io.EOF after CloseWrite.
type Conn struct {
	// FailAfter makes every write after the first FailAfter writes fail
	// with WriteErr. Zero disables.
	FailAfter int
	WriteErr  error
	// Block makes Write wait until Close.
	Block bool
	ID    string

	mu      sync.Mutex
	writes  []Write
	inbox   []transport.Message
	eof     bool
	closed  bool
	closeCh chan struct{}
	notify  chan struct{}
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		closeCh: make(chan struct{}),
		notify:  make(chan struct{}, 1),
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	if c.FailAfter > 0 && len(c.writes) >= c.FailAfter {
		c.mu.Unlock()
		err := c.WriteErr
		if err == nil {
			err = errors.New("transporttest: write failed")
		}
		return 0, err
	}
	block := c.Block
	c.mu.Unlock()

	if block {
		<-c.closeCh
		return 0, net.ErrClosed
	}

	data := make([]byte, len(p))
	copy(data, p)
	c.mu.Lock()
	c.writes = append(c.writes, Write{At: time.Now(), Data: data})
	c.mu.Unlock()
	return len(p), nil
}

// Writes returns a copy of the recorded writes.
func (c *Conn) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// Push queues a message for ReadMessage.
func (c *Conn) Push(data []byte) {
	c.mu.Lock()
	c.inbox = append(c.inbox, transport.Message{Time: time.Now(), Data: data})
	c.mu.Unlock()
	c.wake()
}

// CloseWrite makes ReadMessage return io.EOF once the inbox is empty.
func (c *Conn) CloseWrite() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
	c.wake()
}

func (c *Conn) ReadMessage() (transport.Message, error) {
	for {
		c.mu.Lock()
		switch {
		case len(c.inbox) > 0:
			m := c.inbox[0]
			c.inbox = c.inbox[1:]
			c.mu.Unlock()
			return m, nil
		case c.closed:
			c.mu.Unlock()
			return transport.Message{}, net.ErrClosed
		case c.eof:
			c.mu.Unlock()
			return transport.Message{}, io.EOF
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.closeCh:
		}
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) RemoteAddr() string { return "memory" }

func (c *Conn) StreamID() string { return c.ID }

func (c *Conn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
