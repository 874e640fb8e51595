package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by Send and Ping after Close.
	ErrClosed = errors.New("connection closed")
	// ErrBufferFull is returned by Send when the outbound queue is full.
	ErrBufferFull = errors.New("send buffer full")
)

// Conn adapts a gorilla WebSocket connection to connection.Transport.
// Send and Ping only queue; a dedicated writer goroutine performs the writes,
// and Close tears the socket down in the background, so the caller never
// blocks on a slow peer.
type Conn struct {
	ws   *websocket.Conn
	addr string

	send chan []byte
	ping chan struct{}
	done chan struct{}
	gone chan struct{}
	once sync.Once

	writeTimeout time.Duration
}

// NewConn wraps ws with an outbound queue of depth buffer.
//
// Precondition: ws must be an open connection; buffer must be >= 1.
// Postcondition: Returns a Conn; call WritePump to start draining the queue.
func NewConn(ws *websocket.Conn, addr string, buffer int, writeTimeout time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		addr:         addr,
		send:         make(chan []byte, buffer),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		gone:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send queues frame for writing.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Ping queues a ping control frame for the writer. A ping already pending is
// not duplicated.
func (c *Conn) Ping() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the connection closed and, in the background, sends a close
// frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		go func() {
			defer close(c.gone)
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				c.deadline(),
			)
			_ = c.ws.Close()
		}()
	})
	return nil
}

// RemoteAddr returns the peer address the connection was accepted from.
func (c *Conn) RemoteAddr() string { return c.addr }

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Gone is closed once the socket itself has been closed after Close.
func (c *Conn) Gone() <-chan struct{} { return c.gone }

// WritePump writes queued frames and pings until the connection closes. A
// failed write closes the connection.
func (c *Conn) WritePump() error {
	for {
		select {
		case <-c.done:
			return nil
		case <-c.ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				_ = c.Close()
				return err
			}
		case frame := <-c.send:
			if c.writeTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.Close()
				return err
			}
		}
	}
}

func (c *Conn) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Now().Add(10 * time.Second)
	}
	return time.Now().Add(c.writeTimeout)
}
