package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
	"github.com/Logan27/1000-messenger-sub002/errors"
)

const writeWait = 10 * time.Second

// Connection states. A connection is born handshaking, becomes
// authenticated once the registry admitted it, and is closed forever
// after; there is no way back.
const (
	stateHandshaking int32 = iota
	stateAuthenticated
	stateClosed
)

// Conn wraps one websocket and coordinates outbound writes through a
// buffered channel; the write loop is the only goroutine that touches
// the socket for writes. Conn is the process's EventSink for this
// client: fanout events arrive through Consume and leave through the
// pump.
type Conn struct {
	ID     string
	UserID string

	ws         *websocket.Conn
	send       chan []byte
	once       sync.Once
	closed     chan struct{}
	state      atomic.Int32
	pingPeriod time.Duration
	onClose    func()
}

func newConn(id, userID string, socket *websocket.Conn, bufferSize int, pingPeriod time.Duration) *Conn {
	c := &Conn{
		ID:         id,
		UserID:     userID,
		ws:         socket,
		send:       make(chan []byte, bufferSize),
		closed:     make(chan struct{}),
		pingPeriod: pingPeriod,
	}
	c.state.Store(stateHandshaking)
	return c
}

var _ contract.EventSink = (*Conn)(nil)

// Consume serializes the event and enqueues it. A full buffer means the
// client cannot keep up; the connection is closed so backpressure stays
// bounded, and the error tells the registry the push did not happen.
func (c *Conn) Consume(_ context.Context, e event.DomainEvent) error {
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Conn) enqueue(data []byte) error {
	select {
	case <-c.closed:
		return errors.ErrConnectionClosed
	case c.send <- data:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.ErrConnectionClosed
	}
}

// sendError reports a client-visible failure on this connection only.
func (c *Conn) sendError(err error) {
	data, encodeErr := encodeError(err)
	if encodeErr != nil {
		return
	}
	_ = c.enqueue(data)
}

// Shutdown is the registry's eviction path: it closes the socket so
// the read and write pumps unwind instead of lingering until a
// deadline fires.
func (c *Conn) Shutdown(reason string) {
	c.Close(websocket.CloseGoingAway, reason)
}

// Close terminates the connection and stops the write loop. Safe to
// call from any goroutine, any number of times.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		c.state.Store(stateClosed)
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Conn) authenticated() bool {
	return c.state.Load() == stateAuthenticated
}

// writeLoop drains the send channel and keeps the peer alive with
// pings. It exits when the connection closes or a write fails.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
