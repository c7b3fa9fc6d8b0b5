package syncws

import (
	"io"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/syncws/syncws/wsengine"
)

// MessageType represents the type of a WebSocket message.
// See https://tools.ietf.org/html/rfc6455#section-5.6
type MessageType int

// MessageType constants.
const (
	// MessageText is for UTF-8 encoded text messages like JSON.
	MessageText MessageType = iota + 1
	// MessageBinary is for binary messages like Protobufs.
	MessageBinary
)

// NoTimeout makes Receive block until a message arrives or the
// connection closes.
const NoTimeout time.Duration = -1

const (
	defaultReceiveBufferSize = 4096
	defaultCloseTimeout      = 5 * time.Second
)

type message struct {
	typ  MessageType
	data []byte
}

// Conn represents a WebSocket connection.
//
// A Conn is driven by a single background goroutine that reads the
// network, so the foreground never needs to. The blocking methods
// assume one foreground caller at a time: Send, Receive and Close are
// each safe against the background goroutine, but not against
// concurrent calls to themselves.
//
// Be sure to call Close when you are finished with a Conn.
type Conn struct {
	rwc    io.ReadWriteCloser
	engine *wsengine.Engine
	server bool

	receiveBufferSize int
	closeTimeout      time.Duration

	// mu guards the engine, writes to rwc, pending, connected and
	// peerClose as one critical section shared with the reader
	// goroutine.
	mu        sync.Mutex
	pending   *queue.Queue
	connected bool
	peerClose *CloseError

	// signal holds at most one wakeup token for a blocked Receive.
	signal   chan struct{}
	ready    chan struct{}
	loopDone chan struct{}

	closeTransportOnce sync.Once
}

// newConn starts the reader goroutine and blocks until its first event
// pass has drained whatever the handshake bytes produced.
func newConn(rwc io.ReadWriteCloser, engine *wsengine.Engine, server bool, receiveBufferSize int, closeTimeout time.Duration) *Conn {
	c := &Conn{
		rwc:               rwc,
		engine:            engine,
		server:            server,
		receiveBufferSize: receiveBufferSize,
		closeTimeout:      closeTimeout,
		pending:           queue.New(),
		signal:            make(chan struct{}, 1),
		ready:             make(chan struct{}),
		loopDone:          make(chan struct{}),
	}

	go c.readLoop()
	<-c.ready

	return c
}

// notify wakes a Receive blocked on the signal channel. A token left
// behind when nobody is waiting costs the next waiter one extra state
// check, never a missed wakeup.
func (c *Conn) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Conn) readLoop() {
	defer close(c.loopDone)
	defer c.closeTransport()

	c.mu.Lock()
	c.connected = c.dispatchEvents()
	c.mu.Unlock()
	close(c.ready)

	buf := make([]byte, c.receiveBufferSize)
	for {
		c.mu.Lock()
		connected := c.connected
		c.mu.Unlock()
		if !connected {
			return
		}

		n, err := c.rwc.Read(buf)
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.notify()
			return
		}

		c.mu.Lock()
		if err := c.engine.Receive(buf[:n]); err != nil {
			c.connected = false
			c.mu.Unlock()
			c.notify()
			return
		}
		c.connected = c.dispatchEvents()
		c.mu.Unlock()
	}
}

// dispatchEvents processes every event the engine has pending and
// reports whether the connection is still up. Automatic replies
// (handshake acceptance, pongs, mirrored closes) are accumulated and
// written as one batch; a protocol failure mid-batch discards them all
// so no partial reply reaches the wire.
//
// The caller must hold mu.
func (c *Conn) dispatchEvents() bool {
	keepGoing := true
	var out []byte

	for keepGoing {
		evs := c.engine.Events()
		if len(evs) == 0 {
			break
		}
		for _, ev := range evs {
			switch ev := ev.(type) {
			case wsengine.Request:
				b, err := c.engine.Send(wsengine.AcceptConnection{})
				if err != nil {
					c.notify()
					return false
				}
				out = append(out, b...)

			case wsengine.CloseConnection:
				if c.server {
					// Mirror the close back, unless we closed first.
					if b, err := c.engine.Send(ev.Response()); err == nil {
						out = append(out, b...)
					}
				}
				c.peerClose = &CloseError{Code: ev.Code, Reason: ev.Reason}
				c.notify()
				keepGoing = false

			case wsengine.Ping:
				b, err := c.engine.Send(ev.Response())
				if err != nil {
					c.notify()
					return false
				}
				out = append(out, b...)

			case wsengine.Pong:
				// No reaction required.

			case wsengine.TextMessage:
				c.pending.Add(message{typ: MessageText, data: []byte(ev.Data)})
				c.notify()

			case wsengine.BytesMessage:
				c.pending.Add(message{typ: MessageBinary, data: ev.Data})
				c.notify()

			case wsengine.AcceptConnection, wsengine.RejectConnection:
				// Consumed synchronously by Dial, never seen here.
			}
		}
	}

	if len(out) > 0 {
		if _, err := c.rwc.Write(out); err != nil {
			c.notify()
			return false
		}
	}
	return keepGoing
}

func (c *Conn) closeTransport() {
	c.closeTransportOnce.Do(func() {
		c.rwc.Close()
	})
}
