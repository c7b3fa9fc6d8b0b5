package syncws

import (
	"fmt"

	"github.com/syncws/syncws/wsengine"
)

// Send sends a single message of the given type.
//
// It fails with ErrConnectionClosed once the connection has left the
// open state. A transport write failure also tears the connection down.
func (c *Conn) Send(typ MessageType, p []byte) error {
	var ev wsengine.Event
	switch typ {
	case MessageText:
		ev = wsengine.TextMessage{Data: string(p)}
	case MessageBinary:
		ev = wsengine.BytesMessage{Data: p}
	default:
		return fmt.Errorf("unknown message type %v", typ)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return connectionClosedError{close: c.peerClose}
	}

	b, err := c.engine.Send(ev)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if _, err := c.rwc.Write(b); err != nil {
		c.connected = false
		c.notify()
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// SendText sends s as a text message.
func (c *Conn) SendText(s string) error {
	return c.Send(MessageText, []byte(s))
}

// SendBinary sends p as a binary message.
func (c *Conn) SendBinary(p []byte) error {
	return c.Send(MessageBinary, p)
}
