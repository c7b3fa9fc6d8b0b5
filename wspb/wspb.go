// Package wspb provides helpers for protobuf messages over a blocking
// websocket connection.
package wspb

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/syncws/syncws"
)

// Read reads the next message from c into v, waiting up to timeout for
// one to arrive. The message must be a binary message.
//
// The timeout carries the semantics of Conn.Receive: NoTimeout blocks
// until a message arrives or the connection closes, zero performs a
// single non-blocking check. When the timeout elapses with no message,
// Read reports false with a nil error and leaves v untouched.
func Read(c *syncws.Conn, timeout time.Duration, v proto.Message) (bool, error) {
	ok, err := read(c, timeout, v)
	if err != nil {
		return false, fmt.Errorf("failed to read protobuf: %w", err)
	}
	return ok, nil
}

func read(c *syncws.Conn, timeout time.Duration, v proto.Message) (bool, error) {
	typ, p, err := c.Receive(timeout)
	if err != nil {
		return false, err
	}
	if typ == 0 {
		return false, nil
	}

	if typ != syncws.MessageBinary {
		return false, fmt.Errorf("unexpected message type for protobuf (expected %v): %v", syncws.MessageBinary, typ)
	}

	err = proto.Unmarshal(p, v)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal protobuf: %w", err)
	}
	return true, nil
}

// Write writes the protobuf message v to c.
func Write(c *syncws.Conn, v proto.Message) error {
	err := write(c, v)
	if err != nil {
		return fmt.Errorf("failed to write protobuf: %w", err)
	}
	return nil
}

func write(c *syncws.Conn, v proto.Message) error {
	b, err := proto.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}
	return c.Send(syncws.MessageBinary, b)
}
