// Package wsjson provides helpers for JSON messages over a blocking
// websocket connection.
package wsjson

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncws/syncws"
)

// Read reads the next message from c into v, waiting up to timeout for
// one to arrive. The message must be a text message.
//
// The timeout carries the semantics of Conn.Receive: NoTimeout blocks
// until a message arrives or the connection closes, zero performs a
// single non-blocking check. When the timeout elapses with no message,
// Read reports false with a nil error and leaves v untouched.
func Read(c *syncws.Conn, timeout time.Duration, v interface{}) (bool, error) {
	ok, err := read(c, timeout, v)
	if err != nil {
		return false, fmt.Errorf("failed to read json: %w", err)
	}
	return ok, nil
}

func read(c *syncws.Conn, timeout time.Duration, v interface{}) (bool, error) {
	typ, p, err := c.Receive(timeout)
	if err != nil {
		return false, err
	}
	if typ == 0 {
		return false, nil
	}

	if typ != syncws.MessageText {
		return false, fmt.Errorf("unexpected message type for json (expected %v): %v", syncws.MessageText, typ)
	}

	err = json.Unmarshal(p, v)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return true, nil
}

// Write writes the json message v to c.
func Write(c *syncws.Conn, v interface{}) error {
	err := write(c, v)
	if err != nil {
		return fmt.Errorf("failed to write json: %w", err)
	}
	return nil
}

func write(c *syncws.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal json: %w", err)
	}
	return c.Send(syncws.MessageText, b)
}
