package syncws

import "time"

// Receive returns the oldest queued message, waiting up to timeout for
// one to arrive. Messages are returned in the order the peer sent them.
//
// A timeout of NoTimeout (or any negative duration) blocks until a
// message arrives or the connection closes. A timeout of zero performs
// a single non-blocking check.
//
// When the timeout elapses with no message, Receive returns a zero
// MessageType and nil error: no data is not an error. Once the
// connection has closed and the queue is drained, Receive fails with
// ErrConnectionClosed; if the peer sent a close frame, the returned
// error also carries the CloseError.
func (c *Conn) Receive(timeout time.Duration) (MessageType, []byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		c.mu.Lock()
		if c.pending.Length() > 0 {
			m := c.pending.Remove().(message)
			c.mu.Unlock()
			return m.typ, m.data, nil
		}
		connected := c.connected
		peerClose := c.peerClose
		c.mu.Unlock()

		if !connected {
			return 0, nil, connectionClosedError{close: peerClose}
		}
		if timeout == 0 {
			return 0, nil, nil
		}

		select {
		case <-c.signal:
		case <-expired:
			return 0, nil, nil
		}
	}
}
