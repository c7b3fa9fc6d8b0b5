package syncws

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/syncws/syncws/wsengine"
)

// StatusCode represents a WebSocket close status code.
// https://tools.ietf.org/html/rfc6455#section-7.4
type StatusCode = wsengine.StatusCode

// The status codes registered with IANA, re-exported from wsengine.
// The 4000-4999 range is reserved for arbitrary use by applications.
const (
	StatusNormalClosure           = wsengine.StatusNormalClosure
	StatusGoingAway               = wsengine.StatusGoingAway
	StatusProtocolError           = wsengine.StatusProtocolError
	StatusUnsupportedData         = wsengine.StatusUnsupportedData
	StatusNoStatusRcvd            = wsengine.StatusNoStatusRcvd
	StatusAbnormalClosure         = wsengine.StatusAbnormalClosure
	StatusInvalidFramePayloadData = wsengine.StatusInvalidFramePayloadData
	StatusPolicyViolation         = wsengine.StatusPolicyViolation
	StatusMessageTooBig           = wsengine.StatusMessageTooBig
	StatusMandatoryExtension      = wsengine.StatusMandatoryExtension
	StatusInternalError           = wsengine.StatusInternalError
	StatusServiceRestart          = wsengine.StatusServiceRestart
	StatusTryAgainLater           = wsengine.StatusTryAgainLater
	StatusBadGateway              = wsengine.StatusBadGateway
)

// ErrConnectionClosed is reported by Send and Receive once the
// connection has left the open state. Test for it with errors.Is.
var ErrConnectionClosed = errors.New("websocket connection closed")

// CloseError represents a WebSocket close frame received from the peer.
// Use errors.As, or the CloseStatus convenience wrapper, to extract it
// from an error returned by Send or Receive.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseStatus is a convenience wrapper around errors.As to grab the
// status code from a CloseError. If the passed error is nil or not a
// CloseError, the returned StatusCode will be -1.
func CloseStatus(err error) StatusCode {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// connectionClosedError matches ErrConnectionClosed with errors.Is and,
// when the peer's close frame was observed, unwraps to its CloseError.
type connectionClosedError struct {
	close *CloseError
}

func (e connectionClosedError) Error() string {
	if e.close != nil {
		return fmt.Sprintf("websocket connection closed: %v", *e.close)
	}
	return "websocket connection closed"
}

func (e connectionClosedError) Is(target error) bool {
	return target == ErrConnectionClosed
}

func (e connectionClosedError) Unwrap() error {
	if e.close != nil {
		return *e.close
	}
	return nil
}

// Close performs the closing handshake: it sends a close frame with the
// given status code (zero means StatusNormalClosure) and optional
// reason, then waits for the reader goroutine to observe the peer's
// answer, bounded by the CloseTimeout option.
//
// The write is best effort: a peer that is already gone is not an
// error. Calling Close again after a close frame has been sent, or
// after the peer closed first, is a no-op. Clients also tear down the
// transport, which they own end to end; on the server side the
// transport is released once the reader goroutine exits.
func (c *Conn) Close(code StatusCode, reason string) error {
	if code == 0 {
		code = StatusNormalClosure
	}

	var err error
	c.mu.Lock()
	b, sendErr := c.engine.Send(wsengine.CloseConnection{Code: code, Reason: reason})
	if sendErr == nil {
		if _, werr := c.rwc.Write(b); werr != nil && !peerGone(werr) {
			err = fmt.Errorf("failed to write close frame: %w", werr)
		}
	}
	c.mu.Unlock()

	if !c.server {
		c.closeTransport()
	}

	select {
	case <-c.loopDone:
	case <-time.After(c.closeTimeout):
		// The peer never completed the close handshake. Tearing the
		// transport down unblocks the reader goroutine.
		c.closeTransport()
	}
	return err
}

// peerGone reports whether a write failed because the peer already
// disconnected, which Close deliberately ignores.
func peerGone(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
