package wsengine

import "net/http"

// Event is a protocol event, either emitted by the engine after feeding
// it wire bytes or handed to Send to be encoded as wire bytes.
//
// The set of events is closed. Dispatch with a type switch over the
// concrete types below.
type Event interface {
	event()
}

// Request is the opening handshake.
//
// Emitted by a server engine once the client's upgrade request has been
// received. Sent on a client engine to produce the upgrade request.
type Request struct {
	// Host is the value of the Host header.
	Host string
	// Target is the request target, e.g. "/chat?room=ops".
	Target string
	// Header holds the request headers beyond the ones the engine
	// owns. On send, headers that are part of the upgrade itself
	// (Upgrade, Connection, Sec-WebSocket-*) are ignored.
	Header http.Header
}

// AcceptConnection accepts a received Request.
//
// Sent on a server engine to produce the 101 response. Emitted by a
// client engine when the server accepted the handshake.
type AcceptConnection struct{}

// RejectConnection rejects a received Request with an HTTP status.
//
// Sent on a server engine to produce the error response. Emitted by a
// client engine when the server answered with anything but a 101.
type RejectConnection struct {
	StatusCode int
}

// CloseConnection is a close frame.
type CloseConnection struct {
	Code   StatusCode
	Reason string
}

// Response returns the close frame to mirror back to the peer. Codes
// that cannot appear on the wire, such as StatusNoStatusRcvd, are
// answered with StatusNormalClosure.
func (ev CloseConnection) Response() CloseConnection {
	code := ev.Code
	if !validWireCloseCode(code) {
		code = StatusNormalClosure
	}
	return CloseConnection{Code: code, Reason: ev.Reason}
}

// Ping is a ping frame.
type Ping struct {
	Payload []byte
}

// Response returns the pong reply for the ping.
func (ev Ping) Response() Pong {
	return Pong{Payload: ev.Payload}
}

// Pong is a pong frame. The engine emits pongs but never requires a
// reaction to them.
type Pong struct {
	Payload []byte
}

// TextMessage is a complete text message, reassembled across fragments.
type TextMessage struct {
	Data string
}

// BytesMessage is a complete binary message, reassembled across
// fragments.
type BytesMessage struct {
	Data []byte
}

func (Request) event()          {}
func (AcceptConnection) event() {}
func (RejectConnection) event() {}
func (CloseConnection) event()  {}
func (Ping) event()             {}
func (Pong) event()             {}
func (TextMessage) event()      {}
func (BytesMessage) event()     {}
