// Package wsengine implements the WebSocket protocol as a sans-io state
// machine.
//
// See https://tools.ietf.org/html/rfc6455
//
// An Engine never touches the network. Wire bytes read off a transport
// are handed to Receive and come back out as a sequence of Events; an
// Event handed to Send comes back as the wire bytes to write. The caller
// owns the transport and decides when to read and write.
//
// An Engine is not safe for concurrent use. Callers that share one
// between goroutines must serialize access themselves.
package wsengine

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

// Role is the side of the connection an Engine speaks for.
type Role int

// Role constants.
const (
	RoleClient Role = iota + 1
	RoleServer
)

// ProtocolError indicates the peer violated the WebSocket protocol or
// an event was sent that is invalid in the engine's current state.
// Once an Engine has reported a ProtocolError from Receive it is dead:
// all further calls fail with the same error.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "websocket protocol violation: " + e.Reason
}

func protocolErrorf(f string, v ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(f, v...)}
}

// Engine is the protocol state machine for one WebSocket connection.
// The zero value is not usable, use New.
type Engine struct {
	role Role

	in      bytes.Buffer
	events  []Event
	failure *ProtocolError

	handshook    bool
	localClosed  bool
	remoteClosed bool

	// opening handshake
	secKey      string
	requestSeen bool

	// fragmented message being reassembled, fragOp zero when idle
	fragOp ws.OpCode
	frag   bytes.Buffer

	maxMessageSize int64
}

// New returns an Engine speaking for the given role.
func New(role Role) *Engine {
	return &Engine{role: role}
}

// SetMaxMessageSize caps the size in bytes of inbound messages,
// counting all fragments of a fragmented message together. A peer
// exceeding the cap is a protocol violation. Zero, the default, means
// no limit.
func (e *Engine) SetMaxMessageSize(n int64) {
	e.maxMessageSize = n
}

// Receive feeds wire bytes into the engine. Completed events become
// available from Events and Next. Incomplete trailing input is buffered
// until the next call.
//
// A non-nil error is always a *ProtocolError and is terminal.
func (e *Engine) Receive(data []byte) error {
	if e.failure != nil {
		return e.failure
	}
	e.in.Write(data)
	return e.parse()
}

// Events drains and returns all pending events in emission order.
func (e *Engine) Events() []Event {
	evs := e.events
	e.events = nil
	return evs
}

// Next pops the oldest pending event, if any.
func (e *Engine) Next() (Event, bool) {
	if len(e.events) == 0 {
		return nil, false
	}
	ev := e.events[0]
	e.events = e.events[1:]
	return ev, true
}

// Send encodes an outbound event into wire bytes.
//
// A non-nil error is always a *ProtocolError. Unlike Receive errors,
// a Send error for an event that is merely invalid right now does not
// kill the engine.
func (e *Engine) Send(ev Event) ([]byte, error) {
	if e.failure != nil {
		return nil, e.failure
	}

	switch ev := ev.(type) {
	case Request:
		if e.role != RoleClient {
			return nil, protocolErrorf("only a client engine sends a handshake request")
		}
		if e.secKey != "" {
			return nil, protocolErrorf("handshake request already sent")
		}
		return e.encodeRequest(ev)

	case AcceptConnection:
		if e.role != RoleServer {
			return nil, protocolErrorf("only a server engine accepts a handshake")
		}
		if !e.requestSeen || e.handshook {
			return nil, protocolErrorf("no handshake request awaiting acceptance")
		}
		b := e.encodeAccept()
		e.handshook = true
		// Frame bytes may have arrived behind the request and been
		// buffered while the handshake was pending.
		if err := e.parse(); err != nil {
			return nil, err
		}
		return b, nil

	case RejectConnection:
		if e.role != RoleServer {
			return nil, protocolErrorf("only a server engine rejects a handshake")
		}
		if !e.requestSeen || e.handshook {
			return nil, protocolErrorf("no handshake request awaiting rejection")
		}
		e.localClosed = true
		e.remoteClosed = true
		return e.encodeReject(ev.StatusCode), nil

	case CloseConnection:
		if !e.handshook {
			return nil, protocolErrorf("connection not established")
		}
		if e.localClosed {
			return nil, protocolErrorf("close frame already sent")
		}
		if !validWireCloseCode(ev.Code) {
			return nil, protocolErrorf("invalid close status code %v", ev.Code)
		}
		e.localClosed = true
		return e.compileFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(ev.Code), ev.Reason)))

	case Ping:
		if err := e.checkOpen(); err != nil {
			return nil, err
		}
		return e.compileFrame(ws.NewPingFrame(ev.Payload))

	case Pong:
		if err := e.checkOpen(); err != nil {
			return nil, err
		}
		return e.compileFrame(ws.NewPongFrame(ev.Payload))

	case TextMessage:
		if err := e.checkOpen(); err != nil {
			return nil, err
		}
		return e.compileFrame(ws.NewTextFrame([]byte(ev.Data)))

	case BytesMessage:
		if err := e.checkOpen(); err != nil {
			return nil, err
		}
		return e.compileFrame(ws.NewBinaryFrame(ev.Data))
	}

	return nil, protocolErrorf("cannot send event %T", ev)
}

func (e *Engine) checkOpen() *ProtocolError {
	if !e.handshook {
		return protocolErrorf("connection not established")
	}
	if e.localClosed || e.remoteClosed {
		return protocolErrorf("connection closed")
	}
	return nil
}

// compileFrame serializes f, masking it first on the client side as
// required by https://tools.ietf.org/html/rfc6455#section-5.3.
func (e *Engine) compileFrame(f ws.Frame) ([]byte, error) {
	if e.role == RoleClient {
		f = ws.MaskFrame(f)
	}
	b, err := ws.CompileFrame(f)
	if err != nil {
		return nil, protocolErrorf("failed to compile frame: %v", err)
	}
	return b, nil
}

func (e *Engine) fail(perr *ProtocolError) error {
	e.failure = perr
	e.in.Reset()
	return perr
}

// parse consumes as much buffered input as possible, queueing events.
func (e *Engine) parse() error {
	for {
		if e.remoteClosed {
			// Nothing after a close frame is meaningful.
			e.in.Reset()
			return nil
		}

		var (
			advanced bool
			err      *ProtocolError
		)
		if !e.handshook {
			advanced, err = e.parseHandshake()
		} else {
			advanced, err = e.parseFrame()
		}
		if err != nil {
			return e.fail(err)
		}
		if !advanced {
			return nil
		}
	}
}

const maxControlPayload = 125

func (e *Engine) parseFrame() (bool, *ProtocolError) {
	b := e.in.Bytes()
	br := bytes.NewReader(b)
	h, err := ws.ReadHeader(br)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, protocolErrorf("malformed frame header: %v", err)
	}

	// Checked against the declared length, before the payload is
	// buffered, so an oversized frame cannot tie up memory first.
	if e.maxMessageSize > 0 && !h.OpCode.IsControl() {
		size := h.Length
		if h.OpCode == ws.OpContinuation {
			size += int64(e.frag.Len())
		}
		if size > e.maxMessageSize {
			return false, protocolErrorf("message of %v bytes exceeds the %v byte limit", size, e.maxMessageSize)
		}
	}

	headerLen := len(b) - br.Len()
	if int64(len(b)-headerLen) < h.Length {
		return false, nil
	}

	if h.Rsv != 0 {
		return false, protocolErrorf("unexpected reserved bits %#x (no extension negotiated)", h.Rsv)
	}
	if e.role == RoleServer && !h.Masked {
		return false, protocolErrorf("received unmasked frame from client")
	}
	if e.role == RoleClient && h.Masked {
		return false, protocolErrorf("received masked frame from server")
	}

	payload := make([]byte, h.Length)
	copy(payload, b[headerLen:headerLen+int(h.Length)])
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}
	e.in.Next(headerLen + int(h.Length))

	return true, e.handleFrame(h, payload)
}

func (e *Engine) handleFrame(h ws.Header, payload []byte) *ProtocolError {
	if h.OpCode.IsControl() {
		if !h.Fin {
			return protocolErrorf("fragmented control frame")
		}
		if h.Length > maxControlPayload {
			return protocolErrorf("control frame payload of %v bytes exceeds %v", h.Length, maxControlPayload)
		}
	}

	switch h.OpCode {
	case ws.OpPing:
		e.events = append(e.events, Ping{Payload: payload})

	case ws.OpPong:
		e.events = append(e.events, Pong{Payload: payload})

	case ws.OpClose:
		return e.handleClose(payload)

	case ws.OpText, ws.OpBinary:
		if e.fragOp != 0 {
			return protocolErrorf("expected continuation frame")
		}
		if !h.Fin {
			e.fragOp = h.OpCode
			e.frag.Write(payload)
			return nil
		}
		return e.emitMessage(h.OpCode, payload)

	case ws.OpContinuation:
		if e.fragOp == 0 {
			return protocolErrorf("unexpected continuation frame")
		}
		e.frag.Write(payload)
		if !h.Fin {
			return nil
		}
		op := e.fragOp
		data := make([]byte, e.frag.Len())
		copy(data, e.frag.Bytes())
		e.fragOp = 0
		e.frag.Reset()
		return e.emitMessage(op, data)

	default:
		return protocolErrorf("unknown opcode %v", h.OpCode)
	}

	return nil
}

func (e *Engine) emitMessage(op ws.OpCode, data []byte) *ProtocolError {
	if op == ws.OpText {
		if !utf8.Valid(data) {
			return protocolErrorf("text message is not valid utf-8")
		}
		e.events = append(e.events, TextMessage{Data: string(data)})
		return nil
	}
	e.events = append(e.events, BytesMessage{Data: data})
	return nil
}

func (e *Engine) handleClose(payload []byte) *ProtocolError {
	if len(payload) == 1 {
		return protocolErrorf("close frame payload of a single byte")
	}

	code, reason := ws.ParseCloseFrameData(payload)
	sc := StatusCode(code)
	if sc == 0 {
		sc = StatusNoStatusRcvd
	} else if !validWireCloseCode(sc) {
		return protocolErrorf("invalid close status code %v", sc)
	}
	if !utf8.ValidString(reason) {
		return protocolErrorf("close reason is not valid utf-8")
	}

	e.remoteClosed = true
	e.events = append(e.events, CloseConnection{Code: sc, Reason: reason})
	return nil
}
