package syncws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/syncws/syncws/internal/errd"
	"github.com/syncws/syncws/wsengine"
)

// AcceptOptions represents the options available to pass to Accept.
// A nil *AcceptOptions means all defaults.
type AcceptOptions struct {
	// ReceiveBufferSize is the size in bytes of the reads off the
	// network. Defaults to 4096.
	ReceiveBufferSize int

	// CloseTimeout bounds how long Close waits for the closing
	// handshake to complete. Defaults to 5 seconds.
	CloseTimeout time.Duration

	// MaxMessageSize caps the size in bytes of inbound messages. A
	// peer exceeding the cap is treated as a protocol violation and
	// the connection is torn down. Zero means no limit.
	MaxMessageSize int64
}

type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "syncws context value " + k.name
}

// ConnContextKey is the request context key under which Accept looks
// for the request's net.Conn when the ResponseWriter cannot be
// hijacked. Servers that do not implement http.Hijacker can expose the
// connection with http.Server.ConnContext:
//
//	srv.ConnContext = func(ctx context.Context, c net.Conn) context.Context {
//		return context.WithValue(ctx, syncws.ConnContextKey, c)
//	}
var ConnContextKey = &contextKey{"net-conn"}

// Accept takes over a WebSocket handshake request from inside an
// http.Handler and returns a blocking Conn for it.
//
// The hosting server has already consumed the request line and headers
// off the wire, so Accept reconstructs them from r for the protocol
// engine and accepts the handshake unconditionally. Origin and
// subprotocol policy are the caller's responsibility, enforced before
// calling Accept.
//
// Accept fails with a configuration error if the network connection
// cannot be obtained from w or r by any known convention.
func Accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to accept websocket connection")

	if opts == nil {
		opts = &AcceptOptions{}
	}
	receiveBufferSize := opts.ReceiveBufferSize
	if receiveBufferSize <= 0 {
		receiveBufferSize = defaultReceiveBufferSize
	}
	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	rwc, buffered, err := hostConn(w, r)
	if err != nil {
		return nil, err
	}

	engine := wsengine.New(wsengine.RoleServer)
	if opts.MaxMessageSize > 0 {
		engine.SetMaxMessageSize(opts.MaxMessageSize)
	}
	if err := engine.Receive(synthesizeRequest(r)); err != nil {
		rwc.Close()
		return nil, err
	}
	if len(buffered) > 0 {
		// Frame bytes the server read ahead of the handshake.
		if err := engine.Receive(buffered); err != nil {
			rwc.Close()
			return nil, err
		}
	}

	return newConn(rwc, engine, true, receiveBufferSize, closeTimeout), nil
}

// hostConn extracts the network connection from the hosting runtime,
// trying each known convention in turn.
func hostConn(w http.ResponseWriter, r *http.Request) (io.ReadWriteCloser, []byte, error) {
	if hj, ok := w.(http.Hijacker); ok {
		netConn, brw, err := hj.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hijack connection: %w", err)
		}
		buffered, _ := brw.Reader.Peek(brw.Reader.Buffered())
		return netConn, buffered, nil
	}

	if netConn, ok := r.Context().Value(ConnContextKey).(net.Conn); ok {
		return netConn, nil, nil
	}

	http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
	return nil, nil, errors.New("cannot obtain network connection from the hosting server (ResponseWriter is not an http.Hijacker and no ConnContextKey value is set)")
}

// synthesizeRequest rebuilds the handshake request the hosting server
// consumed off the wire, to feed it to the protocol engine.
func synthesizeRequest(r *http.Request) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())
	fmt.Fprintf(&buf, "Host: %s\r\n", r.Host)
	r.Header.Write(&buf)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
