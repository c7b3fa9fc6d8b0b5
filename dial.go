package syncws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/syncws/syncws/internal/errd"
	"github.com/syncws/syncws/wsengine"
)

// DialOptions represents the options available to pass to Dial.
// A nil *DialOptions means all defaults.
type DialOptions struct {
	// TLSConfig is used for wss urls. It is cloned and its ServerName
	// defaulted to the dialed host. Nil means a default configuration
	// that validates the server against the system trust anchors.
	TLSConfig *tls.Config

	// Header are extra headers to include in the handshake request.
	// Headers owned by the handshake itself are ignored.
	Header http.Header

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

// HandshakeError is returned by Dial when the server answers the
// handshake with anything but an acceptance.
type HandshakeError struct {
	// StatusCode is the HTTP status the server responded with.
	StatusCode int
}

func (e HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %v", e.StatusCode)
}

// Dial opens a WebSocket connection to u, which must use one of the
// ws, wss, http or https schemes.
//
// The ctx bounds the transport establishment and the handshake only;
// the returned Conn is not affected by it. The handshake, including
// waiting for the server's response, runs synchronously on the calling
// goroutine, so a rejection is reported here and no Conn escapes.
func Dial(ctx context.Context, u string, opts *DialOptions) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to dial websocket")

	if opts == nil {
		opts = &DialOptions{}
	}
	receiveBufferSize := opts.ReceiveBufferSize
	if receiveBufferSize <= 0 {
		receiveBufferSize = defaultReceiveBufferSize
	}
	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	var secure bool
	switch parsed.Scheme {
	case "ws", "http":
	case "wss", "https":
		secure = true
	default:
		return nil, fmt.Errorf("unknown scheme in url: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		if secure {
			port = "443"
		} else {
			port = "80"
		}
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			netConn.Close()
		}
	}()

	if secure {
		cfg := opts.TLSConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tlsConn := tls.Client(netConn, cfg)
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake failed: %w", err)
		}
		netConn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}

	// A cancelled ctx must also unblock the synchronous handshake read.
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			netConn.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	engine := wsengine.New(wsengine.RoleClient)
	if opts.MaxMessageSize > 0 {
		engine.SetMaxMessageSize(opts.MaxMessageSize)
	}
	err = handshake(netConn, engine, parsed, opts.Header, receiveBufferSize)
	close(stop)
	<-stopped
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, err
	}

	netConn.SetDeadline(time.Time{})

	return newConn(netConn, engine, false, receiveBufferSize, closeTimeout), nil
}

// handshake sends the upgrade request and reads until the engine
// reports acceptance or rejection. It runs on the calling goroutine;
// the reader goroutine starts only for accepted connections. Events
// behind the acceptance stay queued for the reader's first pass.
func handshake(netConn net.Conn, engine *wsengine.Engine, u *url.URL, header http.Header, receiveBufferSize int) error {
	b, err := engine.Send(wsengine.Request{
		Host:   u.Host,
		Target: u.RequestURI(),
		Header: header,
	})
	if err != nil {
		return err
	}
	if _, err := netConn.Write(b); err != nil {
		return fmt.Errorf("failed to write handshake request: %w", err)
	}

	buf := make([]byte, receiveBufferSize)
	for {
		n, err := netConn.Read(buf)
		if err != nil {
			return fmt.Errorf("failed to read handshake response: %w", err)
		}
		if err := engine.Receive(buf[:n]); err != nil {
			return err
		}

		for {
			ev, ok := engine.Next()
			if !ok {
				break
			}
			switch ev := ev.(type) {
			case wsengine.AcceptConnection:
				return nil
			case wsengine.RejectConnection:
				return HandshakeError{StatusCode: ev.StatusCode}
			}
		}
	}
}
