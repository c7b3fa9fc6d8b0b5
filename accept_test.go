package syncws_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gobwas/ws"

	"github.com/syncws/syncws"
	"github.com/syncws/syncws/internal/test/assert"
	"github.com/syncws/syncws/internal/xsync"
)

// upgradeRequest returns a handshake request with the given key in the
// Sec-WebSocket-Key header.
func upgradeRequest(key string) *http.Request {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", key)
	return r
}

func TestAccept(t *testing.T) {
	t.Parallel()

	t.Run("notHijackable", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		_, err := syncws.Accept(w, upgradeRequest("dGhlIHNhbXBsZSBub25jZQ=="), nil)
		assert.Contains(t, err, "cannot obtain network connection")
		assert.Equal(t, "response code", http.StatusNotImplemented, w.Code)
	})

	t.Run("missingKey", func(t *testing.T) {
		t.Parallel()

		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		r := upgradeRequest("")
		r.Header.Del("Sec-WebSocket-Key")
		r = r.WithContext(context.WithValue(r.Context(), syncws.ConnContextKey, server))

		_, err := syncws.Accept(httptest.NewRecorder(), r, nil)
		assert.Contains(t, err, "Sec-WebSocket-Key")
	})

	t.Run("connContext", func(t *testing.T) {
		t.Parallel()

		server, client := net.Pipe()
		defer client.Close()

		key := "dGhlIHNhbXBsZSBub25jZQ=="
		r := upgradeRequest(key)
		r = r.WithContext(context.WithValue(r.Context(), syncws.ConnContextKey, server))

		// Accept blocks writing the 101 response until the other end of
		// the pipe reads it.
		errs := xsync.Go(func() error {
			c, err := syncws.Accept(httptest.NewRecorder(), r, &syncws.AcceptOptions{
				CloseTimeout: time.Millisecond * 100,
			})
			if err != nil {
				return err
			}
			for {
				typ, p, err := c.Receive(syncws.NoTimeout)
				if err != nil {
					c.Close(syncws.StatusNormalClosure, "")
					return nil
				}
				if err := c.Send(typ, p); err != nil {
					return err
				}
			}
		})

		br := bufio.NewReader(client)
		resp, err := http.ReadResponse(br, nil)
		assert.Success(t, err)
		assert.Equal(t, "status code", http.StatusSwitchingProtocols, resp.StatusCode)

		h := sha1.Sum([]byte(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
		assert.Equal(t, "accept key",
			base64.StdEncoding.EncodeToString(h[:]),
			resp.Header.Get("Sec-WebSocket-Accept"),
		)

		f := ws.MaskFrame(ws.NewTextFrame([]byte("raw frame")))
		assert.Success(t, ws.WriteFrame(client, f))

		echo, err := ws.ReadFrame(br)
		assert.Success(t, err)
		assert.Equal(t, "opcode", ws.OpText, echo.Header.OpCode)
		if !bytes.Equal([]byte("raw frame"), echo.Payload) {
			t.Fatalf("unexpected echo payload: %q", echo.Payload)
		}

		cf := ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		assert.Success(t, ws.WriteFrame(client, cf))

		mirror, err := ws.ReadFrame(br)
		assert.Success(t, err)
		assert.Equal(t, "opcode", ws.OpClose, mirror.Header.OpCode)

		assert.Success(t, <-errs)
	})
}
