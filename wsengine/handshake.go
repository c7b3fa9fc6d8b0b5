package wsengine

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// https://tools.ietf.org/html/rfc6455#section-1.3
var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

func secWebSocketAccept(secWebSocketKey string) string {
	h := sha1.New()
	h.Write([]byte(secWebSocketKey))
	h.Write(keyGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func secWebSocketKey() string {
	b := make([]byte, 16)
	// rand.Read never fails on supported platforms.
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

var headerEnd = []byte("\r\n\r\n")

// parseHandshake consumes an HTTP request (server role) or response
// (client role) head from the input buffer, once one is fully buffered.
func (e *Engine) parseHandshake() (bool, *ProtocolError) {
	if e.role == RoleServer && e.requestSeen {
		// Waiting for AcceptConnection, frames stay buffered.
		return false, nil
	}
	if e.role == RoleClient && e.secKey == "" {
		return false, protocolErrorf("received data before handshake request was sent")
	}

	b := e.in.Bytes()
	i := bytes.Index(b, headerEnd)
	if i < 0 {
		return false, nil
	}
	head := b[:i+len(headerEnd)]

	var err *ProtocolError
	if e.role == RoleServer {
		err = e.readClientRequest(head)
	} else {
		err = e.readServerResponse(head)
	}
	if err != nil {
		return false, err
	}
	e.in.Next(i + len(headerEnd))
	return true, nil
}

func (e *Engine) readClientRequest(head []byte) *ProtocolError {
	r, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return protocolErrorf("malformed handshake request: %v", err)
	}

	if r.Method != "GET" {
		return protocolErrorf("handshake request method is not GET but %q", r.Method)
	}
	if !r.ProtoAtLeast(1, 1) {
		return protocolErrorf("handshake request must be at least HTTP/1.1: %q", r.Proto)
	}
	if !headerContainsToken(r.Header, "Connection", "Upgrade") {
		return protocolErrorf("Connection header %q does not contain Upgrade", r.Header.Get("Connection"))
	}
	if !headerContainsToken(r.Header, "Upgrade", "websocket") {
		return protocolErrorf("Upgrade header %q does not contain websocket", r.Header.Get("Upgrade"))
	}
	if v := r.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return protocolErrorf("unsupported websocket protocol version (only 13 is supported): %q", v)
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return protocolErrorf("missing Sec-WebSocket-Key")
	}

	e.secKey = key
	e.requestSeen = true
	e.events = append(e.events, Request{
		Host:   r.Host,
		Target: r.RequestURI,
		Header: r.Header,
	})
	return nil
}

func (e *Engine) readServerResponse(head []byte) *ProtocolError {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		return protocolErrorf("malformed handshake response: %v", err)
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		e.localClosed = true
		e.remoteClosed = true
		e.events = append(e.events, RejectConnection{StatusCode: resp.StatusCode})
		return nil
	}

	if !headerContainsToken(resp.Header, "Connection", "Upgrade") {
		return protocolErrorf("Connection header %q does not contain Upgrade", resp.Header.Get("Connection"))
	}
	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return protocolErrorf("Upgrade header %q does not contain websocket", resp.Header.Get("Upgrade"))
	}
	if accept := resp.Header.Get("Sec-WebSocket-Accept"); accept != secWebSocketAccept(e.secKey) {
		return protocolErrorf("invalid Sec-WebSocket-Accept %q", accept)
	}

	e.handshook = true
	e.events = append(e.events, AcceptConnection{})
	return nil
}

func (e *Engine) encodeRequest(ev Request) ([]byte, error) {
	e.secKey = secWebSocketKey()

	target := ev.Target
	if target == "" {
		target = "/"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "GET %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&buf, "Host: %s\r\n", ev.Host)
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&buf, "Sec-WebSocket-Key: %s\r\n", e.secKey)
	buf.WriteString("Sec-WebSocket-Version: 13\r\n")
	for k, vs := range ev.Header {
		if engineOwnedHeader(k) {
			continue
		}
		for _, v := range vs {
			fmt.Fprintf(&buf, "%s: %s\r\n", http.CanonicalHeaderKey(k), v)
		}
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

func (e *Engine) encodeAccept() []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n",
		secWebSocketAccept(e.secKey),
	))
}

func (e *Engine) encodeReject(statusCode int) []byte {
	text := http.StatusText(statusCode)
	if text == "" {
		text = "Error"
	}
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\n"+
			"Content-Length: 0\r\n"+
			"Connection: close\r\n\r\n",
		statusCode, text,
	))
}

func engineOwnedHeader(k string) bool {
	switch http.CanonicalHeaderKey(k) {
	case "Host", "Upgrade", "Connection",
		"Sec-Websocket-Key", "Sec-Websocket-Version", "Sec-Websocket-Accept":
		return true
	}
	return false
}

func headerContainsToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
