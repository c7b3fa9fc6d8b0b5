// Package wstest provides utilities for testing blocking websocket
// connections.
package wstest

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/syncws/syncws"
)

// URL returns the ws url for s.
func URL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http", "ws", 1)
}

// Serve starts an httptest server that accepts every websocket
// handshake and hands the connection to fn on its own goroutine.
func Serve(opts *syncws.AcceptOptions, fn func(c *syncws.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := syncws.Accept(w, r, opts)
		if err != nil {
			return
		}
		fn(c)
	}))
}

// EchoLoop echoes every message received on c until an error occurs or
// the peer closes the connection.
func EchoLoop(c *syncws.Conn) error {
	defer c.Close(syncws.StatusInternalError, "")

	for {
		typ, p, err := c.Receive(syncws.NoTimeout)
		if err != nil {
			return err
		}
		err = c.Send(typ, p)
		if err != nil {
			return err
		}
	}
}
