// Package syncws provides a blocking WebSocket API for thread-per-connection
// applications.
//
// Each connection owns one background goroutine that drains the network,
// answers protocol control frames (pings, close handshakes) and queues
// application messages. The foreground caller uses the synchronous
// Send, Receive and Close methods without ever touching framing.
//
// Servers obtain a connection with Accept from inside an http.Handler,
// clients with Dial. The WebSocket framing itself lives in the wsengine
// subpackage and is consumed here as a state machine.
package syncws
