// Package client is a Go client for the event router's WebSocket protocol.
//
// A Client performs the hello handshake on Dial, correlates acks and errors
// to requests by id, and streams delivered events on Events().
package client
