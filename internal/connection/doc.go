// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Accepts agent WebSocket sessions, rejecting beyond max_clients
//   - Drives each connection CONNECTING → OPEN → CLOSING → CLOSED
//   - Handles publish/subscribe/unsubscribe/ping requests
//   - Owns each connection's bounded outbound buffer and writer goroutine
//   - Force-closes slow consumers and removes registry entries on disconnect
package connection
