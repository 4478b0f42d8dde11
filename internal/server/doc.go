// Package server is the composition root of the event router.
//
// It builds the Subscription Registry, Event Queue, Connection Manager,
// Dispatcher and Health Monitor from a RouterConfig, serves agent
// connections on /ws and the status API, and owns the start/stop order.
package server
