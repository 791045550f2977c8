// Package signaling is the session boundary: it upgrades GET /ws to a
// WebSocket, authenticates the connection, decodes inbound events, and
// dispatches them to presence, groups, the message router and the call
// service. Outbound events flow through the session's queue to a single
// writer goroutine per connection.
package signaling
