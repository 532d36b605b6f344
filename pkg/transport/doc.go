// Package transport maintains the WebSocket session to the escalation service:
// a single connection that reconnects on a fixed delay, delivers decoded
// incident states to subscribers and writes commands without queueing.
package transport
