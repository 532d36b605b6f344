// Package audit records an audit trail of escalation transitions and
// connectivity changes, forwarding events to configurable sinks (log, Kafka)
// through a non-blocking queue.
package audit
