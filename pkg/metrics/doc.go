// Package metrics defines Prometheus metrics for the escalation client,
// covering the transport session, the incident store, transitions, the audit
// pipeline and the status API.
package metrics
