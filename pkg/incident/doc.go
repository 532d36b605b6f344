// Package incident holds the data model of an escalated incident and the
// in-memory store that tracks the last state pushed by the escalation service.
package incident
