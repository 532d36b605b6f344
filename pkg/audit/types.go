// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Transition events ===
	EventTransitionDispatched EventType = "transition.dispatched"
	EventTransitionRejected   EventType = "transition.rejected"
	EventTransitionPartial    EventType = "transition.partial"
	EventTransitionConfirmed  EventType = "transition.confirmed"

	// === Incident state events ===
	EventStateRegressed EventType = "state.regressed"

	// === Connection events ===
	EventConnectionOpened EventType = "connection.opened"
	EventConnectionLost   EventType = "connection.lost"

	// === Audit system events ===
	EventAuditDropped EventType = "audit.dropped"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is the incident affected by the event
	Target Target `json:"target"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`

	// CorrelationID ties together the events of one transition
	CorrelationID string `json:"correlationId,omitempty"`
}

// Actor represents who triggered an audit event
type Actor struct {
	// User is the local operator identity
	User string `json:"user"`

	// Host is the machine the client runs on
	Host string `json:"host,omitempty"`
}

// Target represents what was affected by an audit event
type Target struct {
	// Incident is the incident (chamado) id
	Incident int64 `json:"incident,omitempty"`

	// Level is the escalation level involved, if any
	Level int `json:"level,omitempty"`

	// Server is the escalation service URL
	Server string `json:"server,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventTransitionPartial, EventAuditDropped:
		return SeverityCritical

	case EventTransitionRejected, EventStateRegressed, EventConnectionLost:
		return SeverityWarning

	default:
		return SeverityInfo
	}
}
