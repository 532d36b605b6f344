// Package codec translates between the escalation service's JSON wire format
// and the client's command and incident types.
package codec
