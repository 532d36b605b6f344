// Package policy evaluates user-initiated escalation transitions against the
// escalation ladder rules and turns allowed transitions into the ordered
// commands that carry them out.
package policy
