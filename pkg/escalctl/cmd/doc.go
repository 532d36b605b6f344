// Package cmd implements the escalctl command tree: one-shot incident
// transitions, the watch view with its optional status API, and config
// management.
package cmd
