// Package apiresponses provides the JSON error and success envelopes used by the
// status API handlers.
package apiresponses
