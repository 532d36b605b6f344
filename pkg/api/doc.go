// Package api serves a read-only HTTP view of the tracked incidents for dashboards
// and other presentation layers: the incident list, a single incident with
// formatted countdowns, connectivity health and Prometheus metrics.
package api
