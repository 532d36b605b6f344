package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transport metrics
	TransportConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "escalation_transport_connected",
		Help: "1 while the escalation service connection is open, 0 otherwise",
	})
	TransportReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_transport_reconnect_attempts_total",
		Help: "Total number of scheduled reconnect attempts",
	})
	CommandsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_commands_sent_total",
		Help: "Total number of commands written to the escalation service",
	}, []string{"action"})
	CommandsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_commands_failed_total",
		Help: "Total number of commands that could not be written (disconnected or write error)",
	}, []string{"action"})
	EventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_events_received_total",
		Help: "Total number of well-formed state events received",
	})
	// Dropped inbound messages keyed by why they were dropped (ignored, malformed).
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_events_dropped_total",
		Help: "Total number of inbound messages dropped",
	}, []string{"reason"})

	// Store metrics
	IncidentsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "escalation_incidents_tracked",
		Help: "Number of incidents with a known state",
	})
	StateRegressions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_state_regressions_total",
		Help: "Applied snapshots that moved an incident backwards (last write wins)",
	}, []string{"kind"})
	WatchedIncidents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "escalation_watched_incidents",
		Help: "Number of incidents in the watch set",
	})

	// Transition metrics
	TransitionsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_transitions_dispatched_total",
		Help: "Transitions whose commands were all sent",
	}, []string{"action"})
	TransitionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_transitions_rejected_total",
		Help: "Transitions rejected locally before sending, by reason code",
	}, []string{"action", "code"})
	TransitionsPartial = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_transitions_partial_total",
		Help: "Transitions where only a prefix of the commands was sent",
	}, []string{"action"})
	TransitionsConfirmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_transitions_confirmed_total",
		Help: "Transitions whose outcome was observed in a pushed state",
	}, []string{"action"})

	// Audit pipeline metrics
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_audit_events_processed_total",
		Help: "Audit events written to a sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_audit_events_dropped_total",
		Help: "Audit events dropped because the queue was full or closed",
	}, []string{"reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_audit_sink_errors_total",
		Help: "Audit sink write failures by error class",
	}, []string{"sink", "error_type"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escalation_audit_sink_latency_seconds",
		Help:    "Latency of audit sink writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})

	// Status API metrics
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_api_requests_total",
		Help: "Requests served by the status API",
	}, []string{"route", "code"})
	APIRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_api_rate_limited_total",
		Help: "Requests rejected by the status API rate limiter",
	})
)

func init() {
	prometheus.MustRegister(TransportConnected)
	prometheus.MustRegister(TransportReconnects)
	prometheus.MustRegister(CommandsSent)
	prometheus.MustRegister(CommandsFailed)
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(IncidentsTracked)
	prometheus.MustRegister(StateRegressions)
	prometheus.MustRegister(WatchedIncidents)
	prometheus.MustRegister(TransitionsDispatched)
	prometheus.MustRegister(TransitionsRejected)
	prometheus.MustRegister(TransitionsPartial)
	prometheus.MustRegister(TransitionsConfirmed)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(APIRequests)
	prometheus.MustRegister(APIRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
