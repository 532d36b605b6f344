package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransitionMetricsExistAndIncrement(t *testing.T) {
	lbl := "test-advance"

	TransitionsDispatched.WithLabelValues(lbl).Inc()
	if v := testutil.ToFloat64(TransitionsDispatched.WithLabelValues(lbl)); v < 1 {
		t.Fatalf("expected TransitionsDispatched >= 1, got %v", v)
	}

	TransitionsPartial.WithLabelValues(lbl).Add(2)
	if v := testutil.ToFloat64(TransitionsPartial.WithLabelValues(lbl)); v < 2 {
		t.Fatalf("expected TransitionsPartial >= 2, got %v", v)
	}

	TransitionsConfirmed.WithLabelValues(lbl).Inc()
	if v := testutil.ToFloat64(TransitionsConfirmed.WithLabelValues(lbl)); v < 1 {
		t.Fatalf("expected TransitionsConfirmed >= 1, got %v", v)
	}
}

func TestRejectedTransitionsLabelCardinality(t *testing.T) {
	TransitionsRejected.Reset()
	defer TransitionsRejected.Reset()
	labels := []string{"advance", "annotation_too_short"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("TransitionsRejected panicked with labels %v: %v", labels, r)
		}
	}()

	TransitionsRejected.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(TransitionsRejected.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestConnectedGaugeToggles(t *testing.T) {
	TransportConnected.Set(1)
	if v := testutil.ToFloat64(TransportConnected); v != 1 {
		t.Fatalf("expected gauge 1, got %v", v)
	}
	TransportConnected.Set(0)
	if v := testutil.ToFloat64(TransportConnected); v != 0 {
		t.Fatalf("expected gauge 0, got %v", v)
	}
}

func TestMetricsHandlerExposesEscalationMetrics(t *testing.T) {
	EventsReceived.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "escalation_events_received_total") {
		t.Fatalf("expected escalation_events_received_total in output")
	}
}
