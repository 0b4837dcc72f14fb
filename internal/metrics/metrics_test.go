package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesPrometheusExposition(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics exposition body")
	}
}

func TestTimerObserveVecRecordsSample(t *testing.T) {
	timer := NewTimer()
	timer.ObserveVec(RequestDuration, "test-route")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "vortex_request_duration_seconds") {
		t.Fatal("expected request duration metric in exposition")
	}
}
