package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

var initOnce sync.Once

func initMetrics() { initOnce.Do(Init) }

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	initMetrics()

	CountProvisioning("ok")
	CountStepFailure("create-identity")
	CountCompensation("create-identity", "ok")
	CountRoomTransition("assign", "handoff")
	ObserveExternalCall("identity", "create", time.Now().Add(-5*time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"provisioning_total",
		"provisioning_step_failures_total",
		"rollback_compensations_total",
		"room_transitions_total",
		"external_call_duration_seconds",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metric %s missing from scrape output", name)
		}
	}
}

func TestBuildInfo(t *testing.T) {
	InitBuildInfo("test", "abc123")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `build_info{commit="abc123",version="test"} 1`) {
		t.Fatalf("build_info metric missing or mislabelled")
	}
}
