package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Cycle("ok")
	m.Cycle("ok")
	m.Task("degraded")
	m.Direct("replied")
	m.SetOutboxPending(3)
	m.ObserveRemote("vault", time.Now().Add(-time.Second))

	if got := testutil.ToFloat64(m.PollCycles.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 ok cycles, got %v", got)
	}
	if got := testutil.ToFloat64(m.Tasks.WithLabelValues("degraded")); got != 1 {
		t.Errorf("expected 1 degraded task, got %v", got)
	}
	if got := testutil.ToFloat64(m.OutboxPending); got != 3 {
		t.Errorf("expected outbox gauge 3, got %v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Cycle("ok")
	m.Task("replied")
	m.Direct("replied")
	m.SetOutboxPending(1)
	m.ObserveRemote("vault", time.Now())
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	m := New()
	m.Task("acknowledged")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `vaultrelay_tasks_total{outcome="acknowledged"} 1`) {
		t.Fatalf("expected task counter in output:\n%s", body)
	}
}
