package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_IncAndAdd(t *testing.T) {
	c := NewMetricsCollector()
	ctr := c.Counter("test_total", "help", "")
	ctr.Inc()
	ctr.Add(4)
	if ctr.Value() != 5 {
		t.Fatalf("expected 5, got %d", ctr.Value())
	}
	// Same name returns the same counter.
	if c.Counter("test_total", "help", "") != ctr {
		t.Fatal("expected identical counter instance")
	}
}

func TestCounter_LabelsAreSeparateSeries(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("wins_total", "help", `handler="chat"`)
	b := c.Counter("wins_total", "help", `handler="poll_vote"`)
	if a == b {
		t.Fatal("different labels must be separate counters")
	}
	a.Inc()
	if b.Value() != 0 {
		t.Fatalf("label series leaked: %d", b.Value())
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("inflight", "help", "")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 2 {
		t.Fatalf("expected 2, got %d", g.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("latency_seconds", "help", "", []float64{1, 5, 10})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(100)

	if h.count != 3 {
		t.Fatalf("expected count 3, got %d", h.count)
	}
	if h.buckets[0].count != 1 || h.buckets[1].count != 2 || h.buckets[2].count != 2 {
		t.Fatalf("bucket counts wrong: %+v", h.buckets)
	}
}

func TestHandler_PrometheusFormat(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("chaperone_test_total", "A test counter", "").Add(7)
	c.Gauge("chaperone_test_gauge", "A test gauge", "").Set(2)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"chaperone_uptime_seconds",
		"# TYPE chaperone_test_total counter",
		"chaperone_test_total 7",
		"# TYPE chaperone_test_gauge gauge",
		"chaperone_test_gauge 2",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("output missing %q:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("wrong content type: %s", ct)
	}
}
