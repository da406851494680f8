package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveGroupSelection(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRateCollector(reg)
	if err != nil {
		t.Fatalf("NewRateCollector: %v", err)
	}

	collector.ObserveGroupSelection("per_threshold", 24.0, 12.5)
	collector.ObserveGroupSelection("per_threshold", 36.0, 14.0)

	if got := testutil.ToFloat64(collector.GroupTxRateMbps); got != 36.0 {
		t.Fatalf("group_tx_rate_mbps = %v, want 36", got)
	}
	if got := testutil.ToFloat64(collector.GroupMinSNRdB); got != 14.0 {
		t.Fatalf("group_min_snr_db = %v, want 14", got)
	}
	if got := testutil.ToFloat64(collector.AdaptationCycles.WithLabelValues("per_threshold")); got != 2 {
		t.Fatalf("adaptation_cycles_total = %v, want 2", got)
	}
}

func TestFeedbackCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRateCollector(reg)
	if err != nil {
		t.Fatalf("NewRateCollector: %v", err)
	}

	collector.CountFeedbackSent()
	collector.CountFeedbackSent()
	collector.CountFeedbackReceived()
	collector.CountFeedbackRejected()
	collector.SetKnownPeers(3)

	if got := testutil.ToFloat64(collector.FeedbackSent); got != 2 {
		t.Fatalf("feedback_reports_sent_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.FeedbackReceived); got != 1 {
		t.Fatalf("feedback_reports_received_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FeedbackRejected); got != 1 {
		t.Fatalf("feedback_reports_rejected_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.KnownPeers); got != 3 {
		t.Fatalf("known_peers = %v, want 3", got)
	}
}

func TestDuplicateRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRateCollector(reg)
	if err != nil {
		t.Fatalf("NewRateCollector (first): %v", err)
	}
	second, err := NewRateCollector(reg)
	if err != nil {
		t.Fatalf("NewRateCollector (second): %v", err)
	}

	first.CountFeedbackSent()
	if got := testutil.ToFloat64(second.FeedbackSent); got != 1 {
		t.Fatalf("second collector sees %v sent reports, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *RateCollector
	collector.ObserveGroupSelection("per_threshold", 6, 0)
	collector.SetKnownPeers(1)
	collector.CountFeedbackSent()
	collector.CountFeedbackReceived()
	collector.CountFeedbackRejected()
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRateCollector(reg)
	if err != nil {
		t.Fatalf("NewRateCollector: %v", err)
	}
	collector.ObserveGroupSelection("max_throughput", 54.0, 20.0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "group_tx_rate_mbps") {
		t.Fatalf("metrics output missing group_tx_rate_mbps:\n%s", body)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var cycles *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "adaptation_cycles_total" {
			cycles = mf
		}
	}
	if cycles == nil {
		t.Fatalf("adaptation_cycles_total not gathered")
	}
	if got := cycles.GetType(); got != dto.MetricType_COUNTER {
		t.Fatalf("adaptation_cycles_total type = %v, want COUNTER", got)
	}
}
