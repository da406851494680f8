package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RateCollector bundles Prometheus metrics for the rate-adaptation loop:
// the currently selected group mode, the aggregated channel estimate, and
// feedback-cycle counters.
type RateCollector struct {
	gatherer prometheus.Gatherer

	GroupTxRateMbps prometheus.Gauge
	GroupMinSNRdB   prometheus.Gauge
	KnownPeers      prometheus.Gauge

	AdaptationCycles *prometheus.CounterVec

	FeedbackSent     prometheus.Counter
	FeedbackReceived prometheus.Counter
	FeedbackRejected prometheus.Counter
}

// NewRateCollector registers the rate-adaptation metrics against the
// provided registerer, defaulting to the global Prometheus registry when
// nil. Registration tolerates collectors that already exist so repeated
// construction in tests reuses them.
func NewRateCollector(reg prometheus.Registerer) (*RateCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	txRate, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "group_tx_rate_mbps",
		Help: "Data rate of the currently selected group transmission mode.",
	}), "group_tx_rate_mbps")
	if err != nil {
		return nil, err
	}
	minSNR, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "group_min_snr_db",
		Help: "Minimum reported RSSI across all known peers (dB), the conservative group channel estimate.",
	}), "group_min_snr_db")
	if err != nil {
		return nil, err
	}
	peers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "known_peers",
		Help: "Number of entries in the per-peer quality table.",
	}), "known_peers")
	if err != nil {
		return nil, err
	}

	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptation_cycles_total",
		Help: "Group mode selections performed, labeled by policy.",
	}, []string{"policy"})
	cycles, err = registerCounterVec(reg, cycles, "adaptation_cycles_total")
	if err != nil {
		return nil, err
	}

	sent, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_reports_sent_total",
		Help: "Feedback reports handed to the outbound queue.",
	}), "feedback_reports_sent_total")
	if err != nil {
		return nil, err
	}
	received, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_reports_received_total",
		Help: "Feedback reports decoded and applied to the peer table.",
	}), "feedback_reports_received_total")
	if err != nil {
		return nil, err
	}
	rejected, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_reports_rejected_total",
		Help: "Feedback frames rejected at the decode boundary.",
	}), "feedback_reports_rejected_total")
	if err != nil {
		return nil, err
	}

	return &RateCollector{
		gatherer:         gatherer,
		GroupTxRateMbps:  txRate,
		GroupMinSNRdB:    minSNR,
		KnownPeers:       peers,
		AdaptationCycles: cycles,
		FeedbackSent:     sent,
		FeedbackReceived: received,
		FeedbackRejected: rejected,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RateCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveGroupSelection records the outcome of one group adaptation cycle.
// All methods are nil-tolerant so callers can run without metrics wired.
func (c *RateCollector) ObserveGroupSelection(policy string, rateMbps, minSNRdB float64) {
	if c == nil {
		return
	}
	if c.GroupTxRateMbps != nil {
		c.GroupTxRateMbps.Set(rateMbps)
	}
	if c.GroupMinSNRdB != nil {
		c.GroupMinSNRdB.Set(minSNRdB)
	}
	if c.AdaptationCycles != nil {
		c.AdaptationCycles.WithLabelValues(policy).Inc()
	}
}

// SetKnownPeers tracks the size of the peer table. The table only grows,
// so this gauge doubles as a resource-growth signal for long runs.
func (c *RateCollector) SetKnownPeers(n int) {
	if c == nil || c.KnownPeers == nil {
		return
	}
	c.KnownPeers.Set(float64(n))
}

// CountFeedbackSent increments the outbound report counter.
func (c *RateCollector) CountFeedbackSent() {
	if c == nil || c.FeedbackSent == nil {
		return
	}
	c.FeedbackSent.Inc()
}

// CountFeedbackReceived increments the applied-report counter.
func (c *RateCollector) CountFeedbackReceived() {
	if c == nil || c.FeedbackReceived == nil {
		return
	}
	c.FeedbackReceived.Inc()
}

// CountFeedbackRejected increments the decode-reject counter.
func (c *RateCollector) CountFeedbackRejected() {
	if c == nil || c.FeedbackRejected == nil {
		return
	}
	c.FeedbackRejected.Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
