package core

import (
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

// LocalStatsSource supplies the receiver-side aggregate statistics that
// go into a feedback report. The FeedbackCoordinator depends on this
// interface; LinkQualityEstimator is the stock implementation.
type LocalStatsSource interface {
	Snapshot() model.FeedbackReport
}

// sampleWindowSize bounds the percentile window. Old samples fall out, so
// the percentile tracks recent channel behaviour rather than the whole
// run.
const sampleWindowSize = 128

// LinkQualityEstimator smooths raw per-frame signal measurements (dB
// above the noise floor) into the four aggregate numbers reported
// upstream. The report's RSSI field is the conservative blended estimate
// used for group aggregation:
//
//	rssi = beta*ewma + (1-beta)*percentile - rho*deviation
//
// and the SNR field is the plain EWMA less a deviation margin:
//
//	snr = ewma - delta*deviation
//
// Alpha weights the mean EWMA, Eta weights the deviation EWMA, and
// Percentile selects the window quantile.
type LinkQualityEstimator struct {
	mu sync.Mutex

	alpha      float64
	beta       float64
	percentile float64
	eta        float64
	delta      float64
	rho        float64

	initialized bool
	ewma        float64
	dev         float64
	window      []float64

	lost  uint32
	total uint32
}

// NewLinkQualityEstimator builds an estimator from the coordinator
// config's smoothing knobs.
func NewLinkQualityEstimator(cfg Config) *LinkQualityEstimator {
	return &LinkQualityEstimator{
		alpha:      cfg.Alpha,
		beta:       cfg.Beta,
		percentile: cfg.Percentile,
		eta:        cfg.Eta,
		delta:      cfg.Delta,
		rho:        cfg.Rho,
	}
}

// AddSample feeds one received frame's signal level (dB above the noise
// floor) into the smoothing state.
func (e *LinkQualityEstimator) AddSample(snrDB float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		e.ewma = snrDB
		e.initialized = true
	} else {
		e.ewma = e.alpha*snrDB + (1-e.alpha)*e.ewma
	}
	e.dev = e.eta*math.Abs(snrDB-e.ewma) + (1-e.eta)*e.dev

	e.window = append(e.window, snrDB)
	if len(e.window) > sampleWindowSize {
		e.window = e.window[1:]
	}
}

// RecordPacket counts one expected frame toward the cumulative loss and
// total counters.
func (e *LinkQualityEstimator) RecordPacket(lost bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total++
	if lost {
		e.lost++
	}
}

// Snapshot implements LocalStatsSource. It never blocks; a cycle that
// fires before any sample arrived reports zero signal fields alongside
// the counters.
func (e *LinkQualityEstimator) Snapshot() model.FeedbackReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return model.FeedbackReport{LossPackets: e.lost, TotalPackets: e.total}
	}

	return model.FeedbackReport{
		RSSI:         e.beta*e.ewma + (1-e.beta)*windowPercentile(e.window, e.percentile) - e.rho*e.dev,
		SNR:          e.ewma - e.delta*e.dev,
		LossPackets:  e.lost,
		TotalPackets: e.total,
	}
}

// windowPercentile returns the p-quantile of the window using the
// lower-value convention. p is clamped to [0,1].
func windowPercentile(window []float64, p float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
