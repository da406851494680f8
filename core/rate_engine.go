package core

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/signalsfoundry/adhoc-rate-simulator/internal/logging"
	"github.com/signalsfoundry/adhoc-rate-simulator/internal/observability"
	"github.com/signalsfoundry/adhoc-rate-simulator/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Feedback-type selector values.
const (
	// FeedbackTypePERThreshold picks the fastest mode whose modeled loss
	// probability stays strictly below Config.PERThreshold.
	FeedbackTypePERThreshold uint32 = 0
	// FeedbackTypeMaxThroughput picks the mode maximizing expected
	// throughput (delivery probability times data rate).
	FeedbackTypeMaxThroughput uint32 = 1
)

// Config is the full configuration surface of the adaptation loop. All
// fields are plain typed values validated at construction; there is no
// runtime attribute registration.
type Config struct {
	// FeedbackType selects the group adaptation policy.
	FeedbackType uint32

	// FeedbackPeriod is the solicitation cycle period.
	FeedbackPeriod time.Duration

	// Estimator smoothing knobs, consumed opaquely by the local
	// statistics estimator: EWMA weight, mean/deviation blend weight,
	// target percentile, and three additional model coefficients.
	Alpha      float64
	Beta       float64
	Percentile float64
	Eta        float64
	Delta      float64
	Rho        float64

	// PERThreshold is the loss-probability ceiling for the
	// constrained-delivery policy.
	PERThreshold float64

	// BERThreshold is the target bit error rate used to precompute the
	// per-mode SNR threshold table at setup.
	BERThreshold float64

	// Reference frame sizes; zero values take the model defaults so a
	// different PHY family can override them.
	GroupPayloadBytes   int
	GroupOverheadBytes  int
	FrameTailBits       int
	ReferenceFrameBytes int
}

// DefaultConfig mirrors the historical attribute defaults.
func DefaultConfig() Config {
	return Config{
		FeedbackType:        FeedbackTypePERThreshold,
		FeedbackPeriod:      100 * time.Millisecond,
		Alpha:               0.5,
		Beta:                0.5,
		Percentile:          0.9,
		Eta:                 0.1,
		Delta:               0.1,
		Rho:                 0.1,
		PERThreshold:        0.001,
		BERThreshold:        1e-5,
		GroupPayloadBytes:   model.GroupFramePayloadBytes,
		GroupOverheadBytes:  model.GroupFrameOverheadBytes,
		FrameTailBits:       model.FrameTailBits,
		ReferenceFrameBytes: model.ReferenceFrameBytes,
	}
}

func (c *Config) validate() error {
	if c.FeedbackType != FeedbackTypePERThreshold && c.FeedbackType != FeedbackTypeMaxThroughput {
		return fmt.Errorf("config: unknown feedback type %d", c.FeedbackType)
	}
	if c.FeedbackPeriod <= 0 {
		return fmt.Errorf("config: feedback period must be positive, got %v", c.FeedbackPeriod)
	}
	if c.PERThreshold <= 0 || c.PERThreshold >= 1 {
		return fmt.Errorf("config: PER threshold must be in (0,1), got %g", c.PERThreshold)
	}
	if c.BERThreshold <= 0 || c.BERThreshold >= 1 {
		return fmt.Errorf("config: BER threshold must be in (0,1), got %g", c.BERThreshold)
	}
	for _, k := range []struct {
		name string
		v    float64
	}{
		{"alpha", c.Alpha}, {"beta", c.Beta}, {"percentile", c.Percentile},
	} {
		if k.v < 0 || k.v > 1 {
			return fmt.Errorf("config: %s must be in [0,1], got %g", k.name, k.v)
		}
	}
	if c.GroupPayloadBytes == 0 {
		c.GroupPayloadBytes = model.GroupFramePayloadBytes
	}
	if c.GroupOverheadBytes == 0 {
		c.GroupOverheadBytes = model.GroupFrameOverheadBytes
	}
	if c.FrameTailBits == 0 {
		c.FrameTailBits = model.FrameTailBits
	}
	if c.ReferenceFrameBytes == 0 {
		c.ReferenceFrameBytes = model.ReferenceFrameBytes
	}
	return nil
}

func (c Config) policyName() string {
	if c.FeedbackType == FeedbackTypeMaxThroughput {
		return "max_throughput"
	}
	return "per_threshold"
}

// pdrCacheSize bounds the memoized delivery-probability lookups. Within a
// cycle the group min-SNR is fixed, so inline per-transmission selection
// hits the cache rather than the PHY model.
const pdrCacheSize = 4096

type pdrKey struct {
	rate uint64
	snr  uint64
	bits int
}

type modeThreshold struct {
	mode model.Mode
	snr  float64 // linear
}

// RateEngine owns the per-peer quality table, the group mode-selection
// policies, and the unicast/control selectors. Selection is a pure
// synchronous computation; the engine may be queried inline from the
// transmission path.
type RateEngine struct {
	cfg         Config
	phy         ErrorRateModel
	table       *PeerTable
	basic       []model.Mode
	defaultMode model.Mode
	thresholds  []modeThreshold
	pdrCache    *lru.Cache
	log         logging.Logger
	metrics     *observability.RateCollector

	mu            sync.Mutex
	groupMode     model.Mode
	sumMinSNRdB   float64
	sumTxRateMbps float64
	sumTxMcs      float64
	samples       int
}

// NewRateEngine validates cfg, precomputes the per-mode SNR threshold
// table from the configured target BER, and returns an engine ready for
// selection queries. phy must not be nil.
func NewRateEngine(cfg Config, phy ErrorRateModel, log logging.Logger, metrics *observability.RateCollector) (*RateEngine, error) {
	if phy == nil {
		return nil, fmt.Errorf("rate engine: error-rate model is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}

	basic := model.DefaultBasicModes()
	thresholds := make([]modeThreshold, 0, len(basic))
	for _, m := range basic {
		thresholds = append(thresholds, modeThreshold{
			mode: m,
			snr:  phy.SNRThresholdForBER(m, cfg.BERThreshold),
		})
	}

	cache, err := lru.New(pdrCacheSize)
	if err != nil {
		return nil, fmt.Errorf("rate engine: pdr cache: %w", err)
	}

	e := &RateEngine{
		cfg:         cfg,
		phy:         phy,
		table:       NewPeerTable(),
		basic:       basic,
		defaultMode: model.DefaultMode(),
		thresholds:  thresholds,
		pdrCache:    cache,
		log:         logging.Component(log, "rate-engine"),
		metrics:     metrics,
		groupMode:   model.DefaultMode(),
	}
	e.table.OnUpdate(func(addr model.Address, report model.FeedbackReport) {
		e.metrics.SetKnownPeers(e.table.Len())
		e.log.Debug(context.Background(), "peer report applied",
			logging.String("peer", string(addr)),
			logging.Float64("rssi", report.RSSI),
			logging.Float64("snr", report.SNR),
			logging.Uint32("loss", report.LossPackets),
			logging.Uint32("total", report.TotalPackets),
		)
	})
	return e, nil
}

// Table exposes the per-peer quality table for the feedback path and the
// address-learning hooks.
func (e *RateEngine) Table() *PeerTable { return e.table }

// Config returns the engine's validated configuration.
func (e *RateEngine) Config() Config { return e.cfg }

// BasicModes returns the engine's rate-ordered basic-mode set.
func (e *RateEngine) BasicModes() []model.Mode {
	return append([]model.Mode(nil), e.basic...)
}

// LearnPeer records addr with the full basic set as its supported modes.
// In an ad-hoc group every destination is assumed to support all the
// rates we support.
func (e *RateEngine) LearnPeer(addr model.Address) {
	if e.table.Known(addr) && len(e.table.SupportedModes(addr)) > 0 {
		return
	}
	for _, m := range e.basic {
		e.table.AddSupportedMode(addr, m)
	}
}

// GroupTxMode derives the single group transmission mode from the current
// peer table and returns it with its MCS index. Deterministic for a fixed
// (table, mode set, PHY model) and cheap to call once per outbound frame.
func (e *RateEngine) GroupTxMode() (model.Mode, int) {
	_, span := otel.Tracer(observability.TracerName).Start(context.Background(), "rate.group_select")
	defer span.End()
	span.SetAttributes(attribute.String("rate.policy", e.cfg.policyName()))

	minRSSIdB, ok := e.table.MinRSSI()
	if !ok {
		// No peers known: nothing constrains the group yet, transmit at
		// the most robust mode.
		return e.setGroupMode(span, e.defaultMode, 0, 0)
	}

	// Single dB-to-linear conversion point; everything below works in the
	// linear domain.
	snrLinear := math.Pow(10.0, minRSSIdB/10.0)
	if snrLinear <= 1.0 {
		// At or below unity gain there is no usable group mode this
		// cycle.
		return e.setGroupMode(span, e.defaultMode, 0, minRSSIdB)
	}

	var mode model.Mode
	if e.cfg.FeedbackType == FeedbackTypeMaxThroughput {
		mode = e.groupModeMaxThroughput(snrLinear)
	} else {
		mode = e.groupModePERThreshold(snrLinear)
	}
	mcs := model.McsIndex(e.basic, mode)
	return e.setGroupMode(span, mode, mcs, minRSSIdB)
}

// groupModePERThreshold scans the basic set in ascending rate order and
// keeps the last mode whose loss probability is strictly below the
// configured threshold; because the set is rate-ordered, that is also the
// fastest satisfying mode. Falls back to the lowest basic mode when none
// qualifies.
func (e *RateEngine) groupModePERThreshold(snrLinear float64) model.Mode {
	selected := e.basic[0]
	bestLoss := 1.0
	for _, mode := range e.basic {
		nbits := e.groupFrameBits(mode)
		pdr := e.deliveryProbability(mode, snrLinear, nbits)
		loss := 1.0 - pdr
		if loss < 0 || loss > 1 {
			// A loss probability outside [0,1] is a modeling bug, not an
			// operational condition.
			panic(fmt.Sprintf("rate engine: loss probability %g for mode %s outside [0,1]", loss, mode.Name))
		}
		if loss < e.cfg.PERThreshold {
			selected = mode
			bestLoss = loss
		}
	}
	if bestLoss == 1.0 {
		selected = e.basic[0]
	}
	return selected
}

// groupModeMaxThroughput returns the basic mode maximizing delivery
// probability times data rate at the fixed reference frame length. Ties
// resolve to the first-found in ascending rate order; all-zero expected
// throughput falls back to the lowest basic mode.
func (e *RateEngine) groupModeMaxThroughput(snrLinear float64) model.Mode {
	refBits := e.cfg.ReferenceFrameBytes * 8
	selected := e.basic[0]
	maxProduct := 0.0
	for _, mode := range e.basic {
		pdr := e.deliveryProbability(mode, snrLinear, refBits)
		product := pdr * mode.DataRateMbps()
		if product > maxProduct {
			maxProduct = product
			selected = mode
		}
	}
	return selected
}

// groupFrameBits models the representative group frame for mode: payload
// plus framing overhead and tail, expanded by the coding rate and rounded
// up to whole OFDM symbols, then converted back to coded bits. The symbol
// count is truncated and incremented rather than ceiled, preserving the
// historical length at exact-symbol boundaries.
func (e *RateEngine) groupFrameBits(mode model.Mode) int {
	dataBits := float64((e.cfg.GroupPayloadBytes+e.cfg.GroupOverheadBytes)*8 + e.cfg.FrameTailBits)
	symbols := dataBits / mode.CodeRate.Ratio() / float64(mode.CodedBitsPerSymbol)
	return (int(symbols) + 1) * mode.CodedBitsPerSymbol
}

// DataTxMode selects the unicast data mode for addr: the mode among the
// peer's supported subset maximizing expected throughput at the peer's
// last-observed link SNR. Unknown peers and empty candidate sets resolve
// to the system default mode.
func (e *RateEngine) DataTxMode(addr model.Address) model.Mode {
	lastSNR := e.table.LastSNR(addr)
	refBits := e.cfg.ReferenceFrameBytes * 8

	selected := e.defaultMode
	maxProduct := 0.0
	for _, mode := range e.table.SupportedModes(addr) {
		pdr := e.deliveryProbability(mode, lastSNR, refBits)
		product := pdr * mode.DataRateMbps()
		if product > maxProduct {
			maxProduct = product
			selected = mode
		}
	}
	return selected
}

// RTSTxMode selects the control-frame mode for addr: among the basic set,
// the mode with the highest precomputed SNR threshold still below the
// peer's last-observed SNR, i.e. the most aggressive mode still expected
// to be received correctly. Falls back to the default mode.
func (e *RateEngine) RTSTxMode(addr model.Address) model.Mode {
	lastSNR := e.table.LastSNR(addr)

	selected := e.defaultMode
	maxThreshold := 0.0
	for _, th := range e.thresholds {
		if th.snr > maxThreshold && th.snr < lastSNR {
			maxThreshold = th.snr
			selected = th.mode
		}
	}
	return selected
}

// SNRThreshold returns the precomputed linear SNR threshold for a basic
// mode. Asking for a mode outside the basic set is a programming error.
func (e *RateEngine) SNRThreshold(mode model.Mode) float64 {
	for _, th := range e.thresholds {
		if th.mode.DataRateBps == mode.DataRateBps {
			return th.snr
		}
	}
	panic(fmt.Sprintf("rate engine: no SNR threshold for mode %s", mode.Name))
}

// GroupMode returns the most recently selected group mode without
// recomputing it.
func (e *RateEngine) GroupMode() model.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupMode
}

// Averages returns the running means of the group min-SNR estimate (dB),
// selected data rate (Mb/s), and MCS index across adaptation cycles that
// had at least one known peer. The sums cover both policies, so the
// averages describe whichever objective the engine ran with. All zeros
// before the first counted cycle.
func (e *RateEngine) Averages() (minSNRdB, rateMbps, mcs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		return 0, 0, 0
	}
	n := float64(e.samples)
	return e.sumMinSNRdB / n, e.sumTxRateMbps / n, e.sumTxMcs / n
}

func (e *RateEngine) setGroupMode(span trace.Span, mode model.Mode, mcs int, minRSSIdB float64) (model.Mode, int) {
	span.SetAttributes(
		attribute.String("rate.mode", mode.Name),
		attribute.Float64("rate.mbps", mode.DataRateMbps()),
		attribute.Int("rate.mcs", mcs),
		attribute.Float64("rate.min_snr_db", minRSSIdB),
	)

	e.mu.Lock()
	e.groupMode = mode
	if _, ok := e.table.MinRSSI(); ok {
		e.sumMinSNRdB += minRSSIdB
		e.sumTxRateMbps += mode.DataRateMbps()
		e.sumTxMcs += float64(mcs)
		e.samples++
	}
	e.mu.Unlock()

	e.metrics.ObserveGroupSelection(e.cfg.policyName(), mode.DataRateMbps(), minRSSIdB)
	return mode, mcs
}

func (e *RateEngine) deliveryProbability(mode model.Mode, snrLinear float64, frameBits int) float64 {
	key := pdrKey{rate: mode.DataRateBps, snr: math.Float64bits(snrLinear), bits: frameBits}
	if v, ok := e.pdrCache.Get(key); ok {
		return v.(float64)
	}
	pdr := e.phy.DeliveryProbability(mode, snrLinear, frameBits)
	e.pdrCache.Add(key, pdr)
	return pdr
}
