package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

// fakePhy lets a test pin delivery probabilities and thresholds per mode.
type fakePhy struct {
	pdr       func(mode model.Mode, snrLinear float64, frameBits int) float64
	threshold func(mode model.Mode) float64
}

func (f *fakePhy) DeliveryProbability(mode model.Mode, snrLinear float64, frameBits int) float64 {
	if f.pdr == nil {
		return 1.0
	}
	return f.pdr(mode, snrLinear, frameBits)
}

func (f *fakePhy) SNRThresholdForBER(mode model.Mode, targetBER float64) float64 {
	if f.threshold == nil {
		// Ascending with rate so the control-frame table stays ordered.
		return float64(mode.DataRateBps) / 1e6
	}
	return f.threshold(mode)
}

func newTestEngine(t *testing.T, cfg Config, phy ErrorRateModel) *RateEngine {
	t.Helper()
	e, err := NewRateEngine(cfg, phy, nil, nil)
	if err != nil {
		t.Fatalf("NewRateEngine() error = %v", err)
	}
	return e
}

func TestGroupTxModeNoPeersUsesDefault(t *testing.T) {
	for _, policy := range []uint32{FeedbackTypePERThreshold, FeedbackTypeMaxThroughput} {
		cfg := DefaultConfig()
		cfg.FeedbackType = policy
		e := newTestEngine(t, cfg, &fakePhy{})

		mode, mcs := e.GroupTxMode()
		if mode != model.DefaultMode() || mcs != 0 {
			t.Fatalf("policy %d: GroupTxMode() = (%s, %d), want (%s, 0)",
				policy, mode.Name, mcs, model.DefaultMode().Name)
		}
	}
}

func TestGroupTxModeNonPositiveLinearSNRUsesDefault(t *testing.T) {
	// Min RSSI of -5 dB converts below unity, so no usable group mode.
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 8})
	e.Table().Upsert("b", model.FeedbackReport{RSSI: 2})
	e.Table().Upsert("c", model.FeedbackReport{RSSI: -5})

	mode, mcs := e.GroupTxMode()
	if mode != model.DefaultMode() || mcs != 0 {
		t.Fatalf("GroupTxMode() = (%s, %d), want (%s, 0)", mode.Name, mcs, model.DefaultMode().Name)
	}
}

func TestGroupTxModePERThresholdPicksFastestSatisfying(t *testing.T) {
	// Modes up to 24 Mbps deliver perfectly, everything faster always
	// fails; the scan must keep the fastest satisfying mode.
	phy := &fakePhy{pdr: func(mode model.Mode, _ float64, _ int) float64 {
		if mode.DataRateBps <= 24000000 {
			return 1.0
		}
		return 0.0
	}}
	e := newTestEngine(t, DefaultConfig(), phy)
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})

	mode, mcs := e.GroupTxMode()
	if mode.DataRateBps != 24000000 {
		t.Fatalf("GroupTxMode() = %s, want OfdmRate24Mbps", mode.Name)
	}
	if mcs != 4 {
		t.Fatalf("mcs = %d, want 4", mcs)
	}
}

func TestGroupTxModePERThresholdBoundaryIsStrict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PERThreshold = 0.01

	// Loss exactly at the threshold must not qualify.
	phy := &fakePhy{pdr: func(mode model.Mode, _ float64, _ int) float64 {
		if mode.DataRateBps == 6000000 {
			return 1.0 - 0.001
		}
		return 1.0 - cfg.PERThreshold
	}}
	e := newTestEngine(t, cfg, phy)
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})

	mode, _ := e.GroupTxMode()
	if mode.DataRateBps != 6000000 {
		t.Fatalf("GroupTxMode() = %s, want OfdmRate6Mbps (loss == threshold excluded)", mode.Name)
	}
}

func TestGroupTxModePERThresholdNoSatisfyingFallsBack(t *testing.T) {
	phy := &fakePhy{pdr: func(model.Mode, float64, int) float64 { return 0.0 }}
	e := newTestEngine(t, DefaultConfig(), phy)
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})

	mode, mcs := e.GroupTxMode()
	if mode != model.DefaultMode() || mcs != 0 {
		t.Fatalf("GroupTxMode() = (%s, %d), want lowest basic mode", mode.Name, mcs)
	}
}

func TestGroupTxModePanicsOnInvalidLoss(t *testing.T) {
	phy := &fakePhy{pdr: func(model.Mode, float64, int) float64 { return 1.5 }}
	e := newTestEngine(t, DefaultConfig(), phy)
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})

	defer func() {
		if recover() == nil {
			t.Fatalf("GroupTxMode() did not panic on loss outside [0,1]")
		}
	}()
	e.GroupTxMode()
}

func TestGroupTxModePERThresholdRateNonDecreasingInSNR(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), NewOfdmErrorRateModel())

	var prev uint64
	for rssiDB := 1.0; rssiDB <= 40; rssiDB += 1 {
		e.Table().Upsert("a", model.FeedbackReport{RSSI: rssiDB})
		mode, _ := e.GroupTxMode()
		if mode.DataRateBps < prev {
			t.Fatalf("rate dropped to %d bps at %g dB, was %d", mode.DataRateBps, rssiDB, prev)
		}
		prev = mode.DataRateBps
	}
	if prev == model.DefaultMode().DataRateBps {
		t.Fatalf("rate never rose above the default across 1..40 dB")
	}
}

func TestAveragesAccumulateAcrossCycles(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})

	// Cycles with an empty table do not count.
	e.GroupTxMode()
	if snr, rate, mcs := e.Averages(); snr != 0 || rate != 0 || mcs != 0 {
		t.Fatalf("Averages() = (%v, %v, %v) before any peer, want zeros", snr, rate, mcs)
	}

	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})
	e.GroupTxMode()
	e.GroupTxMode()

	snr, rate, mcs := e.Averages()
	if snr != 10 {
		t.Fatalf("avg min SNR = %v, want 10", snr)
	}
	// fakePhy delivers everything, so both cycles pick the fastest mode.
	if rate != 54 || mcs != 7 {
		t.Fatalf("Averages() = (rate %v, mcs %v), want (54, 7)", rate, mcs)
	}
}

func TestGroupModeCachesLastSelection(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})

	want, _ := e.GroupTxMode()
	if got := e.GroupMode(); got != want {
		t.Fatalf("GroupMode() = %s, want %s", got.Name, want.Name)
	}
}

func TestGroupFrameBitsWholeSymbols(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	for _, mode := range e.BasicModes() {
		nbits := e.groupFrameBits(mode)
		if nbits%mode.CodedBitsPerSymbol != 0 {
			t.Fatalf("%s: frame bits %d not a whole number of %d-bit symbols",
				mode.Name, nbits, mode.CodedBitsPerSymbol)
		}
		dataBits := float64((1000+64)*8+22) / mode.CodeRate.Ratio()
		if float64(nbits) < dataBits {
			t.Fatalf("%s: frame bits %d shorter than coded payload %g", mode.Name, nbits, dataBits)
		}
	}
}

func TestMinRSSIConversionSingleCycle(t *testing.T) {
	// One peer at 10 dB: linear SNR handed to the PHY must be 10^(10/10).
	var seen float64
	phy := &fakePhy{pdr: func(_ model.Mode, snrLinear float64, _ int) float64 {
		seen = snrLinear
		return 1.0
	}}
	e := newTestEngine(t, DefaultConfig(), phy)
	e.Table().Upsert("a", model.FeedbackReport{RSSI: 10})

	e.GroupTxMode()
	if want := math.Pow(10, 1); math.Abs(seen-want) > 1e-9 {
		t.Fatalf("phy saw linear SNR %v, want %v", seen, want)
	}
}
