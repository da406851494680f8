package core

import (
	"testing"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

func TestDataTxModeUnknownPeerUsesDefault(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	if mode := e.DataTxMode("ghost"); mode != model.DefaultMode() {
		t.Fatalf("DataTxMode(unknown) = %s, want %s", mode.Name, model.DefaultMode().Name)
	}
}

func TestDataTxModeRestrictedToSupportedSubset(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	basic := e.BasicModes()

	// Peer only supports 6, 12 and 24 Mbps; with perfect delivery the
	// fastest supported mode wins even though 54 Mbps exists.
	for _, i := range []int{0, 2, 4} {
		e.Table().AddSupportedMode("a", basic[i])
	}
	e.Table().RecordExchangeSNR("a", 1000)

	mode := e.DataTxMode("a")
	if mode.DataRateBps != 24000000 {
		t.Fatalf("DataTxMode() = %s, want OfdmRate24Mbps", mode.Name)
	}
}

func TestDataTxModeZeroThroughputFallsBack(t *testing.T) {
	phy := &fakePhy{pdr: func(model.Mode, float64, int) float64 { return 0.0 }}
	e := newTestEngine(t, DefaultConfig(), phy)
	e.LearnPeer("a")
	e.Table().RecordExchangeSNR("a", 1000)

	if mode := e.DataTxMode("a"); mode != model.DefaultMode() {
		t.Fatalf("DataTxMode() = %s, want default on zero expected throughput", mode.Name)
	}
}

func TestDataTxModeUsesLastExchangeSNR(t *testing.T) {
	var seen float64
	phy := &fakePhy{pdr: func(_ model.Mode, snrLinear float64, _ int) float64 {
		seen = snrLinear
		return 1.0
	}}
	e := newTestEngine(t, DefaultConfig(), phy)
	e.LearnPeer("a")
	e.Table().RecordExchangeSNR("a", 77.5)

	e.DataTxMode("a")
	if seen != 77.5 {
		t.Fatalf("phy saw SNR %v, want 77.5", seen)
	}
}

func TestLearnPeerGrantsFullBasicSet(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	e.LearnPeer("a")
	e.LearnPeer("a")

	if got, want := len(e.Table().SupportedModes("a")), len(e.BasicModes()); got != want {
		t.Fatalf("len(SupportedModes) = %d, want %d", got, want)
	}
}

func TestRTSTxModePicksHighestThresholdBelowSNR(t *testing.T) {
	// Thresholds ascend with rate (fakePhy default: rate in Mbps). A last
	// SNR of 20 admits everything up to 18 Mbps.
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	e.Table().RecordExchangeSNR("a", 20)

	mode := e.RTSTxMode("a")
	if mode.DataRateBps != 18000000 {
		t.Fatalf("RTSTxMode() = %s, want OfdmRate18Mbps", mode.Name)
	}
}

func TestRTSTxModeUnknownPeerUsesDefault(t *testing.T) {
	// Unknown peer reads as zero SNR; no threshold is below it.
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	if mode := e.RTSTxMode("ghost"); mode != model.DefaultMode() {
		t.Fatalf("RTSTxMode(unknown) = %s, want %s", mode.Name, model.DefaultMode().Name)
	}
}

func TestSNRThresholdKnownForEveryBasicMode(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	for _, mode := range e.BasicModes() {
		if th := e.SNRThreshold(mode); th != float64(mode.DataRateBps)/1e6 {
			t.Fatalf("SNRThreshold(%s) = %v, want %v", mode.Name, th, float64(mode.DataRateBps)/1e6)
		}
	}
}

func TestSNRThresholdPanicsForNonBasicMode(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &fakePhy{})
	defer func() {
		if recover() == nil {
			t.Fatalf("SNRThreshold() did not panic for a non-basic mode")
		}
	}()
	e.SNRThreshold(model.Mode{Name: "bogus", DataRateBps: 1})
}
