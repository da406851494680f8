package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

func TestDeliveryProbabilityInRange(t *testing.T) {
	phy := NewOfdmErrorRateModel()
	snrs := []float64{0.001, 0.5, 1, 2, 10, 100, 1e4, 1e7}

	for _, mode := range model.DefaultBasicModes() {
		for _, snr := range snrs {
			pdr := phy.DeliveryProbability(mode, snr, 8000)
			if pdr < 0 || pdr > 1 {
				t.Fatalf("DeliveryProbability(%s, %g) = %g, want in [0,1]", mode.Name, snr, pdr)
			}
		}
	}
}

func TestDeliveryProbabilityMonotoneInSNR(t *testing.T) {
	phy := NewOfdmErrorRateModel()
	for _, mode := range model.DefaultBasicModes() {
		prev := -1.0
		for snr := 0.1; snr < 1e6; snr *= 4 {
			pdr := phy.DeliveryProbability(mode, snr, 8000)
			if pdr < prev {
				t.Fatalf("%s: pdr dropped from %g to %g as SNR rose to %g", mode.Name, prev, pdr, snr)
			}
			prev = pdr
		}
	}
}

func TestDeliveryProbabilityDecreasesWithFrameLength(t *testing.T) {
	phy := NewOfdmErrorRateModel()
	mode := model.DefaultBasicModes()[3]
	snr := 5.0

	short := phy.DeliveryProbability(mode, snr, 1000)
	long := phy.DeliveryProbability(mode, snr, 20000)
	if long > short {
		t.Fatalf("pdr(20000 bits) = %g > pdr(1000 bits) = %g", long, short)
	}
}

func TestSNRThresholdMatchesBERCurve(t *testing.T) {
	phy := NewOfdmErrorRateModel()
	target := 1e-5

	for _, mode := range model.DefaultBasicModes() {
		th := phy.SNRThresholdForBER(mode, target)
		if th <= 0 {
			t.Fatalf("%s: threshold = %g, want positive", mode.Name, th)
		}
		if ber := phy.bitErrorRate(mode, th); ber > target*1.01 {
			t.Fatalf("%s: ber at threshold = %g, want <= %g", mode.Name, ber, target)
		}
		if ber := phy.bitErrorRate(mode, th*0.5); ber < target {
			t.Fatalf("%s: ber below threshold = %g, want >= %g", mode.Name, ber, target)
		}
	}
}

func TestSNRThresholdsOrderedByRate(t *testing.T) {
	phy := NewOfdmErrorRateModel()
	modes := model.DefaultBasicModes()
	target := 1e-5

	lowest := phy.SNRThresholdForBER(modes[0], target)
	highest := phy.SNRThresholdForBER(modes[len(modes)-1], target)
	if highest <= lowest {
		t.Fatalf("threshold(%s) = %g <= threshold(%s) = %g, want faster mode to need more SNR",
			modes[len(modes)-1].Name, highest, modes[0].Name, lowest)
	}
	if math.IsInf(highest, 0) || math.IsNaN(highest) {
		t.Fatalf("threshold(%s) = %g, want finite", modes[len(modes)-1].Name, highest)
	}
}
