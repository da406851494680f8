package core

import (
	"math"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

// ErrorRateModel is the PHY collaborator the rate engine consumes. SNR is
// always passed in linear form; the engine performs the dB conversion at
// exactly one point before calling in.
type ErrorRateModel interface {
	// DeliveryProbability returns the probability, in [0,1], that a frame
	// of frameBits coded bits is received correctly at the given linear
	// SNR under the given mode.
	DeliveryProbability(mode model.Mode, snrLinear float64, frameBits int) float64

	// SNRThresholdForBER returns the linear SNR at which the mode's bit
	// error rate reaches targetBER. Computed once per mode at setup to
	// build the control-frame threshold table.
	SNRThresholdForBER(mode model.Mode, targetBER float64) float64
}

// OfdmErrorRateModel is a closed-form OFDM delivery model: per-modulation
// bit error rate from Eb/N0, packet success as (1-ber)^nbits. Eb/N0 is
// derived per information bit, so stronger coding shows up as robustness
// at a given SNR. It is deliberately simple; the engine treats it as an
// opaque collaborator and an engineering-grade PHY model can be swapped in
// behind the same interface.
type OfdmErrorRateModel struct {
	// ChannelWidthHz is the occupied bandwidth used to spread the signal
	// energy across information bits. Defaults to 20 MHz.
	ChannelWidthHz float64
}

// NewOfdmErrorRateModel returns a model for a 20 MHz OFDM channel.
func NewOfdmErrorRateModel() *OfdmErrorRateModel {
	return &OfdmErrorRateModel{ChannelWidthHz: 20e6}
}

func (m *OfdmErrorRateModel) bandwidth() float64 {
	if m.ChannelWidthHz > 0 {
		return m.ChannelWidthHz
	}
	return 20e6
}

// bitErrorRate returns the raw bit error probability at the given linear
// SNR. Monotonically decreasing in SNR for every mode.
func (m *OfdmErrorRateModel) bitErrorRate(mode model.Mode, snrLinear float64) float64 {
	if snrLinear <= 0 {
		return 0.5
	}
	ebno := snrLinear * m.bandwidth() / float64(mode.DataRateBps)

	order := float64(mode.ConstellationSize)
	var ber float64
	switch {
	case order <= 2:
		// BPSK
		ber = 0.5 * math.Erfc(math.Sqrt(ebno))
	case order <= 4:
		// QPSK carries one bit per dimension at the same energy per bit.
		ber = 0.5 * math.Erfc(math.Sqrt(ebno))
	default:
		// Square M-QAM approximation.
		bits := math.Log2(order)
		arg := math.Sqrt(1.5 * bits / (order - 1) * ebno)
		ber = 2.0 / bits * (1.0 - 1.0/math.Sqrt(order)) * math.Erfc(arg)
	}

	if ber > 0.5 {
		ber = 0.5
	}
	if ber < 0 {
		ber = 0
	}
	return ber
}

// DeliveryProbability implements ErrorRateModel.
func (m *OfdmErrorRateModel) DeliveryProbability(mode model.Mode, snrLinear float64, frameBits int) float64 {
	if frameBits <= 0 {
		return 1.0
	}
	ber := m.bitErrorRate(mode, snrLinear)
	if ber >= 0.5 {
		return 0.0
	}
	return math.Pow(1.0-ber, float64(frameBits))
}

// SNRThresholdForBER implements ErrorRateModel via bisection over the
// monotone BER curve.
func (m *OfdmErrorRateModel) SNRThresholdForBER(mode model.Mode, targetBER float64) float64 {
	if targetBER <= 0 {
		targetBER = 1e-12
	}
	lo, hi := 1e-6, 1e9
	for i := 0; i < 200; i++ {
		mid := math.Sqrt(lo * hi)
		if m.bitErrorRate(mode, mid) > targetBER {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}
