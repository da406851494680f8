package core

import (
	"math"
	"math/rand"
)

// ChannelModel produces per-peer receive levels for the simulation from a
// log-distance path-loss law with optional shadowing. The constants are
// deliberately conservative and exist to give a monotonic distance vs.
// quality relationship, not an engineering-grade link budget.
type ChannelModel struct {
	// TxPowerDBm is the transmit power. Defaults to 16 dBm.
	TxPowerDBm float64

	// ReferenceLossDB is the path loss at the 1 m reference distance.
	ReferenceLossDB float64

	// Exponent is the log-distance path-loss exponent.
	Exponent float64

	// NoiseFloorDBm converts received power into SNR.
	NoiseFloorDBm float64

	// ShadowingStdDB adds zero-mean Gaussian shadowing when positive.
	ShadowingStdDB float64

	rng *rand.Rand
}

// NewChannelModel returns a channel with typical 2.4 GHz indoor-ish
// defaults and a deterministic noise source for the given seed.
func NewChannelModel(seed int64) *ChannelModel {
	return &ChannelModel{
		TxPowerDBm:      16.0,
		ReferenceLossDB: 46.7,
		Exponent:        3.0,
		NoiseFloorDBm:   -96.0,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// MeanRSSIdBm returns the received power at the given distance without
// shadowing.
func (c *ChannelModel) MeanRSSIdBm(distanceM float64) float64 {
	if distanceM < 1 {
		distanceM = 1
	}
	loss := c.ReferenceLossDB + 10.0*c.Exponent*math.Log10(distanceM)
	return c.TxPowerDBm - loss
}

// Sample draws one frame's receive levels at the given distance. RSSI and
// SNR share a single shadowing draw so they stay consistent.
func (c *ChannelModel) Sample(distanceM float64) (rssiDBm, snrDB float64) {
	rssi := c.MeanRSSIdBm(distanceM)
	if c.ShadowingStdDB > 0 && c.rng != nil {
		rssi += c.rng.NormFloat64() * c.ShadowingStdDB
	}
	return rssi, rssi - c.NoiseFloorDBm
}
