package model

// Address identifies a remote peer on the shared medium. The string form
// of a MAC-style identifier is used so addresses can key maps directly.
type Address string

// FeedbackReport carries the aggregated channel-quality statistics a
// receiver sends back to the group transmitter. Counts are cumulative
// since the receiver came up.
type FeedbackReport struct {
	RSSI         float64
	SNR          float64
	LossPackets  uint32
	TotalPackets uint32
}

// PeerQuality is one entry of the per-peer quality table. Created on the
// first feedback report or first successful exchange with an address and
// updated in place thereafter; entries are never evicted.
type PeerQuality struct {
	Address Address

	// Last feedback report applied for this peer.
	Report FeedbackReport

	// LastSNR is the most recent link SNR (linear) observed on a
	// successful unicast exchange with this peer. Zero until the first
	// exchange, which steers unicast selection to the default mode.
	LastSNR float64

	// Supported is the subset of modes this peer is known to receive,
	// established during address learning.
	Supported []Mode
}
