package model

// CodeRate identifies the convolutional coding rate of a Mode.
type CodeRate int

const (
	CodeRate1_2 CodeRate = iota
	CodeRate2_3
	CodeRate3_4
	CodeRate5_6
)

// Ratio returns the coding rate as a fraction.
func (r CodeRate) Ratio() float64 {
	switch r {
	case CodeRate2_3:
		return 2.0 / 3.0
	case CodeRate3_4:
		return 3.0 / 4.0
	case CodeRate5_6:
		return 5.0 / 6.0
	default:
		return 1.0 / 2.0
	}
}

// Mode is an immutable descriptor of a modulation and coding scheme.
// A fixed, rate-ordered set of these (the "basic modes") is established
// once per run; every selection policy picks from that set or falls back
// to the lowest entry.
type Mode struct {
	Name string

	// DataRateBps is the nominal information rate.
	DataRateBps uint64

	// PhyRateBps is the raw channel rate before coding.
	PhyRateBps uint64

	CodeRate CodeRate

	// CodedBitsPerSymbol is the number of coded bits carried by one
	// OFDM symbol at this modulation.
	CodedBitsPerSymbol int

	// ConstellationSize is the modulation order (2 = BPSK, 4 = QPSK, ...).
	ConstellationSize int
}

// DataRateMbps is a convenience for reporting.
func (m Mode) DataRateMbps() float64 {
	return float64(m.DataRateBps) / 1e6
}

// Reference frame sizes used by the selection policies. They are tied to
// one OFDM PHY family; a deployment targeting a different family supplies
// its own values through core.Config.
const (
	// GroupFramePayloadBytes is the representative payload modeled by the
	// constrained-delivery policy.
	GroupFramePayloadBytes = 1000

	// GroupFrameOverheadBytes is the framing overhead added to the payload
	// before coding-rate expansion.
	GroupFrameOverheadBytes = 64

	// FrameTailBits is the convolutional tail appended to every frame.
	FrameTailBits = 22

	// ReferenceFrameBytes is the fixed frame length used by the
	// throughput-maximizing objectives.
	ReferenceFrameBytes = 1086
)

// DefaultBasicModes returns the fixed basic-mode set eligible for group
// transmission, ordered by increasing data rate. The slice is freshly
// allocated on every call; callers may keep or reorder their copy.
func DefaultBasicModes() []Mode {
	return []Mode{
		{Name: "OfdmRate6Mbps", DataRateBps: 6000000, PhyRateBps: 12000000, CodeRate: CodeRate1_2, CodedBitsPerSymbol: 48, ConstellationSize: 2},
		{Name: "OfdmRate9Mbps", DataRateBps: 9000000, PhyRateBps: 12000000, CodeRate: CodeRate3_4, CodedBitsPerSymbol: 48, ConstellationSize: 2},
		{Name: "OfdmRate12Mbps", DataRateBps: 12000000, PhyRateBps: 24000000, CodeRate: CodeRate1_2, CodedBitsPerSymbol: 96, ConstellationSize: 4},
		{Name: "OfdmRate18Mbps", DataRateBps: 18000000, PhyRateBps: 24000000, CodeRate: CodeRate3_4, CodedBitsPerSymbol: 96, ConstellationSize: 4},
		{Name: "OfdmRate24Mbps", DataRateBps: 24000000, PhyRateBps: 48000000, CodeRate: CodeRate1_2, CodedBitsPerSymbol: 192, ConstellationSize: 16},
		{Name: "OfdmRate36Mbps", DataRateBps: 36000000, PhyRateBps: 48000000, CodeRate: CodeRate3_4, CodedBitsPerSymbol: 192, ConstellationSize: 16},
		{Name: "OfdmRate48Mbps", DataRateBps: 48000000, PhyRateBps: 72000000, CodeRate: CodeRate2_3, CodedBitsPerSymbol: 288, ConstellationSize: 64},
		{Name: "OfdmRate54Mbps", DataRateBps: 54000000, PhyRateBps: 72000000, CodeRate: CodeRate3_4, CodedBitsPerSymbol: 288, ConstellationSize: 64},
	}
}

// DefaultMode returns the most robust basic mode, used as the fallback
// whenever a policy has no satisfying candidate.
func DefaultMode() Mode {
	return DefaultBasicModes()[0]
}

// McsIndex returns the ordinal of mode within the rate-ordered basic set,
// or -1 when the mode is not a basic mode. The index is only used for
// external reporting.
func McsIndex(basic []Mode, mode Mode) int {
	for i, m := range basic {
		if m.DataRateBps == mode.DataRateBps {
			return i
		}
	}
	return -1
}
