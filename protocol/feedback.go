package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

// Feedback frame layout, big-endian, no version field:
// RSSI(float64) | SNR(float64) | LossPackets(uint32) | TotalPackets(uint32)
// The format is fixed for the lifetime of a deployment.

const FeedbackFrameSize = 24

// EncodeFeedback packs a feedback report into its fixed 24-byte frame.
func EncodeFeedback(r model.FeedbackReport) []byte {
	data := make([]byte, FeedbackFrameSize)
	binary.BigEndian.PutUint64(data[0:8], math.Float64bits(r.RSSI))
	binary.BigEndian.PutUint64(data[8:16], math.Float64bits(r.SNR))
	binary.BigEndian.PutUint32(data[16:20], r.LossPackets)
	binary.BigEndian.PutUint32(data[20:24], r.TotalPackets)
	return data
}

// DecodeFeedback parses a feedback frame. Malformed frames are rejected
// here, at the decode boundary, so they never reach the peer table.
func DecodeFeedback(data []byte) (model.FeedbackReport, error) {
	if len(data) != FeedbackFrameSize {
		return model.FeedbackReport{}, fmt.Errorf("feedback frame: got %d bytes, want %d", len(data), FeedbackFrameSize)
	}
	r := model.FeedbackReport{
		RSSI:         math.Float64frombits(binary.BigEndian.Uint64(data[0:8])),
		SNR:          math.Float64frombits(binary.BigEndian.Uint64(data[8:16])),
		LossPackets:  binary.BigEndian.Uint32(data[16:20]),
		TotalPackets: binary.BigEndian.Uint32(data[20:24]),
	}
	if math.IsNaN(r.RSSI) || math.IsInf(r.RSSI, 0) || math.IsNaN(r.SNR) || math.IsInf(r.SNR, 0) {
		return model.FeedbackReport{}, fmt.Errorf("feedback frame: non-finite signal fields")
	}
	return r, nil
}
