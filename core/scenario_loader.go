package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

// Scenario describes one simulation run: the transmitter's adaptation
// config, the channel, and the receiving peers.
type Scenario struct {
	Name         string
	TickInterval time.Duration
	Ticks        int
	Seed         int64
	Config       Config
	Channel      ChannelSettings
	Peers        []ScenarioPeer
}

// ScenarioPeer is one receiver in the group.
type ScenarioPeer struct {
	Address   model.Address
	DistanceM float64
}

// ChannelSettings overrides the channel-model defaults when non-zero.
type ChannelSettings struct {
	TxPowerDBm      float64
	ReferenceLossDB float64
	Exponent        float64
	NoiseFloorDBm   float64
	ShadowingStdDB  float64
}

// internal JSON shapes, kept unexported so the format can evolve.
type scenarioJSON struct {
	Name     string             `json:"name"`
	TickMs   int                `json:"tick_ms"`
	Ticks    int                `json:"ticks"`
	Seed     int64              `json:"seed"`
	Feedback feedbackJSON       `json:"feedback"`
	Channel  *channelJSON       `json:"channel"`
	Peers    []scenarioPeerJSON `json:"peers"`
}

type feedbackJSON struct {
	Type         *uint32  `json:"type"`      // 0 PER-threshold | 1 max-throughput
	PeriodMs     int      `json:"period_ms"` // default 100
	Alpha        *float64 `json:"alpha"`
	Beta         *float64 `json:"beta"`
	Percentile   *float64 `json:"percentile"`
	Eta          *float64 `json:"eta"`
	Delta        *float64 `json:"delta"`
	Rho          *float64 `json:"rho"`
	PERThreshold *float64 `json:"per_threshold"`
	BERThreshold *float64 `json:"ber_threshold"`
}

type channelJSON struct {
	TxPowerDBm      float64 `json:"tx_power_dbm"`
	ReferenceLossDB float64 `json:"reference_loss_db"`
	Exponent        float64 `json:"exponent"`
	NoiseFloorDBm   float64 `json:"noise_floor_dbm"`
	ShadowingStdDB  float64 `json:"shadowing_std_db"`
}

type scenarioPeerJSON struct {
	Address   string  `json:"address"`
	DistanceM float64 `json:"distance_m"`
}

// LoadScenario reads a JSON scenario from r. It fails only on JSON or
// structural errors; unset knobs fall back to the defaults the rate
// engine validates anyway.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	cfg := DefaultConfig()
	fb := payload.Feedback
	if fb.Type != nil {
		cfg.FeedbackType = *fb.Type
	}
	if fb.PeriodMs > 0 {
		cfg.FeedbackPeriod = time.Duration(fb.PeriodMs) * time.Millisecond
	}
	if fb.Alpha != nil {
		cfg.Alpha = *fb.Alpha
	}
	if fb.Beta != nil {
		cfg.Beta = *fb.Beta
	}
	if fb.Percentile != nil {
		cfg.Percentile = *fb.Percentile
	}
	if fb.Eta != nil {
		cfg.Eta = *fb.Eta
	}
	if fb.Delta != nil {
		cfg.Delta = *fb.Delta
	}
	if fb.Rho != nil {
		cfg.Rho = *fb.Rho
	}
	if fb.PERThreshold != nil {
		cfg.PERThreshold = *fb.PERThreshold
	}
	if fb.BERThreshold != nil {
		cfg.BERThreshold = *fb.BERThreshold
	}

	scn := &Scenario{
		Name:         payload.Name,
		TickInterval: 10 * time.Millisecond,
		Ticks:        payload.Ticks,
		Seed:         payload.Seed,
		Config:       cfg,
	}
	if payload.TickMs > 0 {
		scn.TickInterval = time.Duration(payload.TickMs) * time.Millisecond
	}
	if scn.Ticks <= 0 {
		scn.Ticks = 1000
	}
	if payload.Channel != nil {
		scn.Channel = ChannelSettings{
			TxPowerDBm:      payload.Channel.TxPowerDBm,
			ReferenceLossDB: payload.Channel.ReferenceLossDB,
			Exponent:        payload.Channel.Exponent,
			NoiseFloorDBm:   payload.Channel.NoiseFloorDBm,
			ShadowingStdDB:  payload.Channel.ShadowingStdDB,
		}
	}

	if len(payload.Peers) == 0 {
		return nil, fmt.Errorf("LoadScenario: scenario has no peers")
	}
	for i, p := range payload.Peers {
		if p.Address == "" {
			return nil, fmt.Errorf("LoadScenario: peer %d has empty address", i)
		}
		if p.DistanceM <= 0 {
			return nil, fmt.Errorf("LoadScenario: peer %q has non-positive distance", p.Address)
		}
		scn.Peers = append(scn.Peers, ScenarioPeer{
			Address:   model.Address(p.Address),
			DistanceM: p.DistanceM,
		})
	}

	return scn, nil
}

// DefaultScenario is a small three-peer group used when no scenario file
// is given.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name:         "default-three-peer",
		TickInterval: 10 * time.Millisecond,
		Ticks:        1000,
		Seed:         1,
		Config:       DefaultConfig(),
		Peers: []ScenarioPeer{
			{Address: "02:00:00:00:00:01", DistanceM: 40},
			{Address: "02:00:00:00:00:02", DistanceM: 80},
			{Address: "02:00:00:00:00:03", DistanceM: 120},
		},
	}
}
