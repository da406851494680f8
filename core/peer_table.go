package core

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

// PeerTable is the per-peer channel-quality store owned by a RateEngine.
// Entries are created on the first feedback report or first successful
// exchange with an address and overwritten in place afterwards; there is
// no eviction, so the table's lifetime matches its owning transmitter and
// it only grows. All accessors are safe for concurrent use.
type PeerTable struct {
	mu        sync.RWMutex
	peers     map[model.Address]*model.PeerQuality
	observers []func(model.Address, model.FeedbackReport)
}

// NewPeerTable constructs an empty table.
func NewPeerTable() *PeerTable {
	return &PeerTable{
		peers: make(map[model.Address]*model.PeerQuality),
	}
}

// OnUpdate registers a callback invoked after every applied feedback
// report, outside the table lock. Used for diagnostics and metrics.
func (t *PeerTable) OnUpdate(fn func(model.Address, model.FeedbackReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Upsert inserts a new entry for addr or overwrites the existing one with
// the report's fields. Applying the same report twice leaves the table
// unchanged after the first application.
func (t *PeerTable) Upsert(addr model.Address, report model.FeedbackReport) {
	t.mu.Lock()
	entry, ok := t.peers[addr]
	if !ok {
		entry = &model.PeerQuality{Address: addr}
		t.peers[addr] = entry
	}
	entry.Report = report
	observers := append([]func(model.Address, model.FeedbackReport){}, t.observers...)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(addr, report)
	}
}

// MinRSSI returns the minimum reported RSSI across all entries; the
// group is limited by its weakest member. ok is false when the table is
// empty, the "no peers known" sentinel.
func (t *PeerTable) MinRSSI() (min float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.peers {
		if !ok || p.Report.RSSI < min {
			min = p.Report.RSSI
			ok = true
		}
	}
	return min, ok
}

// LastSNR returns the last unicast exchange SNR (linear) observed for
// addr, or 0 when the peer is unknown: a wireless peer can legitimately be
// unseen before its first transmission, so this is not an error.
func (t *PeerTable) LastSNR(addr model.Address) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[addr]; ok {
		return p.LastSNR
	}
	return 0
}

// RecordExchangeSNR stores the SNR observed on a successful unicast
// data/ack or control exchange with addr, creating the entry if needed.
func (t *PeerTable) RecordExchangeSNR(addr model.Address, snrLinear float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.peers[addr]
	if !ok {
		entry = &model.PeerQuality{Address: addr}
		t.peers[addr] = entry
	}
	entry.LastSNR = snrLinear
}

// AddSupportedMode appends mode to the peer's supported set, creating the
// entry if needed. Duplicate rates are ignored.
func (t *PeerTable) AddSupportedMode(addr model.Address, mode model.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.peers[addr]
	if !ok {
		entry = &model.PeerQuality{Address: addr}
		t.peers[addr] = entry
	}
	for _, m := range entry.Supported {
		if m.DataRateBps == mode.DataRateBps {
			return
		}
	}
	entry.Supported = append(entry.Supported, mode)
}

// SupportedModes returns a copy of the peer's supported-mode subset, nil
// when the peer is unknown or has none recorded.
func (t *PeerTable) SupportedModes(addr model.Address) []model.Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[addr]
	if !ok || len(p.Supported) == 0 {
		return nil
	}
	return append([]model.Mode(nil), p.Supported...)
}

// Known reports whether addr has an entry.
func (t *PeerTable) Known(addr model.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[addr]
	return ok
}

// Len returns the number of entries.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Addresses returns all known peer addresses in stable order.
func (t *PeerTable) Addresses() []model.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addrs := make([]model.Address, 0, len(t.peers))
	for a := range t.peers {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
