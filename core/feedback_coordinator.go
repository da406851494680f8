package core

import (
	"context"
	"sync"

	"github.com/signalsfoundry/adhoc-rate-simulator/internal/logging"
	"github.com/signalsfoundry/adhoc-rate-simulator/internal/observability"
	"github.com/signalsfoundry/adhoc-rate-simulator/model"
	"github.com/signalsfoundry/adhoc-rate-simulator/protocol"
	"github.com/signalsfoundry/adhoc-rate-simulator/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// FeedbackTransport hands an encoded feedback frame to the outbound queue
// addressed to a single peer. Implementations must not block.
type FeedbackTransport interface {
	SendFeedback(payload []byte, to model.Address) error
}

// FeedbackCoordinator owns the periodic feedback solicitation cycle of one
// transmitter. It has two states: idle (no cycle) and active (periodic
// cycle running). The first group data frame heard records its sender as
// the feedback destination and starts the cycle; from then on the cycle
// re-sends the estimator's current snapshot every period until Stop. On
// the receiving side, feedback frames from any peer are decoded and
// applied to the peer table.
//
// Missed or delayed deliveries are not retried; the next period simply
// sends current state.
type FeedbackCoordinator struct {
	cfg       Config
	table     *PeerTable
	stats     LocalStatsSource
	transport FeedbackTransport
	clock     timectrl.SimClock
	log       logging.Logger
	metrics   *observability.RateCollector

	mu     sync.Mutex
	dest   *model.Address
	active bool
	timer  *timectrl.Timer
}

// NewFeedbackCoordinator wires a coordinator. table receives decoded
// reports, stats supplies the outbound snapshots, and clock drives the
// periodic cycle.
func NewFeedbackCoordinator(cfg Config, table *PeerTable, stats LocalStatsSource, transport FeedbackTransport, clock timectrl.SimClock, log logging.Logger, metrics *observability.RateCollector) *FeedbackCoordinator {
	if log == nil {
		log = logging.Noop()
	}
	return &FeedbackCoordinator{
		cfg:       cfg,
		table:     table,
		stats:     stats,
		transport: transport,
		clock:     clock,
		log:       logging.Component(log, "feedback"),
		metrics:   metrics,
	}
}

// OnGroupFrame notes a received group data frame. The first one moves the
// coordinator from idle to active: the sender becomes the feedback
// destination and the first report goes out immediately. Later frames are
// ignored here; the destination never changes once set.
func (fc *FeedbackCoordinator) OnGroupFrame(from model.Address) {
	fc.mu.Lock()
	if fc.active {
		fc.mu.Unlock()
		return
	}
	addr := from
	fc.dest = &addr
	fc.active = true
	fc.mu.Unlock()

	fc.log.Info(context.Background(), "feedback cycle started",
		logging.String("destination", string(from)),
		logging.Any("period", fc.cfg.FeedbackPeriod),
	)
	fc.cycle()
}

// HandleFeedback decodes a feedback frame from a peer and applies it to
// the table. Malformed frames are rejected here and never touch the
// table.
func (fc *FeedbackCoordinator) HandleFeedback(from model.Address, payload []byte) error {
	report, err := protocol.DecodeFeedback(payload)
	if err != nil {
		fc.metrics.CountFeedbackRejected()
		fc.log.Warn(context.Background(), "feedback frame rejected",
			logging.String("peer", string(from)),
			logging.String("error", err.Error()),
		)
		return err
	}

	fc.table.Upsert(from, report)
	fc.metrics.CountFeedbackReceived()
	fc.log.Info(context.Background(), "rx feedback",
		logging.String("peer", string(from)),
		logging.Float64("rssi", report.RSSI),
		logging.Float64("snr", report.SNR),
		logging.Uint32("loss", report.LossPackets),
		logging.Uint32("total", report.TotalPackets),
	)
	return nil
}

// Destination returns the recorded feedback destination, if the cycle has
// started.
func (fc *FeedbackCoordinator) Destination() (model.Address, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.dest == nil {
		return "", false
	}
	return *fc.dest, true
}

// Active reports whether the periodic cycle is running.
func (fc *FeedbackCoordinator) Active() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.active
}

// Stop tears the cycle down. The historical behaviour had no mid-cycle
// cancellation; Stop exists so an owning component can cancel the
// repeating timer when it is destroyed.
func (fc *FeedbackCoordinator) Stop() {
	fc.mu.Lock()
	timer := fc.timer
	fc.timer = nil
	fc.active = false
	fc.mu.Unlock()
	timer.Stop()
}

func (fc *FeedbackCoordinator) cycle() {
	fc.mu.Lock()
	if !fc.active || fc.dest == nil {
		fc.mu.Unlock()
		return
	}
	dest := *fc.dest
	fc.mu.Unlock()

	ctx, span := otel.Tracer(observability.TracerName).Start(context.Background(), "feedback.cycle")
	defer span.End()

	report := fc.stats.Snapshot()
	span.SetAttributes(
		attribute.String("feedback.destination", string(dest)),
		attribute.Float64("feedback.rssi", report.RSSI),
		attribute.Float64("feedback.snr", report.SNR),
	)

	payload := protocol.EncodeFeedback(report)
	if err := fc.transport.SendFeedback(payload, dest); err != nil {
		// No retry: the next period re-sends current state anyway.
		fc.log.Warn(ctx, "feedback send failed",
			logging.String("destination", string(dest)),
			logging.String("error", err.Error()),
		)
	} else {
		fc.metrics.CountFeedbackSent()
		fc.log.Debug(ctx, "tx feedback",
			logging.String("destination", string(dest)),
			logging.Float64("rssi", report.RSSI),
			logging.Float64("snr", report.SNR),
			logging.Uint32("loss", report.LossPackets),
			logging.Uint32("total", report.TotalPackets),
		)
	}

	fc.mu.Lock()
	if fc.active {
		fc.timer = fc.clock.After(fc.cfg.FeedbackPeriod, fc.cycle)
	}
	fc.mu.Unlock()
}
