package core

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/signalsfoundry/adhoc-rate-simulator/internal/logging"
	"github.com/signalsfoundry/adhoc-rate-simulator/internal/observability"
	"github.com/signalsfoundry/adhoc-rate-simulator/model"
	"github.com/signalsfoundry/adhoc-rate-simulator/timectrl"
)

// TransmitterAddress is the group source address used for every run. The
// feedback destination learned by each receiver resolves to it.
const TransmitterAddress model.Address = "02:00:00:00:00:00"

// TickListener observes one completed simulation tick: the tick index and
// the group mode used for that tick's broadcast.
type TickListener func(tick int, mode model.Mode)

// SimulationEngine drives one closed-loop run: a single transmitter
// broadcasting group frames to a set of receivers over a log-distance
// channel, with each receiver feeding its smoothed link statistics back
// on the periodic cycle. Event time is virtual; Run advances the
// scheduler one tick interval per broadcast.
type SimulationEngine struct {
	scenario  *Scenario
	scheduler *timectrl.EventScheduler
	channel   *ChannelModel
	engine    *RateEngine
	txCoord   *FeedbackCoordinator
	receivers []*simReceiver
	listeners []TickListener
	rng       *rand.Rand
	log       logging.Logger

	tick         int
	nextExchange int
}

// simReceiver is one group member: a position on the channel, its local
// quality estimator, and the coordinator that reports upstream.
type simReceiver struct {
	addr      model.Address
	distanceM float64
	estimator *LinkQualityEstimator
	coord     *FeedbackCoordinator
}

// feedbackLink carries encoded feedback frames from one receiver to the
// transmitter's decode path. The simulated medium is lossless for
// feedback; only group data frames see channel errors.
type feedbackLink struct {
	from    model.Address
	deliver func(from model.Address, payload []byte) error
}

func (l *feedbackLink) SendFeedback(payload []byte, to model.Address) error {
	if to != TransmitterAddress {
		return fmt.Errorf("feedback link: unknown destination %s", to)
	}
	return l.deliver(l.from, payload)
}

// nopTransport backs the transmitter-side coordinator, which decodes
// inbound feedback but never starts a cycle of its own.
type nopTransport struct{}

func (nopTransport) SendFeedback([]byte, model.Address) error { return nil }

// NewSimulationEngine builds a run from a loaded scenario. The RateEngine
// and every receiver share the collector, so the exported metrics cover
// the full loop.
func NewSimulationEngine(scn *Scenario, log logging.Logger, metrics *observability.RateCollector) (*SimulationEngine, error) {
	if scn == nil {
		return nil, fmt.Errorf("simulation: scenario is required")
	}
	if len(scn.Peers) == 0 {
		return nil, fmt.Errorf("simulation: scenario has no peers")
	}
	if log == nil {
		log = logging.Noop()
	}

	channel := NewChannelModel(scn.Seed)
	if scn.Channel.TxPowerDBm != 0 {
		channel.TxPowerDBm = scn.Channel.TxPowerDBm
	}
	if scn.Channel.ReferenceLossDB != 0 {
		channel.ReferenceLossDB = scn.Channel.ReferenceLossDB
	}
	if scn.Channel.Exponent != 0 {
		channel.Exponent = scn.Channel.Exponent
	}
	if scn.Channel.NoiseFloorDBm != 0 {
		channel.NoiseFloorDBm = scn.Channel.NoiseFloorDBm
	}
	channel.ShadowingStdDB = scn.Channel.ShadowingStdDB

	engine, err := NewRateEngine(scn.Config, NewOfdmErrorRateModel(), log, metrics)
	if err != nil {
		return nil, err
	}

	scheduler := timectrl.NewEventScheduler(time.Unix(0, 0))
	sim := &SimulationEngine{
		scenario:  scn,
		scheduler: scheduler,
		channel:   channel,
		engine:    engine,
		rng:       rand.New(rand.NewSource(scn.Seed + 1)),
		log:       logging.Component(log, "simulation"),
	}

	// The transmitter's coordinator only consumes feedback; its table is
	// the rate engine's.
	sim.txCoord = NewFeedbackCoordinator(scn.Config, engine.Table(), nil, nopTransport{}, scheduler, log, metrics)

	for _, p := range scn.Peers {
		est := NewLinkQualityEstimator(scn.Config)
		link := &feedbackLink{from: p.Address, deliver: sim.txCoord.HandleFeedback}
		sim.receivers = append(sim.receivers, &simReceiver{
			addr:      p.Address,
			distanceM: p.DistanceM,
			estimator: est,
			coord:     NewFeedbackCoordinator(scn.Config, NewPeerTable(), est, link, scheduler, log, metrics),
		})
	}

	return sim, nil
}

// Engine exposes the rate engine for inspection after a run.
func (s *SimulationEngine) Engine() *RateEngine { return s.engine }

// RegisterTickListener adds a per-tick observer. Listeners run after the
// tick's broadcast and scheduler advance, on the Run goroutine.
func (s *SimulationEngine) RegisterTickListener(l TickListener) {
	s.listeners = append(s.listeners, l)
}

// Run executes ticks broadcast rounds, or the scenario's configured count
// when ticks <= 0. ctx cancellation stops between ticks.
func (s *SimulationEngine) Run(ctx context.Context, ticks int) error {
	if ticks <= 0 {
		ticks = s.scenario.Ticks
	}

	s.log.Info(ctx, "run started",
		logging.String("scenario", s.scenario.Name),
		logging.Int("ticks", ticks),
		logging.Int("peers", len(s.receivers)),
		logging.String("policy", s.scenario.Config.policyName()),
	)

	for i := 0; i < ticks; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.step()
	}

	minSNR, rate, mcs := s.engine.Averages()
	s.log.Info(ctx, "run finished",
		logging.Int("ticks", ticks),
		logging.Float64("avg_min_snr_db", minSNR),
		logging.Float64("avg_rate_mbps", rate),
		logging.Float64("avg_mcs", mcs),
	)
	return nil
}

// step performs one broadcast round: group mode selection, per-receiver
// delivery draws, one unicast exchange, then a tick's worth of virtual
// time so due feedback cycles fire.
func (s *SimulationEngine) step() {
	mode, _ := s.engine.GroupTxMode()
	nbits := s.engine.groupFrameBits(mode)

	for _, rx := range s.receivers {
		_, snrDB := s.channel.Sample(rx.distanceM)
		snrLinear := math.Pow(10.0, snrDB/10.0)
		pdr := s.engine.deliveryProbability(mode, snrLinear, nbits)
		delivered := s.rng.Float64() < pdr
		rx.estimator.RecordPacket(!delivered)
		if delivered {
			rx.estimator.AddSample(snrDB)
			rx.coord.OnGroupFrame(TransmitterAddress)
		}
	}

	s.exchangeNext()

	s.scheduler.AdvanceBy(s.scenario.TickInterval)

	for _, l := range s.listeners {
		l(s.tick, mode)
	}
	s.tick++
}

// exchangeNext models one unicast exchange with the next receiver in
// round-robin order: the transmitter learns the peer's supported set and
// records the link SNR observed on the exchange, which the unicast and
// control selectors key off.
func (s *SimulationEngine) exchangeNext() {
	if len(s.receivers) == 0 {
		return
	}
	rx := s.receivers[s.nextExchange%len(s.receivers)]
	s.nextExchange++

	s.engine.LearnPeer(rx.addr)
	_, snrDB := s.channel.Sample(rx.distanceM)
	s.engine.Table().RecordExchangeSNR(rx.addr, math.Pow(10.0, snrDB/10.0))
}

// Stop cancels every active feedback cycle.
func (s *SimulationEngine) Stop() {
	for _, rx := range s.receivers {
		if rx.coord.Active() {
			rx.coord.Stop()
		}
	}
}
