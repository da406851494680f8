package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/adhoc-rate-simulator/core"
	"github.com/signalsfoundry/adhoc-rate-simulator/internal/logging"
	"github.com/signalsfoundry/adhoc-rate-simulator/internal/observability"
	"github.com/signalsfoundry/adhoc-rate-simulator/model"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to a JSON scenario (empty runs the built-in three-peer group)")
	ticks := flag.Int("ticks", 0, "broadcast rounds to run (0 uses the scenario's count)")
	policy := flag.Int("policy", -1, "override adaptation policy: 0 PER-threshold, 1 max-throughput")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	progressEvery := flag.Int("progress-every", 100, "print a progress line every N ticks (0 disables)")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		panic(fmt.Errorf("failed to init tracing: %w", err))
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	scn := core.DefaultScenario()
	if *scenarioPath != "" {
		f, err := os.Open(*scenarioPath)
		if err != nil {
			panic(fmt.Errorf("failed to open scenario %q: %w", *scenarioPath, err))
		}
		scn, err = core.LoadScenario(f)
		f.Close()
		if err != nil {
			panic(err)
		}
	}
	if *policy == 0 || *policy == 1 {
		scn.Config.FeedbackType = uint32(*policy)
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewRateCollector(reg)
	if err != nil {
		panic(fmt.Errorf("failed to register metrics: %w", err))
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "warning: metrics server: %v\n", err)
			}
		}()
		fmt.Printf("Serving metrics on %s/metrics\n", *metricsAddr)
	}

	sim, err := core.NewSimulationEngine(scn, log, collector)
	if err != nil {
		panic(fmt.Errorf("failed to build simulation: %w", err))
	}
	defer sim.Stop()

	if *progressEvery > 0 {
		every := *progressEvery
		sim.RegisterTickListener(func(tick int, mode model.Mode) {
			if tick%every != 0 {
				return
			}
			minSNR, rate, mcs := sim.Engine().Averages()
			fmt.Printf("[tick %5d] mode=%-12s avg: minSNR=%5.1f dB rate=%5.1f Mbps mcs=%.2f\n",
				tick, mode.Name, minSNR, rate, mcs)
		})
	}

	fmt.Printf("Starting run: scenario=%q peers=%d policy=%d\n",
		scn.Name, len(scn.Peers), scn.Config.FeedbackType)

	if err := sim.Run(ctx, *ticks); err != nil {
		panic(err)
	}

	minSNR, rate, mcs := sim.Engine().Averages()
	fmt.Println("Run complete.")
	fmt.Printf("  avg group min SNR : %6.2f dB\n", minSNR)
	fmt.Printf("  avg group rate    : %6.2f Mbps\n", rate)
	fmt.Printf("  avg MCS index     : %6.2f\n", mcs)

	for _, addr := range sim.Engine().Table().Addresses() {
		data := sim.Engine().DataTxMode(addr)
		rts := sim.Engine().RTSTxMode(addr)
		fmt.Printf("  peer %s  data=%-12s rts=%s\n", addr, data.Name, rts.Name)
	}
}
