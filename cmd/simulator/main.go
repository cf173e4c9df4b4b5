package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/agrinode-simulator/core"
	"github.com/signalsfoundry/agrinode-simulator/internal/config"
	"github.com/signalsfoundry/agrinode-simulator/internal/httpapi"
	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/internal/observability"
	"github.com/signalsfoundry/agrinode-simulator/internal/probe"
	"github.com/signalsfoundry/agrinode-simulator/internal/report"
	"github.com/signalsfoundry/agrinode-simulator/orbit"
	"github.com/signalsfoundry/agrinode-simulator/radio"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
	"github.com/signalsfoundry/agrinode-simulator/wire"
)

func main() {
	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.LoadSimulator()
	if err != nil {
		log.Error(ctx, "configuration invalid", logging.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewFleetCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}

	ranges, err := core.LoadSensorRangesFile(cfg.RangesFile)
	if err != nil {
		log.Error(ctx, "failed to load sensor ranges",
			logging.String("path", cfg.RangesFile),
			logging.String("error", err.Error()))
		os.Exit(1)
	}

	rng := newRNG(cfg.Seed)
	store, err := core.NewFleetStore(core.FleetConfig{
		NodeCount:  cfg.NodeCount,
		NodeIDBase: cfg.NodeIDBase,
		Ranges:     ranges,
	}, rng)
	if err != nil {
		log.Error(ctx, "failed to seed fleet", logging.String("error", err.Error()))
		os.Exit(1)
	}
	store.Subscribe(collector.ObserveReading)

	clock := timectrl.NewSystemClock()
	dynamics := core.NewDynamics(core.DynamicsConfig{
		FaultOneIn:        cfg.FaultOneIn,
		TimezoneOffsetSec: cfg.TimezoneOffsetSec,
	}, store, clock, rng)

	// The epoch source decides whether frames carry a real timestamp, so
	// announce it the way field firmware does at time sync.
	if epoch, ok := clock.EpochSeconds(); ok {
		log.Info(ctx, "time source ready", logging.Any("epoch", epoch))
	} else {
		log.Warn(ctx, "no plausible time source, frames carry timestamp 0")
	}

	format := wire.FormatCompact
	if cfg.ExtendedFrames {
		format = wire.FormatExtended
	}
	codec := wire.NewCodec(cfg.TeamID, format)

	link, closeLink, err := buildTransport(ctx, cfg, log, rng)
	if err != nil {
		log.Error(ctx, "uplink bring-up failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeLink()

	schedCfg := core.DefaultSchedulerConfig()
	schedCfg.BaseIntervalMs = cfg.BaseIntervalMs
	schedCfg.JitterSpanMs = cfg.JitterSpanMs
	schedCfg.MinIntervalMs = cfg.MinIntervalMs
	schedCfg.BusyThresholdDBm = cfg.BusyThresholdDBm
	scheduler, err := core.NewTxScheduler(schedCfg, store, codec, link, clock, rng, log, collector)
	if err != nil {
		log.Error(ctx, "failed to build scheduler", logging.String("error", err.Error()))
		os.Exit(1)
	}

	engine, err := core.NewEngine(core.EngineConfig{
		PollInterval:   cfg.PollInterval,
		UpdateInterval: cfg.UpdateInterval,
	}, dynamics, scheduler, clock, log)
	if err != nil {
		log.Error(ctx, "failed to build engine", logging.String("error", err.Error()))
		os.Exit(1)
	}

	tracker, err := buildPassTracker(cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build pass tracker", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if tracker != nil {
		engine.RegisterTickListener(func(uint64) {
			tracker.Update(ctx, time.Now())
			s := tracker.Status()
			collector.SetRelayStatus(s.ElevationDeg, s.Visible)
		})
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := report.New(report.Config{
		Interval:  cfg.StatsInterval,
		RemoteURL: cfg.ReportURL,
	}, store, scheduler, clock, log)
	go reporter.Run(runCtx)

	if cfg.ProbeEnabled {
		startProbe(runCtx, cfg, log)
	}

	var relay httpapi.RelaySource
	if tracker != nil {
		relay = tracker
	}
	api := httpapi.New(store, scheduler, relay, collector, log)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Handler()}
	go func() {
		log.Info(ctx, "serving status API", logging.String("addr", cfg.HTTPAddr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, "status API server exited", logging.String("error", err.Error()))
		}
	}()

	// One frame straight through encode and transport before the loop
	// starts, so a broken uplink shows up at boot rather than a minute in.
	// The engine's first cycle runs the initial dynamics pass.
	if err := scheduler.SendProbe(runCtx); err != nil {
		log.Warn(runCtx, "boot probe frame failed", logging.String("error", err.Error()))
	}

	log.Info(ctx, "starting fleet simulator",
		logging.Int("nodes", cfg.NodeCount),
		logging.String("uplink", cfg.Uplink),
		logging.String("frame_format", format.String()))
	engine.Run(runCtx)

	stats := scheduler.Statistics()
	log.Info(ctx, "fleet simulator stopped",
		logging.Any("total_sent", stats.TotalSent),
		logging.Any("total_failed", stats.TotalFailed))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
}

// newRNG seeds the simulation stream; a zero seed draws a fresh one so
// unconfigured runs still differ.
func newRNG(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// buildTransport returns the configured uplink and its teardown.
func buildTransport(ctx context.Context, cfg config.Simulator, log logging.Logger, rng *rand.Rand) (radio.Transport, func(), error) {
	if cfg.Uplink == "mqtt" {
		mqttCfg := radio.DefaultMQTTBridgeConfig()
		mqttCfg.BrokerURL = cfg.MQTTBrokerURL
		mqttCfg.ClientID = cfg.MQTTClientID
		mqttCfg.Topic = cfg.MQTTTopic
		mqttCfg.QoS = cfg.MQTTQoS
		bridge, err := radio.NewMQTTBridge(mqttCfg, log, rng)
		if err != nil {
			return nil, nil, err
		}
		if err := bridge.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return bridge, bridge.Close, nil
	}
	return radio.NewSimRadio(radio.DefaultSimRadioConfig(), rng), func() {}, nil
}

// buildPassTracker returns nil when no relay TLE is configured.
func buildPassTracker(cfg config.Simulator, log logging.Logger) (*orbit.PassTracker, error) {
	if cfg.RelayTLE1 == "" {
		return nil, nil
	}
	return orbit.NewPassTracker(cfg.RelayTLE1, cfg.RelayTLE2, orbit.GroundStation{
		Name:   cfg.SiteName,
		LatDeg: cfg.SiteLatDeg,
		LonDeg: cfg.SiteLonDeg,
		AltKm:  cfg.SiteAltKm,
	}, orbit.DefaultPassTrackerConfig(), log)
}

// startProbe brings up the ambient BME280 probe in the background. Probe
// failure never takes the simulator down.
func startProbe(ctx context.Context, cfg config.Simulator, log logging.Logger) {
	probeMetrics, err := observability.NewProbeCollector(nil)
	if err != nil {
		log.Warn(ctx, "probe metrics unavailable", logging.String("error", err.Error()))
		return
	}
	p, err := probe.New(probe.Config{
		Bus:          cfg.ProbeI2CBus,
		Addr:         cfg.ProbeI2CAddr,
		PollInterval: cfg.ProbePollInterval,
	}, log, func(r probe.Reading) {
		probeMetrics.SetReading(r.TempC, r.HumidityPct, r.PressureHPa)
	})
	if err != nil {
		log.Warn(ctx, "probe disabled", logging.String("error", err.Error()))
		return
	}
	go func() {
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn(ctx, "probe stopped", logging.String("error", err.Error()))
		}
	}()
}
