package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/signalsfoundry/agrinode-simulator/internal/config"
	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/internal/observability"
	"github.com/signalsfoundry/agrinode-simulator/internal/sink"
	"github.com/signalsfoundry/agrinode-simulator/wire"
)

func main() {
	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.LoadReceiver()
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

	collector, err := observability.NewReceiverCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}

	format := wire.FormatCompact
	if cfg.ExtendedFrames {
		format = wire.FormatExtended
	}
	codec := wire.NewCodec(cfg.TeamID, format)

	influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	defer influx.Close()
	writer := sink.NewInfluxWriter(influx, cfg.InfluxOrg, cfg.InfluxBucket)

	receiver := sink.NewReceiver(codec, writer, collector, log)

	consumerCfg := sink.DefaultConsumerConfig()
	consumerCfg.BrokerURL = cfg.MQTTBrokerURL
	consumerCfg.ClientID = cfg.MQTTClientID
	consumerCfg.Topic = cfg.MQTTTopic
	consumerCfg.QoS = cfg.MQTTQoS
	consumer, err := sink.NewConsumer(consumerCfg, receiver, log)
	if err != nil {
		log.Error(ctx, "failed to build uplink consumer", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if err := consumer.Connect(ctx); err != nil {
		log.Error(ctx, "uplink broker unreachable",
			logging.String("broker", cfg.MQTTBrokerURL),
			logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer consumer.Close()

	srv := serveStatus(cfg.HTTPAddr, collector, log)

	log.Info(ctx, "ground receiver running",
		logging.String("topic", cfg.MQTTTopic),
		logging.String("bucket", cfg.InfluxBucket))

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down ground receiver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func serveStatus(addr string, collector *observability.ReceiverCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "status server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving receiver status", logging.String("addr", addr))
	return srv
}
