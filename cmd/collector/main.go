// Command collector is the entry point for the futures market-data
// collector: it loads configuration, wires every exchange adapter behind
// a resilience wrapper, connects to RabbitMQ, and runs the orchestrator's
// ticker/funding/statistics loops until a shutdown signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cryptofeed/collector/internal/adapter"
	"github.com/cryptofeed/collector/internal/cache"
	"github.com/cryptofeed/collector/internal/collector"
	"github.com/cryptofeed/collector/internal/config"
	"github.com/cryptofeed/collector/internal/controlplane"
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/cryptofeed/collector/internal/metrics"
	"github.com/cryptofeed/collector/internal/orchestrator"
	"github.com/cryptofeed/collector/internal/publisher"
	"github.com/cryptofeed/collector/internal/resilience"
	"github.com/cryptofeed/collector/internal/server"
	"github.com/cryptofeed/collector/internal/transport"
	"github.com/cryptofeed/collector/pkg/logger"
)

func main() {
	cfgPath := os.Getenv("COLLECTOR_CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Console: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:         cfg.Logging.Level,
		Console:       cfg.Logging.Console,
		FilePath:      cfg.Logging.FilePath,
		MaxFileSizeMB: cfg.Logging.MaxFileSizeMB,
		BackupCount:   cfg.Logging.BackupCount,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("environment", cfg.Environment).Msg("starting collector")

	wrappers := make(map[domain.ExchangeId]*resilience.Wrapper, len(cfg.Exchanges))
	collectorExchanges := make(map[domain.ExchangeId]collector.Exchange, len(cfg.Exchanges))

	for _, name := range cfg.Exchanges {
		id := domain.ExchangeId(name)
		exCfg := cfg.ExchangeConfigFor(id)

		a, err := adapter.Build(exCfg, log)
		if err != nil {
			log.Fatal().Err(err).Str("exchange", name).Msg("failed to build adapter")
		}

		w := resilience.NewWrapper(exCfg, a, log)

		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := w.Initialize(initCtx); err != nil {
			log.Error().Err(err).Str("exchange", name).Msg("initial market metadata load failed, will retry through health probe")
		}
		cancel()

		wrappers[id] = w
		collectorExchanges[id] = w
	}

	state := controlplane.NewSharedState()

	c := cache.New()
	coll := collector.New(collector.Config{
		TickerCacheTTL:  durationOf(cfg.Cache.TickerTTLS),
		FundingCacheTTL: durationOf(cfg.Cache.FundingTTLS),
	}, state, c, collectorExchanges, log)

	amqpTransport := transport.New(transport.Config{
		URL:              cfg.RabbitMQ.URL(),
		DataExchange:     cfg.RabbitMQ.DataExchange,
		ControlQueue:     cfg.RabbitMQ.ControlQueue,
		ResponseExchange: cfg.RabbitMQ.ResponseExchange,
	}, log)
	defer amqpTransport.Close()

	met := metrics.New()

	pub := publisher.New(amqpTransport, "collector", cfg.Environment, publisher.BatchConfig{
		Strategy:     publisher.BatchStrategy(cfg.Batch.Strategy),
		MaxBatchSize: cfg.Batch.MaxSize,
		MaxWaitTime:  durationOf(cfg.Batch.MaxWaitTimeS),
		MaxRetries:   3,
	}, met, log)

	orch := orchestrator.New(orchestrator.Config{
		TickerInterval:     cfg.TickerInterval(),
		FundingInterval:    cfg.FundingRateInterval(),
		StatisticsInterval: durationOf(cfg.Performance.MetricsIntervalS),
		CronOverrides:      cfg.CronOverrides,
	}, wrappers, coll, pub, met, log)

	cp := controlplane.New(state, orch, amqpTransport, log)

	if err := amqpTransport.Connect(cp.HandleMessage); err != nil {
		log.Warn().Err(err).Msg("initial RabbitMQ connection failed, reconnect loop running in background")
	}

	httpServer := server.New(server.Config{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Metrics: met,
		Health:  orch,
		Log:     log,
	})
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)

	log.Info().Int("exchanges", len(wrappers)).Msg("collector started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down collector")
	cancel()
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	for id, w := range wrappers {
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("exchange", string(id)).Msg("error closing adapter")
		}
	}

	log.Info().Msg("collector stopped")
}

func durationOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
