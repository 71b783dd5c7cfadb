// Command edged runs on the counting device: it takes detection results
// from the ingest feeders, counts batches and keeps the cloud record and
// the realtime link in sync.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pancount/internal/activity"
	"pancount/internal/api"
	"pancount/internal/cloud"
	"pancount/internal/command"
	"pancount/internal/config"
	"pancount/internal/coordinator"
	"pancount/internal/counter"
	"pancount/internal/detect"
	"pancount/internal/discovery"
	"pancount/internal/export"
	"pancount/internal/ingest"
	"pancount/internal/logging"
	"pancount/internal/metrics"
	"pancount/internal/realtime"
	"pancount/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "pancount.yaml", "path to the configuration file")
	flag.Parse()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger, level := logging.NewDynamic(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mgr, logger, level); err != nil {
		logger.Error("edged stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mgr *config.Manager, logger *slog.Logger, level *slog.LevelVar) error {
	base := *mgr.Get()
	cfg := &base
	if cfg.Device.ID == "" {
		cfg.Device.ID = "edge-" + uuid.NewString()[:8]
	}
	logger = logger.With("device_id", cfg.Device.ID)
	logger.Info("starting edged", "version", version, "config", mgr.Path())

	runtime := config.NewRuntime(cfg)
	met := metrics.NewStore()
	act := activity.NewStore(cfg.Activity.StoreLimit)

	ledger := counter.NewLedger()
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		batches, err := store.ListBatches(ctx, 0)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		ledger.Restore(batches)
		logger.Info("ledger restored", "batches", len(batches))
	}

	remote, err := cloud.NewStore(cfg.Cloud, logger)
	if err != nil {
		return fmt.Errorf("cloud: %w", err)
	}
	if remote != nil {
		defer remote.Close()
	}

	var coord *coordinator.Coordinator
	product := func() string { return coord.Product() }

	exporter := export.NewKafkaExporter(cfg.Export.Kafka, cfg.Device.ID, product, logger)
	defer exporter.Close()

	deps := coordinator.Deps{
		Config:   cfg,
		Runtime:  runtime,
		Counter:  counter.NewBatchCounter(coordinator.CounterOptions(cfg), ledger),
		Cloud:    remote,
		Sink:     counter.MultiSink{storage.Recorder{Store: store, Product: product}, exporter},
		Metrics:  met,
		Activity: act,
		Logger:   logger,
	}

	if cfg.MQTT.Enabled {
		rt := realtime.New(cfg.MQTT, logger)
		rt.OnStateChange(func(up bool) { met.SetConnected(metrics.LinkRealtime, up) })
		queue := command.NewQueue(cfg.MQTT.CommandQueue, logger)
		if err := command.NewSubscriber(queue, cfg.MQTT.CommandDedupe, logger).Start(rt); err != nil {
			return fmt.Errorf("command subscribe: %w", err)
		}
		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer rt.Close()
		deps.Realtime = rt
		deps.Commands = queue
	}

	mailbox := detect.NewMailbox(runtime)
	deps.Source = mailbox
	coord = coordinator.New(deps)

	params := func() any { return detect.ParamsFrom(runtime.Snapshot()) }
	ingest.StartREST(ctx, mgr, mailbox, params, logger)
	ingest.StartTCPStream(ctx, mgr, mailbox, logger)
	ingest.StartFileTail(ctx, mgr, mailbox, logger)
	ingest.StartKafka(ctx, mgr, mailbox, logger)

	api.Start(ctx, mgr, api.Deps{
		Role:     "edge",
		Control:  coord,
		State:    func() any { return coord.Snapshot() },
		Settings: func() any { return runtime.Snapshot() },
		Metrics:  met,
		Activity: act,
	}, logger, version)

	if cfg.Discovery.Enabled && cfg.API.Enabled {
		adv := discovery.NewAdvertiser(logger)
		if port, err := portOf(cfg.API.Addr); err != nil {
			logger.Warn("mdns disabled", "err", err)
		} else if err := adv.Start(cfg.Discovery, cfg.Device.ID, port); err != nil {
			logger.Warn("mdns disabled", "err", err)
		} else {
			defer adv.Stop()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(ctx) })
	g.Go(func() error {
		mgr.Watch(ctx, 3*time.Second, func(next *config.Config) {
			level.Set(logging.ParseLevel(next.LogLevel))
			logger.Info("config reloaded", "log_level", next.LogLevel)
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("edged stopped")
	return nil
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
