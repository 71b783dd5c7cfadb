// Command consoled is the operator console: it follows an edge device over
// MQTT, keeps its own ledger of confirmed batches and serves the API and the
// browser websocket feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"pancount/internal/activity"
	"pancount/internal/api"
	"pancount/internal/config"
	"pancount/internal/console"
	"pancount/internal/coordinator"
	"pancount/internal/counter"
	"pancount/internal/discovery"
	"pancount/internal/hub"
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
		logger.Error("consoled stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mgr *config.Manager, logger *slog.Logger, level *slog.LevelVar) error {
	cfg := mgr.Get()
	logger = logger.With("role", "console")
	logger.Info("starting consoled", "version", version, "config", mgr.Path())

	if !cfg.MQTT.Enabled {
		return errors.New("console needs mqtt enabled")
	}

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

	rt := realtime.New(cfg.MQTT, logger)
	rt.OnStateChange(func(up bool) { met.SetConnected(metrics.LinkRealtime, up) })

	h := hub.New(cfg.Console.HubBuffer, logger)
	monitor := console.New(console.Deps{
		Config:   cfg,
		Link:     rt,
		Counter:  counter.NewBatchCounter(coordinator.CounterOptions(cfg), ledger),
		Sink:     storage.Recorder{Store: store},
		Hub:      h,
		Activity: act,
		Metrics:  met,
		Logger:   logger,
	})
	h.OnWelcome(func() any { return monitor.Counter() })

	if err := monitor.Start(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := rt.Connect(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	defer rt.Close()

	api.Start(ctx, mgr, api.Deps{
		Role:       "console",
		Control:    monitor,
		State:      func() any { return monitor.Snapshot() },
		Settings:   func() any { return mgr.Get().Detection },
		Metrics:    met,
		Activity:   act,
		WebSockets: h,
	}, logger, version)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(ctx)
		return nil
	})
	g.Go(func() error { return monitor.Run(ctx) })
	if cfg.Discovery.Enabled {
		g.Go(func() error {
			browseEdges(ctx, cfg.Discovery, act, logger)
			return nil
		})
	}
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
	logger.Info("consoled stopped")
	return nil
}

func browseEdges(ctx context.Context, cfg config.DiscoveryConfig, act *activity.Store, logger *slog.Logger) {
	peers, err := discovery.Browse(ctx, cfg)
	if err != nil {
		logger.Warn("mdns browse failed", "err", err)
		return
	}
	for _, p := range peers {
		logger.Info("edge found", "instance", p.Instance, "addr", p.Address(), "port", p.Port)
		act.Logf(activity.LevelInfo, "edge %s found at %s:%d", p.Instance, p.Address(), p.Port)
	}
}
