// Package coordinator runs the edge device loop: one detection sample per
// tick into the batch counter, plus the scheduled cloud synchronization.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pancount/internal/activity"
	"pancount/internal/cloud"
	"pancount/internal/command"
	"pancount/internal/config"
	"pancount/internal/counter"
	"pancount/internal/detect"
	"pancount/internal/metrics"
	"pancount/internal/model"
	"pancount/internal/schedule"
	"pancount/internal/settings"
)

// Publisher is the realtime side of the coordinator. *realtime.Client
// satisfies it.
type Publisher interface {
	PublishCount(sample model.DetectionSample, stable int) error
	PublishBatchComplete(batch model.Batch, product string) error
	PublishStatus(deviceID string, st model.DeviceStatus) error
	PublishCalibrationImage(sample model.DetectionSample) error
}

type Deps struct {
	Config   *config.Config
	Runtime  *config.Runtime
	Source   detect.Source
	Counter  *counter.BatchCounter
	Cloud    cloud.Store
	Realtime Publisher
	// Commands carries push-channel commands from the transport goroutines.
	Commands *command.Queue
	// Sink receives every confirmed batch before the remote mirrors.
	Sink     counter.BatchSink
	Metrics  *metrics.Store
	Activity *activity.Store
	Clock    schedule.Clock
	Logger   *slog.Logger
}

// Coordinator owns the BatchCounter and the RuntimeConfig writes. Every
// mutation runs on the goroutine executing Run.
type Coordinator struct {
	cfg        *config.Config
	runtime    *config.Runtime
	source     detect.Source
	counter    *counter.BatchCounter
	cloud      cloud.Store
	realtime   Publisher
	commands   *command.Queue
	sink       counter.BatchSink
	metrics    *metrics.Store
	activity   *activity.Store
	clock      schedule.Clock
	logger     *slog.Logger
	scheduler  *schedule.Scheduler
	reconciler *settings.Reconciler
	poller     *command.Poller
	products   *cloud.ProductCache

	ops        chan func(context.Context)
	stopped    chan struct{}
	stopOnce   sync.Once
	frames     atomic.Int64
	lastSample atomic.Value
}

func New(d Deps) *Coordinator {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	if d.Runtime == nil {
		d.Runtime = config.NewRuntime(d.Config)
	}
	if d.Counter == nil {
		d.Counter = counter.NewBatchCounter(CounterOptions(d.Config), nil)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewStore()
	}
	if d.Activity == nil {
		d.Activity = activity.NewStore(d.Config.Activity.StoreLimit)
	}
	if d.Clock == nil {
		d.Clock = schedule.RealClock{}
	}
	c := &Coordinator{
		cfg:        d.Config,
		runtime:    d.Runtime,
		source:     d.Source,
		counter:    d.Counter,
		cloud:      d.Cloud,
		realtime:   d.Realtime,
		commands:   d.Commands,
		sink:       d.Sink,
		metrics:    d.Metrics,
		activity:   d.Activity,
		clock:      d.Clock,
		logger:     d.Logger,
		scheduler:  schedule.NewScheduler(d.Clock, d.Logger),
		reconciler: settings.NewReconciler(d.Runtime, d.Logger),
		products:   cloud.NewProductCache(d.Logger),
		ops:        make(chan func(context.Context)),
		stopped:    make(chan struct{}),
	}
	if d.Cloud != nil {
		c.poller = command.NewPoller(d.Cloud, d.Logger)
	}
	c.addTasks()
	return c
}

// CounterOptions maps the static config onto counter options.
func CounterOptions(cfg *config.Config) counter.Options {
	opts := counter.DefaultOptions()
	opts.Window = cfg.Counter.Window
	opts.AutoConfirm = cfg.Counter.AutoConfirm
	opts.AutoConfirmThreshold = cfg.Counter.AutoConfirmThreshold
	return opts
}

// Run loops until ctx is done, then flushes a stopped status once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.stopped) })
	if c.logger != nil {
		c.logger.Info("coordinator started", "device_id", c.cfg.Device.ID, "interval", c.runtime.Snapshot().TickInterval())
	}
	c.activity.Logf(activity.LevelInfo, "device %s started", c.cfg.Device.ID)
	defer c.shutdown()
	for {
		start := c.clock.Now()
		c.Tick(ctx)
		if ctx.Err() != nil {
			return nil
		}
		sleep := c.runtime.Snapshot().TickInterval() - c.clock.Now().Sub(start)
		if sleep < 0 {
			sleep = 0
		}
		if !c.wait(ctx, sleep) {
			return nil
		}
	}
}

// wait sleeps for d while still serving operator requests and pushed
// commands on the loop goroutine.
func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	timer := c.clock.After(d)
	var pushed <-chan model.DeviceCommand
	if c.commands != nil {
		pushed = c.commands.C()
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case op := <-c.ops:
			op(ctx)
		case cmd := <-pushed:
			command.Dispatch(ctx, c.onCommand, cmd, c.logger)
		}
	}
}

// Tick runs one loop iteration.
func (c *Coordinator) Tick(ctx context.Context) {
	if c.commands != nil {
		for _, cmd := range c.commands.Drain() {
			command.Dispatch(ctx, c.onCommand, cmd, c.logger)
		}
	}
	c.sample(ctx)
	c.scheduler.RunDue(ctx)
}

func (c *Coordinator) sample(ctx context.Context) {
	if c.source == nil {
		return
	}
	s, err := c.source.Next(ctx)
	if err != nil {
		if !errors.Is(err, detect.ErrNoSample) && c.logger != nil {
			c.logger.Warn("detection failed, skipping tick", "err", err)
		}
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = c.clock.Now()
	}
	c.frames.Add(1)
	c.metrics.Inc("frames")
	c.lastSample.Store(s)

	res := c.counter.Update(s.Count)
	if c.realtime != nil {
		if err := c.realtime.PublishCount(s, res.Stable); err != nil && c.logger != nil {
			c.logger.Debug("count publish failed", "err", err)
		}
		if c.runtime.Snapshot().CalibrationMode {
			if err := c.realtime.PublishCalibrationImage(s); err != nil && c.logger != nil {
				c.logger.Debug("calibration image publish failed", "err", err)
			}
		}
	}
	if res.AutoConfirmed {
		if c.logger != nil {
			c.logger.Info("batch auto-confirmed", "batch_id", res.Batch.ID, "count", res.Batch.Count)
		}
		c.completeBatch(ctx, res.Batch)
	}
}

// completeBatch records a confirmed batch locally, then mirrors it. The
// local ledger is authoritative; remote failures are logged and dropped.
func (c *Coordinator) completeBatch(ctx context.Context, batch model.Batch) {
	c.metrics.Inc("batches")
	product, known := c.products.Get()
	if c.sink != nil {
		if err := c.sink.Record(ctx, batch); err != nil && c.logger != nil {
			c.logger.Error("batch sink failed", "batch_id", batch.ID, "err", err)
		}
	}
	if c.realtime != nil {
		if err := c.realtime.PublishBatchComplete(batch, product); err != nil && c.logger != nil {
			c.logger.Warn("batch_complete publish failed", "batch_id", batch.ID, "err", err)
		}
	}
	c.activity.Logf(activity.LevelInfo, "batch %d confirmed with %d pieces", batch.ID, batch.Count)
	if c.cloud == nil {
		return
	}
	if !known || product == "" {
		if c.logger != nil {
			c.logger.Warn("no active product, cloud increment skipped", "batch_id", batch.ID)
		}
		c.activity.Logf(activity.LevelWarn, "batch %d not sent to the cloud: no active product", batch.ID)
		return
	}
	old, updated, err := c.cloud.IncrementProduction(ctx, product, batch.Count)
	c.metrics.Observe(metrics.LinkCloud, err)
	if err != nil {
		c.metrics.Inc("cloud_increment_failures")
		if c.logger != nil {
			c.logger.Error("cloud increment failed", "batch_id", batch.ID, "product", product, "err", err)
		}
		c.activity.Logf(activity.LevelError, "batch %d cloud update failed: %v", batch.ID, err)
		return
	}
	if c.logger != nil {
		c.logger.Info("cloud production updated", "product", product, "old", old, "new", updated)
	}
}

// onCommand toggles calibration. Repeating the current mode is a no-op.
func (c *Coordinator) onCommand(_ context.Context, action model.CommandAction) error {
	var on bool
	switch action {
	case model.ActionCalibrationStart:
		on = true
	case model.ActionCalibrationStop:
		on = false
	default:
		return command.ErrUnknownAction
	}
	if !c.runtime.SetCalibration(on) {
		return nil
	}
	if c.logger != nil {
		c.logger.Info("calibration mode changed", "calibrating", on)
	}
	if on {
		c.activity.Logf(activity.LevelInfo, "calibration started")
	} else {
		c.activity.Logf(activity.LevelInfo, "calibration stopped")
	}
	c.scheduler.Trigger(taskHeartbeat)
	return nil
}

func (c *Coordinator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Cloud.Timeout)
	defer cancel()
	if c.cloud != nil {
		if err := c.cloud.SetStopped(ctx); err != nil && c.logger != nil {
			c.logger.Warn("stopped status not delivered", "err", err)
		}
	}
	if c.realtime != nil {
		if err := c.realtime.PublishStatus(c.cfg.Device.ID, c.status(model.StatusStopped)); err != nil && c.logger != nil {
			c.logger.Debug("stopped status publish failed", "err", err)
		}
	}
	c.activity.Logf(activity.LevelInfo, "device %s stopped", c.cfg.Device.ID)
	if c.logger != nil {
		c.logger.Info("coordinator stopped", "frames", c.frames.Load())
	}
}

func (c *Coordinator) status(state string) model.DeviceStatus {
	snap := c.runtime.Snapshot()
	return model.DeviceStatus{
		Status:       state,
		LastSeen:     c.clock.Now(),
		CurrentCount: c.counter.State().Stable,
		FramesTotal:  c.frames.Load(),
		CPUTemp:      ReadCPUTemp(c.cfg.Sampling.ThermalPath),
		Calibrating:  snap.CalibrationMode,
	}
}
