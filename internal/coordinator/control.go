package coordinator

import (
	"context"
	"errors"

	"pancount/internal/activity"
	"pancount/internal/command"
	"pancount/internal/config"
	"pancount/internal/metrics"
	"pancount/internal/model"
)

var ErrNotRunning = errors.New("coordinator is not running")

// do runs fn on the loop goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	op := func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}
	select {
	case c.ops <- op:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfirmBatch is the operator confirm. manual overrides the stable count.
func (c *Coordinator) ConfirmBatch(ctx context.Context, manual *int, notes string) (model.Batch, bool, error) {
	var (
		batch model.Batch
		ok    bool
	)
	err := c.do(ctx, func(ctx context.Context) {
		batch, ok = c.counter.ConfirmBatchWithNotes(manual, notes)
		if ok {
			c.completeBatch(ctx, batch)
		}
	})
	return batch, ok, err
}

func (c *Coordinator) ResetCurrent(ctx context.Context) error {
	return c.do(ctx, func(context.Context) { c.counter.ResetCurrent() })
}

// ResetAll clears the in-memory ledger. Persisted batches are kept and come
// back on the next start.
func (c *Coordinator) ResetAll(ctx context.Context) error {
	return c.do(ctx, func(context.Context) {
		c.counter.ResetAll()
		c.activity.Logf(activity.LevelWarn, "ledger cleared by operator")
	})
}

// SetCalibration goes through the same handler as remote commands.
func (c *Coordinator) SetCalibration(ctx context.Context, on bool) error {
	action := model.ActionCalibrationStop
	if on {
		action = model.ActionCalibrationStart
	}
	return c.do(ctx, func(ctx context.Context) {
		command.Dispatch(ctx, c.onCommand, model.DeviceCommand{Action: action, Timestamp: c.clock.Now()}, c.logger)
	})
}

type Snapshot struct {
	DeviceID    string                       `json:"device_id"`
	Counter     model.CounterState           `json:"counter"`
	Runtime     config.RuntimeValues         `json:"runtime"`
	FramesTotal int64                        `json:"frames_total"`
	Product     string                       `json:"product,omitempty"`
	Links       map[string]metrics.LinkState `json:"links"`
	LastSample  *model.DetectionSample       `json:"last_sample,omitempty"`
}

// Snapshot is safe to call from any goroutine.
func (c *Coordinator) Snapshot() Snapshot {
	snap := Snapshot{
		DeviceID:    c.cfg.Device.ID,
		Counter:     c.counter.State(),
		Runtime:     c.runtime.Snapshot(),
		FramesTotal: c.frames.Load(),
		Links:       c.metrics.Links(),
	}
	if p, ok := c.products.Get(); ok {
		snap.Product = p
	}
	if s, ok := c.lastSample.Load().(model.DetectionSample); ok {
		snap.LastSample = &s
	}
	return snap
}

func (c *Coordinator) Counter() model.CounterState {
	return c.counter.State()
}

func (c *Coordinator) Ledger() []model.Batch {
	return c.counter.Ledger().List()
}

func (c *Coordinator) Statistics() model.Statistics {
	return c.counter.Ledger().Statistics(c.clock.Now())
}

func (c *Coordinator) DailyProduction(days int) []model.DayTotal {
	return c.counter.Ledger().DailyProduction(c.clock.Now(), days)
}

// Product is the cached active product, empty when none is known.
func (c *Coordinator) Product() string {
	p, _ := c.products.Get()
	return p
}
