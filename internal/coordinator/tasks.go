package coordinator

import (
	"context"
	"errors"
	"fmt"

	"pancount/internal/activity"
	"pancount/internal/metrics"
	"pancount/internal/model"
	"pancount/internal/schedule"
)

const (
	taskHeartbeat       = "heartbeat"
	taskSettingsRefresh = "settings_refresh"
	taskCommandPoll     = "command_poll"
	taskProductRefresh  = "product_refresh"
)

func (c *Coordinator) addTasks() {
	sched := c.cfg.Schedule
	c.scheduler.Add(schedule.Task{Name: taskHeartbeat, Interval: sched.Heartbeat, Run: c.heartbeat})
	if c.cloud == nil {
		return
	}
	c.scheduler.Add(schedule.Task{Name: taskSettingsRefresh, Interval: sched.SettingsRefresh, Run: c.refreshSettings})
	c.scheduler.Add(schedule.Task{Name: taskCommandPoll, Interval: sched.CommandPoll, Run: c.pollCommand})
	c.scheduler.Add(schedule.Task{Name: taskProductRefresh, Interval: sched.ProductRefresh, Run: c.refreshProduct})
}

func (c *Coordinator) heartbeat(ctx context.Context) error {
	st := c.status(model.StatusRunning)
	var errs []error
	if c.cloud != nil {
		err := c.cloud.PushStatus(ctx, st)
		c.observeCloud(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("cloud status: %w", err))
		}
	}
	if c.realtime != nil {
		if err := c.realtime.PublishStatus(c.cfg.Device.ID, st); err != nil {
			errs = append(errs, fmt.Errorf("realtime status: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) refreshSettings(ctx context.Context) error {
	raw, err := c.cloud.DeviceSettings(ctx)
	c.observeCloud(err)
	if err != nil {
		return fmt.Errorf("fetch settings: %w", err)
	}
	for _, ch := range c.reconciler.ApplyRaw(raw) {
		c.activity.Logf(activity.LevelInfo, "setting %s changed from %v to %v", ch.Field, ch.Old, ch.New)
	}
	return nil
}

func (c *Coordinator) pollCommand(ctx context.Context) error {
	_, err := c.poller.Poll(ctx, c.onCommand)
	c.observeCloud(err)
	return err
}

func (c *Coordinator) refreshProduct(ctx context.Context) error {
	err := c.products.Refresh(ctx, c.cloud)
	c.observeCloud(err)
	return err
}

func (c *Coordinator) observeCloud(err error) {
	if !c.metrics.Observe(metrics.LinkCloud, err) {
		return
	}
	if err != nil {
		c.activity.Logf(activity.LevelWarn, "cloud link down: %v", err)
		return
	}
	c.activity.Logf(activity.LevelInfo, "cloud link up")
}
