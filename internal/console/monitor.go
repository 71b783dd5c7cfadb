// Package console is the operator side: it mirrors the edge over the
// realtime link, keeps its own batch ledger and sends remote commands.
package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pancount/internal/activity"
	"pancount/internal/config"
	"pancount/internal/counter"
	"pancount/internal/metrics"
	"pancount/internal/model"
	"pancount/internal/realtime"
)

var ErrNotRunning = errors.New("console monitor is not running")

const LinkEdge = "edge"

// Link is the realtime transport. *realtime.Client satisfies it.
type Link interface {
	Subscribe(topic string, qos byte, handler realtime.Handler) error
	PublishCommand(cmd model.DeviceCommand) error
	Topics() config.TopicsConfig
}

// Broadcaster pushes events to browsers. *hub.Hub satisfies it.
type Broadcaster interface {
	Publish(kind string, data any)
}

type Deps struct {
	Config   *config.Config
	Link     Link
	Counter  *counter.BatchCounter
	Sink     counter.BatchSink
	Hub      Broadcaster
	Activity *activity.Store
	Metrics  *metrics.Store
	Logger   *slog.Logger
	Now      func() time.Time
}

type EdgeInfo struct {
	Status     realtime.StatusMessage            `json:"status"`
	ReceivedAt time.Time                         `json:"received_at"`
	LastBatch  *realtime.BatchCompleteMessage    `json:"last_batch,omitempty"`
	LastImage  *realtime.CalibrationImageMessage `json:"-"`
	ImageAt    time.Time                         `json:"image_at,omitempty"`
}

// Monitor owns the console BatchCounter. Transport callbacks only enqueue;
// the goroutine running Run applies them.
type Monitor struct {
	cfg      *config.Config
	link     Link
	counter  *counter.BatchCounter
	sink     counter.BatchSink
	hub      Broadcaster
	activity *activity.Store
	metrics  *metrics.Store
	logger   *slog.Logger
	now      func() time.Time

	events   chan func(context.Context)
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	edge    EdgeInfo
	tempHot bool
}

func New(d Deps) *Monitor {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	if d.Counter == nil {
		d.Counter = counter.NewBatchCounter(counter.DefaultOptions(), nil)
	}
	if d.Activity == nil {
		d.Activity = activity.NewStore(d.Config.Activity.StoreLimit)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewStore()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Monitor{
		cfg:      d.Config,
		link:     d.Link,
		counter:  d.Counter,
		sink:     d.Sink,
		hub:      d.Hub,
		activity: d.Activity,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
		events:   make(chan func(context.Context), 256),
		stopped:  make(chan struct{}),
	}
}

// Start subscribes the edge topics.
func (m *Monitor) Start() error {
	if m.link == nil {
		return nil
	}
	topics := m.link.Topics()
	subs := []struct {
		topic   string
		qos     byte
		handler realtime.Handler
	}{
		{topics.Count, 1, m.handleCount},
		{topics.BatchComplete, 1, m.handleBatchComplete},
		{topics.Status, 0, m.handleStatus},
		{topics.CalibrationImage, 0, m.handleCalibrationImage},
	}
	for _, s := range subs {
		if err := m.link.Subscribe(s.topic, s.qos, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) Run(ctx context.Context) error {
	defer m.stopOnce.Do(func() { close(m.stopped) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			ev(ctx)
		}
	}
}

// enqueue never blocks the transport goroutine.
func (m *Monitor) enqueue(ev func(context.Context)) {
	select {
	case m.events <- ev:
	default:
		m.metrics.Inc("console_events_dropped")
		if m.logger != nil {
			m.logger.Warn("console event queue full, dropping event")
		}
	}
}

func (m *Monitor) do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	op := func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}
	select {
	case <-m.stopped:
		return ErrNotRunning
	default:
	}
	select {
	case m.events <- op:
	case <-m.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) decodeFailed(topic string, err error) {
	m.metrics.Inc("console_decode_errors")
	if m.logger != nil {
		m.logger.Warn("malformed realtime message", "topic", topic, "err", err)
	}
}

func (m *Monitor) handleCount(topic string, payload []byte) {
	msg, err := realtime.Decode[realtime.CountMessage](payload)
	if err != nil {
		m.decodeFailed(topic, err)
		return
	}
	m.enqueue(func(ctx context.Context) { m.applyCount(ctx, msg) })
}

func (m *Monitor) applyCount(ctx context.Context, msg realtime.CountMessage) {
	m.markEdgeSeen()
	res := m.counter.Update(msg.Count)
	m.broadcast("count", map[string]any{
		"timestamp":    msg.Timestamp,
		"count":        res.Current,
		"stable_count": res.Stable,
		"edge_stable":  msg.StableCount,
		"boxes":        msg.Boxes,
	})
	if res.AutoConfirmed {
		m.recordBatch(ctx, res.Batch, "auto")
	}
}

func (m *Monitor) recordBatch(ctx context.Context, batch model.Batch, trigger string) {
	m.metrics.Inc("batches")
	if m.sink != nil {
		if err := m.sink.Record(ctx, batch); err != nil && m.logger != nil {
			m.logger.Error("batch sink failed", "batch_id", batch.ID, "err", err)
		}
	}
	if m.logger != nil {
		m.logger.Info("batch confirmed", "batch_id", batch.ID, "count", batch.Count, "trigger", trigger)
	}
	m.activity.Logf(activity.LevelInfo, "batch %d confirmed (%s) with %d pieces", batch.ID, trigger, batch.Count)
	m.broadcast("batch", batch)
}

func (m *Monitor) handleBatchComplete(topic string, payload []byte) {
	msg, err := realtime.Decode[realtime.BatchCompleteMessage](payload)
	if err != nil {
		m.decodeFailed(topic, err)
		return
	}
	m.enqueue(func(context.Context) {
		m.markEdgeSeen()
		m.mu.Lock()
		m.edge.LastBatch = &msg
		m.mu.Unlock()
		m.activity.Logf(activity.LevelInfo, "edge reported batch %d with %d pieces", msg.BatchID, msg.FinalCount)
		m.broadcast("edge_batch", msg)
	})
}

func (m *Monitor) handleStatus(topic string, payload []byte) {
	msg, err := realtime.Decode[realtime.StatusMessage](payload)
	if err != nil {
		m.decodeFailed(topic, err)
		return
	}
	m.enqueue(func(context.Context) { m.applyStatus(msg) })
}

func (m *Monitor) applyStatus(msg realtime.StatusMessage) {
	m.mu.Lock()
	prev := m.edge.Status
	m.edge.Status = msg
	m.edge.ReceivedAt = m.now()
	wasHot := m.tempHot
	hot := msg.CPUTemp != nil && m.cfg.Console.CPUTempWarn > 0 && *msg.CPUTemp >= m.cfg.Console.CPUTempWarn
	m.tempHot = hot
	m.mu.Unlock()

	m.metrics.SetConnected(LinkEdge, msg.Status != model.StatusStopped)
	if prev.Status != msg.Status {
		m.activity.Logf(activity.LevelInfo, "edge %s is %s", msg.DeviceID, msg.Status)
	}
	if prev.Calibrating != msg.Calibrating {
		if msg.Calibrating {
			m.activity.Logf(activity.LevelInfo, "edge entered calibration mode")
		} else {
			m.activity.Logf(activity.LevelInfo, "edge left calibration mode")
		}
	}
	if hot && !wasHot {
		m.activity.Logf(activity.LevelWarn, "edge cpu temperature high: %.1f C", *msg.CPUTemp)
	}
	m.broadcast("status", msg)
}

func (m *Monitor) handleCalibrationImage(topic string, payload []byte) {
	msg, err := realtime.Decode[realtime.CalibrationImageMessage](payload)
	if err != nil {
		m.decodeFailed(topic, err)
		return
	}
	m.enqueue(func(context.Context) {
		m.mu.Lock()
		m.edge.LastImage = &msg
		m.edge.ImageAt = m.now()
		m.mu.Unlock()
		m.broadcast("calibration_image", msg)
	})
}

func (m *Monitor) markEdgeSeen() {
	if m.metrics.SetConnected(LinkEdge, true) {
		m.activity.Logf(activity.LevelInfo, "edge data flowing")
	}
}

func (m *Monitor) broadcast(kind string, data any) {
	if m.hub != nil {
		m.hub.Publish(kind, data)
	}
}

// ConfirmBatch is the operator confirm; manual overrides the stable count.
func (m *Monitor) ConfirmBatch(ctx context.Context, manual *int, notes string) (model.Batch, bool, error) {
	var (
		batch model.Batch
		ok    bool
	)
	err := m.do(ctx, func(ctx context.Context) {
		batch, ok = m.counter.ConfirmBatchWithNotes(manual, notes)
		if ok {
			m.recordBatch(ctx, batch, "manual")
		}
	})
	return batch, ok, err
}

func (m *Monitor) ResetCurrent(ctx context.Context) error {
	return m.do(ctx, func(context.Context) {
		m.counter.ResetCurrent()
		m.activity.Logf(activity.LevelInfo, "current count reset by operator")
		m.broadcast("counter", m.counter.State())
	})
}

// ResetAll clears the in-memory ledger. Persisted batches are kept.
func (m *Monitor) ResetAll(ctx context.Context) error {
	return m.do(ctx, func(context.Context) {
		m.counter.ResetAll()
		m.activity.Logf(activity.LevelWarn, "ledger cleared by operator")
		m.broadcast("counter", m.counter.State())
	})
}

// SetCalibration sends a remote command; the edge applies it.
func (m *Monitor) SetCalibration(_ context.Context, on bool) error {
	if m.link == nil {
		return errors.New("realtime link disabled")
	}
	action := model.ActionCalibrationStop
	if on {
		action = model.ActionCalibrationStart
	}
	cmd := model.DeviceCommand{ID: uuid.NewString(), Action: action, Timestamp: m.now()}
	if err := m.link.PublishCommand(cmd); err != nil {
		return err
	}
	m.activity.Logf(activity.LevelInfo, "sent %s to edge", action)
	return nil
}

type Snapshot struct {
	Counter model.CounterState           `json:"counter"`
	Edge    EdgeInfo                     `json:"edge"`
	Links   map[string]metrics.LinkState `json:"links"`
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	edge := m.edge
	m.mu.RUnlock()
	return Snapshot{Counter: m.counter.State(), Edge: edge, Links: m.metrics.Links()}
}

func (m *Monitor) Ledger() []model.Batch {
	return m.counter.Ledger().List()
}

func (m *Monitor) Statistics() model.Statistics {
	return m.counter.Ledger().Statistics(m.now())
}

func (m *Monitor) DailyProduction(days int) []model.DayTotal {
	return m.counter.Ledger().DailyProduction(m.now(), days)
}

// Counter is the state pushed to new websocket clients.
func (m *Monitor) Counter() model.CounterState {
	return m.counter.State()
}
