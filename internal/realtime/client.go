package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pancount/internal/config"
	"pancount/internal/model"
)

var ErrNotConnected = errors.New("mqtt not connected")

const (
	qosCount       byte = 1
	qosBatch       byte = 1
	qosCommand     byte = 1
	qosStatus      byte = 0
	qosCalibration byte = 0

	publishTimeout = 2 * time.Second
)

type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler Handler
}

// Client is the MQTT link shared by the edge coordinator and the console.
// It reconnects on its own and restores subscriptions after each reconnect.
type Client struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription
	onState   func(bool)

	published atomic.Uint64
	failures  atomic.Uint64
}

func New(cfg config.MQTTConfig, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, logger: logger, subs: make(map[string]subscription)}
}

// OnStateChange registers a callback for connection transitions. It runs on
// the MQTT client's goroutine.
func (c *Client) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Connect starts the link. A broker that is down is not an error the caller
// has to handle: the client keeps retrying in the background and publishes
// fail with ErrNotConnected until it is up.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	c.client = mqtt.NewClient(opts)
	if c.logger != nil {
		c.logger.Info("connecting to mqtt broker", "broker", c.cfg.Broker, "client_id", c.cfg.ClientID)
	}
	token := c.client.Connect()
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return nil
	case <-time.After(timeout):
		if c.logger != nil {
			c.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", c.cfg.Broker)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.logger != nil {
		c.logger.Info("mqtt connection established", "broker", c.cfg.Broker)
	}
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.mu.RUnlock()
	for topic, s := range subs {
		// the callback must not block on the token
		client.Subscribe(topic, s.qos, wrap(s.handler))
	}
}

func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	if c.logger != nil {
		c.logger.Warn("mqtt connection lost, will auto-reconnect", "err", err, "broker", c.cfg.Broker)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	fn := c.onState
	c.mu.Unlock()
	if changed && fn != nil {
		fn(v)
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// Subscribe registers handler for topic, now if connected and again after
// every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	if c.client == nil || !c.Connected() {
		return nil
	}
	token := c.client.Subscribe(topic, qos, wrap(handler))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if c.logger != nil {
		c.logger.Info("mqtt subscribed", "topic", topic, "qos", qos)
	}
	return nil
}

func (c *Client) publish(topic string, qos byte, msg any) error {
	if c.client == nil || !c.Connected() {
		c.failures.Add(1)
		return ErrNotConnected
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.failures.Add(1)
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		c.failures.Add(1)
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.published.Add(1)
	return nil
}

func (c *Client) PublishCount(sample model.DetectionSample, stable int) error {
	return c.publish(c.cfg.Topics.Count, qosCount, NewCountMessage(sample, stable))
}

func (c *Client) PublishBatchComplete(batch model.Batch, product string) error {
	return c.publish(c.cfg.Topics.BatchComplete, qosBatch, BatchCompleteMessage{
		Timestamp:  EpochSeconds(batch.ConfirmedAt),
		FinalCount: batch.Count,
		BatchID:    batch.ID,
		Product:    product,
	})
}

func (c *Client) PublishStatus(deviceID string, st model.DeviceStatus) error {
	return c.publish(c.cfg.Topics.Status, qosStatus, NewStatusMessage(deviceID, st))
}

func (c *Client) PublishCalibrationImage(sample model.DetectionSample) error {
	boxes := sample.Boxes
	if boxes == nil {
		boxes = []model.Box{}
	}
	return c.publish(c.cfg.Topics.CalibrationImage, qosCalibration, CalibrationImageMessage{
		Timestamp: EpochSeconds(sample.Timestamp),
		Count:     sample.Count,
		Boxes:     boxes,
		Image:     sample.Image,
	})
}

func (c *Client) PublishCommand(cmd model.DeviceCommand) error {
	return c.publish(c.cfg.Topics.Command, qosCommand, CommandMessage{
		Timestamp: EpochSeconds(cmd.Timestamp),
		ID:        cmd.ID,
		Action:    string(cmd.Action),
	})
}

func (c *Client) Topics() config.TopicsConfig {
	return c.cfg.Topics
}

// Stats returns the number of successful and failed publishes.
func (c *Client) Stats() (uint64, uint64) {
	return c.published.Load(), c.failures.Load()
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}
