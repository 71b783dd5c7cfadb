package command

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"pancount/internal/model"
	"pancount/internal/realtime"
)

// Subscriber is the push variant: commands arrive on an MQTT topic with
// at-least-once delivery and are queued for the state-owning goroutine.
type Subscriber struct {
	queue  *Queue
	dedupe *Dedupe
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewSubscriber(queue *Queue, dedupeWindow time.Duration, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		queue:  queue,
		dedupe: NewDedupe(),
		ttl:    dedupeWindow,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Subscriber) Start(client *realtime.Client) error {
	return client.Subscribe(client.Topics().Command, 1, s.HandleMessage)
}

func (s *Subscriber) HandleMessage(topic string, payload []byte) {
	msg, err := realtime.Decode[realtime.CommandMessage](payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("malformed command message", "topic", topic, "err", err)
		}
		return
	}
	action, err := ParseAction(msg.Action)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("ignoring command", "topic", topic, "err", err)
		}
		return
	}
	key := msg.ID
	if key == "" {
		key = string(action) + "|" + strconv.FormatFloat(msg.Timestamp, 'f', 3, 64)
	}
	if s.dedupe.Seen(key, s.now(), s.ttl) {
		if s.logger != nil {
			s.logger.Debug("duplicate command dropped", "action", action, "key", key)
		}
		return
	}
	s.queue.Push(model.DeviceCommand{
		ID:        msg.ID,
		Action:    action,
		Timestamp: realtime.FromEpochSeconds(msg.Timestamp),
	})
}

// Dispatch runs a queued command through the handler, guarding panics.
func Dispatch(ctx context.Context, h Handler, cmd model.DeviceCommand, logger *slog.Logger) {
	if logger != nil {
		logger.Info("command received", "action", cmd.Action, "channel", "push")
	}
	if err := invoke(ctx, h, cmd.Action); err != nil && logger != nil {
		logger.Error("command failed", "action", cmd.Action, "err", err)
	}
}
