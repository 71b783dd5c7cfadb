package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"pancount/internal/config"
	"pancount/internal/model"
)

// MessageWriter is the subset of kafka.Writer the exporter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type BatchRecord struct {
	DeviceID    string    `json:"device_id"`
	ID          int       `json:"id"`
	Count       int       `json:"count"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	Product     string    `json:"product,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// KafkaExporter mirrors confirmed batches to a topic, keyed by batch id.
type KafkaExporter struct {
	writer   MessageWriter
	deviceID string
	product  func() string
	logger   *slog.Logger
}

func NewKafkaExporter(cfg config.KafkaExportConfig, deviceID string, product func() string, logger *slog.Logger) *KafkaExporter {
	if !cfg.Enabled {
		return nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return NewExporterWithWriter(w, deviceID, product, logger)
}

func NewExporterWithWriter(w MessageWriter, deviceID string, product func() string, logger *slog.Logger) *KafkaExporter {
	return &KafkaExporter{writer: w, deviceID: deviceID, product: product, logger: logger}
}

func (e *KafkaExporter) Record(ctx context.Context, batch model.Batch) error {
	if e == nil || e.writer == nil {
		return nil
	}
	rec := BatchRecord{
		DeviceID:    e.deviceID,
		ID:          batch.ID,
		Count:       batch.Count,
		ConfirmedAt: batch.ConfirmedAt.UTC(),
		Notes:       batch.Notes,
	}
	if e.product != nil {
		rec.Product = e.product()
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(batch.ID)),
		Value: value,
		Time:  batch.ConfirmedAt,
	})
	if err != nil && e.logger != nil {
		e.logger.Warn("kafka export failed", "batch_id", batch.ID, "err", err)
	}
	return err
}

func (e *KafkaExporter) Close() error {
	if e == nil || e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
