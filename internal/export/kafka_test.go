package export

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"pancount/internal/config"
	"pancount/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestRecordWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	exp := NewExporterWithWriter(w, "edge-01", func() string { return "baguette" }, nil)
	at := time.Date(2026, 4, 4, 9, 30, 0, 0, time.UTC)
	require.NoError(t, exp.Record(context.Background(), model.Batch{ID: 7, Count: 18, ConfirmedAt: at}))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "7", string(w.msgs[0].Key))

	var rec BatchRecord
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &rec))
	require.Equal(t, "edge-01", rec.DeviceID)
	require.Equal(t, 18, rec.Count)
	require.Equal(t, "baguette", rec.Product)
	require.True(t, rec.ConfirmedAt.Equal(at))

	require.NoError(t, exp.Close())
	require.True(t, w.closed)
}

func TestRecordPropagatesWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	exp := NewExporterWithWriter(w, "edge-01", nil, nil)
	err := exp.Record(context.Background(), model.Batch{ID: 1, Count: 2})
	require.EqualError(t, err, "broker down")
}

func TestDisabledExporterIsNil(t *testing.T) {
	exp := NewKafkaExporter(config.KafkaExportConfig{}, "edge-01", nil, nil)
	require.Nil(t, exp)
	require.NoError(t, exp.Record(context.Background(), model.Batch{ID: 1, Count: 1}))
}
