package realtime

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"pancount/internal/config"
	"pancount/internal/model"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// startBroker spins up an in-process broker and returns its tcp url.
func startBroker(t *testing.T) string {
	t.Helper()
	addr := freeAddr(t)
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{Type: "tcp", Address: addr})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })
	return "tcp://" + addr
}

func connectForTest(t *testing.T, broker, id string) *Client {
	t.Helper()
	cfg := config.DefaultConfig().MQTT
	cfg.Broker = broker
	cfg.ClientID = id
	c := New(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, c.Connected, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(c.Close)
	return c
}

func TestPublishCountRoundTrip(t *testing.T) {
	broker := startBroker(t)
	edge := connectForTest(t, broker, "edge")
	console := connectForTest(t, broker, "console")

	got := make(chan []byte, 1)
	require.NoError(t, console.Subscribe(console.Topics().Count, 1, func(_ string, payload []byte) {
		got <- payload
	}))

	ts := time.Date(2026, 3, 12, 9, 0, 0, 500_000_000, time.UTC)
	sample := model.DetectionSample{Timestamp: ts, Count: 4, Boxes: []model.Box{{X: 1, Y: 2, W: 30, H: 20, Area: 600, AspectRatio: 1.5}}}
	require.NoError(t, edge.PublishCount(sample, 3))

	select {
	case payload := <-got:
		msg, err := Decode[CountMessage](payload)
		require.NoError(t, err)
		require.Equal(t, 4, msg.Count)
		require.Equal(t, 3, msg.StableCount)
		require.Len(t, msg.Boxes, 1)
		require.True(t, ts.Equal(FromEpochSeconds(msg.Timestamp)))
	case <-time.After(5 * time.Second):
		t.Fatal("count message not delivered")
	}
	published, failures := edge.Stats()
	require.Equal(t, uint64(1), published)
	require.Zero(t, failures)
}

func TestPublishCommandAndBatch(t *testing.T) {
	broker := startBroker(t)
	edge := connectForTest(t, broker, "edge")
	console := connectForTest(t, broker, "console")

	commands := make(chan []byte, 1)
	batches := make(chan []byte, 1)
	require.NoError(t, edge.Subscribe(edge.Topics().Command, 1, func(_ string, p []byte) { commands <- p }))
	require.NoError(t, console.Subscribe(console.Topics().BatchComplete, 1, func(_ string, p []byte) { batches <- p }))

	now := time.Now()
	require.NoError(t, console.PublishCommand(model.DeviceCommand{ID: "c1", Action: model.ActionCalibrationStart, Timestamp: now}))
	require.NoError(t, edge.PublishBatchComplete(model.Batch{ID: 7, Count: 12, ConfirmedAt: now}, "original"))

	for _, ch := range []chan []byte{commands, batches} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	c := New(config.DefaultConfig().MQTT, nil)
	err := c.PublishStatus("edge-01", model.DeviceStatus{Status: model.StatusRunning})
	require.ErrorIs(t, err, ErrNotConnected)
	_, failures := c.Stats()
	require.Equal(t, uint64(1), failures)
}

func TestConnectToMissingBrokerDoesNotFail(t *testing.T) {
	cfg := config.DefaultConfig().MQTT
	cfg.Broker = "tcp://" + freeAddr(t)
	cfg.ConnectTimeout = 100 * time.Millisecond
	c := New(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	require.False(t, c.Connected())
}

func TestDecodeRequiresTimestamp(t *testing.T) {
	_, err := Decode[CountMessage]([]byte(`{"count":3}`))
	require.Error(t, err)
	msg, err := Decode[BatchCompleteMessage]([]byte(fmt.Sprintf(`{"timestamp":%f,"final_count":9}`, 1700000000.25)))
	require.NoError(t, err)
	require.Equal(t, 9, msg.FinalCount)
}
