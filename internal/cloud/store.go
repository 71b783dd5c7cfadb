// Package cloud talks to the remote record store that holds the active
// product, per-product production totals, device status, device settings and
// the single pending device command.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pancount/internal/config"
	"pancount/internal/model"
)

var ErrUnsupportedBackend = errors.New("unsupported cloud backend")

const (
	pathActiveProduct = "activeProduction/product"
	pathProducts      = "products"
	pathEdgeDevice    = "edgeDevice"
	pathSettings      = "deviceSettings"
	pathCommands      = "deviceCommands"
)

type Store interface {
	// ActiveProduct returns the product currently in production, if any.
	ActiveProduct(ctx context.Context) (string, bool, error)
	// IncrementProduction adds delta to the product's daily total. It is a
	// read followed by a write and is not atomic.
	IncrementProduction(ctx context.Context, product string, delta int) (int, int, error)
	PushStatus(ctx context.Context, status model.DeviceStatus) error
	SetStopped(ctx context.Context) error
	DeviceSettings(ctx context.Context) (map[string]any, error)
	Command(ctx context.Context) (model.DeviceCommand, bool, error)
	MarkCommandProcessed(ctx context.Context) error
	Close() error
}

func NewStore(cfg config.CloudConfig, logger *slog.Logger) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Backend) {
	case "rest", "":
		return NewRESTStore(cfg, &http.Client{Timeout: cfg.Timeout}), nil
	case "redis":
		return NewRedisStore(cfg)
	default:
		if logger != nil {
			logger.Error("cloud backend not supported", "backend", cfg.Backend)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func statusRecord(st model.DeviceStatus) map[string]any {
	rec := map[string]any{
		"status":       st.Status,
		"lastSeen":     millis(st.LastSeen),
		"currentCount": st.CurrentCount,
		"framesTotal":  st.FramesTotal,
	}
	if st.CPUTemp != nil {
		rec["cpuTemp"] = *st.CPUTemp
	}
	return rec
}

func stoppedRecord(now time.Time) map[string]any {
	return map[string]any{
		"status":   model.StatusStopped,
		"lastSeen": millis(now),
	}
}
