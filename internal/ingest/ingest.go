// Package ingest feeds detection results produced by an external detector
// into a Sink. Each feeder parses its records, normalizes them and hands
// them over without blocking.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"pancount/internal/config"
	"pancount/internal/model"
	"pancount/internal/normalize"
)

type Sink interface {
	Put(sample model.DetectionSample)
}

func location(cfg *config.Manager) *time.Location {
	tz := cfg.Get().Ingest.Timezone
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// deliver normalizes fields and puts the sample into sink.
func deliver(cfg *config.Manager, fields *normalize.DetectionFields, source string, sink Sink, logger *slog.Logger) error {
	fields.Source = source
	sample, err := normalize.Normalize(*fields, location(cfg), time.Now())
	if err != nil {
		if logger != nil {
			logger.Warn("detection normalize error", "source", source, "err", err)
		}
		return err
	}
	sink.Put(sample)
	return nil
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
