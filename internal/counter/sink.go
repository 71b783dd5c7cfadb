package counter

import (
	"context"
	"errors"

	"pancount/internal/model"
)

// BatchSink receives every confirmed batch.
type BatchSink interface {
	Record(ctx context.Context, batch model.Batch) error
}

type SinkFunc func(ctx context.Context, batch model.Batch) error

func (f SinkFunc) Record(ctx context.Context, batch model.Batch) error {
	return f(ctx, batch)
}

// MultiSink records to every sink and joins the failures.
type MultiSink []BatchSink

func (m MultiSink) Record(ctx context.Context, batch model.Batch) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
