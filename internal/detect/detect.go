// Package detect defines where detection samples come from. Image
// acquisition and the detector itself live outside this module; the
// coordinator only sees a Source.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pancount/internal/config"
	"pancount/internal/model"
)

// ErrNoSample means nothing was produced this tick. It is not a fault.
var ErrNoSample = errors.New("no detection sample")

type Source interface {
	Next(ctx context.Context) (model.DetectionSample, error)
}

type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
}

// Params are the live detection parameters handed to the detector.
type Params struct {
	Threshold      int     `json:"threshold"`
	MinArea        int     `json:"min_area"`
	MaxArea        int     `json:"max_area"`
	MinAspectRatio float64 `json:"min_aspect_ratio"`
	MaxAspectRatio float64 `json:"max_aspect_ratio"`
}

func ParamsFrom(v config.RuntimeValues) Params {
	return Params{
		Threshold:      v.Threshold,
		MinArea:        v.MinArea,
		MaxArea:        v.MaxArea,
		MinAspectRatio: v.MinAspectRatio,
		MaxAspectRatio: v.MaxAspectRatio,
	}
}

type Detector interface {
	Detect(ctx context.Context, frame Frame, params Params) (int, []model.Box, error)
}

// Pipeline captures a frame and runs the detector on it with the current
// runtime parameters. Any failure on the way yields ErrNoSample.
type Pipeline struct {
	frames   FrameSource
	detector Detector
	runtime  *config.Runtime
	logger   *slog.Logger
}

func NewPipeline(frames FrameSource, detector Detector, runtime *config.Runtime, logger *slog.Logger) *Pipeline {
	return &Pipeline{frames: frames, detector: detector, runtime: runtime, logger: logger}
}

func (p *Pipeline) Next(ctx context.Context) (model.DetectionSample, error) {
	frame, err := p.frames.Capture(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("frame capture failed", "err", err)
		}
		return model.DetectionSample{}, fmt.Errorf("%w: capture: %v", ErrNoSample, err)
	}
	values := p.runtime.Snapshot()
	count, boxes, err := p.detector.Detect(ctx, frame, ParamsFrom(values))
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("detection failed", "err", err)
		}
		return model.DetectionSample{}, fmt.Errorf("%w: detect: %v", ErrNoSample, err)
	}
	ts := frame.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	sample := model.DetectionSample{Timestamp: ts, Count: count, Boxes: boxes, Source: "camera"}
	if values.CalibrationMode {
		sample.Image = frame.Data
	}
	return sample, nil
}
