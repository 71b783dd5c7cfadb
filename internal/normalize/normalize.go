package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"pancount/internal/model"
)

var ErrMissingCount = errors.New("detection has no count")

// DetectionFields is what a feeder could pull out of one input record,
// still as text.
type DetectionFields struct {
	Timestamp string
	Count     string
	Boxes     []model.Box
	Source    string
	Extras    map[string]string
	Raw       string
}

func Normalize(fields DetectionFields, loc *time.Location, now time.Time) (model.DetectionSample, error) {
	if loc == nil {
		loc = time.UTC
	}
	countText := strings.TrimSpace(fields.Count)
	var count int
	switch {
	case countText != "":
		n, err := strconv.ParseFloat(countText, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return model.DetectionSample{}, fmt.Errorf("parse count %q: not a number", countText)
		}
		if n < 0 {
			return model.DetectionSample{}, fmt.Errorf("parse count %q: negative", countText)
		}
		count = int(n)
	case fields.Boxes != nil:
		count = len(fields.Boxes)
	default:
		return model.DetectionSample{}, ErrMissingCount
	}

	ts := now.UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.DetectionSample{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}
	return model.DetectionSample{
		Timestamp: ts,
		Count:     count,
		Boxes:     fields.Boxes,
		Source:    fields.Source,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// ParseTimestamp accepts RFC 3339 style layouts, epoch seconds (with or
// without a fraction) and epoch milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return fromEpoch(f), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func fromEpoch(f float64) time.Time {
	// anything past year 33658 in seconds is really milliseconds
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
