package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pancount/internal/model"
	"pancount/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.DetectionFields, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return parseJSONObject(obj)
}

func parseJSONObject(obj map[string]json.RawMessage) (*normalize.DetectionFields, error) {
	fields := &normalize.DetectionFields{Extras: map[string]string{}}
	for key, raw := range obj {
		key = strings.ToLower(key)
		if key == "boxes" {
			var boxes []model.Box
			if err := json.Unmarshal(raw, &boxes); err != nil {
				return nil, fmt.Errorf("boxes: %w", err)
			}
			if boxes == nil {
				boxes = []model.Box{}
			}
			fields.Boxes = boxes
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		switch t := v.(type) {
		case string:
			fields.Extras[key] = t
		case float64:
			fields.Extras[key] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			fields.Extras[key] = fmt.Sprint(t)
		}
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts")
	fields.Count = firstNonEmpty(fields.Extras, "count", "objects", "n")
	return fields, nil
}
