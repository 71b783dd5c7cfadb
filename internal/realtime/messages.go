package realtime

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"pancount/internal/model"
)

// Every message is a flat JSON object carrying "timestamp" as float epoch
// seconds.

type CountMessage struct {
	Timestamp   float64     `json:"timestamp"`
	Count       int         `json:"count"`
	StableCount int         `json:"stable_count"`
	Boxes       []model.Box `json:"boxes"`
}

type BatchCompleteMessage struct {
	Timestamp  float64 `json:"timestamp"`
	FinalCount int     `json:"final_count"`
	BatchID    int     `json:"batch_id,omitempty"`
	Product    string  `json:"product,omitempty"`
}

type StatusMessage struct {
	Timestamp    float64  `json:"timestamp"`
	DeviceID     string   `json:"device_id,omitempty"`
	Status       string   `json:"status"`
	CurrentCount int      `json:"current_count"`
	FramesTotal  int64    `json:"frames_total"`
	CPUTemp      *float64 `json:"cpu_temp,omitempty"`
	Calibrating  bool     `json:"calibrating"`
}

type CalibrationImageMessage struct {
	Timestamp float64     `json:"timestamp"`
	Count     int         `json:"count"`
	Boxes     []model.Box `json:"boxes"`
	// Image is the encoded frame, base64 in JSON.
	Image []byte `json:"image,omitempty"`
}

type CommandMessage struct {
	Timestamp float64 `json:"timestamp"`
	ID        string  `json:"id,omitempty"`
	Action    string  `json:"action"`
}

func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func FromEpochSeconds(f float64) time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

func NewCountMessage(sample model.DetectionSample, stable int) CountMessage {
	boxes := sample.Boxes
	if boxes == nil {
		boxes = []model.Box{}
	}
	return CountMessage{
		Timestamp:   EpochSeconds(sample.Timestamp),
		Count:       sample.Count,
		StableCount: stable,
		Boxes:       boxes,
	}
}

func NewStatusMessage(deviceID string, st model.DeviceStatus) StatusMessage {
	return StatusMessage{
		Timestamp:    EpochSeconds(st.LastSeen),
		DeviceID:     deviceID,
		Status:       st.Status,
		CurrentCount: st.CurrentCount,
		FramesTotal:  st.FramesTotal,
		CPUTemp:      st.CPUTemp,
		Calibrating:  st.Calibrating,
	}
}

// Decode unmarshals a payload and rejects messages without a timestamp.
func Decode[T any](payload []byte) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode message: %w", err)
	}
	var envelope struct {
		Timestamp *float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Timestamp == nil {
		return out, fmt.Errorf("decode message: missing timestamp")
	}
	return out, nil
}
