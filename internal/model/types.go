package model

import "time"

type Box struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	W           int     `json:"w"`
	H           int     `json:"h"`
	Area        float64 `json:"area"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// DetectionSample is the output of one detection pass. Image carries an
// optional encoded frame that is only shared while calibrating.
type DetectionSample struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Boxes     []Box     `json:"boxes,omitempty"`
	Source    string    `json:"source,omitempty"`
	Image     []byte    `json:"-"`
}

type Batch struct {
	ID          int       `json:"id"`
	Count       int       `json:"count"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	Notes       string    `json:"notes,omitempty"`
}

type CounterState struct {
	Current        int   `json:"current"`
	Stable         int   `json:"stable"`
	PreviousStable int   `json:"previous_stable"`
	History        []int `json:"history"`
	Batches        int   `json:"batches"`
}

type CommandAction string

const (
	ActionCalibrationStart CommandAction = "calibration_start"
	ActionCalibrationStop  CommandAction = "calibration_stop"
)

type DeviceCommand struct {
	ID        string        `json:"id,omitempty"`
	Action    CommandAction `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
	Processed bool          `json:"processed"`
}

// DeviceSettings is a partial override record. Nil fields are absent.
type DeviceSettings struct {
	Threshold       *int     `json:"threshold,omitempty"`
	MinArea         *int     `json:"minArea,omitempty"`
	MaxArea         *int     `json:"maxArea,omitempty"`
	CaptureInterval *float64 `json:"captureInterval,omitempty"`
	PowerSaveMode   *bool    `json:"powerSaveMode,omitempty"`
}

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

type DeviceStatus struct {
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
	CurrentCount int       `json:"current_count"`
	FramesTotal  int64     `json:"frames_total"`
	CPUTemp      *float64  `json:"cpu_temp,omitempty"`
	Calibrating  bool      `json:"calibrating"`
}

type Stats struct {
	Batches     int     `json:"batches"`
	Production  int     `json:"production"`
	AvgPerBatch float64 `json:"avg_per_batch"`
	AvgPerDay   float64 `json:"avg_per_day"`
}

type Statistics struct {
	Today Stats `json:"today"`
	Week  Stats `json:"week"`
	Month Stats `json:"month"`
	Total Stats `json:"total"`
}

type DayTotal struct {
	Date       string `json:"date"`
	Batches    int    `json:"batches"`
	Production int    `json:"production"`
}

type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
