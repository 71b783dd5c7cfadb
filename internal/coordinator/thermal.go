package coordinator

import (
	"os"
	"strconv"
	"strings"
)

// ReadCPUTemp reads a sysfs thermal zone in millidegrees Celsius. Missing
// or unreadable zones yield nil, which leaves cpuTemp out of the heartbeat.
func ReadCPUTemp(path string) *float64 {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return nil
	}
	c := milli / 1000
	return &c
}
