package counter

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultWindow = 5
	// warm-up length before the median is trusted; raw values are echoed until then
	minSamples = 3
)

// Stabilizer smooths raw counts with a sliding median. On even-length
// windows the lower of the two middle values is used.
type Stabilizer struct {
	window  int
	samples []int
}

func NewStabilizer(window int) *Stabilizer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stabilizer{window: window, samples: make([]int, 0, window)}
}

func (s *Stabilizer) Update(raw int) int {
	if len(s.samples) < s.window {
		s.samples = append(s.samples, raw)
	} else {
		copy(s.samples, s.samples[1:])
		s.samples[len(s.samples)-1] = raw
	}
	if len(s.samples) < s.warmup() {
		return raw
	}
	return median(s.samples)
}

func (s *Stabilizer) History() []int {
	out := make([]int, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *Stabilizer) Reset() {
	s.samples = s.samples[:0]
}

func (s *Stabilizer) warmup() int {
	if s.window < minSamples {
		return s.window
	}
	return minSamples
}

func median(values []int) int {
	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	// Empirical picks the first value whose cumulative weight reaches half,
	// which is the lower middle on even lengths.
	return int(stat.Quantile(0.5, stat.Empirical, sorted, nil))
}
