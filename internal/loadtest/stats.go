package loadtest

import (
	"slices"
)

// Stats holds runtime statistics for a load test
type Stats struct {
	TotalIterations     int
	CompletedIterations int
	FailureCount        int // Iterations that returned an error or timed out
	SuccessCount        int
	ActiveVUs           int     // VUs currently executing an iteration
	Durations           []int64 // For percentile calculation
	TotalDurationMs     int64
	MinDurationMs       int64
	MaxDurationMs       int64
	ChecksPassed        int
	ChecksFailed        int
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		Durations:     make([]int64, 0, 1000),
		MinDurationMs: -1,
		MaxDurationMs: -1,
	}
}

// AddResult adds an iteration result to the statistics
func (s *Stats) AddResult(durationMs int64, failed bool) {
	s.CompletedIterations++
	s.TotalDurationMs += durationMs
	s.Durations = append(s.Durations, durationMs)

	if failed {
		s.FailureCount++
	} else {
		s.SuccessCount++
	}

	if s.MinDurationMs == -1 || durationMs < s.MinDurationMs {
		s.MinDurationMs = durationMs
	}
	if s.MaxDurationMs == -1 || durationMs > s.MaxDurationMs {
		s.MaxDurationMs = durationMs
	}
}

// AvgDurationMs returns the average duration in milliseconds
func (s *Stats) AvgDurationMs() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.CompletedIterations)
}

// Min returns the minimum duration, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinDurationMs == -1 {
		return 0
	}
	return s.MinDurationMs
}

// Max returns the maximum duration, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxDurationMs == -1 {
		return 0
	}
	return s.MaxDurationMs
}

// Percentile calculates the percentile value (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := slices.Clone(s.Durations)
	slices.Sort(sorted)

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() int64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() int64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() int64 {
	return s.Percentile(99)
}

// SuccessRate returns the iteration success rate as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CompletedIterations) * 100
}

// FailureRate returns the iteration failure rate as a percentage
func (s *Stats) FailureRate() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.FailureCount) / float64(s.CompletedIterations) * 100
}

// ChecksRate returns the check pass rate in [0,1]; 1 when nothing was checked
func (s *Stats) ChecksRate() float64 {
	total := s.ChecksPassed + s.ChecksFailed
	if total == 0 {
		return 1
	}
	return float64(s.ChecksPassed) / float64(total)
}

// Progress returns the completion progress as a percentage
func (s *Stats) Progress() float64 {
	if s.TotalIterations == 0 {
		return 0
	}
	return float64(s.CompletedIterations) / float64(s.TotalIterations) * 100
}
