// Package stats summarizes execution durations.
package stats

import (
	"math"
	"sort"
)

// Statistic holds execution-time aggregates in milliseconds. Every field is
// nil when computed over zero executions.
type Statistic struct {
	MinExecutionTimeMs    *float64 `json:"min_execution_time_ms"`
	MaxExecutionTimeMs    *float64 `json:"max_execution_time_ms"`
	MeanExecutionTimeMs   *float64 `json:"mean_execution_time_ms"`
	ModeExecutionTimeMs   *float64 `json:"mode_execution_time_ms"`
	MedianExecutionTimeMs *float64 `json:"median_execution_time_ms"`
	Variance              *float64 `json:"variance"`
	StandardDeviation     *float64 `json:"standard_deviation"`
	Range                 *float64 `json:"range"`
	Count                 int      `json:"count"`
}

// Compute aggregates durations. Mode ties resolve to the smallest value.
// Variance is the sample variance; a single sample has variance 0.
func Compute(durations []int64) Statistic {
	n := len(durations)
	if n == 0 {
		return Statistic{}
	}

	sorted := append([]int64(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}
	mean := sum / float64(n)

	var median float64
	if n%2 == 1 {
		median = float64(sorted[n/2])
	} else {
		median = (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
	}

	var variance float64
	if n > 1 {
		var squares float64
		for _, d := range sorted {
			delta := float64(d) - mean
			squares += delta * delta
		}
		variance = squares / float64(n-1)
	}

	minimum := float64(sorted[0])
	maximum := float64(sorted[n-1])
	return Statistic{
		MinExecutionTimeMs:    &minimum,
		MaxExecutionTimeMs:    &maximum,
		MeanExecutionTimeMs:   ptr(mean),
		ModeExecutionTimeMs:   ptr(float64(mode(sorted))),
		MedianExecutionTimeMs: &median,
		Variance:              &variance,
		StandardDeviation:     ptr(math.Sqrt(variance)),
		Range:                 ptr(maximum - minimum),
		Count:                 n,
	}
}

// mode expects sorted input, so the first run of maximal length is also the
// smallest value.
func mode(sorted []int64) int64 {
	best, bestCount := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestCount {
			best, bestCount = sorted[i], j-i
		}
		i = j
	}
	return best
}

func ptr(v float64) *float64 {
	return &v
}
