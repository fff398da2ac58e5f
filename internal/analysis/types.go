package analysis

import (
	"math"
	"sort"
	"time"
)

// Stats is a statistical summary of a numeric sample, identical in
// shape to the teacher's internal/analysis.Stats (min/max/mean/median/
// stddev/sample count), reused here for PID sample distributions
// instead of speed/RPM/temperature channels.
type Stats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	StdDev  float64 `json:"std_dev"`
	Samples int     `json:"samples"`
}

// CalculateStats computes min/max/mean/median/stddev over values, the
// teacher's algorithm unchanged.
func CalculateStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	mean := sum / float64(len(values))

	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	var stdDev float64
	if len(values) > 1 {
		stdDev = math.Sqrt(sumSquares / float64(len(values)-1))
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	var median float64
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	} else {
		median = sorted[len(sorted)/2]
	}

	return Stats{Min: min, Max: max, Mean: mean, Median: median, StdDev: stdDev, Samples: len(values)}
}

// Analysis is a complete post-hoc summary of a capture.Session,
// generalized from the teacher's driving-behavior Analysis (session
// info/performance/driving behavior/CAN activity/diagnostics) to a
// diagnostic-session Analysis (session info/per-ECU exchange counts/
// PID value distributions/DTC frequency/error taxonomy).
type Analysis struct {
	SessionInfo struct {
		StartTime     time.Time     `json:"start_time"`
		EndTime       time.Time     `json:"end_time"`
		Duration      time.Duration `json:"duration"`
		Label         string        `json:"label"`
		TotalExchanges int          `json:"total_exchanges"`
	} `json:"session_info"`

	Ecus struct {
		ExchangeCounts map[string]int `json:"exchange_counts"`
		Latency        Stats          `json:"latency_ms"`
	} `json:"ecus"`

	Pids struct {
		Stats map[string]Stats `json:"stats"` // keyed "ecu:pid"
	} `json:"pids"`

	Dtcs struct {
		Frequency map[string]int `json:"frequency"` // DTC code -> occurrence count
		Unique    []string       `json:"unique"`
	} `json:"dtcs"`

	Errors struct {
		NrcCounts    map[string]int `json:"nrc_counts"`
		TimeoutCount int            `json:"timeout_count"`
		OtherCount   int            `json:"other_count"`
	} `json:"errors"`
}
