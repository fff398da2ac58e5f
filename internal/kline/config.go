package kline

import "time"

// InitStrategy selects the bus-init method (spec §4.3, §6
// bus_init_strategy).
type InitStrategy int

const (
	FiveBaud InitStrategy = iota
	FastInitStrategy
)

// Config holds the K-Line transport's tunables, all of which map
// directly to spec §6 options.
type Config struct {
	P2Timeout          time.Duration // p2_timeout_ms, default 50ms
	P2StarTimeout      time.Duration // p2_star_timeout_ms, default 5000ms
	P3Min              time.Duration // p3_min_ms, default 55ms
	ResponsePendingMax int           // response_pending_max, default 10
	Strategy           InitStrategy  // bus_init_strategy
	RingBufferSize     int           // defaults to minRingBufferSize

	// P1Max, P4Min and the W1-W5 bus-init windows are protocol
	// constants (spec §4.3), not configuration options; they are not
	// part of §6's table and are always the spec's values.
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		P2Timeout:          50 * time.Millisecond,
		P2StarTimeout:      5000 * time.Millisecond,
		P3Min:              55 * time.Millisecond,
		ResponsePendingMax: 10,
		Strategy:           FiveBaud,
		RingBufferSize:     minRingBufferSize,
	}
}

// Protocol timing constants from spec §4.3.
const (
	P1Max = 20 * time.Millisecond
	P4Min = 5 * time.Millisecond

	W1Min = 60 * time.Millisecond
	W1Max = 300 * time.Millisecond
	W2Max = 20 * time.Millisecond
	W3Max = 20 * time.Millisecond
	W4Min = 25 * time.Millisecond
	W4Max = 50 * time.Millisecond
	W5Min = 300 * time.Millisecond

	fastInitLowHigh = 25 * time.Millisecond
)
