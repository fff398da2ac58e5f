// Package analysis computes post-hoc statistics over a capture.Session:
// per-ECU exchange counts and latency, PID value distributions, DTC
// frequency, and an NRC/timeout error breakdown. Grounded on the
// teacher's internal/analysis.Analyzer (same Analyze-returns-Analysis
// shape, same CalculateStats helper), retargeted from driving-behavior
// scoring to diagnostic-session scoring.
package analysis

import (
	"fmt"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/capture"
	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/services"
)

// Analyzer processes a capture.Session to produce an Analysis.
type Analyzer struct {
	session  *capture.Session
	analysis *Analysis
}

// NewAnalyzer creates an Analyzer over session.
func NewAnalyzer(session *capture.Session) *Analyzer {
	return &Analyzer{session: session, analysis: &Analysis{}}
}

// Analyze runs every analysis pass and returns the result.
func (a *Analyzer) Analyze() (*Analysis, error) {
	a.analyzeSessionInfo()
	a.analyzeEcuActivity()
	if err := a.analyzePids(); err != nil {
		return nil, fmt.Errorf("analysis: pid pass: %w", err)
	}
	if err := a.analyzeDtcs(); err != nil {
		return nil, fmt.Errorf("analysis: dtc pass: %w", err)
	}
	a.analyzeErrors()
	return a.analysis, nil
}

func (a *Analyzer) analyzeSessionInfo() {
	a.analysis.SessionInfo.StartTime = a.session.StartTime
	a.analysis.SessionInfo.EndTime = a.session.EndTime
	a.analysis.SessionInfo.Duration = a.session.EndTime.Sub(a.session.StartTime)
	a.analysis.SessionInfo.Label = a.session.Label
	a.analysis.SessionInfo.TotalExchanges = len(a.session.Exchanges)
}

func (a *Analyzer) analyzeEcuActivity() {
	counts := make(map[string]int)
	var latencies []float64
	for _, ex := range a.session.Exchanges {
		counts[ex.EcuID]++
		if ex.Duration > 0 {
			latencies = append(latencies, float64(ex.Duration)/float64(time.Millisecond))
		}
	}
	a.analysis.Ecus.ExchangeCounts = counts
	a.analysis.Ecus.Latency = CalculateStats(latencies)
}

func (a *Analyzer) analyzePids() error {
	samples := make(map[string][]float64)
	for _, ex := range a.session.Exchanges {
		if ex.Service != 0x21 || ex.Err != "" || len(ex.Response) < 2 {
			continue
		}
		// ex.Response holds the full positive response including the
		// 0x61 service-ack byte; strip it before decoding the payload.
		sample, err := services.ParseReadDataByIdentifier(ex.Response[1:], services.DefaultPIDTable, ex.Timestamp)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%s:0x%02x", ex.EcuID, sample.Pid)
		samples[key] = append(samples[key], sample.Value)
	}
	stats := make(map[string]Stats, len(samples))
	for key, values := range samples {
		stats[key] = CalculateStats(values)
	}
	a.analysis.Pids.Stats = stats
	return nil
}

func (a *Analyzer) analyzeDtcs() error {
	freq := make(map[string]int)
	for _, ex := range a.session.Exchanges {
		if ex.Service != 0x18 || ex.Err != "" || len(ex.Response) < 2 {
			continue
		}
		dtcs, err := services.ParseReadDTCInformation(ex.Response[1:])
		if err != nil {
			continue
		}
		for _, d := range dtcs {
			freq[d.Code]++
		}
	}
	unique := make([]string, 0, len(freq))
	for code := range freq {
		unique = append(unique, code)
	}
	a.analysis.Dtcs.Frequency = freq
	a.analysis.Dtcs.Unique = unique
	return nil
}

func (a *Analyzer) analyzeErrors() {
	nrcCounts := make(map[string]int)
	timeouts := 0
	other := 0
	for _, ex := range a.session.Exchanges {
		if ex.Err == "" {
			continue
		}
		if ex.Nrc != 0 {
			nrcCounts[enginerr.NRC(ex.Nrc).Name()]++
			continue
		}
		if isTimeout(ex.Err) {
			timeouts++
			continue
		}
		other++
	}
	a.analysis.Errors.NrcCounts = nrcCounts
	a.analysis.Errors.TimeoutCount = timeouts
	a.analysis.Errors.OtherCount = other
}

// isTimeout reports whether msg names a Timeout-kind error. Exchange
// only records the error's rendered string (capture is a pure outer
// observer of the engine, not a collaborator in its error taxonomy), so
// matching on enginerr.KindTimeout's String() is the same contract
// enginerr.Error.Error() uses to render it.
func isTimeout(msg string) bool {
	kind := enginerr.KindTimeout.String()
	return len(msg) >= len(kind) && msg[:len(kind)] == kind
}
