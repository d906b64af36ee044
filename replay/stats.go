package replay

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/cachetrace/memprofile/profile"
)

// ErrorKind classifies a connection-task failure (spec.md §7).
type ErrorKind uint8

const (
	ErrKindTimeout ErrorKind = iota
	ErrKindConnectionError
	ErrKindProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTimeout:
		return "Timeout"
	case ErrKindConnectionError:
		return "ConnectionError"
	case ErrKindProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

const (
	histogramMinValue = 1
	histogramMaxValue = 60 * 1000 * 1000 // 60s, in microseconds
	histogramSigFigs  = 3
)

// newHistogram builds a microsecond-precision, 3-significant-digit
// HDR histogram, per spec.md §4.9.
func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histogramMinValue, histogramMaxValue, histogramSigFigs)
}

// StatsSnapshot is a delta of counters and histograms emitted by one
// connection task. Per-connection stats reset at snapshot time, so
// merging snapshots is purely additive (spec.md §4.9, design note in
// §9).
type StatsSnapshot struct {
	ConnectionID uint16
	Histograms   map[profile.CommandType]*hdrhistogram.Histogram
	SuccessCount map[profile.CommandType]uint64
	ErrorCount   map[ErrorKind]uint64
}

// ConnectionStats accumulates one connection task's latencies between
// snapshots.
type ConnectionStats struct {
	connectionID uint16
	histograms   map[profile.CommandType]*hdrhistogram.Histogram
	successCount map[profile.CommandType]uint64
	errorCount   map[ErrorKind]uint64
}

// NewConnectionStats builds an empty accumulator for one connection.
func NewConnectionStats(connectionID uint16) *ConnectionStats {
	return &ConnectionStats{
		connectionID: connectionID,
		histograms:   make(map[profile.CommandType]*hdrhistogram.Histogram),
		successCount: make(map[profile.CommandType]uint64),
		errorCount:   make(map[ErrorKind]uint64),
	}
}

// RecordSuccess records one completed operation's latency.
func (s *ConnectionStats) RecordSuccess(cmd profile.CommandType, latency time.Duration) {
	h, ok := s.histograms[cmd]
	if !ok {
		h = newHistogram()
		s.histograms[cmd] = h
	}
	micros := latency.Microseconds()
	if micros < histogramMinValue {
		micros = histogramMinValue
	}
	if micros > histogramMaxValue {
		micros = histogramMaxValue
	}
	_ = h.RecordValue(micros)
	s.successCount[cmd]++
}

// RecordError records one failed operation.
func (s *ConnectionStats) RecordError(kind ErrorKind) {
	s.errorCount[kind]++
}

// Snapshot returns the current deltas and resets this accumulator so
// the next snapshot is additive-only (spec.md §9).
func (s *ConnectionStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		ConnectionID: s.connectionID,
		Histograms:   s.histograms,
		SuccessCount: s.successCount,
		ErrorCount:   s.errorCount,
	}
	s.histograms = make(map[profile.CommandType]*hdrhistogram.Histogram)
	s.successCount = make(map[profile.CommandType]uint64)
	s.errorCount = make(map[ErrorKind]uint64)
	return snap
}
