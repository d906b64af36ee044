package replay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/profile"
)

// reportInterval matches original_source/src/replay/stats_aggregator.rs's
// 5-second progress tick (spec.md §4.9: "every ~5 seconds").
const reportInterval = 5 * time.Second

// AggregatedStats is the merged view returned once the aggregator
// stops: total operations, throughput, per-command percentiles, and a
// JSON export (spec.md §4.9, §6).
type AggregatedStats struct {
	start      time.Time
	end        time.Time
	histograms map[profile.CommandType]*hdrhistogram.Histogram
	counts     map[profile.CommandType]uint64
	errors     map[ErrorKind]uint64
}

func newAggregatedStats() *AggregatedStats {
	return &AggregatedStats{
		start:      time.Now(),
		histograms: make(map[profile.CommandType]*hdrhistogram.Histogram),
		counts:     make(map[profile.CommandType]uint64),
		errors:     make(map[ErrorKind]uint64),
	}
}

func (a *AggregatedStats) merge(snap StatsSnapshot) {
	for cmd, h := range snap.Histograms {
		if existing, ok := a.histograms[cmd]; ok {
			existing.Merge(h)
		} else {
			a.histograms[cmd] = h
		}
	}
	for cmd, n := range snap.SuccessCount {
		a.counts[cmd] += n
	}
	for kind, n := range snap.ErrorCount {
		a.errors[kind] += n
	}
}

func (a *AggregatedStats) finish() {
	a.end = time.Now()
}

// ElapsedSecs is the wall-clock duration covered by this aggregation.
func (a *AggregatedStats) ElapsedSecs() float64 {
	end := a.end
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(a.start).Seconds()
}

// TotalOperations sums successful operations across every command.
func (a *AggregatedStats) TotalOperations() uint64 {
	var total uint64
	for _, n := range a.counts {
		total += n
	}
	return total
}

// Throughput is TotalOperations divided by ElapsedSecs.
func (a *AggregatedStats) Throughput() float64 {
	elapsed := a.ElapsedSecs()
	if elapsed <= 0 {
		return 0
	}
	return float64(a.TotalOperations()) / elapsed
}

// Percentile returns the p-th percentile latency, in microseconds,
// for cmd, or (0, false) if no samples were recorded for it.
func (a *AggregatedStats) Percentile(cmd profile.CommandType, p float64) (int64, bool) {
	h, ok := a.histograms[cmd]
	if !ok {
		return 0, false
	}
	return h.ValueAtQuantile(p), true
}

type opStats struct {
	Count    uint64 `json:"count"`
	P50Micros int64 `json:"p50_micros"`
	P95Micros int64 `json:"p95_micros"`
	P99Micros int64 `json:"p99_micros"`
	MinMicros int64 `json:"min_micros"`
	MaxMicros int64 `json:"max_micros"`
}

type jsonExport struct {
	ElapsedSecs     float64                         `json:"elapsed_secs"`
	TotalOperations uint64                          `json:"total_operations"`
	Throughput      float64                         `json:"throughput"`
	Operations      map[string]opStats              `json:"operations"`
	Errors          map[string]uint64                `json:"errors"`
}

// ToJSON renders the statistics export shape from spec.md §6.
func (a *AggregatedStats) ToJSON() ([]byte, error) {
	export := jsonExport{
		ElapsedSecs:     a.ElapsedSecs(),
		TotalOperations: a.TotalOperations(),
		Throughput:      a.Throughput(),
		Operations:      make(map[string]opStats, len(a.histograms)),
		Errors:          make(map[string]uint64, len(a.errors)),
	}
	for cmd, h := range a.histograms {
		export.Operations[cmd.String()] = opStats{
			Count:     a.counts[cmd],
			P50Micros: h.ValueAtQuantile(50),
			P95Micros: h.ValueAtQuantile(95),
			P99Micros: h.ValueAtQuantile(99),
			MinMicros: h.Min(),
			MaxMicros: h.Max(),
		}
	}
	for kind, n := range a.errors {
		export.Errors[kind.String()] = n
	}
	return json.MarshalIndent(export, "", "  ")
}

// Aggregator receives StatsSnapshot values from all connection tasks
// and merges them into global per-command HDR histograms (spec.md
// §4.9). It also exposes a Prometheus side-channel registry alongside
// the mandated JSON export.
type Aggregator struct {
	rx      <-chan StatsSnapshot
	logger  *zap.Logger
	metrics *promMetrics
}

// promMetrics is a small Collector, grounded on
// runZeroInc-sockstats/pkg/exporter/exporter.go's TCPInfoCollector
// Describe/Collect pattern: a side channel additive to, never a
// replacement for, the JSON export spec.md §6 mandates.
type promMetrics struct {
	opsTotal   *prometheus.Desc
	latencySec *prometheus.Desc
	agg        *AggregatedStats
}

func newPromMetrics(agg *AggregatedStats) *promMetrics {
	return &promMetrics{
		opsTotal:   prometheus.NewDesc("memprofile_replay_ops_total", "Total replayed operations.", []string{"command"}, nil),
		latencySec: prometheus.NewDesc("memprofile_replay_latency_seconds", "p99 replay latency per command.", []string{"command"}, nil),
		agg:        agg,
	}
}

func (m *promMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.opsTotal
	ch <- m.latencySec
}

func (m *promMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, cmd := range profile.AllCommandTypes() {
		count := m.agg.counts[cmd]
		ch <- prometheus.MustNewConstMetric(m.opsTotal, prometheus.CounterValue, float64(count), cmd.String())
		if p99, ok := m.agg.Percentile(cmd, 99); ok {
			ch <- prometheus.MustNewConstMetric(m.latencySec, prometheus.GaugeValue, float64(p99)/1e6, cmd.String())
		}
	}
}

// NewAggregator builds an Aggregator reading from rx. If registry is
// non-nil, a Prometheus collector exposing the running totals is
// registered against it.
func NewAggregator(rx <-chan StatsSnapshot, logger *zap.Logger, registry *prometheus.Registry) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{rx: rx, logger: logger}
	if registry != nil {
		agg := newAggregatedStats()
		a.metrics = newPromMetrics(agg)
		_ = registry.Register(a.metrics)
	}
	return a
}

// Run merges snapshots until rx closes, reporting progress every
// reportInterval, and returns the final AggregatedStats. It
// deliberately ignores ctx for its exit condition: the caller closes
// rx only after every connection task has returned, so draining rx to
// closure is what guarantees every task's final snapshot is merged
// before returning (spec.md §4.10).
func (a *Aggregator) Run(ctx context.Context) *AggregatedStats {
	agg := newAggregatedStats()
	if a.metrics != nil {
		a.metrics.agg = agg
	}

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, more := <-a.rx:
			if !more {
				agg.finish()
				return agg
			}
			agg.merge(snap)

		case <-ticker.C:
			a.logger.Info("replay progress",
				zap.Float64("elapsed_secs", agg.ElapsedSecs()),
				zap.Uint64("total_ops", agg.TotalOperations()),
				zap.Float64("throughput", agg.Throughput()))
		}
	}
}
