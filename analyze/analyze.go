// Package analyze computes distribution statistics over a recorded
// profile: command mix, key-size and value-size histograms. It is the
// data producer behind a human-readable analyze report; rendering that
// report is out of scope (spec.md §1).
package analyze

import (
	"sort"

	"github.com/cachetrace/memprofile/profile"
)

// SizeCount pairs a byte size with how many events carried it.
type SizeCount struct {
	Size  uint32
	Count uint64
}

// Result is the distribution summary over one set of events, grounded
// on original_source/src/replay/analyzer.rs's AnalysisResult.
type Result struct {
	TotalEvents         uint64
	CommandDistribution map[profile.CommandType]uint64
	KeySizeDistribution []SizeCount
	ValueSizeDistribution []SizeCount
}

// Analyze computes a Result over events, in a single linear pass.
func Analyze(events []profile.Event) Result {
	cmdDist := make(map[profile.CommandType]uint64)
	keySizes := make(map[uint32]uint64)
	valueSizes := make(map[uint32]uint64)

	for _, e := range events {
		cmdDist[e.CmdType]++
		keySizes[e.KeySize]++
		if size, ok := e.ValueSize.Get(); ok {
			valueSizes[size]++
		}
	}

	return Result{
		TotalEvents:           uint64(len(events)),
		CommandDistribution:   cmdDist,
		KeySizeDistribution:   sortedSizeCounts(keySizes),
		ValueSizeDistribution: sortedSizeCounts(valueSizes),
	}
}

// AnalyzeFile loads path with profile.ReadAll and analyzes its events.
func AnalyzeFile(path string) (Result, error) {
	events, _, err := profile.ReadAll(path)
	if err != nil {
		return Result{}, err
	}
	return Analyze(events), nil
}

func sortedSizeCounts(m map[uint32]uint64) []SizeCount {
	out := make([]SizeCount, 0, len(m))
	for size, count := range m {
		out = append(out, SizeCount{Size: size, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Size < out[j].Size })
	return out
}
