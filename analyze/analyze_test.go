package analyze

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/internal/optionals"
	"github.com/cachetrace/memprofile/profile"
)

func TestAnalyze_Distributions(t *testing.T) {
	events := []profile.Event{
		{CmdType: profile.Get, KeySize: 3},
		{CmdType: profile.Get, KeySize: 5},
		{CmdType: profile.Set, KeySize: 3, ValueSize: optionals.Some[uint32](10)},
		{CmdType: profile.Set, KeySize: 3, ValueSize: optionals.Some[uint32](10)},
		{CmdType: profile.Delete, KeySize: 5},
	}

	r := Analyze(events)
	require.Equal(t, uint64(5), r.TotalEvents)
	require.Equal(t, uint64(2), r.CommandDistribution[profile.Get])
	require.Equal(t, uint64(2), r.CommandDistribution[profile.Set])
	require.Equal(t, uint64(1), r.CommandDistribution[profile.Delete])

	require.Equal(t, []SizeCount{{Size: 3, Count: 3}, {Size: 5, Count: 2}}, r.KeySizeDistribution)
	require.Equal(t, []SizeCount{{Size: 10, Count: 2}}, r.ValueSizeDistribution)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	r := Analyze(nil)
	require.Equal(t, uint64(0), r.TotalEvents)
	require.Empty(t, r.CommandDistribution)
	require.Empty(t, r.KeySizeDistribution)
	require.Empty(t, r.ValueSizeDistribution)
}

func TestAnalyzeFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyze.mprof")
	w, err := profile.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(profile.Event{ConnID: 1, CmdType: profile.Get, KeySize: 4}))
	require.NoError(t, w.WriteEvent(profile.Event{
		ConnID: 1, CmdType: profile.Set, KeySize: 4, ValueSize: optionals.Some[uint32](8),
	}))
	_, err = w.Finalize()
	require.NoError(t, err)

	r, err := AnalyzeFile(path)
	require.NoError(t, err)
	require.Equal(t, uint64(2), r.TotalEvents)
	require.Equal(t, uint64(1), r.CommandDistribution[profile.Get])
	require.Equal(t, uint64(1), r.CommandDistribution[profile.Set])
}
