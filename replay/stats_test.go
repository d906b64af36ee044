package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/profile"
)

func TestConnectionStats_RecordAndSnapshotResets(t *testing.T) {
	s := NewConnectionStats(3)
	s.RecordSuccess(profile.Get, 100*time.Microsecond)
	s.RecordSuccess(profile.Get, 200*time.Microsecond)
	s.RecordError(ErrKindTimeout)

	snap := s.Snapshot()
	require.Equal(t, uint16(3), snap.ConnectionID)
	require.Equal(t, uint64(2), snap.SuccessCount[profile.Get])
	require.Equal(t, uint64(1), snap.ErrorCount[ErrKindTimeout])
	require.Equal(t, int64(2), snap.Histograms[profile.Get].TotalCount())

	again := s.Snapshot()
	require.Empty(t, again.SuccessCount)
	require.Empty(t, again.ErrorCount)
	require.Empty(t, again.Histograms)
}

func TestConnectionStats_ClampsOutOfRangeLatency(t *testing.T) {
	s := NewConnectionStats(1)
	s.RecordSuccess(profile.Set, 0)
	s.RecordSuccess(profile.Set, time.Hour)
	snap := s.Snapshot()
	// HDR Max reports the top of the value's bucket, so compare against a
	// histogram holding exactly the cap.
	capped := newHistogram()
	require.NoError(t, capped.RecordValue(histogramMaxValue))
	require.Equal(t, uint64(2), snap.SuccessCount[profile.Set])
	require.GreaterOrEqual(t, snap.Histograms[profile.Set].Min(), int64(histogramMinValue))
	require.LessOrEqual(t, snap.Histograms[profile.Set].Max(), capped.Max())
}

func TestAggregatedStats_MergePercentileAndJSON(t *testing.T) {
	agg := newAggregatedStats()

	s1 := NewConnectionStats(1)
	s1.RecordSuccess(profile.Get, 100*time.Microsecond)
	s1.RecordSuccess(profile.Get, 300*time.Microsecond)
	agg.merge(s1.Snapshot())

	s2 := NewConnectionStats(2)
	s2.RecordSuccess(profile.Get, 200*time.Microsecond)
	s2.RecordError(ErrKindProtocolError)
	agg.merge(s2.Snapshot())

	agg.finish()

	require.Equal(t, uint64(3), agg.TotalOperations())
	p50, ok := agg.Percentile(profile.Get, 50)
	require.True(t, ok)
	require.Greater(t, p50, int64(0))
	require.Equal(t, uint64(1), agg.errors[ErrKindProtocolError])

	out, err := agg.ToJSON()
	require.NoError(t, err)
	require.Contains(t, string(out), `"total_operations": 3`)
	require.Contains(t, string(out), `"Get"`)
	require.Contains(t, string(out), `"ProtocolError"`)
}

func TestAggregatedStats_PercentileUnknownCommand(t *testing.T) {
	agg := newAggregatedStats()
	_, ok := agg.Percentile(profile.Delete, 50)
	require.False(t, ok)
}
