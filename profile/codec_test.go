package profile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/internal/optionals"
)

type nopCloserBuf struct {
	*bytes.Buffer
}

func (nopCloserBuf) Close() error { return nil }

func newBufWriter() (*Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewWriter(nopCloserBuf{buf}), buf
}

// Scenario 1 from spec.md §8: round-trip one event.
func TestWriter_RoundTripOneEvent(t *testing.T) {
	w, buf := newBufWriter()

	e := Event{
		Timestamp: 12345,
		ConnID:    7,
		CmdType:   Get,
		KeyHash:   0xdeadbeef,
		KeySize:   42,
	}
	require.NoError(t, w.WriteEvent(e))

	meta, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, uint64(1), meta.TotalEvents)
	require.Equal(t, uint32(1), meta.UniqueConnections)

	s, err := NewStreamer(buf.Bytes())
	require.NoError(t, err)

	got, ok, err := s.NextEvent()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e, got)

	_, ok, err = s.NextEvent()
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, uint64(1), s.Metadata.TotalEvents)
	require.Equal(t, uint32(1), s.Metadata.UniqueConnections)
}

func TestWriter_RoundTripManyEventsAndReset(t *testing.T) {
	w, buf := newBufWriter()

	events := []Event{
		{Timestamp: 1, ConnID: 1, CmdType: Get, KeyHash: 1, KeySize: 3},
		{Timestamp: 2, ConnID: 2, CmdType: Get, KeyHash: 2, KeySize: 3},
		{Timestamp: 3, ConnID: 1, CmdType: Set, KeyHash: 1, KeySize: 3, ValueSize: optionals.Some[uint32](10)},
		{Timestamp: 4, ConnID: 1, CmdType: Delete, KeyHash: 1, KeySize: 3},
		{Timestamp: 5, ConnID: 3, CmdType: Noop},
	}
	for _, e := range events {
		require.NoError(t, w.WriteEvent(e))
	}
	meta, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, uint64(len(events)), meta.TotalEvents)
	require.Equal(t, uint32(3), meta.UniqueConnections)

	var sum uint64
	for _, n := range meta.CommandDistribution {
		sum += n
	}
	require.Equal(t, meta.TotalEvents, sum)

	s, err := NewStreamer(buf.Bytes())
	require.NoError(t, err)

	readAll := func() []Event {
		var out []Event
		for {
			e, ok, err := s.NextEvent()
			require.NoError(t, err)
			if !ok {
				break
			}
			out = append(out, e)
		}
		return out
	}

	require.Equal(t, events, readAll())
	s.Reset()
	require.Equal(t, events, readAll())
}

func TestWriter_RejectsInvalidEvent(t *testing.T) {
	w, _ := newBufWriter()
	err := w.WriteEvent(Event{CmdType: Set}) // missing ValueSize
	require.Error(t, err)
}

func TestWriter_RejectsWriteAfterFinalize(t *testing.T) {
	w, _ := newBufWriter()
	_, err := w.Finalize()
	require.NoError(t, err)
	require.Error(t, w.WriteEvent(Event{CmdType: Get}))
}

func TestStreamer_BadMagic(t *testing.T) {
	_, err := NewStreamer([]byte{0, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrBadMagic)
}
