package record

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/profile"
)

// fakeSource replays a fixed list of segments then closes its channel,
// standing in for a FileSource/LiveSource in tests.
type fakeSource struct {
	segs []RawSegment
}

func (f *fakeSource) Capture(ctx context.Context) (<-chan RawSegment, error) {
	out := make(chan RawSegment, len(f.segs))
	for _, s := range f.segs {
		out <- s
	}
	close(out)
	return out, nil
}

func (f *fakeSource) IsFinite() bool      { return true }
func (f *fakeSource) Stats() CaptureStats { return CaptureStats{} }

type nopCloseBuf struct{ *bytes.Buffer }

func (nopCloseBuf) Close() error { return nil }

func TestRecorder_EndToEnd(t *testing.T) {
	flow := testFlow()
	now := time.Now()

	src := &fakeSource{segs: []RawSegment{
		{Flow: flow, Seq: 0, Payload: []byte("get hello\r\n"), Timestamp: now},
		{Flow: flow, Seq: 11, Payload: []byte("set world 0 0 5\r\nhowdy\r\n"), Timestamp: now.Add(time.Millisecond)},
	}}

	buf := &bytes.Buffer{}
	writer := profile.NewWriter(nopCloseBuf{buf})

	rec := NewRecorder(src, writer, nil, WithSalt(42))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rec.Run(ctx))

	require.Equal(t, uint64(2), rec.EventsSeen)

	events, meta, err := readAllFromBuf(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, profile.Get, events[0].CmdType)
	require.Equal(t, profile.Set, events[1].CmdType)
	require.Equal(t, uint32(5), events[1].ValueSize.GetOrDefault(0))
	require.Equal(t, uint32(1), meta.UniqueConnections)
}

func readAllFromBuf(data []byte) ([]profile.Event, profile.ProfileMetadata, error) {
	s, err := profile.NewStreamer(data)
	if err != nil {
		return nil, profile.ProfileMetadata{}, err
	}
	var out []profile.Event
	for {
		e, ok, err := s.NextEvent()
		if err != nil {
			return nil, profile.ProfileMetadata{}, err
		}
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out, s.Metadata, nil
}
