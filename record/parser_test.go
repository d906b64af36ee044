package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/internal/memview"
	"github.com/cachetrace/memprofile/profile"
)

// Scenario 2 from spec.md §8: parser split-buffer.
func TestParseRequest_SplitBuffer(t *testing.T) {
	_, _, err := ParseRequest(memview.New([]byte("mg fo")))
	require.ErrorIs(t, err, ErrIncomplete)

	cmd, remainder, err := ParseRequest(memview.New([]byte("mg foo v\r\n")))
	require.NoError(t, err)
	require.Equal(t, profile.Get, cmd.Cmd)
	require.Equal(t, "foo", cmd.Key.String())
	require.Equal(t, int64(0), remainder.Len())
}

// Scenario 3 from spec.md §8: parser `ms` with body.
func TestParseRequest_MsWithBody(t *testing.T) {
	cmd, remainder, err := ParseRequest(memview.New([]byte("ms k 5\r\nhello\r\n")))
	require.NoError(t, err)
	require.Equal(t, profile.Set, cmd.Cmd)
	vs, ok := cmd.ValueSize.Get()
	require.True(t, ok)
	require.Equal(t, uint32(5), vs)
	require.Equal(t, int64(0), remainder.Len())
}

func TestParseRequest_SetIncompleteValue(t *testing.T) {
	_, _, err := ParseRequest(memview.New([]byte("set k 0 0 5\r\nhel")))
	require.ErrorIs(t, err, ErrIncomplete)

	cmd, remainder, err := ParseRequest(memview.New([]byte("set k 0 0 5\r\nhello\r\n")))
	require.NoError(t, err)
	require.Equal(t, profile.Set, cmd.Cmd)
	require.Equal(t, "k", cmd.Key.String())
	vs, _ := cmd.ValueSize.Get()
	require.Equal(t, uint32(5), vs)
	require.Equal(t, int64(0), remainder.Len())
}

func TestParseRequest_UnknownToken(t *testing.T) {
	_, _, err := ParseRequest(memview.New([]byte("bogus x\r\n")))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRequest_MetaNoop(t *testing.T) {
	cmd, remainder, err := ParseRequest(memview.New([]byte("mn\r\n")))
	require.NoError(t, err)
	require.Equal(t, profile.Noop, cmd.Cmd)
	require.True(t, cmd.Meta)
	require.Equal(t, int64(0), remainder.Len())
}

func TestParseResponse_Variants(t *testing.T) {
	resp, _, err := ParseResponse(memview.New([]byte("HD\r\n")))
	require.NoError(t, err)
	require.Equal(t, RespFound, resp.Outcome)

	resp, _, err = ParseResponse(memview.New([]byte("EN\r\n")))
	require.NoError(t, err)
	require.Equal(t, RespNotFound, resp.Outcome)

	resp, remainder, err := ParseResponse(memview.New([]byte("VA 5\r\nhello\r\n")))
	require.NoError(t, err)
	require.Equal(t, RespFound, resp.Outcome)
	require.Equal(t, uint32(5), resp.ValueSize)
	require.Equal(t, int64(0), remainder.Len())
}
