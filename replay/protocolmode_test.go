package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLoopMode(t *testing.T) {
	once, err := ParseLoopMode("once")
	require.NoError(t, err)
	require.Equal(t, 1, once.Count())
	require.False(t, once.IsInfinite())

	inf, err := ParseLoopMode("infinite")
	require.NoError(t, err)
	require.True(t, inf.IsInfinite())

	times, err := ParseLoopMode("times:7")
	require.NoError(t, err)
	require.Equal(t, 7, times.Count())

	_, err = ParseLoopMode("bogus")
	require.Error(t, err)
}

func TestParseProtocolMode(t *testing.T) {
	m, err := ParseProtocolMode("meta")
	require.NoError(t, err)
	require.Equal(t, Meta, m)

	m, err = ParseProtocolMode("ASCII")
	require.NoError(t, err)
	require.Equal(t, Ascii, m)

	_, err = ParseProtocolMode("binary")
	require.Error(t, err)
}
