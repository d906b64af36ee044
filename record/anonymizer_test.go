package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario 4 from spec.md §8: anonymizer stability.
func TestAnonymizer_Stability(t *testing.T) {
	a := NewAnonymizer(12345)
	require.Equal(t, a.HashKey([]byte("testkey")), a.HashKey([]byte("testkey")))
	require.NotEqual(t, a.HashKey([]byte("k1")), a.HashKey([]byte("k2")))

	other := NewAnonymizer(54321)
	require.NotEqual(t, a.HashKey([]byte("x")), other.HashKey([]byte("x")))
}

func TestFormatReplayKey_Deterministic(t *testing.T) {
	a := NewAnonymizer(1)
	h := a.HashKey([]byte("some-key"))

	k1 := FormatReplayKey(h, 10)
	k2 := FormatReplayKey(h, 10)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 10)

	k3 := FormatReplayKey(h, 40)
	require.Len(t, k3, 40)
}
