package record

import (
	"github.com/dchest/siphash"

	"github.com/cachetrace/memprofile/internal/memview"
)

// Anonymizer is a keyed 64-bit pseudorandom function over arbitrary
// byte strings (spec.md §4.4). The salt is duplicated into both
// 64-bit halves of SipHash's 128-bit key, the same construction
// original_source/src/record/anonymizer.rs uses for
// SipHasher13::new_with_key.
type Anonymizer struct {
	k0, k1 uint64
}

// NewAnonymizer derives an Anonymizer from a run-scoped salt. The salt
// is never persisted in the profile; only its effect (the hashes it
// produces) is.
func NewAnonymizer(salt uint64) Anonymizer {
	return Anonymizer{k0: salt, k1: salt}
}

// HashKey returns key's salt-keyed 64-bit fingerprint. Deterministic
// for a given (salt, key) pair; changing either the salt or the key
// bytes changes the output with cryptographic-strength probability.
func (a Anonymizer) HashKey(key []byte) uint64 {
	return siphash.Hash(a.k0, a.k1, key)
}

// HashKeyView is a convenience for callers holding the key as a
// memview.MemView (the parser's key extraction never copies into an
// owned slice until this point).
func (a Anonymizer) HashKeyView(key memview.MemView) uint64 {
	return a.HashKey(key.Bytes())
}

// FormatReplayKey reconstructs a deterministic replay key from a
// recorded (key_hash, key_size) pair (spec.md §4.8): render the hash
// as fixed-width hex, repeat it, and truncate to exactly keySize
// bytes. This is a one-to-one relation between recorded and replay
// keys that preserves the original size distribution without ever
// recovering the original bytes.
func FormatReplayKey(keyHash uint64, keySize uint32) []byte {
	var hexBuf [16]byte
	const hexDigits = "0123456789abcdef"
	for i := 0; i < 16; i++ {
		shift := uint(60 - 4*i)
		hexBuf[i] = hexDigits[(keyHash>>shift)&0xF]
	}

	out := make([]byte, keySize)
	for i := range out {
		out[i] = hexBuf[i%len(hexBuf)]
	}
	return out
}
