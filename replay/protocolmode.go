// Package replay streams a recorded profile back against a target
// memcached-compatible server, preserving per-connection command
// order while issuing different connections independently.
package replay

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ProtocolMode selects which memcached command dialect the replayer
// emits on the wire. The event model itself is mode-agnostic: any
// event can be serialized in either mode (spec.md §4.8).
type ProtocolMode uint8

const (
	Ascii ProtocolMode = iota
	Meta
)

func (m ProtocolMode) String() string {
	switch m {
	case Ascii:
		return "ascii"
	case Meta:
		return "meta"
	default:
		return "unknown"
	}
}

// ParseProtocolMode parses the "ascii"/"meta" CLI flag value.
func ParseProtocolMode(s string) (ProtocolMode, error) {
	switch strings.ToLower(s) {
	case "ascii":
		return Ascii, nil
	case "meta":
		return Meta, nil
	default:
		return 0, errors.Errorf("replay: invalid protocol mode %q, use \"ascii\" or \"meta\"", s)
	}
}

// LoopMode is the replay iteration policy (spec.md §9): Once,
// Times(N), or Infinite. Infinite is encoded as the sentinel
// math.MaxInt.
type LoopMode struct {
	count int
}

const infiniteLoopCount = math.MaxInt

func Once() LoopMode                { return LoopMode{count: 1} }
func Times(n int) LoopMode          { return LoopMode{count: n} }
func Infinite() LoopMode            { return LoopMode{count: infiniteLoopCount} }
func (l LoopMode) IsInfinite() bool  { return l.count == infiniteLoopCount }
func (l LoopMode) Count() int        { return l.count }

func (l LoopMode) String() string {
	if l.IsInfinite() {
		return "infinite"
	}
	if l.count == 1 {
		return "once"
	}
	return fmt.Sprintf("times:%d", l.count)
}

// ParseLoopMode parses "once", "infinite", or "times:N", the encoding
// original_source/src/replay/main.rs uses for its loop-mode CLI flag
// (spec.md §9 names the three modes but not their string form).
func ParseLoopMode(s string) (LoopMode, error) {
	switch {
	case s == "once":
		return Once(), nil
	case s == "infinite":
		return Infinite(), nil
	case strings.HasPrefix(s, "times:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "times:"))
		if err != nil || n < 1 {
			return LoopMode{}, errors.Errorf("replay: invalid loop mode %q", s)
		}
		return Times(n), nil
	default:
		return LoopMode{}, errors.Errorf("replay: invalid loop mode %q, use \"once\", \"infinite\", or \"times:N\"", s)
	}
}
