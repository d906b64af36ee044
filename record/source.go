package record

import (
	"context"
	"time"
)

// RawSegment is a single link-layer frame's TCP payload slice, with
// enough metadata for the reassembler to place it in sequence. Per
// spec.md §4.1, this is not a reassembled stream: the parser must not
// assume alignment to protocol message boundaries.
type RawSegment struct {
	Flow      FlowKey
	Seq       uint32
	Payload   []byte
	Timestamp time.Time
}

// CaptureStats are the optional counters a PacketSource may expose.
type CaptureStats struct {
	Received uint64
	Dropped  uint64
	Bytes    uint64
}

// PacketSource is a polymorphic iterator over raw TCP payload bytes.
// Variants: a live interface, an offline capture file, and an
// optional kernel tracepoint backend (see KernelSource). Capture
// starts production on the returned channel and must close it when
// ctx is done or the source is exhausted.
type PacketSource interface {
	// Capture begins reading and returns a channel of segments. The
	// channel is closed on `end` (the source is always exhausted, e.g.
	// file sources) or context cancellation. A closed channel with no
	// further error is ambiguous between "end" and "cancelled" by
	// design: callers already have ctx to distinguish the two.
	Capture(ctx context.Context) (<-chan RawSegment, error)

	// IsFinite reports whether the source is guaranteed to terminate on
	// its own (a capture file) as opposed to running until cancelled (a
	// live interface or kernel backend).
	IsFinite() bool

	// Stats returns a snapshot of capture counters. Sources that can't
	// track drops return a zero value.
	Stats() CaptureStats
}
