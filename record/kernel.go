package record

import (
	"context"
	"sync/atomic"
)

// KernelSource models the optional kernel-accelerated capture backend
// (spec.md §4.1, §9): payloads already attributed to a target process
// identifier, delivered over what would be a ring buffer in a real
// eBPF/tracepoint binding. No such binding exists anywhere in this
// module's reference material (see DESIGN.md), so this is an abstract
// channel-backed source: a producer elsewhere (e.g. a test, or a future
// cgo binding) pushes segments via Feed, and Capture simply relays
// them until ctx is done or Close is called.
//
// The parser and reassembler treat this identically to any other
// PacketSource; per spec.md §9 "the parser does not care."
type KernelSource struct {
	in     chan RawSegment
	stats  CaptureStats
	closed chan struct{}
}

// NewKernelSource builds a kernel-backed source with the given feed
// buffer depth.
func NewKernelSource(bufferDepth int) *KernelSource {
	return &KernelSource{
		in:     make(chan RawSegment, bufferDepth),
		closed: make(chan struct{}),
	}
}

// Feed delivers one segment from the underlying ring buffer producer.
// It blocks if the internal buffer is full. Returns false if the
// source has been closed.
func (k *KernelSource) Feed(seg RawSegment) bool {
	select {
	case k.in <- seg:
		atomic.AddUint64(&k.stats.Received, 1)
		atomic.AddUint64(&k.stats.Bytes, uint64(len(seg.Payload)))
		return true
	case <-k.closed:
		return false
	}
}

// Close stops the source; Capture's channel will close once any
// buffered segments have drained.
func (k *KernelSource) Close() {
	select {
	case <-k.closed:
	default:
		close(k.closed)
	}
}

func (k *KernelSource) Capture(ctx context.Context) (<-chan RawSegment, error) {
	out := make(chan RawSegment, cap(k.in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-k.closed:
				// Drain what's buffered before exiting.
				for {
					select {
					case seg := <-k.in:
						out <- seg
					default:
						return
					}
				}
			case seg := <-k.in:
				select {
				case out <- seg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// IsFinite is false: a kernel backend runs until the caller stops it,
// like a live interface.
func (k *KernelSource) IsFinite() bool { return false }

func (k *KernelSource) Stats() CaptureStats {
	return CaptureStats{
		Received: atomic.LoadUint64(&k.stats.Received),
		Dropped:  atomic.LoadUint64(&k.stats.Dropped),
		Bytes:    atomic.LoadUint64(&k.stats.Bytes),
	}
}
