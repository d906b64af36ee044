package record

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// segment is one (seq, payload) pair buffered for a flow.
type segment struct {
	seq     uint32
	payload []byte
}

// flowBuffer is one flow's owned segment buffer. Flows map to owned
// buffers with no back-references (spec.md §9 "Reassembler
// ownership"), so eviction is just a map delete. It carries its own
// FlowKey so callers that range over the string-keyed map (e.g.
// SweepIdle) can still report the structured flow identity.
type flowBuffer struct {
	flow       FlowKey
	segments   []segment
	bufferedN  int
	lastSeen   time.Time
	consumedTo uint32 // unused: Consume removes bytes handed to the parser from segments directly
}

func (b *flowBuffer) totalBytes() int {
	n := 0
	for _, s := range b.segments {
		n += len(s.payload)
	}
	return n
}

// Reassembler maintains one ordered segment buffer per flow, per
// spec.md §4.2. It does not attempt TCP-accurate gap detection; within
// the scope this module cares about (memcached request/response
// framing) "ascending sequence order" concatenation is the contract
// the parser needs, and duplicate/overlap handling keeps a flow's
// buffer from growing without bound on retransmits.
//
// Flows are keyed by FlowKey.String() rather than FlowKey itself:
// FlowKey embeds Endpoint.IP (a net.IP, i.e. []byte), so FlowKey is not
// a comparable type and cannot be a Go map key directly.
type Reassembler struct {
	mu      sync.Mutex
	flows   map[string]*flowBuffer
	opts    Options
	logger  *zap.Logger
	onEvict func(FlowKey)
}

// NewReassembler builds a Reassembler with the given options.
func NewReassembler(opts Options, logger *zap.Logger) *Reassembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reassembler{
		flows:  make(map[string]*flowBuffer),
		opts:   opts,
		logger: logger,
	}
}

// Add inserts one segment into flow's buffer. Returns true if the
// segment was a duplicate (same seq, identical payload) and was
// absorbed without changing the buffer, and an overlap flag if the
// segment's byte range intersects an existing segment with differing
// content — a protocol violation per spec.md §4.2 that the caller may
// log but which does not stop reassembly.
func (r *Reassembler) Add(flow FlowKey, seq uint32, payload []byte) (duplicate, overlapConflict bool) {
	if len(payload) == 0 {
		return false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := flow.String()
	buf, ok := r.flows[key]
	if !ok {
		buf = &flowBuffer{flow: flow}
		r.flows[key] = buf
	}
	buf.lastSeen = time.Now()

	idx := sort.Search(len(buf.segments), func(i int) bool { return buf.segments[i].seq >= seq })
	if idx < len(buf.segments) && buf.segments[idx].seq == seq {
		existing := buf.segments[idx]
		if bytes.Equal(existing.payload, payload) {
			return true, false
		}
		// Same starting sequence number, different bytes: a conflicting
		// retransmission. Keep the first-seen bytes, flag the conflict.
		return false, true
	}

	overlapConflict = r.detectOverlap(buf, idx, seq, payload)

	seg := segment{seq: seq, payload: payload}
	buf.segments = append(buf.segments, segment{})
	copy(buf.segments[idx+1:], buf.segments[idx:])
	buf.segments[idx] = seg
	buf.bufferedN += len(payload)

	if buf.bufferedN > r.opts.FlowSoftCapBytes {
		r.releaseOldestLocked(buf)
	}
	return false, overlapConflict
}

// detectOverlap reports whether the new segment's byte range overlaps
// a neighbor's with differing content at the shared offsets.
func (r *Reassembler) detectOverlap(buf *flowBuffer, insertAt int, seq uint32, payload []byte) bool {
	end := seq + uint32(len(payload))
	check := func(other segment) bool {
		otherEnd := other.seq + uint32(len(other.payload))
		loStart, hiStart := seq, other.seq
		if loStart > hiStart {
			loStart, hiStart = hiStart, loStart
		}
		loEnd, hiEnd := end, otherEnd
		if hiEnd < loEnd {
			loEnd, hiEnd = hiEnd, loEnd
		}
		overlapStart, overlapEnd := hiStart, loEnd
		if overlapStart >= overlapEnd {
			return false // no overlap
		}
		a := payload[overlapStart-seq : overlapEnd-seq]
		b := other.payload[overlapStart-other.seq : overlapEnd-other.seq]
		return !bytes.Equal(a, b)
	}
	if insertAt > 0 && check(buf.segments[insertAt-1]) {
		return true
	}
	if insertAt < len(buf.segments) && check(buf.segments[insertAt]) {
		return true
	}
	return false
}

// releaseOldestLocked drops the oldest contiguous prefix of segments
// once the flow exceeds its soft cap, per spec.md §4.2. Since this
// reassembler doesn't track a separately consumed cursor across Bytes
// calls, "release" here means dropping enough of the oldest segments
// that the buffer falls back under the cap; callers relying on ordered
// bytes must have already drained what they need via Bytes/Consume
// before this triggers in steady operation.
func (r *Reassembler) releaseOldestLocked(buf *flowBuffer) {
	for buf.bufferedN > r.opts.FlowSoftCapBytes && len(buf.segments) > 1 {
		dropped := buf.segments[0]
		buf.segments = buf.segments[1:]
		buf.bufferedN -= len(dropped.payload)
	}
}

// Bytes returns the concatenation of flow's buffered payloads in
// ascending sequence order.
func (r *Reassembler) Bytes(flow FlowKey) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.flows[flow.String()]
	if !ok {
		return nil
	}
	out := make([]byte, 0, buf.totalBytes())
	for _, s := range buf.segments {
		out = append(out, s.payload...)
	}
	return out
}

// Consume drops the first n bytes of flow's ordered buffer, i.e. marks
// them as handed to the parser. Segments are split as needed so
// partially-consumed segments retain their unconsumed tail.
func (r *Reassembler) Consume(flow FlowKey, n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.flows[flow.String()]
	if !ok {
		return
	}
	remaining := n
	for remaining > 0 && len(buf.segments) > 0 {
		head := &buf.segments[0]
		if len(head.payload) <= remaining {
			remaining -= len(head.payload)
			buf.bufferedN -= len(head.payload)
			buf.segments = buf.segments[1:]
			continue
		}
		head.seq += uint32(remaining)
		head.payload = head.payload[remaining:]
		buf.bufferedN -= remaining
		remaining = 0
	}
}

// Remove drops a flow's buffer entirely, e.g. on connection close.
func (r *Reassembler) Remove(flow FlowKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, flow.String())
}

// SweepIdle evicts flows whose buffers have not been touched within
// idleTimeout. Callers typically run this on a ticker at
// FlowSweepInterval (see Recorder.Run).
func (r *Reassembler) SweepIdle(idleTimeout time.Duration) (evicted int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	for k, buf := range r.flows {
		if buf.lastSeen.Before(cutoff) {
			delete(r.flows, k)
			evicted++
		}
	}
	return evicted
}
