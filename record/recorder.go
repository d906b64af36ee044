package record

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/internal/memview"
	"github.com/cachetrace/memprofile/profile"
)

// Recorder wires a PacketSource through the reassembler, protocol
// parser, and anonymizer into a profile.Writer, mirroring the
// record-pipeline orchestration of original_source/src/record/main.rs
// and the teacher's TrafficParser.Parse.
type Recorder struct {
	source PacketSource
	writer *profile.Writer
	opts   Options
	logger *zap.Logger

	reassembler *Reassembler
	anonymizer  Anonymizer
	runID       xid.ID

	connIDs    map[uuid.UUID]uint16
	nextConnID uint16

	startTime time.Time

	PacketsSeen uint64
	EventsSeen  uint64
}

// NewRecorder builds a Recorder. writer must not yet be finalized.
func NewRecorder(source PacketSource, writer *profile.Writer, logger *zap.Logger, opt ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := NewOptions()
	for _, fn := range opt {
		fn(&opts)
	}
	return &Recorder{
		source:      source,
		writer:      writer,
		opts:        opts,
		logger:      logger,
		reassembler: NewReassembler(opts, logger),
		anonymizer:  NewAnonymizer(opts.Salt),
		connIDs:     make(map[uuid.UUID]uint16),
		runID:       xid.New(),
	}
}

// Run drains the packet source until it closes or ctx is cancelled,
// producing one Event per fully-parsed request and finalizing the
// writer on exit.
func (r *Recorder) Run(ctx context.Context) error {
	r.startTime = time.Now()
	r.logger.Info("recording started",
		zap.String("run_id", r.runID.String()),
		zap.Uint16("port", r.opts.Port))

	segments, err := r.source.Capture(ctx)
	if err != nil {
		return errors.Wrap(err, "record: start capture")
	}

	sweepInterval := r.opts.FlowSweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultFlowSweepInterval
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.finish()

		case <-ticker.C:
			evicted := r.reassembler.SweepIdle(r.opts.FlowIdleTimeout)
			if evicted > 0 {
				r.logger.Debug("evicted idle flows", zap.Int("count", evicted))
			}

		case seg, more := <-segments:
			if !more {
				return r.finish()
			}
			r.PacketsSeen++
			r.handleSegment(seg)
		}
	}
}

func (r *Recorder) finish() error {
	meta, err := r.writer.Finalize()
	if err != nil {
		return errors.Wrap(err, "record: finalize profile")
	}
	r.logger.Info("recording finished",
		zap.String("run_id", r.runID.String()),
		zap.Uint64("packets", r.PacketsSeen),
		zap.Uint64("events", r.EventsSeen),
		zap.Uint64("total_events", meta.TotalEvents))
	return nil
}

func (r *Recorder) handleSegment(seg RawSegment) {
	dup, conflict := r.reassembler.Add(seg.Flow, seg.Seq, seg.Payload)
	if conflict {
		r.logger.Warn("overlapping segment with conflicting bytes", zap.String("flow", seg.Flow.String()))
	}
	if dup {
		return
	}

	buf := r.reassembler.Bytes(seg.Flow)
	for {
		consumed, ok := r.tryParseOne(seg.Flow, buf, seg.Timestamp)
		if !ok {
			return
		}
		buf = buf[consumed:]
	}
}

// tryParseOne attempts to parse a single request from the head of
// buf. It returns the number of bytes to advance the flow's
// reassembly buffer by, and whether a full command (valid or
// malformed-and-skipped) was consumed — false means "not enough bytes
// yet", so the caller should stop looping until more data arrives.
func (r *Recorder) tryParseOne(flow FlowKey, buf []byte, ts time.Time) (int, bool) {
	view := memview.New(buf)
	cmd, remainder, err := ParseRequest(view)
	switch {
	case err == nil:
		consumed := int(view.Len() - remainder.Len())
		r.emitEvent(flow, cmd, ts)
		r.reassembler.Consume(flow, consumed)
		return consumed, true

	case errors.Is(err, ErrIncomplete):
		return 0, false

	case errors.Is(err, ErrMalformed):
		// Advance past the next CRLF at our discretion, per spec.md §4.3/§7.
		idx := view.Index(0, crlf)
		if idx < 0 {
			// No line terminator at all yet; wait for more bytes rather
			// than discarding an undelimited fragment.
			return 0, false
		}
		skip := int(idx) + 2
		r.logger.Debug("dropping malformed command", zap.String("flow", flow.String()), zap.Int("bytes", skip))
		r.reassembler.Consume(flow, skip)
		return skip, true

	default:
		r.logger.Warn("unexpected parser error", zap.Error(err))
		return 0, false
	}
}

func (r *Recorder) emitEvent(flow FlowKey, cmd ParsedRequest, ts time.Time) {
	connID := r.connID(flow)

	var flags profile.Flags
	if cmd.Quiet {
		flags |= profile.FlagQuiet
	}
	if cmd.ValueSize.IsSome() {
		flags |= profile.FlagCarriesValue
	}

	e := profile.Event{
		Timestamp: uint64(ts.Sub(r.startTime).Microseconds()),
		ConnID:    connID,
		CmdType:   cmd.Cmd,
		KeyHash:   r.anonymizer.HashKeyView(cmd.Key),
		KeySize:   uint32(cmd.Key.Len()),
		ValueSize: cmd.ValueSize,
		Flags:     flags,
	}
	if !e.Valid() {
		r.logger.Warn("dropping event that violates schema invariants", zap.Any("event", e))
		return
	}
	if err := r.writer.WriteEvent(e); err != nil {
		r.logger.Error("failed to write event", zap.Error(err))
		return
	}
	r.EventsSeen++
}

// connID allocates (or returns the existing) small integer connection
// id for flow's underlying bidirectional connection.
func (r *Recorder) connID(flow FlowKey) uint16 {
	id := bidiID(flow)
	if cid, ok := r.connIDs[id]; ok {
		return cid
	}
	cid := r.nextConnID
	r.nextConnID++
	r.connIDs[id] = cid
	return cid
}
