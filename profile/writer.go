package profile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/cachetrace/memprofile/internal/xset"
)

// Writer accumulates events in capture order and, on Finalize, appends
// the trailing metadata block and magic sentinel. It owns the
// underlying file exclusively for the writer's lifetime (spec.md §5:
// "the profile file during recording is owned exclusively by the
// writer").
type Writer struct {
	w        *bufio.Writer
	closer   io.Closer
	final    bool
	buf      []byte
	total    uint64
	firstTS  uint64
	lastTS   uint64
	haveTS   bool
	conns    xset.Set[uint16]
	byCmd    map[CommandType]uint64
}

// Create opens path for writing and returns a Writer ready to accept
// events.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "profile: create")
	}
	return NewWriter(f), nil
}

// NewWriter wraps an io.WriteCloser. Callers that don't need an
// os.File (e.g. tests writing to an in-memory buffer) can satisfy
// io.WriteCloser with a no-op Close.
func NewWriter(wc interface {
	io.Writer
	io.Closer
}) *Writer {
	return &Writer{
		w:      bufio.NewWriter(wc),
		closer: wc,
		conns:  xset.New[uint16](),
		byCmd:  make(map[CommandType]uint64),
	}
}

// WriteEvent appends one event. Events must be supplied in capture
// order; the writer does not reorder or buffer them beyond what the
// underlying bufio.Writer does for I/O efficiency.
func (w *Writer) WriteEvent(e Event) error {
	if w.final {
		return errors.New("profile: write after finalize")
	}
	if !e.Valid() {
		return errors.Errorf("profile: invalid event %+v", e)
	}

	w.buf = w.buf[:0]
	var err error
	w.buf, err = EncodeEvent(w.buf, e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return errors.Wrap(err, "profile: write event")
	}

	w.total++
	w.conns.Insert(e.ConnID)
	w.byCmd[e.CmdType]++
	if !w.haveTS {
		w.firstTS = e.Timestamp
		w.haveTS = true
	}
	w.lastTS = e.Timestamp
	return nil
}

// Finalize appends the metadata block, its length prefix, and the
// magic sentinel, flushes the underlying writer, and closes it. It is
// the only operation that writes metadata; calling it twice is an
// error.
func (w *Writer) Finalize() (ProfileMetadata, error) {
	if w.final {
		return ProfileMetadata{}, errors.New("profile: already finalized")
	}
	w.final = true

	m := ProfileMetadata{
		Magic:               ProfileMagic,
		Version:             SchemaVersion,
		TotalEvents:         w.total,
		UniqueConnections:   uint32(w.conns.Size()),
		FirstTimestamp:      w.firstTS,
		LastTimestamp:       w.lastTS,
		CommandDistribution: w.byCmd,
	}

	var trailer []byte
	trailer = EncodeMetadata(trailer, m)
	if len(trailer) > 0xFFFF {
		return ProfileMetadata{}, errors.New("profile: metadata too large")
	}
	if _, err := w.w.Write(trailer); err != nil {
		return ProfileMetadata{}, errors.Wrap(err, "profile: write metadata")
	}

	var lenAndMagic [2 + 4]byte
	binary.LittleEndian.PutUint16(lenAndMagic[0:2], uint16(len(trailer)))
	binary.LittleEndian.PutUint32(lenAndMagic[2:6], ProfileMagic)
	if _, err := w.w.Write(lenAndMagic[:]); err != nil {
		return ProfileMetadata{}, errors.Wrap(err, "profile: write trailer")
	}

	if err := w.w.Flush(); err != nil {
		return ProfileMetadata{}, errors.Wrap(err, "profile: flush")
	}
	if err := w.closer.Close(); err != nil {
		return ProfileMetadata{}, errors.Wrap(err, "profile: close")
	}
	return m, nil
}
