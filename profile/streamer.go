package profile

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// Streamer is a forward iterator over a profile's events, with Reset
// for looped replay. It holds the whole file contents in memory rather
// than a real memory map (see DESIGN.md: the spec treats mmap as one
// possible implementation, and the implementation this module was
// distilled from does not map either).
type Streamer struct {
	data     []byte
	eventEnd int64 // exclusive upper bound of the event region
	cursor   int64
	Metadata ProfileMetadata
}

// OpenStreamer reads path fully into memory, verifies the trailing
// magic, and parses the metadata block per the reader algorithm in
// spec.md §6.
func OpenStreamer(path string) (*Streamer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "profile: read")
	}
	return NewStreamer(data)
}

// NewStreamer parses an already-loaded profile buffer.
func NewStreamer(data []byte) (*Streamer, error) {
	eventEnd, meta, err := parseTrailer(data)
	if err != nil {
		return nil, err
	}
	return &Streamer{data: data, eventEnd: eventEnd, Metadata: meta}, nil
}

// parseTrailer implements: verify last four bytes equal the magic;
// read two bytes before that as metadata length M; read the M bytes
// preceding as metadata payload; events occupy [0, file_len-4-2-M).
func parseTrailer(data []byte) (int64, ProfileMetadata, error) {
	if len(data) < 6 {
		return 0, ProfileMetadata{}, ErrShortBuffer
	}
	magicOff := len(data) - 4
	if binary.LittleEndian.Uint32(data[magicOff:]) != ProfileMagic {
		return 0, ProfileMetadata{}, ErrBadMagic
	}
	lenOff := magicOff - 2
	if lenOff < 0 {
		return 0, ProfileMetadata{}, ErrShortBuffer
	}
	metaLen := int(binary.LittleEndian.Uint16(data[lenOff:magicOff]))
	metaOff := lenOff - metaLen
	if metaOff < 0 {
		return 0, ProfileMetadata{}, ErrShortBuffer
	}
	meta, err := DecodeMetadata(data[metaOff:lenOff])
	if err != nil {
		return 0, ProfileMetadata{}, err
	}
	return int64(metaOff), meta, nil
}

// NextEvent returns the next event and true, or false at the end of
// the event region.
func (s *Streamer) NextEvent() (Event, bool, error) {
	if s.cursor >= s.eventEnd {
		return Event{}, false, nil
	}
	if s.cursor+2 > s.eventEnd {
		return Event{}, false, ErrShortBuffer
	}
	n := int64(binary.LittleEndian.Uint16(s.data[s.cursor : s.cursor+2]))
	payloadStart := s.cursor + 2
	payloadEnd := payloadStart + n
	if payloadEnd > s.eventEnd {
		return Event{}, false, ErrShortBuffer
	}
	e, err := DecodeEvent(s.data[payloadStart:payloadEnd])
	if err != nil {
		return Event{}, false, err
	}
	s.cursor = payloadEnd
	return e, true, nil
}

// Reset returns the cursor to the start of the event region.
func (s *Streamer) Reset() {
	s.cursor = 0
}
