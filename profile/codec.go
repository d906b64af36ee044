package profile

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cachetrace/memprofile/internal/optionals"
)

// ErrShortBuffer is returned by the decode helpers when buf does not
// hold a full record.
var ErrShortBuffer = errors.New("profile: short buffer")

// ErrBadMagic is returned when a profile's trailing four bytes do not
// match ProfileMagic.
var ErrBadMagic = errors.New("profile: bad magic")

// eventPayloadSize is the fixed encoded size of one Event under schema
// version 2: u64 timestamp, u16 conn_id, u8 cmd_type, u8 flags, u64
// key_hash, u32 key_size, u32 value_size (0 means absent).
const eventPayloadSize = 8 + 2 + 1 + 1 + 8 + 4 + 4

// EncodeEvent appends e's schema-version-2 wire encoding to dst and
// returns the extended slice. eventPayloadSize is a compile-time
// constant (28 bytes), always well under the u16 length-prefix range
// spec.md §4.5 mandates, so there is no variable-length overflow case
// to guard against here.
func EncodeEvent(dst []byte, e Event) ([]byte, error) {
	var buf [eventPayloadSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.Timestamp)
	binary.LittleEndian.PutUint16(buf[8:10], e.ConnID)
	buf[10] = byte(e.CmdType)
	buf[11] = byte(e.Flags)
	binary.LittleEndian.PutUint64(buf[12:20], e.KeyHash)
	binary.LittleEndian.PutUint32(buf[20:24], e.KeySize)
	binary.LittleEndian.PutUint32(buf[24:28], e.ValueSize.GetOrDefault(0))

	var lenPrefix [2]byte
	binary.LittleEndian.PutUint16(lenPrefix[:], uint16(len(buf)))
	dst = append(dst, lenPrefix[:]...)
	dst = append(dst, buf[:]...)
	return dst, nil
}

// DecodeEvent decodes one schema-version-2 event payload (without its
// length prefix) from buf.
func DecodeEvent(buf []byte) (Event, error) {
	if len(buf) < eventPayloadSize {
		return Event{}, ErrShortBuffer
	}
	var e Event
	e.Timestamp = binary.LittleEndian.Uint64(buf[0:8])
	e.ConnID = binary.LittleEndian.Uint16(buf[8:10])
	e.CmdType = CommandType(buf[10])
	e.Flags = Flags(buf[11])
	e.KeyHash = binary.LittleEndian.Uint64(buf[12:20])
	e.KeySize = binary.LittleEndian.Uint32(buf[20:24])
	if vs := binary.LittleEndian.Uint32(buf[24:28]); vs != 0 {
		e.ValueSize = optionals.Some(vs)
	}
	return e, nil
}

// EncodeMetadata appends m's encoding to dst. The layout is a small
// fixed header followed by one (CommandType, count) pair per non-zero
// distribution entry, in AllCommandTypes order, so decoding needs no
// separate length for the map.
func EncodeMetadata(dst []byte, m ProfileMetadata) []byte {
	var head [1 + 8 + 4 + 8 + 8 + 1]byte
	head[0] = m.Version
	binary.LittleEndian.PutUint64(head[1:9], m.TotalEvents)
	binary.LittleEndian.PutUint32(head[9:13], m.UniqueConnections)
	binary.LittleEndian.PutUint64(head[13:21], m.FirstTimestamp)
	binary.LittleEndian.PutUint64(head[21:29], m.LastTimestamp)
	head[29] = uint8(len(m.CommandDistribution))
	dst = append(dst, head[:]...)

	for _, cmd := range AllCommandTypes() {
		count, ok := m.CommandDistribution[cmd]
		if !ok {
			continue
		}
		var entry [1 + 8]byte
		entry[0] = byte(cmd)
		binary.LittleEndian.PutUint64(entry[1:9], count)
		dst = append(dst, entry[:]...)
	}
	return dst
}

// DecodeMetadata decodes a ProfileMetadata payload (the M bytes found
// by the trailer-reader algorithm, not including its own length prefix
// or the magic).
func DecodeMetadata(buf []byte) (ProfileMetadata, error) {
	const headLen = 1 + 8 + 4 + 8 + 8 + 1
	if len(buf) < headLen {
		return ProfileMetadata{}, ErrShortBuffer
	}
	m := ProfileMetadata{Magic: ProfileMagic}
	m.Version = buf[0]
	m.TotalEvents = binary.LittleEndian.Uint64(buf[1:9])
	m.UniqueConnections = binary.LittleEndian.Uint32(buf[9:13])
	m.FirstTimestamp = binary.LittleEndian.Uint64(buf[13:21])
	m.LastTimestamp = binary.LittleEndian.Uint64(buf[21:29])
	n := int(buf[29])

	m.CommandDistribution = make(map[CommandType]uint64, n)
	off := headLen
	for i := 0; i < n; i++ {
		if off+9 > len(buf) {
			return ProfileMetadata{}, ErrShortBuffer
		}
		cmd := CommandType(buf[off])
		count := binary.LittleEndian.Uint64(buf[off+1 : off+9])
		m.CommandDistribution[cmd] = count
		off += 9
	}
	return m, nil
}
