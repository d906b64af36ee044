// Package memview holds byte spans without copying them.
//
// A MemView is conceptually a [][]byte with helpers that make it behave like
// a contiguous []byte. The protocol parser in package record builds key and
// value ranges as MemViews into the reassembled stream buffer, so extracting
// a key never copies the bytes it points at.
package memview

import (
	"bytes"
	"io"
)

// MemView is a view over one or more byte slices. The zero value is an empty
// view ready to use. Copying a MemView is shallow: the copy shares the
// underlying bytes with the original.
type MemView struct {
	buf    [][]byte
	length int64
}

// New wraps data without copying it. The caller must not mutate data while
// the returned MemView (or any view derived from it) is in use.
func New(data []byte) MemView {
	if len(data) == 0 {
		return MemView{}
	}
	return MemView{buf: [][]byte{data}, length: int64(len(data))}
}

// Append adds src's segments after this view's existing segments.
func (mv *MemView) Append(src MemView) {
	mv.buf = append(mv.buf, src.buf...)
	mv.length += src.length
}

// Clear empties the view without releasing the backing slice capacity.
func (mv *MemView) Clear() {
	mv.buf = mv.buf[:0]
	mv.length = 0
}

// Len returns the number of bytes the view covers.
func (mv MemView) Len() int64 {
	return mv.length
}

// SubView returns mv[start:end) as a new view sharing the original storage.
// Returns an empty view for an invalid or out-of-range span.
func (mv MemView) SubView(start, end int64) MemView {
	if start < 0 || start >= end || end > mv.length {
		return MemView{}
	}

	startBuf, startOffset := -1, 0
	endBuf, endOffset := -1, 0
	var n int64
	for i, b := range mv.buf {
		lb := int64(len(b))
		if startBuf == -1 && n+lb > start {
			startBuf = i
			startOffset = int(start - n)
		}
		if endBuf == -1 && n+lb >= end {
			endBuf = i
			endOffset = int(end - n)
			break
		}
		n += lb
	}
	if startBuf == -1 || endBuf == -1 {
		return MemView{}
	}

	newBuf := make([][]byte, endBuf+1-startBuf)
	copy(newBuf, mv.buf[startBuf:endBuf+1])
	out := MemView{buf: newBuf, length: end - start}
	if len(out.buf) == 1 {
		out.buf[0] = out.buf[0][startOffset:endOffset]
	} else {
		out.buf[0] = out.buf[0][startOffset:]
		out.buf[len(out.buf)-1] = out.buf[len(out.buf)-1][:endOffset]
	}
	return out
}

// Index returns the offset of the first occurrence of sep at or after start,
// or -1 if sep does not appear. Segment boundaries are handled transparently.
//
// Like the teacher's implementation, this does not special-case needles with
// a repeated prefix; the parser only searches for CRLF and single space
// bytes, neither of which repeats internally.
func (mv MemView) Index(start int64, sep []byte) int64 {
	if len(sep) == 0 {
		return start
	}

	startBuf, startOffset := -1, 0
	var currIndex int64
	for i, b := range mv.buf {
		lb := int64(len(b))
		if currIndex+lb-1 < start {
			currIndex += lb
			continue
		}
		startBuf = i
		startOffset = int(start - currIndex)
		currIndex += int64(startOffset)
		break
	}
	if startBuf == -1 {
		return -1
	}

	for b := startBuf; b < len(mv.buf); b++ {
		haystack := mv.buf[b]
		if b == startBuf {
			haystack = haystack[startOffset:]
		}
		if idx := bytes.Index(haystack, sep); idx != -1 {
			return currIndex + int64(idx)
		}
		currIndex += int64(len(haystack))

		// A match straddling two segments only matters for multi-byte
		// needles; check the joined tail/head explicitly.
		if b+1 < len(mv.buf) && len(sep) > 1 {
			tailLen := len(sep) - 1
			if tailLen > len(haystack) {
				tailLen = len(haystack)
			}
			joined := append(append([]byte{}, haystack[len(haystack)-tailLen:]...), mv.buf[b+1]...)
			if idx := bytes.Index(joined, sep); idx != -1 && idx < tailLen {
				return currIndex - int64(tailLen) + int64(idx)
			}
		}
	}
	return -1
}

// Bytes returns a copy of the view's contents as a contiguous slice.
func (mv MemView) Bytes() []byte {
	if mv.length == 0 {
		return nil
	}
	if len(mv.buf) == 1 {
		out := make([]byte, len(mv.buf[0]))
		copy(out, mv.buf[0])
		return out
	}
	out := make([]byte, 0, mv.length)
	for _, b := range mv.buf {
		out = append(out, b...)
	}
	return out
}

// String copies the view's contents into a string.
func (mv MemView) String() string {
	return string(mv.Bytes())
}

// Equal reports whether two views cover byte-identical content.
func (left MemView) Equal(right MemView) bool {
	if left.length != right.length {
		return false
	}
	return bytes.Equal(left.Bytes(), right.Bytes())
}

// WriteTo copies the view's contents to w, satisfying io.WriterTo.
func (mv MemView) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, b := range mv.buf {
		n, err := w.Write(b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
