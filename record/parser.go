package record

import (
	"github.com/pkg/errors"

	"github.com/cachetrace/memprofile/internal/memview"
	"github.com/cachetrace/memprofile/internal/optionals"
	"github.com/cachetrace/memprofile/profile"
)

// ErrIncomplete means the buffer does not yet hold a full command;
// the caller should retry once more bytes arrive. It is never a hard
// error (spec.md §4.3).
var ErrIncomplete = errors.New("record: incomplete command")

// ErrMalformed means the buffer starts with an unrecognized command
// token. The caller should advance past the next CRLF and retry
// parsing from there.
var ErrMalformed = errors.New("record: malformed command")

var crlf = []byte("\r\n")

// ParsedRequest is one decoded memcached request, in either the text
// or meta dialect.
type ParsedRequest struct {
	Cmd       profile.CommandType
	Key       memview.MemView // a range into the input, never copied
	ValueSize optionals.Optional[uint32]
	Quiet     bool
	Meta      bool // true if the mg/ms/md/mn token set was used
}

// ParseRequest decodes one request from the head of input. On success
// it returns the parsed command and the unconsumed remainder (a
// sub-view of input). On ErrIncomplete or ErrMalformed, remainder's
// value is unspecified; callers handle each per spec.md §4.3 ("parse
// later" / "advance past next CRLF").
func ParseRequest(input memview.MemView) (ParsedRequest, memview.MemView, error) {
	lineEnd := input.Index(0, crlf)
	if lineEnd < 0 {
		return ParsedRequest{}, memview.MemView{}, ErrIncomplete
	}
	line := input.SubView(0, lineEnd)
	afterLine := lineEnd + 2

	token, rest := splitToken(line)
	switch token.String() {
	case "get":
		key, _ := splitToken(rest)
		return ParsedRequest{Cmd: profile.Get, Key: key}, input.SubView(afterLine, input.Len()), nil

	case "delete":
		key, _ := splitToken(rest)
		return ParsedRequest{Cmd: profile.Delete, Key: key}, input.SubView(afterLine, input.Len()), nil

	case "noop":
		return ParsedRequest{Cmd: profile.Noop}, input.SubView(afterLine, input.Len()), nil

	case "set":
		key, rest2 := splitToken(rest)
		// set <key> <flags> <exptime> <bytes> [noreply]
		_, rest3 := splitToken(rest2) // flags
		_, rest4 := splitToken(rest3) // exptime
		bytesTok, rest5 := splitToken(rest4)
		n, ok := parseUint(bytesTok)
		if !ok {
			return ParsedRequest{}, memview.MemView{}, ErrMalformed
		}
		quiet := rest5.Len() > 0 // trailing "noreply" token present
		return parseValueBody(input, afterLine, int64(n), profile.Set, key, quiet, false)

	case "mg":
		key, flagsRest := splitToken(rest)
		return ParsedRequest{Cmd: profile.Get, Key: key, Meta: true, Quiet: hasMetaFlag(flagsRest, 'q')},
			input.SubView(afterLine, input.Len()), nil

	case "md":
		key, flagsRest := splitToken(rest)
		return ParsedRequest{Cmd: profile.Delete, Key: key, Meta: true, Quiet: hasMetaFlag(flagsRest, 'q')},
			input.SubView(afterLine, input.Len()), nil

	case "mn":
		return ParsedRequest{Cmd: profile.Noop, Meta: true}, input.SubView(afterLine, input.Len()), nil

	case "ms":
		key, rest2 := splitToken(rest)
		sizeTok, flagsRest := splitToken(rest2)
		n, ok := parseUint(sizeTok)
		if !ok {
			return ParsedRequest{}, memview.MemView{}, ErrMalformed
		}
		return parseValueBody(input, afterLine, int64(n), profile.Set, key, hasMetaFlag(flagsRest, 'q'), true)

	default:
		return ParsedRequest{}, memview.MemView{}, ErrMalformed
	}
}

// parseValueBody waits for the declared value length plus its
// trailing CRLF to be fully available, per spec.md §4.3: "the parser
// must wait until value_length + 2 trailing bytes ... are available
// before returning. Insufficient bytes ⇒ Incomplete."
func parseValueBody(input memview.MemView, valueStart, valueLen int64, cmd profile.CommandType,
	key memview.MemView, quiet, meta bool) (ParsedRequest, memview.MemView, error) {
	need := valueStart + valueLen + 2
	if input.Len() < need {
		return ParsedRequest{}, memview.MemView{}, ErrIncomplete
	}
	trailer := input.SubView(valueStart+valueLen, need)
	if !trailer.Equal(memview.New(crlf)) {
		return ParsedRequest{}, memview.MemView{}, ErrMalformed
	}
	return ParsedRequest{
		Cmd:       cmd,
		Key:       key,
		ValueSize: optionals.Some(uint32(valueLen)),
		Quiet:     quiet,
		Meta:      meta,
	}, input.SubView(need, input.Len()), nil
}

// ResponseOutcome classifies a parsed response.
type ResponseOutcome uint8

const (
	RespFound ResponseOutcome = iota
	RespNotFound
	RespError
)

// ParsedResponse is a decoded memcached response line.
type ParsedResponse struct {
	Outcome   ResponseOutcome
	ValueSize uint32 // populated for RespFound
}

// ParseResponse decodes one response from the head of input, in
// either dialect (spec.md §4.3, §6): `VA <n>` → Found(n), `HD` →
// Found(0), `EN` → NotFound, `EX` → Error, plus the text-mode
// `STORED`/`NOT_FOUND`/`END` tokens.
func ParseResponse(input memview.MemView) (ParsedResponse, memview.MemView, error) {
	lineEnd := input.Index(0, crlf)
	if lineEnd < 0 {
		return ParsedResponse{}, memview.MemView{}, ErrIncomplete
	}
	line := input.SubView(0, lineEnd)
	afterLine := lineEnd + 2
	token, rest := splitToken(line)

	switch token.String() {
	case "VA":
		sizeTok, _ := splitToken(rest)
		n, ok := parseUint(sizeTok)
		if !ok {
			return ParsedResponse{}, memview.MemView{}, ErrMalformed
		}
		need := afterLine + int64(n) + 2
		if input.Len() < need {
			return ParsedResponse{}, memview.MemView{}, ErrIncomplete
		}
		return ParsedResponse{Outcome: RespFound, ValueSize: uint32(n)}, input.SubView(need, input.Len()), nil
	case "HD", "STORED":
		return ParsedResponse{Outcome: RespFound, ValueSize: 0}, input.SubView(afterLine, input.Len()), nil
	case "EN", "NOT_FOUND", "END":
		return ParsedResponse{Outcome: RespNotFound}, input.SubView(afterLine, input.Len()), nil
	case "EX":
		return ParsedResponse{Outcome: RespError}, input.SubView(afterLine, input.Len()), nil
	default:
		return ParsedResponse{}, memview.MemView{}, ErrMalformed
	}
}

// splitToken returns the next space-delimited token and the remaining
// view after the separating space (or an empty remainder view if
// there's no further space).
func splitToken(v memview.MemView) (token, rest memview.MemView) {
	idx := v.Index(0, []byte{' '})
	if idx < 0 {
		return v, memview.MemView{}
	}
	return v.SubView(0, idx), v.SubView(idx+1, v.Len())
}

func hasMetaFlag(flagsLine memview.MemView, flag byte) bool {
	b := flagsLine.Bytes()
	for i := 0; i < len(b); i++ {
		if b[i] == flag && (i == 0 || b[i-1] == ' ') {
			return true
		}
	}
	return false
}

func parseUint(v memview.MemView) (uint64, bool) {
	b := v.Bytes()
	if len(b) == 0 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
