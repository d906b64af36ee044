package replay

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/cachetrace/memprofile/internal/memview"
	"github.com/cachetrace/memprofile/profile"
	"github.com/cachetrace/memprofile/record"
)

// fillerByte is used to synthesize deterministic value bodies; see
// BuildValueFiller.
const fillerByte = 'x'

// Client owns one TCP connection to the replay target: command
// serialization, request write, response read (spec.md §4.8).
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	mode   ProtocolMode
}

// Dial opens a connection to target.
func Dial(ctx context.Context, target string, mode ProtocolMode) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrap(err, "replay: dial target")
	}
	return &Client{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024), mode: mode}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SetDeadline applies a read/write deadline for the next operation,
// letting callers layer a bounded read wait on the socket (spec.md
// §5: "the design allows layering a bounded read wait").
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// BuildCommand serializes e into the wire bytes for a single request,
// reconstructing key (and, for Set, value) bytes deterministically
// from the recorded key_hash/key_size/value_size (spec.md §4.8).
func (c *Client) BuildCommand(e profile.Event) []byte {
	key := record.FormatReplayKey(e.KeyHash, e.KeySize)

	switch c.mode {
	case Meta:
		return buildMetaCommand(e, key)
	default:
		return buildAsciiCommand(e, key)
	}
}

func buildAsciiCommand(e profile.Event, key []byte) []byte {
	switch e.CmdType {
	case profile.Get:
		return concatLine("get ", key)
	case profile.Delete:
		return concatLine("delete ", key)
	case profile.Noop:
		return []byte("version\r\n")
	case profile.Set:
		size, _ := e.ValueSize.Get()
		value := BuildValueFiller(e.KeyHash, size)
		head := concatLine("set ", key, " 0 0 ", itoa(size))
		buf := make([]byte, 0, len(head)+len(value)+2)
		buf = append(buf, head...)
		buf = append(buf, value...)
		buf = append(buf, '\r', '\n')
		return buf
	default:
		return []byte("version\r\n")
	}
}

func buildMetaCommand(e profile.Event, key []byte) []byte {
	switch e.CmdType {
	case profile.Get:
		return concatLine("mg ", key, " v")
	case profile.Delete:
		return concatLine("md ", key)
	case profile.Noop:
		return []byte("mn\r\n")
	case profile.Set:
		size, _ := e.ValueSize.Get()
		value := BuildValueFiller(e.KeyHash, size)
		head := concatLine("ms ", key, " ", itoa(size))
		buf := make([]byte, 0, len(head)+len(value)+2)
		buf = append(buf, head...)
		buf = append(buf, value...)
		buf = append(buf, '\r', '\n')
		return buf
	default:
		return []byte("mn\r\n")
	}
}

// BuildValueFiller synthesizes a deterministic value body of size n,
// seeded from keyHash so replays of the same profile always send
// byte-identical traffic (see DESIGN.md Open Question on value
// fillers).
func BuildValueFiller(keyHash uint64, size uint32) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(keyHash>>(uint(i%8)*8)) ^ fillerByte
	}
	return out
}

func concatLine(parts ...interface{}) []byte {
	var buf []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			buf = append(buf, v...)
		case []byte:
			buf = append(buf, v...)
		}
	}
	return append(buf, '\r', '\n')
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var tmp [10]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return string(tmp[i:])
}

// Response is the decoded result of one request/response round trip.
type Response struct {
	Outcome record.ResponseOutcome
}

// WriteRequest writes cmd to the connection. A failure here is a write
// failure (spec.md §7's ConnectionError kind): the caller should record
// it distinctly from a ReadResponse failure and terminate the owning
// task, mirroring original_source/src/replay/connection_task.rs, which
// issues send_command and read_response as two separately-erroring
// steps rather than one collapsed Result.
func (c *Client) WriteRequest(cmd []byte) error {
	if _, err := c.conn.Write(cmd); err != nil {
		return errors.Wrap(err, "replay: write request")
	}
	return nil
}

// ReadResponse reads and decodes one response line (and, for VA
// responses, its value body). A failure here is a read/framing failure
// (spec.md §7's ProtocolError kind), distinct from a WriteRequest
// failure.
func (c *Client) ReadResponse() (Response, error) {
	line, err := c.reader.ReadSlice('\n')
	if err != nil {
		return Response{}, errors.Wrap(err, "replay: read response")
	}
	view := memview.New(line)
	resp, _, err := record.ParseResponse(view)
	if err != nil {
		// Response carries a value body the first ReadSlice didn't
		// capture in full (e.g. `VA <n>`); re-read until the parser is
		// satisfied by feeding it progressively more buffered bytes.
		full := append([]byte(nil), line...)
		for errors.Is(err, record.ErrIncomplete) {
			more, rerr := c.reader.ReadSlice('\n')
			if rerr != nil {
				return Response{}, errors.Wrap(rerr, "replay: read response body")
			}
			full = append(full, more...)
			resp, _, err = record.ParseResponse(memview.New(full))
		}
		if err != nil {
			return Response{}, errors.Wrap(err, "replay: parse response")
		}
	}
	return Response{Outcome: resp.Outcome}, nil
}

// Send writes cmd and reads its response as one round trip, reporting
// elapsed time for the caller's latency histogram. It wraps
// WriteRequest/ReadResponse for callers that don't need to classify
// which phase failed; ConnectionTask.processOne calls the two methods
// directly instead, since it does need that distinction.
func (c *Client) Send(cmd []byte) (Response, time.Duration, error) {
	start := time.Now()
	if err := c.WriteRequest(cmd); err != nil {
		return Response{}, time.Since(start), err
	}
	resp, err := c.ReadResponse()
	return resp, time.Since(start), err
}
