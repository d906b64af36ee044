package replay

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/internal/optionals"
	"github.com/cachetrace/memprofile/profile"
)

// startFakeMemcached runs a minimal in-process server that acknowledges
// every request with a fixed "STORED\r\n" line, consuming set/ms value
// bodies so the connection stays in sync. It exists purely to give
// Client/ConnectionTask a live peer without a real memcached.
func startFakeMemcached(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func serveFakeConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "set" || fields[0] == "ms" {
			var sizeTok string
			if fields[0] == "set" && len(fields) >= 5 {
				sizeTok = fields[4]
			} else if fields[0] == "ms" && len(fields) >= 3 {
				sizeTok = fields[2]
			}
			if n, err := strconv.Atoi(sizeTok); err == nil {
				body := make([]byte, n+2)
				if _, err := readFull(r, body); err != nil {
					return
				}
			}
		}
		if _, err := conn.Write([]byte("STORED\r\n")); err != nil {
			return
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func buildProfileEvents(n int, conns int) []profile.Event {
	events := make([]profile.Event, 0, n)
	for i := 0; i < n; i++ {
		connID := uint16(i%conns + 1)
		if i%3 == 0 {
			events = append(events, profile.Event{
				Timestamp: uint64(i), ConnID: connID, CmdType: profile.Set,
				KeyHash: uint64(i), KeySize: 4, ValueSize: optionals.Some[uint32](8),
			})
		} else {
			events = append(events, profile.Event{
				Timestamp: uint64(i), ConnID: connID, CmdType: profile.Get,
				KeyHash: uint64(i), KeySize: 4,
			})
		}
	}
	return events
}

func TestRunner_CancellationDrainsAllConnections(t *testing.T) {
	addr, stop := startFakeMemcached(t)
	defer stop()

	path := writeTestProfile(t, buildProfileEvents(300, 4))

	loop, err := ParseLoopMode("infinite")
	require.NoError(t, err)

	runner := NewRunner(Config{
		ProfilePath: path,
		Target:      addr,
		Mode:        Ascii,
		Loop:        loop,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var agg *AggregatedStats
	go func() {
		defer close(done)
		agg, _ = runner.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not terminate within 2s of cancellation")
	}

	require.NotNil(t, agg)
	require.Greater(t, agg.TotalOperations(), uint64(0))
}

func TestRunner_OnceCompletesProfileExactly(t *testing.T) {
	addr, stop := startFakeMemcached(t)
	defer stop()

	path := writeTestProfile(t, buildProfileEvents(9, 3))

	runner := NewRunner(Config{
		ProfilePath: path,
		Target:      addr,
		Mode:        Meta,
		Loop:        Once(),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agg, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), agg.TotalOperations())
}
