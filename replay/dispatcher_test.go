package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachetrace/memprofile/internal/optionals"
	"github.com/cachetrace/memprofile/profile"
)

func writeTestProfile(t *testing.T, events []profile.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatch.mprof")
	w, err := profile.Create(path)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, w.WriteEvent(e))
	}
	_, err = w.Finalize()
	require.NoError(t, err)
	return path
}

func TestDispatcher_RoutesByConnID(t *testing.T) {
	path := writeTestProfile(t, []profile.Event{
		{Timestamp: 1, ConnID: 1, CmdType: profile.Get, KeyHash: 1, KeySize: 3},
		{Timestamp: 2, ConnID: 2, CmdType: profile.Get, KeyHash: 2, KeySize: 3},
		{Timestamp: 3, ConnID: 1, CmdType: profile.Set, KeyHash: 1, KeySize: 3, ValueSize: optionals.Some[uint32](10)},
	})

	d, queues, err := NewDispatcher(path, ParseLoopMustOnce(t), nil)
	require.NoError(t, err)
	require.Len(t, queues, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	conn1 := drainEvents(t, queues[1])
	conn2 := drainEvents(t, queues[2])

	require.NoError(t, <-errCh)

	require.Len(t, conn1, 2)
	require.Equal(t, profile.Get, conn1[0].CmdType)
	require.Equal(t, profile.Set, conn1[1].CmdType)

	require.Len(t, conn2, 1)
	require.Equal(t, profile.Get, conn2[0].CmdType)
}

func TestDispatcher_ClosesAllQueuesOnCompletion(t *testing.T) {
	path := writeTestProfile(t, []profile.Event{
		{Timestamp: 1, ConnID: 9, CmdType: profile.Noop},
	})
	d, queues, err := NewDispatcher(path, ParseLoopMustOnce(t), nil)
	require.NoError(t, err)
	require.Len(t, queues, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Run(ctx))

	evts := drainEvents(t, queues[9])
	require.Len(t, evts, 1)
	_, open := <-queues[9]
	require.False(t, open)
}

func drainEvents(t *testing.T, ch <-chan profile.Event) []profile.Event {
	t.Helper()
	var out []profile.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

// ParseLoopMustOnce is a small test helper avoiding repeated error checks.
func ParseLoopMustOnce(t *testing.T) LoopMode {
	t.Helper()
	lm, err := ParseLoopMode("once")
	require.NoError(t, err)
	return lm
}
