package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/profile"
)

// snapshotInterval matches original_source/src/replay/connection_task.rs's
// 2-second periodic snapshot tick (spec.md §4.8).
const snapshotInterval = 2 * time.Second

// ConnectionTask drains one conn_id's event queue against a single
// target connection, in profile order (spec.md §4.8, §5).
type ConnectionTask struct {
	connID  uint16
	target  string
	mode    ProtocolMode
	events  <-chan profile.Event
	statsTx chan<- StatsSnapshot
	logger  *zap.Logger
}

// NewConnectionTask builds a task for one connection.
func NewConnectionTask(connID uint16, target string, mode ProtocolMode,
	events <-chan profile.Event, statsTx chan<- StatsSnapshot, logger *zap.Logger) *ConnectionTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionTask{
		connID:  connID,
		target:  target,
		mode:    mode,
		events:  events,
		statsTx: statsTx,
		logger:  logger,
	}
}

// Run connects to the target and processes events until the queue
// closes or ctx is cancelled, emitting periodic and final snapshots.
// Cancellation is advisory: an in-flight command is allowed to
// complete before the task checks for exit (spec.md §4.10).
func (t *ConnectionTask) Run(ctx context.Context) error {
	client, err := Dial(ctx, t.target, t.mode)
	if err != nil {
		return err
	}
	defer client.Close()

	stats := NewConnectionStats(t.connID)
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	// The final snapshot is sent even after cancellation: the aggregator
	// keeps receiving until every connection task has returned.
	defer func() {
		t.statsTx <- stats.Snapshot()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, more := <-t.events:
			if !more {
				t.logger.Debug("connection queue closed", zap.Uint16("conn_id", t.connID))
				return nil
			}
			if err := t.processOne(client, stats, e); err != nil {
				// spec.md §4.8/§7: a write or read failure terminates the
				// owning connection task only; other tasks continue.
				return err
			}

		case <-ticker.C:
			select {
			case t.statsTx <- stats.Snapshot():
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (t *ConnectionTask) processOne(client *Client, stats *ConnectionStats, e profile.Event) error {
	cmd := client.BuildCommand(e)
	start := time.Now()

	// spec.md §7 and original_source/src/replay/connection_task.rs's
	// send_command/read_response split: a write failure is a
	// ConnectionError, a read/framing failure is a ProtocolError. The
	// two phases are distinguished explicitly rather than collapsed
	// into one classification.
	if err := client.WriteRequest(cmd); err != nil {
		stats.RecordError(ErrKindConnectionError)
		t.logger.Warn("connection task write failed",
			zap.Uint16("conn_id", t.connID), zap.Error(err))
		return err
	}

	_, err := client.ReadResponse()
	if err != nil {
		stats.RecordError(ErrKindProtocolError)
		t.logger.Warn("connection task read failed",
			zap.Uint16("conn_id", t.connID), zap.Error(err))
		return err
	}

	stats.RecordSuccess(e.CmdType, time.Since(start))
	return nil
}
