package replay

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/profile"
)

// QueueCapacity is the bounded size of each per-connection queue
// (spec.md §5: "target: 1,000 events"). Backpressure through these
// queues paces the dispatcher to the slowest connection.
const QueueCapacity = 1000

// Dispatcher owns the profile streamer and one bounded queue per
// distinct conn_id observed in the profile (spec.md §4.7). It is the
// only writer to those queues, and closes every one of them on exit
// so connection tasks can drain and terminate.
type Dispatcher struct {
	streamer *profile.Streamer
	queues   map[uint16]chan profile.Event
	loop     LoopMode
	logger   *zap.Logger
}

// NewDispatcher pre-scans path for its distinct conn_ids (per spec.md
// §4.7, "one per distinct connection observed in the profile,
// enumerated by a pre-scan") and builds their queues.
func NewDispatcher(path string, loop LoopMode, logger *zap.Logger) (*Dispatcher, map[uint16]<-chan profile.Event, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	events, _, err := profile.ReadAll(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "replay: pre-scan profile")
	}

	queues := make(map[uint16]chan profile.Event)
	for _, e := range events {
		if _, ok := queues[e.ConnID]; !ok {
			queues[e.ConnID] = make(chan profile.Event, QueueCapacity)
		}
	}

	streamer, err := profile.OpenStreamer(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "replay: open profile")
	}

	readSide := make(map[uint16]<-chan profile.Event, len(queues))
	for id, ch := range queues {
		readSide[id] = ch
	}

	return &Dispatcher{streamer: streamer, queues: queues, loop: loop, logger: logger}, readSide, nil
}

// Run iterates the profile, routing each event to its conn_id's
// queue, honoring loop mode and cancellation (spec.md §4.7). Every
// queue is closed before Run returns, by any path.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeAll()

	for iteration := 0; iteration < d.loop.Count(); iteration++ {
		if ctx.Err() != nil {
			return nil
		}

		for {
			e, ok, err := d.streamer.NextEvent()
			if err != nil {
				return errors.Wrap(err, "replay: read event")
			}
			if !ok {
				break
			}

			q, known := d.queues[e.ConnID]
			if !known {
				d.logger.Warn("dropping event with unknown conn_id", zap.Uint16("conn_id", e.ConnID))
				continue
			}

			select {
			case q <- e:
			case <-ctx.Done():
				return nil
			}
		}

		more := iteration+1 < d.loop.Count()
		if d.loop.IsInfinite() {
			more = true
		}
		if more {
			d.streamer.Reset()
		}
	}
	return nil
}

func (d *Dispatcher) closeAll() {
	for _, q := range d.queues {
		close(q)
	}
}
