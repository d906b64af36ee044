package replay

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/profile"
)

// Config configures one replay run.
type Config struct {
	ProfilePath string
	Target      string
	Mode        ProtocolMode
	Loop        LoopMode
	Registry    *prometheus.Registry // optional Prometheus side channel
}

// Runner orchestrates the full replay pipeline: dispatcher, N
// connection tasks, and the stats aggregator, mirroring the phases of
// original_source/src/replay/main.rs.
type Runner struct {
	cfg    Config
	logger *zap.Logger
	runID  xid.ID
}

// NewRunner builds a Runner for cfg.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger, runID: xid.New()}
}

// Run executes one replay end to end and returns the final
// AggregatedStats. ctx's cancellation is the single process-wide
// cooperative signal spec.md §4.10 describes. When a finite
// (Once/Times) loop exhausts the profile no cancellation is fired: the
// dispatcher closes every queue, and the connection tasks return once
// they have drained theirs.
func (r *Runner) Run(ctx context.Context) (*AggregatedStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.logger.Info("replay starting",
		zap.String("run_id", r.runID.String()),
		zap.String("profile", r.cfg.ProfilePath),
		zap.String("target", r.cfg.Target),
		zap.String("mode", r.cfg.Mode.String()),
		zap.String("loop", r.cfg.Loop.String()))

	dispatcher, readQueues, err := NewDispatcher(r.cfg.ProfilePath, r.cfg.Loop, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Info("discovered connections", zap.Int("count", len(readQueues)))

	statsCh := make(chan StatsSnapshot, QueueCapacity)
	aggregator := NewAggregator(statsCh, r.logger, r.cfg.Registry)

	var aggWG sync.WaitGroup
	var aggResult *AggregatedStats
	aggWG.Add(1)
	go func() {
		defer aggWG.Done()
		aggResult = aggregator.Run(ctx)
	}()

	var connWG sync.WaitGroup
	errs := make(chan error, len(readQueues))
	for connID, events := range readQueues {
		connID, events := connID, events
		task := NewConnectionTask(connID, r.cfg.Target, r.cfg.Mode, events, statsCh, r.logger)
		connWG.Add(1)
		go func() {
			defer connWG.Done()
			if err := task.Run(ctx); err != nil {
				errs <- errors.Wrapf(err, "replay: connection %d", connID)
			}
		}()
	}

	dispatchErr := dispatcher.Run(ctx)

	connWG.Wait()
	close(statsCh)
	aggWG.Wait()
	close(errs)

	var firstConnErr error
	for e := range errs {
		if firstConnErr == nil {
			firstConnErr = e
		}
		r.logger.Warn("connection task returned an error", zap.Error(e))
	}

	if dispatchErr != nil {
		return aggResult, dispatchErr
	}

	r.logger.Info("replay complete",
		zap.String("run_id", r.runID.String()),
		zap.Float64("elapsed_secs", aggResult.ElapsedSecs()),
		zap.Uint64("total_operations", aggResult.TotalOperations()),
		zap.Float64("throughput", aggResult.Throughput()))

	for _, cmd := range profile.AllCommandTypes() {
		if p50, ok := aggResult.Percentile(cmd, 50); ok {
			p95, _ := aggResult.Percentile(cmd, 95)
			p99, _ := aggResult.Percentile(cmd, 99)
			r.logger.Info("command latency",
				zap.String("command", cmd.String()),
				zap.Int64("p50_micros", p50),
				zap.Int64("p95_micros", p95),
				zap.Int64("p99_micros", p99))
		}
	}

	// A non-cancellation connection error is surfaced but does not
	// overwrite the aggregated stats already collected (spec.md §7:
	// "a non-zero process exit code is produced if any task returned a
	// non-cancellation error" — the exit-code decision belongs to the
	// caller, e.g. cmd/memprofile).
	return aggResult, firstConnErr
}
