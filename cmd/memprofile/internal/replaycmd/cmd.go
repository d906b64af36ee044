// Package replaycmd wires the "replay" subcommand: stream a recorded
// profile back against a live target server and report latency stats.
package replaycmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/replay"
)

var (
	profileFlag string
	targetFlag  string
	modeFlag    string
	loopFlag    string
	jsonOutFlag string
)

// New builds the "replay" cobra.Command. newLogger is deferred to RunE
// so the logger picks up flags (e.g. --verbose) parsed by cobra.
func New(newLogger func() *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "replay",
		Short:        "Replay a recorded profile against a target memcached server.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(newLogger())
		},
	}

	cmd.Flags().StringVar(&profileFlag, "profile", "", "recorded profile path (required)")
	cmd.Flags().StringVar(&targetFlag, "target", "127.0.0.1:11211", "target server address")
	cmd.Flags().StringVar(&modeFlag, "mode", "meta", "protocol mode: ascii or meta")
	cmd.Flags().StringVar(&loopFlag, "loop", "once", "loop mode: once, times:N, or infinite")
	cmd.Flags().StringVar(&jsonOutFlag, "json-out", "", "write JSON stats export to this path instead of stdout")
	cmd.MarkFlagRequired("profile")

	return cmd
}

func run(logger *zap.Logger) error {
	defer logger.Sync()

	mode, err := replay.ParseProtocolMode(modeFlag)
	if err != nil {
		return errors.Wrap(err, "replay")
	}
	loop, err := replay.ParseLoopMode(loopFlag)
	if err != nil {
		return errors.Wrap(err, "replay")
	}

	registry := prometheus.NewRegistry()
	runner := replay.NewRunner(replay.Config{
		ProfilePath: profileFlag,
		Target:      targetFlag,
		Mode:        mode,
		Loop:        loop,
		Registry:    registry,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("replay: received interrupt, draining in-flight work")
		cancel()
	}()

	stats, runErr := runner.Run(ctx)
	if stats == nil {
		return runErr
	}

	out, jsonErr := stats.ToJSON()
	if jsonErr != nil {
		return errors.Wrap(jsonErr, "replay: marshal stats")
	}

	if jsonOutFlag != "" {
		if err := os.WriteFile(jsonOutFlag, out, 0o644); err != nil {
			return errors.Wrap(err, "replay: write json-out")
		}
	} else {
		var pretty map[string]interface{}
		if err := json.Unmarshal(out, &pretty); err == nil {
			indented, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(indented))
		} else {
			fmt.Println(string(out))
		}
	}

	// Per spec.md §7: a non-zero process exit code is produced if any
	// task returned a non-cancellation error. context.Canceled from our
	// own interrupt handling is not such an error.
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Wrap(runErr, "replay")
	}
	return nil
}
