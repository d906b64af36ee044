// Package recordcmd wires the "record" subcommand: capture traffic
// from a live interface or an existing pcap file into a profile.
package recordcmd

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/profile"
	"github.com/cachetrace/memprofile/record"
)

var (
	ifaceFlag string
	pcapFlag  string
	outFlag   string
	portFlag  uint16
	bpfFlag   string
	saltFlag  uint64
)

// New builds the "record" cobra.Command. newLogger is deferred to
// RunE so the logger picks up flags (e.g. --verbose) parsed by cobra.
func New(newLogger func() *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "record",
		Short:        "Capture memcached traffic into an anonymized profile.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(newLogger())
		},
	}

	cmd.Flags().StringVar(&ifaceFlag, "interface", "", "live network interface to capture from")
	cmd.Flags().StringVar(&pcapFlag, "pcap", "", "existing pcap/pcapng file to read instead of a live interface")
	cmd.Flags().StringVar(&outFlag, "out", "profile.mprof", "output profile path")
	cmd.Flags().Uint16Var(&portFlag, "port", 11211, "memcached port to filter for")
	cmd.Flags().StringVar(&bpfFlag, "bpf", "", "override BPF filter (default: tcp port <--port>)")
	cmd.Flags().Uint64Var(&saltFlag, "salt", 0, "anonymizer salt (0 picks a random one)")

	return cmd
}

func run(logger *zap.Logger) error {
	defer logger.Sync()

	if ifaceFlag == "" && pcapFlag == "" {
		return errors.New("record: exactly one of --interface or --pcap is required")
	}
	if ifaceFlag != "" && pcapFlag != "" {
		return errors.New("record: --interface and --pcap are mutually exclusive")
	}

	bpf := bpfFlag
	if bpf == "" {
		bpf = record.DefaultBPFFilter(portFlag)
	}

	var source record.PacketSource
	if pcapFlag != "" {
		source = record.NewFileSource(pcapFlag, bpf)
	} else {
		source = record.NewLiveSource(ifaceFlag, bpf)
	}

	writer, err := profile.Create(outFlag)
	if err != nil {
		return errors.Wrap(err, "record: open output profile")
	}

	salt := saltFlag
	if salt == 0 {
		salt = rand.Uint64()
	}

	recorder := record.NewRecorder(source, writer, logger,
		record.WithPort(portFlag),
		record.WithSalt(salt))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("record: received interrupt, finalizing profile")
		cancel()
	}()

	return recorder.Run(ctx)
}
