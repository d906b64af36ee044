package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cachetrace/memprofile/cmd/memprofile/internal/analyzecmd"
	"github.com/cachetrace/memprofile/cmd/memprofile/internal/recordcmd"
	"github.com/cachetrace/memprofile/cmd/memprofile/internal/replaycmd"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "memprofile",
	Short:         "Record and replay anonymized memcached traffic profiles.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newLogger() *zap.Logger {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		// zap's own config construction failing is unrecoverable; there is
		// no logger yet to report it through.
		fmt.Fprintln(os.Stderr, "memprofile: building logger:", err)
		os.Exit(1)
	}
	return logger
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.AddCommand(recordcmd.New(newLogger))
	rootCmd.AddCommand(replaycmd.New(newLogger))
	rootCmd.AddCommand(analyzecmd.New())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "memprofile:", err)
		os.Exit(1)
	}
}
