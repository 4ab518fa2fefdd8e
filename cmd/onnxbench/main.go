// Command onnxbench trains a classifier with Born, exports it to ONNX, reloads
// it in Born's ONNX runtime and benchmarks inference over a grid of
// training configurations.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Set by the linker.
var (
	Version = "dev"
	Commit  = "none"
)

// errAllFailed makes the process exit non-zero when no grid point succeeded.
var errAllFailed = errors.New("every grid point failed")

type globalFlags struct {
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "onnxbench",
		Short: "Benchmark Born models through an ONNX export round trip",
		Long: `onnxbench trains an image classifier with the Born ML framework, exports it
to ONNX, loads the exported file into Born's ONNX runtime and measures inference
latency, throughput and accuracy for every epochs x batch size configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newRunCmd(g),
		newInfoCmd(g),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

// newLogger builds the process logger. Logs go to w, which is stderr in
// production so they do not mix with reports on stdout.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "onnxbench %s (%s)\n", Version, Commit)
		},
	}
}
