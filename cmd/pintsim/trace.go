package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pintsim/klog"
)

var traceCmd = &cobra.Command{
	Use:   "trace [name]",
	Short: "Run like `run`, forcing debug-level logging tagged with a trace session ID",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "init"
		if len(args) == 1 {
			name = args[0]
		}
		return traceRun(name)
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
}

// traceRun tags every log line with a fresh session ID so concurrent
// trace runs can be told apart, and gates output format on whether
// stdout is a terminal: a real TTY gets readable text, anything piped
// (CI, `| jq`) gets structured JSON.
func traceRun(name string) error {
	session := uuid.NewString()

	format := "json"
	if term.IsTerminal(int(os.Stdout.Fd())) {
		format = "text"
	}
	logger := klog.NewLogger(klog.Config{Level: slog.LevelDebug, Format: format, Output: os.Stderr})
	klog.SetDefault(klog.WithSession(logger, session))

	fmt.Printf("trace session %s\n", session)
	return runDemo(name)
}
