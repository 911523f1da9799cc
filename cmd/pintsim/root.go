// Command pintsim is a thin cobra shell around the simulated kernel's
// boot/exec/fork/wait lifecycle (kernel/process) and its register-
// convention syscall dispatcher (kernel/syscall). Per spec.md §6, the
// dispatcher is "included only insofar as it expresses contracts" — this
// CLI exists to drive that contract end to end for manual and demo use,
// not to interpret arbitrary user machine code. There is no instruction
// interpreter here: a "running program" is always a small scripted Go
// body, the same mechanism kernel/process/process_test.go and
// kernel/syscall/syscall_test.go use to exercise the kernel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pintsim/kconfig"
	"pintsim/klog"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	bootConfig *kconfig.BootConfig
)

var rootCmd = &cobra.Command{
	Use:           "pintsim",
	Short:         "A teaching kernel simulator: scheduler, process lifecycle, and virtual memory",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadBootConfig()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}
		klog.SetDefault(klog.NewLogger(klog.Config{
			Level:  klog.ParseLevel(cfg.LogLevel),
			Format: cfg.LogFormat,
			Output: os.Stderr,
		}))
		bootConfig = cfg
		return nil
	},
}

func loadBootConfig() (*kconfig.BootConfig, error) {
	if configPath == "" {
		return kconfig.Default(), nil
	}
	return kconfig.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a BootConfig JSON file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override the configured log format (text, json)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "pintsim:", err)
	os.Exit(1)
}
