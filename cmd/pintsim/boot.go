package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pintsim/kernel/process"
)

var bootCmd = &cobra.Command{
	Use:   "boot [name]",
	Short: "Start the kernel with the current config and run one init process to completion",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "init"
		if len(args) == 1 {
			name = args[0]
		}
		return bootOnly(name)
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)
}

func bootOnly(name string) error {
	k, err := process.NewKernel(bootConfig.FramePoolPages, bootConfig.SwapSectors, bootConfig.SwapDiskPath)
	if err != nil {
		return err
	}
	defer k.Close()

	if err := ensureStub(k, name); err != nil {
		return err
	}

	fmt.Printf("booted: %d frame-pool pages, %d swap sectors\n", bootConfig.FramePoolPages, bootConfig.SwapSectors)

	proc := k.CreateInit(name, nil)
	k.Sched.Run()

	fmt.Printf("%s exited with status %d\n", name, proc.ExitStatus)
	return nil
}
