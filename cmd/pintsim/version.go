package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version has no release pipeline behind it; pintsim is a teaching
// exercise, not a shipped binary, so this is a fixed development tag.
const version = "0.1.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pintsim version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("pintsim", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
