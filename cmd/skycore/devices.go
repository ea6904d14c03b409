package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ID-Robots/skycore/internal/inspect"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List block devices",
	Long:  `Read-only listing of the host's block devices, for picking clone sources and flash targets.`,
	Run: func(cmd *cobra.Command, args []string) {
		ins := inspect.New(newLogger())

		listing, err := ins.ListBlockDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(listing)
	},
}
