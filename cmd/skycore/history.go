package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ID-Robots/skycore/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past clone and flash runs",
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg := loadConfig()

	ledger, err := history.New(cfg.HistoryDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening run history: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	runs, err := ledger.Recent(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying run history: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return
	}

	fmt.Printf("%-8s %-10s %-16s %-10s %-20s %s\n", "OP", "STATUS", "DEVICE", "WHEN", "DETAIL", "ERROR")
	for _, r := range runs {
		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		fmt.Printf("%-8s %-10s %-16s %-10s %-20s %s\n",
			r.Operation, r.Status, r.Device,
			humanize.Time(r.StartedAt), r.Detail, errMsg)
	}
}
