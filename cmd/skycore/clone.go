package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ID-Robots/skycore/internal/clone"
	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/history"
)

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Back up a device's partitions to image files",
	Long: `Clone snapshots the partition table of a source device and images
every partition into an output directory, optionally compressed and
bundled into a single archive.

The partition table snapshot is written before any partition image, so a
restore can always reconstruct the layout even if imaging fails partway.`,
	Run: runClone,
}

func init() {
	cloneCmd.Flags().String("source", "", "source block device (e.g. /dev/nvme0n1)")
	cloneCmd.Flags().Bool("compress", false, "compress partition images (lz4, falling back to gzip)")
	cloneCmd.Flags().String("output", "", "output directory (default from config)")
	cloneCmd.Flags().String("archive", "", "bundle the backup into <name>.tar.gz")
	_ = cloneCmd.MarkFlagRequired("source")
}

func runClone(cmd *cobra.Command, args []string) {
	source, _ := cmd.Flags().GetString("source")
	compress, _ := cmd.Flags().GetBool("compress")
	output, _ := cmd.Flags().GetString("output")
	archiveName, _ := cmd.Flags().GetString("archive")

	cfg := loadConfig()
	requireRoot()

	if output == "" {
		output = cfg.Backup.OutputDir
	}

	log := newLogger()
	runner := clone.New(confirmPolicy(), log)

	ledger := openLedger(cfg.HistoryDB)
	runID := ""
	if ledger != nil {
		defer ledger.Close()
		runID, _ = ledger.Begin(history.OpClone, source, output)
	}

	res, err := runner.Run(context.Background(), clone.Options{
		Source:      source,
		OutputDir:   output,
		Prefix:      cfg.Backup.ImagePrefix,
		Compress:    compress,
		ArchiveName: archiveName,
	})
	recordOutcome(ledger, runID, err)
	exitOnError(err, nil)

	fmt.Printf("Cloned %d partitions from %s\n", len(res.Images), source)
	fmt.Printf("  Partition table: %s\n", res.SnapshotPath)
	for _, img := range res.Images {
		fmt.Printf("  Image:           %s\n", img)
	}
	fmt.Printf("  Manifest:        %s\n", res.ManifestPath)
	if res.ArchivePath != "" {
		fmt.Printf("  Archive:         %s\n", res.ArchivePath)
	}
}

// openLedger opens the run history database. The ledger is bookkeeping; a
// failure to open it must never block a backup, so it only warns.
func openLedger(path string) *history.DB {
	db, err := history.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		return nil
	}
	return db
}

// recordOutcome finishes the ledger entry for a run.
func recordOutcome(ledger *history.DB, runID string, err error) {
	if ledger == nil || runID == "" {
		return
	}

	status := history.StatusSuccess
	msg := ""
	switch {
	case errors.Is(err, errdefs.ErrCancelled):
		status = history.StatusCancelled
	case err != nil:
		status = history.StatusFailed
		msg = err.Error()
	}
	_ = ledger.Finish(runID, status, msg)
}
