package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ID-Robots/skycore/internal/bucket"
	"github.com/ID-Robots/skycore/internal/flash"
	"github.com/ID-Robots/skycore/internal/history"
	"github.com/ID-Robots/skycore/internal/source"
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Restore a partition image set onto a device",
	Long: `Flash restores a backup onto a target device: partition table first,
then every partition image in ascending partition order.

The image set comes from exactly one of three sources: an object-storage
bucket (--bucket with --image), a local archive file (--archive), or a
directory of already-extracted images (--input). Downloads and
extractions are cached, so an interrupted flash resumes without
refetching.`,
	Run: runFlash,
}

func init() {
	flashCmd.Flags().String("target", "", "target block device (e.g. /dev/nvme0n1)")
	flashCmd.Flags().String("bucket", "", "bucket URL holding the image archive (s3://name[/prefix])")
	flashCmd.Flags().String("image", "", "image name inside the bucket")
	flashCmd.Flags().String("archive", "", "local backup archive (.tar.gz)")
	flashCmd.Flags().String("input", "", "directory of already-extracted images")
	_ = flashCmd.MarkFlagRequired("target")
}

func runFlash(cmd *cobra.Command, args []string) {
	target, _ := cmd.Flags().GetString("target")
	bucketURL, _ := cmd.Flags().GetString("bucket")
	imageName, _ := cmd.Flags().GetString("image")
	archivePath, _ := cmd.Flags().GetString("archive")
	inputDir, _ := cmd.Flags().GetString("input")

	cfg := loadConfig()
	requireRoot()

	spec := source.Spec{
		BucketURL:   bucketURL,
		ImageName:   imageName,
		ArchivePath: archivePath,
		InputDir:    inputDir,
	}

	// No source on the command line: fall back to the configured bucket.
	if spec == (source.Spec{}) {
		spec.BucketURL = cfg.Bucket.URL
		spec.ImageName = cfg.Bucket.Image
	}

	log := newLogger()
	ctx := context.Background()

	// The source spec is validated before any I/O; do it before wiring a
	// downloader so conflicting flags fail fast.
	exitOnError(spec.Validate(), nil)

	var dl source.Downloader
	if spec.BucketURL != "" {
		client, err := bucket.New(ctx, cfg.Bucket.Region, log)
		exitOnError(err, nil)
		dl = client
	}

	resolver := source.New(cfg.Backup.CacheDir, dl, log)

	ledger := openLedger(cfg.HistoryDB)
	runID := ""
	if ledger != nil {
		defer ledger.Close()
		runID, _ = ledger.Begin(history.OpFlash, target, sourceDescription(spec))
	}

	dir, err := resolver.Resolve(ctx, spec)
	if err != nil {
		recordOutcome(ledger, runID, err)
		exitOnError(err, nil)
	}

	flasher := flash.New(confirmPolicy(), log)

	err = flasher.Flash(ctx, target, dir)
	recordOutcome(ledger, runID, err)
	// A cancelled flash cleans up extraction directories the resolver
	// created; a caller-supplied --input directory is never removed.
	exitOnError(err, resolver.CleanupOnCancel)

	fmt.Printf("Flashed %s from %s\n", target, sourceDescription(spec))
}

// sourceDescription renders a Spec for logs and the run ledger.
func sourceDescription(spec source.Spec) string {
	switch {
	case spec.InputDir != "":
		return spec.InputDir
	case spec.ArchivePath != "":
		return spec.ArchivePath
	default:
		return fmt.Sprintf("%s/%s", spec.BucketURL, spec.ImageName)
	}
}
