// Package clone orchestrates a full device backup: partition table
// snapshot first, then one image per partition in ascending order, then
// manifest and optional archive bundling.
package clone

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/archive"
	"github.com/ID-Robots/skycore/internal/confirm"
	"github.com/ID-Robots/skycore/internal/imaging"
	"github.com/ID-Robots/skycore/internal/inspect"
	"github.com/ID-Robots/skycore/internal/mounts"
	"github.com/ID-Robots/skycore/internal/table"
)

// Options configures one clone run.
type Options struct {
	Source      string
	OutputDir   string
	Prefix      string
	Compress    bool
	ArchiveName string // bundle the output into <name>.tar.gz when set
}

// Result lists the artifacts a clone run produced.
type Result struct {
	SnapshotPath string
	BlkInfoPath  string
	Images       []string
	ManifestPath string
	ArchivePath  string
}

// Runner executes clone runs. Build one with New.
type Runner struct {
	Inspector *inspect.Inspector
	Table     *table.Archiver
	Imager    *imaging.Imager
	Unmounter *mounts.Unmounter

	log *logrus.Logger
}

// New wires a Runner with live system collaborators and the given
// confirmation policy.
func New(policy confirm.Policy, log *logrus.Logger) *Runner {
	ins := inspect.New(log)
	return &Runner{
		Inspector: ins,
		Table:     table.New(log),
		Imager:    imaging.NewImager(ins, log),
		Unmounter: mounts.New(ins, policy, log),
		log:       log,
	}
}

// Run clones every partition of the source device. Partitions are imaged
// strictly in ascending number order; the first failure aborts the run.
// Artifacts already written stay in place for diagnosis.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := r.Inspector.CheckBlockDevice(opts.Source); err != nil {
		return nil, err
	}

	parts, err := r.Inspector.ListPartitions(opts.Source)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no partitions found on %s", opts.Source)
	}

	// The unmount gate runs before the snapshot is written: declining must
	// leave the output directory untouched.
	if err := r.Unmounter.EnsureUnmounted(ctx, parts); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	res := &Result{}

	res.SnapshotPath, res.BlkInfoPath, err = r.Table.Snapshot(opts.Source, parts, opts.OutputDir, opts.Prefix)
	if err != nil {
		return nil, err
	}

	for _, part := range parts {
		imagePath, err := r.Imager.ClonePartition(part, opts.OutputDir, opts.Prefix, opts.Compress)
		if err != nil {
			return nil, err
		}
		res.Images = append(res.Images, imagePath)
	}

	listing, err := r.Inspector.ListBlockDevices()
	if err != nil {
		r.log.WithError(err).Warn("could not capture device listing for the manifest")
	}

	res.ManifestPath, err = archive.WriteManifest(opts.OutputDir, archive.ManifestInfo{
		CreatedAt:     time.Now(),
		SourceDevice:  opts.Source,
		Compressed:    opts.Compress,
		DeviceListing: listing,
	})
	if err != nil {
		return nil, err
	}

	if opts.ArchiveName != "" {
		res.ArchivePath, err = archive.Pack(opts.OutputDir, opts.ArchiveName, r.log)
		if err != nil {
			return nil, err
		}
	}

	r.log.WithFields(logrus.Fields{
		"device": opts.Source,
		"images": len(res.Images),
	}).Info("clone complete")

	return res, nil
}
