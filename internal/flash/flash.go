// Package flash restores an image set onto a target device: partition
// table first, then each partition image in ascending number order.
package flash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/confirm"
	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/imaging"
	"github.com/ID-Robots/skycore/internal/inspect"
	"github.com/ID-Robots/skycore/internal/mounts"
	"github.com/ID-Robots/skycore/internal/table"
)

// Flasher restores image sets. Build one with New.
type Flasher struct {
	Inspector *inspect.Inspector
	Table     *table.Archiver
	Imager    *imaging.Imager
	Unmounter *mounts.Unmounter
	Policy    confirm.Policy

	run func(ctx context.Context, name string, args ...string) (string, error)
	log *logrus.Logger
}

// New wires a Flasher with live system collaborators and the given
// confirmation policy.
func New(policy confirm.Policy, log *logrus.Logger) *Flasher {
	ins := inspect.New(log)
	return &Flasher{
		Inspector: ins,
		Table:     table.New(log),
		Imager:    imaging.NewImager(ins, log),
		Unmounter: mounts.New(ins, policy, log),
		Policy:    policy,
		run:       cmd.RunContext,
		log:       log,
	}
}

// ImageFile is one partition image found in a source directory.
type ImageFile struct {
	Path   string
	Name   string
	Number int
}

// FindSnapshot locates the partition table snapshot in dir. Its absence is
// ErrMissingManifest: without the intended layout, flashing cannot start.
func FindSnapshot(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+table.SnapshotSuffix))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: no *%s file in %s", errdefs.ErrMissingManifest, table.SnapshotSuffix, dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// ImagesIn enumerates the partition images in dir, ascending by partition
// number. Files without a p<N>.img pattern are skipped, not errors.
func ImagesIn(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source directory: %w", err)
	}

	var images []ImageFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		n, ok := imaging.ParsePartitionNumber(entry.Name())
		if !ok {
			continue
		}
		images = append(images, ImageFile{
			Path:   filepath.Join(dir, entry.Name()),
			Name:   entry.Name(),
			Number: n,
		})
	}

	sort.Slice(images, func(a, b int) bool { return images[a].Number < images[b].Number })
	return images, nil
}

// FSTypeFor picks the filesystem type to restore partition n with: the
// recorded block info entry wins, then a filename substring hint, then the
// raw byte-copy fallback.
func FSTypeFor(n int, blkTypes map[int]string, imageName string) string {
	if t, ok := blkTypes[n]; ok {
		return t
	}
	if hint := imaging.FilesystemHint(imageName); hint != "" {
		return hint
	}
	return inspect.FSUnknown
}

// Flash restores the image set in sourceDir onto target. An individual
// partition restore failure is fatal; a half-restored device is never
// reported as success. Images whose target partition node does not exist
// are skipped with a warning to tolerate partial layouts.
func (f *Flasher) Flash(ctx context.Context, target, sourceDir string) error {
	if err := f.Inspector.CheckBlockDevice(target); err != nil {
		return err
	}

	snapshotPath, err := FindSnapshot(sourceDir)
	if err != nil {
		return err
	}

	images, err := ImagesIn(sourceDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		f.log.WithField("dir", sourceDir).Warn("no partition images found; only the partition table will be restored")
	}

	ok, err := f.Policy.Confirm(fmt.Sprintf("This will overwrite the partition table and ALL DATA on %s. Continue?", target))
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.ErrCancelled
	}

	if err := f.unmountGate(ctx, target); err != nil {
		return err
	}

	if err := f.Table.Restore(target, snapshotPath); err != nil {
		return err
	}

	blkTypes := f.loadBlkInfo(sourceDir)

	for _, img := range images {
		partition := inspect.PartitionDevicePath(target, img.Number)

		if _, err := os.Stat(partition); err != nil {
			f.log.WithFields(logrus.Fields{
				"image":     img.Name,
				"partition": partition,
			}).Warn("target partition does not exist, skipping image")
			continue
		}

		fstype := FSTypeFor(img.Number, blkTypes, img.Name)
		if err := f.Imager.RestorePartition(img.Path, partition, fstype); err != nil {
			return err
		}
	}

	if _, err := f.run(ctx, "sync", target); err != nil {
		return fmt.Errorf("syncing %s: %w", target, err)
	}

	f.log.WithFields(logrus.Fields{"device": target, "images": len(images)}).Info("flash complete")

	return nil
}

// unmountGate unmounts anything currently mounted from the target before
// its table is touched. A target whose partitions cannot be enumerated
// (a bare device, or one whose sysfs entry vanished) is reported and then
// treated as having nothing mounted.
func (f *Flasher) unmountGate(ctx context.Context, target string) error {
	parts, err := f.Inspector.ListPartitions(target)
	if err != nil {
		f.log.WithError(err).Warn("could not enumerate target partitions for the unmount check")
		return nil
	}
	return f.Unmounter.EnsureUnmounted(ctx, parts)
}

// loadBlkInfo parses the recorded block info dump, if any. Missing or
// unreadable dumps are not fatal; restore falls back to filename hints.
func (f *Flasher) loadBlkInfo(sourceDir string) map[int]string {
	matches, _ := filepath.Glob(filepath.Join(sourceDir, "*"+table.BlkInfoSuffix))
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)

	data, err := os.ReadFile(matches[0])
	if err != nil {
		f.log.WithError(err).Warn("could not read block info dump")
		return nil
	}
	return table.FSTypesByNumber(string(data))
}
