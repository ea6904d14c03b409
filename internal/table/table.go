// Package table captures and restores partition tables. A snapshot is the
// verbatim `sfdisk -d` dump plus a companion blkid dump used to recover
// filesystem types at restore time.
package table

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/inspect"
)

const (
	// SnapshotSuffix names the partition table dump file.
	SnapshotSuffix = "_partitions.sfdisk"
	// BlkInfoSuffix names the companion blkid dump file.
	BlkInfoSuffix = "_blkinfo.txt"
)

// Archiver snapshots and restores partition tables.
type Archiver struct {
	// DevRoot is where partition nodes are expected to appear after a
	// restore, overridable for tests.
	DevRoot string
	// SettleTimeout bounds the wait for partition nodes after a restore.
	SettleTimeout time.Duration
	// SettleInterval is the polling period during the settle wait.
	SettleInterval time.Duration

	run   func(ctx context.Context, name string, args ...string) (string, error)
	runIn func(ctx context.Context, stdin string, name string, args ...string) (string, error)
	log   *logrus.Logger
}

// New creates an Archiver with default settle timing.
func New(log *logrus.Logger) *Archiver {
	return &Archiver{
		DevRoot:        "/dev",
		SettleTimeout:  10 * time.Second,
		SettleInterval: 200 * time.Millisecond,
		run:            cmd.RunContext,
		runIn: func(ctx context.Context, stdin string, name string, args ...string) (string, error) {
			return cmd.RunContext(cmd.WithStdin(ctx, strings.NewReader(stdin)), name, args...)
		},
		log: log,
	}
}

// Snapshot dumps the partition table of device to
// <outDir>/<prefix>_partitions.sfdisk and the blkid attributes of the
// given partitions to <outDir>/<prefix>_blkinfo.txt. The snapshot is
// written before any partition imaging so a restore can always reconstruct
// the exact boundaries even if cloning fails partway through.
func (a *Archiver) Snapshot(device string, parts []inspect.Partition, outDir, prefix string) (string, string, error) {
	dump, err := a.run(context.Background(), "sfdisk", "-d", device)
	if err != nil {
		return "", "", fmt.Errorf("dumping partition table of %s: %w", device, err)
	}

	snapshotPath := filepath.Join(outDir, prefix+SnapshotSuffix)
	if err := os.WriteFile(snapshotPath, []byte(dump), 0o644); err != nil {
		return "", "", fmt.Errorf("writing partition table snapshot: %w", err)
	}

	blkArgs := make([]string, 0, len(parts))
	for _, p := range parts {
		blkArgs = append(blkArgs, p.Path)
	}

	// blkid exits non-zero when some partition has no recognizable
	// filesystem; whatever it did print is still worth keeping.
	blkOut, blkErr := a.run(context.Background(), "blkid", blkArgs...)
	if blkErr != nil && blkOut == "" {
		a.log.WithField("device", device).Warn("blkid produced no block info; restore will rely on filename hints")
	}

	blkInfoPath := filepath.Join(outDir, prefix+BlkInfoSuffix)
	if err := os.WriteFile(blkInfoPath, []byte(blkOut), 0o644); err != nil {
		return "", "", fmt.Errorf("writing block info dump: %w", err)
	}

	a.log.WithFields(logrus.Fields{"device": device, "snapshot": snapshotPath}).Info("partition table snapshot written")

	return snapshotPath, blkInfoPath, nil
}

// Restore writes the snapshot at snapshotPath onto device, forces the
// kernel to re-read the table, and waits for the partition nodes named in
// the snapshot to materialize.
func (a *Archiver) Restore(device, snapshotPath string) error {
	dump, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("reading partition table snapshot: %w", err)
	}

	if _, err := a.runIn(context.Background(), string(dump), "sfdisk", device); err != nil {
		return fmt.Errorf("restoring partition table to %s: %w", device, err)
	}

	a.rereadTable(device)

	nums := PartitionNumbersFromDump(string(dump))
	if err := a.waitForPartitions(device, nums); err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{"device": device, "partitions": len(nums)}).Info("partition table restored")

	return nil
}

// rereadTable asks the kernel to pick up the new table. partprobe first,
// blockdev as a fallback on hosts without parted installed.
func (a *Archiver) rereadTable(device string) {
	if _, err := a.run(context.Background(), "partprobe", device); err == nil {
		return
	}
	if _, err := a.run(context.Background(), "blockdev", "--rereadpt", device); err != nil {
		a.log.WithField("device", device).Warn("could not force partition table re-read")
	}
}

// waitForPartitions polls until every expected partition node exists, up
// to SettleTimeout.
func (a *Archiver) waitForPartitions(device string, nums []int) error {
	deadline := time.Now().Add(a.SettleTimeout)
	for {
		missing := ""
		for _, n := range nums {
			node := filepath.Join(a.DevRoot, filepath.Base(inspect.PartitionDevicePath(device, n)))
			if _, err := os.Stat(node); err != nil {
				missing = node
				break
			}
		}
		if missing == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s did not appear after partition table restore", errdefs.ErrDeviceNotReady, missing)
		}
		time.Sleep(a.SettleInterval)
	}
}

// dumpPartRe matches the per-partition lines of an sfdisk dump, e.g.
// "/dev/nvme0n1p1 : start=2048, size=1024, ...".
var dumpPartRe = regexp.MustCompile(`(?m)^(\S+?)(\d+)\s*:`)

// PartitionNumbersFromDump extracts the partition numbers named by an
// sfdisk dump, in the order they appear.
func PartitionNumbersFromDump(dump string) []int {
	var nums []int
	for _, m := range dumpPartRe.FindAllStringSubmatch(dump, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

// blkInfoRe matches blkid dump lines: `/dev/nvme0n1p1: UUID="..." TYPE="ext4" ...`.
var (
	blkInfoDevRe  = regexp.MustCompile(`^(\S+?)p?(\d+):`)
	blkInfoTypeRe = regexp.MustCompile(`\bTYPE="([^"]+)"`)
)

// FSTypesByNumber parses a blkid dump into a partition-number to
// filesystem-type map. Lines without a TYPE attribute or an extractable
// partition number are skipped.
func FSTypesByNumber(blkinfo string) map[int]string {
	types := make(map[int]string)
	for _, line := range strings.Split(blkinfo, "\n") {
		devMatch := blkInfoDevRe.FindStringSubmatch(line)
		typeMatch := blkInfoTypeRe.FindStringSubmatch(line)
		if devMatch == nil || typeMatch == nil {
			continue
		}
		n, err := strconv.Atoi(devMatch[2])
		if err != nil {
			continue
		}
		types[n] = typeMatch[1]
	}
	return types
}
