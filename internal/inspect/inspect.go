// Package inspect answers read-only questions about block devices: which
// partitions a device has, what filesystem a partition carries, and where
// it is mounted. It never writes to a device.
package inspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/cache"
	"github.com/ID-Robots/skycore/internal/errdefs"
)

// FSUnknown is the sentinel filesystem type for partitions blkid cannot
// identify. Downstream it maps to the raw byte-copy codec.
const FSUnknown = "unknown"

// Partition is one numbered sub-device of a block device.
type Partition struct {
	Path   string // /dev/nvme0n1p1
	Device string // parent device, /dev/nvme0n1
	Number int    // parsed from the name suffix
}

// Inspector queries partition layout and filesystem state. The zero value
// is not usable; call New.
type Inspector struct {
	// SysBlock is the sysfs block class root, overridable for tests.
	SysBlock string
	// MountsFile is the mount table to parse, overridable for tests.
	MountsFile string
	// DevRoot is where partition device nodes live, overridable for tests.
	DevRoot string

	run func(ctx context.Context, name string, args ...string) (string, error)
	log *logrus.Logger
}

// New creates an Inspector with the standard Linux paths.
func New(log *logrus.Logger) *Inspector {
	return &Inspector{
		SysBlock:   "/sys/block",
		MountsFile: "/proc/self/mounts",
		DevRoot:    "/dev",
		run:        cmd.RunContext,
		log:        log,
	}
}

// CheckBlockDevice verifies the path exists and is a block device node.
func (i *Inspector) CheckBlockDevice(device string) error {
	fi, err := os.Stat(device)
	if err != nil || fi.Mode()&os.ModeDevice == 0 || fi.Mode()&os.ModeCharDevice != 0 {
		return fmt.Errorf("%w: %s does not exist or is not a block device", errdefs.ErrValidation, device)
	}
	return nil
}

// partSuffixPattern matches the numeric suffix of a partition name for a
// given base device name, e.g. nvme0n1p2 or sda2.
func partSuffixPattern(base string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(base) + "p?([0-9]+)$")
}

// ListPartitions enumerates the partitions of a device, ordered by
// partition number. Sysfs entries that are not the device's own numbered
// partitions are skipped, not errored.
func (i *Inspector) ListPartitions(device string) ([]Partition, error) {
	base := filepath.Base(device)

	entries, err := os.ReadDir(filepath.Join(i.SysBlock, base))
	if err != nil {
		return nil, fmt.Errorf("%w: no such block device %s", errdefs.ErrValidation, device)
	}

	re := partSuffixPattern(base)

	var parts []Partition
	for _, entry := range entries {
		m := re.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			// Unparsable suffix: skip, never fail.
			continue
		}
		parts = append(parts, Partition{
			Path:   filepath.Join(i.DevRoot, entry.Name()),
			Device: device,
			Number: num,
		})
	}

	sort.Slice(parts, func(a, b int) bool { return parts[a].Number < parts[b].Number })

	i.log.WithFields(logrus.Fields{"device": device, "partitions": len(parts)}).Debug("enumerated partitions")

	return parts, nil
}

// FilesystemType probes the filesystem type of a partition via blkid.
// Unprobeable partitions report FSUnknown rather than an error.
func (i *Inspector) FilesystemType(partition string) string {
	key := "fstype:" + partition
	if cached := cache.Global().Get(key); cached != nil {
		return cached.(string)
	}

	out, err := i.run(context.Background(), "blkid", "-o", "value", "-s", "TYPE", partition)
	fstype := strings.TrimSpace(out)
	if err != nil || fstype == "" {
		fstype = FSUnknown
	}

	cache.Global().Set(key, fstype, cache.TTLProbe)
	return fstype
}

// MountPoints returns every mount point of a partition, possibly none.
func (i *Inspector) MountPoints(partition string) ([]string, error) {
	data, err := os.ReadFile(i.MountsFile)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}

	var mounts []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != partition {
			continue
		}
		mounts = append(mounts, unescapeMount(fields[1]))
	}
	return mounts, nil
}

// DeviceSize returns the size of a device in bytes, from sysfs.
func (i *Inspector) DeviceSize(device string) (uint64, error) {
	base := filepath.Base(device)

	data, err := os.ReadFile(filepath.Join(i.SysBlock, base, "size"))
	if err != nil {
		return 0, fmt.Errorf("reading size of %s: %w", device, err)
	}

	sectors, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size of %s: %w", device, err)
	}
	return sectors * 512, nil
}

// ListBlockDevices returns a human-readable device listing for display.
func (i *Inspector) ListBlockDevices() (string, error) {
	key := "listing:lsblk"
	if cached := cache.Global().Get(key); cached != nil {
		return cached.(string), nil
	}

	out, err := i.run(context.Background(), "lsblk", "-o", "NAME,SIZE,TYPE,FSTYPE,MOUNTPOINT")
	if err != nil {
		return "", fmt.Errorf("listing block devices: %w", err)
	}

	cache.Global().Set(key, out, cache.TTLListing)
	return out, nil
}

// PartitionDevicePath derives the device node of partition n using the
// platform convention: bases ending in a digit get a "p" separator
// (nvme0n1 -> nvme0n1p2), others do not (sda -> sda2).
func PartitionDevicePath(device string, n int) string {
	base := filepath.Base(device)
	if base != "" && base[len(base)-1] >= '0' && base[len(base)-1] <= '9' {
		return fmt.Sprintf("%sp%d", device, n)
	}
	return fmt.Sprintf("%s%d", device, n)
}

// unescapeMount decodes the octal escapes the kernel uses for whitespace
// in mount paths.
func unescapeMount(s string) string {
	replacer := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return replacer.Replace(s)
}
