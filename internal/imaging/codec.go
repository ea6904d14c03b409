// Package imaging streams partition contents to image files and back. A
// codec is a filesystem-aware external tool (partclone) or the raw
// byte-copy baseline (dd); selection degrades gracefully when a
// filesystem-specific tool is not installed.
//
// Flag convention, uniform across all partclone variants: capture is
// `partclone.<fs> -c -s <dev> -o -`, restore is `partclone.<fs> -r -s - -o <dev>`.
package imaging

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/errdefs"
)

// Codec is one imaging backend. Capture writes the partition image to
// stdout; Restore reads it back from stdin.
type Codec struct {
	Tool string
	raw  bool
}

// CaptureArgs returns the argument vector that images partition to stdout.
func (c Codec) CaptureArgs(partition string) []string {
	if c.raw {
		return []string{"if=" + partition, "bs=4M"}
	}
	return []string{"-c", "-s", partition, "-o", "-"}
}

// RestoreArgs returns the argument vector that writes stdin back onto
// partition.
func (c Codec) RestoreArgs(partition string) []string {
	if c.raw {
		return []string{"of=" + partition, "bs=4M", "conv=fsync"}
	}
	return []string{"-r", "-s", "-", "-o", partition}
}

// rawTool is the mandatory baseline. Raw copy is always correct, just less
// space-efficient than a used-block-aware tool.
const rawTool = "dd"

// codecChains maps a filesystem type to its ordered tool candidates. The
// raw baseline is appended implicitly.
var codecChains = map[string][]string{
	"ext2":  {"partclone.ext4"},
	"ext3":  {"partclone.ext4"},
	"ext4":  {"partclone.ext4"},
	"vfat":  {"partclone.vfat", "partclone.fat32"},
	"fat16": {"partclone.vfat", "partclone.fat32"},
	"fat32": {"partclone.vfat", "partclone.fat32"},
	"ntfs":  {"partclone.ntfs"},
	"xfs":   {"partclone.xfs"},
}

// Registry resolves filesystem types to available codecs via ordered
// capability probes.
type Registry struct {
	lookPath func(string) (string, error)
	log      *logrus.Logger
}

// NewRegistry creates a Registry probing the host PATH.
func NewRegistry(log *logrus.Logger) *Registry {
	return &Registry{lookPath: exec.LookPath, log: log}
}

// CodecFor picks the first available codec for a filesystem type. Unknown
// types and missing filesystem-specific tools degrade to the raw baseline;
// a missing baseline is ErrToolMissing.
func (r *Registry) CodecFor(fstype string) (Codec, error) {
	for _, tool := range codecChains[fstype] {
		if _, err := r.lookPath(tool); err == nil {
			return Codec{Tool: tool}, nil
		}
		r.log.WithFields(logrus.Fields{"fstype": fstype, "tool": tool}).Debug("codec unavailable, trying next")
	}

	if _, err := r.lookPath(rawTool); err != nil {
		return Codec{}, fmt.Errorf("%w: %s", errdefs.ErrToolMissing, rawTool)
	}

	if len(codecChains[fstype]) > 0 {
		r.log.WithField("fstype", fstype).Warn("no filesystem-aware codec available, falling back to raw copy")
	}

	return Codec{Tool: rawTool, raw: true}, nil
}

// imageNameRe extracts the partition number from an image filename. Restore
// re-derives the target partition purely from this number.
var imageNameRe = regexp.MustCompile(`_p(\d+)\.img(\.gz|\.lz4)?$`)

// ImageName builds the on-disk name for a partition image.
func ImageName(prefix string, number int, ext string) string {
	return fmt.Sprintf("%s_p%d.img%s", prefix, number, ext)
}

// ParsePartitionNumber extracts the partition number encoded in an image
// filename. ok is false for names without a p<N>.img pattern; such files
// are skipped, never treated as errors.
func ParsePartitionNumber(name string) (int, bool) {
	m := imageNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// FilesystemHint guesses a filesystem type from substrings of an image
// filename. Used on restore when the block info dump has no entry for the
// partition.
func FilesystemHint(name string) string {
	for _, fs := range []string{"ext4", "ext3", "ext2", "vfat", "fat32", "fat16", "ntfs", "xfs"} {
		if containsToken(name, fs) {
			return fs
		}
	}
	return ""
}

func containsToken(name, token string) bool {
	return regexp.MustCompile(`(^|[._-])` + token + `([._-]|$)`).MatchString(name)
}
