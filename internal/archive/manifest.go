package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ManifestName is the fixed manifest filename inside a backup.
const ManifestName = "manifest.txt"

// ManifestInfo describes a backup's provenance. The manifest is
// human-readable only; nothing parses it back in.
type ManifestInfo struct {
	CreatedAt     time.Time
	SourceDevice  string
	Compressed    bool
	DeviceListing string
}

// WriteManifest writes manifest.txt into dir, enumerating the files that
// will be archived alongside it.
func WriteManifest(dir string, info ManifestInfo) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading backup directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == ManifestName {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	var b strings.Builder
	fmt.Fprintf(&b, "skycore backup manifest\n")
	fmt.Fprintf(&b, "=======================\n\n")
	fmt.Fprintf(&b, "Created:     %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Source:      %s\n", info.SourceDevice)
	fmt.Fprintf(&b, "Compressed:  %t\n\n", info.Compressed)

	if info.DeviceListing != "" {
		fmt.Fprintf(&b, "Block devices at backup time:\n%s\n", strings.TrimRight(info.DeviceListing, "\n"))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Files:\n")
	for _, fname := range files {
		fi, err := os.Stat(filepath.Join(dir, fname))
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", fname, err)
		}
		fmt.Fprintf(&b, "  %-40s %s\n", fname, humanize.Bytes(uint64(fi.Size())))
	}

	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
