// Package archive bundles a backup directory (partition images, table
// snapshot, block info, manifest) into a single tar.gz and extracts such
// archives. Entries use relative paths only, so an archive restores
// unmodified on any machine and path.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// Pack bundles every regular file in dir into <dir>/<name>.tar.gz and
// returns the archive path. Entries are sorted for reproducible archives.
func Pack(dir, name string, log *logrus.Logger) (string, error) {
	archiveName := name + ".tar.gz"
	archivePath := filepath.Join(dir, archiveName)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading backup directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		// never include a previous (or the in-progress) archive
		if !entry.Type().IsRegular() || entry.Name() == archiveName {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)

	for _, fname := range files {
		if err := addFile(tw, dir, fname); err != nil {
			return "", err
		}
		log.WithField("file", fname).Debug("archived")
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalizing archive: %w", err)
	}

	log.WithField("archive", archivePath).Info("backup archive written")

	return archivePath, nil
}

func addFile(tw *tar.Writer, dir, name string) error {
	path := filepath.Join(dir, name)

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", name, err)
	}
	// relative path only, never the host's absolute output directory
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archiving %s: %w", name, err)
	}
	return nil
}

// Extract unpacks a tar.gz archive into destDir. Entries with absolute or
// parent-escaping paths are rejected.
func Extract(archivePath, destDir string, log *logrus.Logger) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive %s: %w", archivePath, err)
		}

		name := filepath.Clean(hdr.Name)
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return fmt.Errorf("archive entry %q escapes extraction directory", hdr.Name)
		}

		dest := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
			}
			if err := writeFile(dest, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
			log.WithField("file", name).Debug("extracted")
		default:
			// symlinks and specials have no business in a backup archive
			log.WithField("file", name).Warn("skipping non-regular archive entry")
		}
	}

	return nil
}

func writeFile(dest string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("extracting %s: %w", dest, err)
	}
	return nil
}
