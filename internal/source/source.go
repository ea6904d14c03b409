// Package source obtains a restorable image set for flashing from one of
// three places: a remote object-storage bucket, a local archive file, or a
// directory of already-extracted images. Downloads and extractions are
// idempotent so an interrupted flash can resume without refetching.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/archive"
	"github.com/ID-Robots/skycore/internal/bucket"
	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/imaging"
	"github.com/ID-Robots/skycore/internal/table"
)

// Spec is the tagged union of image sources. Exactly one variant may be
// active per flash invocation.
type Spec struct {
	// Bucket variant: both fields required together.
	BucketURL string
	ImageName string

	// LocalArchive variant.
	ArchivePath string

	// LocalDirectory variant.
	InputDir string
}

// Validate rejects conflicting or incomplete source configuration. It is
// called before any I/O.
func (s Spec) Validate() error {
	variants := 0
	if s.BucketURL != "" || s.ImageName != "" {
		if s.BucketURL == "" || s.ImageName == "" {
			return fmt.Errorf("%w: --bucket and --image must be given together", errdefs.ErrConfig)
		}
		variants++
	}
	if s.ArchivePath != "" {
		variants++
	}
	if s.InputDir != "" {
		variants++
	}

	switch {
	case variants == 0:
		return fmt.Errorf("%w: no image source given (use --bucket/--image, --archive or --input)", errdefs.ErrConfig)
	case variants > 1:
		return fmt.Errorf("%w: --bucket, --archive and --input are mutually exclusive", errdefs.ErrConfig)
	}
	return nil
}

// Downloader is the object-storage collaborator: fetch one object into a
// local file.
type Downloader interface {
	Download(ctx context.Context, bucket, key, localPath string) error
}

// Resolver turns a Spec into a local directory holding a partition table
// snapshot and partition images.
type Resolver struct {
	// CacheDir holds downloaded archives and extraction directories.
	CacheDir string
	// Downloader fetches bucket objects; only needed for the Bucket variant.
	Downloader Downloader

	log *logrus.Logger

	// createdDirs are extraction directories this resolver created itself;
	// they are the only thing CleanupOnCancel removes.
	createdDirs []string
}

// New creates a Resolver caching under cacheDir.
func New(cacheDir string, dl Downloader, log *logrus.Logger) *Resolver {
	return &Resolver{CacheDir: cacheDir, Downloader: dl, log: log}
}

// Resolve returns a directory containing the image set described by spec.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	switch {
	case spec.InputDir != "":
		if fi, err := os.Stat(spec.InputDir); err != nil || !fi.IsDir() {
			return "", fmt.Errorf("%w: input directory %s", errdefs.ErrNotFound, spec.InputDir)
		}
		return spec.InputDir, nil

	case spec.ArchivePath != "":
		if _, err := os.Stat(spec.ArchivePath); err != nil {
			return "", fmt.Errorf("%w: archive %s", errdefs.ErrNotFound, spec.ArchivePath)
		}
		return r.extract(spec.ArchivePath, extractName(spec.ArchivePath))

	default:
		bucketName, prefix, err := bucket.ParseURL(spec.BucketURL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errdefs.ErrConfig, err)
		}
		archivePath, err := r.fetch(ctx, bucketName, prefix, spec.ImageName)
		if err != nil {
			return "", err
		}
		return r.extract(archivePath, filepath.Join(bucketName, extractName(archivePath)))
	}
}

// fetch downloads the bucket archive unless a previous download is already
// cached. Caching is keyed by bucket plus image name under CacheDir, so the
// same image name in two buckets never aliases; a cached file is reused
// verbatim.
func (r *Resolver) fetch(ctx context.Context, bucketName, prefix, imageName string) (string, error) {
	key := archiveKey(imageName)
	if prefix != "" {
		key = prefix + "/" + key
	}

	bucketCache := filepath.Join(r.CacheDir, bucketName)
	if err := os.MkdirAll(bucketCache, 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	cachePath := filepath.Join(bucketCache, archiveKey(imageName))
	if _, err := os.Stat(cachePath); err == nil {
		r.log.WithField("archive", cachePath).Info("reusing previously downloaded archive")
		return cachePath, nil
	}

	if r.Downloader == nil {
		return "", fmt.Errorf("%w: no bucket downloader configured", errdefs.ErrConfig)
	}

	if err := r.Downloader.Download(ctx, bucketName, key, cachePath); err != nil {
		// leave no partial archive behind to poison the cache
		_ = os.Remove(cachePath)
		return "", fmt.Errorf("%w: %v", errdefs.ErrFetch, err)
	}

	return cachePath, nil
}

// extract unpacks archivePath into the named directory under
// CacheDir/extract. If a prior extraction already produced the table
// snapshot and at least one partition image there, it is reused as-is.
func (r *Resolver) extract(archivePath, name string) (string, error) {
	destDir := filepath.Join(r.CacheDir, "extract", name)

	if HasImageSet(destDir) {
		r.log.WithField("dir", destDir).Info("reusing previously extracted image set")
		return destDir, nil
	}

	preexisting := true
	if _, err := os.Stat(destDir); os.IsNotExist(err) {
		preexisting = false
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}
	if !preexisting {
		r.createdDirs = append(r.createdDirs, destDir)
	}

	if err := archive.Extract(archivePath, destDir, r.log); err != nil {
		return "", err
	}

	if !HasImageSet(destDir) {
		return "", fmt.Errorf("%w: archive %s contains no partition table snapshot", errdefs.ErrMissingManifest, archivePath)
	}

	return destDir, nil
}

// CleanupOnCancel removes extraction directories this resolver created.
// Caller-supplied input directories are never touched.
func (r *Resolver) CleanupOnCancel() {
	for _, dir := range r.createdDirs {
		r.log.WithField("dir", dir).Debug("removing temporary extraction directory")
		_ = os.RemoveAll(dir)
	}
	r.createdDirs = nil
}

// HasImageSet reports whether dir holds a complete-enough image set: the
// partition table snapshot plus at least one partition image.
func HasImageSet(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}

	var snapshot, image bool
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, table.SnapshotSuffix) {
			snapshot = true
		}
		if _, ok := imaging.ParsePartitionNumber(name); ok {
			image = true
		}
	}
	return snapshot && image
}

// archiveKey appends the archive extension unless the image name already
// carries it.
func archiveKey(imageName string) string {
	if strings.HasSuffix(imageName, ".tar.gz") {
		return imageName
	}
	return imageName + ".tar.gz"
}

// extractName derives the extraction directory name from an archive path.
func extractName(archivePath string) string {
	return strings.TrimSuffix(filepath.Base(archivePath), ".tar.gz")
}
