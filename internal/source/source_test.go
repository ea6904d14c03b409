package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ID-Robots/skycore/internal/archive"
	"github.com/ID-Robots/skycore/internal/errdefs"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeDownloader writes canned archive bytes and counts calls.
type fakeDownloader struct {
	payload []byte
	err     error
	calls   int
}

func (d *fakeDownloader) Download(_ context.Context, bucket, key, localPath string) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(localPath, d.payload, 0o644)
}

// makeImageSet creates a minimal valid image set in a fresh dir.
func makeImageSet(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jetson_nvme_partitions.sfdisk"), []byte("label: gpt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jetson_nvme_p1.img"), []byte("image"), 0o644))
	return dir
}

// makeArchive packs an image set into a tar.gz and returns its path.
func makeArchive(t *testing.T, name string) string {
	t.Helper()

	dir := makeImageSet(t)
	path, err := archive.Pack(dir, name, quietLog())
	require.NoError(t, err)
	return path
}

func TestValidateMutualExclusion(t *testing.T) {
	err := Spec{ArchivePath: "/a.tar.gz", InputDir: "/b"}.Validate()
	assert.ErrorIs(t, err, errdefs.ErrConfig)

	err = Spec{BucketURL: "s3://x", ImageName: "img", ArchivePath: "/a.tar.gz"}.Validate()
	assert.ErrorIs(t, err, errdefs.ErrConfig)
}

func TestValidateEmpty(t *testing.T) {
	assert.ErrorIs(t, Spec{}.Validate(), errdefs.ErrConfig)
}

func TestValidateBucketNeedsImage(t *testing.T) {
	assert.ErrorIs(t, Spec{BucketURL: "s3://x"}.Validate(), errdefs.ErrConfig)
	assert.ErrorIs(t, Spec{ImageName: "img"}.Validate(), errdefs.ErrConfig)
	assert.NoError(t, Spec{BucketURL: "s3://x", ImageName: "img"}.Validate())
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := makeImageSet(t)
	r := New(t.TempDir(), nil, quietLog())

	got, err := r.Resolve(context.Background(), Spec{InputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	// caller-supplied directories are never cleaned up
	r.CleanupOnCancel()
	_, err = os.Stat(filepath.Join(dir, "jetson_nvme_p1.img"))
	assert.NoError(t, err)
}

func TestResolveLocalDirectoryMissing(t *testing.T) {
	r := New(t.TempDir(), nil, quietLog())

	_, err := r.Resolve(context.Background(), Spec{InputDir: "/does/not/exist"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestResolveLocalArchiveMissing(t *testing.T) {
	r := New(t.TempDir(), nil, quietLog())

	_, err := r.Resolve(context.Background(), Spec{ArchivePath: "/does/not/exist.tar.gz"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestResolveLocalArchive(t *testing.T) {
	archivePath := makeArchive(t, "backup")
	r := New(t.TempDir(), nil, quietLog())

	dir, err := r.Resolve(context.Background(), Spec{ArchivePath: archivePath})
	require.NoError(t, err)

	assert.True(t, HasImageSet(dir))
}

func TestResolveExtractionIdempotent(t *testing.T) {
	archivePath := makeArchive(t, "backup")
	r := New(t.TempDir(), nil, quietLog())

	dir, err := r.Resolve(context.Background(), Spec{ArchivePath: archivePath})
	require.NoError(t, err)

	// Scribble on an extracted file; a second resolve must reuse the
	// existing extraction, not overwrite it.
	marker := filepath.Join(dir, "jetson_nvme_p1.img")
	require.NoError(t, os.WriteFile(marker, []byte("modified"), 0o644))

	dir2, err := r.Resolve(context.Background(), Spec{ArchivePath: archivePath})
	require.NoError(t, err)
	assert.Equal(t, dir, dir2)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "modified", string(data))
}

func TestResolveBucketCachesDownload(t *testing.T) {
	archivePath := makeArchive(t, "jetson-image")
	payload, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	dl := &fakeDownloader{payload: payload}
	r := New(t.TempDir(), dl, quietLog())

	spec := Spec{BucketURL: "s3://drone-images", ImageName: "jetson-image"}

	dir, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, HasImageSet(dir))
	assert.Equal(t, 1, dl.calls)

	// second resolve reuses the cached archive: no new download
	_, err = r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 1, dl.calls)
}

func TestResolveBucketFetchError(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("connection reset")}
	cacheDir := t.TempDir()
	r := New(cacheDir, dl, quietLog())

	_, err := r.Resolve(context.Background(), Spec{BucketURL: "s3://drone-images", ImageName: "jetson-image"})
	assert.ErrorIs(t, err, errdefs.ErrFetch)
	assert.Equal(t, 1, dl.calls)

	// no partial archive may poison the cache
	_, statErr := os.Stat(filepath.Join(cacheDir, "drone-images", "jetson-image.tar.gz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestResolveBucketCacheKeyedByBucket(t *testing.T) {
	archivePath := makeArchive(t, "jetson-image")
	payload, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	dl := &fakeDownloader{payload: payload}
	r := New(t.TempDir(), dl, quietLog())

	dirA, err := r.Resolve(context.Background(), Spec{BucketURL: "s3://bucket-a", ImageName: "jetson-image"})
	require.NoError(t, err)
	assert.Equal(t, 1, dl.calls)

	// same image name in another bucket must not reuse the first
	// bucket's cached archive or its extraction
	dirB, err := r.Resolve(context.Background(), Spec{BucketURL: "s3://bucket-b", ImageName: "jetson-image"})
	require.NoError(t, err)
	assert.Equal(t, 2, dl.calls)
	assert.NotEqual(t, dirA, dirB)
}

func TestCleanupOnCancelRemovesOwnDirs(t *testing.T) {
	archivePath := makeArchive(t, "backup")
	r := New(t.TempDir(), nil, quietLog())

	dir, err := r.Resolve(context.Background(), Spec{ArchivePath: archivePath})
	require.NoError(t, err)

	r.CleanupOnCancel()

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestHasImageSet(t *testing.T) {
	assert.True(t, HasImageSet(makeImageSet(t)))

	empty := t.TempDir()
	assert.False(t, HasImageSet(empty))

	// snapshot without images is not a usable set
	snapshotOnly := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(snapshotOnly, "x_partitions.sfdisk"), []byte("label: gpt\n"), 0o644))
	assert.False(t, HasImageSet(snapshotOnly))
}
