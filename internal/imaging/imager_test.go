package imaging

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ID-Robots/skycore/internal/cache"
	"github.com/ID-Robots/skycore/internal/inspect"
)

// testImager builds an Imager whose inspector never finds a filesystem, so
// everything goes through the raw dd codec. dd works on regular files,
// which lets these tests run unprivileged.
func testImager(t *testing.T) *Imager {
	t.Helper()

	if _, err := exec.LookPath("dd"); err != nil {
		t.Skip("dd not available")
	}

	cache.Global().Clear()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	ins := inspect.New(log)
	im := NewImager(ins, log)

	return im
}

func TestCloneRestoreRawRoundTrip(t *testing.T) {
	im := testImager(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "source")
	payload := []byte(strings.Repeat("skycore block data ", 1024))
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	imagePath, err := im.ClonePartition(inspect.Partition{Path: src, Number: 1}, dir, "test", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test_p1.img"), imagePath)

	img, err := os.ReadFile(imagePath)
	require.NoError(t, err)
	assert.Equal(t, payload, img)

	target := filepath.Join(dir, "target")
	require.NoError(t, im.RestorePartition(imagePath, target, inspect.FSUnknown))

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestCloneCompressedRoundTrip(t *testing.T) {
	im := testImager(t)
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip not available")
	}
	// Pin the compressor to gzip so the test does not depend on lz4 being
	// installed.
	im.Registry.lookPath = func(tool string) (string, error) {
		if tool == "lz4" {
			return "", errors.New("not found")
		}
		return exec.LookPath(tool)
	}

	dir := t.TempDir()

	src := filepath.Join(dir, "source")
	payload := []byte(strings.Repeat("compressible partition content ", 2048))
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	imagePath, err := im.ClonePartition(inspect.Partition{Path: src, Number: 2}, dir, "test", true)
	require.NoError(t, err)
	// extension reflects the compressor actually used
	assert.Equal(t, filepath.Join(dir, "test_p2.img.gz"), imagePath)

	target := filepath.Join(dir, "target")
	require.NoError(t, im.RestorePartition(imagePath, target, inspect.FSUnknown))

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestCloneFailureNamesPartitionAndCommand(t *testing.T) {
	im := testImager(t)
	dir := t.TempDir()

	_, err := im.ClonePartition(inspect.Partition{Path: filepath.Join(dir, "missing"), Number: 5}, dir, "test", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition 5")
	assert.Contains(t, err.Error(), "dd")
}

func TestRestoreMissingImage(t *testing.T) {
	im := testImager(t)

	err := im.RestorePartition(filepath.Join(t.TempDir(), "nope.img"), filepath.Join(t.TempDir(), "t"), inspect.FSUnknown)
	assert.Error(t, err)
}
