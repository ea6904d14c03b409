//go:build linux

package clone_test

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freddierice/go-losetup/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ID-Robots/skycore/internal/clone"
	"github.com/ID-Robots/skycore/internal/confirm"
	"github.com/ID-Robots/skycore/internal/flash"
)

// setupLoopDevice creates a two-partition loopback device (p1 vfat,
// p2 ext4) backed by a sparse file and returns its path.
func setupLoopDevice(t *testing.T) string {
	t.Helper()

	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}
	for _, tool := range []string{"sfdisk", "partprobe", "mkfs.vfat", "mkfs.ext4", "blkid", "dd"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}

	backing := filepath.Join(t.TempDir(), "disk.img")

	f, err := os.Create(backing)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(64*1024*1024))
	require.NoError(t, f.Close())

	dev, err := losetup.Attach(backing, 0, false)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, dev.Detach()) })

	script := "label: dos\n,16MiB,c\n,,L\n"
	sfdisk := exec.Command("sfdisk", dev.Path())
	sfdisk.Stdin = strings.NewReader(script)
	sfdisk.Stdout = os.Stdout
	sfdisk.Stderr = os.Stderr
	require.NoError(t, sfdisk.Run())

	require.NoError(t, exec.Command("partprobe", dev.Path()).Run())

	require.NoError(t, exec.Command("mkfs.vfat", dev.Path()+"p1").Run())
	require.NoError(t, exec.Command("mkfs.ext4", "-q", dev.Path()+"p2").Run())

	return dev.Path()
}

func hashPartition(t *testing.T, path string) [sha256.Size]byte {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	h := sha256.New()
	_, err = io.Copy(h, f)
	require.NoError(t, err)

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func TestCloneFlashRoundTrip(t *testing.T) {
	devPath := setupLoopDevice(t)

	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	before1 := hashPartition(t, devPath+"p1")
	before2 := hashPartition(t, devPath+"p2")

	outDir := filepath.Join(t.TempDir(), "backup")

	runner := clone.New(confirm.Auto(true), log)
	res, err := runner.Run(context.Background(), clone.Options{
		Source:      devPath,
		OutputDir:   outDir,
		Prefix:      "jetson_nvme",
		Compress:    true,
		ArchiveName: "backup",
	})
	require.NoError(t, err)

	require.Len(t, res.Images, 2)
	assert.FileExists(t, filepath.Join(outDir, "jetson_nvme_partitions.sfdisk"))
	assert.FileExists(t, filepath.Join(outDir, "manifest.txt"))
	assert.FileExists(t, filepath.Join(outDir, "backup.tar.gz"))
	for _, img := range res.Images {
		ext := filepath.Ext(img)
		assert.Contains(t, []string{".lz4", ".gz"}, ext, "compressed image extension")
	}

	// wipe the partition table and partition starts
	wipe := exec.Command("dd", "if=/dev/zero", "of="+devPath, "bs=1M", "count=1", "conv=fsync")
	require.NoError(t, wipe.Run())
	require.NoError(t, exec.Command("partprobe", devPath).Run())

	flasher := flash.New(confirm.Auto(true), log)
	require.NoError(t, flasher.Flash(context.Background(), devPath, outDir))

	assert.Equal(t, before1, hashPartition(t, devPath+"p1"), "partition 1 content differs after flash")
	assert.Equal(t, before2, hashPartition(t, devPath+"p2"), "partition 2 content differs after flash")
}
