package mounts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ID-Robots/skycore/internal/confirm"
	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/inspect"
)

func testUnmounter(t *testing.T, mountsContent string, policy confirm.Policy) (*Unmounter, *[]string) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	ins := inspect.New(log)
	mountsFile := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mountsFile, []byte(mountsContent), 0o644))
	ins.MountsFile = mountsFile

	u := New(ins, policy, log)

	var unmounted []string
	u.run = func(_ context.Context, name string, args ...string) (string, error) {
		if name == "umount" {
			unmounted = append(unmounted, args[0])
		}
		return "", nil
	}

	return u, &unmounted
}

var testParts = []inspect.Partition{
	{Path: "/dev/sda1", Number: 1},
	{Path: "/dev/sda2", Number: 2},
}

func TestEnsureUnmountedNothingMounted(t *testing.T) {
	u, unmounted := testUnmounter(t, "tmpfs /tmp tmpfs rw 0 0\n", confirm.Auto(false))

	// no prompt should fire when nothing is mounted, even with auto-no
	require.NoError(t, u.EnsureUnmounted(context.Background(), testParts))
	assert.Empty(t, *unmounted)
}

func TestEnsureUnmountedConfirmed(t *testing.T) {
	u, unmounted := testUnmounter(t,
		"/dev/sda1 /mnt/root ext4 rw 0 0\n/dev/sda2 /mnt/boot vfat rw 0 0\n",
		confirm.Auto(true))

	require.NoError(t, u.EnsureUnmounted(context.Background(), testParts))
	assert.Equal(t, []string{"/mnt/root", "/mnt/boot"}, *unmounted)
}

func TestEnsureUnmountedDeclined(t *testing.T) {
	u, unmounted := testUnmounter(t, "/dev/sda1 /mnt/root ext4 rw 0 0\n", confirm.Auto(false))

	err := u.EnsureUnmounted(context.Background(), testParts)
	assert.ErrorIs(t, err, errdefs.ErrCancelled)
	assert.Empty(t, *unmounted)
}
