// Package mounts gates destructive work on mounted partitions: it finds
// what is mounted, asks for confirmation, and unmounts. Declining is a
// cancellation, not a failure.
package mounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/confirm"
	"github.com/ID-Robots/skycore/internal/errdefs"
	"github.com/ID-Robots/skycore/internal/inspect"
)

// Unmounter asks before unmounting and then unmounts.
type Unmounter struct {
	Inspector *inspect.Inspector
	Policy    confirm.Policy

	run func(ctx context.Context, name string, args ...string) (string, error)
	log *logrus.Logger
}

// New creates an Unmounter.
func New(ins *inspect.Inspector, policy confirm.Policy, log *logrus.Logger) *Unmounter {
	return &Unmounter{
		Inspector: ins,
		Policy:    policy,
		run:       cmd.RunContext,
		log:       log,
	}
}

// EnsureUnmounted checks every partition for active mounts. If any are
// found it asks once, listing them all, then unmounts each mount point.
// Declining returns errdefs.ErrCancelled before anything is touched.
func (u *Unmounter) EnsureUnmounted(ctx context.Context, parts []inspect.Partition) error {
	type mountedPart struct {
		partition string
		points    []string
	}

	var mounted []mountedPart
	for _, p := range parts {
		mps, err := u.Inspector.MountPoints(p.Path)
		if err != nil {
			return err
		}
		if len(mps) > 0 {
			mounted = append(mounted, mountedPart{partition: p.Path, points: mps})
		}
	}

	if len(mounted) == 0 {
		return nil
	}

	var lines []string
	for _, m := range mounted {
		lines = append(lines, fmt.Sprintf("%s -> %s", m.partition, strings.Join(m.points, ", ")))
	}

	ok, err := u.Policy.Confirm(fmt.Sprintf("The following partitions are mounted and must be unmounted to continue:\n  %s\nUnmount them now?",
		strings.Join(lines, "\n  ")))
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.ErrCancelled
	}

	for _, m := range mounted {
		for _, mp := range m.points {
			u.log.WithFields(logrus.Fields{"partition": m.partition, "mountpoint": mp}).Info("unmounting")
			if _, err := u.run(ctx, "umount", mp); err != nil {
				return fmt.Errorf("unmounting %s: %w", mp, err)
			}
		}
	}

	return nil
}
