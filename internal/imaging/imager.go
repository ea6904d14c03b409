package imaging

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ID-Robots/skycore/internal/inspect"
)

// Imager clones partitions to image files and restores them. Cloning is
// fail-fast: a partial backup is worse than none, so any codec or
// compressor failure aborts the operation instead of being retried.
type Imager struct {
	Inspector *inspect.Inspector
	Registry  *Registry

	log *logrus.Logger
}

// NewImager wires an Imager against a live inspector and codec registry.
func NewImager(ins *inspect.Inspector, log *logrus.Logger) *Imager {
	return &Imager{
		Inspector: ins,
		Registry:  NewRegistry(log),
		log:       log,
	}
}

// ClonePartition images one partition into outDir as
// <prefix>_p<N>.img[.lz4|.gz] and returns the image path. The codec is
// chosen by filesystem type; compression, when requested, pipes the codec
// output through the first available compressor.
func (im *Imager) ClonePartition(part inspect.Partition, outDir, prefix string, compress bool) (string, error) {
	fstype := im.Inspector.FilesystemType(part.Path)

	codec, err := im.Registry.CodecFor(fstype)
	if err != nil {
		return "", err
	}

	ext := ""
	var comp Compressor
	if compress {
		comp, err = im.Registry.Compressor()
		if err != nil {
			return "", err
		}
		ext = comp.Ext
	}

	imagePath := filepath.Join(outDir, ImageName(prefix, part.Number, ext))

	im.log.WithFields(logrus.Fields{
		"partition": part.Path,
		"fstype":    fstype,
		"codec":     codec.Tool,
		"image":     imagePath,
	}).Info("cloning partition")

	out, err := os.Create(imagePath)
	if err != nil {
		return "", fmt.Errorf("creating image file: %w", err)
	}
	defer out.Close()

	codecCmd := exec.Command(codec.Tool, codec.CaptureArgs(part.Path)...)

	var codecStderr bytes.Buffer
	codecCmd.Stderr = &codecStderr

	if !compress {
		codecCmd.Stdout = out
		if err := codecCmd.Run(); err != nil {
			return "", cloneError(part.Number, codecCmd, err, &codecStderr)
		}
	} else {
		pipe, err := codecCmd.StdoutPipe()
		if err != nil {
			return "", fmt.Errorf("creating codec pipe: %w", err)
		}

		compCmd := exec.Command(comp.Tool, comp.Args...)
		compCmd.Stdin = pipe
		compCmd.Stdout = out

		var compStderr bytes.Buffer
		compCmd.Stderr = &compStderr

		if err := codecCmd.Start(); err != nil {
			return "", cloneError(part.Number, codecCmd, err, &codecStderr)
		}
		if err := compCmd.Start(); err != nil {
			_ = codecCmd.Process.Kill()
			_ = codecCmd.Wait()
			return "", cloneError(part.Number, compCmd, err, &compStderr)
		}

		codecErr := codecCmd.Wait()
		compErr := compCmd.Wait()

		if codecErr != nil {
			return "", cloneError(part.Number, codecCmd, codecErr, &codecStderr)
		}
		if compErr != nil {
			return "", cloneError(part.Number, compCmd, compErr, &compStderr)
		}
	}

	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("syncing image file %s: %w", imagePath, err)
	}

	return imagePath, nil
}

// RestorePartition writes an image back onto a partition through the codec
// matching fstype, decompressing inline when the filename says so.
func (im *Imager) RestorePartition(imagePath, partition, fstype string) error {
	codec, err := im.Registry.CodecFor(fstype)
	if err != nil {
		return err
	}

	im.log.WithFields(logrus.Fields{
		"image":     filepath.Base(imagePath),
		"partition": partition,
		"fstype":    fstype,
		"codec":     codec.Tool,
	}).Info("restoring partition")

	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("opening image %s: %w", imagePath, err)
	}
	defer f.Close()

	reader, err := DecompressReader(filepath.Base(imagePath), bufio.NewReader(f))
	if err != nil {
		return err
	}
	defer reader.Close()

	restoreCmd := exec.Command(codec.Tool, codec.RestoreArgs(partition)...)
	restoreCmd.Stdin = reader

	var stderr bytes.Buffer
	restoreCmd.Stderr = &stderr

	if err := restoreCmd.Run(); err != nil {
		return fmt.Errorf("restoring %s to %s: %q failed: %w (%s)",
			filepath.Base(imagePath), partition, strings.Join(restoreCmd.Args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// cloneError names the failed partition and the exact command, per the
// fail-fast contract.
func cloneError(partNum int, command *exec.Cmd, err error, stderr *bytes.Buffer) error {
	return fmt.Errorf("cloning partition %d: %q failed: %w (%s)",
		partNum, strings.Join(command.Args, " "), err, strings.TrimSpace(stderr.String()))
}
