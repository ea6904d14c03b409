package imaging

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/ID-Robots/skycore/internal/errdefs"
)

// Compressor is an external stream compressor. The image file extension
// records which one was actually used, so restore never has to guess.
type Compressor struct {
	Tool string
	Ext  string
	Args []string
}

// compressorChain is the ordered preference list: lz4 is much faster on
// Jetson-class hardware, gzip is the universally-available fallback.
var compressorChain = []Compressor{
	{Tool: "lz4", Ext: ".lz4", Args: []string{"-z", "-c"}},
	{Tool: "gzip", Ext: ".gz", Args: []string{"-c"}},
}

// Compressor picks the first available compressor on the host.
func (r *Registry) Compressor() (Compressor, error) {
	for _, c := range compressorChain {
		if _, err := r.lookPath(c.Tool); err == nil {
			return c, nil
		}
	}
	return Compressor{}, fmt.Errorf("%w: no compressor available (tried lz4, gzip)", errdefs.ErrToolMissing)
}

// DecompressReader wraps r with the decompressor matching the image
// filename, or returns r unchanged for uncompressed images. Decompression
// on restore happens in-process; there is no dependency on the external
// tools that produced the stream.
func DecompressReader(name string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream %s: %w", name, err)
		}
		return zr, nil
	case strings.HasSuffix(name, ".lz4"):
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}
