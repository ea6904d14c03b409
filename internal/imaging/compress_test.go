package imaging

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ID-Robots/skycore/internal/errdefs"
)

func TestCompressorPrefersLZ4(t *testing.T) {
	c, err := fakeRegistry("lz4", "gzip").Compressor()
	require.NoError(t, err)
	assert.Equal(t, "lz4", c.Tool)
	assert.Equal(t, ".lz4", c.Ext)
}

func TestCompressorFallsBackToGzip(t *testing.T) {
	c, err := fakeRegistry("gzip", "dd").Compressor()
	require.NoError(t, err)
	assert.Equal(t, "gzip", c.Tool)
	assert.Equal(t, ".gz", c.Ext)
}

func TestCompressorNoneAvailable(t *testing.T) {
	_, err := fakeRegistry("dd").Compressor()
	assert.ErrorIs(t, err, errdefs.ErrToolMissing)
}

func TestDecompressReaderGzip(t *testing.T) {
	payload := []byte("partition image bytes")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r, err := DecompressReader("x_p1.img.gz", &buf)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecompressReaderLZ4(t *testing.T) {
	payload := []byte("partition image bytes")

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r, err := DecompressReader("x_p1.img.lz4", &buf)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecompressReaderPassthrough(t *testing.T) {
	payload := []byte("raw")

	r, err := DecompressReader("x_p1.img", bytes.NewReader(payload))
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
