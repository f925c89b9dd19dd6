package http

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = []byte(
	`{"type":"api","name":"libc.connect","method":"native","args":{"sockfd":"5"}}` + "\n",
)

func TestCodec_None(t *testing.T) {
	c, err := NewCodec(CompressionNone)
	require.NoError(t, err)

	out, err := c.Encode(payload)
	require.NoError(t, err)

	assert.Equal(t, payload, out)
	assert.Empty(t, c.ContentEncoding())
}

func TestCodec_Gzip(t *testing.T) {
	c, err := NewCodec(CompressionGzip)
	require.NoError(t, err)

	out, err := c.Encode(payload)
	require.NoError(t, err)
	assert.Equal(t, "gzip", c.ContentEncoding())

	r, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer r.Close()

	decoded, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCodec_Zstd(t *testing.T) {
	c, err := NewCodec(CompressionZstd)
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Encode(payload)
	require.NoError(t, err)
	assert.Equal(t, "zstd", c.ContentEncoding())

	dec, err := zstd.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer dec.Close()

	decoded, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCodec_Snappy(t *testing.T) {
	c, err := NewCodec(CompressionSnappy)
	require.NoError(t, err)

	out, err := c.Encode(payload)
	require.NoError(t, err)
	assert.Equal(t, "snappy", c.ContentEncoding())

	decoded, err := snappy.Decode(nil, out)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCodec_UnknownAlgorithm(t *testing.T) {
	c, err := NewCodec("lz77")
	require.NoError(t, err)

	_, err = c.Encode(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}
