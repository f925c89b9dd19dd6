package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithm names accepted in config.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// Codec compresses request payloads with a configured algorithm.
type Codec struct {
	name string
	// zstd encoders are expensive; one is created up front and
	// reused for every batch.
	zstdEnc *zstd.Encoder
}

// NewCodec creates a Codec for the named algorithm.
func NewCodec(name string) (*Codec, error) {
	c := &Codec{name: name}

	if name == CompressionZstd {
		enc, err := zstd.NewWriter(
			nil, zstd.WithEncoderLevel(zstd.SpeedDefault),
		)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstdEnc = enc
	}

	return c, nil
}

// Encode compresses data with the configured algorithm.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	switch c.name {
	case CompressionNone, "":
		return data, nil
	case CompressionGzip:
		return encodeWriter(data, func(buf *bytes.Buffer) writeCloser {
			return gzip.NewWriter(buf)
		})
	case CompressionZlib:
		return encodeWriter(data, func(buf *bytes.Buffer) writeCloser {
			return zlib.NewWriter(buf)
		})
	case CompressionZstd:
		return c.zstdEnc.EncodeAll(data, make([]byte, 0, len(data))), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.name)
	}
}

// ContentEncoding returns the Content-Encoding header value, or empty
// when the payload goes out uncompressed.
func (c *Codec) ContentEncoding() string {
	switch c.name {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Close releases encoder resources.
func (c *Codec) Close() error {
	if c.zstdEnc != nil {
		return c.zstdEnc.Close()
	}

	return nil
}

type writeCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

func encodeWriter(
	data []byte,
	newWriter func(*bytes.Buffer) writeCloser,
) ([]byte, error) {
	var buf bytes.Buffer

	w := newWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}

	return buf.Bytes(), nil
}
