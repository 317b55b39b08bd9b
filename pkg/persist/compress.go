package persist

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression wraps the encoded report stream.
type Compression string

// Supported compressions, named by their file extension without the dot.
const (
	CompressionNone   Compression = ""
	CompressionLZ4    Compression = "lz4"
	CompressionZstd   Compression = "zst"
	CompressionSnappy Compression = "sz"
)

// compressionForExtension maps a trailing extension to a Compression.
func compressionForExtension(ext string) (Compression, bool) {
	switch ext {
	case lz4Extension:
		return CompressionLZ4, true
	case zstdExtension:
		return CompressionZstd, true
	case snappyExtension:
		return CompressionSnappy, true
	default:
		return CompressionNone, false
	}
}

// writer returns a compressing writer over w. Closing it flushes the
// compressed stream but leaves w open.
func (c Compression) writer(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}

		return enc, nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// reader returns a decompressing reader over r and a release function.
func (c Compression) reader(r io.Reader) (io.Reader, func(), error) {
	switch c {
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}

		return dec, dec.Close, nil
	case CompressionSnappy:
		return snappy.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
