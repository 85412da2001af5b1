package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
)

func compress(data []byte, compression string) ([]byte, error) {
	var buf bytes.Buffer
	switch compression {
	case batchconfig.CompressionNone:
		return data, nil
	case batchconfig.CompressionGzip:
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	case batchconfig.CompressionZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
	return buf.Bytes(), nil
}

// decompressor wraps r according to the file extension of name.
func decompressor(r io.Reader, name string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ExtGzip):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case strings.HasSuffix(name, ExtZstd):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
