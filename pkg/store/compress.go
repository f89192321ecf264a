package store

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// compressBlob gzip-compresses b for storage in the hot tier.
func compressBlob(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressBlob reverses compressBlob.
func decompressBlob(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed blob: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob: %w", err)
	}
	return out, nil
}
