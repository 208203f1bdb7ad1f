package storage

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the payload size above which end actors zstd
// compress a document before writing it to object storage.
const CompressThreshold = 256 * 1024

// Compress zstd-encodes data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("storage: creating zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("storage: compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("storage: closing zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("storage: creating zstd reader: %w", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("storage: decompressing: %w", err)
	}
	return buf.Bytes(), nil
}
