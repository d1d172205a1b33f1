package localfs

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

const encodingZstd = "zstd"

// Formats whose payloads are already compressed; zstd only burns CPU on them.
var precompressed = map[string]struct{}{
	"jpg": {}, "png": {}, "gif": {}, "webp": {},
	"docx": {}, "xlsx": {}, "pptx": {}, "odt": {}, "ods": {}, "odp": {},
	"epub": {}, "zip": {},
}

func shouldCompress(enabled bool, format string) bool {
	if !enabled {
		return false
	}
	_, skip := precompressed[format]
	return !skip
}

// encodeTo copies src into dst, compressing with zstd when encoding is set.
func encodeTo(dst io.Writer, src io.Reader, encoding string) error {
	if encoding != encodingZstd {
		_, err := io.Copy(dst, src)
		return err
	}
	zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

type zstdReadCloser struct {
	*zstd.Decoder
	file *os.File
}

func (r *zstdReadCloser) Close() error {
	r.Decoder.Close()
	return r.file.Close()
}

func decodeFrom(f *os.File, encoding string) (io.ReadCloser, error) {
	if encoding != encodingZstd {
		return f, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdReadCloser{Decoder: zr, file: f}, nil
}
