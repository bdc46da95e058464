package tarfs

import (
	"bufio"
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

type decompressor func(r io.Reader) (io.Reader, error)

func bzip2Decompressor(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

func xzDecompressor(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r)
}

// gzipDecompressor inflates ahead of the tar reader on separate goroutines.
// Closing the reader stops them.
func gzipDecompressor(r io.Reader) (io.Reader, error) {
	return pgzip.NewReader(r)
}

func lz4Decompressor(r io.Reader) (io.Reader, error) {
	return lz4.NewReader(r), nil
}

func zstdDecompressor(r io.Reader) (io.Reader, error) {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

// Match reports whether magic matches b. Magic may contain "?" wildcards.
func match(magic string, b []byte) bool {
	if len(magic) != len(b) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

var decompressors = []struct {
	magic  string
	decomp decompressor
}{
	{"BZh", bzip2Decompressor},
	{"\x1f\x8b", gzipDecompressor},
	{"\xfd7zXZ\x00", xzDecompressor},
	{"\x28\xb5\x2f\xfd", zstdDecompressor},
	{"\x04\x22\x4d\x18", lz4Decompressor},
}

// maybeDecompress returns a transparent decompressed Reader based on rd's magic
func maybeDecompress(rd io.Reader) (io.Reader, error) {
	r := bufio.NewReader(rd)
	for _, d := range decompressors {
		// Short files match nothing and are returned as is.
		b, _ := r.Peek(len(d.magic))
		if match(d.magic, b) {
			return d.decomp(r)
		}
	}
	return r, nil
}
