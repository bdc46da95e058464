package sevenzip

import "github.com/pkg/errors"

// Error kinds. Every error returned while opening an archive wraps exactly
// one of these and can be tested for with errors.Is.
var (
	// ErrTruncated is returned when a read would cross the end of a header
	// buffer or of the archive itself.
	ErrTruncated = errors.New("sevenzip: truncated input")

	// ErrSignature is returned when the start header magic is wrong.
	ErrSignature = errors.New("sevenzip: not a 7z archive")

	// ErrVersion is returned for archive format versions this reader does
	// not understand.
	ErrVersion = errors.New("sevenzip: unsupported format version")

	// ErrChecksum is returned when a start header, header or content CRC
	// does not match.
	ErrChecksum = errors.New("sevenzip: checksum mismatch")

	// ErrFormat is returned for structurally impossible headers.
	ErrFormat = errors.New("sevenzip: malformed archive")

	// ErrUnsupported is returned for valid archives using features this
	// reader does not implement, such as unknown coders or external data.
	ErrUnsupported = errors.New("sevenzip: unsupported feature")

	// ErrDecode is returned when a decompressor fails or produces a
	// different amount of data than declared.
	ErrDecode = errors.New("sevenzip: decode failure")
)
