package sevenzip

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// maxItems bounds every count read from a header before anything is
// allocated for it.
const maxItems = 1 << 24

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// byteReader decodes the primitive types of the 7z header format from an
// in-memory buffer. Every read is bounds-checked against the end of buf.
type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(buf []byte) *byteReader {
	return &byteReader{buf: buf}
}

func (r *byteReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *byteReader) truncated(what string, n int) error {
	return errors.Wrapf(ErrTruncated, "%s: need %d bytes at offset %d, have %d", what, n, r.pos, r.remaining())
}

func (r *byteReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, r.truncated("byte", 1)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, r.truncated("bytes", n)
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *byteReader) readUint32() (uint32, error) {
	p, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *byteReader) readUint64() (uint64, error) {
	p, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// readNumber decodes the variable-length integer encoding of 7z: the number
// of leading one bits of the first byte is the number of little-endian
// bytes that follow, and the remaining low bits of the first byte are the
// most significant bits of the value.
func (r *byteReader) readNumber() (uint64, error) {
	first, err := r.readByte()
	if err != nil {
		return 0, err
	}
	var (
		mask  byte = 0x80
		value uint64
	)
	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			high := uint64(first & (mask - 1))
			return value | high<<(8*uint(i)), nil
		}
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b) << (8 * uint(i))
		mask >>= 1
	}
	return value, nil
}

// readInt reads a number used as a count or index and checks it against
// limit.
func (r *byteReader) readInt(what string, limit int) (int, error) {
	v, err := r.readNumber()
	if err != nil {
		return 0, err
	}
	if v > uint64(limit) {
		return 0, errors.Wrapf(ErrFormat, "%s %d exceeds limit %d", what, v, limit)
	}
	return int(v), nil
}

// readString reads a NUL terminated UTF-16LE string.
func (r *byteReader) readString() (string, error) {
	rest := r.buf[r.pos:]
	n := len(rest) &^ 1
	i := 0
	for ; i < n; i += 2 {
		if rest[i] == 0 && rest[i+1] == 0 {
			break
		}
	}
	if i == n {
		return "", errors.Wrapf(ErrTruncated, "unterminated string at offset %d", r.pos)
	}
	s, err := utf16le.NewDecoder().Bytes(rest[:i])
	if err != nil {
		return "", errors.Wrapf(ErrFormat, "string at offset %d: %v", r.pos, err)
	}
	r.pos += i + 2
	return string(s), nil
}

// readBoolVector reads n bits, most significant bit first.
func (r *byteReader) readBoolVector(n int) ([]bool, error) {
	if (n+7)/8 > r.remaining() {
		return nil, r.truncated("bit vector", (n+7)/8)
	}
	v := make([]bool, n)
	var b, mask byte
	for i := range v {
		if mask == 0 {
			b = r.buf[r.pos]
			r.pos++
			mask = 0x80
		}
		v[i] = b&mask != 0
		mask >>= 1
	}
	return v, nil
}

// readBoolVector2 reads an "all defined" byte optionally followed by a bit
// vector.
func (r *byteReader) readBoolVector2(n int) ([]bool, error) {
	all, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if all == 0 {
		return r.readBoolVector(n)
	}
	v := make([]bool, n)
	for i := range v {
		v[i] = true
	}
	return v, nil
}

// readDigests reads n optional CRC-32 values. Undefined values are zero.
func (r *byteReader) readDigests(n int) ([]bool, []uint32, error) {
	defined, err := r.readBoolVector2(n)
	if err != nil {
		return nil, nil, err
	}
	crcs := make([]uint32, n)
	for i := range crcs {
		if !defined[i] {
			continue
		}
		if crcs[i], err = r.readUint32(); err != nil {
			return nil, nil, err
		}
	}
	return defined, crcs, nil
}

// readUint64DefVector reads n optional 64-bit values, as used for file
// times and start positions.
func (r *byteReader) readUint64DefVector(n int) ([]bool, []uint64, error) {
	defined, err := r.readBoolVector2(n)
	if err != nil {
		return nil, nil, err
	}
	if err := r.readExternal(); err != nil {
		return nil, nil, err
	}
	values := make([]uint64, n)
	for i := range values {
		if !defined[i] {
			continue
		}
		if values[i], err = r.readUint64(); err != nil {
			return nil, nil, err
		}
	}
	return defined, values, nil
}

// readExternal reads the external flag preceding some vectors. Data stored
// in additional streams is not supported.
func (r *byteReader) readExternal() error {
	external, err := r.readByte()
	if err != nil {
		return err
	}
	if external != 0 {
		return errors.Wrapf(ErrUnsupported, "external data at offset %d", r.pos-1)
	}
	return nil
}

func (r *byteReader) skip(n uint64) error {
	if n > uint64(r.remaining()) {
		return r.truncated("skip", int(minUint64(n, maxItems)))
	}
	r.pos += int(n)
	return nil
}

// skipData skips a property whose size is stored as a number.
func (r *byteReader) skipData() error {
	n, err := r.readNumber()
	if err != nil {
		return err
	}
	return r.skip(n)
}

// findAttribute skips properties until id is found. It reports false if
// the end marker is reached first.
func (r *byteReader) findAttribute(id byte) (bool, error) {
	for {
		t, err := r.readByte()
		if err != nil {
			return false, err
		}
		switch t {
		case id:
			return true, nil
		case idEnd:
			return false, nil
		}
		if err := r.skipData(); err != nil {
			return false, err
		}
	}
}

// expect reads a property id and fails unless it is id.
func (r *byteReader) expect(id byte) error {
	t, err := r.readByte()
	if err != nil {
		return err
	}
	if t != id {
		return errors.Wrapf(ErrFormat, "offset %d: got property %s, want %s", r.pos-1, propertyID(t), propertyID(id))
	}
	return nil
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
