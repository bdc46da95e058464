package sevenzip

import (
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
)

// Coder method IDs.
const (
	MethodCopy    = 0x00
	MethodDelta   = 0x03
	MethodX86     = 0x04
	MethodLZMA2   = 0x21
	MethodLZMA    = 0x030101
	MethodBCJ     = 0x03030103
	MethodBCJ2    = 0x0303011B
	MethodPPMD    = 0x030401
	MethodDeflate = 0x040108
	MethodBZip2   = 0x040202
	MethodZstd    = 0x04F71101
	MethodLZ4     = 0x04F71104
	MethodAES     = 0x06F10701
)

// Decompressor returns a reader producing the unpacked bytes of a single
// coder, given its properties, its declared unpacked size and its packed
// input.
type Decompressor func(props []byte, unpackSize uint64, r io.Reader) (io.Reader, error)

// Method describes a coder the reader can decode.
type Method struct {
	ID           uint64
	Name         string
	Decompressor Decompressor
}

// Registry maps coder method IDs to decompressors.
type Registry struct {
	mu      sync.RWMutex
	methods map[uint64]Method
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[uint64]Method)}
}

// DefaultRegistry returns a registry holding every method this package
// implements.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(Method{ID: MethodLZMA, Name: "LZMA", Decompressor: lzmaDecompressor})
	reg.Register(Method{ID: MethodLZMA2, Name: "LZMA2", Decompressor: lzma2Decompressor})
	reg.Register(Method{ID: MethodCopy, Name: "Copy", Decompressor: copyDecompressor})
	reg.Register(Method{ID: MethodDeflate, Name: "Deflate", Decompressor: deflateDecompressor})
	reg.Register(Method{ID: MethodBZip2, Name: "BZip2", Decompressor: bzip2Decompressor})
	reg.Register(Method{ID: MethodZstd, Name: "ZSTD", Decompressor: zstdDecompressor})
	reg.Register(Method{ID: MethodLZ4, Name: "LZ4", Decompressor: lz4Decompressor})
	return reg
}

// Register adds m, replacing any method with the same ID.
func (reg *Registry) Register(m Method) {
	reg.mu.Lock()
	reg.methods[m.ID] = m
	reg.mu.Unlock()
}

// Lookup returns the method registered for id.
func (reg *Registry) Lookup(id uint64) (Method, bool) {
	reg.mu.RLock()
	m, ok := reg.methods[id]
	reg.mu.RUnlock()
	return m, ok
}

// NewFilter returns a Filter decoding a stream of method id.
func (reg *Registry) NewFilter(id uint64, props []byte, unpackSize uint64) (Filter, error) {
	m, ok := reg.Lookup(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "coder method %s", methodName(id))
	}
	return newReaderFilter(func(r io.Reader) (io.Reader, error) {
		return m.Decompressor(props, unpackSize, r)
	}), nil
}

func methodName(id uint64) string {
	switch id {
	case MethodDelta:
		return "Delta"
	case MethodX86, MethodBCJ:
		return "BCJ"
	case MethodBCJ2:
		return "BCJ2"
	case MethodPPMD:
		return "PPMD"
	case MethodAES:
		return "7zAES"
	}
	return fmt.Sprintf("%#x", id)
}

const (
	lzmaHeaderLen = 13
	minDictCap    = 1 << 12
)

// clampDict limits a dictionary size to what a stream of size bytes can
// reference.
func clampDict(dict uint32, size uint64) uint32 {
	if uint64(dict) > size {
		dict = uint32(size)
	}
	if dict < minDictCap {
		dict = minDictCap
	}
	return dict
}

// lzmaDecompressor prepends the 13 byte header of the raw LZMA format to the
// packed stream: the 5 property bytes stored in the archive followed by the
// unpacked size.
func lzmaDecompressor(props []byte, size uint64, r io.Reader) (io.Reader, error) {
	if len(props) != 5 {
		return nil, errors.Wrapf(ErrFormat, "lzma: %d property bytes", len(props))
	}
	var hdr [lzmaHeaderLen]byte
	hdr[0] = props[0]
	binary.LittleEndian.PutUint32(hdr[1:], clampDict(binary.LittleEndian.Uint32(props[1:]), size))
	binary.LittleEndian.PutUint64(hdr[5:], size)
	return lzma.NewReader(&headerReader{hdr: hdr[:], r: r})
}

// headerReader serves hdr ahead of r. It reads r a byte at a time through
// ReadByte, so the LZMA decoder leaves whatever follows its stream unread.
type headerReader struct {
	hdr []byte
	r   io.Reader
}

func (h *headerReader) Read(p []byte) (int, error) {
	if len(h.hdr) > 0 {
		n := copy(p, h.hdr)
		h.hdr = h.hdr[n:]
		return n, nil
	}
	return h.r.Read(p)
}

func (h *headerReader) ReadByte() (byte, error) {
	if len(h.hdr) > 0 {
		b := h.hdr[0]
		h.hdr = h.hdr[1:]
		return b, nil
	}
	if br, ok := h.r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	_, err := io.ReadFull(h.r, b[:])
	return b[0], err
}

func lzma2Decompressor(props []byte, size uint64, r io.Reader) (io.Reader, error) {
	if len(props) != 1 || props[0] > 40 {
		return nil, errors.Wrapf(ErrFormat, "lzma2: bad properties %x", props)
	}
	dict := uint32(0xFFFFFFFF)
	if p := props[0]; p < 40 {
		dict = (2 | uint32(p)&1) << (p/2 + 11)
	}
	return lzma.Reader2Config{DictCap: int(clampDict(dict, size))}.NewReader2(r)
}

func copyDecompressor(_ []byte, _ uint64, r io.Reader) (io.Reader, error) {
	return r, nil
}

func deflateDecompressor(_ []byte, _ uint64, r io.Reader) (io.Reader, error) {
	return flate.NewReader(r), nil
}

func bzip2Decompressor(_ []byte, _ uint64, r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

func zstdDecompressor(_ []byte, _ uint64, r io.Reader) (io.Reader, error) {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

// lz4Decompressor reads LZ4 frames. The properties only record the
// encoder's version and level.
func lz4Decompressor(_ []byte, _ uint64, r io.Reader) (io.Reader, error) {
	return lz4.NewReader(r), nil
}
