// Package sztest writes small 7z archives for tests.
package sztest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/text/encoding/unicode"
)

// Property IDs used by the writer.
const (
	kEnd             = 0x00
	kHeader          = 0x01
	kMainStreamsInfo = 0x04
	kFilesInfo       = 0x05
	kPackInfo        = 0x06
	kUnpackInfo      = 0x07
	kSubStreamsInfo  = 0x08
	kSize            = 0x09
	kCRC             = 0x0A
	kFolder          = 0x0B
	kCodersUnpackSz  = 0x0C
	kNumUnpackStream = 0x0D
	kEmptyStream     = 0x0E
	kEmptyFile       = 0x0F
	kName            = 0x11
	kMTime           = 0x14
	kWinAttributes   = 0x15
	kEncodedHeader   = 0x17
	kDummy           = 0x19
)

// Signature is the 7z magic.
var Signature = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// Coder compresses the content of a folder.
type Coder struct {
	ID     uint64
	Encode func(data []byte) (props, packed []byte, err error)
}

// Coders for the methods the reader supports by default.
var (
	LZMA    = Coder{ID: 0x030101, Encode: encodeLZMA}
	LZMA2   = Coder{ID: 0x21, Encode: encodeLZMA2}
	Copy    = Coder{ID: 0x00, Encode: encodeCopy}
	Deflate = Coder{ID: 0x040108, Encode: encodeDeflate}
	Zstd    = Coder{ID: 0x04F71101, Encode: encodeZstd}
	LZ4     = Coder{ID: 0x04F71104, Encode: encodeLZ4}
)

// Stored returns a coder that stores data unchanged under method id.
func Stored(id uint64) Coder {
	return Coder{ID: id, Encode: encodeCopy}
}

// Entry is a file or directory to store.
type Entry struct {
	Name    string
	Data    []byte
	Dir     bool
	ModTime time.Time
}

// Archive describes the archive to write. The zero value writes an LZMA
// compressed archive of format version 0.4 with all CRCs.
type Archive struct {
	Coder Coder
	Minor byte

	// EncodeHeader compresses the header with LZMA.
	EncodeHeader bool

	// OmitCRC leaves out folder and substream CRCs.
	OmitCRC bool

	// Padding adds a kDummy record of that many zero bytes to the files
	// info.
	Padding int

	// FilesPerFolder puts the contents of that many files into each
	// folder. Zero puts all of them into one.
	FilesPerFolder int

	// Filter, if non-zero, adds a coder of that method ahead of Coder in
	// every folder, fed by Coder's output. The content is not run through
	// it, so only the folder layout is meaningful.
	Filter uint64
}

// Build writes entries with the default settings.
func Build(entries ...Entry) ([]byte, error) {
	return (&Archive{}).Build(entries...)
}

// folder is one folder to write: its coder, its packed bytes and the
// substreams it holds.
type folder struct {
	method  uint64
	filter  uint64
	props   []byte
	packed  []byte
	size    uint64
	crc     uint32
	sizes   []uint64
	crcs    []uint32
	content []byte
}

// Build writes an archive holding entries, in order.
func (a *Archive) Build(entries ...Entry) ([]byte, error) {
	coder := a.Coder
	if coder.Encode == nil {
		coder = LZMA
	}
	minor := a.Minor
	if minor == 0 {
		minor = 4
	}

	var folders []folder
	for _, e := range entries {
		if !hasStream(e) {
			continue
		}
		if len(folders) == 0 || (a.FilesPerFolder > 0 && len(folders[len(folders)-1].sizes) == a.FilesPerFolder) {
			folders = append(folders, folder{method: coder.ID, filter: a.Filter})
		}
		f := &folders[len(folders)-1]
		f.content = append(f.content, e.Data...)
		f.sizes = append(f.sizes, uint64(len(e.Data)))
		f.crcs = append(f.crcs, crc32.ChecksumIEEE(e.Data))
	}

	var packed []byte
	for i := range folders {
		f := &folders[i]
		props, p, err := coder.Encode(f.content)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding folder %d", i)
		}
		f.props, f.packed = props, p
		f.size = uint64(len(f.content))
		f.crc = crc32.ChecksumIEEE(f.content)
		packed = append(packed, p...)
	}

	hdr := new(bytes.Buffer)
	hdr.WriteByte(kHeader)
	if len(folders) > 0 {
		hdr.WriteByte(kMainStreamsInfo)
		writeStreamsInfo(hdr, 0, folders, a.OmitCRC, true)
	}
	writeFilesInfo(hdr, entries, a.Padding)
	hdr.WriteByte(kEnd)

	header := hdr.Bytes()
	if a.EncodeHeader {
		props, p, err := encodeLZMA(header)
		if err != nil {
			return nil, errors.Wrap(err, "encoding header")
		}
		enc := new(bytes.Buffer)
		enc.WriteByte(kEncodedHeader)
		writeStreamsInfo(enc, uint64(len(packed)), []folder{{
			method: LZMA.ID,
			props:  props,
			packed: p,
			size:   uint64(len(header)),
			crc:    crc32.ChecksumIEEE(header),
		}}, false, false)
		packed = append(packed, p...)
		header = enc.Bytes()
	}

	out := new(bytes.Buffer)
	out.Write(StartHeader(minor, uint64(len(packed)), uint64(len(header)), crc32.ChecksumIEEE(header)))
	out.Write(packed)
	out.Write(header)
	return out.Bytes(), nil
}

// StartHeader returns the 32 byte start header.
func StartHeader(minor byte, nextOffset, nextSize uint64, nextCRC uint32) []byte {
	b := make([]byte, 32)
	copy(b, Signature)
	b[7] = minor
	binary.LittleEndian.PutUint64(b[12:], nextOffset)
	binary.LittleEndian.PutUint64(b[20:], nextSize)
	binary.LittleEndian.PutUint32(b[28:], nextCRC)
	binary.LittleEndian.PutUint32(b[8:], crc32.ChecksumIEEE(b[12:]))
	return b
}

func hasStream(e Entry) bool {
	return !e.Dir && len(e.Data) > 0
}

// writeStreamsInfo writes a streams info block with one pack stream per
// folder, followed by the substreams block if sub is set.
func writeStreamsInfo(w *bytes.Buffer, packPos uint64, folders []folder, omitCRC, sub bool) {
	w.WriteByte(kPackInfo)
	WriteNumber(w, packPos)
	WriteNumber(w, uint64(len(folders)))
	w.WriteByte(kSize)
	for _, f := range folders {
		WriteNumber(w, uint64(len(f.packed)))
	}
	w.WriteByte(kEnd)

	w.WriteByte(kUnpackInfo)
	w.WriteByte(kFolder)
	WriteNumber(w, uint64(len(folders)))
	w.WriteByte(0) // external
	for _, f := range folders {
		writeFolder(w, f)
	}
	w.WriteByte(kCodersUnpackSz)
	for _, f := range folders {
		if f.filter != 0 {
			WriteNumber(w, f.size)
		}
		WriteNumber(w, f.size)
	}
	if !omitCRC {
		w.WriteByte(kCRC)
		w.WriteByte(1) // all defined
		for _, f := range folders {
			writeUint32(w, f.crc)
		}
	}
	w.WriteByte(kEnd)
	if sub {
		writeSubStreams(w, folders, omitCRC)
	}
	w.WriteByte(kEnd)
}

// writeFolder writes the coder graph of f. With a filter, coder 0 is the
// filter producing the folder output and coder 1 decodes the pack stream
// into the filter's input.
func writeFolder(w *bytes.Buffer, f folder) {
	if f.filter == 0 {
		WriteNumber(w, 1)
		writeCoder(w, f.method, f.props)
		return
	}
	WriteNumber(w, 2)
	writeCoder(w, f.filter, nil)
	writeCoder(w, f.method, f.props)
	// in 0 <- out 1
	WriteNumber(w, 0)
	WriteNumber(w, 1)
}

func writeCoder(w *bytes.Buffer, method uint64, props []byte) {
	id := methodBytes(method)
	flags := byte(len(id))
	if len(props) > 0 {
		flags |= 0x20
	}
	w.WriteByte(flags)
	w.Write(id)
	if len(props) > 0 {
		WriteNumber(w, uint64(len(props)))
		w.Write(props)
	}
}

func writeSubStreams(w *bytes.Buffer, folders []folder, omitCRC bool) {
	w.WriteByte(kSubStreamsInfo)
	w.WriteByte(kNumUnpackStream)
	multi := false
	for _, f := range folders {
		WriteNumber(w, uint64(len(f.sizes)))
		multi = multi || len(f.sizes) > 1
	}
	if multi {
		w.WriteByte(kSize)
		for _, f := range folders {
			for _, s := range f.sizes[:len(f.sizes)-1] {
				WriteNumber(w, s)
			}
		}
		// A single substream takes the folder CRC.
		if !omitCRC {
			w.WriteByte(kCRC)
			w.WriteByte(1)
			for _, f := range folders {
				if len(f.sizes) > 1 {
					for _, c := range f.crcs {
						writeUint32(w, c)
					}
				}
			}
		}
	}
	w.WriteByte(kEnd)
}

func writeFilesInfo(w *bytes.Buffer, entries []Entry, padding int) {
	w.WriteByte(kFilesInfo)
	WriteNumber(w, uint64(len(entries)))

	var emptyStream, emptyFile []bool
	anyEmpty := false
	for _, e := range entries {
		empty := !hasStream(e)
		emptyStream = append(emptyStream, empty)
		if empty {
			anyEmpty = true
			emptyFile = append(emptyFile, !e.Dir)
		}
	}
	if anyEmpty {
		writeProperty(w, kEmptyStream, func(b *bytes.Buffer) { WriteBoolVector(b, emptyStream) })
		writeProperty(w, kEmptyFile, func(b *bytes.Buffer) { WriteBoolVector(b, emptyFile) })
	}

	writeProperty(w, kName, func(b *bytes.Buffer) {
		b.WriteByte(0) // external
		enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
		for _, e := range entries {
			s, _ := enc.Bytes([]byte(e.Name))
			b.Write(s)
			b.Write([]byte{0, 0})
		}
	})

	writeProperty(w, kMTime, func(b *bytes.Buffer) {
		b.WriteByte(1) // all defined
		b.WriteByte(0) // external
		for _, e := range entries {
			writeUint64(b, Filetime(e.ModTime))
		}
	})

	writeProperty(w, kWinAttributes, func(b *bytes.Buffer) {
		b.WriteByte(1)
		b.WriteByte(0)
		for _, e := range entries {
			var attr uint32 = 0x20
			if e.Dir {
				attr = 0x10
			}
			writeUint32(b, attr)
		}
	})

	if padding > 0 {
		writeProperty(w, kDummy, func(b *bytes.Buffer) { b.Write(make([]byte, padding)) })
	}
	w.WriteByte(kEnd)
}

func writeProperty(w *bytes.Buffer, id byte, body func(b *bytes.Buffer)) {
	var b bytes.Buffer
	body(&b)
	w.WriteByte(id)
	WriteNumber(w, uint64(b.Len()))
	w.Write(b.Bytes())
}

// WriteNumber appends v in the variable-length number encoding.
func WriteNumber(w *bytes.Buffer, v uint64) {
	for n := uint(0); n < 8; n++ {
		if v < 1<<(7*(n+1)) {
			w.WriteByte(byte(uint(0xFF00)>>n) | byte(v>>(8*n)))
			for i := uint(0); i < n; i++ {
				w.WriteByte(byte(v >> (8 * i)))
			}
			return
		}
	}
	w.WriteByte(0xFF)
	writeUint64(w, v)
}

// WriteBoolVector appends v packed most significant bit first.
func WriteBoolVector(w *bytes.Buffer, v []bool) {
	var b, mask byte = 0, 0x80
	for _, bit := range v {
		if bit {
			b |= mask
		}
		if mask >>= 1; mask == 0 {
			w.WriteByte(b)
			b, mask = 0, 0x80
		}
	}
	if mask != 0x80 {
		w.WriteByte(b)
	}
}

// Filetime converts t to Windows FILETIME ticks. The zero time maps to 0.
func Filetime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix()+11644473600)*10000000 + uint64(t.Nanosecond()/100)
}

func methodBytes(id uint64) []byte {
	if id == 0 {
		return []byte{0}
	}
	var b []byte
	for ; id != 0; id >>= 8 {
		b = append([]byte{byte(id)}, b...)
	}
	return b
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func encodeCopy(data []byte) ([]byte, []byte, error) {
	return nil, append([]byte(nil), data...), nil
}

func encodeLZMA(data []byte) ([]byte, []byte, error) {
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{
		DictCap:      1 << 20,
		SizeInHeader: true,
		Size:         int64(len(data)),
	}.NewWriter(&buf)
	if err != nil {
		return nil, nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, nil, err
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}
	out := buf.Bytes()
	return append([]byte(nil), out[:5]...), out[13:], nil
}

func encodeLZMA2(data []byte) ([]byte, []byte, error) {
	var buf bytes.Buffer
	w, err := lzma.Writer2Config{DictCap: 1 << 20}.NewWriter2(&buf)
	if err != nil {
		return nil, nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, nil, err
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}
	// (2 | 16&1) << (16/2 + 11) == 1<<20
	return []byte{16}, buf.Bytes(), nil
}

func encodeDeflate(data []byte) ([]byte, []byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, nil, err
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}
	return nil, buf.Bytes(), nil
}

func encodeZstd(data []byte) ([]byte, []byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, nil, err
	}
	defer enc.Close()
	return nil, enc.EncodeAll(data, nil), nil
}

// encodeLZ4 writes an LZ4 frame. The properties are the version and level
// bytes 7-Zip ZS records, padded to five bytes.
func encodeLZ4(data []byte) ([]byte, []byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, nil, err
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}
	return []byte{1, 9, 3, 0, 0}, buf.Bytes(), nil
}
