package sevenzip

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textmodes.com/sevenzip/internal/sztest"
)

// record builds a header fragment. Values of type int are written as
// numbers, bytes and byte slices verbatim.
func record(parts ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		switch v := p.(type) {
		case int:
			sztest.WriteNumber(&buf, uint64(v))
		case byte:
			buf.WriteByte(v)
		case []byte:
			buf.Write(v)
		default:
			panic(v)
		}
	}
	return buf.Bytes()
}

var (
	lzmaID = []byte{0x03, 0x01, 0x01}
	bcjID  = []byte{0x03, 0x03, 0x01, 0x03}
	bcj2ID = []byte{0x03, 0x03, 0x01, 0x1b}
)

func TestReadFolder(t *testing.T) {
	tests := []struct {
		name      string
		in        []byte
		coders    int
		bindPairs []bindPair
		packed    []uint64
		err       error
	}{
		{
			name:   "single coder",
			in:     record(1, byte(0x03), lzmaID),
			coders: 1,
			packed: []uint64{0},
		},
		{
			name:      "filter fed by decoder",
			in:        record(2, byte(0x04), bcjID, byte(0x03), lzmaID, 0, 1),
			coders:    2,
			bindPairs: []bindPair{{in: 0, out: 1}},
			packed:    []uint64{1},
		},
		{
			name:      "unbound first input",
			in:        record(2, byte(0x04), bcjID, byte(0x03), lzmaID, 1, 0),
			coders:    2,
			bindPairs: []bindPair{{in: 1, out: 0}},
			packed:    []uint64{0},
		},
		{
			name: "two unbound inputs",
			in:   record(3, byte(0x03), lzmaID, byte(0x03), lzmaID, byte(0x03), lzmaID, 0, 1, 0, 2),
			err:  ErrFormat,
		},
		{
			name:   "explicit packed streams",
			in:     record(1, byte(0x14), bcj2ID, 4, 1, 2, 0, 3, 1),
			coders: 1,
			packed: []uint64{2, 0, 3, 1},
		},
		{
			name: "packed stream out of range",
			in:   record(1, byte(0x14), bcj2ID, 4, 1, 2, 0, 4, 1),
			err:  ErrFormat,
		},
		{
			name: "no packed streams",
			in:   record(1, byte(0x14), bcj2ID, 0, 1),
			err:  ErrFormat,
		},
		{
			name: "no output streams",
			in:   record(1, byte(0x14), bcj2ID, 1, 0),
			err:  ErrFormat,
		},
		{
			name: "bind pair out of range",
			in:   record(2, byte(0x04), bcjID, byte(0x03), lzmaID, 5, 1),
			err:  ErrFormat,
		},
		{
			name: "no coders",
			in:   record(0),
			err:  ErrFormat,
		},
		{
			name: "coder id size",
			in:   record(1, byte(0x09), make([]byte, 9)),
			err:  ErrFormat,
		},
		{
			name: "alternative methods",
			in:   record(1, byte(0x83), lzmaID),
			err:  ErrUnsupported,
		},
		{
			name: "truncated",
			in:   record(2, byte(0x04), bcjID, byte(0x03), lzmaID, 0),
			err:  ErrTruncated,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var f folder
			err := readFolder(newByteReader(test.in), &f)
			if test.err != nil {
				assert.True(t, errors.Is(err, test.err), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.coders, test.coders)
			assert.Equal(t, test.bindPairs, nilIfEmpty(f.bindPairs))
			assert.Equal(t, test.packed, f.packedStreams)
		})
	}
}

func nilIfEmpty(bp []bindPair) []bindPair {
	if len(bp) == 0 {
		return nil
	}
	return bp
}

func TestFolderUnpackSize(t *testing.T) {
	var f folder
	require.NoError(t, readFolder(newByteReader(record(2, byte(0x04), bcjID, byte(0x03), lzmaID, 0, 1)), &f))
	f.unpackSizes = []uint64{100, 90}
	size, err := f.unpackSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), size)

	f.bindPairs = append(f.bindPairs, bindPair{in: 1, out: 0})
	_, err = f.unpackSize()
	assert.True(t, errors.Is(err, ErrFormat), "%v", err)
}

func TestSupportedFolders(t *testing.T) {
	d := (&Archive{opts: newOptions(nil)}).decoder(nil, 0)
	for _, in := range [][]byte{
		record(2, byte(0x04), bcjID, byte(0x03), lzmaID, 0, 1),
		record(1, byte(0x14), bcj2ID, 4, 1, 0, 1, 2, 3),
	} {
		var f folder
		require.NoError(t, readFolder(newByteReader(in), &f))
		err := d.supported(&f)
		assert.True(t, errors.Is(err, ErrUnsupported), "%v", err)
	}

	var f folder
	require.NoError(t, readFolder(newByteReader(record(1, byte(0x03), lzmaID)), &f))
	assert.NoError(t, d.supported(&f))
}

func TestReadSubStreamsInfo(t *testing.T) {
	folders := []folder{
		{unpackSizes: []uint64{10}},
		{unpackSizes: []uint64{5}, crcDefined: true, crc: 0xdeadbeef},
		{unpackSizes: []uint64{7}},
	}
	in := record(byte(idNumUnpackStream), 2, 1, 0, byte(idSize), 4,
		byte(idCRC), byte(1), []byte{1, 0, 0, 0, 2, 0, 0, 0}, byte(idEnd))
	ss, err := readSubStreamsInfo(newByteReader(in), folders)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, ss.counts)
	assert.Equal(t, []uint64{4, 6, 5}, ss.sizes)
	assert.Equal(t, []bool{true, true, true}, ss.crcDefined)
	assert.Equal(t, []uint32{1, 2, 0xdeadbeef}, ss.crcs)
}

func TestReadSubStreamsInfoErrors(t *testing.T) {
	folders := []folder{{unpackSizes: []uint64{10}}}
	for name, in := range map[string][]byte{
		"sizes exceed folder": record(byte(idNumUnpackStream), 2, byte(idSize), 11, byte(idEnd)),
		"sum exceeds folder":  record(byte(idNumUnpackStream), 3, byte(idSize), 6, 5, byte(idEnd)),
		"missing sizes":       record(byte(idNumUnpackStream), 2, byte(idEnd)),
	} {
		_, err := readSubStreamsInfo(newByteReader(in), folders)
		assert.True(t, errors.Is(err, ErrFormat), "%s: %v", name, err)
	}
}

func oneStream() *subStreams {
	return &subStreams{
		counts:     []int{1},
		sizes:      []uint64{1},
		crcDefined: []bool{false},
		crcs:       []uint32{0},
	}
}

func TestReadFilesInfoPadding(t *testing.T) {
	files, err := readFilesInfo(newByteReader(record(1, byte(idDummy), 2, []byte{0, 0}, byte(idEnd))), oneStream(), true)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = readFilesInfo(newByteReader(record(1, byte(idDummy), 2, []byte{0, 1}, byte(idEnd))), oneStream(), true)
	assert.True(t, errors.Is(err, ErrFormat), "%v", err)
}

func TestReadFilesInfoRecordSize(t *testing.T) {
	// The name record holds 5 bytes but claims 6.
	in := record(1, byte(idName), 6, []byte{0, 'a', 0, 0, 0}, byte(idEnd))

	_, err := readFilesInfo(newByteReader(in), oneStream(), true)
	assert.True(t, errors.Is(err, ErrFormat), "%v", err)

	// Older versions do not check record sizes.
	files, err := readFilesInfo(newByteReader(in), oneStream(), false)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a", files[0].Name)
}

func TestReadFilesInfoSubstreamMismatch(t *testing.T) {
	two := &subStreams{
		counts:     []int{2},
		sizes:      []uint64{1, 1},
		crcDefined: []bool{false, false},
		crcs:       []uint32{0, 0},
	}
	_, err := readFilesInfo(newByteReader(record(1, byte(idEnd))), two, true)
	assert.True(t, errors.Is(err, ErrFormat), "%v", err)

	_, err = readFilesInfo(newByteReader(record(2, byte(idEnd))), oneStream(), true)
	assert.True(t, errors.Is(err, ErrFormat), "%v", err)
}

func TestReadHeaderRejects(t *testing.T) {
	for _, test := range []struct {
		in  []byte
		err error
	}{
		{[]byte{idArchiveProperties}, ErrUnsupported},
		{[]byte{idAdditionalStreamsInfo}, ErrUnsupported},
		{[]byte{idPackInfo}, ErrFormat},
		{[]byte{idFilesInfo, 0, idEnd, idCRC}, ErrFormat},
	} {
		a := &Archive{opts: newOptions(nil)}
		_, err := a.readHeader(newByteReader(test.in))
		assert.True(t, errors.Is(err, test.err), "%x: %v", test.in, err)
	}
}
