package sevenzip

import (
	"bytes"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textmodes.com/sevenzip/internal/sztest"
)

func TestReadNumber(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 21, math.MaxUint32, 1 << 56, math.MaxInt64, math.MaxUint64} {
		var buf bytes.Buffer
		sztest.WriteNumber(&buf, v)
		r := newByteReader(buf.Bytes())
		got, err := r.readNumber()
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
		assert.Zero(t, r.remaining(), "value %d left bytes", v)
	}
}

func TestReadNumberLayout(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x80}, 128},
		{[]byte{0xbf, 0xff}, 16383},
		{[]byte{0xc0, 0x00, 0x40}, 16384},
		{[]byte{0xff, 1, 0, 0, 0, 0, 0, 0, 0}, 1},
	}
	for _, test := range tests {
		got, err := newByteReader(test.in).readNumber()
		require.NoError(t, err)
		assert.Equal(t, test.want, got, "% x", test.in)
	}
}

func TestReadNumberTruncated(t *testing.T) {
	for _, in := range [][]byte{{}, {0x80}, {0xc0, 0x00}, {0xff, 1, 2, 3}} {
		_, err := newByteReader(in).readNumber()
		assert.True(t, errors.Is(err, ErrTruncated), "% x: %v", in, err)
	}
}

func TestReadBoolVector(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 100} {
		v := make([]bool, n)
		for i := range v {
			v[i] = (i*7+3)%5 < 2
		}
		var buf bytes.Buffer
		sztest.WriteBoolVector(&buf, v)
		assert.Equal(t, (n+7)/8, buf.Len())

		r := newByteReader(buf.Bytes())
		got, err := r.readBoolVector(n)
		require.NoError(t, err)
		assert.Equal(t, v, got, "length %d", n)
		assert.Zero(t, r.remaining())
	}
}

func TestReadBoolVectorMSBFirst(t *testing.T) {
	got, err := newByteReader([]byte{0xa0}).readBoolVector(3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, got)
}

func TestReadBoolVectorTruncated(t *testing.T) {
	_, err := newByteReader([]byte{0xff}).readBoolVector(9)
	assert.True(t, errors.Is(err, ErrTruncated), "%v", err)
}

func TestReadBoolVector2AllDefined(t *testing.T) {
	got, err := newByteReader([]byte{1}).readBoolVector2(3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, got)
}

func TestReadDigests(t *testing.T) {
	r := newByteReader([]byte{0, 0x40, 0x78, 0x56, 0x34, 0x12})
	defined, crcs, err := r.readDigests(2)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, defined)
	assert.Equal(t, []uint32{0, 0x12345678}, crcs)
}

func TestReadString(t *testing.T) {
	// "a", U+1F600 as a surrogate pair, "b"
	in := []byte{'a', 0, 0x3d, 0xd8, 0x00, 0xde, 'b', 0, 0, 0, 'x'}
	r := newByteReader(in)
	s, err := r.readString()
	require.NoError(t, err)
	assert.Equal(t, "a\U0001F600b", s)
	assert.Equal(t, 1, r.remaining())
}

func TestReadStringUnterminated(t *testing.T) {
	_, err := newByteReader([]byte{'a', 0, 'b'}).readString()
	assert.True(t, errors.Is(err, ErrTruncated), "%v", err)
}

func TestReadExternal(t *testing.T) {
	assert.NoError(t, newByteReader([]byte{0}).readExternal())
	err := newByteReader([]byte{1}).readExternal()
	assert.True(t, errors.Is(err, ErrUnsupported), "%v", err)
}

func TestSkipBounds(t *testing.T) {
	r := newByteReader([]byte{5, 1, 2})
	err := r.skipData()
	assert.True(t, errors.Is(err, ErrTruncated), "%v", err)
}

func TestFindAttribute(t *testing.T) {
	r := newByteReader([]byte{idCRC, 2, 0xaa, 0xbb, idSize, 7})
	found, err := r.findAttribute(idSize)
	require.NoError(t, err)
	assert.True(t, found)
	b, err := r.readByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)

	found, err = newByteReader([]byte{idEnd}).findAttribute(idSize)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadIntLimit(t *testing.T) {
	_, err := newByteReader([]byte{0x7f}).readInt("count", 10)
	assert.True(t, errors.Is(err, ErrFormat), "%v", err)
}
