package rarfs_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textmodes.com/sevenzip/rarfs"
	"textmodes.com/sevenzip/vfs"
)

// RAR 1.5 block layout.
const (
	blockArchive = 0x73
	blockFile    = 0x74
	blockEnd     = 0x7b

	flagHasData = 0x8000
	flagDir     = 0x00e0

	hostUnix = 3
	storeRAR = 0x30
)

var mtime = time.Date(2019, 4, 5, 6, 7, 8, 0, time.Local)

type rarMember struct {
	name string
	attr uint32
	data string
}

func rarBlock(buf *bytes.Buffer, typ byte, flags uint16, data []byte) {
	hdr := make([]byte, 5, 5+len(data))
	hdr[0] = typ
	binary.LittleEndian.PutUint16(hdr[1:], flags)
	binary.LittleEndian.PutUint16(hdr[3:], uint16(7+len(data)))
	hdr = append(hdr, data...)
	binary.Write(buf, binary.LittleEndian, uint16(crc32.ChecksumIEEE(hdr)))
	buf.Write(hdr)
}

func dosTime(t time.Time) uint32 {
	return uint32(t.Year()-1980)<<25 | uint32(t.Month())<<21 | uint32(t.Day())<<16 |
		uint32(t.Hour())<<11 | uint32(t.Minute())<<5 | uint32(t.Second()/2)
}

// buildRAR writes a stored, unencrypted RAR 1.5 archive.
func buildRAR(members ...rarMember) []byte {
	var buf bytes.Buffer
	buf.WriteString("Rar!\x1a\x07\x00")
	rarBlock(&buf, blockArchive, 0, make([]byte, 6))
	for _, m := range members {
		var h bytes.Buffer
		le := func(v interface{}) { binary.Write(&h, binary.LittleEndian, v) }
		le(uint32(len(m.data)))
		le(uint32(len(m.data)))
		h.WriteByte(hostUnix)
		le(crc32.ChecksumIEEE([]byte(m.data)))
		le(dosTime(mtime))
		h.WriteByte(29)
		h.WriteByte(storeRAR)
		le(uint16(len(m.name)))
		le(m.attr)
		h.WriteString(m.name)

		flags := uint16(flagHasData)
		if m.attr&0xF000 == 0x4000 {
			flags |= flagDir
		}
		rarBlock(&buf, blockFile, flags, h.Bytes())
		buf.WriteString(m.data)
	}
	rarBlock(&buf, blockEnd, 0, nil)
	return buf.Bytes()
}

var testMembers = []rarMember{
	{`docs`, 0x41ed, ""},
	{`docs\readme.txt`, 0x81a4, "read me"},
	{`link`, 0xa1ff, "docs"},
	{`top.txt`, 0x81a4, "top level file"},
	{`a\b\deep.txt`, 0x81a4, "deep"},
}

func writeRAR(t *testing.T) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "test.rar")
	require.NoError(t, os.WriteFile(name, buildRAR(testMembers...), 0644))
	return name
}

func TestRAR(t *testing.T) {
	name := writeRAR(t)
	for _, tc := range []struct {
		name string
		open func() (vfs.FileSystem, error)
	}{
		{"Open", func() (vfs.FileSystem, error) { return rarfs.Open(name) }},
		{"OpenFile", func() (vfs.FileSystem, error) {
			return rarfs.OpenFile(vfs.OS(filepath.Dir(name)), "/"+filepath.Base(name))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs, err := tc.open()
			require.NoError(t, err)

			list, err := fs.Readdir("/")
			require.NoError(t, err)
			var names []string
			for _, info := range list {
				names = append(names, info.Name())
			}
			assert.Equal(t, []string{"a", "docs", "top.txt"}, names)

			info, err := fs.Stat("/docs")
			require.NoError(t, err)
			assert.True(t, info.IsDir())

			for _, m := range []rarMember{testMembers[1], testMembers[3], testMembers[4]} {
				p := "/" + strings.ReplaceAll(m.name, `\`, "/")
				info, err := fs.Stat(p)
				require.NoError(t, err, p)
				assert.Equal(t, int64(len(m.data)), info.Size(), p)
				assert.Equal(t, os.FileMode(0444), info.Mode(), p)
				assert.True(t, mtime.Equal(info.ModTime()), p)

				f, err := fs.Open(p)
				require.NoError(t, err, p)
				got, err := io.ReadAll(f)
				require.NoError(t, err, p)
				assert.Equal(t, m.data, string(got), p)

				// Rewinding reopens the archive and skips to the member.
				_, err = f.Seek(1, io.SeekStart)
				require.NoError(t, err)
				got, err = io.ReadAll(f)
				require.NoError(t, err)
				assert.Equal(t, m.data[1:], string(got), p)
				require.NoError(t, f.Close())
			}

			_, err = fs.Stat("/link")
			assert.True(t, os.IsNotExist(err), "symlinks are skipped")
		})
	}
}

func TestJunk(t *testing.T) {
	name := filepath.Join(t.TempDir(), "junk.rar")
	require.NoError(t, os.WriteFile(name, []byte("Rar! but not really"), 0644))
	_, err := rarfs.Open(name)
	assert.Equal(t, vfs.ErrNotSupported, err)
}

func TestBadHeader(t *testing.T) {
	data := buildRAR(testMembers...)
	data[9] ^= 0xff
	name := filepath.Join(t.TempDir(), "bad.rar")
	require.NoError(t, os.WriteFile(name, data, 0644))
	_, err := rarfs.Open(name)
	assert.Equal(t, vfs.ErrNotSupported, err)
}
