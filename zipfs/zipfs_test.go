package zipfs

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textmodes.com/sevenzip/vfs"
)

var modified = time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC)

type member struct {
	name   string
	method uint16
	data   string
}

var members = []member{
	{"foo", zip.Store, "foo"},
	{"bar/baz", zip.Deflate, strings.Repeat("baz", 100)},
	{"a/b/c", methodZstd, "c"},
	{"empty/", zip.Store, ""},
}

func buildZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(methodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
	for _, m := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: m.name, Method: m.method, Modified: modified})
		require.NoError(t, err)
		_, err = io.WriteString(w, m.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func openTestFS(t *testing.T) vfs.FileSystem {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.zip"), buildZip(t), 0644))
	fs, err := OpenFile(vfs.OS(dir), "/test.zip")
	require.NoError(t, err)
	return fs
}

func TestReaddir(t *testing.T) {
	fs := openTestFS(t)
	for _, tc := range []struct {
		path string
		want []string
	}{
		{"/", []string{"a", "bar", "empty", "foo"}},
		{"//", []string{"a", "bar", "empty", "foo"}},
		{"/bar/", []string{"baz"}},
		{"/a/b", []string{"c"}},
		{"/empty", nil},
	} {
		infos, err := fs.Readdir(tc.path)
		require.NoError(t, err, tc.path)
		var got []string
		for _, info := range infos {
			got = append(got, info.Name())
		}
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestStatFuncs(t *testing.T) {
	fs := openTestFS(t)
	for _, tc := range []struct {
		path  string
		name  string
		isDir bool
		size  int64
	}{
		{"/foo", "foo", false, 3},
		{"/foo//", "foo", false, 3},
		{"//bar//baz", "baz", false, 300},
		{"/a/b/c", "c", false, 1},
		{"/bar", "bar", true, 0},
		{"/empty", "empty", true, 0},
	} {
		for _, stat := range []func(string) (os.FileInfo, error){fs.Stat, fs.Lstat} {
			info, err := stat(tc.path)
			require.NoError(t, err, tc.path)
			assert.Equal(t, tc.name, info.Name(), tc.path)
			assert.Equal(t, tc.isDir, info.IsDir(), tc.path)
			assert.Equal(t, tc.isDir, info.Mode().IsDir(), tc.path)
			assert.Equal(t, !tc.isDir, info.Mode().IsRegular(), tc.path)
			if !tc.isDir {
				assert.Equal(t, tc.size, info.Size(), tc.path)
				assert.True(t, modified.Equal(info.ModTime()), tc.path)
			}
		}
	}
}

func TestNotExist(t *testing.T) {
	_, err := openTestFS(t).Open("/does-not-exist")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenSeek(t *testing.T) {
	fs := openTestFS(t)
	for _, m := range members {
		if strings.HasSuffix(m.name, "/") {
			continue
		}
		f, err := fs.Open(m.name)
		require.NoError(t, err, m.name)
		for i := 0; i < 3; i++ {
			all, err := io.ReadAll(f)
			require.NoError(t, err, m.name)
			assert.Equal(t, m.data, string(all), m.name)
			_, err = f.Seek(0, io.SeekStart)
			require.NoError(t, err)
		}
		require.NoError(t, f.Close())
	}
}

func TestSeekForward(t *testing.T) {
	f, err := openTestFS(t).Open("/bar/baz")
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(297), pos)
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "baz", string(all))

	_, err = f.Seek(3, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "baz", string(buf))
}

func TestSys(t *testing.T) {
	info, err := openTestFS(t).Stat("/bar/baz")
	require.NoError(t, err)
	h, ok := info.Sys().(*zip.FileHeader)
	require.True(t, ok, "%T", info.Sys())
	assert.Equal(t, "bar/baz", h.Name)
	assert.Equal(t, zip.Deflate, h.Method)
	assert.Zero(t, info.Mode()&0222)
}

func TestOpen(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.zip")
	require.NoError(t, os.WriteFile(name, buildZip(t), 0644))
	fs, err := Open(name)
	require.NoError(t, err)
	f, err := fs.Open("/a/b/c")
	require.NoError(t, err)
	defer f.Close()
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "c", string(all))
}

func TestJunk(t *testing.T) {
	name := filepath.Join(t.TempDir(), "junk.zip")
	require.NoError(t, os.WriteFile(name, []byte("not a zip file at all"), 0644))
	_, err := Open(name)
	assert.Equal(t, vfs.ErrNotSupported, err)
}
