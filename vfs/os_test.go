package vfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f"), []byte("data"), 0644))
	fs := OS(dir)

	info, err := fs.Stat("/sub/../sub/f")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())

	list, err := fs.Readdir("/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sub", list[0].Name())

	rsc, err := fs.Open("../../sub/f")
	require.NoError(t, err)
	defer rsc.Close()
	_, ok := rsc.(io.ReaderAt)
	assert.True(t, ok)
	got, err := io.ReadAll(rsc)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	_, err = fs.Open("/sub")
	assert.Error(t, err)

	_, err = fs.Stat("/missing")
	require.True(t, os.IsNotExist(err))
	var pe *os.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "/missing", pe.Path)
}

func TestChroot(t *testing.T) {
	tree := NewTree("t", "", "")
	_, err := tree.AddFile("a/b/f", 0644, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)

	fs := Chroot("/a", tree)
	info, err := fs.Stat("/b/f")
	require.NoError(t, err)
	assert.Equal(t, "f", info.Name())
	_, err = fs.Stat("/a")
	assert.True(t, os.IsNotExist(err))
}

func TestScopeBindBefore(t *testing.T) {
	a := NewTree("a", "", "")
	_, err := a.AddFile("x", 0600, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)
	b := NewTree("b", "", "")
	_, err = b.AddFile("x", 0644, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)

	scope := NewScope()
	scope.Bind("/", "/", a, BindReplace)
	scope.Bind("/", "/", b, BindBefore)
	info, err := scope.Stat("/x")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode())

	empty := NewScope()
	list, err := empty.Readdir("/")
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = empty.Open("/nope")
	assert.True(t, os.IsNotExist(err))
}
