package vfs

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeDirectoryIdempotence(t *testing.T) {
	tree := NewTree("test", "root", "wheel")
	data := "xy"
	tree.SetData(strings.NewReader(data))

	_, err := tree.AddFile("a/b/x", 0644, time.Time{}, "root", "wheel", 0, 1)
	require.NoError(t, err)
	_, err = tree.AddFile("a/b/y", 0644, time.Time{}, "root", "wheel", 1, 1)
	require.NoError(t, err)
	d1, err := tree.AddDirectory("a/b", 0700, time.Time{}, "root", "wheel")
	require.NoError(t, err)
	d2, err := tree.AddDirectory("/a/b/", 0755, time.Time{}, "other", "other")
	require.NoError(t, err)
	assert.Same(t, d1, d2)

	var dirs []string
	require.NoError(t, tree.Walk(func(e *Entry) error {
		if e.IsDir() {
			dirs = append(dirs, e.Path())
		}
		return nil
	}))
	assert.Equal(t, []string{"/a", "/a/b"}, dirs)

	list, err := tree.Readdir("/a/b")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "x", list[0].Name())
	assert.Equal(t, "y", list[1].Name())

	rsc, err := tree.Open("/a/b/y")
	require.NoError(t, err)
	got, err := ioutil.ReadAll(rsc)
	require.NoError(t, err)
	assert.Equal(t, "y", string(got))
}

func TestTreeImplicitDirectories(t *testing.T) {
	tree := NewTree("test", "alice", "staff")
	_, err := tree.AddFile(`dir\sub\file`, 0644, time.Time{}, "bob", "users", 0, 0)
	require.NoError(t, err)

	info, err := tree.Stat("/dir/sub")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.ModeDir|0755, info.Mode())
	e := info.(*Entry)
	assert.Equal(t, "alice", e.Owner())
	assert.Equal(t, "staff", e.Group())

	info, err = tree.Stat("/dir/sub/file")
	require.NoError(t, err)
	assert.Equal(t, "bob", info.(*Entry).Owner())
}

func TestTreeConflicts(t *testing.T) {
	tree := NewTree("test", "", "")
	_, err := tree.AddFile("f", 0644, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)

	_, err = tree.AddDirectory("f", 0755, time.Time{}, "", "")
	assert.Error(t, err)
	_, err = tree.AddFile("f/g", 0644, time.Time{}, "", "", 0, 0)
	assert.Error(t, err)

	_, err = tree.AddDirectory("d", 0755, time.Time{}, "", "")
	require.NoError(t, err)
	_, err = tree.AddFile("d", 0644, time.Time{}, "", "", 0, 0)
	assert.Error(t, err)
	_, err = tree.AddFile("/", 0644, time.Time{}, "", "", 0, 0)
	assert.Error(t, err)

	_, err = tree.Readdir("/f")
	assert.Error(t, err)
	_, err = tree.Open("/d")
	assert.Error(t, err)
}

func TestTreeNotExist(t *testing.T) {
	tree := NewTree("test", "", "")
	for _, f := range []func(string) (os.FileInfo, error){tree.Stat, tree.Lstat} {
		_, err := f("/missing")
		assert.True(t, os.IsNotExist(err), "%v", err)
	}
	_, err := tree.Open("/missing")
	assert.True(t, os.IsNotExist(err), "%v", err)
}

func TestTreeFileFunc(t *testing.T) {
	tree := NewTree("test", "", "")
	opened := 0
	_, err := tree.AddFileFunc("f", 0444, time.Time{}, "", "", 5, func() (ReadSeekCloser, error) {
		opened++
		return NopCloser(strings.NewReader("hello")), nil
	})
	require.NoError(t, err)

	rsc, err := tree.Open("f")
	require.NoError(t, err)
	got, err := ioutil.ReadAll(rsc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, 1, opened)
	assert.Equal(t, "tree(test)", tree.String())
}

func TestScopeUnion(t *testing.T) {
	a := NewTree("a", "", "")
	_, err := a.AddFile("shared", 0644, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)
	_, err = a.AddFile("only-a", 0644, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)
	b := NewTree("b", "", "")
	_, err = b.AddDirectory("shared", 0755, time.Time{}, "", "")
	require.NoError(t, err)
	_, err = b.AddFile("only-b", 0644, time.Time{}, "", "", 0, 0)
	require.NoError(t, err)

	scope := NewScope()
	scope.Bind("/", "/", a, BindReplace)
	scope.Bind("/", "/", b, BindAfter)
	scope.Bind("/mnt/x", "/", b, BindReplace)

	list, err := scope.Readdir("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, info := range list {
		names[info.Name()] = info.IsDir()
	}
	assert.Equal(t, map[string]bool{"shared": false, "only-a": false, "only-b": false, "mnt": true}, names)

	info, err := scope.Stat("/mnt/x/only-b")
	require.NoError(t, err)
	assert.Equal(t, "only-b", info.Name())
}
