package vfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
)

// OS returns the host directory tree at root. Names never escape root, and
// errors report the name relative to root.
func OS(root string) FileSystem {
	return hostFileSystem{root: filepath.Clean(root)}
}

type hostFileSystem struct {
	root string
}

// hostPath maps name onto the host. Cleaning the rooted name first drops any
// leading "..".
func (fs hostFileSystem) hostPath(name string) (string, string) {
	name = path.Clean("/" + name)
	return name, filepath.Join(fs.root, filepath.FromSlash(name))
}

// relabel rewrites the path of a host error to name.
func relabel(err error, name string) error {
	if pe, ok := err.(*os.PathError); ok {
		return &os.PathError{Op: pe.Op, Path: name, Err: pe.Err}
	}
	return err
}

func (fs hostFileSystem) Lstat(name string) (os.FileInfo, error) {
	name, host := fs.hostPath(name)
	Tracef(fs, "Lstat(%q)", name)
	info, err := os.Lstat(host)
	return info, relabel(err, name)
}

func (fs hostFileSystem) Stat(name string) (os.FileInfo, error) {
	name, host := fs.hostPath(name)
	Tracef(fs, "Stat(%q)", name)
	info, err := os.Stat(host)
	return info, relabel(err, name)
}

// Open implements FileSystem. The returned *os.File also implements
// io.ReaderAt.
func (fs hostFileSystem) Open(name string) (ReadSeekCloser, error) {
	name, host := fs.hostPath(name)
	Tracef(fs, "Open(%q)", name)
	f, err := os.Open(host)
	if err != nil {
		return nil, relabel(err, name)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = errors.Errorf("%s: is a directory", name)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Readdir implements FileSystem. Entries removed while the directory is
// being listed are left out.
func (fs hostFileSystem) Readdir(name string) ([]os.FileInfo, error) {
	name, host := fs.hostPath(name)
	Tracef(fs, "Readdir(%q)", name)
	entries, err := os.ReadDir(host)
	if err != nil {
		return nil, relabel(err, name)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, relabel(err, path.Join(name, e.Name()))
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (fs hostFileSystem) String() string {
	return fmt.Sprintf("os(%s)", fs.root)
}
