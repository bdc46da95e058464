/*
Package sevenzipfs implements a virtual file system from a 7z archive.

The archive is decoded completely when it is opened; files are served from
memory afterwards.
*/
package sevenzipfs

import (
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/pkg/errors"

	"textmodes.com/sevenzip"
	"textmodes.com/sevenzip/vfs"
)

type fileLike interface {
	io.ReaderAt
	io.Closer

	Stat() (os.FileInfo, error)
}

type emulatedFile struct {
	vfs.ReadSeekCloser
	info os.FileInfo
}

func (rsc emulatedFile) Stat() (os.FileInfo, error) {
	return rsc.info, nil
}

func (rsc emulatedFile) ReadAt(p []byte, off int64) (int, error) {
	return vfs.ReaderAt(rsc.ReadSeekCloser).ReadAt(p, off)
}

// Open a named 7z file on disk as FileSystem.
func Open(name string, opts ...sevenzip.Option) (vfs.FileSystem, error) {
	return open(name, func() (fileLike, error) {
		vfs.Tracef(nil, "os.Open(%q)", name)
		return os.Open(name)
	}, opts)
}

// OpenFile opens a 7z file on a FileSystem as FileSystem.
func OpenFile(fs vfs.FileSystem, name string, opts ...sevenzip.Option) (vfs.FileSystem, error) {
	vfs.Tracef(fs, "OpenFile(%q)", name)
	return open(name, func() (fileLike, error) {
		i, err := fs.Stat(name)
		if err != nil {
			return nil, err
		}
		f, err := fs.Open(name)
		if err != nil {
			return nil, err
		}
		return emulatedFile{f, i}, nil
	}, opts)
}

func open(name string, open func() (fileLike, error), opts []sevenzip.Option) (*fileSystem, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	i, err := f.Stat()
	if err != nil {
		return nil, err
	}

	a, err := sevenzip.NewReader(f, i.Size(), opts...)
	if err != nil {
		if errors.Is(err, sevenzip.ErrSignature) {
			return nil, vfs.ErrNotSupported
		}
		return nil, errors.Wrap(err, name)
	}

	owner, group := currentOwner()
	fs := &fileSystem{
		Tree:    vfs.NewTree(name, owner, group),
		name:    name,
		archive: a,
	}
	if err = a.Fill(fs.Tree); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return fs, nil
}

// currentOwner returns the user and group names of the running process.
func currentOwner() (owner, group string) {
	u, err := user.Current()
	if err != nil {
		return "", ""
	}
	owner = u.Username
	if g, err := user.LookupGroupId(u.Gid); err == nil {
		group = g.Name
	}
	return owner, group
}

type fileSystem struct {
	*vfs.Tree
	name    string
	archive *sevenzip.Archive
}

// Archive returns the parsed archive behind fs, if fs was opened by this
// package.
func Archive(fs vfs.FileSystem) (*sevenzip.Archive, bool) {
	if fs, ok := fs.(*fileSystem); ok {
		return fs.archive, true
	}
	return nil, false
}

func (fs *fileSystem) String() string {
	return fmt.Sprintf(`sevenzipfs(%s)`, fs.name)
}
