/*
Package rarfs implements a virtual file system from a RAR compressed archive.
*/
package rarfs

import (
	"fmt"
	"io"
	"os"

	rar "github.com/nwaples/rardecode"
	"github.com/pkg/errors"

	"textmodes.com/sevenzip/vfs"
)

type fileLike interface {
	io.Reader
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

// Open a name file on disk as FileSystem.
func Open(name string, password ...string) (vfs.FileSystem, error) {
	var pwd string
	if len(password) > 0 {
		pwd = password[0]
	}
	return open(name, func() (fileLike, string, error) {
		vfs.Tracef(nil, "os.Open(%q)", name)
		f, err := os.Open(name)
		return f, pwd, err
	})
}

// OpenFile opens a file on a FileSystem as FileSystem.
func OpenFile(fs vfs.FileSystem, name string, password ...string) (vfs.FileSystem, error) {
	vfs.Tracef(fs, "OpenFile(%q)", name)
	var pwd string
	if len(password) > 0 {
		pwd = password[0]
	}
	return open(name, func() (fileLike, string, error) {
		vfs.Tracef(fs, "OpenFile.open(%q)", name)
		i, err := fs.Stat(name)
		if err != nil {
			return nil, "", err
		}
		f, err := fs.Open(name)
		if err != nil {
			return nil, "", err
		}
		return emulatedFile{f, i}, pwd, nil
	})
}

// notSupported maps the errors rardecode reports for files it cannot read
// to vfs.ErrNotSupported.
func notSupported(err error) error {
	switch err.Error() {
	case "rardecode: RAR signature not found",
		"rardecode: bad header crc",
		"rardecode: unsupported decoder version":
		return vfs.ErrNotSupported
	}
	return err
}

func open(name string, open func() (fileLike, string, error)) (vfs.FileSystem, error) {
	z, err := openReadCloser(open)
	if err != nil {
		return nil, notSupported(err)
	}
	defer z.Close()

	fs := &fileSystem{
		Tree: vfs.NewTree(name, "", ""),
		name: name,
		open: open,
	}

	var f *rar.FileHeader
	for index := 0; ; index++ {
		if f, err = z.Next(); err != nil {
			if err == io.EOF {
				break
			}
			return nil, notSupported(err)
		}
		// Ignore special files
		if f.Mode()&(os.ModeDevice|os.ModeSocket|os.ModeNamedPipe|os.ModeSymlink) != 0 {
			vfs.Tracef(fs, "Open(): ignore %q: %v", f.Name, f.Mode())
			continue
		}

		var e *vfs.Entry
		if f.IsDir {
			e, err = fs.AddDirectory(f.Name, dirMode, f.ModificationTime, "", "")
		} else {
			e, err = fs.AddFileFunc(f.Name, mode(f), f.ModificationTime, "", "", f.UnPackedSize, fs.opener(index, f.Name, f.UnPackedSize))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "rarfs: %s", name)
		}
		e.SetSys(f)
	}

	if err = z.Close(); err != nil {
		return nil, err
	}

	return fs, nil
}

type readCloser struct {
	*rar.Reader
	io.Closer
}

func openReadCloser(open func() (fileLike, string, error)) (*readCloser, error) {
	f, p, err := open()
	if err != nil {
		return nil, err
	}

	if _, err = f.Stat(); err != nil {
		f.Close()
		return nil, err
	}

	z, err := rar.NewReader(f, p)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &readCloser{z, f}, nil
}

type fileSystem struct {
	*vfs.Tree
	name string
	open func() (fileLike, string, error)
}

// opener returns a function opening the member at header position index.
func (fs *fileSystem) opener(index int, name string, size int64) func() (vfs.ReadSeekCloser, error) {
	return func() (vfs.ReadSeekCloser, error) {
		vfs.Tracef(fs, "Open(%q)", name)
		return vfs.Reopen(name, size, func() (io.ReadCloser, error) {
			z, err := openReadCloser(fs.open)
			if err != nil {
				return nil, err
			}
			for i := 0; i <= index; i++ {
				if _, err = z.Next(); err != nil {
					z.Close()
					if err == io.EOF {
						err = io.ErrUnexpectedEOF
					}
					return nil, errors.Wrapf(err, "rarfs: %s", name)
				}
			}
			return z, nil
		})
	}
}

func (fs *fileSystem) String() string {
	return fmt.Sprintf(`rarfs(%s)`, fs.name)
}
