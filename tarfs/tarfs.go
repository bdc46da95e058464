/*
Package tarfs implements a virtual file system from a tape archive, which may
be compressed with gzip, bzip2, xz, zstd or lz4.
*/
package tarfs

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

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
func Open(name string) (vfs.FileSystem, error) {
	return open(name, func() (fileLike, error) {
		vfs.Tracef(nil, "os.Open(%q)", name)
		return os.Open(name)
	})
}

// OpenFile opens a file on a FileSystem as FileSystem.
func OpenFile(fs vfs.FileSystem, name string) (vfs.FileSystem, error) {
	vfs.Tracef(fs, "OpenFile(%q)", name)
	return open(name, func() (fileLike, error) {
		vfs.Tracef(fs, "OpenFile.open(%q)", name)
		i, err := fs.Stat(name)
		if err != nil {
			return nil, err
		}
		f, err := fs.Open(name)
		if err != nil {
			return nil, err
		}
		return emulatedFile{
			ReadSeekCloser: f,
			info:           i,
		}, nil
	})
}

func open(name string, open func() (fileLike, error)) (vfs.FileSystem, error) {
	z, err := openReadCloser(open)
	if err != nil {
		return nil, err
	}
	defer z.Close()

	fs := &fileSystem{
		Tree: vfs.NewTree(name, "", ""),
		name: name,
		open: open,
	}

	var h *tar.Header
	for index := 0; ; index++ {
		if h, err = z.Next(); err != nil {
			if err == io.EOF {
				break
			}
			if index == 0 && (err == tar.ErrHeader || err == io.ErrUnexpectedEOF) {
				return nil, vfs.ErrNotSupported
			}
			return nil, errors.Wrapf(err, "tarfs: %s", name)
		}

		var e *vfs.Entry
		switch h.Typeflag {
		case tar.TypeDir:
			e, err = fs.AddDirectory(h.Name, mode(h), h.ModTime, h.Uname, h.Gname)
		case tar.TypeReg, tar.TypeRegA:
			e, err = fs.AddFileFunc(h.Name, mode(h), h.ModTime, h.Uname, h.Gname, h.Size, fs.opener(index, h.Name, h.Size))
		default:
			// Ignore special files
			vfs.Tracef(fs, "Open(): ignore %q: type %q", h.Name, h.Typeflag)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "tarfs: %s", name)
		}
		e.SetSys(h)
	}

	if err = z.Close(); err != nil {
		return nil, err
	}

	return fs, nil
}

type readCloser struct {
	*tar.Reader
	io.Closer
}

func openReadCloser(open func() (fileLike, error)) (*readCloser, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}

	if _, err = f.Stat(); err != nil {
		f.Close()
		return nil, err
	}

	r, err := maybeDecompress(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &readCloser{
		Reader: tar.NewReader(r),
		Closer: multiCloser{r, f},
	}, nil
}

// multiCloser closes the decompressor, if it needs closing, then the file.
type multiCloser struct {
	r io.Reader
	f io.Closer
}

func (c multiCloser) Close() error {
	if rc, ok := c.r.(io.Closer); ok {
		rc.Close()
	}
	return c.f.Close()
}

type fileSystem struct {
	*vfs.Tree
	name string
	open func() (fileLike, error)
}

// opener returns a function opening the member at position index. Tar
// archives can only be read sequentially, so every open scans from the
// start.
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
					return nil, errors.Wrapf(err, "tarfs: %s", name)
				}
			}
			return z, nil
		})
	}
}

func (fs *fileSystem) String() string {
	return fmt.Sprintf(`tarfs(%q)`, fs.name)
}
