/*
Package zipfs implements a virtual file system from a PKZip compressed archive.
*/
package zipfs

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"textmodes.com/sevenzip/vfs"
)

// methodZstd is the PKWARE method ID of Zstandard.
const methodZstd = 93

type fileLike interface {
	io.ReaderAt
	io.Closer

	Name() string
	Stat() (os.FileInfo, error)
}

type emulatedFile struct {
	vfs.ReadSeekCloser
	info os.FileInfo
	name string
}

func (rsc emulatedFile) Stat() (os.FileInfo, error) {
	return rsc.info, nil
}

func (rsc emulatedFile) Name() string {
	return rsc.name
}

func (rsc emulatedFile) ReadAt(p []byte, off int64) (n int, err error) {
	return vfs.ReaderAt(rsc.ReadSeekCloser).ReadAt(p, off)
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
		i, err := fs.Stat(name)
		if err != nil {
			return nil, err
		}
		f, err := fs.Open(name)
		if err != nil {
			return nil, err
		}
		return emulatedFile{f, i, name}, nil
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
	for _, file := range z.File {
		h := file.FileHeader
		var e *vfs.Entry
		if strings.HasSuffix(h.Name, "/") {
			e, err = fs.AddDirectory(h.Name, dirMode, h.Modified, "", "")
		} else {
			e, err = fs.AddFileFunc(h.Name, fileMode(&h), h.Modified, "", "", int64(h.UncompressedSize64), fs.opener(h.Name, int64(h.UncompressedSize64)))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "zipfs: %s", name)
		}
		e.SetSys(&h)
	}

	if err = z.Close(); err != nil {
		return nil, err
	}

	return fs, nil
}

type readCloser struct {
	*zip.Reader
	io.Closer
}

func openReadCloser(open func() (fileLike, error)) (*readCloser, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}

	i, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	z, err := zip.NewReader(f, i.Size())
	if err != nil {
		f.Close()
		switch err {
		case zip.ErrAlgorithm, zip.ErrFormat:
			return nil, vfs.ErrNotSupported
		default:
			return nil, err
		}
	}
	z.RegisterDecompressor(zip.Deflate, flate.NewReader)
	z.RegisterDecompressor(methodZstd, zstdDecompressor)

	return &readCloser{z, f}, nil
}

func zstdDecompressor(r io.Reader) io.ReadCloser {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return errReader{err}
	}
	return d.IOReadCloser()
}

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
func (r errReader) Close() error             { return nil }

type fileSystem struct {
	*vfs.Tree
	name string
	open func() (fileLike, error)
}

// emulatedRSC is an archive member together with the archive it was opened
// from.
type emulatedRSC struct {
	io.ReadCloser
	z *readCloser
}

func (rsc emulatedRSC) Close() error {
	err1 := rsc.ReadCloser.Close()
	err2 := rsc.z.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// opener returns a function opening the member called name.
func (fs *fileSystem) opener(name string, size int64) func() (vfs.ReadSeekCloser, error) {
	return func() (vfs.ReadSeekCloser, error) {
		return vfs.Reopen(name, size, func() (io.ReadCloser, error) {
			z, err := openReadCloser(fs.open)
			if err != nil {
				return nil, err
			}
			for _, file := range z.File {
				if file.Name == name {
					f, err := file.Open()
					if err != nil {
						z.Close()
						return nil, err
					}
					return emulatedRSC{f, z}, nil
				}
			}
			z.Close()
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		})
	}
}

func (fs *fileSystem) String() string {
	return fmt.Sprintf(`zipfs(%s)`, fs.name)
}
