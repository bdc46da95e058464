/*
Package vfs defines the virtual file system abstraction the archive readers
in this module populate. OS serves a host directory and Scope binds file
systems into one namespace. Tree is the in-memory hierarchy archive readers
build.
*/
package vfs // import "textmodes.com/sevenzip/vfs"

import (
	"errors"
	"io"
	"os"
)

// ErrNotSupported is returned by archive file systems when the file is not
// in a format they can read.
var ErrNotSupported = errors.New("vfs: not supported")

// FileSystem implement a (virtual) file system.
type FileSystem interface {
	Opener

	// Lstat returns the os.FileInfo for the given path, without
	// following symlinks.
	Lstat(path string) (os.FileInfo, error)

	// Stat returns the os.FileInfo for the given path, following
	// symlinks.
	Stat(path string) (os.FileInfo, error)

	// Readdir returns the contents of the directory at path as an slice
	// of os.FileInfo, ordered alphabetically by name. If path is not a
	// directory or the permissions don't allow it, an error will be
	// returned.
	Readdir(path string) ([]os.FileInfo, error)

	// String returns a description of the file system.
	String() string
}

// Opener is a minimal virtual filesystem that can only open regular files.
type Opener interface {
	Open(name string) (ReadSeekCloser, error)
}

// ReadSeekCloser can read, seek and close.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// ReaderAt emulates io.ReaderAt on a ReadSeekCloser by using Seek() for each
// call to ReadAt. If rsc already implements io.ReaderAt it is returned as is.
//
// The emulation shares the seek offset of rsc, so it must not be used
// concurrently.
func ReaderAt(rsc ReadSeekCloser) io.ReaderAt {
	if ra, ok := rsc.(io.ReaderAt); ok {
		return ra
	}
	return readerAt{rsc}
}

type readerAt struct {
	ReadSeekCloser
}

func (rsc readerAt) ReadAt(p []byte, off int64) (n int, err error) {
	if _, err = rsc.Seek(off, io.SeekStart); err != nil {
		return
	}
	return io.ReadFull(rsc, p)
}

// NopCloser turns an io.ReadSeeker into a ReadSeekCloser with a no-op Close.
func NopCloser(rs io.ReadSeeker) ReadSeekCloser {
	return nopCloser{rs}
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
