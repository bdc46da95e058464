/*
Package arfs implements a virtual file system from a Unix ar archive, such
as a static library or a Debian package. Both the GNU and the BSD long name
conventions are understood.
*/
package arfs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/pkg/errors"

	"textmodes.com/sevenzip/vfs"
)

const magic = "!<arch>\n"

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
		i, err := fs.Stat(name)
		if err != nil {
			return nil, err
		}
		f, err := fs.Open(name)
		if err != nil {
			return nil, err
		}
		return emulatedFile{f, i}, nil
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

	var longNames []byte
	for index := 0; ; index++ {
		h, err := z.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "arfs: %s", name)
		}

		switch h.Name {
		case "//":
			if longNames, err = io.ReadAll(z); err != nil {
				return nil, errors.Wrapf(err, "arfs: %s: long name table", name)
			}
			continue
		case "/", "/SYM64/", "__.SYMDEF", "__.SYMDEF SORTED":
			vfs.Tracef(fs, "Open(): ignore symbol table %q", h.Name)
			continue
		}

		m, err := memberName(h, z, longNames)
		if err != nil {
			return nil, errors.Wrapf(err, "arfs: %s", name)
		}
		size := h.Size - m.skip
		e, err := fs.AddFileFunc(m.name, mode(h), h.ModTime, strconv.Itoa(h.Uid), strconv.Itoa(h.Gid), size, fs.opener(index, m, size))
		if err != nil {
			return nil, errors.Wrapf(err, "arfs: %s", name)
		}
		e.SetSys(h)
	}

	if err = z.Close(); err != nil {
		return nil, err
	}
	return fs, nil
}

// member locates a file's content: skip bytes of the member data hold its
// BSD style name.
type member struct {
	name string
	skip int64
}

// memberName resolves the name of h. BSD names are read from z.
func memberName(h *ar.Header, z io.Reader, longNames []byte) (member, error) {
	switch {
	case strings.HasPrefix(h.Name, "#1/"):
		n, err := strconv.ParseInt(h.Name[3:], 10, 64)
		if err != nil || n < 0 || n > h.Size {
			return member{}, errors.Errorf("%q: bad name length", h.Name)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(z, b); err != nil {
			return member{}, errors.Wrapf(err, "%q", h.Name)
		}
		return member{name: string(bytes.TrimRight(b, "\x00")), skip: n}, nil

	case len(h.Name) > 1 && h.Name[0] == '/':
		off, err := strconv.Atoi(h.Name[1:])
		if err != nil || off < 0 || off >= len(longNames) {
			return member{}, errors.Errorf("%q: no such long name", h.Name)
		}
		name := longNames[off:]
		if i := bytes.IndexByte(name, '\n'); i >= 0 {
			name = name[:i]
		}
		return member{name: strings.TrimSuffix(string(name), "/")}, nil
	}
	return member{name: strings.TrimSuffix(h.Name, "/")}, nil
}

type readCloser struct {
	*ar.Reader
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

	br := bufio.NewReader(f)
	if b, _ := br.Peek(len(magic)); string(b) != magic {
		f.Close()
		return nil, vfs.ErrNotSupported
	}
	return &readCloser{ar.NewReader(br), f}, nil
}

type fileSystem struct {
	*vfs.Tree
	name string
	open func() (fileLike, error)
}

// opener returns a function opening the member at header position index.
func (fs *fileSystem) opener(index int, m member, size int64) func() (vfs.ReadSeekCloser, error) {
	return func() (vfs.ReadSeekCloser, error) {
		vfs.Tracef(fs, "Open(%q)", m.name)
		return vfs.Reopen(m.name, size, func() (io.ReadCloser, error) {
			z, err := openReadCloser(fs.open)
			if err != nil {
				return nil, err
			}
			for i := 0; i <= index; i++ {
				if _, err = z.Next(); err != nil {
					break
				}
			}
			if err == nil {
				_, err = io.CopyN(io.Discard, z, m.skip)
			}
			if err != nil {
				z.Close()
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return nil, errors.Wrapf(err, "arfs: %s", m.name)
			}
			return z, nil
		})
	}
}

func (fs *fileSystem) String() string {
	return fmt.Sprintf(`arfs(%s)`, fs.name)
}
