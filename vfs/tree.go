package vfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Entry is a directory or file node of a Tree. It implements os.FileInfo.
type Entry struct {
	name     string // directory-local name
	path     string // cleaned, rooted path
	mode     os.FileMode
	modTime  time.Time
	owner    string
	group    string
	size     int64
	offset   int64
	open     func() (ReadSeekCloser, error)
	sys      interface{}
	children map[string]*Entry // nil for files
}

func (e *Entry) Name() string       { return e.name }
func (e *Entry) Size() int64        { return e.size }
func (e *Entry) Mode() os.FileMode  { return e.mode }
func (e *Entry) ModTime() time.Time { return e.modTime }
func (e *Entry) IsDir() bool        { return e.children != nil }
func (e *Entry) Sys() interface{}   { return e.sys }

// Path returns the rooted path of the entry inside its tree.
func (e *Entry) Path() string { return e.path }

// Owner returns the user name owning the entry.
func (e *Entry) Owner() string { return e.owner }

// Group returns the group name owning the entry.
func (e *Entry) Group() string { return e.group }

// Offset returns the position of the file's content within the tree's data
// stream. It is meaningless for directories and for files added with
// AddFileFunc.
func (e *Entry) Offset() int64 { return e.offset }

// SetSys attaches format specific metadata, returned by Sys.
func (e *Entry) SetSys(v interface{}) { e.sys = v }

// entries returns the children sorted by name.
func (e *Entry) entries() []*Entry {
	list := make([]*Entry, 0, len(e.children))
	for _, c := range e.children {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	return list
}

// Tree is an in-memory directory hierarchy of an archive. Directories are
// created on demand for intermediate path components; adding an existing
// directory again returns the existing node. File content either lives in
// a shared data stream (AddFile) or is produced by a callback (AddFileFunc).
//
// A Tree is safe for concurrent use.
type Tree struct {
	name string
	root *Entry
	data io.ReaderAt
	mu   sync.RWMutex
}

// NewTree returns a tree holding only a root directory owned by owner and
// group. Name is used to describe the tree.
func NewTree(name, owner, group string) *Tree {
	return &Tree{
		name: name,
		root: &Entry{
			path:     "/",
			mode:     os.ModeDir | 0755,
			owner:    owner,
			group:    group,
			children: make(map[string]*Entry),
		},
	}
}

// SetData sets the stream from which AddFile entries are read.
func (t *Tree) SetData(r io.ReaderAt) {
	t.mu.Lock()
	t.data = r
	t.mu.Unlock()
}

// Owner returns the user name of the root directory.
func (t *Tree) Owner() string { return t.root.owner }

// Group returns the group name of the root directory.
func (t *Tree) Group() string { return t.root.group }

// Root returns the root directory entry.
func (t *Tree) Root() *Entry { return t.root }

func clean(name string) string {
	return path.Clean("/" + strings.Replace(name, `\`, `/`, -1))
}

// lookup returns the entry at the cleaned path p, or nil.
func (t *Tree) lookup(p string) *Entry {
	e := t.root
	if p == "/" {
		return e
	}
	for _, elem := range strings.Split(p[1:], "/") {
		if e.children == nil {
			return nil
		}
		if e = e.children[elem]; e == nil {
			return nil
		}
	}
	return e
}

// findOrCreate returns the directory at the cleaned path p, creating it and
// any missing parents.
func (t *Tree) findOrCreate(p string) (*Entry, error) {
	e := t.root
	if p == "/" {
		return e, nil
	}
	for _, elem := range strings.Split(p[1:], "/") {
		c, ok := e.children[elem]
		if !ok {
			c = &Entry{
				name:     elem,
				path:     path.Join(e.path, elem),
				mode:     os.ModeDir | 0755,
				owner:    t.root.owner,
				group:    t.root.group,
				children: make(map[string]*Entry),
			}
			e.children[elem] = c
		} else if !c.IsDir() {
			return nil, errors.Errorf("%s: not a directory", c.path)
		}
		e = c
	}
	return e, nil
}

// AddDirectory adds a directory. If the path already exists as a directory
// the existing entry is returned unchanged.
func (t *Tree) AddDirectory(name string, mode os.FileMode, modTime time.Time, owner, group string) (*Entry, error) {
	p := clean(name)
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.lookup(p); e != nil {
		if !e.IsDir() {
			return nil, errors.Errorf("%s: exists and is not a directory", p)
		}
		Tracef(t, "AddDirectory(%q): exists", p)
		return e, nil
	}

	parent, err := t.findOrCreate(path.Dir(p))
	if err != nil {
		return nil, err
	}
	e := &Entry{
		name:     path.Base(p),
		path:     p,
		mode:     os.ModeDir | mode.Perm(),
		modTime:  modTime,
		owner:    owner,
		group:    group,
		children: make(map[string]*Entry),
	}
	parent.children[e.name] = e
	return e, nil
}

// AddFile adds a file whose content is the size bytes at offset in the
// tree's data stream.
func (t *Tree) AddFile(name string, mode os.FileMode, modTime time.Time, owner, group string, offset, size int64) (*Entry, error) {
	if offset < 0 || size < 0 {
		return nil, errors.Errorf("%s: invalid content range %d+%d", name, offset, size)
	}
	return t.addFile(name, &Entry{
		mode:    mode &^ os.ModeType,
		modTime: modTime,
		owner:   owner,
		group:   group,
		size:    size,
		offset:  offset,
	})
}

// AddFileFunc adds a file of size bytes whose content is returned by open.
func (t *Tree) AddFileFunc(name string, mode os.FileMode, modTime time.Time, owner, group string, size int64, open func() (ReadSeekCloser, error)) (*Entry, error) {
	return t.addFile(name, &Entry{
		mode:    mode &^ os.ModeType,
		modTime: modTime,
		owner:   owner,
		group:   group,
		size:    size,
		open:    open,
	})
}

func (t *Tree) addFile(name string, e *Entry) (*Entry, error) {
	p := clean(name)
	if p == "/" {
		return nil, errors.New("/: is a directory")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, err := t.findOrCreate(path.Dir(p))
	if err != nil {
		return nil, err
	}
	e.name = path.Base(p)
	e.path = p
	if old, ok := parent.children[e.name]; ok {
		if old.IsDir() {
			return nil, errors.Errorf("%s: is a directory", p)
		}
		Tracef(t, "AddFile(%q): replacing duplicate entry", p)
	}
	parent.children[e.name] = e
	return e, nil
}

// Walk calls fn for every entry below the root in depth-first, name order.
func (t *Tree) Walk(fn func(e *Entry) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return walk(t.root, fn)
}

func walk(dir *Entry, fn func(e *Entry) error) error {
	for _, e := range dir.entries() {
		if err := fn(e); err != nil {
			return err
		}
		if e.IsDir() {
			if err := walk(e, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tree) stat(op, name string) (*Entry, error) {
	p := clean(name)
	t.mu.RLock()
	e := t.lookup(p)
	t.mu.RUnlock()
	if e == nil {
		return nil, &os.PathError{Op: op, Path: p, Err: os.ErrNotExist}
	}
	return e, nil
}

// Stat implements FileSystem.
func (t *Tree) Stat(name string) (os.FileInfo, error) {
	Tracef(t, "Stat(%q)", name)
	return t.stat("stat", name)
}

// Lstat implements FileSystem. Trees hold no symlinks.
func (t *Tree) Lstat(name string) (os.FileInfo, error) {
	Tracef(t, "Lstat(%q)", name)
	return t.stat("lstat", name)
}

// Readdir implements FileSystem.
func (t *Tree) Readdir(name string) ([]os.FileInfo, error) {
	Tracef(t, "Readdir(%q)", name)
	e, err := t.stat("readdir", name)
	if err != nil {
		return nil, err
	}
	if !e.IsDir() {
		return nil, errors.Errorf("%s: not a directory", e.path)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := e.entries()
	list := make([]os.FileInfo, len(entries))
	for i, c := range entries {
		list[i] = c
	}
	return list, nil
}

// Open implements FileSystem.
func (t *Tree) Open(name string) (ReadSeekCloser, error) {
	Tracef(t, "Open(%q)", name)
	e, err := t.stat("open", name)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, errors.Errorf("%s: is a directory", e.path)
	}
	if e.open != nil {
		return e.open()
	}

	t.mu.RLock()
	data := t.data
	t.mu.RUnlock()
	if data == nil {
		if e.size != 0 {
			return nil, errors.Errorf("%s: no content", e.path)
		}
		return NopCloser(strings.NewReader("")), nil
	}
	return NopCloser(io.NewSectionReader(data, e.offset, e.size)), nil
}

func (t *Tree) String() string {
	return fmt.Sprintf(`tree(%s)`, t.name)
}

var _ FileSystem = (*Tree)(nil)
