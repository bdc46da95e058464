package vfs

import (
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// binding maps the subtree at mountPoint onto the subtree at target in fs.
type binding struct {
	mountPoint string
	target     string
	fs         FileSystem
}

// rebase returns the path in b.fs that name, a path at or below
// b.mountPoint, refers to.
func (b binding) rebase(name string) string {
	name = path.Clean("/" + name)
	return path.Join(b.target, strings.TrimPrefix(name, b.mountPoint))
}

// at returns b moved down to mountPoint, which must be at or below
// b.mountPoint.
func (b binding) at(mountPoint string) binding {
	if mountPoint == b.mountPoint {
		return b
	}
	return binding{
		mountPoint: mountPoint,
		target:     b.rebase(mountPoint),
		fs:         b.fs,
	}
}

// Scope is a namespace assembled from other file systems. Each mount point
// holds an ordered list of bindings that are consulted in turn; a path is
// served by the bindings of its nearest mount point. The root always exists
// and is a directory.
//
// A Scope is safe for concurrent use.
type Scope struct {
	mu       sync.RWMutex
	bindings map[string][]binding
}

// NewScope returns a scope whose root is an empty directory.
func NewScope() *Scope {
	scope := &Scope{bindings: make(map[string][]binding)}
	scope.Bind("/", "/", NewTree("/", "", ""), BindReplace)
	return scope
}

// Chroot returns fs with all lookups made relative to root.
func Chroot(root string, fs FileSystem) FileSystem {
	scope := NewScope()
	scope.Bind("/", root, fs, BindReplace)
	return scope
}

// BindMode determines how a binding combines with the ones already present
// at its mount point.
type BindMode int

// Bind modes.
const (
	// BindReplace discards the bindings at the mount point.
	BindReplace BindMode = iota
	// BindBefore consults the new binding first.
	BindBefore
	// BindAfter consults the new binding only when the others fail.
	BindAfter
)

// Bind mounts the subtree at target in fs at mountPoint.
func (scope *Scope) Bind(mountPoint, target string, fs FileSystem, mode BindMode) {
	mountPoint = path.Clean("/" + mountPoint)
	b := binding{mountPoint, path.Clean("/" + target), fs}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	var list []binding
	switch mode {
	case BindReplace:
		list = []binding{b}
	case BindBefore:
		list = append([]binding{b}, scope.lookup(mountPoint)...)
	case BindAfter:
		list = append(scope.lookup(mountPoint), b)
	}
	for i := range list {
		list[i] = list[i].at(mountPoint)
	}
	scope.bindings[mountPoint] = list
}

// lookup returns a copy of the bindings of the nearest mount point at or
// above name. The caller holds mu.
func (scope *Scope) lookup(name string) []binding {
	for {
		if list, ok := scope.bindings[name]; ok {
			return append([]binding(nil), list...)
		}
		if name == "/" {
			return nil
		}
		name = path.Dir(name)
	}
}

func (scope *Scope) resolve(name string) (string, []binding) {
	name = path.Clean("/" + name)
	scope.mu.RLock()
	defer scope.mu.RUnlock()
	return name, scope.lookup(name)
}

// Open implements FileSystem. The first binding that opens name wins. A not
// exist error from one binding does not hide another error from a later one.
func (scope *Scope) Open(name string) (ReadSeekCloser, error) {
	name, list := scope.resolve(name)
	var err error
	for _, b := range list {
		rsc, err1 := b.fs.Open(b.rebase(name))
		if err1 == nil {
			return rsc, nil
		}
		if err == nil || os.IsNotExist(err) {
			err = err1
		}
	}
	if err == nil {
		err = &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return nil, err
}

func (scope *Scope) stat(name string, stat func(FileSystem, string) (os.FileInfo, error)) (os.FileInfo, error) {
	name, list := scope.resolve(name)
	var err error
	for _, b := range list {
		info, err1 := stat(b.fs, b.rebase(name))
		if err1 == nil {
			return info, nil
		}
		if err == nil {
			err = err1
		}
	}
	if err == nil {
		err = &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	return nil, err
}

// Stat implements FileSystem.
func (scope *Scope) Stat(name string) (os.FileInfo, error) {
	Tracef(scope, "Stat(%q)", name)
	return scope.stat(name, FileSystem.Stat)
}

// Lstat implements FileSystem.
func (scope *Scope) Lstat(name string) (os.FileInfo, error) {
	Tracef(scope, "Lstat(%q)", name)
	return scope.stat(name, FileSystem.Lstat)
}

// Readdir implements FileSystem. The result is the union of all bindings
// serving name, plus a directory for every mount point below name. When
// several bindings hold an entry with the same name the first one wins.
func (scope *Scope) Readdir(name string) ([]os.FileInfo, error) {
	Tracef(scope, "Readdir(%q)", name)
	name, list := scope.resolve(name)

	var (
		seen  = make(map[string]bool)
		infos []os.FileInfo
		err   error
		found bool
	)
	for _, b := range list {
		dir, err1 := b.fs.Readdir(b.rebase(name))
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}
		found = true
		for _, info := range dir {
			if !seen[info.Name()] {
				seen[info.Name()] = true
				infos = append(infos, info)
			}
		}
	}

	for _, elem := range scope.mountsBelow(name) {
		if !seen[elem] {
			seen[elem] = true
			infos = append(infos, mountDir(elem))
		}
	}

	if !found && len(infos) == 0 {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

// mountsBelow returns the first path element below dir of every mount point
// inside dir.
func (scope *Scope) mountsBelow(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	scope.mu.RLock()
	defer scope.mu.RUnlock()
	var elems []string
	for mp := range scope.bindings {
		if !strings.HasPrefix(mp, prefix) || mp == dir {
			continue
		}
		elem := mp[len(prefix):]
		if i := strings.IndexByte(elem, '/'); i >= 0 {
			elem = elem[:i]
		}
		elems = append(elems, elem)
	}
	return elems
}

func (scope *Scope) String() string {
	return "scope"
}

// mountDir describes the directories leading to a mount point.
type mountDir string

func (d mountDir) Name() string       { return string(d) }
func (d mountDir) Size() int64        { return 0 }
func (d mountDir) Mode() os.FileMode  { return os.ModeDir | 0555 }
func (d mountDir) ModTime() time.Time { return time.Time{} }
func (d mountDir) IsDir() bool        { return true }
func (d mountDir) Sys() interface{}   { return nil }
