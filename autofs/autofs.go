/*
Package autofs implements a file system that presents the archives below a
root directory as directories. Archives are mounted when a path first
reaches into them and kept in a bounded cache; archives stored inside other
archives are mounted the same way.
*/
package autofs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"textmodes.com/sevenzip"
	"textmodes.com/sevenzip/arfs"
	"textmodes.com/sevenzip/rarfs"
	"textmodes.com/sevenzip/sevenzipfs"
	"textmodes.com/sevenzip/tarfs"
	"textmodes.com/sevenzip/vfs"
	"textmodes.com/sevenzip/zipfs"
)

// DefaultCacheSize is the number of mounted archives kept by default.
const DefaultCacheSize = 64

// Common errors.
var (
	ErrDir = errors.New("autofs: is a directory")

	hasFileSystem = map[string]bool{
		".7z":  true,
		".a":   true,
		".deb": true,
		".rar": true,
		".tar": true,
		".tgz": true,
		".zip": true,
	}

	// errNoMount is returned by mount for paths that are not archives.
	errNoMount = errors.New("autofs: not mounted")
)

// Option configures New.
type Option func(*fileSystem)

// WithCacheSize sets the number of mounted archives kept.
func WithCacheSize(n int) Option {
	return func(fs *fileSystem) {
		fs.cacheSize = n
	}
}

// WithSevenZipOptions sets the options used to open 7z archives.
func WithSevenZipOptions(opts ...sevenzip.Option) Option {
	return func(fs *fileSystem) {
		fs.sevenzipOpts = opts
	}
}

// New autofs starting at root. If root is an archive, the archive is the
// root of the file system.
func New(root string, opts ...Option) (vfs.FileSystem, error) {
	if !filepath.IsAbs(root) {
		var err error
		if root, err = filepath.Abs(root); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	fs := &fileSystem{
		Scope:     vfs.NewScope(),
		root:      root,
		cacheSize: DefaultCacheSize,
		group:     new(singleflight.Group),
		noMount:   new(sync.Map),
	}
	for _, opt := range opts {
		opt(fs)
	}
	if fs.mounts, err = lru.NewWithEvict(fs.cacheSize, func(name string, _ mount) {
		vfs.Tracef(fs, "unmounting %q", name)
	}); err != nil {
		return nil, err
	}

	if info.IsDir() {
		fs.Bind("/", "/", vfs.OS(root), vfs.BindReplace)
	} else {
		fs.Bind("/", "/", vfs.OS(filepath.Dir(root)), vfs.BindReplace)
		base, err := fs.openFileSystem(fs.Scope, "/"+filepath.Base(root))
		if err != nil {
			return nil, err
		}
		fs.Bind("/", "/", base, vfs.BindReplace)
	}

	return fs, nil
}

type mount struct {
	fs   vfs.FileSystem
	info os.FileInfo
}

type fileSystem struct {
	*vfs.Scope
	root         string
	cacheSize    int
	sevenzipOpts []sevenzip.Option
	mounts       *lru.Cache[string, mount]
	group        *singleflight.Group
	noMount      *sync.Map // paths of archive-named files that failed to mount
}

func (fs *fileSystem) openFileSystem(parent vfs.FileSystem, name string) (vfs.FileSystem, error) {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".7z":
		return sevenzipfs.OpenFile(parent, name, fs.sevenzipOpts...)
	case ".a", ".deb":
		return arfs.OpenFile(parent, name)
	case ".rar":
		return rarfs.OpenFile(parent, name)
	case ".tar", ".tgz":
		return tarfs.OpenFile(parent, name)
	case ".zip":
		return zipfs.OpenFile(parent, name)
	default:
		return nil, vfs.ErrNotSupported
	}
}

// mount returns the file system of the archive at the cleaned path name,
// which is the path inner within parent. It returns errNoMount if name is
// not an archive this package can open.
func (fs *fileSystem) mount(name string, parent vfs.FileSystem, inner string) (mount, error) {
	if !hasFileSystem[strings.ToLower(path.Ext(name))] {
		return mount{}, errNoMount
	}
	if m, ok := fs.mounts.Get(name); ok {
		return m, nil
	}
	if _, ok := fs.noMount.Load(name); ok {
		return mount{}, errNoMount
	}

	v, err, _ := fs.group.Do(name, func() (interface{}, error) {
		if m, ok := fs.mounts.Get(name); ok {
			return m, nil
		}
		info, err := parent.Stat(inner)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, errNoMount
		}

		vfs.Tracef(fs, "mounting %q", name)
		afs, err := fs.openFileSystem(parent, inner)
		if err != nil {
			vfs.Tracef(fs, "mounting %q: %v", name, err)
			fs.noMount.Store(name, err)
			return nil, errNoMount
		}
		m := mount{afs, info}
		fs.mounts.Add(name, m)
		return m, nil
	})
	if err != nil {
		return mount{}, err
	}
	return v.(mount), nil
}

// resolve returns the file system holding the cleaned path name, the path
// of name within it and, if name is itself a mounted archive, its mount.
func (fs *fileSystem) resolve(name string) (vfs.FileSystem, string, *mount, error) {
	var (
		cur  vfs.FileSystem = fs.Scope
		base                = "/"
		last *mount
	)
	if name == "/" {
		return cur, name, nil, nil
	}
	p := ""
	for _, elem := range strings.Split(name[1:], "/") {
		p += "/" + elem
		m, err := fs.mount(p, cur, within(base, p))
		switch err {
		case nil:
			cur, base, last = m.fs, p, &m
		case errNoMount:
			last = nil
		default:
			return nil, "", nil, err
		}
	}
	return cur, within(base, name), last, nil
}

// within returns the path of name relative to the mount point base.
func within(base, name string) string {
	if base == "/" {
		return name
	}
	if name == base {
		return "/"
	}
	return name[len(base):]
}

func (fs *fileSystem) Open(name string) (vfs.ReadSeekCloser, error) {
	name = fs.clean(name)
	vfs.Tracef(fs, "Open(%q)", name)
	cur, inner, m, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return nil, ErrDir
	}
	return cur.Open(inner)
}

func (fs *fileSystem) Readdir(name string) ([]os.FileInfo, error) {
	name = fs.clean(name)
	vfs.Tracef(fs, "Readdir(%q)", name)
	cur, inner, _, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}

	infos, err := cur.Readdir(inner)
	if err != nil {
		return nil, err
	}

	for i, info := range infos {
		if info.IsDir() {
			continue
		}
		full := path.Join(name, info.Name())
		if m, err := fs.mount(full, cur, path.Join(inner, info.Name())); err == nil {
			infos[i] = dirInfo{
				name:    info.Name(),
				size:    m.info.Size(),
				modTime: m.info.ModTime(),
			}
		} else if err != errNoMount {
			vfs.Tracef(fs, "Readdir(%q): %q: %v", name, full, err)
		}
	}

	return infos, nil
}

func (fs *fileSystem) clean(name string) string {
	return path.Clean("/" + name)
}

func (fs *fileSystem) stat(name string, stat func(vfs.FileSystem, string) (os.FileInfo, error)) (os.FileInfo, error) {
	name = fs.clean(name)
	cur, inner, m, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return dirInfo{
			name:    m.info.Name(),
			size:    m.info.Size(),
			modTime: m.info.ModTime(),
		}, nil
	}
	return stat(cur, inner)
}

func (fs *fileSystem) Lstat(name string) (os.FileInfo, error) {
	vfs.Tracef(fs, "Lstat(%q)", name)
	return fs.stat(name, vfs.FileSystem.Lstat)
}

func (fs *fileSystem) Stat(name string) (os.FileInfo, error) {
	vfs.Tracef(fs, "Stat(%q)", name)
	return fs.stat(name, vfs.FileSystem.Stat)
}

func (fs *fileSystem) String() string {
	return fmt.Sprintf(`autofs(%s)`, fs.root)
}

// dirInfo is a trivial implementation of os.FileInfo for a directory.
type dirInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (d dirInfo) Name() string       { return d.name }
func (d dirInfo) Size() int64        { return d.size }
func (d dirInfo) Mode() os.FileMode  { return os.ModeDir | 0555 }
func (d dirInfo) ModTime() time.Time { return d.modTime }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() interface{}   { return nil }
