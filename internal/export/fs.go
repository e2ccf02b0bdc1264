// Package export presents servable repository content as a read-only
// billy.Filesystem, and serves it over NFS.
package export

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/repository"
)

var errReadOnly = fmt.Errorf("read-only filesystem")

// IndexFile is a virtual file at the root listing every exported key.
const IndexFile = "_index.json"

// CodebaseFunc returns the codebase URL dynamic content is rendered with
// for a repository key.
type CodebaseFunc func(key string) string

// FS adapts a content repository to billy.Filesystem. Only servable items
// are visible. A key that is also the prefix of other keys (a bare context
// root) is shown as a directory.
type FS struct {
	repo      *repository.Repository
	codebase  CodebaseFunc
	mountTime time.Time
}

// Option configures an FS.
type Option func(*FS)

// WithCodebase sets how dynamic content resolves its request codebase.
func WithCodebase(fn CodebaseFunc) Option {
	return func(fs *FS) { fs.codebase = fn }
}

// BaseURL resolves codebases as base joined with the key's first path
// segment, which is the context root for default unit naming.
func BaseURL(base string) CodebaseFunc {
	base = strings.TrimSuffix(base, "/")
	return func(key string) string {
		seg := strings.SplitN(strings.TrimPrefix(key, "/"), "/", 2)[0]
		return base + "/" + seg
	}
}

func New(repo *repository.Repository, opts ...Option) *FS {
	fs := &FS{repo: repo, mountTime: time.Now()}
	for _, o := range opts {
		o(fs)
	}
	return fs
}

// tree is a point-in-time view of the servable keys.
type tree struct {
	files map[string]content.Item
	dirs  map[string][]string // dir -> sorted child names
}

func (fs *FS) snapshot() *tree {
	t := &tree{files: make(map[string]content.Item), dirs: map[string][]string{"/": nil}}
	children := map[string]map[string]bool{"/": {}}
	for _, key := range fs.repo.Keys() {
		item, err := fs.repo.Lookup(key)
		if err != nil || !item.Servable() {
			continue
		}
		key = cleanPath(key)
		t.files[key] = item
		for p := key; p != "/"; p = path.Dir(p) {
			parent := path.Dir(p)
			if children[parent] == nil {
				children[parent] = make(map[string]bool)
			}
			children[parent][path.Base(p)] = true
		}
	}
	for dir, names := range children {
		// A key with children is a directory.
		delete(t.files, dir)
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		t.dirs[dir] = list
	}
	return t
}

func (fs *FS) render(key string, item content.Item) ([]byte, error) {
	rc := content.RequestContext{}
	if fs.codebase != nil {
		rc.Codebase = fs.codebase(key)
	}
	data, err := item.Render(rc)
	if err != nil {
		return nil, &os.PathError{Op: "read", Path: key, Err: err}
	}
	return data, nil
}

func (fs *FS) index(t *tree) []byte {
	keys := make([]string, 0, len(t.files))
	for key := range t.files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]any, 0, len(keys))
	for _, key := range keys {
		item := t.files[key]
		entries = append(entries, map[string]any{
			"key":       key,
			"mime_type": item.MIMEType(),
			"modified":  item.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return append([]byte(oj.JSON(entries, &oj.Options{Indent: 2, Sort: true})), '\n')
}

// --- billy.Basic ---

func (fs *FS) Create(filename string) (billy.File, error) { return nil, errReadOnly }

func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}
	filename = cleanPath(filename)
	t := fs.snapshot()

	if filename == "/"+IndexFile {
		return &bytesFile{name: IndexFile, data: fs.index(t)}, nil
	}
	if _, ok := t.dirs[filename]; ok {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	item, ok := t.files[filename]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	data, err := fs.render(filename, item)
	if err != nil {
		return nil, err
	}
	return &bytesFile{name: filename, data: data}, nil
}

func (fs *FS) Stat(filename string) (os.FileInfo, error) { return fs.Lstat(filename) }

func (fs *FS) Rename(oldpath, newpath string) error { return errReadOnly }
func (fs *FS) Remove(filename string) error         { return errReadOnly }

func (fs *FS) Join(elem ...string) string { return filepath.Join(elem...) }

// --- billy.TempFile ---

func (fs *FS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *FS) ReadDir(p string) ([]os.FileInfo, error) {
	p = cleanPath(p)
	t := fs.snapshot()
	names, ok := t.dirs[p]
	if !ok {
		if _, isFile := t.files[p]; isFile {
			return nil, &os.PathError{Op: "readdir", Path: p, Err: fmt.Errorf("not a directory")}
		}
		return nil, &os.PathError{Op: "readdir", Path: p, Err: os.ErrNotExist}
	}

	infos := make([]os.FileInfo, 0, len(names)+1)
	if p == "/" {
		infos = append(infos, fs.indexInfo(t))
	}
	for _, name := range names {
		info, err := fs.stat(t, path.Join(p, name))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (fs *FS) MkdirAll(filename string, perm os.FileMode) error { return errReadOnly }

// --- billy.Symlink ---

func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	t := fs.snapshot()
	if filename == "/"+IndexFile {
		return fs.indexInfo(t), nil
	}
	return fs.stat(t, filename)
}

func (fs *FS) stat(t *tree, p string) (os.FileInfo, error) {
	if _, ok := t.dirs[p]; ok {
		name := path.Base(p)
		return &fileInfo{name: name, mode: os.ModeDir | 0o555, modTime: fs.mountTime}, nil
	}
	item, ok := t.files[p]
	if !ok {
		return nil, &os.PathError{Op: "lstat", Path: p, Err: os.ErrNotExist}
	}
	data, err := fs.render(p, item)
	if err != nil {
		return nil, err
	}
	modTime := item.ModTime()
	if modTime.IsZero() {
		modTime = fs.mountTime
	}
	return &fileInfo{name: path.Base(p), size: int64(len(data)), mode: 0o444, modTime: modTime}, nil
}

func (fs *FS) indexInfo(t *tree) os.FileInfo {
	return &fileInfo{name: IndexFile, size: int64(len(fs.index(t))), mode: 0o444, modTime: fs.mountTime}
}

func (fs *FS) Symlink(target, link string) error { return billy.ErrNotSupported }

func (fs *FS) Readlink(link string) (string, error) { return "", billy.ErrNotSupported }

// --- billy.Chroot ---

func (fs *FS) Chroot(p string) (billy.Filesystem, error) { return chroot.New(fs, p), nil }

func (fs *FS) Root() string { return "/" }

// --- billy.Capable ---

func (fs *FS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(p string) string {
	return path.Clean("/" + filepath.ToSlash(p))
}

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *fileInfo) Sys() interface{}   { return nil }

var (
	_ billy.Filesystem = (*FS)(nil)
	_ billy.Capable    = (*FS)(nil)
	_ billy.File       = (*bytesFile)(nil)
)
