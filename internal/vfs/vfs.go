// Package vfs defines the narrow filesystem capability the module-execution
// runtime consumes (spec §6.1) and an afero-backed reference implementation
// used by tests and by the orchestrator's archive extraction step.
//
// The byte-addressed tree itself — a real package manager, a real clone —
// is out of scope; this package only fixes the interface and supplies one
// in-memory instance of it, the way the teacher's lib/fsext wrapped afero.
package vfs

import (
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// WatchEvent is delivered to a Watch callback.
type WatchEvent struct {
	Op   string // "create", "write", "remove", "rename"
	Name string
}

// Watcher is returned by Watch; Close stops delivery.
type Watcher interface {
	Close() error
}

// FileInfo is the narrow stat surface the runtime needs.
type FileInfo interface {
	IsFile() bool
	IsDirectory() bool
	Size() int64
}

type fileInfo struct{ fi os.FileInfo }

func (f fileInfo) IsFile() bool      { return !f.fi.IsDir() }
func (f fileInfo) IsDirectory() bool { return f.fi.IsDir() }
func (f fileInfo) Size() int64       { return f.fi.Size() }

// FS is the capability set of §6.1: a POSIX, symlink-free byte tree.
type FS interface {
	ReadFileSync(path string) ([]byte, error)
	WriteFileSync(path string, data []byte) error
	ReadDirSync(path string) ([]string, error)
	StatSync(path string) (FileInfo, error)
	ExistsSync(path string) bool
	MkdirAllSync(path string) error
	Watch(path string, recursive bool, cb func(event, filename string)) (Watcher, error)
}

// MemFS is an in-memory FS backed by afero.MemMapFs, mirroring the
// teacher's fsext.NewMemMapFs reference double.
type MemFS struct {
	fs afero.Fs

	mu       sync.Mutex
	watchers []*memWatcher
}

type memWatcher struct {
	prefix    string
	recursive bool
	cb        func(event, filename string)
	closed    bool
}

func (w *memWatcher) Close() error { w.closed = true; return nil }

// NewMemFS constructs an empty in-memory virtual filesystem.
func NewMemFS() *MemFS {
	return &MemFS{fs: afero.NewMemMapFs()}
}

// Afero exposes the underlying afero.Fs, e.g. for the orchestrator's
// archive extraction step which writes many files in a tight loop.
func (m *MemFS) Afero() afero.Fs { return m.fs }

func clean(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (m *MemFS) ReadFileSync(path string) ([]byte, error) {
	return afero.ReadFile(m.fs, clean(path))
}

func (m *MemFS) WriteFileSync(path string, data []byte) error {
	path = clean(path)
	if idx := strings.LastIndex(path, "/"); idx > 0 {
		if err := m.fs.MkdirAll(path[:idx], 0o755); err != nil {
			return err
		}
	}
	if err := afero.WriteFile(m.fs, path, data, 0o644); err != nil {
		return err
	}
	m.notify("write", path)
	return nil
}

func (m *MemFS) ReadDirSync(path string) ([]string, error) {
	entries, err := afero.ReadDir(m.fs, clean(path))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemFS) StatSync(path string) (FileInfo, error) {
	fi, err := m.fs.Stat(clean(path))
	if err != nil {
		return nil, err
	}
	return fileInfo{fi}, nil
}

func (m *MemFS) ExistsSync(path string) bool {
	ok, err := afero.Exists(m.fs, clean(path))
	return err == nil && ok
}

func (m *MemFS) MkdirAllSync(path string) error {
	return m.fs.MkdirAll(clean(path), 0o755)
}

func (m *MemFS) Watch(path string, recursive bool, cb func(event, filename string)) (Watcher, error) {
	w := &memWatcher{prefix: clean(path), recursive: recursive, cb: cb}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()
	return w, nil
}

func (m *MemFS) notify(event, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watchers {
		if w.closed {
			continue
		}
		if !strings.HasPrefix(path, w.prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, w.prefix)
		if !w.recursive && strings.Contains(strings.TrimPrefix(rest, "/"), "/") {
			continue
		}
		w.cb(event, path)
	}
}

// IOFSBridge adapts a raw afero.Fs (e.g. MemFS.Afero()) to io/fs.FS, the way the
// teacher's fsext.IOFSBridge did, for consumers that only need read access
// (e.g. a sourcemap reader or a static-file framework handler).
type IOFSBridge struct {
	FS afero.Fs
}

func (b *IOFSBridge) Open(name string) (fs.File, error) {
	return b.FS.Open(name)
}
