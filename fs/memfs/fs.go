package memfs

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/log"
)

type node struct {
	mu      sync.RWMutex
	body    []byte
	modTime time.Time
}

// MemFS keeps every file in memory. It is the default store for the
// machine and for tests.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*node
}

func New() *MemFS {
	return &MemFS{
		files: make(map[string]*node),
	}
}

func (m *MemFS) lookup(name string) (*node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.files[name]
	return n, ok
}

func (m *MemFS) Create(ctx context.Context, name string) error {
	if !fs.ValidName(name) {
		return fs.ErrInvalidName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; ok {
		return fs.ErrExists
	}

	log.L.Trace("memfs-create", "name", name)

	m.files[name] = &node{modTime: time.Now()}

	return nil
}

func (m *MemFS) Open(ctx context.Context, name string) (fs.File, error) {
	n, ok := m.lookup(name)
	if !ok {
		return nil, fs.ErrUnknownPath
	}

	return &File{node: n}, nil
}

func (m *MemFS) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; !ok {
		return fs.ErrUnknownPath
	}

	log.L.Trace("memfs-delete", "name", name)

	delete(m.files, name)

	return nil
}

func (m *MemFS) Stat(ctx context.Context, name string) (*fs.Attr, error) {
	n, ok := m.lookup(name)
	if !ok {
		return nil, fs.ErrUnknownPath
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	return &fs.Attr{
		Name:             name,
		Size:             int64(len(n.body)),
		ModificationTime: n.modTime,
	}, nil
}

// Len returns the number of files in the store.
func (m *MemFS) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.files)
}

// File is an open handle on a node. The node outlives a Delete for as
// long as a handle references it.
type File struct {
	node   *node
	closed bool
}

func (f *File) ReadAt(b []byte, off int64) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}

	if off < 0 {
		return 0, fs.ErrBadOffset
	}

	f.node.mu.RLock()
	defer f.node.mu.RUnlock()

	if off >= int64(len(f.node.body)) {
		return 0, io.EOF
	}

	n := copy(b, f.node.body[off:])
	if n < len(b) {
		return n, io.EOF
	}

	return n, nil
}

func (f *File) WriteAt(b []byte, off int64) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}

	if off < 0 {
		return 0, fs.ErrBadOffset
	}

	f.node.mu.Lock()
	defer f.node.mu.Unlock()

	end := off + int64(len(b))
	if end > int64(len(f.node.body)) {
		body := make([]byte, end)
		copy(body, f.node.body)
		f.node.body = body
	}

	n := copy(f.node.body[off:], b)
	f.node.modTime = time.Now()

	return n, nil
}

func (f *File) Close() error {
	if f.closed {
		return fs.ErrClosed
	}

	f.closed = true
	return nil
}
