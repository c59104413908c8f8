package kernel

import (
	"context"
	"sync"

	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/log"
	"github.com/pkg/errors"
)

// OpenFile is the kernel's single record of an open file, shared by every
// descriptor that refers to it.
type OpenFile struct {
	name string
	file fs.File

	// Protected by the owning table's mu.
	refs          int
	pendingDelete bool
}

func (h *OpenFile) Name() string {
	return h.name
}

func (h *OpenFile) ReadAt(b []byte, off int64) (int, error) {
	return h.file.ReadAt(b, off)
}

func (h *OpenFile) WriteAt(b []byte, off int64) (int, error) {
	return h.file.WriteAt(b, off)
}

// OpenFileTable is the global registry of open files, keyed by name.
// Storage I/O on an acquired handle never takes the table lock.
type OpenFileTable struct {
	mu    sync.Mutex
	store fs.Store
	files map[string]*OpenFile
}

func NewOpenFileTable(store fs.Store) *OpenFileTable {
	return &OpenFileTable{
		store: store,
		files: make(map[string]*OpenFile),
	}
}

// Acquire returns the handle for name with its reference count bumped. If
// create is set a missing file is created first; otherwise a missing file
// is ErrNotFound. A name waiting on a deferred delete is treated as gone.
func (t *OpenFileTable) Acquire(ctx context.Context, name string, create bool) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.files[name]; ok {
		if h.pendingDelete {
			return nil, errors.Wrapf(ErrNotFound, "%s is unlinked", name)
		}

		h.refs++
		log.L.Trace("open-file-acquire", "name", name, "refs", h.refs)
		return h, nil
	}

	if create {
		err := t.store.Create(ctx, name)
		if err != nil && err != fs.ErrExists {
			if err == fs.ErrInvalidName {
				return nil, errors.Wrapf(ErrNotFound, "invalid name %q", name)
			}

			return nil, errors.Wrapf(err, "creating %s", name)
		}
	}

	f, err := t.store.Open(ctx, name)
	if err != nil {
		if err == fs.ErrUnknownPath || err == fs.ErrInvalidName {
			return nil, errors.Wrapf(ErrNotFound, "opening %s", name)
		}

		return nil, errors.Wrapf(err, "opening %s", name)
	}

	h := &OpenFile{
		name: name,
		file: f,
		refs: 1,
	}

	t.files[name] = h

	log.L.Trace("open-file-acquire", "name", name, "refs", h.refs, "created", create)

	return h, nil
}

// Release drops one reference. The last release closes the storage file
// and, if an unlink arrived while it was open, deletes it.
func (t *OpenFileTable) Release(ctx context.Context, h *OpenFile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h.refs--

	log.L.Trace("open-file-release", "name", h.name, "refs", h.refs, "pending-delete", h.pendingDelete)

	if h.refs < 0 {
		panic("open file reference count underflow: " + h.name)
	}

	if h.refs > 0 {
		return nil
	}

	if t.files[h.name] == h {
		delete(t.files, h.name)
	}

	err := h.file.Close()
	if err != nil {
		log.L.Error("error closing storage file", "name", h.name, "error", err)
	}

	if h.pendingDelete {
		log.L.Trace("open-file-delete", "name", h.name)

		derr := t.store.Delete(ctx, h.name)
		if derr != nil {
			return errors.Wrapf(derr, "deleting %s", h.name)
		}
	}

	return err
}

// MarkDeleted unlinks name. An open file is deleted when its last
// reference goes away; a closed one is deleted now.
func (t *OpenFileTable) MarkDeleted(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.files[name]; ok {
		if h.pendingDelete {
			return errors.Wrapf(ErrNotFound, "%s is already unlinked", name)
		}

		log.L.Trace("open-file-pending-delete", "name", name, "refs", h.refs)
		h.pendingDelete = true
		return nil
	}

	err := t.store.Delete(ctx, name)
	if err != nil {
		if err == fs.ErrUnknownPath || err == fs.ErrInvalidName {
			return errors.Wrapf(ErrNotFound, "unlinking %s", name)
		}

		return errors.Wrapf(err, "unlinking %s", name)
	}

	log.L.Trace("open-file-delete", "name", name)

	return nil
}

// OpenFileInfo is a point-in-time view of one table entry.
type OpenFileInfo struct {
	Name          string
	Refs          int
	PendingDelete bool
}

// Lookup reports the state of name's handle, if it is open.
func (t *OpenFileTable) Lookup(name string) (OpenFileInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.files[name]
	if !ok {
		return OpenFileInfo{}, false
	}

	return OpenFileInfo{Name: h.name, Refs: h.refs, PendingDelete: h.pendingDelete}, true
}

func (t *OpenFileTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.files)
}

func (t *OpenFileTable) Snapshot() []OpenFileInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []OpenFileInfo

	for _, h := range t.files {
		out = append(out, OpenFileInfo{Name: h.name, Refs: h.refs, PendingDelete: h.pendingDelete})
	}

	return out
}
