package kernel

import (
	"context"
	"sync"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/log"
	"github.com/pkg/errors"
)

// firstUserFD is the lowest slot creat and open may hand out. Slots below
// it belong to the console.
const firstUserFD = 2

// MaxUserFiles is how many files a process can hold open besides the
// console descriptors.
const MaxUserFiles = abi.MaxFD - firstUserFD

// FDTable maps a process's descriptor numbers to open files. Only its own
// process uses it; the lock covers the slot array, the shared state lives
// behind the open file table.
type FDTable struct {
	mu    sync.Mutex
	oft   *OpenFileTable
	files [abi.MaxFD]*File
}

func NewFDTable(oft *OpenFileTable, console *Console) *FDTable {
	t := &FDTable{oft: oft}

	if console != nil {
		t.files[abi.Stdin] = &File{r: console}
		t.files[abi.Stdout] = &File{w: console}
	}

	return t
}

// lowestFreeLocked returns the lowest free user slot, or -1.
func (t *FDTable) lowestFreeLocked() int {
	for i := firstUserFD; i < abi.MaxFD; i++ {
		if t.files[i] == nil {
			return i
		}
	}

	return -1
}

func (t *FDTable) install(ctx context.Context, name string, create bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fd := t.lowestFreeLocked()
	if fd < 0 {
		return -1, errors.Wrapf(ErrTableFull, "opening %s", name)
	}

	h, err := t.oft.Acquire(ctx, name, create)
	if err != nil {
		return -1, err
	}

	t.files[fd] = newFile(h)

	log.L.Trace("fd-install", "fd", fd, "name", name, "create", create)

	return fd, nil
}

// Create opens name, creating it if needed, on the lowest free slot.
func (t *FDTable) Create(ctx context.Context, name string) (int, error) {
	return t.install(ctx, name, true)
}

// Open opens an existing file on the lowest free slot.
func (t *FDTable) Open(ctx context.Context, name string) (int, error) {
	return t.install(ctx, name, false)
}

func (t *FDTable) Get(fd int) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.getLocked(fd)
}

func (t *FDTable) getLocked(fd int) (*File, error) {
	if fd < 0 || fd >= abi.MaxFD {
		return nil, errors.Wrapf(ErrBadDescriptor, "fd %d out of range", fd)
	}

	f := t.files[fd]
	if f == nil {
		return nil, errors.Wrapf(ErrBadDescriptor, "fd %d is not open", fd)
	}

	return f, nil
}

func (t *FDTable) Read(ctx context.Context, fd int, b []byte) (int, error) {
	f, err := t.Get(fd)
	if err != nil {
		return 0, err
	}

	n, err := f.Read(ctx, b)
	if err != nil {
		return n, errors.Wrapf(err, "reading fd %d", fd)
	}

	return n, nil
}

func (t *FDTable) Write(ctx context.Context, fd int, b []byte) (int, error) {
	f, err := t.Get(fd)
	if err != nil {
		return 0, err
	}

	n, err := f.Write(ctx, b)
	if err != nil {
		return n, errors.Wrapf(err, "writing fd %d", fd)
	}

	return n, nil
}

// Close frees fd. Closing a free slot is ErrBadDescriptor.
func (t *FDTable) Close(ctx context.Context, fd int) error {
	t.mu.Lock()

	f, err := t.getLocked(fd)
	if err != nil {
		t.mu.Unlock()
		return err
	}

	t.files[fd] = nil
	t.mu.Unlock()

	log.L.Trace("fd-close", "fd", fd, "name", f.Name())

	return f.close(ctx, t.oft)
}

// Unlink removes name whether or not any descriptor has it open.
func (t *FDTable) Unlink(ctx context.Context, name string) error {
	return t.oft.MarkDeleted(ctx, name)
}

// CloseAll releases every descriptor, console included. The first error
// is returned after all slots are freed.
func (t *FDTable) CloseAll(ctx context.Context) error {
	t.mu.Lock()
	files := t.files
	t.files = [abi.MaxFD]*File{}
	t.mu.Unlock()

	var first error

	for fd, f := range files {
		if f == nil {
			continue
		}

		err := f.close(ctx, t.oft)
		if err != nil {
			log.L.Error("error closing fd", "fd", fd, "name", f.Name(), "error", err)

			if first == nil {
				first = err
			}
		}
	}

	return first
}

// InUse reports which descriptors are in use, console included.
func (t *FDTable) InUse() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fds []int

	for fd, f := range t.files {
		if f != nil {
			fds = append(fds, fd)
		}
	}

	return fds
}

// UserFiles counts the open descriptors outside the console slots.
func (t *FDTable) UserFiles() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int

	for i := firstUserFD; i < abi.MaxFD; i++ {
		if t.files[i] != nil {
			n++
		}
	}

	return n
}
