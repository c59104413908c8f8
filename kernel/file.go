package kernel

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Console serializes access to the machine's stdin and stdout, which every
// process shares through descriptors 0 and 1.
type Console struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

func NewConsole(r io.Reader, w io.Writer) *Console {
	if r == nil {
		r = eofReader{}
	}

	if w == nil {
		w = io.Discard
	}

	return &Console{r: r, w: w}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}

func (c *Console) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.r.Read(b)
}

func (c *Console) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.Write(b)
}

// File is one descriptor's view of an open file: the shared handle plus
// this descriptor's own cursor. Console descriptors have no handle and
// stream through r or w instead.
type File struct {
	mu     sync.Mutex
	closed bool

	handle *OpenFile
	offset int64

	r io.Reader
	w io.Writer
}

func newFile(h *OpenFile) *File {
	return &File{handle: h}
}

// Name is the file's name, or "" for a console descriptor.
func (f *File) Name() string {
	if f.handle == nil {
		return ""
	}

	return f.handle.Name()
}

func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.offset
}

// Read fills b from the cursor and advances it. End of file is a zero
// count, not an error.
func (f *File) Read(ctx context.Context, b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrBadDescriptor
	}

	if f.handle == nil {
		if f.r == nil {
			return 0, errors.Wrap(ErrBadDescriptor, "descriptor is not readable")
		}

		n, err := f.r.Read(b)
		if err == io.EOF {
			err = nil
		}

		return n, err
	}

	n, err := f.handle.ReadAt(b, f.offset)
	f.offset += int64(n)

	if err == io.EOF {
		err = nil
	}

	return n, err
}

// Write stores b at the cursor and advances it. A write that stops part
// way reports the shorter count rather than an error.
func (f *File) Write(ctx context.Context, b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrBadDescriptor
	}

	if f.handle == nil {
		if f.w == nil {
			return 0, errors.Wrap(ErrBadDescriptor, "descriptor is not writable")
		}

		n, err := f.w.Write(b)
		if n > 0 {
			err = nil
		}

		return n, err
	}

	n, err := f.handle.WriteAt(b, f.offset)
	f.offset += int64(n)

	if n > 0 {
		err = nil
	}

	return n, err
}

// close waits for any I/O in flight on the descriptor, then gives the
// handle back to the open file table.
func (f *File) close(ctx context.Context, oft *OpenFileTable) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBadDescriptor
	}

	f.closed = true

	if f.handle == nil {
		return nil
	}

	return oft.Release(ctx, f.handle)
}
