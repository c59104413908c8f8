package fs

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrUnknownPath = errors.New("unknown path")
	ErrExists      = errors.New("file exists")
	ErrInvalidName = errors.New("invalid file name")
	ErrClosed      = errors.New("file already closed")
	ErrReadOnly    = errors.New("read-only file")
	ErrBadOffset   = errors.New("negative offset")
)

// Attr is what a Store knows about a named file.
type Attr struct {
	Name string

	// Size is the file size in bytes.
	Size int64

	// ModificationTime is the time of last modification.
	ModificationTime time.Time
}

// File is a storage level open file. Offsets are always explicit; cursors
// belong to the kernel's descriptors.
type File interface {
	io.ReaderAt
	io.WriterAt
	Close() error
}

// Store is a flat, durable, named-file store.
type Store interface {
	// Create makes a new empty file. It fails with ErrExists if name is
	// already present.
	Create(ctx context.Context, name string) error

	// Open returns a handle on an existing file, or ErrUnknownPath.
	Open(ctx context.Context, name string) (File, error)

	// Delete removes name, or fails with ErrUnknownPath.
	Delete(ctx context.Context, name string) error

	// Stat describes name, or fails with ErrUnknownPath.
	Stat(ctx context.Context, name string) (*Attr, error)
}

// ValidName reports whether name can be used as a file name in a Store.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, "/\x00")
}

// ReadFile returns the whole contents of name.
func ReadFile(ctx context.Context, s Store, name string) ([]byte, error) {
	attr, err := s.Stat(ctx, name)
	if err != nil {
		return nil, err
	}

	f, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	data := make([]byte, attr.Size)

	n, err := f.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return data[:n], nil
}

// WriteFile creates name if needed and writes data at the start of it.
func WriteFile(ctx context.Context, s Store, name string, data []byte) error {
	err := s.Create(ctx, name)
	if err != nil && err != ErrExists {
		return err
	}

	f, err := s.Open(ctx, name)
	if err != nil {
		return err
	}

	_, err = f.WriteAt(data, 0)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
