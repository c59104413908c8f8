//go:build unix

package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/log"
	"github.com/pkg/errors"
)

// HostFS stores each file as a regular file directly inside a host
// directory.
type HostFS struct {
	Path string
}

func NewHostFS(path string) (*HostFS, error) {
	log.L.Trace("creating host fs", "path", path)

	stat, err := os.Stat(path)
	if err != nil {
		log.L.Error("error stating hostfs path", "error", err)
		return nil, err
	}

	if !stat.IsDir() {
		return nil, errors.Errorf("hostfs root is not a directory: %s", path)
	}

	return &HostFS{Path: path}, nil
}

func (h *HostFS) hostPath(name string) (string, error) {
	if !fs.ValidName(name) {
		return "", fs.ErrInvalidName
	}

	return filepath.Join(h.Path, name), nil
}

func (h *HostFS) Create(ctx context.Context, name string) error {
	cp, err := h.hostPath(name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(cp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fs.ErrExists
		}

		return err
	}

	return f.Close()
}

func (h *HostFS) Open(ctx context.Context, name string) (fs.File, error) {
	cp, err := h.hostPath(name)
	if err != nil {
		return nil, err
	}

	log.L.Trace("open on host fs", "path", cp)

	f, err := os.OpenFile(cp, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fs.ErrUnknownPath
		}

		return nil, err
	}

	return &Entry{f: f}, nil
}

func (h *HostFS) Delete(ctx context.Context, name string) error {
	cp, err := h.hostPath(name)
	if err != nil {
		return err
	}

	err = os.Remove(cp)
	if err != nil {
		if os.IsNotExist(err) {
			return fs.ErrUnknownPath
		}

		return err
	}

	return nil
}

func (h *HostFS) Stat(ctx context.Context, name string) (*fs.Attr, error) {
	cp, err := h.hostPath(name)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(cp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fs.ErrUnknownPath
		}

		return nil, err
	}

	if !stat.Mode().IsRegular() {
		return nil, fs.ErrUnknownPath
	}

	return &fs.Attr{
		Name:             name,
		Size:             stat.Size(),
		ModificationTime: stat.ModTime(),
	}, nil
}

// Entry is an open host file. Reads and writes go straight to
// pread(2)/pwrite(2) so no host-side offset is shared between handles.
type Entry struct {
	f *os.File
}

func (e *Entry) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrBadOffset
	}

	var total int

	for total < len(b) {
		n, err := unix.Pread(int(e.f.Fd()), b[total:], off+int64(total))
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return total, err
		}

		if n == 0 {
			break
		}

		total += n
	}

	runtime.KeepAlive(e.f)

	if total < len(b) {
		return total, io.EOF
	}

	return total, nil
}

func (e *Entry) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrBadOffset
	}

	var total int

	for total < len(b) {
		n, err := unix.Pwrite(int(e.f.Fd()), b[total:], off+int64(total))
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return total, err
		}

		if n == 0 {
			return total, io.ErrShortWrite
		}

		total += n
	}

	runtime.KeepAlive(e.f)

	return total, nil
}

func (e *Entry) Close() error {
	return e.f.Close()
}
