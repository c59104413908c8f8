//go:build unix

package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/evanphx/nkern/fs"
	"github.com/stretchr/testify/require"
)

func TestHostFS(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a directory", func(t *testing.T) {
		dir := t.TempDir()

		path := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(path, nil, 0644))

		_, err := NewHostFS(path)
		require.Error(t, err)

		_, err = NewHostFS(filepath.Join(dir, "missing"))
		require.Error(t, err)
	})

	t.Run("stores files in the directory", func(t *testing.T) {
		dir := t.TempDir()

		h, err := NewHostFS(dir)
		require.NoError(t, err)

		require.NoError(t, h.Create(ctx, "a.txt"))
		require.Equal(t, fs.ErrExists, h.Create(ctx, "a.txt"))
		require.Equal(t, fs.ErrInvalidName, h.Create(ctx, "../escape"))

		f, err := h.Open(ctx, "a.txt")
		require.NoError(t, err)

		_, err = f.WriteAt([]byte("hello"), 0)
		require.NoError(t, err)

		buf := make([]byte, 10)

		n, err := f.ReadAt(buf, 1)
		require.Equal(t, io.EOF, err)
		require.Equal(t, "ello", string(buf[:n]))

		require.NoError(t, f.Close())

		data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
		require.NoError(t, err)
		require.Equal(t, "hello", string(data))

		attr, err := h.Stat(ctx, "a.txt")
		require.NoError(t, err)
		require.Equal(t, int64(5), attr.Size)
	})

	t.Run("reports missing files", func(t *testing.T) {
		h, err := NewHostFS(t.TempDir())
		require.NoError(t, err)

		_, err = h.Open(ctx, "nope")
		require.Equal(t, fs.ErrUnknownPath, err)

		_, err = h.Stat(ctx, "nope")
		require.Equal(t, fs.ErrUnknownPath, err)

		require.Equal(t, fs.ErrUnknownPath, h.Delete(ctx, "nope"))
	})

	t.Run("hides directories", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

		h, err := NewHostFS(dir)
		require.NoError(t, err)

		_, err = h.Stat(ctx, "sub")
		require.Equal(t, fs.ErrUnknownPath, err)
	})
}
