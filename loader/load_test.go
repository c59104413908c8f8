package loader

import (
	"context"
	"strings"
	"testing"

	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/fs/memfs"
	"github.com/evanphx/nkern/kernel"
	"github.com/evanphx/nkern/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestDecode(t *testing.T) {
	n := neko.Modern(t)

	n.It("reads what Encode wrote", func(t *testing.T) {
		hdr, err := Decode(Encode("cat", 8))
		require.NoError(t, err)

		require.Equal(t, "cat", hdr.Entry)
		require.Equal(t, uint16(8), hdr.Pages)
		require.Equal(t, int32(8*memory.PageSize), hdr.MemorySize())
	})

	n.It("rejects files without the magic", func(t *testing.T) {
		_, err := Decode([]byte("#!/bin/sh\necho hi\n"))
		require.Equal(t, ErrBadMagic, errors.Cause(err))

		_, err = Decode(nil)
		require.Equal(t, ErrBadMagic, errors.Cause(err))
	})

	n.It("rejects bad headers", func(t *testing.T) {
		_, err := Decode(Encode("cat", 0))
		require.Equal(t, ErrBadHeader, errors.Cause(err))

		_, err = Decode(Encode("cat", MaxPages+1))
		require.Equal(t, ErrBadHeader, errors.Cause(err))

		data := Encode("cat", 1)
		_, err = Decode(data[:len(data)-1])
		require.Equal(t, ErrBadHeader, errors.Cause(err))

		data = Encode("cat", 1)
		data[4] = 9
		_, err = Decode(data)
		require.Equal(t, ErrBadVersion, errors.Cause(err))
	})

	n.It("refuses entry names the header cannot hold", func(t *testing.T) {
		long := strings.Repeat("e", MaxEntryLen)

		hdr, err := Decode(Encode(long, 1))
		require.NoError(t, err)
		require.Equal(t, long, hdr.Entry)

		require.Panics(t, func() {
			Encode(long+"e", 1)
		})
	})

	n.Meow()
}

func TestLoader(t *testing.T) {
	n := neko.Modern(t)

	ctx := context.Background()

	setup := func(t *testing.T) (*memfs.MemFS, *Loader, *LoaderCache) {
		store := memfs.New()

		reg := NewRegistry()
		reg.Register("nop", func(ctx context.Context, t *kernel.Task) int32 { return 0 })

		cache := NewLoaderCache(10)

		require.NoError(t, fs.WriteFile(ctx, store, "nop.coff", Encode("nop", 4)))

		return store, NewLoader(reg, cache), cache
	}

	n.It("loads a registered program", func(t *testing.T) {
		store, l, _ := setup(t)

		img, err := l.Load(ctx, store, "nop.coff")
		require.NoError(t, err)

		require.Equal(t, "nop.coff", img.Name)
		require.Equal(t, int32(4*memory.PageSize), img.MemorySize)
		require.NotNil(t, img.Entry)
	})

	n.It("caches decoded headers by content", func(t *testing.T) {
		store, l, cache := setup(t)

		require.NoError(t, fs.WriteFile(ctx, store, "copy.coff", Encode("nop", 4)))

		_, err := l.Load(ctx, store, "nop.coff")
		require.NoError(t, err)

		_, err = l.Load(ctx, store, "copy.coff")
		require.NoError(t, err)

		require.Equal(t, 1, cache.Len())
	})

	n.It("requires the executable suffix", func(t *testing.T) {
		store, l, _ := setup(t)

		require.NoError(t, fs.WriteFile(ctx, store, "nop.bin", Encode("nop", 4)))

		_, err := l.Load(ctx, store, "nop.bin")
		require.Equal(t, kernel.ErrInvalidExecutable, errors.Cause(err))

		l.Suffix = ".bin"

		_, err = l.Load(ctx, store, "nop.bin")
		require.NoError(t, err)
	})

	n.It("reports every failure as an invalid executable", func(t *testing.T) {
		store, l, _ := setup(t)

		require.NoError(t, fs.WriteFile(ctx, store, "text.coff", []byte("just some text")))
		require.NoError(t, fs.WriteFile(ctx, store, "ghost.coff", Encode("ghost", 4)))

		for _, name := range []string{"missing.coff", "text.coff", "ghost.coff"} {
			_, err := l.Load(ctx, store, name)
			require.Equal(t, kernel.ErrInvalidExecutable, errors.Cause(err), name)
		}
	})

	n.It("lists registered programs", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("b", nil)
		reg.Register("a", nil)

		require.Equal(t, []string{"a", "b"}, reg.Names())
	})

	n.Meow()
}
