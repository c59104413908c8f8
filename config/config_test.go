package config

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	t.Run("keeps defaults for an empty document", func(t *testing.T) {
		cfg, err := Read(strings.NewReader(""))
		require.NoError(t, err)

		require.Equal(t, Default(), cfg)
	})

	t.Run("overrides fields", func(t *testing.T) {
		cfg, err := Read(strings.NewReader(`
storage: host
host_root: /tmp/disk
exec_suffix: .kxe
max_threads: 4
init: exectest.kxe
args: [cat.kxe, notes.txt]
`))
		require.NoError(t, err)

		require.Equal(t, StorageHost, cfg.Storage)
		require.Equal(t, "/tmp/disk", cfg.HostRoot)
		require.Equal(t, ".kxe", cfg.ExecSuffix)
		require.Equal(t, 4, cfg.MaxThreads)
		require.Equal(t, "exectest.kxe", cfg.Init)
		require.Equal(t, []string{"cat.kxe", "notes.txt"}, cfg.Args)
		require.Equal(t, 100, cfg.LoaderCacheSize)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		_, err := Read(strings.NewReader("storag: mem\n"))
		require.Error(t, err)
	})

	t.Run("rejects host storage without a root", func(t *testing.T) {
		_, err := Read(strings.NewReader("storage: host\n"))
		require.Equal(t, ErrBadConfig, errors.Cause(err))
	})

	t.Run("rejects unknown storage", func(t *testing.T) {
		_, err := Read(strings.NewReader("storage: s3\n"))
		require.Equal(t, ErrBadConfig, errors.Cause(err))
	})

	t.Run("round trips through Marshal", func(t *testing.T) {
		cfg := Default()
		cfg.Args = []string{"a"}

		data, err := cfg.Marshal()
		require.NoError(t, err)

		back, err := Read(strings.NewReader(string(data)))
		require.NoError(t, err)

		require.Equal(t, cfg, back)
	})
}
