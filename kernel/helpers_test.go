package kernel

import (
	"context"
	"testing"

	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/fs/memfs"
	"github.com/evanphx/nkern/sched"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type testLoader struct {
	programs map[string]Program
}

func (l *testLoader) Load(ctx context.Context, store fs.Store, name string) (*Image, error) {
	if _, err := store.Stat(ctx, name); err != nil {
		return nil, errors.Wrapf(ErrInvalidExecutable, "%s: %s", name, err)
	}

	prog, ok := l.programs[name]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidExecutable, "%s is not a program", name)
	}

	return &Image{Name: name, Entry: prog, MemorySize: 4096}, nil
}

func newTestKernel(t *testing.T, programs map[string]Program) (*Kernel, *memfs.MemFS) {
	store := memfs.New()

	for name := range programs {
		require.NoError(t, fs.WriteFile(context.Background(), store, name, []byte("image")))
	}

	k, err := NewKernel(Options{
		Store:     store,
		Loader:    &testLoader{programs: programs},
		Scheduler: sched.New(0),
	})
	require.NoError(t, err)

	return k, store
}

// newTestProcess enters a bare process in the table without running it.
func newTestProcess(k *Kernel, name string, parent *Process) *Process {
	p := newProcess(k, name)
	k.processes.AssignPid(p, parent)
	return p
}
