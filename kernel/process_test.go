package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/evanphx/nkern/fs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestWait(t *testing.T) {
	n := neko.Modern(t)

	n.It("detects another process has exitted", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		root := newTestProcess(k, "root", nil)
		parent := newTestProcess(k, "parent", root)
		child := newTestProcess(k, "child", parent)

		child.Exit(context.Background(), ExitStatus{Code: 1})

		require.Equal(t, Zombie, child.State())

		ctx := context.Background()
		ctx, f := context.WithTimeout(ctx, 2*time.Second)
		defer f()

		ret, err := k.Join(ctx, parent, child.Pid)
		require.NoError(t, err)

		require.Equal(t, 1, ret.Code)
		require.False(t, ret.Fault)

		require.Equal(t, Reaped, child.State())

		_, ok := k.Processes().Lookup(child.Pid)
		require.False(t, ok)

		require.Empty(t, parent.Children())
	})

	n.It("waits for a child to exit", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		parent := newTestProcess(k, "parent", nil)
		child := newTestProcess(k, "child", parent)

		exited := make(chan time.Time, 1)

		go func() {
			time.Sleep(100 * time.Millisecond)
			exited <- time.Now()
			child.Exit(context.Background(), ExitStatus{Code: 3})
		}()

		ctx := context.Background()
		ctx, f := context.WithTimeout(ctx, 5*time.Second)
		defer f()

		ret, err := k.Join(ctx, parent, child.Pid)
		require.NoError(t, err)

		require.Equal(t, 3, ret.Code)

		select {
		case <-exited:
		default:
			t.Fatal("join returned before the child exited")
		}
	})

	n.It("only joins its own children, once", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)
		a := newTestProcess(k, "a", root)
		b := newTestProcess(k, "b", root)

		_, err := k.Join(ctx, a, b.Pid)
		require.Equal(t, ErrNotAChild, errors.Cause(err))

		_, err = k.Join(ctx, root, root.Pid)
		require.Equal(t, ErrNotAChild, errors.Cause(err))

		_, err = k.Join(ctx, root, 999)
		require.Equal(t, ErrNotAChild, errors.Cause(err))

		_, err = k.Join(ctx, root, -1)
		require.Equal(t, ErrNotAChild, errors.Cause(err))

		a.Exit(ctx, ExitStatus{})

		_, err = k.Join(ctx, root, a.Pid)
		require.NoError(t, err)

		_, err = k.Join(ctx, root, a.Pid)
		require.Equal(t, ErrNotAChild, errors.Cause(err))

		require.Equal(t, []int{b.Pid}, root.Children())
	})

	n.It("reaps zombie children when the parent exits", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)
		parent := newTestProcess(k, "parent", root)
		child := newTestProcess(k, "child", parent)

		child.Exit(ctx, ExitStatus{Code: 4})
		require.Equal(t, Zombie, child.State())

		parent.Exit(ctx, ExitStatus{})

		require.Equal(t, Reaped, child.State())
		require.Equal(t, Zombie, parent.State())

		_, ok := k.Processes().Lookup(child.Pid)
		require.False(t, ok)
	})

	n.It("reaps a detached child as soon as it exits", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)
		parent := newTestProcess(k, "parent", root)
		child := newTestProcess(k, "child", parent)

		parent.Exit(ctx, ExitStatus{})

		require.Equal(t, Running, child.State())

		child.Exit(ctx, ExitStatus{})

		require.Equal(t, Reaped, child.State())
		require.Equal(t, 2, k.Processes().Len())
	})

	n.It("stops waiting when the machine halts", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		parent := newTestProcess(k, "parent", nil)
		child := newTestProcess(k, "child", parent)

		go func() {
			time.Sleep(50 * time.Millisecond)
			k.Shutdown("test")
		}()

		ctx := context.Background()
		ctx, f := context.WithTimeout(ctx, 5*time.Second)
		defer f()

		_, err := k.Join(ctx, parent, child.Pid)
		require.Equal(t, ErrHalted, err)
	})

	n.It("gives up when the caller's context ends", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		parent := newTestProcess(k, "parent", nil)
		child := newTestProcess(k, "child", parent)

		ctx, f := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer f()

		_, err := k.Join(ctx, parent, child.Pid)
		require.Equal(t, context.DeadlineExceeded, errors.Cause(err))

		require.Equal(t, []int{child.Pid}, parent.Children())
	})

	n.Meow()
}

func TestExec(t *testing.T) {
	n := neko.Modern(t)

	readArgs := func(t *Task) []string {
		var hdr [2]int32

		if err := t.CopyIn(t.ArgBase, &hdr); err != nil {
			panic(err)
		}

		ptrs := make([]int32, hdr[0])

		if err := t.CopyIn(hdr[1], ptrs); err != nil {
			panic(err)
		}

		var args []string

		for _, ptr := range ptrs {
			str, err := t.ReadCString(ptr)
			if err != nil {
				panic(err)
			}

			args = append(args, string(str))
		}

		return args
	}

	n.It("runs a program and reports its exit status", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"seven.coff": func(ctx context.Context, t *Task) int32 {
				return 7
			},
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		pid, err := k.Exec(ctx, root, "seven.coff", nil)
		require.NoError(t, err)

		require.Equal(t, []int{pid}, root.Children())

		status, err := k.Join(ctx, root, pid)
		require.NoError(t, err)

		require.Equal(t, 7, status.Code)
		require.False(t, status.Fault)
	})

	n.It("copies the arguments into the child", func(t *testing.T) {
		got := make(chan []string, 1)

		k, _ := newTestKernel(t, map[string]Program{
			"args.coff": func(ctx context.Context, t *Task) int32 {
				got <- readArgs(t)
				return 0
			},
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		pid, err := k.Exec(ctx, root, "args.coff", []string{"one", "", "three"})
		require.NoError(t, err)

		_, err = k.Join(ctx, root, pid)
		require.NoError(t, err)

		require.Equal(t, []string{"one", "", "three"}, <-got)
	})

	n.It("hands the running task to the program", func(t *testing.T) {
		got := make(chan int, 1)

		k, _ := newTestKernel(t, map[string]Program{
			"self.coff": func(ctx context.Context, t *Task) int32 {
				task, ok := GetTask(ctx)
				if ok && task.Process == t.Process {
					got <- task.Pid
				} else {
					got <- -1
				}

				return 0
			},
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		pid, err := k.Exec(ctx, root, "self.coff", nil)
		require.NoError(t, err)

		require.Equal(t, pid, <-got)
	})

	n.It("rejects a missing executable", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		_, err := k.Exec(ctx, root, "missing.coff", nil)
		require.Equal(t, ErrInvalidExecutable, errors.Cause(err))

		require.Empty(t, root.Children())
		require.Equal(t, 1, k.Processes().Len())
	})

	n.It("rejects a file that is not a program", func(t *testing.T) {
		k, store := newTestKernel(t, nil)

		ctx := context.Background()

		require.NoError(t, fs.WriteFile(ctx, store, "notes.txt", []byte("plain text")))

		root := newTestProcess(k, "root", nil)

		_, err := k.Exec(ctx, root, "notes.txt", nil)
		require.Equal(t, ErrInvalidExecutable, errors.Cause(err))
	})

	n.It("rejects arguments that are too long", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"nop.coff": func(ctx context.Context, t *Task) int32 { return 0 },
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		long := make([]byte, 300)
		for i := range long {
			long[i] = 'x'
		}

		_, err := k.Exec(ctx, root, "nop.coff", []string{string(long)})
		require.Equal(t, ErrInvalidExecutable, errors.Cause(err))
	})

	n.It("never reuses a pid", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"nop.coff": func(ctx context.Context, t *Task) int32 { return 0 },
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		seen := map[int]bool{root.Pid: true}

		for i := 0; i < 5; i++ {
			pid, err := k.Exec(ctx, root, "nop.coff", nil)
			require.NoError(t, err)

			require.False(t, seen[pid])
			seen[pid] = true

			_, err = k.Join(ctx, root, pid)
			require.NoError(t, err)
		}
	})

	n.It("records a panic as a fault", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"crash.coff": func(ctx context.Context, t *Task) int32 {
				var m map[string]int
				m["boom"] = 1
				return 0
			},
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		pid, err := k.Exec(ctx, root, "crash.coff", nil)
		require.NoError(t, err)

		status, err := k.Join(ctx, root, pid)
		require.NoError(t, err)

		require.True(t, status.Fault)
		require.Equal(t, FaultCode, status.Code)
	})

	n.It("releases a process's files when it exits", func(t *testing.T) {
		k, store := newTestKernel(t, map[string]Program{
			"writer.coff": func(ctx context.Context, t *Task) int32 {
				fd, err := t.Files.Create(ctx, "out.txt")
				if err != nil {
					return 1
				}

				_, err = t.Files.Write(ctx, fd, []byte("written"))
				if err != nil {
					return 2
				}

				return 0
			},
		})

		ctx := context.Background()

		root := newTestProcess(k, "root", nil)

		pid, err := k.Exec(ctx, root, "writer.coff", nil)
		require.NoError(t, err)

		status, err := k.Join(ctx, root, pid)
		require.NoError(t, err)
		require.Equal(t, 0, status.Code)

		require.Equal(t, 0, k.Files().Len())

		data, err := fs.ReadFile(ctx, store, "out.txt")
		require.NoError(t, err)
		require.Equal(t, "written", string(data))
	})

	n.It("refuses to exec once halted", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"nop.coff": func(ctx context.Context, t *Task) int32 { return 0 },
		})

		root := newTestProcess(k, "root", nil)

		k.Shutdown("test")

		_, err := k.Exec(context.Background(), root, "nop.coff", nil)
		require.Equal(t, ErrHalted, err)
	})

	n.Meow()
}

func TestHalt(t *testing.T) {
	n := neko.Modern(t)

	wait := func(t *testing.T, k *Kernel) {
		ctx, f := context.WithTimeout(context.Background(), 5*time.Second)
		defer f()

		require.NoError(t, k.Wait(ctx))
		require.True(t, k.IsHalted())
	}

	n.It("halts when the last process exits", func(t *testing.T) {
		k, _ := newTestKernel(t, map[string]Program{
			"init.coff": func(ctx context.Context, t *Task) int32 { return 0 },
		})

		proc, err := k.InitProcess(context.Background(), "init.coff", nil)
		require.NoError(t, err)

		require.Equal(t, 0, proc.Pid)

		wait(t, k)

		require.Equal(t, "last process exited", k.HaltReason())
		require.Equal(t, 0, proc.ExitStatus().Code)
	})

	n.It("halts when the root process asks", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)

		k, _ := newTestKernel(t, map[string]Program{
			"init.coff": func(ctx context.Context, t *Task) int32 {
				_, err := t.Kernel.Exec(ctx, t.Process, "sleeper.coff", nil)
				if err != nil {
					return 1
				}

				t.Kernel.Halt(ctx, t.Process)
				return 5
			},
			"sleeper.coff": func(ctx context.Context, t *Task) int32 {
				<-block
				return 0
			},
		})

		proc, err := k.InitProcess(context.Background(), "init.coff", nil)
		require.NoError(t, err)

		wait(t, k)

		require.Equal(t, "halt", k.HaltReason())

		<-proc.Exited()
		require.Equal(t, 0, proc.ExitStatus().Code)
	})

	n.It("only exits a process that is not the root", func(t *testing.T) {
		result := make(chan ExitStatus, 1)

		k, _ := newTestKernel(t, map[string]Program{
			"init.coff": func(ctx context.Context, t *Task) int32 {
				pid, err := t.Kernel.Exec(ctx, t.Process, "halter.coff", nil)
				if err != nil {
					return 1
				}

				status, err := t.Kernel.Join(ctx, t.Process, pid)
				if err != nil {
					return 2
				}

				result <- status

				if t.Kernel.IsHalted() {
					return 3
				}

				return 0
			},
			"halter.coff": func(ctx context.Context, t *Task) int32 {
				t.Kernel.Halt(ctx, t.Process)
				return 9
			},
		})

		proc, err := k.InitProcess(context.Background(), "init.coff", nil)
		require.NoError(t, err)

		wait(t, k)

		status := <-result
		require.Equal(t, 0, status.Code)
		require.False(t, status.Fault)

		require.Equal(t, 0, proc.ExitStatus().Code)
		require.Equal(t, "last process exited", k.HaltReason())
	})

	n.It("dumps the tables", func(t *testing.T) {
		k, _ := newTestKernel(t, nil)

		p := newTestProcess(k, "dumped", nil)

		_, err := p.Files.Create(context.Background(), "held.txt")
		require.NoError(t, err)

		out := k.Dump()
		require.Contains(t, out, "dumped")
		require.Contains(t, out, "held.txt")
	})

	n.Meow()
}
