package kernel

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/log"
	"github.com/evanphx/nkern/memory"
	"github.com/pkg/errors"
)

// ArgBase is where exec leaves the argc/argv block in a new address space.
// The low addresses below it are never handed out so a zero pointer stays
// invalid for user code.
const ArgBase int32 = 0x10

// FaultCode is the exit code recorded for a process killed by a fault.
const FaultCode = -1

// InitProcess creates and starts the root process. It has no parent and is
// the only process allowed to halt the machine.
func (k *Kernel) InitProcess(ctx context.Context, name string, args []string) (*Process, error) {
	if k.Root() != nil {
		return nil, errors.New("init process already started")
	}

	proc, err := k.SetupProcess(ctx, name, args)
	if err != nil {
		return nil, err
	}

	k.processes.AssignPid(proc, nil)

	k.mu.Lock()
	k.root = proc
	k.mu.Unlock()

	err = k.StartProcess(proc)
	if err != nil {
		k.processes.abandon(proc)
		proc.Files.CloseAll(ctx)
		return nil, err
	}

	return proc, nil
}

// SetupProcess loads name and builds a process around it: a fresh address
// space holding the argument block and a descriptor table with the console
// on 0 and 1. The process has no pid until it is entered in the table.
func (k *Kernel) SetupProcess(ctx context.Context, name string, args []string) (*Process, error) {
	img, err := k.loader.Load(ctx, k.store, name)
	if err != nil {
		if errors.Cause(err) == ErrInvalidExecutable {
			return nil, err
		}

		return nil, errors.Wrapf(ErrInvalidExecutable, "loading %s: %s", name, err)
	}

	virtmem := memory.NewVirtualMemory()
	_, err = virtmem.NewRegion(0, img.MemorySize)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidExecutable, "address space of %s: %s", name, err)
	}

	proc := newProcess(k, name)
	proc.Mem = virtmem
	proc.Entry = img.Entry

	heap, err := writeExecHeader(proc, ArgBase, args)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidExecutable, "arguments for %s: %s", name, err)
	}

	proc.ArgBase = ArgBase
	proc.HeapBase = heap

	return proc, nil
}

// writeExecHeader lays out argc, a pointer to argv, the argv pointer array
// terminated by 0 and finally the strings themselves. It returns the first
// 8 byte aligned address after the block.
func writeExecHeader(p *Process, base int32, args []string) (int32, error) {
	argc := int32(len(args))

	argv := base + 8
	strs := argv + (argc+1)*4

	err := p.CopyOut(base, []int32{argc, argv})
	if err != nil {
		return 0, err
	}

	ptrs := make([]int32, 0, argc+1)

	for _, arg := range args {
		if len(arg) > abi.MaxArgLen {
			return 0, errors.Wrapf(ErrStringTooLong, "argument of %d bytes", len(arg))
		}

		_, err = p.WriteAt(append([]byte(arg), 0), int64(strs))
		if err != nil {
			return 0, err
		}

		ptrs = append(ptrs, strs)
		strs += int32(len(arg)) + 1
	}

	ptrs = append(ptrs, 0)

	err = p.CopyOut(argv, ptrs)
	if err != nil {
		return 0, err
	}

	return (strs + 7) &^ 7, nil
}

// StartProcess hands the process to the scheduler.
func (k *Kernel) StartProcess(proc *Process) error {
	return k.scheduler.Spawn(fmt.Sprintf("%s[%d]", proc.Name, proc.Pid), func() {
		k.run(proc)
	})
}

func (k *Kernel) run(proc *Process) {
	task := &Task{Process: proc}
	ctx := SetTask(k.ctx, task)

	var (
		code     int32
		returned bool
	)

	defer func() {
		if r := recover(); r != nil {
			log.L.Debug("process-fault", "pid", proc.Pid, "panic", r, "stack", string(debug.Stack()))
			proc.Exit(context.Background(), ExitStatus{Code: FaultCode, Fault: true, Reason: fmt.Sprint(r)})
			return
		}

		if !returned {
			// The goroutine was stopped without an exit syscall.
			proc.Exit(context.Background(), ExitStatus{Code: FaultCode, Fault: true, Reason: "thread exited"})
			return
		}

		proc.Exit(context.Background(), ExitStatus{Code: int(code)})
	}()

	log.L.Trace("process-start", "pid", proc.Pid, "name", proc.Name)

	code = proc.Entry(ctx, task)
	returned = true
}
