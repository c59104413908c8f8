package kernel

import (
	"context"
	"io"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/log"
	"github.com/evanphx/nkern/pkg/waiter"
	"github.com/pkg/errors"
)

// Program is the code of an executable. Its return value is the exit
// status of the process running it.
type Program func(ctx context.Context, t *Task) int32

// Image is a loaded executable, ready to be given an address space.
type Image struct {
	Name  string
	Entry Program

	// MemorySize is the size in bytes of the address space the image
	// asks for.
	MemorySize int32
}

// Loader turns a file in storage into an Image, or reports why it can't.
type Loader interface {
	Load(ctx context.Context, store fs.Store, name string) (*Image, error)
}

// Scheduler runs a process's thread of control concurrently with the
// caller.
type Scheduler interface {
	Spawn(name string, fn func()) error
}

type Options struct {
	Store     fs.Store
	Loader    Loader
	Scheduler Scheduler

	Stdin  io.Reader
	Stdout io.Writer
}

type Kernel struct {
	store     fs.Store
	loader    Loader
	scheduler Scheduler
	console   *Console

	oft       *OpenFileTable
	processes *ProcessManager

	// Invoker dispatches the syscalls made by user programs.
	Invoker abi.SyscallInvoker

	events waiter.Waiter

	ctx      context.Context
	shutdown context.CancelFunc

	mu         sync.Mutex
	root       *Process
	haltReason string
}

func NewKernel(opts Options) (*Kernel, error) {
	if opts.Store == nil {
		return nil, errors.New("kernel requires a store")
	}

	if opts.Loader == nil {
		return nil, errors.New("kernel requires a loader")
	}

	if opts.Scheduler == nil {
		return nil, errors.New("kernel requires a scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())

	k := &Kernel{
		store:     opts.Store,
		loader:    opts.Loader,
		scheduler: opts.Scheduler,
		console:   NewConsole(opts.Stdin, opts.Stdout),
		oft:       NewOpenFileTable(opts.Store),
		processes: NewProcessManager(),
		ctx:       ctx,
		shutdown:  cancel,
	}

	return k, nil
}

func (k *Kernel) Store() fs.Store {
	return k.store
}

func (k *Kernel) Files() *OpenFileTable {
	return k.oft
}

func (k *Kernel) Processes() *ProcessManager {
	return k.processes
}

func (k *Kernel) Root() *Process {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.root
}

const (
	_ waiter.EventType = 1 << iota
	ProcessExitted
	MachineHalted
)

// IsHalted reports whether the machine has shut down.
func (k *Kernel) IsHalted() bool {
	return k.ctx.Err() != nil
}

func (k *Kernel) HaltReason() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.haltReason
}

// Shutdown stops the machine. Blocked joins return and every later syscall
// fails. Only the first reason is kept.
func (k *Kernel) Shutdown(reason string) {
	k.mu.Lock()
	if k.haltReason == "" {
		k.haltReason = reason
	}
	k.mu.Unlock()

	if k.IsHalted() {
		return
	}

	log.L.Debug("machine-shutdown", "reason", reason)

	k.shutdown()
	k.events.Notify(MachineHalted)
}

// Wait blocks until the machine halts, either through halt() from the
// root process or because the last process exited.
func (k *Kernel) Wait(ctx context.Context) error {
	c := make(chan struct{}, 1)
	ev := k.events.RegisterChannel(MachineHalted|ProcessExitted, c)
	defer k.events.Unregister(ev)

	for {
		if k.IsHalted() {
			return nil
		}

		log.L.Trace("machine-waiting", "live", k.processes.Live())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c:
			// check again
		}
	}
}

func (k *Kernel) processExited(p *Process) {
	k.events.Notify(ProcessExitted)

	if k.processes.Live() == 0 {
		k.Shutdown("last process exited")
	}
}

// Exec starts name as a new child of parent and returns its pid without
// waiting for it to run.
func (k *Kernel) Exec(ctx context.Context, parent *Process, name string, args []string) (int, error) {
	if k.IsHalted() {
		return -1, ErrHalted
	}

	proc, err := k.SetupProcess(ctx, name, args)
	if err != nil {
		return -1, err
	}

	pid := k.processes.AssignPid(proc, parent)

	err = k.StartProcess(proc)
	if err != nil {
		k.processes.abandon(proc)
		proc.Files.CloseAll(ctx)
		return -1, err
	}

	log.L.Trace("process-exec", "parent", parent.Pid, "pid", pid, "name", name, "args", args)

	return pid, nil
}

// Join waits for parent's child pid to terminate and returns its exit
// status. Each child can be joined once.
func (k *Kernel) Join(ctx context.Context, parent *Process, pid int) (ExitStatus, error) {
	if k.IsHalted() {
		return ExitStatus{}, ErrHalted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-k.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	status, err := k.processes.Join(ctx, parent, pid)
	if err != nil && k.IsHalted() && errors.Cause(err) == context.Canceled {
		return ExitStatus{}, ErrHalted
	}

	return status, err
}

// Halt shuts the machine down when p is the root process. Any other
// process simply exits with status 0.
func (k *Kernel) Halt(ctx context.Context, p *Process) {
	if p == k.Root() {
		log.L.Trace("process-halt", "pid", p.Pid)
		k.Shutdown("halt")
	}

	p.Exit(ctx, ExitStatus{Code: 0})
}

type kernelDump struct {
	HaltReason string
	Files      []OpenFileInfo
	Processes  []ProcessInfo
}

// Dump renders the open file table and process table for debugging.
func (k *Kernel) Dump() string {
	return spew.Sdump(kernelDump{
		HaltReason: k.HaltReason(),
		Files:      k.oft.Snapshot(),
		Processes:  k.processes.Snapshot(),
	})
}
