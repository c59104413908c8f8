package kernel

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/log"
	"github.com/evanphx/nkern/memory"
	"github.com/pkg/errors"
)

type prockey struct{}

func GetTask(ctx context.Context) (*Task, bool) {
	if v := ctx.Value(prockey{}); v != nil {
		return v.(*Task), true
	}

	return nil, false
}

func SetTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, prockey{}, t)
}

// Task is the running-thread view of a process, the value syscalls act on.
type Task struct {
	*Process
}

type ProcessState int

const (
	Running ProcessState = iota
	Zombie
	Reaped
)

func (s ProcessState) String() string {
	switch s {
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	case Reaped:
		return "reaped"
	default:
		return "unknown"
	}
}

type ExitStatus struct {
	Code int

	// Fault is set when the process died from an unhandled fault rather
	// than by exiting.
	Fault  bool
	Reason string
}

func (e ExitStatus) Status() int32 {
	return int32(e.Code)
}

func (e ExitStatus) String() string {
	if e.Fault {
		return fmt.Sprintf("fault(%s)", e.Reason)
	}

	return fmt.Sprintf("exit(%d)", e.Code)
}

type Process struct {
	Kernel *Kernel
	Pid    int
	Name   string

	Mem   *memory.VirtualMemory
	Files *FDTable
	Entry Program

	// Where exec left argc/argv, and the first free byte after them.
	ArgBase  int32
	HeapBase int32

	// Protected by Kernel.processes.mu.
	parent     *Process
	children   map[int]*Process
	state      ProcessState
	exitStatus ExitStatus

	exitOnce sync.Once
	exited   chan struct{}
}

func newProcess(k *Kernel, name string) *Process {
	return &Process{
		Kernel:   k,
		Name:     name,
		Files:    NewFDTable(k.oft, k.console),
		children: make(map[int]*Process),
		exited:   make(chan struct{}),
	}
}

// Exited is closed once the process has terminated.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) State() ProcessState {
	return p.Kernel.processes.stateOf(p)
}

// ExitStatus is only meaningful after Exited is closed.
func (p *Process) ExitStatus() ExitStatus {
	<-p.exited
	return p.Kernel.processes.exitStatusOf(p)
}

// Exit terminates the process: its descriptors are released, it becomes a
// zombie for its parent to join, and anyone waiting on it is woken. Only
// the first call has any effect.
func (p *Process) Exit(ctx context.Context, status ExitStatus) {
	p.exitOnce.Do(func() {
		log.L.Trace("process-exit", "pid", p.Pid, "status", status)

		err := p.Files.CloseAll(ctx)
		if err != nil {
			log.L.Error("error releasing files at exit", "pid", p.Pid, "error", err)
		}

		p.Kernel.processes.exit(p, status)

		close(p.exited)

		p.Kernel.processExited(p)
	})
}

// Children returns the pids this process may still join.
func (p *Process) Children() []int {
	return p.Kernel.processes.childrenOf(p)
}

func (p *Process) ReadAt(b []byte, off int64) (int, error) {
	if p.Mem == nil {
		return 0, memory.ErrInvalidMemoryAccess
	}

	return p.Mem.ReadAt(b, off)
}

func (p *Process) WriteAt(b []byte, off int64) (int, error) {
	if p.Mem == nil {
		return 0, memory.ErrInvalidMemoryAccess
	}

	return p.Mem.WriteAt(b, off)
}

// ReadCString copies a NUL terminated string of at most abi.MaxArgLen bytes
// out of the process's memory.
func (p *Process) ReadCString(ptr int32) ([]byte, error) {
	var buf bytes.Buffer

	var t [1]byte

	off := int64(ptr)

	for {
		_, err := p.ReadAt(t[:], off)
		if err != nil {
			return nil, err
		}

		if t[0] == 0 {
			break
		}

		if buf.Len() == abi.MaxArgLen {
			return nil, errors.Wrapf(ErrStringTooLong, "string at %x", ptr)
		}

		buf.WriteByte(t[0])
		off += 1
	}

	return buf.Bytes(), nil
}

type writeAdapter struct {
	sub    io.WriterAt
	offset int64
}

func (wa *writeAdapter) Write(b []byte) (int, error) {
	n, err := wa.sub.WriteAt(b, wa.offset)
	wa.offset += int64(n)
	return n, err
}

type readAdapter struct {
	sub    io.ReaderAt
	offset int64
}

func (ra *readAdapter) Read(b []byte) (int, error) {
	n, err := ra.sub.ReadAt(b, ra.offset)
	ra.offset += int64(n)
	return n, err
}

func (p *Process) CopyOut(addr int32, val interface{}) error {
	return binary.Write(&writeAdapter{sub: p, offset: int64(addr)}, binary.LittleEndian, val)
}

func (p *Process) CopyIn(addr int32, val interface{}) error {
	return binary.Read(&readAdapter{sub: p, offset: int64(addr)}, binary.LittleEndian, val)
}
