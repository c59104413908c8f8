// Package boundary is the user side of the syscall interface. It gives
// programs a small libc: Go values are marshaled into the process's address
// space and numbered syscalls are issued through the kernel's invoker.
package boundary

import (
	"context"
	"fmt"
	"runtime"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	"github.com/evanphx/nkern/log"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

var ErrOutOfMemory = errors.New("user scratch memory exhausted")

type User struct {
	L       hclog.Logger
	Invoker abi.SyscallInvoker

	ctx context.Context
	t   *kernel.Task

	// sp is the next free scratch byte, starting at the process's heap
	// base.
	sp int32
}

func NewUser(ctx context.Context, t *kernel.Task) *User {
	return &User{
		L:       log.L,
		Invoker: t.Kernel.Invoker,
		ctx:     ctx,
		t:       t,
		sp:      t.HeapBase,
	}
}

// Program adapts a function written against User into a kernel program.
func Program(fn func(u *User) int32) kernel.Program {
	return func(ctx context.Context, t *kernel.Task) int32 {
		return fn(NewUser(ctx, t))
	}
}

func (u *User) Pid() int {
	return u.t.Pid
}

func (u *User) Context() context.Context {
	return u.ctx
}

func (u *User) invokeSyscall(args abi.SysArgs) int32 {
	ret := u.Invoker.InvokeSyscall(u.ctx, args)

	// A process that has been terminated, or one whose machine has halted,
	// must not run any further user code.
	select {
	case <-u.t.Exited():
		runtime.Goexit()
	default:
	}

	if u.t.Kernel.IsHalted() {
		runtime.Goexit()
	}

	return ret
}

func (u *User) syscall0(idx int32) int32 {
	u.L.Trace("syscall", "pid", u.t.Pid, "index", idx, "name", abi.SyscallName(idx))

	return u.invokeSyscall(abi.SysArgs{Index: idx})
}

func (u *User) syscall1(idx, a int32) int32 {
	u.L.Trace("syscall", "pid", u.t.Pid, "index", idx, "name", abi.SyscallName(idx), "a", a)
	return u.invokeSyscall(abi.SysArgs{Index: idx, Args: abi.SyscallRequest{R0: a}})
}

func (u *User) syscall2(idx, a, b int32) int32 {
	u.L.Trace("syscall", "pid", u.t.Pid, "index", idx, "name", abi.SyscallName(idx), "a", a, "b", b)
	return u.invokeSyscall(abi.SysArgs{Index: idx, Args: abi.SyscallRequest{R0: a, R1: b}})
}

func (u *User) syscall3(idx, a, b, c int32) int32 {
	u.L.Trace("syscall", "pid", u.t.Pid, "index", idx, "name", abi.SyscallName(idx), "a", a, "b", b, "c", c)
	return u.invokeSyscall(abi.SysArgs{Index: idx, Args: abi.SyscallRequest{R0: a, R1: b, R2: c}})
}

// Syscall issues a raw syscall with the registers as given.
func (u *User) Syscall(idx int32, req abi.SyscallRequest) int32 {
	u.L.Trace("syscall", "pid", u.t.Pid, "index", idx, "name", abi.SyscallName(idx), "req", req)
	return u.invokeSyscall(abi.SysArgs{Index: idx, Args: req})
}

// Alloc reserves n bytes of scratch memory, 4 byte aligned. Running out of
// address space is a fault.
func (u *User) Alloc(n int32) int32 {
	addr := (u.sp + 3) &^ 3

	if n < 0 || int64(addr)+int64(n) > int64(u.t.Mem.Size()) {
		panic(errors.Wrapf(ErrOutOfMemory, "allocating %d bytes at %x", n, addr))
	}

	u.sp = addr + n

	return addr
}

// Mark and Release bracket scratch allocations that are only needed for
// the duration of one call.
func (u *User) Mark() int32 {
	return u.sp
}

func (u *User) Release(mark int32) {
	u.sp = mark
}

func (u *User) mustWrite(addr int32, b []byte) {
	_, err := u.t.WriteAt(b, int64(addr))
	if err != nil {
		panic(err)
	}
}

func (u *User) mustRead(addr int32, b []byte) {
	_, err := u.t.ReadAt(b, int64(addr))
	if err != nil {
		panic(err)
	}
}

// CString copies s into scratch memory with a trailing NUL and returns its
// address.
func (u *User) CString(s string) int32 {
	addr := u.Alloc(int32(len(s)) + 1)
	u.mustWrite(addr, append([]byte(s), 0))
	return addr
}

func (u *User) Creat(name string) int32 {
	defer u.Release(u.Mark())

	return u.syscall1(abi.SysCreat, u.CString(name))
}

func (u *User) Open(name string) int32 {
	defer u.Release(u.Mark())

	return u.syscall1(abi.SysOpen, u.CString(name))
}

func (u *User) Unlink(name string) int32 {
	defer u.Release(u.Mark())

	return u.syscall1(abi.SysUnlink, u.CString(name))
}

func (u *User) Close(fd int32) int32 {
	return u.syscall1(abi.SysClose, fd)
}

// Read fills b from fd and returns the byte count, 0 at end of file or -1.
func (u *User) Read(fd int32, b []byte) int32 {
	defer u.Release(u.Mark())

	buf := u.Alloc(int32(len(b)))

	n := u.syscall3(abi.SysRead, fd, buf, int32(len(b)))
	if n > 0 {
		u.mustRead(buf, b[:n])
	}

	return n
}

func (u *User) Write(fd int32, b []byte) int32 {
	defer u.Release(u.Mark())

	buf := u.Alloc(int32(len(b)))
	u.mustWrite(buf, b)

	return u.syscall3(abi.SysWrite, fd, buf, int32(len(b)))
}

func (u *User) WriteString(fd int32, s string) int32 {
	return u.Write(fd, []byte(s))
}

// Printf writes to standard output.
func (u *User) Printf(format string, args ...interface{}) int32 {
	return u.WriteString(abi.Stdout, fmt.Sprintf(format, args...))
}

// Exec starts name with args and returns the child's pid or -1.
func (u *User) Exec(name string, args ...string) int32 {
	defer u.Release(u.Mark())

	namePtr := u.CString(name)

	ptrs := make([]int32, len(args))
	for i, arg := range args {
		ptrs[i] = u.CString(arg)
	}

	argv := u.Alloc(int32(len(ptrs)) * 4)

	err := u.t.CopyOut(argv, ptrs)
	if err != nil {
		panic(err)
	}

	return u.syscall3(abi.SysExec, namePtr, int32(len(args)), argv)
}

// Join waits for the child pid. It returns 1 when the child exited
// normally, 0 when it died from a fault and -1 on error. When status is
// non-nil the child's exit status is stored in it.
func (u *User) Join(pid int32, status *int32) int32 {
	defer u.Release(u.Mark())

	var addr int32

	if status != nil {
		addr = u.Alloc(4)
	}

	ret := u.syscall2(abi.SysJoin, pid, addr)

	if status != nil && ret >= 0 {
		err := u.t.CopyIn(addr, status)
		if err != nil {
			panic(err)
		}
	}

	return ret
}

// Exit terminates the process. It does not return.
func (u *User) Exit(status int32) {
	u.syscall1(abi.SysExit, status)

	runtime.Goexit()
}

// Halt stops the machine when called by the root process. Any other
// process just exits.
func (u *User) Halt() {
	u.syscall0(abi.SysHalt)

	runtime.Goexit()
}

// Args returns the arguments the process was started with.
func (u *User) Args() []string {
	var hdr [2]int32

	err := u.t.CopyIn(u.t.ArgBase, &hdr)
	if err != nil {
		panic(err)
	}

	argc, argv := hdr[0], hdr[1]

	ptrs := make([]int32, argc)

	err = u.t.CopyIn(argv, ptrs)
	if err != nil {
		panic(err)
	}

	args := make([]string, argc)

	for i, ptr := range ptrs {
		str, err := u.t.ReadCString(ptr)
		if err != nil {
			panic(err)
		}

		args[i] = string(str)
	}

	return args
}
