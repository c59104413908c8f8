package syscalls

import (
	"context"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	"github.com/evanphx/nkern/log"
)

type Invoker struct {
	Kernel *kernel.Kernel
}

func (i *Invoker) InvokeSyscall(ctx context.Context, args abi.SysArgs) int32 {
	if args.Index < 0 || args.Index >= abi.NumSyscalls {
		log.L.Trace("unknown syscall", "index", args.Index)
		return abi.Failure
	}

	if f := Syscalls[args.Index]; f != nil {
		p, ok := kernel.GetTask(ctx)
		if !ok {
			return abi.Failure
		}

		if i.Kernel.IsHalted() {
			log.L.Trace("syscall after halt", "pid", p.Pid, "name", abi.SyscallName(args.Index))
			return abi.Failure
		}

		return f(ctx, log.L, p, args)
	}

	return abi.Failure
}

var _ abi.SyscallInvoker = (*Invoker)(nil)
