package syscalls

import (
	"context"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	hclog "github.com/hashicorp/go-hclog"
)

func sysJoin(ctx context.Context, l hclog.Logger, task *kernel.Task, args abi.SysArgs) int32 {
	var (
		pid        = args.Args.R0
		statusAddr = args.Args.R1
	)

	status, err := task.Kernel.Join(ctx, task.Process, int(pid))
	if err != nil {
		return fail(l, "join", err)
	}

	l.Trace("joined child", "pid", task.Pid, "child", pid, "status", status)

	if statusAddr != 0 {
		err = task.CopyOut(statusAddr, status.Status())
		if err != nil {
			return fail(l, "join", err)
		}
	}

	if status.Fault {
		return abi.JoinFault
	}

	return abi.JoinNormal
}

func init() {
	Syscalls[abi.SysJoin] = sysJoin
}
