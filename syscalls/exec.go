package syscalls

import (
	"context"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

var ErrBadArgc = errors.New("negative argument count")

// copyStringArray reads argc string pointers starting at addr and the
// strings they point to.
func copyStringArray(p *kernel.Task, addr, argc int32) ([]string, error) {
	var args []string

	ptr := addr
	for i := int32(0); i < argc; i++ {
		var addr int32
		err := p.CopyIn(ptr, &addr)
		if err != nil {
			return nil, err
		}

		str, err := p.ReadCString(addr)
		if err != nil {
			return nil, err
		}

		args = append(args, string(str))

		ptr += 4
	}

	return args, nil
}

func sysExec(ctx context.Context, l hclog.Logger, task *kernel.Task, args abi.SysArgs) int32 {
	var (
		nameAddr = args.Args.R0
		argc     = args.Args.R1
		argvAddr = args.Args.R2
	)

	if argc < 0 {
		return fail(l, "exec", errors.Wrapf(ErrBadArgc, "argc %d", argc))
	}

	name, err := readName(task, nameAddr)
	if err != nil {
		return fail(l, "exec", err)
	}

	execArgs, err := copyStringArray(task, argvAddr, argc)
	if err != nil {
		return fail(l, "exec", err)
	}

	pid, err := task.Kernel.Exec(ctx, task.Process, name, execArgs)
	if err != nil {
		l.Trace("unable to exec process", "error", err, "name", name)
		return fail(l, "exec", err)
	}

	return int32(pid)
}

func sysExit(ctx context.Context, l hclog.Logger, task *kernel.Task, args abi.SysArgs) int32 {
	status := args.Args.R0

	task.Exit(ctx, kernel.ExitStatus{Code: int(status)})

	return 0
}

func sysHalt(ctx context.Context, l hclog.Logger, task *kernel.Task, args abi.SysArgs) int32 {
	task.Kernel.Halt(ctx, task.Process)

	return 0
}

func init() {
	Syscalls[abi.SysHalt] = sysHalt
	Syscalls[abi.SysExit] = sysExit
	Syscalls[abi.SysExec] = sysExec
}
