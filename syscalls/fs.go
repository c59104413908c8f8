package syscalls

import (
	"context"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	hclog "github.com/hashicorp/go-hclog"
)

func sysCreat(ctx context.Context, l hclog.Logger, p *kernel.Task, args abi.SysArgs) int32 {
	name, err := readName(p, args.Args.R0)
	if err != nil {
		return fail(l, "creat", err)
	}

	l.Trace("creat file", "pid", p.Pid, "name", name)

	fd, err := p.Files.Create(ctx, name)
	if err != nil {
		return fail(l, "creat", err)
	}

	return int32(fd)
}

func sysOpen(ctx context.Context, l hclog.Logger, p *kernel.Task, args abi.SysArgs) int32 {
	name, err := readName(p, args.Args.R0)
	if err != nil {
		return fail(l, "open", err)
	}

	l.Trace("open file", "pid", p.Pid, "name", name)

	fd, err := p.Files.Open(ctx, name)
	if err != nil {
		return fail(l, "open", err)
	}

	return int32(fd)
}

func sysUnlink(ctx context.Context, l hclog.Logger, p *kernel.Task, args abi.SysArgs) int32 {
	name, err := readName(p, args.Args.R0)
	if err != nil {
		return fail(l, "unlink", err)
	}

	l.Trace("unlink file", "pid", p.Pid, "name", name)

	err = p.Files.Unlink(ctx, name)
	if err != nil {
		return fail(l, "unlink", err)
	}

	return 0
}

func init() {
	Syscalls[abi.SysCreat] = sysCreat
	Syscalls[abi.SysOpen] = sysOpen
	Syscalls[abi.SysUnlink] = sysUnlink
}
