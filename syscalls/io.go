package syscalls

import (
	"context"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

var ErrBadCount = errors.New("negative byte count")

func sysRead(ctx context.Context, l hclog.Logger, p *kernel.Task, args abi.SysArgs) int32 {
	var (
		fd   = args.Args.R0
		addr = args.Args.R1
		sz   = args.Args.R2
	)

	if sz < 0 {
		return fail(l, "read", errors.Wrapf(ErrBadCount, "count %d", sz))
	}

	if sz == 0 {
		_, err := p.Files.Get(int(fd))
		if err != nil {
			return fail(l, "read", err)
		}

		return 0
	}

	// Check the destination before consuming anything from the file.
	_, err := p.Mem.Project(addr, sz)
	if err != nil {
		return fail(l, "read", err)
	}

	buf := make([]byte, sz)

	n, err := p.Files.Read(ctx, int(fd), buf)
	if err != nil {
		return fail(l, "read", err)
	}

	_, err = p.WriteAt(buf[:n], int64(addr))
	if err != nil {
		return fail(l, "read", err)
	}

	return int32(n)
}

func sysWrite(ctx context.Context, l hclog.Logger, p *kernel.Task, args abi.SysArgs) int32 {
	var (
		fd   = args.Args.R0
		addr = args.Args.R1
		sz   = args.Args.R2
	)

	if sz < 0 {
		return fail(l, "write", errors.Wrapf(ErrBadCount, "count %d", sz))
	}

	buf := make([]byte, 0)

	if sz > 0 {
		_, err := p.Mem.Project(addr, sz)
		if err != nil {
			return fail(l, "write", err)
		}

		buf = make([]byte, sz)

		_, err = p.ReadAt(buf, int64(addr))
		if err != nil {
			return fail(l, "write", err)
		}
	}

	n, err := p.Files.Write(ctx, int(fd), buf)
	if err != nil {
		return fail(l, "write", err)
	}

	return int32(n)
}

func sysClose(ctx context.Context, l hclog.Logger, p *kernel.Task, args abi.SysArgs) int32 {
	fd := args.Args.R0

	l.Trace("close file", "pid", p.Pid, "fd", fd)

	err := p.Files.Close(ctx, int(fd))
	if err != nil {
		return fail(l, "close", err)
	}

	return 0
}

func init() {
	Syscalls[abi.SysRead] = sysRead
	Syscalls[abi.SysWrite] = sysWrite
	Syscalls[abi.SysClose] = sysClose
}
