// Package syscalls implements the kernel side of the numbered syscalls.
// Handlers decode registers, call into the kernel and fold every error into
// abi.Failure, logging the precise cause at trace level.
package syscalls

import (
	"context"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/kernel"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

type Handler func(context.Context, hclog.Logger, *kernel.Task, abi.SysArgs) int32

var Syscalls [abi.NumSyscalls]Handler

func fail(l hclog.Logger, op string, err error) int32 {
	l.Trace("syscall failed", "op", op, "error", err, "cause", errors.Cause(err))
	return abi.Failure
}

// readName copies a file or program name out of user memory.
func readName(p *kernel.Task, ptr int32) (string, error) {
	name, err := p.ReadCString(ptr)
	if err != nil {
		return "", err
	}

	return string(name), nil
}
