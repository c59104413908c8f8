// Package abi holds the numbers and shapes shared by user programs and the
// kernel's syscall layer.
package abi

import "context"

const (
	SysHalt   = 0
	SysExit   = 1
	SysExec   = 2
	SysJoin   = 3
	SysCreat  = 4
	SysOpen   = 5
	SysRead   = 6
	SysWrite  = 7
	SysClose  = 8
	SysUnlink = 9

	NumSyscalls = 10
)

var SyscallNames = [NumSyscalls]string{
	SysHalt:   "halt",
	SysExit:   "exit",
	SysExec:   "exec",
	SysJoin:   "join",
	SysCreat:  "creat",
	SysOpen:   "open",
	SysRead:   "read",
	SysWrite:  "write",
	SysClose:  "close",
	SysUnlink: "unlink",
}

// SyscallName returns the name of syscall idx, or "unknown".
func SyscallName(idx int32) string {
	if idx < 0 || idx >= NumSyscalls {
		return "unknown"
	}

	return SyscallNames[idx]
}

const (
	// Failure is the only error value a process ever sees.
	Failure int32 = -1

	// MaxArgLen bounds every string copied in from user memory, not
	// counting the NUL terminator.
	MaxArgLen = 256

	// MaxFD is the size of every process's descriptor table.
	MaxFD = 16

	Stdin  = 0
	Stdout = 1

	// JoinNormal and JoinFault are join's results for a child that exited
	// on its own and one killed by an unhandled fault.
	JoinNormal int32 = 1
	JoinFault  int32 = 0
)

type SyscallRequest struct {
	R0, R1, R2, R3 int32
}

type SysArgs struct {
	Index int32
	Args  SyscallRequest
}

type SyscallInvoker interface {
	InvokeSyscall(context.Context, SysArgs) int32
}
