package progs

import (
	"strings"

	"github.com/evanphx/nkern/abi"
	"github.com/evanphx/nkern/boundary"
)

// Echo prints its arguments separated by spaces.
func Echo(u *boundary.User) int32 {
	u.Printf("%s\n", strings.Join(u.Args(), " "))
	return 0
}

// Cat copies the named files, or standard input when none are given, to
// standard output.
func Cat(u *boundary.User) int32 {
	args := u.Args()

	if len(args) == 0 {
		return copyFD(u, abi.Stdin)
	}

	var status int32

	for _, name := range args {
		fd := u.Open(name)
		if fd < 0 {
			u.Printf("cat: %s: not found\n", name)
			status = 1
			continue
		}

		if copyFD(u, fd) != 0 {
			status = 1
		}

		u.Close(fd)
	}

	return status
}

func copyFD(u *boundary.User, fd int32) int32 {
	buf := make([]byte, 256)

	for {
		n := u.Read(fd, buf)
		if n < 0 {
			return 1
		}

		if n == 0 {
			return 0
		}

		if u.Write(abi.Stdout, buf[:n]) != n {
			return 1
		}
	}
}

// Halt stops the machine.
func Halt(u *boundary.User) int32 {
	u.Halt()
	return 0
}

// Fault dies from an unhandled fault by asking for more memory than its
// address space holds.
func Fault(u *boundary.User) int32 {
	u.Alloc(1 << 30)
	return 0
}
