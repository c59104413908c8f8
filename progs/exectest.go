package progs

import "github.com/evanphx/nkern/boundary"

// ExecTest runs its first argument as a program with the remaining
// arguments, waits for it and exits with the child's status. Without
// arguments it runs echo.
func ExecTest(u *boundary.User) int32 {
	args := u.Args()

	name := "echo.coff"
	if len(args) > 0 {
		name = args[0]
		args = args[1:]
	} else {
		args = []string{"hello", "from", "echo"}
	}

	pid := u.Exec(name, args...)
	if pid < 0 {
		u.Printf("exectest: exec of %s failed\n", name)
		return -1
	}

	var status int32

	switch u.Join(pid, &status) {
	case 1:
		u.Printf("exectest: %s (pid %d) exited with %d\n", name, pid, status)
	case 0:
		u.Printf("exectest: %s (pid %d) faulted\n", name, pid)
		return -1
	default:
		u.Printf("exectest: join of %d failed\n", pid)
		return -1
	}

	if u.Join(pid, nil) != -1 {
		u.Printf("exectest: joined %d twice\n", pid)
		return -1
	}

	return status
}
