package progs

import (
	"bytes"

	"github.com/evanphx/nkern/boundary"
)

var (
	firstText  = []byte("This is the first thing that I want to write.\n")
	secondText = []byte("Oops, still got something.\n")
)

func validFD(fd int32) bool {
	return fd > 1 && fd < 16
}

// FDTest exercises the file syscalls. The exit status is the number of the
// first step that failed, or 0.
func FDTest(u *boundary.User) int32 {
	const (
		first  = "fdtest-first.txt"
		second = "fdtest-second.txt"
	)

	fd0 := u.Creat(first)
	fd1 := u.Creat(second)

	if !validFD(fd0) || !validFD(fd1) || fd0 == fd1 {
		u.Printf("fdtest: creat returned %d, %d\n", fd0, fd1)
		return 1
	}

	half := int32(len(secondText) / 2)

	if n := u.Write(fd0, firstText); n != int32(len(firstText)) {
		u.Printf("fdtest: wrote %d of %d bytes\n", n, len(firstText))
		return 2
	}

	if n := u.Write(fd1, secondText[:half]); n != half {
		u.Printf("fdtest: wrote %d of %d bytes\n", n, half)
		return 2
	}

	if u.Close(fd0) != 0 || u.Close(fd1) != 0 {
		u.Printf("fdtest: close failed\n")
		return 3
	}

	if u.Close(fd0) != -1 {
		u.Printf("fdtest: second close of %d succeeded\n", fd0)
		return 4
	}

	fd0 = u.Open(first)
	fd1 = u.Open(second)

	if !validFD(fd0) || !validFD(fd1) {
		u.Printf("fdtest: open returned %d, %d\n", fd0, fd1)
		return 5
	}

	buf := make([]byte, 100)

	n := u.Read(fd0, buf)
	if !bytes.Equal(buf[:max(n, 0)], firstText) {
		u.Printf("fdtest: read back %q\n", buf[:max(n, 0)])
		return 6
	}

	n = u.Read(fd1, buf)
	if !bytes.Equal(buf[:max(n, 0)], secondText[:half]) {
		u.Printf("fdtest: read back %q\n", buf[:max(n, 0)])
		return 6
	}

	if u.Read(fd0, buf) != 0 {
		u.Printf("fdtest: read past end of file\n")
		return 7
	}

	if u.Unlink(first) != 0 {
		u.Printf("fdtest: unlink of open file failed\n")
		return 8
	}

	if u.Open(first) != -1 {
		u.Printf("fdtest: opened an unlinked file\n")
		return 8
	}

	u.Close(fd0)
	u.Close(fd1)

	if u.Unlink(second) != 0 {
		u.Printf("fdtest: unlink failed\n")
		return 9
	}

	if u.Unlink(second) != -1 || u.Open(second) != -1 {
		u.Printf("fdtest: unlinked file is still there\n")
		return 9
	}

	u.Printf("fdtest: ok\n")

	return 0
}
