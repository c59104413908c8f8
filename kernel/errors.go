package kernel

import "errors"

var (
	ErrBadDescriptor     = errors.New("bad file descriptor")
	ErrNotFound          = errors.New("no such file")
	ErrTableFull         = errors.New("file descriptor table full")
	ErrInvalidExecutable = errors.New("invalid executable")
	ErrNotAChild         = errors.New("not a child process")
	ErrHalted            = errors.New("machine halted")
	ErrStringTooLong     = errors.New("string exceeds maximum length")
)
