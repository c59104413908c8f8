package memory

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

const PageSize = 1024

type Region struct {
	Start, Size int32

	linear []byte
}

func (reg *Region) Contains(x int32) bool {
	if x < reg.Start {
		return false
	}

	if x >= reg.Start+reg.Size {
		return false
	}

	return true
}

func pageRound(sz int32) int32 {
	if sz < PageSize {
		return PageSize
	}

	diff := sz % PageSize
	if diff == 0 {
		return sz
	}

	return sz + (PageSize - diff)
}

// Project returns the backing bytes for [addr, addr+sz). The region's
// storage is grown lazily, a page at a time, but never past Size.
func (reg *Region) Project(addr, sz int32) ([]byte, error) {
	offset := addr - reg.Start

	if sz < 0 || offset < 0 || int64(offset)+int64(sz) > int64(reg.Size) {
		return nil, errors.Wrapf(ErrInvalidMemoryAccess, "address=%x, size=%x", addr, sz)
	}

	if len(reg.linear) < int(offset+sz) {
		want := pageRound(offset + sz)
		if want > reg.Size {
			want = reg.Size
		}

		slice := make([]byte, want)
		copy(slice, reg.linear)

		reg.linear = slice
	}

	return reg.linear[offset : offset+sz], nil
}

// VirtualMemory is a process's address space. Pages are materialized on
// first touch.
type VirtualMemory struct {
	mu      sync.Mutex
	regions []*Region

	size int32
}

func NewVirtualMemory() *VirtualMemory {
	return &VirtualMemory{}
}

func (vm *VirtualMemory) Size() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	return int(vm.size)
}

func (vm *VirtualMemory) findRegion(addr int32) (*Region, bool) {
	for _, reg := range vm.regions {
		if reg.Contains(addr) {
			return reg, true
		}
	}

	return nil, false
}

var ErrInvalidMemoryAccess = errors.New("invalid memory access via projection")

func (vm *VirtualMemory) Project(addr, sz int32) ([]byte, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	return vm.project(addr, sz)
}

func (vm *VirtualMemory) project(addr, sz int32) ([]byte, error) {
	reg, ok := vm.findRegion(addr)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidMemoryAccess, "error projecting address=%x, size=%x", addr, sz)
	}

	return reg.Project(addr, sz)
}

var ErrBadRegionRequest = errors.New("bad region request")

func (vm *VirtualMemory) NewRegion(addr, size int32) (*Region, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if addr < 0 || size <= 0 {
		return nil, ErrBadRegionRequest
	}

	for _, reg := range vm.regions {
		if addr < reg.Start+reg.Size && reg.Start < addr+size {
			return nil, errors.Wrapf(ErrBadRegionRequest, "overlaps region at %x", reg.Start)
		}
	}

	reg := &Region{
		Start: addr,
		Size:  size,
	}

	vm.regions = append(vm.regions, reg)

	vm.size += size

	return reg, nil
}

func (vm *VirtualMemory) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off > int64(^uint32(0)>>1) {
		return 0, ErrInvalidMemoryAccess
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	mem, err := vm.project(int32(off), int32(len(b)))
	if err != nil {
		return 0, err
	}

	return copy(b, mem), nil
}

func (vm *VirtualMemory) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off > int64(^uint32(0)>>1) {
		return 0, ErrInvalidMemoryAccess
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	mem, err := vm.project(int32(off), int32(len(b)))
	if err != nil {
		return 0, err
	}

	return copy(mem, b), nil
}

var (
	_ io.ReaderAt = (*VirtualMemory)(nil)
	_ io.WriterAt = (*VirtualMemory)(nil)
)
