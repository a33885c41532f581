package mm

import (
	"encoding/binary"

	"github.com/zhangkepi/my-os/kernel"
)

var errRAMSize = &kernel.Error{Module: "mm", Message: "RAM size must be a non-zero multiple of the page size"}

// RAM is the machine's physical memory. Physical address N refers to byte N
// of the backing store. The kernel identity maps physical memory so it
// accesses RAM directly through physical addresses.
type RAM struct {
	mem     []byte
	release func([]byte) error
}

// NewRAM reserves size bytes of zeroed, page-aligned physical memory.
func NewRAM(size uintptr) (*RAM, error) {
	if size == 0 || size&(PageSize-1) != 0 {
		return nil, errRAMSize
	}

	mem, release, err := allocBacking(int(size))
	if err != nil {
		return nil, err
	}

	return &RAM{mem: mem, release: release}, nil
}

// Size returns the size of physical memory in bytes.
func (r *RAM) Size() uintptr {
	return uintptr(len(r.mem))
}

// Bytes returns a slice overlaying size bytes of physical memory starting at
// addr. Writes to the slice update physical memory.
func (r *RAM) Bytes(addr, size uintptr) []byte {
	return r.mem[addr : addr+size : addr+size]
}

// Memset sets size bytes starting at addr to value.
func (r *RAM) Memset(addr uintptr, value byte, size uintptr) {
	kernel.Memset(r.Bytes(addr, size), value)
}

// Memcopy copies size bytes from src to dst.
func (r *RAM) Memcopy(src, dst, size uintptr) {
	kernel.Memcopy(r.Bytes(src, size), r.Bytes(dst, size))
}

// ReadUint32 reads the little-endian 32-bit word stored at addr.
func (r *RAM) ReadUint32(addr uintptr) uint32 {
	return binary.LittleEndian.Uint32(r.Bytes(addr, 4))
}

// WriteUint32 stores value as a little-endian 32-bit word at addr.
func (r *RAM) WriteUint32(addr uintptr, value uint32) {
	binary.LittleEndian.PutUint32(r.Bytes(addr, 4), value)
}

// Release returns the backing store to the host.
func (r *RAM) Release() error {
	if r.mem == nil {
		return nil
	}

	mem := r.mem
	r.mem = nil
	return r.release(mem)
}
