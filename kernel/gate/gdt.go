package gate

import (
	"sync"

	"github.com/zhangkepi/my-os/kernel"
)

// Selector is an index into the global descriptor table shifted left by 3
// and combined with the requested privilege level.
type Selector uint16

// Segment descriptor attribute bits.
const (
	SegGranularity = uint16(1 << 15)
	SegDB          = uint16(1 << 14)
	SegPresent     = uint16(1 << 7)
	SegDPL0        = uint16(0 << 5)
	SegDPL3        = uint16(3 << 5)
	SegNormal      = uint16(1 << 4)
	SegTypeCode    = uint16(1 << 3)
	SegTypeData    = uint16(0 << 3)
	SegTypeRW      = uint16(1 << 1)
	SegTypeTSS     = uint16(9)
)

// Requested privilege levels that get or-ed into a selector.
const (
	RPL0 = Selector(0)
	RPL3 = Selector(3)
)

const (
	// DefaultGDTSize is the number of descriptors in the GDT.
	DefaultGDTSize = 256

	// KernelCodeSelector and KernelDataSelector are the flat 4G kernel
	// segments installed at boot.
	KernelCodeSelector = Selector(1 << 3)
	KernelDataSelector = Selector(2 << 3)

	// SyscallSelector is the selector of the syscall call gate.
	SyscallSelector = Selector(3 << 3)

	firstFreeDescriptor = 4
)

var errNoFreeDescriptor = &kernel.Error{Module: "gdt", Message: "no free descriptor in GDT"}

// segmentDescriptor is the 8-byte x86 segment descriptor layout.
type segmentDescriptor struct {
	limitLow uint16
	baseLow  uint16
	baseMid  uint8
	attr     uint16
	baseHigh uint8
}

// DescriptorTable is a fixed-size pool of GDT slots.
type DescriptorTable struct {
	mu      sync.Locker
	entries []segmentDescriptor
	used    []bool
}

// NewDescriptorTable returns a table with size slots. The null descriptor,
// the flat kernel segments and the syscall gate slot are reserved.
func NewDescriptorTable(size int) *DescriptorTable {
	t := &DescriptorTable{
		entries: make([]segmentDescriptor, size),
		used:    make([]bool, size),
	}

	for i := 0; i < firstFreeDescriptor && i < size; i++ {
		t.used[i] = true
	}

	t.SetSegment(KernelCodeSelector, 0, 0xFFFFFFFF, SegPresent|SegDPL0|SegNormal|SegTypeCode|SegTypeRW|SegDB)
	t.SetSegment(KernelDataSelector, 0, 0xFFFFFFFF, SegPresent|SegDPL0|SegNormal|SegTypeData|SegTypeRW|SegDB)
	return t
}

// SetLocker sets the lock that serializes slot allocation. It is installed
// once the kernel mutex is available; until then the table is only touched
// by the boot code.
func (t *DescriptorTable) SetLocker(l sync.Locker) {
	t.mu = l
}

// Alloc reserves a free descriptor slot and returns its selector.
func (t *DescriptorTable) Alloc() (Selector, *kernel.Error) {
	t.lock()
	defer t.unlock()

	for i := firstFreeDescriptor; i < len(t.entries); i++ {
		if !t.used[i] {
			t.used[i] = true
			return Selector(i << 3), nil
		}
	}

	return 0, errNoFreeDescriptor
}

// Free clears the descriptor referenced by sel and returns its slot to the
// pool.
func (t *DescriptorTable) Free(sel Selector) {
	t.lock()
	defer t.unlock()

	index := int(sel >> 3)
	if index < firstFreeDescriptor || index >= len(t.entries) {
		return
	}

	t.entries[index] = segmentDescriptor{}
	t.used[index] = false
}

// SetSegment encodes a segment descriptor for sel. Limits above 1M are
// stored with 4K granularity.
func (t *DescriptorTable) SetSegment(sel Selector, base, limit uint32, attr uint16) {
	if limit > 0xfffff {
		attr |= SegGranularity
		limit /= 0x1000
	}

	t.entries[sel>>3] = segmentDescriptor{
		limitLow: uint16(limit & 0xffff),
		baseLow:  uint16(base & 0xffff),
		baseMid:  uint8((base >> 16) & 0xff),
		attr:     attr | uint16(((limit>>16)&0xf)<<8),
		baseHigh: uint8((base >> 24) & 0xff),
	}
}

// Segment decodes the descriptor referenced by sel.
func (t *DescriptorTable) Segment(sel Selector) (base, limit uint32, attr uint16) {
	d := t.entries[sel>>3]
	base = uint32(d.baseLow) | uint32(d.baseMid)<<16 | uint32(d.baseHigh)<<24
	limit = uint32(d.limitLow) | uint32((d.attr>>8)&0xf)<<16
	attr = d.attr &^ 0x0f00
	if attr&SegGranularity != 0 {
		limit = limit<<12 | 0xfff
	}

	return base, limit, attr
}

// FreeCount returns the number of unreserved slots.
func (t *DescriptorTable) FreeCount() int {
	t.lock()
	defer t.unlock()

	var count int
	for _, used := range t.used {
		if !used {
			count++
		}
	}
	return count
}

func (t *DescriptorTable) lock() {
	if t.mu != nil {
		t.mu.Lock()
	}
}

func (t *DescriptorTable) unlock() {
	if t.mu != nil {
		t.mu.Unlock()
	}
}
