// Package vmm manages two-level x86 page directories. Directories and page
// tables live in physical memory and are accessed through the kernel's
// identity mapping.
package vmm

import (
	"unsafe"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned when trying to map a page that is already present.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	// ErrOutOfMemory is returned when no physical page is left for a
	// page table, a directory or a backing frame.
	ErrOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of physical memory"}

	// ErrAddressRange is returned for virtual addresses that do not fit
	// the 32-bit address space.
	ErrAddressRange = &kernel.Error{Module: "vmm", Message: "virtual address outside the 32-bit address space"}

	// ptePtrFn returns a pointer to the entry stored in the supplied
	// physical memory slice. It is used by tests to detect table accesses.
	ptePtrFn = func(entry []byte) unsafe.Pointer {
		return unsafe.Pointer(&entry[0])
	}
)

// FrameAllocator is implemented by the physical page allocator.
type FrameAllocator interface {
	AllocPages(count int) uintptr
	FreePages(addr uintptr, count int)
}

// PageDirectory is the root table of an address space. The zero value does
// not refer to a directory.
type PageDirectory struct {
	frame mm.Frame
}

// PageDirectoryFromAddress returns the directory stored at physAddr.
func PageDirectoryFromAddress(physAddr uintptr) PageDirectory {
	return PageDirectory{frame: mm.FrameFromAddress(physAddr)}
}

// Address returns the physical address of the directory.
func (pdt PageDirectory) Address() uintptr {
	return pdt.frame.Address()
}

// Valid returns true if pdt refers to an allocated directory.
func (pdt PageDirectory) Valid() bool {
	return pdt.frame != 0
}

// Activate loads pdt into the CR3 register of c.
func (pdt PageDirectory) Activate(c *cpu.CPU) {
	c.SwitchPDT(pdt.Address())
}

// Manager builds and tears down address spaces. Addresses below userBase
// belong to the kernel and are shared by every address space; addresses at
// or above userBase are private to their owner.
type Manager struct {
	ram       *mm.RAM
	frames    FrameAllocator
	userBase  uintptr
	kernelDir PageDirectory
	log       *log.Entry
}

// NewManager returns a manager that allocates page tables and backing
// frames from frames.
func NewManager(ram *mm.RAM, frames FrameAllocator, userBase uintptr) *Manager {
	return &Manager{
		ram:      ram,
		frames:   frames,
		userBase: userBase,
		log:      kfmt.Module("vmm"),
	}
}

// KernelDirectory returns the directory built by BuildKernelDirectory.
func (m *Manager) KernelDirectory() PageDirectory {
	return m.kernelDir
}

// UserBase returns the lowest user virtual address.
func (m *Manager) UserBase() uintptr {
	return m.userBase
}

// AllocPage reserves a kernel page. It returns 0 if memory is exhausted.
func (m *Manager) AllocPage() uintptr {
	return m.frames.AllocPages(1)
}

// FreePage returns a kernel page obtained via AllocPage.
func (m *Manager) FreePage(addr uintptr) {
	m.frames.FreePages(addr, 1)
}

// entry returns a pointer to entry index of the table at tableAddr.
func (m *Manager) entry(tableAddr, index uintptr) *pageTableEntry {
	return (*pageTableEntry)(ptePtrFn(m.ram.Bytes(tableAddr+index<<2, 4)))
}

// allocTable allocates and clears a page for a directory or page table.
func (m *Manager) allocTable() (mm.Frame, *kernel.Error) {
	addr := m.frames.AllocPages(1)
	if addr == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	m.ram.Memset(addr, 0, mm.PageSize)
	return mm.FrameFromAddress(addr), nil
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// dir. It calls the supplied walkFn with the page table entry that
// corresponds to each page table level. The walk descends into the table
// referenced by each non-final entry, so walkFn must make sure the entry is
// present before returning true.
func (m *Manager) walk(dir PageDirectory, virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := dir.Address()
	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)

		pte := m.entry(tableAddr, entryIndex)
		if !walkFn(level, pte) {
			return
		}

		tableAddr = pte.Frame().Address()
	}
}

// findPTE returns the page table entry for virtAddr in dir. If the page
// table covering virtAddr is missing and alloc is false, findPTE returns
// (nil, nil). Otherwise a zeroed page table is allocated and installed with
// present, writable and user-accessible permissions; the final page entry
// permissions decide what is actually accessible. Addresses above 4 GiB fail
// with ErrAddressRange.
func (m *Manager) findPTE(dir PageDirectory, virtAddr uintptr, alloc bool) (*pageTableEntry, *kernel.Error) {
	if uint64(virtAddr) > maxVirtAddr {
		return nil, ErrAddressRange
	}

	var (
		entry *pageTableEntry
		err   *kernel.Error
	)

	m.walk(dir, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			entry = pte
			return true
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		if !alloc {
			return false
		}

		var table mm.Frame
		if table, err = m.allocTable(); err != nil {
			return false
		}

		*pte = 0
		pte.SetFrame(table)
		pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		return true
	})

	return entry, err
}
