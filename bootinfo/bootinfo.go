// Package bootinfo describes what the boot loader hands over to the kernel.
package bootinfo

import "strings"

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Layout holds the addresses of the kernel image sections as placed by the
// linker, plus the fixed PC memory map boundaries the kernel cares about.
type Layout struct {
	// KernelBase is the lowest address that the kernel maps.
	KernelBase uintptr

	// TextStart and TextEnd delimit the read-only code and rodata.
	TextStart, TextEnd uintptr

	// DataStart is the first byte of the writable kernel data.
	DataStart uintptr

	// FreeStart is the first byte past the kernel image.
	FreeStart uintptr

	// EBDAStart is the start of the extended BIOS data area.
	EBDAStart uintptr

	// ExtStart is the start of extended memory (1M).
	ExtStart uintptr

	// ExtEnd is the end of the memory the kernel identity maps.
	ExtEnd uintptr
}

// DefaultLayout returns the layout of the kernel image loaded at 64K. Low
// memory below the image is mapped together with the kernel.
func DefaultLayout() Layout {
	return Layout{
		KernelBase: 0,
		TextStart:  0x10000,
		TextEnd:    0x20000,
		DataStart:  0x20000,
		FreeStart:  0x30000,
		EBDAStart:  0x80000,
		ExtStart:   0x100000,
		ExtEnd:     0x8000000,
	}
}

// Info is the boot information handed to the kernel entry point.
type Info struct {
	Regions []MemoryMapEntry
	Layout  Layout
	CmdLine string

	// FirstTask is the image of the first user task linked into the
	// kernel. It is copied to the user split and entered directly.
	FirstTask []byte

	cmdLineKV map[string]string
}

// VisitMemRegions will invoke the supplied visitor for each memory region
// that was reported by the boot loader.
func (i *Info) VisitMemRegions(visitor MemRegionVisitor) {
	for index := range i.Regions {
		entry := &i.Regions[index]

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// TotalRAM returns the combined size of all available memory regions.
func (i *Info) TotalRAM() uintptr {
	var total uint64
	i.VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if entry.Type == MemAvailable {
			total += entry.Length
		}
		return true
	})

	return uintptr(total)
}

// GetBootCmdLine returns the command line key-value pairs passed to the
// kernel.
func (i *Info) GetBootCmdLine() map[string]string {
	if i.cmdLineKV != nil {
		return i.cmdLineKV
	}

	i.cmdLineKV = make(map[string]string)
	for _, pair := range strings.Fields(i.CmdLine) {
		kv := strings.Split(pair, "=")
		switch len(kv) {
		case 2: // foo=bar
			i.cmdLineKV[kv[0]] = kv[1]
		case 1: // nofoo
			i.cmdLineKV[kv[0]] = kv[0]
		}
	}

	return i.cmdLineKV
}
