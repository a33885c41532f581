package vmm

import (
	"encoding/binary"

	"github.com/zhangkepi/my-os/bootinfo"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
)

var errStringTooLong = &kernel.Error{Module: "vmm", Message: "string exceeds the maximum length"}

// kernelRegion describes an identity-mapped range of the kernel address space.
type kernelRegion struct {
	start, end uintptr
	flags      PageTableEntryFlag
}

// BuildKernelDirectory creates the kernel page directory. The kernel image
// text is mapped read-only while the low memory, the kernel data up to the
// EBDA and extended memory are mapped read-write. All regions are identity
// mapped and not accessible from user mode. Extended memory is clamped to
// the installed RAM.
func (m *Manager) BuildKernelDirectory(layout bootinfo.Layout) *kernel.Error {
	dirFrame, err := m.allocTable()
	if err != nil {
		return err
	}

	extEnd := layout.ExtEnd
	if ramSize := m.ram.Size(); extEnd > ramSize {
		extEnd = ramSize
	}

	regions := []kernelRegion{
		{layout.KernelBase, layout.TextStart, FlagRW},
		{layout.TextStart, layout.TextEnd, 0},
		{layout.DataStart, layout.EBDAStart, FlagRW},
		{layout.ExtStart, extEnd, FlagRW},
	}

	dir := PageDirectory{frame: dirFrame}
	for _, region := range regions {
		var (
			start = mm.AlignDown(region.start)
			end   = mm.AlignUp(region.end)
		)

		if start >= end {
			continue
		}

		kfmt.Assert(end <= m.userBase, "kernel region [0x%x, 0x%x) overlaps the user range", start, end)
		if err = m.Map(dir, start, start, int((end-start)>>mm.PageShift), region.flags); err != nil {
			m.log.WithField("region", start).Error("[vmm] failed to map kernel region")
			return err
		}
	}

	m.kernelDir = dir
	m.log.WithField("pdt", dir.Address()).Info("[vmm] kernel page directory ready")
	return nil
}

// CreateAddressSpace allocates a new page directory. The kernel entries are
// copied by value so every address space shares the kernel page tables;
// the user range starts out empty.
func (m *Manager) CreateAddressSpace() (PageDirectory, *kernel.Error) {
	dirFrame, err := m.allocTable()
	if err != nil {
		return PageDirectory{}, err
	}

	dir := PageDirectory{frame: dirFrame}
	for index := uintptr(0); index < m.userBase>>pdeShift; index++ {
		*m.entry(dir.Address(), index) = *m.entry(m.kernelDir.Address(), index)
	}

	return dir, nil
}

// visitUserPages invokes visitor for every present page in the user range of
// dir. The visitor must return true to continue or false to abort the scan.
func (m *Manager) visitUserPages(dir PageDirectory, visitor func(virtAddr uintptr, pte *pageTableEntry) bool) {
	for pdeIndex := m.userBase >> pdeShift; pdeIndex < entriesPerTable; pdeIndex++ {
		pde := m.entry(dir.Address(), pdeIndex)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		tableAddr := pde.Frame().Address()
		for pteIndex := uintptr(0); pteIndex < entriesPerTable; pteIndex++ {
			pte := m.entry(tableAddr, pteIndex)
			if !pte.HasFlags(FlagPresent) {
				continue
			}

			if !visitor(pdeIndex<<pdeShift|pteIndex<<mm.PageShift, pte) {
				return
			}
		}
	}
}

// Duplicate returns an eager copy of the user range of src: every present
// user page gets a fresh frame in the new address space, mapped with the
// same permissions and holding a copy of the original contents. On failure
// the partially built copy is destroyed.
func (m *Manager) Duplicate(src PageDirectory) (PageDirectory, *kernel.Error) {
	dst, err := m.CreateAddressSpace()
	if err != nil {
		return PageDirectory{}, err
	}

	m.visitUserPages(src, func(virtAddr uintptr, pte *pageTableEntry) bool {
		frame := m.frames.AllocPages(1)
		if frame == 0 {
			err = ErrOutOfMemory
			return false
		}

		if err = m.Map(dst, virtAddr, frame, 1, pte.Flags()&^(FlagAccessed|FlagDirty)); err != nil {
			m.frames.FreePages(frame, 1)
			return false
		}

		m.ram.Memcopy(pte.Frame().Address(), frame, mm.PageSize)
		return true
	})

	if err != nil {
		m.Destroy(dst)
		return PageDirectory{}, err
	}

	return dst, nil
}

// Destroy releases every user frame, every user page table and finally the
// directory itself. Kernel page tables are shared and left untouched.
func (m *Manager) Destroy(dir PageDirectory) {
	kfmt.Assert(dir != m.kernelDir, "attempt to destroy the kernel page directory")
	if !dir.Valid() || dir == m.kernelDir {
		return
	}

	m.visitUserPages(dir, func(_ uintptr, pte *pageTableEntry) bool {
		m.frames.FreePages(pte.Frame().Address(), 1)
		return true
	})

	for pdeIndex := m.userBase >> pdeShift; pdeIndex < entriesPerTable; pdeIndex++ {
		if pde := m.entry(dir.Address(), pdeIndex); pde.HasFlags(FlagPresent) {
			m.frames.FreePages(pde.Frame().Address(), 1)
		}
	}

	m.frames.FreePages(dir.Address(), 1)
}

// UserPageCount returns the number of present user pages in dir.
func (m *Manager) UserPageCount(dir PageDirectory) int {
	var count int
	m.visitUserPages(dir, func(_ uintptr, _ *pageTableEntry) bool {
		count++
		return true
	})
	return count
}

// copyPages calls fn with the physical memory backing each page-sized chunk
// of [virtAddr, virtAddr+size) in dir.
func (m *Manager) copyPages(dir PageDirectory, virtAddr uintptr, size int, fn func(phys []byte, offset int)) *kernel.Error {
	for offset := 0; offset < size; {
		physAddr, err := m.Translate(dir, virtAddr)
		if err != nil {
			return err
		}

		chunk := int(mm.PageSize - PageOffset(virtAddr))
		if remaining := size - offset; chunk > remaining {
			chunk = remaining
		}

		fn(m.ram.Bytes(physAddr, uintptr(chunk)), offset)
		offset += chunk
		virtAddr += uintptr(chunk)
	}

	return nil
}

// CopyTo writes data into the address space dir starting at virtAddr. The
// destination may span multiple pages that are not physically contiguous.
func (m *Manager) CopyTo(dir PageDirectory, virtAddr uintptr, data []byte) *kernel.Error {
	return m.copyPages(dir, virtAddr, len(data), func(phys []byte, offset int) {
		copy(phys, data[offset:])
	})
}

// CopyFrom fills buf with the contents of the address space dir starting at
// virtAddr.
func (m *Manager) CopyFrom(dir PageDirectory, virtAddr uintptr, buf []byte) *kernel.Error {
	return m.copyPages(dir, virtAddr, len(buf), func(phys []byte, offset int) {
		copy(buf[offset:], phys)
	})
}

// ReadUint32 reads a 32-bit word from the address space dir.
func (m *Manager) ReadUint32(dir PageDirectory, virtAddr uintptr) (uint32, *kernel.Error) {
	var buf [4]byte
	if err := m.CopyFrom(dir, virtAddr, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 stores a 32-bit word into the address space dir.
func (m *Manager) WriteUint32(dir PageDirectory, virtAddr uintptr, value uint32) *kernel.Error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return m.CopyTo(dir, virtAddr, buf[:])
}

// ReadString reads a NUL-terminated string of at most maxLen bytes
// (excluding the terminator) from the address space dir.
func (m *Manager) ReadString(dir PageDirectory, virtAddr uintptr, maxLen int) (string, *kernel.Error) {
	var str []byte
	for {
		physAddr, err := m.Translate(dir, virtAddr)
		if err != nil {
			return "", err
		}

		chunk := m.ram.Bytes(physAddr, mm.PageSize-PageOffset(virtAddr))
		for _, b := range chunk {
			if b == 0 {
				return string(str), nil
			}

			if len(str) == maxLen {
				return "", errStringTooLong
			}
			str = append(str, b)
		}

		virtAddr += uintptr(len(chunk))
	}
}
