package vmm

import (
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
)

// Map establishes count consecutive page mappings in dir starting at
// virtAddr and physAddr. Missing page tables are allocated on demand. Page
// mappings are write-once: mapping a page that is already present is a
// programming error that halts debug kernels and returns ErrAlreadyMapped in
// release kernels.
func (m *Manager) Map(dir PageDirectory, virtAddr, physAddr uintptr, count int, flags PageTableEntryFlag) *kernel.Error {
	for ; count > 0; count, virtAddr, physAddr = count-1, virtAddr+mm.PageSize, physAddr+mm.PageSize {
		pte, err := m.findPTE(dir, virtAddr, true)
		if err != nil {
			return err
		}

		kfmt.Assert(!pte.HasFlags(FlagPresent), "page 0x%x is already mapped to 0x%x", virtAddr, pte.Frame().Address())
		if pte.HasFlags(FlagPresent) {
			return ErrAlreadyMapped
		}

		*pte = 0
		pte.SetFrame(mm.FrameFromAddress(physAddr))
		pte.SetFlags(flags | FlagPresent)
	}

	return nil
}

// Unmap removes the mapping for the page that contains virtAddr and
// releases its backing frame.
func (m *Manager) Unmap(dir PageDirectory, virtAddr uintptr) *kernel.Error {
	pte, err := m.findPTE(dir, virtAddr, false)
	if err != nil {
		return err
	}

	if pte == nil || !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	m.frames.FreePages(pte.Frame().Address(), 1)
	*pte = 0
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. It never allocates.
func (m *Manager) Translate(dir PageDirectory, virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := m.findPTE(dir, virtAddr, false)
	if err != nil {
		return 0, err
	}

	if pte == nil || !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

// BackRange allocates a fresh zeroed frame for every page that overlaps
// [virtAddr, virtAddr+size) and maps it into dir with the supplied flags. If
// any step fails, the pages mapped by this call are released before the
// error is returned.
func (m *Manager) BackRange(dir PageDirectory, virtAddr, size uintptr, flags PageTableEntryFlag) *kernel.Error {
	var (
		start = mm.AlignDown(virtAddr)
		end   = mm.AlignUp(virtAddr + size)
	)

	for page := start; page < end; page += mm.PageSize {
		frame := m.frames.AllocPages(1)
		if frame == 0 {
			m.unmapRange(dir, start, page)
			return ErrOutOfMemory
		}

		m.ram.Memset(frame, 0, mm.PageSize)
		if err := m.Map(dir, page, frame, 1, flags); err != nil {
			m.frames.FreePages(frame, 1)
			m.unmapRange(dir, start, page)
			return err
		}
	}

	return nil
}

// unmapRange releases the mappings for the pages in [start, end).
func (m *Manager) unmapRange(dir PageDirectory, start, end uintptr) {
	for page := start; page < end; page += mm.PageSize {
		_ = m.Unmap(dir, page)
	}
}
