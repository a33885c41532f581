// Package pmm manages the physical pages of extended memory.
package pmm

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/bootinfo"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
	"github.com/zhangkepi/my-os/kernel/mm/bitmap"
)

var (
	errNoExtendedMemory = &kernel.Error{Module: "pmm", Message: "no memory above the extended memory start"}
	errBitmapOverrun    = &kernel.Error{Module: "pmm", Message: "page bitmap overruns the EBDA"}
)

// Allocator hands out physical pages from a contiguous region. Each page is
// tracked by one bit of the bitmap; allocation is first-fit.
type Allocator struct {
	mu     sync.Locker
	bitmap bitmap.Bitmap

	start    uintptr
	size     uintptr
	pageSize uintptr
}

// Init sets up an allocator for the memory above ExtStart as reported by the
// boot loader. The bitmap is stored right after the kernel image, at
// info.Layout.FreeStart, and must end below the EBDA. All allocator
// operations are serialized by lock.
func Init(ram *mm.RAM, info *bootinfo.Info, lock sync.Locker) (*Allocator, *kernel.Error) {
	layout := info.Layout

	total := info.TotalRAM()
	if total > ram.Size() {
		total = ram.Size()
	}

	if total <= layout.ExtStart {
		return nil, errNoExtendedMemory
	}

	var (
		start = layout.ExtStart
		size  = mm.AlignDown(total - layout.ExtStart)
		pages = int(size / mm.PageSize)
		bytes = uintptr(bitmap.ByteCount(pages))
	)

	kfmt.Assert(layout.FreeStart+bytes < layout.EBDAStart, "page bitmap [0x%x, 0x%x) overruns EBDA at 0x%x", layout.FreeStart, layout.FreeStart+bytes, layout.EBDAStart)
	if layout.FreeStart+bytes >= layout.EBDAStart {
		return nil, errBitmapOverrun
	}

	alloc := &Allocator{}
	alloc.init(ram.Bytes(layout.FreeStart, bytes), start, size, mm.PageSize, lock)

	kfmt.Module("pmm").WithFields(log.Fields{
		"start": start,
		"size":  size,
		"pages": pages,
	}).Infof("[pmm] managing 0x%x - 0x%x", start, start+size)

	return alloc, nil
}

func (a *Allocator) init(bits []byte, start, size, pageSize uintptr, lock sync.Locker) {
	a.mu = lock
	a.start = start
	a.size = size &^ (pageSize - 1)
	a.pageSize = pageSize
	a.bitmap.Init(bits, int(a.size/pageSize), false)
}

// AllocPages reserves count contiguous pages and returns the physical
// address of the first one. It returns 0 if no run of count free pages
// exists.
func (a *Allocator) AllocPages(count int) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()

	index := a.bitmap.AllocContiguous(0, count)
	if index < 0 {
		return 0
	}

	return a.start + uintptr(index)*a.pageSize
}

// FreePages returns count pages starting at addr to the allocator.
func (a *Allocator) FreePages(addr uintptr, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kfmt.Assert(addr >= a.start && addr < a.start+a.size, "freeing page 0x%x outside the managed region", addr)
	a.bitmap.SetRange(int((addr-a.start)/a.pageSize), count, false)
}

// Start returns the physical address of the first managed page.
func (a *Allocator) Start() uintptr { return a.start }

// Size returns the size of the managed region in bytes.
func (a *Allocator) Size() uintptr { return a.size }

// FreeCount returns the number of free pages.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.bitmap.FreeCount()
}
