package pmm

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/zhangkepi/my-os/bootinfo"
	"github.com/zhangkepi/my-os/kernel/mm"
)

type countingLocker struct {
	sync.Mutex
	locks, unlocks int
}

func (l *countingLocker) Lock()   { l.Mutex.Lock(); l.locks++ }
func (l *countingLocker) Unlock() { l.unlocks++; l.Mutex.Unlock() }

func newTestAllocator(pages int) (*Allocator, *countingLocker) {
	var (
		lock  = &countingLocker{}
		alloc = &Allocator{}
	)

	alloc.init(make([]byte, bitmapBytes(pages)), 0x100000, uintptr(pages)*mm.PageSize, mm.PageSize, lock)
	return alloc, lock
}

func bitmapBytes(pages int) int {
	return (pages + 7) / 8
}

func TestAllocFree(t *testing.T) {
	alloc, lock := newTestAllocator(64)

	specs := []struct {
		count   int
		expAddr uintptr
	}{
		{3, 0x100000},
		{1, 0x103000},
		{4, 0x104000},
	}

	for specIndex, spec := range specs {
		if got := alloc.AllocPages(spec.count); got != spec.expAddr {
			t.Errorf("[spec %d] expected AllocPages(%d) to return 0x%x; got 0x%x", specIndex, spec.count, spec.expAddr, got)
		}
	}

	alloc.FreePages(0x100000, 3)
	if got := alloc.AllocPages(2); got != 0x100000 {
		t.Errorf("expected freed pages to be reused; got 0x%x", got)
	}

	if got := alloc.AllocPages(3); got != 0x108000 {
		t.Errorf("expected 3-page request to skip the 1-page hole; got 0x%x", got)
	}

	if exp, got := 64-2-1-4-3, alloc.FreeCount(); got != exp {
		t.Errorf("expected %d free pages; got %d", exp, got)
	}

	if lock.locks == 0 || lock.locks != lock.unlocks {
		t.Errorf("expected balanced lock usage; got %d locks and %d unlocks", lock.locks, lock.unlocks)
	}
}

func TestFreedSinglePageReused(t *testing.T) {
	alloc, _ := newTestAllocator(64)

	for index, exp := range []uintptr{0x100000, 0x101000, 0x102000} {
		if got := alloc.AllocPages(1); got != exp {
			t.Fatalf("expected allocation %d at 0x%x; got 0x%x", index, exp, got)
		}
	}

	alloc.FreePages(0x101000, 1)
	if got := alloc.AllocPages(1); got != 0x101000 {
		t.Fatalf("expected the freed middle page 0x101000 to be handed out again; got 0x%x", got)
	}
}

func TestAllocNoOverlap(t *testing.T) {
	const pages = 128

	type allocation struct {
		addr  uintptr
		count int
	}

	var (
		alloc, _ = newTestAllocator(pages)
		rng      = rand.New(rand.NewSource(42))
		live     []allocation
		owner    = make(map[uintptr]uintptr)
		inUse    int
	)

	for step := 0; step < 2000; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			count := 1 + rng.Intn(6)
			addr := alloc.AllocPages(count)
			if addr == 0 {
				continue
			}

			if addr < 0x100000 || addr+uintptr(count)*mm.PageSize > 0x100000+pages*mm.PageSize || addr%mm.PageSize != 0 {
				t.Fatalf("step %d: allocation 0x%x/%d outside the managed region", step, addr, count)
			}

			for i := 0; i < count; i++ {
				page := addr + uintptr(i)*mm.PageSize
				if prev, taken := owner[page]; taken {
					t.Fatalf("step %d: page 0x%x handed out twice (owned by allocation 0x%x)", step, page, prev)
				}
				owner[page] = addr
			}

			live = append(live, allocation{addr, count})
			inUse += count
		} else {
			index := rng.Intn(len(live))
			victim := live[index]
			live[index], live = live[len(live)-1], live[:len(live)-1]

			alloc.FreePages(victim.addr, victim.count)
			for i := 0; i < victim.count; i++ {
				delete(owner, victim.addr+uintptr(i)*mm.PageSize)
			}
			inUse -= victim.count
		}

		if got := alloc.FreeCount(); got != pages-inUse {
			t.Fatalf("step %d: expected %d free pages; got %d", step, pages-inUse, got)
		}
	}
}

func TestAllocExhaustion(t *testing.T) {
	alloc, _ := newTestAllocator(4)

	if got := alloc.AllocPages(5); got != 0 {
		t.Fatalf("expected oversized request to fail with 0; got 0x%x", got)
	}

	for i := 0; i < 4; i++ {
		if got := alloc.AllocPages(1); got == 0 {
			t.Fatalf("unexpected allocation failure for page %d", i)
		}
	}

	if got := alloc.AllocPages(1); got != 0 {
		t.Fatalf("expected exhausted allocator to return 0; got 0x%x", got)
	}
}

func TestInit(t *testing.T) {
	ram, err := mm.NewRAM(4 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer ram.Release()

	t.Run("success", func(t *testing.T) {
		info := &bootinfo.Info{
			Regions: []bootinfo.MemoryMapEntry{{PhysAddress: 0, Length: 4<<20 + 0x800, Type: bootinfo.MemAvailable}},
			Layout:  bootinfo.DefaultLayout(),
		}

		// Fill the bitmap area with junk; Init must clear it
		ram.Memset(info.Layout.FreeStart, 0xff, 128)

		alloc, err := Init(ram, info, &sync.Mutex{})
		if err != nil {
			t.Fatal(err)
		}

		// total RAM above 1M, clamped to RAM size and rounded down to a page
		if exp := uintptr(3 << 20); alloc.Size() != exp || alloc.Start() != 0x100000 {
			t.Fatalf("expected region [0x100000, +0x%x); got [0x%x, +0x%x)", exp, alloc.Start(), alloc.Size())
		}

		if exp, got := 768, alloc.FreeCount(); got != exp {
			t.Fatalf("expected %d free pages; got %d", exp, got)
		}

		if got := alloc.AllocPages(1); got != 0x100000 {
			t.Fatalf("expected first allocation at 0x100000; got 0x%x", got)
		}

		if got := ram.Bytes(info.Layout.FreeStart, 1)[0]; got != 0x01 {
			t.Fatalf("expected bitmap to live at the kernel free start; first byte is 0x%x", got)
		}
	})

	t.Run("no extended memory", func(t *testing.T) {
		info := &bootinfo.Info{
			Regions: []bootinfo.MemoryMapEntry{{PhysAddress: 0, Length: 0x9fc00, Type: bootinfo.MemAvailable}},
			Layout:  bootinfo.DefaultLayout(),
		}

		if _, err := Init(ram, info, &sync.Mutex{}); err != errNoExtendedMemory {
			t.Fatalf("expected to get errNoExtendedMemory; got %v", err)
		}
	})
}
