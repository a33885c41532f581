package gate

import "testing"

func TestDescriptorTableAllocFree(t *testing.T) {
	table := NewDescriptorTable(firstFreeDescriptor + 2)

	if got := table.FreeCount(); got != 2 {
		t.Fatalf("expected 2 free slots; got %d", got)
	}

	first, err := table.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if exp := Selector(firstFreeDescriptor << 3); first != exp {
		t.Fatalf("expected first selector to be 0x%x; got 0x%x", exp, first)
	}

	second, err := table.Alloc()
	if err != nil {
		t.Fatal(err)
	}

	if _, err = table.Alloc(); err != errNoFreeDescriptor {
		t.Fatalf("expected to get errNoFreeDescriptor; got %v", err)
	}

	table.Free(first)
	reused, err := table.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if reused != first {
		t.Fatalf("expected freed selector 0x%x to be reused; got 0x%x", first, reused)
	}

	// Reserved slots can never be released
	table.Free(KernelCodeSelector)
	table.Free(second)
	if got := table.FreeCount(); got != 1 {
		t.Fatalf("expected 1 free slot; got %d", got)
	}
}

func TestDescriptorTableSetSegment(t *testing.T) {
	table := NewDescriptorTable(DefaultGDTSize)

	specs := []struct {
		base, limit uint32
		attr        uint16
		expLimit    uint32
		expAttr     uint16
	}{
		{0x1000, 0x67, SegPresent | SegDPL0 | SegTypeTSS, 0x67, SegPresent | SegDPL0 | SegTypeTSS},
		{0, 0xFFFFFFFF, SegPresent | SegDPL3 | SegNormal | SegTypeCode | SegTypeRW | SegDB, 0xFFFFFFFF, SegPresent | SegDPL3 | SegNormal | SegTypeCode | SegTypeRW | SegDB | SegGranularity},
		{0x12345678, 0xABCDE, SegPresent | SegNormal | SegTypeRW, 0xABCDE, SegPresent | SegNormal | SegTypeRW},
	}

	for specIndex, spec := range specs {
		sel, err := table.Alloc()
		if err != nil {
			t.Fatal(err)
		}

		table.SetSegment(sel, spec.base, spec.limit, spec.attr)
		base, limit, attr := table.Segment(sel)

		if base != spec.base {
			t.Errorf("[spec %d] expected base 0x%x; got 0x%x", specIndex, spec.base, base)
		}
		if limit != spec.expLimit {
			t.Errorf("[spec %d] expected limit 0x%x; got 0x%x", specIndex, spec.expLimit, limit)
		}
		if attr != spec.expAttr {
			t.Errorf("[spec %d] expected attr 0x%x; got 0x%x", specIndex, spec.expAttr, attr)
		}
	}

	if _, limit, _ := table.Segment(KernelCodeSelector); limit != 0xFFFFFFFF {
		t.Errorf("expected kernel code segment to span 4G; got limit 0x%x", limit)
	}
}
