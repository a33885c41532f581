package mm

import "testing"

func TestNewRAM(t *testing.T) {
	specs := []struct {
		size   uintptr
		expErr bool
	}{
		{0, true},
		{PageSize + 1, true},
		{16 * PageSize, false},
	}

	for specIndex, spec := range specs {
		ram, err := NewRAM(spec.size)
		if spec.expErr {
			if err != errRAMSize {
				t.Errorf("[spec %d] expected to get errRAMSize; got %v", specIndex, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if got := ram.Size(); got != spec.size {
			t.Errorf("[spec %d] expected RAM size to be %d; got %d", specIndex, spec.size, got)
		}

		for i, b := range ram.Bytes(0, ram.Size()) {
			if b != 0 {
				t.Errorf("[spec %d] expected RAM to be zero-filled; byte %d is 0x%x", specIndex, i, b)
				break
			}
		}

		if err = ram.Release(); err != nil {
			t.Errorf("[spec %d] unexpected error releasing RAM: %v", specIndex, err)
		}
	}
}

func TestRAMAccess(t *testing.T) {
	ram, err := NewRAM(4 * PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer ram.Release()

	ram.Memset(PageSize, 0xAB, PageSize)
	ram.Memcopy(PageSize, 2*PageSize, PageSize)

	for i, b := range ram.Bytes(2*PageSize, PageSize) {
		if b != 0xAB {
			t.Fatalf("expected copied byte %d to be 0xAB; got 0x%x", i, b)
		}
	}

	if b := ram.Bytes(0, 1)[0]; b != 0 {
		t.Fatalf("expected untouched memory to stay zero; got 0x%x", b)
	}

	ram.WriteUint32(0x10, 0xdeadbeef)
	if got := ram.ReadUint32(0x10); got != 0xdeadbeef {
		t.Fatalf("expected to read back 0xdeadbeef; got 0x%x", got)
	}

	if got := ram.Bytes(0x10, 1)[0]; got != 0xef {
		t.Fatalf("expected words to be stored little-endian; got first byte 0x%x", got)
	}
}
