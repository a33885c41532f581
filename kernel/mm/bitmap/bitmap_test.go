package bitmap

import "testing"

func TestInit(t *testing.T) {
	specs := []struct {
		count    int
		initial  bool
		expBytes int
	}{
		{1, false, 1},
		{8, true, 1},
		{9, false, 2},
		{64, true, 8},
	}

	for specIndex, spec := range specs {
		var (
			buf = make([]byte, 16)
			bm  Bitmap
		)

		for i := range buf {
			buf[i] = 0x5a
		}

		bm.Init(buf, spec.count, spec.initial)

		if got := ByteCount(spec.count); got != spec.expBytes {
			t.Errorf("[spec %d] expected ByteCount to return %d; got %d", specIndex, spec.expBytes, got)
		}

		for i := 0; i < spec.count; i++ {
			if got := bm.IsSet(i); got != spec.initial {
				t.Errorf("[spec %d] expected unit %d to be %t; got %t", specIndex, i, spec.initial, got)
			}
		}

		if buf[spec.expBytes] != 0x5a {
			t.Errorf("[spec %d] expected Init not to touch bytes past the bitmap", specIndex)
		}
	}
}

func TestSetRange(t *testing.T) {
	var bm Bitmap
	bm.Init(make([]byte, 4), 32, false)

	bm.SetRange(3, 10, true)
	for i := 0; i < 32; i++ {
		if exp, got := i >= 3 && i < 13, bm.IsSet(i); got != exp {
			t.Errorf("expected unit %d to be %t; got %t", i, exp, got)
		}
	}

	bm.SetRange(5, 2, false)
	if bm.IsSet(5) || bm.IsSet(6) || !bm.IsSet(4) || !bm.IsSet(7) {
		t.Error("expected only units 5 and 6 to be cleared")
	}

	// Out of range units are ignored
	bm.SetRange(30, 10, true)
	if !bm.IsSet(31) {
		t.Error("expected unit 31 to be set")
	}

	if exp, got := 32-(10-2)-2, bm.FreeCount(); got != exp {
		t.Errorf("expected %d free units; got %d", exp, got)
	}
}

func TestAllocContiguous(t *testing.T) {
	var bm Bitmap
	bm.Init(make([]byte, 2), 16, false)

	specs := []struct {
		hint, n  int
		expIndex int
	}{
		{0, 3, 0},
		{0, 1, 3},
		{0, 4, 4},
		// first fit starts from the hint
		{10, 2, 10},
		// the run 8-9 is too short; 12-15 fits
		{0, 4, 12},
		{0, 2, 8},
		// no room left
		{0, 1, -1},
		// invalid requests
		{0, 0, -1},
		{-1, 1, -1},
	}

	for specIndex, spec := range specs {
		if got := bm.AllocContiguous(spec.hint, spec.n); got != spec.expIndex {
			t.Errorf("[spec %d] expected AllocContiguous(%d, %d) to return %d; got %d", specIndex, spec.hint, spec.n, spec.expIndex, got)
		}
	}

	// Free a hole in the middle and make sure it gets reused
	bm.SetRange(4, 4, false)
	if got := bm.AllocContiguous(0, 4); got != 4 {
		t.Errorf("expected freed run to be reused; got %d", got)
	}

	t.Run("no wrap around", func(t *testing.T) {
		var bm Bitmap
		bm.Init(make([]byte, 1), 8, false)
		bm.SetRange(4, 4, true)

		if got := bm.AllocContiguous(5, 1); got != -1 {
			t.Fatalf("expected scan starting past the free units to fail; got %d", got)
		}

		if got := bm.AllocContiguous(0, 4); got != 0 {
			t.Fatalf("expected to allocate the free prefix; got %d", got)
		}
	})
}
