package cpu

import "testing"

func TestIsIntel(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		eax, ebx, ecx, edx uint32
		exp                bool
	}{
		// CPUID output from an Intel CPU
		{0xd, 0x756e6547, 0x6c65746e, 0x49656e69, true},
		// CPUID output from an AMD Athlon CPU
		{0x1, 68747541, 0x444d4163, 0x69746e65, false},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(_ uint32) (uint32, uint32, uint32, uint32) {
			return spec.eax, spec.ebx, spec.ecx, spec.edx
		}

		if got := IsIntel(); got != spec.exp {
			t.Errorf("[spec %d] expected IsIntel to return %t; got %t", specIndex, spec.exp, got)
		}
	}

	cpuidFn = ID
	if !IsIntel() {
		t.Error("expected the simulated CPU to report an Intel vendor string")
	}
}

func TestInterruptFlag(t *testing.T) {
	c := New()
	if c.InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled after reset")
	}

	c.EnableInterrupts()
	if !c.InterruptsEnabled() || c.EFlags() != EFlagsDefault|EFlagsIF {
		t.Fatalf("expected EFLAGS to be 0x%x; got 0x%x", EFlagsDefault|EFlagsIF, c.EFlags())
	}

	c.DisableInterrupts()
	if c.InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled")
	}

	c.SetEFlags(EFlagsIF)
	if got := c.EFlags(); got != EFlagsDefault|EFlagsIF {
		t.Fatalf("expected SetEFlags to keep the reserved bit; got 0x%x", got)
	}
}

func TestSwitchContext(t *testing.T) {
	c := New()
	c.Registers().EAX = 0xaa
	c.Registers().EIP = 0x1000

	var (
		from Context
		to   = Context{EIP: 0x80000000, ESP: 0x80001000, EFlags: EFlagsDefault | EFlagsIF, CR3: 0x5000}
	)

	c.SwitchContext(&from, &to)

	if from.EAX != 0xaa || from.EIP != 0x1000 {
		t.Fatalf("expected live registers to be saved; got %+v", from)
	}

	if got := *c.Registers(); got != to {
		t.Fatalf("expected live registers to be loaded from target context; got %+v", got)
	}

	if got := c.ActivePDT(); got != 0x5000 {
		t.Fatalf("expected active PDT to be 0x5000; got 0x%x", got)
	}

	if !c.InterruptsEnabled() {
		t.Fatal("expected IF to follow the loaded EFLAGS")
	}

	if got := c.Switches(); got != 1 {
		t.Fatalf("expected switch count to be 1; got %d", got)
	}
}

func TestHalt(t *testing.T) {
	defer func() {
		if err := recover(); err != ErrHalted {
			t.Fatalf("expected Halt to unwind with ErrHalted; got %v", err)
		}
	}()

	Halt()
}

func TestCR2(t *testing.T) {
	c := New()
	c.SetCR2(0xdeadb000)
	if got := c.ReadCR2(); got != 0xdeadb000 {
		t.Fatalf("expected CR2 to be 0xdeadb000; got 0x%x", got)
	}
}
