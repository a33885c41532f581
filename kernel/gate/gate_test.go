package gate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/kfmt"
)

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		EAX:       1,
		EBX:       2,
		ECX:       3,
		EDX:       4,
		ESI:       5,
		EDI:       6,
		EBP:       7,
		DS:        8,
		ES:        9,
		FS:        10,
		GS:        11,
		EIP:       12,
		CS:        13,
		ESP:       14,
		SS:        15,
		EFlags:    16,
		ErrorCode: 17,
	}

	exp := "EAX = 00000001 EBX = 00000002\nECX = 00000003 EDX = 00000004\nESI = 00000005 EDI = 00000006\nEBP = 00000007\nDS  = 00000008 ES  = 00000009\nFS  = 0000000a GS  = 0000000b\n\nEIP = 0000000c CS  = 0000000d\nESP = 0000000e SS  = 0000000f\nEFL = 00000010 ERR = 00000011\n"

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

func TestUserMode(t *testing.T) {
	specs := []struct {
		cs  uint32
		exp bool
	}{
		{uint32(KernelCodeSelector), false},
		{uint32(Selector(5<<3) | RPL3), true},
	}

	for specIndex, spec := range specs {
		regs := Registers{CS: spec.cs}
		if got := regs.UserMode(); got != spec.exp {
			t.Errorf("[spec %d] expected UserMode() to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func TestSnapshot(t *testing.T) {
	ctx := cpu.Context{EIP: 0x1234, ESP: 0x5678, EAX: 9, CS: 0x1b, EFlags: cpu.EFlagsIF}
	regs := Snapshot(&ctx, 14)

	if regs.EIP != ctx.EIP || regs.ESP != ctx.ESP || regs.EAX != ctx.EAX || regs.CS != ctx.CS || regs.EFlags != ctx.EFlags {
		t.Fatalf("expected snapshot to copy the register context; got %+v", regs)
	}

	if regs.Info != 14 {
		t.Fatalf("expected Info to be 14; got %d", regs.Info)
	}
}

func TestRestore(t *testing.T) {
	ctx := cpu.Context{EIP: 0x1234, ESP: 0x5678, EAX: 9, CR3: 0x3000}
	regs := Snapshot(&ctx, 0)
	regs.EAX, regs.EIP, regs.ESP = 42, 0x8000, 0x9000

	regs.Restore(&ctx)
	if ctx.EAX != 42 || ctx.EIP != 0x8000 || ctx.ESP != 0x9000 {
		t.Errorf("expected the modified frame to be loaded; got %+v", ctx)
	}

	if ctx.CR3 != 0x3000 {
		t.Errorf("expected CR3 to be preserved; got %#x", ctx.CR3)
	}
}

func TestDispatch(t *testing.T) {
	c := cpu.New()
	c.EnableInterrupts()
	g := New(c)

	var (
		ifDuringInterrupt = true
		ifDuringTrap      = false
		gotInfo           uint32
	)

	g.HandleInterrupt(TimerVector, func(regs *Registers) {
		ifDuringInterrupt = c.InterruptsEnabled()
		gotInfo = regs.Info
	})
	g.HandleTrap(SyscallVector, func(regs *Registers) {
		ifDuringTrap = c.InterruptsEnabled()
		regs.EAX = 42
	})

	if !g.Installed(TimerVector) || g.Installed(DivideByZero) {
		t.Fatal("unexpected Installed() result")
	}

	g.Dispatch(TimerVector, &Registers{})
	if ifDuringInterrupt {
		t.Error("expected interrupts to be disabled while an interrupt gate handler runs")
	}
	if gotInfo != uint32(TimerVector) {
		t.Errorf("expected handler to observe Info 0x%x; got 0x%x", TimerVector, gotInfo)
	}
	if !c.InterruptsEnabled() {
		t.Error("expected interrupt flag to be restored after the handler returns")
	}

	regs := &Registers{Info: 3}
	g.Dispatch(SyscallVector, regs)
	if regs.Info != 3 {
		t.Errorf("expected the syscall number to be preserved; got %d", regs.Info)
	}
	if !ifDuringTrap {
		t.Error("expected interrupts to stay enabled while a trap gate handler runs")
	}
	if regs.EAX != 42 {
		t.Errorf("expected handler changes to the frame to be visible to the caller; got EAX=%d", regs.EAX)
	}
}

func TestDispatchUnhandled(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer func() {
		kfmt.SetOutputSink(nil)
		if err := recover(); err != cpu.ErrHalted {
			t.Fatalf("expected an unhandled interrupt to halt the CPU; got %v", err)
		}

		got := buf.String()
		for _, exp := range []string{"unhandled interrupt 0x6", "[fault] EIP = 0000dead", "kernel panic"} {
			if !strings.Contains(got, exp) {
				t.Errorf("expected output to contain %q; got:\n%s", exp, got)
			}
		}
	}()

	g := New(cpu.New())
	g.Dispatch(InvalidOpcode, &Registers{EIP: 0xdead})
}
