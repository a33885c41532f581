package irq

import (
	"testing"

	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
)

func TestProtectionNesting(t *testing.T) {
	c := cpu.New()
	c.EnableInterrupts()
	ctrl := NewController(c, gate.New(c))

	outer := ctrl.EnterProtection()
	if c.InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled inside a protected region")
	}

	inner := ctrl.EnterProtection()
	ctrl.LeaveProtection(inner)
	if c.InterruptsEnabled() {
		t.Fatal("expected leaving a nested region to keep interrupts disabled")
	}

	ctrl.LeaveProtection(outer)
	if !c.InterruptsEnabled() {
		t.Fatal("expected leaving the outermost region to re-enable interrupts")
	}
}

func TestProtectionWithInterruptsDisabled(t *testing.T) {
	c := cpu.New()
	ctrl := NewController(c, gate.New(c))

	state := ctrl.EnterProtection()
	ctrl.LeaveProtection(state)

	if c.InterruptsEnabled() {
		t.Fatal("expected interrupts to stay disabled when they were disabled on entry")
	}
}

func TestRaise(t *testing.T) {
	c := cpu.New()
	g := gate.New(c)
	ctrl := NewController(c, g)

	var ticks int
	g.HandleInterrupt(gate.TimerVector, func(regs *gate.Registers) {
		ticks++
	})

	t.Run("masked", func(t *testing.T) {
		ctrl.Raise(gate.TimerVector)
		if ticks != 0 || ctrl.Pending() != 1 {
			t.Fatalf("expected the IRQ to stay pending; ticks=%d pending=%d", ticks, ctrl.Pending())
		}
	})

	t.Run("delivered on leave", func(t *testing.T) {
		c.EnableInterrupts()
		state := ctrl.EnterProtection()
		ctrl.Raise(gate.TimerVector)
		if ticks != 0 {
			t.Fatal("expected no delivery inside a protected region")
		}

		ctrl.LeaveProtection(state)
		if ticks != 2 || ctrl.Pending() != 0 || ctrl.Delivered() != 2 {
			t.Fatalf("expected both pending IRQs to be delivered; ticks=%d pending=%d", ticks, ctrl.Pending())
		}
	})

	t.Run("immediate", func(t *testing.T) {
		ctrl.Raise(gate.TimerVector)
		if ticks != 3 {
			t.Fatalf("expected immediate delivery; ticks=%d", ticks)
		}
	})
}
