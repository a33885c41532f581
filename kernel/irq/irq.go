// Package irq implements interrupt masking for kernel critical sections and
// the delivery of hardware interrupt lines.
package irq

import (
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
)

// State is the EFLAGS value saved by EnterProtection.
type State uint32

// Controller masks interrupts around critical sections and delivers
// hardware IRQ lines through the gate. Lines raised while interrupts are
// masked are latched and delivered as soon as interrupts are enabled again,
// the way the PIC keeps a request pending until the CPU acknowledges it.
type Controller struct {
	cpu  *cpu.CPU
	gate *gate.Gate

	pending   []gate.InterruptNumber
	delivered int
}

// NewController returns a controller for the supplied CPU and gate.
func NewController(c *cpu.CPU, g *gate.Gate) *Controller {
	return &Controller{cpu: c, gate: g}
}

// EnterProtection saves the interrupt state and disables interrupts.
// Protection regions nest: each call must be paired with a LeaveProtection
// call receiving the returned state.
func (c *Controller) EnterProtection() State {
	state := State(c.cpu.EFlags())
	c.cpu.DisableInterrupts()
	return state
}

// LeaveProtection restores the interrupt state saved by the matching
// EnterProtection call.
func (c *Controller) LeaveProtection(state State) {
	c.cpu.SetEFlags(uint32(state))
	c.deliverPending()
}

// Raise asserts a hardware interrupt line. The interrupt is delivered
// immediately if interrupts are enabled; otherwise it stays pending.
func (c *Controller) Raise(vector gate.InterruptNumber) {
	c.pending = append(c.pending, vector)
	c.deliverPending()
}

// Pending returns the number of latched interrupt requests.
func (c *Controller) Pending() int {
	return len(c.pending)
}

// Delivered returns the number of interrupts delivered so far.
func (c *Controller) Delivered() int {
	return c.delivered
}

func (c *Controller) deliverPending() {
	for len(c.pending) > 0 && c.cpu.InterruptsEnabled() {
		vector := c.pending[0]
		c.pending = c.pending[1:]
		c.delivered++
		c.gate.Dispatch(vector, gate.Snapshot(c.cpu.Registers(), uint32(vector)))
	}
}
