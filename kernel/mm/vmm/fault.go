package vmm

import (
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/kfmt"
)

var errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}

// UserFaultHandler is invoked for faults raised while the CPU executes user
// code. The handler is expected to terminate the offending task.
type UserFaultHandler func(regs *gate.Registers, err *kernel.Error)

type faultHandlers struct {
	cpu       *cpu.CPU
	userFault UserFaultHandler
}

// InstallFaultHandlers installs the page fault, general protection fault and
// double fault handlers. Faults raised in user mode are passed to userFault
// (if not nil); faults raised by the kernel itself are unrecoverable.
func InstallFaultHandlers(g *gate.Gate, c *cpu.CPU, userFault UserFaultHandler) {
	h := &faultHandlers{cpu: c, userFault: userFault}
	g.HandleInterrupt(gate.PageFaultException, h.pageFaultHandler)
	g.HandleInterrupt(gate.GPFException, h.generalProtectionFaultHandler)
	g.HandleInterrupt(gate.DoubleFault, h.doubleFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails.
func (h *faultHandlers) pageFaultHandler(regs *gate.Registers) {
	var reason string
	switch {
	case regs.ErrorCode&16 != 0:
		reason = "instruction fetch"
	case regs.ErrorCode&8 != 0:
		reason = "page table has reserved bit set"
	case regs.ErrorCode&3 == 0:
		reason = "read from non-present page"
	case regs.ErrorCode&3 == 1:
		reason = "page protection violation (read)"
	case regs.ErrorCode&3 == 2:
		reason = "write to non-present page"
	default:
		reason = "page protection violation (write)"
	}

	kfmt.Module("vmm").WithField("reason", reason).Errorf("[vmm] page fault while accessing address: 0x%08x", h.cpu.ReadCR2())
	h.fault(regs)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func (h *faultHandlers) generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Module("vmm").WithField("selector", regs.ErrorCode).Errorf("[vmm] general protection fault at 0x%08x", regs.EIP)
	h.fault(regs)
}

func (h *faultHandlers) doubleFaultHandler(regs *gate.Registers) {
	kfmt.Module("vmm").Error("[vmm] double fault")
	dumpRegs(regs)
	kfmt.Panic(errUnrecoverableFault)
}

func (h *faultHandlers) fault(regs *gate.Registers) {
	dumpRegs(regs)

	if regs.UserMode() && h.userFault != nil {
		h.userFault(regs, errUnrecoverableFault)
		return
	}

	kfmt.Panic(errUnrecoverableFault)
}

func dumpRegs(regs *gate.Registers) {
	regs.DumpTo(kfmt.NewPrefixWriter(kfmt.GetOutputSink(), "[fault] "))
}
