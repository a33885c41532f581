// Package gate implements the boundary between user code and the kernel. It
// owns the trap frame pushed on every kernel entry and the table of installed
// handlers. The global descriptor table slots used for task segments live
// here as well.
package gate

import (
	"fmt"
	"io"

	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. Handlers may modify the snapshot; the task
// resumes with the modified values once the handler returns.
type Registers struct {
	GS, FS, ES, DS uint32

	EDI, ESI, EBP, EBX, EDX, ECX, EAX uint32

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint32

	// ErrorCode is pushed by the CPU for some exceptions.
	ErrorCode uint32

	// Args holds the syscall arguments pushed by the caller.
	Args [4]uint32

	// The return frame used by IRET
	EIP    uint32
	CS     uint32
	EFlags uint32
	ESP    uint32
	SS     uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "EAX = %08x EBX = %08x\n", r.EAX, r.EBX)
	fmt.Fprintf(w, "ECX = %08x EDX = %08x\n", r.ECX, r.EDX)
	fmt.Fprintf(w, "ESI = %08x EDI = %08x\n", r.ESI, r.EDI)
	fmt.Fprintf(w, "EBP = %08x\n", r.EBP)
	fmt.Fprintf(w, "DS  = %08x ES  = %08x\n", r.DS, r.ES)
	fmt.Fprintf(w, "FS  = %08x GS  = %08x\n", r.FS, r.GS)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "EIP = %08x CS  = %08x\n", r.EIP, r.CS)
	fmt.Fprintf(w, "ESP = %08x SS  = %08x\n", r.ESP, r.SS)
	fmt.Fprintf(w, "EFL = %08x ERR = %08x\n", r.EFlags, r.ErrorCode)
}

// UserMode returns true if the snapshot was taken while the CPU executed at
// privilege level 3.
func (r *Registers) UserMode() bool {
	return r.CS&3 == 3
}

// Snapshot builds a trap frame out of the supplied register context.
func Snapshot(ctx *cpu.Context, info uint32) *Registers {
	return &Registers{
		GS: ctx.GS, FS: ctx.FS, ES: ctx.ES, DS: ctx.DS,
		EDI: ctx.EDI, ESI: ctx.ESI, EBP: ctx.EBP, EBX: ctx.EBX,
		EDX: ctx.EDX, ECX: ctx.ECX, EAX: ctx.EAX,
		Info:   info,
		EIP:    ctx.EIP,
		CS:     ctx.CS,
		EFlags: ctx.EFlags,
		ESP:    ctx.ESP,
		SS:     ctx.SS,
	}
}

// Restore loads the frame into ctx the way IRET resumes the interrupted
// context. CR3 and the privilege-0 stack are left untouched.
func (r *Registers) Restore(ctx *cpu.Context) {
	ctx.GS, ctx.FS, ctx.ES, ctx.DS = r.GS, r.FS, r.ES, r.DS
	ctx.EDI, ctx.ESI, ctx.EBP, ctx.EBX = r.EDI, r.ESI, r.EBP, r.EBX
	ctx.EDX, ctx.ECX, ctx.EAX = r.EDX, r.ECX, r.EAX
	ctx.EIP, ctx.CS, ctx.EFlags = r.EIP, r.CS, r.EFlags
	ctx.ESP, ctx.SS = r.ESP, r.SS
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// TimerVector is the vector of the first PIC line (IRQ0) after the
	// PIC has been remapped past the CPU exceptions.
	TimerVector = InterruptNumber(0x20)

	// SyscallVector is the vector used by the syscall call gate.
	SyscallVector = InterruptNumber(0x80)
)

const (
	// SyscallParamCount is the number of 32-bit words (syscall number plus
	// four arguments) the user-space stub pushes before entering the gate.
	SyscallParamCount = 5

	// CallGateInsnLen is the length of the far call instruction (lcall
	// ptr16:32) used to enter the syscall gate. Rewinding EIP by this
	// amount restarts a syscall.
	CallGateInsnLen = 7
)

// Handler is invoked when a particular interrupt number occurs.
type Handler func(*Registers)

var errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}

type gateEntry struct {
	handler Handler

	// trap gates leave IF untouched; interrupt gates clear it while the
	// handler runs.
	trap bool
}

// Gate routes incoming interrupts, exceptions and syscalls to the installed
// handlers.
type Gate struct {
	cpu     *cpu.CPU
	entries [256]gateEntry
}

// New returns a Gate with all entries marked as non-present.
func New(c *cpu.CPU) *Gate {
	return &Gate{cpu: c}
}

// HandleInterrupt installs handler as an interrupt gate for intNumber.
// Interrupts are disabled while the handler runs.
func (g *Gate) HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	g.entries[intNumber] = gateEntry{handler: handler}
}

// HandleTrap installs handler as a trap gate for intNumber. The interrupt
// flag is left untouched while the handler runs.
func (g *Gate) HandleTrap(intNumber InterruptNumber, handler Handler) {
	g.entries[intNumber] = gateEntry{handler: handler, trap: true}
}

// Installed returns true if a handler is installed for intNumber.
func (g *Gate) Installed(intNumber InterruptNumber) bool {
	return g.entries[intNumber].handler != nil
}

// Dispatch enters the kernel through the gate for intNumber, runs the
// installed handler with regs and returns to the interrupted context. An
// interrupt without a handler is unrecoverable. Syscall entries keep the
// syscall number pushed by the caller in regs.Info.
func (g *Gate) Dispatch(intNumber InterruptNumber, regs *Registers) {
	if intNumber != SyscallVector {
		regs.Info = uint32(intNumber)
	}
	entry := g.entries[intNumber]
	if entry.handler == nil {
		kfmt.Module("gate").WithField("vector", intNumber).Errorf("[gate] unhandled interrupt 0x%x", uint8(intNumber))
		regs.DumpTo(kfmt.NewPrefixWriter(kfmt.GetOutputSink(), "[fault] "))
		kfmt.Panic(errUnhandledInterrupt)
		return
	}

	flags := g.cpu.EFlags()
	if !entry.trap {
		g.cpu.DisableInterrupts()
	}

	entry.handler(regs)

	g.cpu.SetEFlags(flags)
}
