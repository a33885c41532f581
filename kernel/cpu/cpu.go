// Package cpu models the single x86 processor the kernel runs on. The
// processor owns the live register file, the interrupt flag and the control
// registers used by the MMU (CR2, CR3).
package cpu

import "errors"

const (
	// EFlagsDefault is the reserved bit 1 of EFLAGS which always reads as 1.
	EFlagsDefault = uint32(1 << 1)

	// EFlagsIF is the interrupt-enable flag.
	EFlagsIF = uint32(1 << 9)
)

var (
	// ErrHalted is raised by Halt to unwind the kernel once the processor
	// stops executing instructions.
	ErrHalted = errors.New("cpu halted")

	cpuidFn = ID
)

// Context holds the register state that is saved and restored when the CPU
// switches between tasks. It plays the role of the x86 task-state segment.
type Context struct {
	EIP, ESP, EBP                uint32
	EAX, EBX, ECX, EDX, ESI, EDI uint32
	EFlags                       uint32

	CS, SS, DS, ES, FS, GS uint32

	// Kernel stack used when the task traps from user mode.
	ESP0, SS0 uint32

	// Physical address of the task's page directory.
	CR3 uint32
}

// CPU is the processor the kernel runs on.
type CPU struct {
	regs Context
	cr2  uint32

	switches int
}

// New returns a CPU that starts with interrupts disabled and paging off.
func New() *CPU {
	return &CPU{regs: Context{EFlags: EFlagsDefault}}
}

// EnableInterrupts enables interrupt handling.
func (c *CPU) EnableInterrupts() { c.regs.EFlags |= EFlagsIF }

// DisableInterrupts disables interrupt handling.
func (c *CPU) DisableInterrupts() { c.regs.EFlags &^= EFlagsIF }

// InterruptsEnabled returns true if the IF flag is set.
func (c *CPU) InterruptsEnabled() bool { return c.regs.EFlags&EFlagsIF != 0 }

// EFlags returns the contents of the EFLAGS register.
func (c *CPU) EFlags() uint32 { return c.regs.EFlags }

// SetEFlags loads the EFLAGS register.
func (c *CPU) SetEFlags(v uint32) { c.regs.EFlags = v | EFlagsDefault }

// SwitchPDT sets the root page table directory to point to the specified
// physical address.
func (c *CPU) SwitchPDT(pdtPhysAddr uintptr) { c.regs.CR3 = uint32(pdtPhysAddr) }

// ActivePDT returns the physical address of the currently active page table.
func (c *CPU) ActivePDT() uintptr { return uintptr(c.regs.CR3) }

// ReadCR2 returns the value stored in the CR2 register.
func (c *CPU) ReadCR2() uint32 { return c.cr2 }

// SetCR2 latches the faulting linear address the way the MMU does before it
// raises a page fault.
func (c *CPU) SetCR2(addr uint32) { c.cr2 = addr }

// Registers returns a pointer to the live register file.
func (c *CPU) Registers() *Context { return &c.regs }

// Switches returns the number of context switches performed so far.
func (c *CPU) Switches() int { return c.switches }

// SwitchContext saves the live registers into from (if not nil), loads the
// registers stored in to and activates its page directory. This is the only
// architecture-specific step of a task switch.
func (c *CPU) SwitchContext(from, to *Context) {
	if from != nil {
		*from = c.regs
	}

	c.regs = *to
	c.switches++
}

// Halt stops instruction execution. The simulated processor has nothing left
// to run after halting so Halt unwinds the caller with ErrHalted.
func Halt() {
	panic(ErrHalted)
}

// ID returns information about the CPU and its features. It is modeled
// after the CPUID instruction with EAX=leaf and returns the values in EAX,
// EBX, ECX and EDX. Only leaf 0 (vendor string) is populated.
func ID(leaf uint32) (uint32, uint32, uint32, uint32) {
	if leaf != 0 {
		return 0, 0, 0, 0
	}

	// "GenuineIntel"
	return 1, 0x756e6547, 0x6c65746e, 0x49656e69
}

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
