// Package task implements the task table and the round-robin scheduler.
package task

import (
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/mm/vmm"
)

// ID identifies a slot in the task table. The zero value does not refer to
// a task.
type ID int

// InvalidID is the ID of no task.
const InvalidID = ID(0)

// State describes the scheduling state of a task.
type State uint8

// Scheduling states.
const (
	StateCreated State = iota
	StateRunning
	StateSleep
	StateReady
	StateWaiting
	StateBlocked
	StateZombie
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSleep:
		return "sleep"
	case StateReady:
		return "ready"
	case StateWaiting:
		return "waiting"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Flags alter how a task is set up.
type Flags uint32

// FlagSystem marks a privileged task that runs on the kernel segments and
// the kernel page directory.
const FlagSystem Flags = 1 << 0

// Task is a schedulable thread of execution with its own saved register
// context and (for user tasks) its own address space.
type Task struct {
	id     ID
	inUse  bool
	pid    int
	parent ID
	name   string
	flags  Flags
	state  State

	// Context is the register state restored when the task is switched in.
	Context cpu.Context

	// Frame is the trap frame of the syscall the task is executing.
	Frame *gate.Registers

	pdt         vmm.PageDirectory
	tssSel      gate.Selector
	kernelStack uintptr

	timeSlice  int
	sliceTicks int
	sleepTicks int

	// HeapStart and HeapEnd delimit the program break area.
	HeapStart, HeapEnd uintptr

	// ExitStatus is reported to the parent once the task has exited.
	ExitStatus int

	links [linkKinds]link
}

// ID returns the task slot ID.
func (t *Task) ID() ID { return t.id }

// PID returns the process ID.
func (t *Task) PID() int { return t.pid }

// Parent returns the ID of the parent task or InvalidID.
func (t *Task) Parent() ID { return t.parent }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Flags returns the flags the task was created with.
func (t *Task) Flags() Flags { return t.flags }

// State returns the scheduling state.
func (t *Task) State() State { return t.state }

// PageDirectory returns the address space of the task.
func (t *Task) PageDirectory() vmm.PageDirectory { return t.pdt }

// KernelStack returns the base of the task's kernel stack page.
func (t *Task) KernelStack() uintptr { return t.kernelStack }

// Selector returns the task segment selector.
func (t *Task) Selector() gate.Selector { return t.tssSel }

// SliceTicks returns the number of ticks left in the current time slice.
func (t *Task) SliceTicks() int { return t.sliceTicks }

// SleepTicks returns the remaining sleep countdown.
func (t *Task) SleepTicks() int { return t.sleepTicks }
