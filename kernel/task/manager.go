package task

import (
	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/config"
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/irq"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
	"github.com/zhangkepi/my-os/kernel/mm/vmm"
)

var (
	errNoFreeTask       = &kernel.Error{Module: "task", Message: "task table is full"}
	errNoKernelStack    = &kernel.Error{Module: "task", Message: "out of memory for the kernel stack"}
	errFirstTaskTooBig  = &kernel.Error{Module: "task", Message: "first task image does not fit its memory area"}
	errAlreadyStarted   = &kernel.Error{Module: "task", Message: "task manager already initialized"}
	errNotInitialized   = &kernel.Error{Module: "task", Message: "task manager not initialized"}
	errNoTaskDescriptor = &kernel.Error{Module: "task", Message: "no free GDT slot for the task segment"}
)

// tssLimit is the size of an x86 32-bit task-state segment minus one. The
// segment lives at the bottom of the kernel stack page of its task.
const tssLimit = 104 - 1

// Memory is the subset of the virtual memory manager used by the task
// manager.
type Memory interface {
	AllocPage() uintptr
	FreePage(addr uintptr)
	KernelDirectory() vmm.PageDirectory
	CreateAddressSpace() (vmm.PageDirectory, *kernel.Error)
	Destroy(dir vmm.PageDirectory)
	BackRange(dir vmm.PageDirectory, virtAddr, size uintptr, flags vmm.PageTableEntryFlag) *kernel.Error
	CopyTo(dir vmm.PageDirectory, virtAddr uintptr, data []byte) *kernel.Error
}

// Switcher performs the architecture-specific part of a task switch.
type Switcher interface {
	SwitchContext(from, to *cpu.Context)
	SwitchPDT(pdtPhysAddr uintptr)
}

// Protector masks interrupts around scheduler critical sections.
type Protector interface {
	EnterProtection() irq.State
	LeaveProtection(irq.State)
}

// Manager owns the task table and the scheduler lists.
type Manager struct {
	cfg  config.Config
	mem  Memory
	sw   Switcher
	prot Protector
	gdt  *gate.DescriptorTable
	log  *log.Entry

	tasks []Task
	free  []ID

	ready List
	sleep List
	all   List

	current *Task
	idle    *Task
	first   *Task

	nextPID int

	appCodeSel, appDataSel gate.Selector
}

// NewManager returns a task manager with an empty task table of
// cfg.TaskCount slots. Init must be called before tasks can be created.
func NewManager(cfg config.Config, sw Switcher, prot Protector, gdt *gate.DescriptorTable) *Manager {
	m := &Manager{
		cfg:   cfg,
		sw:    sw,
		prot:  prot,
		gdt:   gdt,
		log:   kfmt.Module("sched"),
		tasks: make([]Task, cfg.TaskCount),
		free:  make([]ID, 0, cfg.TaskCount),
	}

	// lower slots are handed out first
	for index := cfg.TaskCount - 1; index >= 0; index-- {
		m.tasks[index].id = ID(index + 1)
		m.free = append(m.free, ID(index+1))
	}

	return m
}

// Init installs the flat user segments and creates the idle task, which
// runs on the kernel page directory from idleEntry.
func (m *Manager) Init(mem Memory, idleEntry uintptr) *kernel.Error {
	if m.mem != nil {
		return errAlreadyStarted
	}
	m.mem = mem

	var err *kernel.Error
	if m.appCodeSel, err = m.gdt.Alloc(); err != nil {
		return err
	}
	if m.appDataSel, err = m.gdt.Alloc(); err != nil {
		return err
	}

	m.gdt.SetSegment(m.appCodeSel, 0, 0xFFFFFFFF, gate.SegPresent|gate.SegDPL3|gate.SegNormal|gate.SegTypeCode|gate.SegTypeRW|gate.SegDB)
	m.gdt.SetSegment(m.appDataSel, 0, 0xFFFFFFFF, gate.SegPresent|gate.SegDPL3|gate.SegNormal|gate.SegTypeData|gate.SegTypeRW|gate.SegDB)

	idle, err := m.AllocTask()
	if err != nil {
		return err
	}

	stack := mem.AllocPage()
	if stack == 0 {
		m.FreeTask(idle)
		return errNoKernelStack
	}

	if err = m.InitTask(idle, "idle task", FlagSystem, idleEntry, stack+mm.PageSize); err != nil {
		mem.FreePage(stack)
		m.FreeTask(idle)
		return err
	}

	m.idle = idle
	m.log.WithField("pid", idle.pid).Info("[sched] idle task ready")
	return nil
}

// InitFirstTask creates the first user task, copies image into its address
// space at entry and makes it the running task. The task gets
// cfg.FirstTaskPages pages of memory with the stack at the top of the area.
func (m *Manager) InitFirstTask(image []byte, entry uintptr) *kernel.Error {
	if m.mem == nil {
		return errNotInitialized
	}

	size := uintptr(m.cfg.FirstTaskPages) * mm.PageSize
	if uintptr(len(image)) > size {
		return errFirstTaskTooBig
	}

	t, err := m.AllocTask()
	if err != nil {
		return err
	}

	if err = m.InitTask(t, "first task", 0, entry, entry+size); err != nil {
		m.FreeTask(t)
		return err
	}

	if err = m.mem.BackRange(t.pdt, entry, size, vmm.FlagRW|vmm.FlagUserAccessible); err == nil {
		err = m.mem.CopyTo(t.pdt, entry, image)
	}
	if err != nil {
		m.UninitTask(t)
		m.FreeTask(t)
		return err
	}

	t.HeapStart = entry + size
	t.HeapEnd = t.HeapStart

	state := m.prot.EnterProtection()
	m.first = t
	m.current = t
	t.state = StateRunning
	m.pushBack(&m.ready, runLink, t)
	m.sw.SwitchContext(nil, &t.Context)
	m.prot.LeaveProtection(state)

	m.log.WithFields(log.Fields{"pid": t.pid, "entry": entry}).Info("[sched] first task running")
	return nil
}

// lookup returns the task with the given ID or nil.
func (m *Manager) lookup(id ID) *Task {
	if id <= InvalidID || int(id) > len(m.tasks) {
		return nil
	}

	return &m.tasks[id-1]
}

// Lookup returns the live task with the given ID or nil.
func (m *Manager) Lookup(id ID) *Task {
	if t := m.lookup(id); t != nil && t.inUse {
		return t
	}

	return nil
}

// AllocTask reserves a slot from the task table.
func (m *Manager) AllocTask() (*Task, *kernel.Error) {
	state := m.prot.EnterProtection()
	defer m.prot.LeaveProtection(state)

	if len(m.free) == 0 {
		return nil, errNoFreeTask
	}

	id := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]

	t := m.lookup(id)
	*t = Task{id: id, inUse: true}
	return t, nil
}

// FreeTask returns the slot of t to the task table. The task must not be a
// member of any list.
func (m *Manager) FreeTask(t *Task) {
	state := m.prot.EnterProtection()
	defer m.prot.LeaveProtection(state)

	for kind := linkKind(0); kind < linkKinds; kind++ {
		kfmt.Assert(t.links[kind].list == nil, "freeing linked task %d", t.id)
	}

	if !t.inUse {
		return
	}

	*t = Task{id: t.id}
	m.free = append(m.free, t.id)
}

// FreeSlots returns the number of unused task slots.
func (m *Manager) FreeSlots() int {
	return len(m.free)
}

// InitTask prepares t to run from entry with its stack pointer at esp. It
// allocates the task segment descriptor, a kernel stack page and (unless t
// is a system task) a fresh address space, then registers t on the
// all-tasks list. On failure everything allocated so far is released and t
// is left unregistered.
func (m *Manager) InitTask(t *Task, name string, flags Flags, entry, esp uintptr) *kernel.Error {
	sel, err := m.gdt.Alloc()
	if err != nil {
		return errNoTaskDescriptor
	}

	stack := m.mem.AllocPage()
	if stack == 0 {
		m.gdt.Free(sel)
		return errNoKernelStack
	}

	var (
		pdt     = m.mem.KernelDirectory()
		codeSel = gate.KernelCodeSelector
		dataSel = gate.KernelDataSelector
	)

	if flags&FlagSystem == 0 {
		if pdt, err = m.mem.CreateAddressSpace(); err != nil {
			m.mem.FreePage(stack)
			m.gdt.Free(sel)
			return err
		}

		codeSel = m.appCodeSel | gate.RPL3
		dataSel = m.appDataSel | gate.RPL3
	}

	m.gdt.SetSegment(sel, uint32(stack), tssLimit, gate.SegPresent|gate.SegDPL0|gate.SegTypeTSS)

	t.Context = cpu.Context{
		EIP:    uint32(entry),
		ESP:    uint32(esp),
		ESP0:   uint32(stack + mm.PageSize),
		SS0:    uint32(gate.KernelDataSelector),
		EFlags: cpu.EFlagsDefault | cpu.EFlagsIF,
		CS:     uint32(codeSel),
		SS:     uint32(dataSel),
		DS:     uint32(dataSel),
		ES:     uint32(dataSel),
		FS:     uint32(dataSel),
		GS:     uint32(dataSel),
		CR3:    uint32(pdt.Address()),
	}

	t.name = m.truncateName(name)
	t.flags = flags
	t.state = StateCreated
	t.pdt = pdt
	t.tssSel = sel
	t.kernelStack = stack
	t.parent = InvalidID
	t.timeSlice = m.cfg.TimeSlice
	t.sliceTicks = m.cfg.TimeSlice
	t.sleepTicks = 0
	t.Frame = nil

	state := m.prot.EnterProtection()
	t.pid = m.nextPID
	m.nextPID++
	m.pushBack(&m.all, allLink, t)
	m.prot.LeaveProtection(state)

	return nil
}

// UninitTask releases the resources acquired by InitTask and removes t from
// the all-tasks list. The caller must have removed t from the scheduler
// lists.
func (m *Manager) UninitTask(t *Task) {
	if t.tssSel != 0 {
		m.gdt.Free(t.tssSel)
		t.tssSel = 0
	}

	if t.kernelStack != 0 {
		m.mem.FreePage(t.kernelStack)
		t.kernelStack = 0
	}

	if t.flags&FlagSystem == 0 && t.pdt.Valid() {
		m.mem.Destroy(t.pdt)
	}
	t.pdt = vmm.PageDirectory{}

	state := m.prot.EnterProtection()
	m.remove(&m.all, allLink, t)
	m.prot.LeaveProtection(state)
}

func (m *Manager) truncateName(name string) string {
	if limit := m.cfg.TaskNameSize - 1; len(name) > limit {
		return name[:limit]
	}

	return name
}

// SetName renames t.
func (m *Manager) SetName(t *Task, name string) {
	t.name = m.truncateName(name)
}

// SetParent records parent as the parent of t.
func (m *Manager) SetParent(t, parent *Task) {
	t.parent = InvalidID
	if parent != nil {
		t.parent = parent.id
	}
}

// AttachAddressSpace installs dir as the address space of t and destroys
// the previous one. If t is the running task the CPU switches to dir
// before the old directory is released.
func (m *Manager) AttachAddressSpace(t *Task, dir vmm.PageDirectory) {
	old := t.pdt

	t.pdt = dir
	t.Context.CR3 = uint32(dir.Address())
	if t == m.current {
		m.sw.SwitchPDT(dir.Address())
	}

	if old.Valid() && old != dir && old != m.mem.KernelDirectory() {
		m.mem.Destroy(old)
	}
}

// Current returns the running task.
func (m *Manager) Current() *Task { return m.current }

// Idle returns the idle task.
func (m *Manager) Idle() *Task { return m.idle }

// First returns the first user task.
func (m *Manager) First() *Task { return m.first }

// ReadyCount returns the length of the ready list.
func (m *Manager) ReadyCount() int { return m.ready.Len() }

// SleepCount returns the length of the sleep list.
func (m *Manager) SleepCount() int { return m.sleep.Len() }

// TaskCount returns the number of initialized tasks.
func (m *Manager) TaskCount() int { return m.all.Len() }

// VisitTasks invokes visitor for every initialized task in creation order.
// The visitor must return true to continue or false to abort the scan.
func (m *Manager) VisitTasks(visitor func(*Task) bool) {
	m.visit(&m.all, allLink, visitor)
}

// EnterProtection masks interrupts; see irq.Controller.
func (m *Manager) EnterProtection() irq.State { return m.prot.EnterProtection() }

// LeaveProtection restores the interrupt state saved by EnterProtection.
func (m *Manager) LeaveProtection(state irq.State) { m.prot.LeaveProtection(state) }
