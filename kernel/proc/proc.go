// Package proc implements the process lifecycle syscalls: fork, execve,
// exit, wait and sbrk.
package proc

import (
	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/config"
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
	"github.com/zhangkepi/my-os/kernel/mm/vmm"
	"github.com/zhangkepi/my-os/kernel/task"
	"github.com/zhangkepi/my-os/kernel/vfs"
)

var (
	// ErrWouldBlock is returned by Wait when the caller has live children
	// but none of them has exited yet. The caller has been suspended and
	// must reissue the call once it runs again.
	ErrWouldBlock = &kernel.Error{Module: "proc", Message: "operation would block"}

	// ErrNoChildren is returned by Wait when the caller has no children.
	ErrNoChildren = &kernel.Error{Module: "proc", Message: "no child processes"}

	errNoFrame       = &kernel.Error{Module: "proc", Message: "no syscall frame for the current task"}
	errHeapExhausted = &kernel.Error{Module: "proc", Message: "heap would overlap the user stack"}
	errHeapShrink    = &kernel.Error{Module: "proc", Message: "shrinking the heap is not supported"}
)

// FileTable is notified when tasks are created and destroyed so it can
// share or release their descriptors.
type FileTable interface {
	Fork(parent, child int)
	Release(pid int)
}

// Manager composes the scheduler and the virtual memory manager into the
// process lifecycle operations.
type Manager struct {
	cfg   config.Config
	tasks *task.Manager
	mem   *vmm.Manager
	fs    vfs.FileSystem
	files FileTable
	log   *log.Entry
}

// NewManager returns a process manager. Programs are loaded from fs; files
// may be nil when tasks do not own descriptors.
func NewManager(cfg config.Config, tasks *task.Manager, mem *vmm.Manager, fs vfs.FileSystem, files FileTable) *Manager {
	return &Manager{
		cfg:   cfg,
		tasks: tasks,
		mem:   mem,
		fs:    fs,
		files: files,
		log:   kfmt.Module("proc"),
	}
}

func (m *Manager) current() (*task.Task, *kernel.Error) {
	cur := m.tasks.Current()
	if cur == nil || cur.Frame == nil {
		return nil, errNoFrame
	}
	return cur, nil
}

// Fork creates a copy of the current task. The child resumes at the
// instruction following the syscall with 0 in EAX; the parent gets the
// child PID. On failure the child is torn down and the parent is left
// untouched.
func (m *Manager) Fork() (int, *kernel.Error) {
	parent, err := m.current()
	if err != nil {
		return -1, err
	}
	frame := parent.Frame

	child, err := m.tasks.AllocTask()
	if err != nil {
		return -1, err
	}

	// the syscall parameters pushed by the caller are discarded on return
	esp := uintptr(frame.ESP) + 4*gate.SyscallParamCount
	if err = m.tasks.InitTask(child, parent.Name(), 0, uintptr(frame.EIP), esp); err != nil {
		m.tasks.FreeTask(child)
		return -1, err
	}

	ctx := &child.Context
	ctx.EAX = 0
	ctx.EBX, ctx.ECX, ctx.EDX = frame.EBX, frame.ECX, frame.EDX
	ctx.ESI, ctx.EDI, ctx.EBP = frame.ESI, frame.EDI, frame.EBP
	ctx.CS, ctx.DS, ctx.ES, ctx.FS, ctx.GS = frame.CS, frame.DS, frame.ES, frame.FS, frame.GS
	ctx.EFlags = frame.EFlags

	dir, err := m.mem.Duplicate(parent.PageDirectory())
	if err != nil {
		m.tasks.UninitTask(child)
		m.tasks.FreeTask(child)
		return -1, err
	}

	m.tasks.AttachAddressSpace(child, dir)
	m.tasks.SetParent(child, parent)
	child.HeapStart, child.HeapEnd = parent.HeapStart, parent.HeapEnd

	if m.files != nil {
		m.files.Fork(parent.PID(), child.PID())
	}

	m.tasks.Start(child)

	m.log.WithFields(log.Fields{"parent": parent.PID(), "child": child.PID()}).Debug("[proc] fork")
	return child.PID(), nil
}

// Exit terminates the current task with the given status and switches to
// the next ready task.
func (m *Manager) Exit(status int) {
	cur := m.tasks.Current()
	kfmt.Assert(cur != nil && cur != m.tasks.Idle(), "exit called outside of a user task")
	if cur == nil {
		return
	}

	m.Kill(cur, status)
}

// Kill terminates t with the given status. The task becomes a zombie until
// its parent collects it with Wait; its children are handed over to the
// first task.
func (m *Manager) Kill(t *task.Task, status int) {
	state := m.tasks.EnterProtection()
	defer m.tasks.LeaveProtection(state)

	if t.State() == task.StateZombie {
		return
	}

	if m.files != nil {
		m.files.Release(t.PID())
	}

	first := m.tasks.First()
	wakeFirst := false
	m.tasks.VisitTasks(func(child *task.Task) bool {
		if child.Parent() != t.ID() || child == t {
			return true
		}

		if first == nil || first == t {
			m.tasks.SetParent(child, nil)
			return true
		}

		m.tasks.SetParent(child, first)
		if child.State() == task.StateZombie {
			wakeFirst = true
		}
		return true
	})

	t.ExitStatus = status
	m.tasks.Wake(t)
	m.tasks.Suspend(t, task.StateZombie)

	if parent := m.tasks.Lookup(t.Parent()); parent != nil {
		m.wakeWaiter(parent)
	}
	if wakeFirst {
		m.wakeWaiter(first)
	}

	m.log.WithFields(log.Fields{"pid": t.PID(), "status": status}).Info("[proc] task exited")
	m.tasks.Dispatch()
}

func (m *Manager) wakeWaiter(t *task.Task) {
	if t.State() == task.StateWaiting {
		m.tasks.Ready(t)
	}
}

// Wait collects an exited child of the current task and returns its PID
// and exit status. The child's resources are released. If children exist
// but none has exited the current task is suspended and ErrWouldBlock is
// returned.
func (m *Manager) Wait() (pid, status int, err *kernel.Error) {
	cur := m.tasks.Current()
	if cur == nil {
		return -1, 0, errNoFrame
	}

	var (
		haveChildren bool
		zombie       *task.Task
	)

	m.tasks.VisitTasks(func(t *task.Task) bool {
		if t.Parent() != cur.ID() || t == cur {
			return true
		}

		haveChildren = true
		if t.State() == task.StateZombie {
			zombie = t
			return false
		}
		return true
	})

	if zombie != nil {
		pid, status = zombie.PID(), zombie.ExitStatus
		m.tasks.UninitTask(zombie)
		m.tasks.FreeTask(zombie)
		return pid, status, nil
	}

	if !haveChildren {
		return -1, 0, ErrNoChildren
	}

	state := m.tasks.EnterProtection()
	m.tasks.Suspend(cur, task.StateWaiting)
	m.tasks.Dispatch()
	m.tasks.LeaveProtection(state)

	return -1, 0, ErrWouldBlock
}

// Sbrk grows the heap of the current task by incr bytes and returns the
// previous program break. New pages are zeroed.
func (m *Manager) Sbrk(incr int) (uintptr, *kernel.Error) {
	cur := m.tasks.Current()
	if cur == nil {
		return 0, errNoFrame
	}

	prev := cur.HeapEnd
	switch {
	case incr == 0:
		return prev, nil
	case incr < 0:
		return 0, errHeapShrink
	}

	end := prev + uintptr(incr)
	if end > m.stackBottom() {
		return 0, errHeapExhausted
	}

	if start := mm.AlignUp(prev); mm.AlignUp(end) > start {
		if err := m.mem.BackRange(cur.PageDirectory(), start, mm.AlignUp(end)-start, vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			return 0, err
		}
	}

	cur.HeapEnd = end
	return prev, nil
}

func (m *Manager) stackBottom() uintptr {
	return m.cfg.StackTop - uintptr(m.cfg.StackPages)*mm.PageSize
}

// userEFlags is the EFLAGS value a user program starts with.
const userEFlags = cpu.EFlagsDefault | cpu.EFlagsIF
