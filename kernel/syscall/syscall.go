// Package syscall dispatches the software interrupts issued by user tasks
// to the kernel services implementing them.
package syscall

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm/vmm"
	"github.com/zhangkepi/my-os/kernel/proc"
	"github.com/zhangkepi/my-os/kernel/task"
	"github.com/zhangkepi/my-os/kernel/vfs"
)

// Syscall numbers.
const (
	SysSleep  = 0
	SysGetPID = 1
	SysFork   = 2
	SysExecve = 3
	SysYield  = 4
	SysExit   = 5
	SysWait   = 6

	SysOpen     = 50
	SysRead     = 51
	SysWrite    = 52
	SysClose    = 53
	SysLseek    = 54
	SysIsatty   = 55
	SysSbrk     = 56
	SysFstat    = 57
	SysDup      = 58
	SysIoctl    = 59
	SysOpendir  = 60
	SysReaddir  = 61
	SysClosedir = 62
	SysUnlink   = 63

	SysPrintMsg = 100
)

const (
	// maxPathLen bounds path and format string arguments.
	maxPathLen = 255

	// maxArgs bounds the number of execve arguments.
	maxArgs = 64

	// maxIOSize bounds the size of a single read or write.
	maxIOSize = 1 << 20

	// DirentNameSize is the size of the name field of a directory entry.
	DirentNameSize = 256

	// DirentSize is the size of the directory entry filled by readdir:
	// index, type and size words followed by the NUL-terminated name.
	DirentSize = 12 + DirentNameSize
)

var (
	errBadAddress = &kernel.Error{Module: "syscall", Message: "argument points outside of user memory"}
	errTooManyArg = &kernel.Error{Module: "syscall", Message: "too many execve arguments"}
)

// Files is the filesystem collaborator that serves the I/O syscalls.
type Files interface {
	Open(pid int, name string, flags int) (int, *kernel.Error)
	Read(pid, fd int, buf []byte) (int, *kernel.Error)
	Write(pid, fd int, buf []byte) (int, *kernel.Error)
	Close(pid, fd int) *kernel.Error
	Seek(pid, fd, offset, whence int) (int, *kernel.Error)
	IsTTY(pid, fd int) (bool, *kernel.Error)
	Stat(pid, fd int) (vfs.Stat, *kernel.Error)
	Dup(pid, fd int) (int, *kernel.Error)
	Ioctl(pid, fd, cmd int, arg0, arg1 uint32) (int, *kernel.Error)
	OpenDir(pid int, name string) (int, *kernel.Error)
	ReadDir(pid, handle int) (vfs.DirEntry, int, bool, *kernel.Error)
	CloseDir(pid, handle int) *kernel.Error
	Unlink(name string) *kernel.Error
}

// handlerFn implements a syscall. The returned value is passed back to the
// task in EAX.
type handlerFn func(d *Dispatcher, cur *task.Task, regs *gate.Registers) int

var handlers = [...]handlerFn{
	SysSleep:  (*Dispatcher).sysSleep,
	SysGetPID: (*Dispatcher).sysGetPID,
	SysFork:   (*Dispatcher).sysFork,
	SysExecve: (*Dispatcher).sysExecve,
	SysYield:  (*Dispatcher).sysYield,
	SysExit:   (*Dispatcher).sysExit,
	SysWait:   (*Dispatcher).sysWait,

	SysOpen:     (*Dispatcher).sysOpen,
	SysRead:     (*Dispatcher).sysRead,
	SysWrite:    (*Dispatcher).sysWrite,
	SysClose:    (*Dispatcher).sysClose,
	SysLseek:    (*Dispatcher).sysLseek,
	SysIsatty:   (*Dispatcher).sysIsatty,
	SysSbrk:     (*Dispatcher).sysSbrk,
	SysFstat:    (*Dispatcher).sysFstat,
	SysDup:      (*Dispatcher).sysDup,
	SysIoctl:    (*Dispatcher).sysIoctl,
	SysOpendir:  (*Dispatcher).sysOpendir,
	SysReaddir:  (*Dispatcher).sysReaddir,
	SysClosedir: (*Dispatcher).sysClosedir,
	SysUnlink:   (*Dispatcher).sysUnlink,

	SysPrintMsg: (*Dispatcher).sysPrintMsg,
}

// Dispatcher routes syscall traps to their handlers.
type Dispatcher struct {
	tasks *task.Manager
	procs *proc.Manager
	mem   *vmm.Manager
	files Files
	log   *log.Entry
}

// NewDispatcher returns a dispatcher serving the tasks of tasks. files may be
// nil, in which case all I/O syscalls fail.
func NewDispatcher(tasks *task.Manager, procs *proc.Manager, mem *vmm.Manager, files Files) *Dispatcher {
	return &Dispatcher{
		tasks: tasks,
		procs: procs,
		mem:   mem,
		files: files,
		log:   kfmt.Module("syscall"),
	}
}

// Install registers the dispatcher as the handler of the syscall vector.
func (d *Dispatcher) Install(g *gate.Gate) {
	g.HandleTrap(gate.SyscallVector, d.Handle)
}

// Handle runs the syscall whose number is stored in regs.Info on behalf of
// the current task and stores the result in regs.EAX. Unknown syscalls are
// logged and fail with -1.
func (d *Dispatcher) Handle(regs *gate.Registers) {
	cur := d.tasks.Current()
	if cur == nil {
		d.log.WithField("id", regs.Info).Error("[syscall] trap without a current task")
		regs.EAX = ^uint32(0)
		return
	}

	cur.Frame = regs

	var fn handlerFn
	if id := regs.Info; id < uint32(len(handlers)) {
		fn = handlers[id]
	}

	if fn == nil {
		d.log.WithFields(log.Fields{"task": cur.Name(), "id": regs.Info}).Warn("[syscall] unknown syscall")
		regs.EAX = ^uint32(0)
		return
	}

	regs.EAX = uint32(int32(fn(d, cur, regs)))
}

// result converts a kernel service result to a syscall return value.
func (d *Dispatcher) result(cur *task.Task, value int, err *kernel.Error) int {
	if err != nil {
		d.log.WithFields(log.Fields{"pid": cur.PID(), "task": cur.Name()}).WithError(err).Debug("[syscall] failed")
		return -1
	}
	return value
}

// maxUserEnd is the exclusive end of the 32-bit user range.
const maxUserEnd = uint64(1) << 32

// checkUser validates that [addr, addr+size) lies in the user range.
func (d *Dispatcher) checkUser(addr uint32, size int) *kernel.Error {
	start, end := uint64(addr), uint64(addr)+uint64(size)
	if size < 0 || start < uint64(d.mem.UserBase()) || end > maxUserEnd {
		return errBadAddress
	}
	return nil
}

func (d *Dispatcher) readString(cur *task.Task, addr uint32) (string, *kernel.Error) {
	if err := d.checkUser(addr, 1); err != nil {
		return "", err
	}
	return d.mem.ReadString(cur.PageDirectory(), uintptr(addr), maxPathLen)
}

// readStrings reads a NULL-terminated array of string pointers.
func (d *Dispatcher) readStrings(cur *task.Task, addr uint32) ([]string, *kernel.Error) {
	if addr == 0 {
		return nil, nil
	}

	var strs []string
	for index := 0; ; index++ {
		if index == maxArgs {
			return nil, errTooManyArg
		}

		ptrAddr := addr + uint32(4*index)
		if err := d.checkUser(ptrAddr, 4); err != nil {
			return nil, err
		}

		ptr, err := d.mem.ReadUint32(cur.PageDirectory(), uintptr(ptrAddr))
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return strs, nil
		}

		str, err := d.readString(cur, ptr)
		if err != nil {
			return nil, err
		}
		strs = append(strs, str)
	}
}

func (d *Dispatcher) sysSleep(_ *task.Task, regs *gate.Registers) int {
	d.tasks.SleepMS(int(regs.Args[0]))
	return 0
}

func (d *Dispatcher) sysGetPID(cur *task.Task, _ *gate.Registers) int {
	return cur.PID()
}

func (d *Dispatcher) sysFork(cur *task.Task, _ *gate.Registers) int {
	pid, err := d.procs.Fork()
	return d.result(cur, pid, err)
}

func (d *Dispatcher) sysExecve(cur *task.Task, regs *gate.Registers) int {
	name, err := d.readString(cur, regs.Args[0])
	if err != nil {
		return d.result(cur, -1, err)
	}

	argv, err := d.readStrings(cur, regs.Args[1])
	if err != nil {
		return d.result(cur, -1, err)
	}

	return d.result(cur, 0, d.procs.Execve(name, argv))
}

func (d *Dispatcher) sysYield(_ *task.Task, _ *gate.Registers) int {
	d.tasks.Yield()
	return 0
}

func (d *Dispatcher) sysExit(_ *task.Task, regs *gate.Registers) int {
	d.procs.Exit(int(int32(regs.Args[0])))
	return 0
}

func (d *Dispatcher) sysWait(cur *task.Task, regs *gate.Registers) int {
	pid, status, err := d.procs.Wait()
	switch err {
	case nil:
	case proc.ErrWouldBlock:
		// reissue the call once the task is woken up
		regs.EIP -= gate.CallGateInsnLen
		return 0
	default:
		return d.result(cur, -1, err)
	}

	if statusAddr := regs.Args[0]; statusAddr != 0 {
		if err = d.checkUser(statusAddr, 4); err == nil {
			err = d.mem.WriteUint32(cur.PageDirectory(), uintptr(statusAddr), uint32(int32(status)))
		}
		if err != nil {
			return d.result(cur, -1, err)
		}
	}

	return pid
}

func (d *Dispatcher) sysSbrk(cur *task.Task, regs *gate.Registers) int {
	prev, err := d.procs.Sbrk(int(int32(regs.Args[0])))
	return d.result(cur, int(prev), err)
}

func (d *Dispatcher) sysPrintMsg(cur *task.Task, regs *gate.Registers) int {
	format, err := d.readString(cur, regs.Args[0])
	if err != nil {
		return d.result(cur, -1, err)
	}

	d.log.WithFields(log.Fields{"pid": cur.PID(), "task": cur.Name()}).Info(fmt.Sprintf(format, int32(regs.Args[1])))
	return 0
}
