package syscall

import (
	"encoding/binary"

	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/task"
)

var errNoFiles = &kernel.Error{Module: "syscall", Message: "no file table attached"}

// fileCall runs fn against the file table if one is attached.
func (d *Dispatcher) fileCall(cur *task.Task, fn func(Files) (int, *kernel.Error)) int {
	if d.files == nil {
		return d.result(cur, -1, errNoFiles)
	}
	value, err := fn(d.files)
	return d.result(cur, value, err)
}

func (d *Dispatcher) sysOpen(cur *task.Task, regs *gate.Registers) int {
	name, err := d.readString(cur, regs.Args[0])
	if err != nil {
		return d.result(cur, -1, err)
	}

	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return f.Open(cur.PID(), name, int(regs.Args[1]))
	})
}

// ioBuffer validates a user buffer argument and returns a kernel buffer of
// the same size.
func (d *Dispatcher) ioBuffer(addr, size uint32) ([]byte, *kernel.Error) {
	if size > maxIOSize {
		size = maxIOSize
	}
	if err := d.checkUser(addr, int(size)); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (d *Dispatcher) sysRead(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		buf, err := d.ioBuffer(regs.Args[1], regs.Args[2])
		if err != nil {
			return 0, err
		}

		n, err := f.Read(cur.PID(), int(regs.Args[0]), buf)
		if err != nil {
			return 0, err
		}

		if err = d.mem.CopyTo(cur.PageDirectory(), uintptr(regs.Args[1]), buf[:n]); err != nil {
			return 0, err
		}
		return n, nil
	})
}

func (d *Dispatcher) sysWrite(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		buf, err := d.ioBuffer(regs.Args[1], regs.Args[2])
		if err != nil {
			return 0, err
		}

		if err = d.mem.CopyFrom(cur.PageDirectory(), uintptr(regs.Args[1]), buf); err != nil {
			return 0, err
		}
		return f.Write(cur.PID(), int(regs.Args[0]), buf)
	})
}

func (d *Dispatcher) sysClose(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return 0, f.Close(cur.PID(), int(regs.Args[0]))
	})
}

func (d *Dispatcher) sysLseek(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return f.Seek(cur.PID(), int(regs.Args[0]), int(int32(regs.Args[1])), int(regs.Args[2]))
	})
}

func (d *Dispatcher) sysIsatty(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		tty, err := f.IsTTY(cur.PID(), int(regs.Args[0]))
		if err != nil || !tty {
			return 0, err
		}
		return 1, nil
	})
}

// sysFstat fills the user stat buffer with the file type and size words.
func (d *Dispatcher) sysFstat(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		if err := d.checkUser(regs.Args[1], 8); err != nil {
			return 0, err
		}

		st, err := f.Stat(cur.PID(), int(regs.Args[0]))
		if err != nil {
			return 0, err
		}

		var buf [8]byte
		binary.LittleEndian.PutUint32(buf[0:], uint32(st.Type))
		binary.LittleEndian.PutUint32(buf[4:], uint32(st.Size))
		return 0, d.mem.CopyTo(cur.PageDirectory(), uintptr(regs.Args[1]), buf[:])
	})
}

func (d *Dispatcher) sysDup(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return f.Dup(cur.PID(), int(regs.Args[0]))
	})
}

func (d *Dispatcher) sysIoctl(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return f.Ioctl(cur.PID(), int(regs.Args[0]), int(regs.Args[1]), regs.Args[2], regs.Args[3])
	})
}

func (d *Dispatcher) sysOpendir(cur *task.Task, regs *gate.Registers) int {
	name, err := d.readString(cur, regs.Args[0])
	if err != nil {
		return d.result(cur, -1, err)
	}

	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return f.OpenDir(cur.PID(), name)
	})
}

// sysReaddir fills the user dirent with the next entry of an open directory
// and returns 0, or -1 once the listing is exhausted.
func (d *Dispatcher) sysReaddir(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		if err := d.checkUser(regs.Args[1], DirentSize); err != nil {
			return 0, err
		}

		entry, index, ok, err := f.ReadDir(cur.PID(), int(regs.Args[0]))
		if err != nil {
			return 0, err
		}
		if !ok {
			return -1, nil
		}

		var buf [DirentSize]byte
		binary.LittleEndian.PutUint32(buf[0:], uint32(index))
		binary.LittleEndian.PutUint32(buf[4:], uint32(entry.Type))
		binary.LittleEndian.PutUint32(buf[8:], uint32(entry.Size))
		copy(buf[12:DirentSize-1], entry.Name)
		return 0, d.mem.CopyTo(cur.PageDirectory(), uintptr(regs.Args[1]), buf[:])
	})
}

func (d *Dispatcher) sysClosedir(cur *task.Task, regs *gate.Registers) int {
	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return 0, f.CloseDir(cur.PID(), int(regs.Args[0]))
	})
}

func (d *Dispatcher) sysUnlink(cur *task.Task, regs *gate.Registers) int {
	name, err := d.readString(cur, regs.Args[0])
	if err != nil {
		return d.result(cur, -1, err)
	}

	return d.fileCall(cur, func(f Files) (int, *kernel.Error) {
		return 0, f.Unlink(name)
	})
}
