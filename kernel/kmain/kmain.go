// Package kmain assembles the kernel components in boot order.
package kmain

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/bootinfo"
	"github.com/zhangkepi/my-os/device"
	"github.com/zhangkepi/my-os/device/tty"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/config"
	"github.com/zhangkepi/my-os/kernel/cpu"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/irq"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/mm"
	"github.com/zhangkepi/my-os/kernel/mm/pmm"
	"github.com/zhangkepi/my-os/kernel/mm/vmm"
	"github.com/zhangkepi/my-os/kernel/proc"
	ksync "github.com/zhangkepi/my-os/kernel/sync"
	"github.com/zhangkepi/my-os/kernel/syscall"
	"github.com/zhangkepi/my-os/kernel/task"
	"github.com/zhangkepi/my-os/kernel/vfs"
)

// DevMount is the mount point of the device filesystem.
const DevMount = "/dev"

var (
	errNoRAM       = &kernel.Error{Module: "kmain", Message: "no usable memory reported by the boot loader"}
	errRAMBacking  = &kernel.Error{Module: "kmain", Message: "unable to reserve physical memory"}
	errNoFirstTask = &kernel.Error{Module: "kmain", Message: "boot image carries no first task"}
	errKernelFault = &kernel.Error{Module: "kmain", Message: "fault without a user task to blame"}
)

// Kernel holds the components of a booted kernel.
type Kernel struct {
	Config   config.Config
	RAM      *mm.RAM
	CPU      *cpu.CPU
	Gate     *gate.Gate
	IRQ      *irq.Controller
	GDT      *gate.DescriptorTable
	Tasks    *task.Manager
	Lock     *ksync.Mutex
	Frames   *pmm.Allocator
	Memory   *vmm.Manager
	Devices  *vfs.MemFS
	Files    *vfs.Files
	Procs    *proc.Manager
	Syscalls *syscall.Dispatcher

	// Drivers lists the initialized device drivers in probe order.
	Drivers []device.Driver

	console *tty.Console
	log     *log.Entry
}

// Kmain boots the kernel described by info. Programs are loaded from fs,
// which becomes the root of the file namespace; device nodes are mounted
// under DevMount. On return the first task is running.
func Kmain(info *bootinfo.Info, fs vfs.FileSystem) (_ *Kernel, err *kernel.Error) {
	cfg, err := config.FromCmdLine(info.GetBootCmdLine())
	if err != nil {
		return nil, err
	}
	kfmt.Log.SetLevel(cfg.LogLevel)

	if len(info.FirstTask) == 0 {
		return nil, errNoFirstTask
	}

	ramSize := physicalExtent(info)
	if ramSize == 0 {
		return nil, errNoRAM
	}

	ram, rerr := mm.NewRAM(ramSize)
	if rerr != nil {
		kfmt.Module("kmain").WithError(rerr).Error("[kmain] unable to allocate RAM")
		return nil, errRAMBacking
	}

	k := &Kernel{Config: cfg, RAM: ram, log: kfmt.Module("kmain")}
	defer func() {
		if err != nil {
			_ = k.Release()
		}
	}()

	k.CPU = cpu.New()
	k.Gate = gate.New(k.CPU)
	k.IRQ = irq.NewController(k.CPU, k.Gate)
	k.GDT = gate.NewDescriptorTable(cfg.GDTSize)
	k.Tasks = task.NewManager(cfg, k.CPU, k.IRQ, k.GDT)

	k.Lock = ksync.NewMutex(k.Tasks)
	k.GDT.SetLocker(k.Lock)

	if k.Frames, err = pmm.Init(ram, info, k.Lock); err != nil {
		return nil, err
	}

	k.Memory = vmm.NewManager(ram, k.Frames, cfg.TaskBase)
	if err = k.Memory.BuildKernelDirectory(info.Layout); err != nil {
		return nil, err
	}
	k.Memory.KernelDirectory().Activate(k.CPU)
	vmm.InstallFaultHandlers(k.Gate, k.CPU, k.userFault)

	if err = k.Tasks.Init(k.Memory, info.Layout.TextStart); err != nil {
		return nil, err
	}

	if fs == nil {
		fs = vfs.NewMemFS(k.Lock)
	}
	k.Devices = vfs.NewMemFS(k.Lock)
	k.probeDrivers(device.DriverList())

	mounts := vfs.NewMounts(fs)
	if err = mounts.Mount(DevMount, k.Devices); err != nil {
		return nil, err
	}

	k.Files = vfs.NewFiles(mounts, k.Lock)
	k.Procs = proc.NewManager(cfg, k.Tasks, k.Memory, mounts, k.Files)
	k.Syscalls = syscall.NewDispatcher(k.Tasks, k.Procs, k.Memory, k.Files)
	k.Syscalls.Install(k.Gate)
	k.Gate.HandleInterrupt(gate.TimerVector, k.timerHandler)

	if err = k.Tasks.InitFirstTask(info.FirstTask, cfg.TaskBase); err != nil {
		return nil, err
	}
	k.CPU.EnableInterrupts()

	k.log.WithFields(log.Fields{
		"ram":        ramSize,
		"free_pages": k.Frames.FreeCount(),
		"drivers":    len(k.Drivers),
	}).Info("[kmain] kernel ready")

	return k, nil
}

// physicalExtent returns the size of the physical address space needed to
// back every available memory region.
func physicalExtent(info *bootinfo.Info) uintptr {
	var end uint64
	info.VisitMemRegions(func(entry *bootinfo.MemoryMapEntry) bool {
		if entry.Type == bootinfo.MemAvailable && entry.PhysAddress+entry.Length > end {
			end = entry.PhysAddress + entry.Length
		}
		return true
	})

	return mm.AlignDown(uintptr(end))
}

// probeDrivers executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func (k *Kernel) probeDrivers(drivers device.DriverInfoList) {
	sort.Sort(drivers)

	for _, info := range drivers {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		major, minor, patch := drv.DriverVersion()
		w := kfmt.NewPrefixWriter(kfmt.GetOutputSink(), "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)

		if err := drv.DriverInit(w); err != nil {
			fmt.Fprintf(w, "init failed: %s\n", err.Message)
			continue
		}

		fmt.Fprintf(w, "initialized\n")
		k.onDriverInit(drv)
		k.Drivers = append(k.Drivers, drv)
	}
}

// onDriverInit publishes character devices under the device mount and makes
// the first console the kernel log sink.
func (k *Kernel) onDriverInit(drv device.Driver) {
	if dev, ok := drv.(vfs.Device); ok {
		if err := k.Devices.AddDevice("/"+dev.DriverName(), dev); err != nil {
			k.log.WithField("driver", dev.DriverName()).WithError(err).Warn("[kmain] unable to publish device")
		}
	}

	if cons, ok := drv.(*tty.Console); ok && k.console == nil {
		k.console = cons
		kfmt.SetOutputSink(cons.LogWriter())
	}
}

// Console returns the active console or nil if none was detected.
func (k *Kernel) Console() *tty.Console {
	return k.console
}

func (k *Kernel) timerHandler(_ *gate.Registers) {
	k.Tasks.Tick()
}

// userFault terminates the task that raised a fault from user mode.
func (k *Kernel) userFault(regs *gate.Registers, err *kernel.Error) {
	cur := k.Tasks.Current()
	if cur == nil || cur == k.Tasks.Idle() {
		kfmt.Panic(errKernelFault)
		return
	}

	k.log.WithFields(log.Fields{"pid": cur.PID(), "task": cur.Name(), "eip": regs.EIP}).WithError(err).Warn("[kmain] killing faulting task")
	k.Procs.Kill(cur, -1)
}

// Tick raises the timer interrupt line once.
func (k *Kernel) Tick() {
	k.IRQ.Raise(gate.TimerVector)
}

// Trap enters the kernel through the syscall gate on behalf of the running
// task. The syscall number is taken from regs.Info and its result is stored
// in regs.EAX. If the caller still owns the CPU afterwards it resumes from
// the (possibly rewritten) frame.
func (k *Kernel) Trap(regs *gate.Registers) {
	cur := k.Tasks.Current()
	k.Gate.Dispatch(gate.SyscallVector, regs)

	if k.Tasks.Current() == cur {
		regs.Restore(k.CPU.Registers())
	}
}

// Release detaches the console from the kernel log and returns the physical
// memory to the host.
func (k *Kernel) Release() error {
	if k.console != nil {
		kfmt.SetOutputSink(nil)
		k.console = nil
	}
	return k.RAM.Release()
}
