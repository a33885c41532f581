// Command diyos boots the kernel on the simulated machine and runs the timer
// for a number of ticks, logging every task switch.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/bootinfo"
	"github.com/zhangkepi/my-os/device/tty"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/kmain"
	"github.com/zhangkepi/my-os/kernel/syscall"
	"github.com/zhangkepi/my-os/kernel/vfs"
)

// idleLoop is the first task image: jmp $.
var idleLoop = []byte{0xeb, 0xfe}

// Offsets inside the first task image area used to pass the init program
// path and arguments to execve.
const (
	pathOffset = 0x800
	argvOffset = 0x900
	strOffset  = 0xa00
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[diyos] error: %s\n", err.Error())
	os.Exit(1)
}

func runTool() error {
	ramMB := flag.Uint("ram", 32, "the amount of simulated RAM in MB")
	ticks := flag.Int("ticks", 100, "the number of timer ticks to run")
	root := flag.String("root", "", "a host directory to mount as the root filesystem")
	initPath := flag.String("init", "", "a program to execve into the first task")
	cmdLine := flag.String("cmdline", "", "the kernel command line")
	history := flag.Bool("history", false, "keep the kernel log off the console and print the retained log on exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "diyos: boot the kernel on a simulated x86 machine\n\n")
		fmt.Fprint(os.Stderr, "Usage: diyos [options] [init args...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *ramMB < 2 {
		return errors.New("at least 2MB of RAM are required")
	}

	info := &bootinfo.Info{
		Regions: []bootinfo.MemoryMapEntry{
			{PhysAddress: 0, Length: 0x9fc00, Type: bootinfo.MemAvailable},
			{PhysAddress: 0x9fc00, Length: 0x60400, Type: bootinfo.MemReserved},
			{PhysAddress: 0x100000, Length: uint64(*ramMB-1) << 20, Type: bootinfo.MemAvailable},
		},
		Layout:    bootinfo.DefaultLayout(),
		CmdLine:   *cmdLine,
		FirstTask: idleLoop,
	}

	if *history {
		tty.ConsoleOutput = io.Discard
		defer printHistory()
	}

	var fs vfs.FileSystem
	if *root != "" {
		fs = vfs.NewHostFS(*root)
	}

	k, kerr := kmain.Kmain(info, fs)
	if kerr != nil {
		return kerr
	}
	defer func() { _ = k.Release() }()

	if *initPath != "" {
		if err := execInit(k, *initPath, append([]string{*initPath}, flag.Args()...)); err != nil {
			return err
		}
	}

	// fork once so that the timer has something to rotate
	regs := gate.Snapshot(k.CPU.Registers(), syscall.SysFork)
	k.Trap(regs)
	if int32(regs.EAX) < 0 {
		return errors.New("fork failed")
	}

	runTimer(k, *ticks)
	return nil
}

// execInit stages the path and arguments in the first task's memory and
// issues execve on its behalf.
func execInit(k *kmain.Kernel, path string, argv []string) error {
	first := k.Tasks.First()
	dir := first.PageDirectory()
	base := uint32(k.Config.TaskBase)

	if err := k.Memory.CopyTo(dir, uintptr(base+pathOffset), append([]byte(path), 0)); err != nil {
		return err
	}

	table := make([]byte, 4*(len(argv)+1))
	strAddr := base + strOffset
	for i, arg := range argv {
		if err := k.Memory.CopyTo(dir, uintptr(strAddr), append([]byte(arg), 0)); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(table[4*i:], strAddr)
		strAddr += uint32(len(arg) + 1)
	}

	if err := k.Memory.CopyTo(dir, uintptr(base+argvOffset), table); err != nil {
		return err
	}

	regs := gate.Snapshot(k.CPU.Registers(), syscall.SysExecve)
	regs.Args[0], regs.Args[1] = base+pathOffset, base+argvOffset
	k.Trap(regs)
	if int32(regs.EAX) < 0 {
		return fmt.Errorf("unable to execute %q", path)
	}

	return nil
}

// printHistory writes the kernel log records still held in memory to stdout.
func printHistory() {
	if n := kfmt.DroppedRecords(); n > 0 {
		fmt.Fprintf(os.Stdout, "[diyos] %d older log records were dropped\n", n)
	}

	if _, err := kfmt.WriteHistory(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "[diyos] unable to print the kernel log: %s\n", err)
	}
}

// runTimer raises the timer interrupt ticks times and logs the task that
// owns the CPU whenever it changes.
func runTimer(k *kmain.Kernel, ticks int) {
	logger := kfmt.Module("diyos")

	last := -1
	for tick := 0; tick < ticks; tick++ {
		k.Tick()

		cur := k.Tasks.Current()
		if cur.PID() == last {
			continue
		}
		last = cur.PID()

		logger.WithFields(log.Fields{"tick": tick, "pid": cur.PID(), "task": cur.Name()}).Info("[diyos] switch")
	}
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
