package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"path"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/gate"
	"github.com/zhangkepi/my-os/kernel/mm"
	"github.com/zhangkepi/my-os/kernel/mm/vmm"
	"github.com/zhangkepi/my-os/kernel/vfs"
)

var (
	errBadMagic     = &kernel.Error{Module: "proc", Message: "not an ELF file"}
	errBadELF       = &kernel.Error{Module: "proc", Message: "malformed ELF file"}
	errNotELF32     = &kernel.Error{Module: "proc", Message: "not a 32-bit little-endian ELF executable"}
	errNoSegments   = &kernel.Error{Module: "proc", Message: "no loadable segments above the user base"}
	errArgsTooLarge = &kernel.Error{Module: "proc", Message: "arguments do not fit the argument area"}
	errSegmentRange = &kernel.Error{Module: "proc", Message: "loadable segment overlaps the user stack or leaves the address space"}
)

// image describes a program loaded into a fresh address space.
type image struct {
	entry   uintptr
	heapEnd uintptr
}

// Execve replaces the program of the current task with the ELF executable
// at name. The new program starts at its entry point with argv copied to
// the top of a fresh user stack. Any failure leaves the current program and
// address space intact.
func (m *Manager) Execve(name string, argv []string) *kernel.Error {
	cur, err := m.current()
	if err != nil {
		return err
	}

	dir, err := m.mem.CreateAddressSpace()
	if err != nil {
		return err
	}

	img, err := m.loadProgram(dir, name)
	if err == nil {
		err = m.mem.BackRange(dir, m.stackBottom(), m.cfg.StackTop-m.stackBottom(), vmm.FlagRW|vmm.FlagUserAccessible)
	}

	argBase := m.cfg.StackTop - uintptr(m.cfg.ArgPages)*mm.PageSize
	if err == nil {
		err = m.copyArgs(dir, argBase, argv)
	}

	if err != nil {
		m.mem.Destroy(dir)
		m.log.WithFields(log.Fields{"pid": cur.PID(), "path": name}).WithError(err).Warn("[proc] execve failed")
		return err
	}

	frame := cur.Frame
	frame.EIP = uint32(img.entry)
	frame.ESP = uint32(argBase) - 4*gate.SyscallParamCount
	frame.EAX, frame.EBX, frame.ECX, frame.EDX = 0, 0, 0, 0
	frame.ESI, frame.EDI, frame.EBP = 0, 0, 0
	frame.EFlags = userEFlags

	cur.HeapStart, cur.HeapEnd = img.heapEnd, img.heapEnd
	m.tasks.AttachAddressSpace(cur, dir)
	m.tasks.SetName(cur, path.Base(name))

	m.log.WithFields(log.Fields{"pid": cur.PID(), "path": name, "entry": img.entry}).Info("[proc] execve")
	return nil
}

// loadProgram validates the ELF file at name and loads its PT_LOAD
// segments into dir. Segments below the user base are ignored; segments
// reaching into the user stack are rejected.
func (m *Manager) loadProgram(dir vmm.PageDirectory, name string) (image, *kernel.Error) {
	data, err := vfs.ReadFile(m.fs, name)
	if err != nil {
		return image{}, err
	}

	if len(data) < len(elf.ELFMAG) || string(data[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return image{}, errBadMagic
	}

	f, perr := elf.NewFile(bytes.NewReader(data))
	if perr != nil {
		return image{}, errBadELF
	}

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB {
		return image{}, errNotELF32
	}

	var img image
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Vaddr < uint64(m.mem.UserBase()) {
			continue
		}

		if err = m.checkSegment(prog); err != nil {
			return image{}, err
		}

		if err = m.loadSegment(dir, prog); err != nil {
			return image{}, err
		}

		if end := mm.AlignUp(uintptr(prog.Vaddr + prog.Memsz)); end > img.heapEnd {
			img.heapEnd = end
		}
	}

	if img.heapEnd == 0 {
		return image{}, errNoSegments
	}

	img.entry = uintptr(f.Entry)
	return img, nil
}

// checkSegment ensures prog lies between the user base and the bottom of
// the user stack.
func (m *Manager) checkSegment(prog *elf.Prog) *kernel.Error {
	if prog.Filesz > prog.Memsz {
		return errBadELF
	}

	end := prog.Vaddr + prog.Memsz
	if end < prog.Vaddr || prog.Vaddr >= uint64(m.stackBottom()) || end > uint64(m.stackBottom()) {
		return errSegmentRange
	}

	return nil
}

// loadSegment backs the pages of prog with memory and copies the file
// contents. Pages already mapped by a previous segment are reused.
func (m *Manager) loadSegment(dir vmm.PageDirectory, prog *elf.Prog) *kernel.Error {
	var (
		vaddr = uintptr(prog.Vaddr)
		start = mm.AlignDown(vaddr)
		end   = mm.AlignUp(vaddr + uintptr(prog.Memsz))
	)

	for page := start; page < end; page += mm.PageSize {
		if _, err := m.mem.Translate(dir, page); err == nil {
			continue
		}

		if err := m.mem.BackRange(dir, page, mm.PageSize, vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			return err
		}
	}

	if prog.Filesz == 0 {
		return nil
	}

	contents := make([]byte, prog.Filesz)
	if _, err := io.ReadFull(prog.Open(), contents); err != nil {
		return errBadELF
	}

	return m.mem.CopyTo(dir, vaddr, contents)
}

// copyArgs writes the argument block at base: argc, a pointer to the argv
// table, the NULL-terminated argv table itself and the strings it points to.
func (m *Manager) copyArgs(dir vmm.PageDirectory, base uintptr, argv []string) *kernel.Error {
	var (
		tableAddr = base + 8
		strAddr   = tableAddr + uintptr(4*(len(argv)+1))
		block     bytes.Buffer
		strs      bytes.Buffer
	)

	put := func(v uint32) {
		_ = binary.Write(&block, binary.LittleEndian, v)
	}

	put(uint32(len(argv)))
	put(uint32(tableAddr))
	for _, arg := range argv {
		put(uint32(strAddr + uintptr(strs.Len())))
		strs.WriteString(arg)
		strs.WriteByte(0)
	}
	put(0)
	block.Write(strs.Bytes())

	if uintptr(block.Len()) > m.cfg.StackTop-base {
		return errArgsTooLarge
	}

	return m.mem.CopyTo(dir, base, block.Bytes())
}
