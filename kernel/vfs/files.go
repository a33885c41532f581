package vfs

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/kfmt"
)

// MaxOpenFiles is the size of the descriptor table of a task.
const MaxOpenFiles = 128

type openFile struct {
	file  File
	flags int
	refs  int
}

type openDir struct {
	entries []DirEntry
	next    int
}

// Files keeps the open files and directories of every task, keyed by PID.
// Descriptors that refer to the same open file (dup, fork) share its offset.
type Files struct {
	mu  sync.Locker
	fs  FileSystem
	log *log.Entry

	tables map[int]*[MaxOpenFiles]*openFile
	dirs   map[int]map[int]*openDir
}

// NewFiles returns descriptor tables resolving paths through fs. All
// operations are serialized by lock when it is not nil.
func NewFiles(fs FileSystem, lock sync.Locker) *Files {
	return &Files{
		mu:     lock,
		fs:     fs,
		log:    kfmt.Module("vfs"),
		tables: make(map[int]*[MaxOpenFiles]*openFile),
		dirs:   make(map[int]map[int]*openDir),
	}
}

func (f *Files) lock() {
	if f.mu != nil {
		f.mu.Lock()
	}
}

func (f *Files) unlock() {
	if f.mu != nil {
		f.mu.Unlock()
	}
}

// FileSystem returns the filesystem used to resolve paths.
func (f *Files) FileSystem() FileSystem {
	return f.fs
}

func (f *Files) table(pid int) *[MaxOpenFiles]*openFile {
	tbl, ok := f.tables[pid]
	if !ok {
		tbl = new([MaxOpenFiles]*openFile)
		f.tables[pid] = tbl
	}
	return tbl
}

func (f *Files) lookup(pid, fd int) (*openFile, *kernel.Error) {
	if fd < 0 || fd >= MaxOpenFiles {
		return nil, ErrBadFD
	}

	tbl, ok := f.tables[pid]
	if !ok || tbl[fd] == nil {
		return nil, ErrBadFD
	}

	return tbl[fd], nil
}

func (f *Files) install(pid int, of *openFile) (int, *kernel.Error) {
	tbl := f.table(pid)
	for fd := range tbl {
		if tbl[fd] == nil {
			tbl[fd] = of
			return fd, nil
		}
	}

	return -1, ErrTooMany
}

// Open opens name for the task with the given PID and returns the lowest
// free descriptor.
func (f *Files) Open(pid int, name string, flags int) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	file, err := f.fs.Open(name, flags)
	if err != nil {
		return -1, err
	}

	fd, err := f.install(pid, &openFile{file: file, flags: flags, refs: 1})
	if err != nil {
		file.Close()
		return -1, err
	}

	return fd, nil
}

// Read reads from fd into buf.
func (f *Files) Read(pid, fd int, buf []byte) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return -1, err
	}

	if of.flags&accessMask == OWrOnly {
		return -1, ErrBadMode
	}

	return of.file.Read(buf)
}

// Write writes buf to fd.
func (f *Files) Write(pid, fd int, buf []byte) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return -1, err
	}

	if of.flags&accessMask == ORdOnly {
		return -1, ErrBadMode
	}

	return of.file.Write(buf)
}

// Seek moves the offset of fd.
func (f *Files) Seek(pid, fd, offset, whence int) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return -1, err
	}

	return of.file.Seek(offset, whence)
}

// Close releases fd. The open file is closed when its last descriptor goes
// away.
func (f *Files) Close(pid, fd int) *kernel.Error {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return err
	}

	f.tables[pid][fd] = nil
	return f.release(of)
}

func (f *Files) release(of *openFile) *kernel.Error {
	kfmt.Assert(of.refs > 0, "open file with %d references", of.refs)
	if of.refs--; of.refs == 0 {
		return of.file.Close()
	}
	return nil
}

// IsTTY reports whether fd refers to a terminal.
func (f *Files) IsTTY(pid, fd int) (bool, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return false, err
	}

	return of.file.Stat().Type == TypeTTY, nil
}

// Stat describes the file behind fd.
func (f *Files) Stat(pid, fd int) (Stat, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return Stat{}, err
	}

	return of.file.Stat(), nil
}

// Dup returns a new descriptor sharing the open file of fd.
func (f *Files) Dup(pid, fd int) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return -1, err
	}

	newFD, err := f.install(pid, of)
	if err != nil {
		return -1, err
	}

	of.refs++
	return newFD, nil
}

// Ioctl sends a device specific command to fd.
func (f *Files) Ioctl(pid, fd, cmd int, arg0, arg1 uint32) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	of, err := f.lookup(pid, fd)
	if err != nil {
		return -1, err
	}

	return of.file.Ioctl(cmd, arg0, arg1)
}

// OpenDir snapshots the entries of the directory name and returns a handle
// for ReadDir.
func (f *Files) OpenDir(pid int, name string) (int, *kernel.Error) {
	f.lock()
	defer f.unlock()

	entries, err := f.fs.ReadDir(name)
	if err != nil {
		return -1, err
	}

	dirs, ok := f.dirs[pid]
	if !ok {
		dirs = make(map[int]*openDir)
		f.dirs[pid] = dirs
	}

	handle := 0
	for dirs[handle] != nil {
		handle++
	}

	if handle >= MaxOpenFiles {
		return -1, ErrTooMany
	}

	dirs[handle] = &openDir{entries: entries}
	return handle, nil
}

// ReadDir returns the next entry of an open directory. ok is false once all
// entries have been returned.
func (f *Files) ReadDir(pid, handle int) (entry DirEntry, index int, ok bool, err *kernel.Error) {
	f.lock()
	defer f.unlock()

	dir := f.dirs[pid][handle]
	if dir == nil {
		return DirEntry{}, 0, false, ErrBadFD
	}

	if dir.next >= len(dir.entries) {
		return DirEntry{}, dir.next, false, nil
	}

	index = dir.next
	dir.next++
	return dir.entries[index], index, true, nil
}

// CloseDir releases a directory handle.
func (f *Files) CloseDir(pid, handle int) *kernel.Error {
	f.lock()
	defer f.unlock()

	if f.dirs[pid][handle] == nil {
		return ErrBadFD
	}

	delete(f.dirs[pid], handle)
	return nil
}

// Unlink removes name.
func (f *Files) Unlink(name string) *kernel.Error {
	f.lock()
	defer f.unlock()

	return f.fs.Unlink(name)
}

// Fork gives child a copy of the descriptor table of parent. Both tables
// share the open files.
func (f *Files) Fork(parent, child int) {
	f.lock()
	defer f.unlock()

	src, ok := f.tables[parent]
	if !ok {
		return
	}

	dst := f.table(child)
	for fd, of := range src {
		if of != nil {
			of.refs++
			dst[fd] = of
		}
	}
}

// Release closes every descriptor and directory handle of pid.
func (f *Files) Release(pid int) {
	f.lock()
	defer f.unlock()

	if tbl, ok := f.tables[pid]; ok {
		for fd, of := range tbl {
			if of == nil {
				continue
			}
			if err := f.release(of); err != nil {
				f.log.WithFields(log.Fields{"pid": pid, "fd": fd}).WithError(err).Warn("[vfs] close failed")
			}
		}
		delete(f.tables, pid)
	}

	delete(f.dirs, pid)
}

// OpenCount returns the number of descriptors open by pid.
func (f *Files) OpenCount(pid int) int {
	f.lock()
	defer f.unlock()

	var count int
	if tbl, ok := f.tables[pid]; ok {
		for _, of := range tbl {
			if of != nil {
				count++
			}
		}
	}
	return count
}
