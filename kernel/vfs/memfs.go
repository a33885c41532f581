package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/zhangkepi/my-os/kernel"
)

// Device is a character device exposed by a MemFS.
type Device interface {
	// DriverName returns the name of the device driver.
	DriverName() string

	Read(p []byte) (int, *kernel.Error)
	Write(p []byte) (int, *kernel.Error)
	Ioctl(cmd int, arg0, arg1 uint32) (int, *kernel.Error)
	IsTTY() bool
}

type memNode struct {
	dir  bool
	data []byte
	dev  Device
}

func (n *memNode) fileType() FileType {
	switch {
	case n.dir:
		return TypeDir
	case n.dev != nil && n.dev.IsTTY():
		return TypeTTY
	case n.dev != nil:
		return TypeDevice
	default:
		return TypeFile
	}
}

// MemFS is a filesystem kept entirely in kernel memory. It holds regular
// files, directories and devices.
type MemFS struct {
	mu    sync.Locker
	nodes map[string]*memNode
}

// NewMemFS returns an empty filesystem. Operations are serialized by lock,
// which may be nil when the filesystem is only used by one task.
func NewMemFS(lock sync.Locker) *MemFS {
	return &MemFS{
		mu:    lock,
		nodes: map[string]*memNode{"": {dir: true}},
	}
}

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (fs *MemFS) lock() {
	if fs.mu != nil {
		fs.mu.Lock()
	}
}

func (fs *MemFS) unlock() {
	if fs.mu != nil {
		fs.mu.Unlock()
	}
}

// mkdirAll creates name and its missing parents. The caller holds the lock.
func (fs *MemFS) mkdirAll(name string) *kernel.Error {
	if name == "" {
		return nil
	}

	if n, ok := fs.nodes[name]; ok {
		if !n.dir {
			return ErrNotDir
		}
		return nil
	}

	if err := fs.mkdirAll(parentOf(name)); err != nil {
		return err
	}

	fs.nodes[name] = &memNode{dir: true}
	return nil
}

func parentOf(name string) string {
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		return name[:idx]
	}
	return ""
}

// WriteFile creates or replaces the regular file name.
func (fs *MemFS) WriteFile(name string, data []byte) *kernel.Error {
	fs.lock()
	defer fs.unlock()

	name = cleanName(name)
	if n, ok := fs.nodes[name]; ok && n.dir {
		return ErrIsDir
	}

	if err := fs.mkdirAll(parentOf(name)); err != nil {
		return err
	}

	fs.nodes[name] = &memNode{data: append([]byte(nil), data...)}
	return nil
}

// AddDevice exposes dev as name.
func (fs *MemFS) AddDevice(name string, dev Device) *kernel.Error {
	fs.lock()
	defer fs.unlock()

	name = cleanName(name)
	if _, ok := fs.nodes[name]; ok {
		return ErrBusy
	}

	if err := fs.mkdirAll(parentOf(name)); err != nil {
		return err
	}

	fs.nodes[name] = &memNode{dev: dev}
	return nil
}

// Open implements FileSystem.
func (fs *MemFS) Open(name string, flags int) (File, *kernel.Error) {
	fs.lock()
	defer fs.unlock()

	name = cleanName(name)
	n, ok := fs.nodes[name]
	switch {
	case !ok && flags&OCreate == 0:
		return nil, ErrNotFound
	case !ok:
		if err := fs.mkdirAll(parentOf(name)); err != nil {
			return nil, err
		}
		n = &memNode{}
		fs.nodes[name] = n
	case n.dir && flags&accessMask != ORdOnly:
		return nil, ErrIsDir
	}

	if flags&OTrunc != 0 && n.dev == nil && !n.dir {
		n.data = n.data[:0]
	}

	return &memFile{fs: fs, node: n, flags: flags}, nil
}

// ReadDir implements FileSystem.
func (fs *MemFS) ReadDir(name string) ([]DirEntry, *kernel.Error) {
	fs.lock()
	defer fs.unlock()

	name = cleanName(name)
	n, ok := fs.nodes[name]
	if !ok {
		return nil, ErrNotFound
	}
	if !n.dir {
		return nil, ErrNotDir
	}

	var entries []DirEntry
	for child, node := range fs.nodes {
		if child == "" || child == name || parentOf(child) != name {
			continue
		}

		entries = append(entries, DirEntry{
			Name: path.Base(child),
			Type: node.fileType(),
			Size: len(node.data),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Unlink implements FileSystem. Directories can only be removed once empty.
func (fs *MemFS) Unlink(name string) *kernel.Error {
	fs.lock()
	defer fs.unlock()

	name = cleanName(name)
	n, ok := fs.nodes[name]
	if !ok || name == "" {
		return ErrNotFound
	}

	if n.dir {
		for child := range fs.nodes {
			if child != name && parentOf(child) == name {
				return ErrBusy
			}
		}
	}

	delete(fs.nodes, name)
	return nil
}

type memFile struct {
	fs    *MemFS
	node  *memNode
	flags int
	off   int
}

func (f *memFile) Read(p []byte) (int, *kernel.Error) {
	if f.flags&accessMask == OWrOnly {
		return 0, ErrBadMode
	}

	if dev := f.node.dev; dev != nil {
		return dev.Read(p)
	}

	if f.node.dir {
		return 0, ErrIsDir
	}

	f.fs.lock()
	defer f.fs.unlock()

	if f.off >= len(f.node.data) {
		return 0, nil
	}

	n := copy(p, f.node.data[f.off:])
	f.off += n
	return n, nil
}

func (f *memFile) Write(p []byte) (int, *kernel.Error) {
	if f.flags&accessMask == ORdOnly {
		return 0, ErrBadMode
	}

	if dev := f.node.dev; dev != nil {
		return dev.Write(p)
	}

	f.fs.lock()
	defer f.fs.unlock()

	if end := f.off + len(p); end > len(f.node.data) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}

	n := copy(f.node.data[f.off:], p)
	f.off += n
	return n, nil
}

func (f *memFile) Seek(offset, whence int) (int, *kernel.Error) {
	if f.node.dev != nil {
		return 0, ErrInvalidSeek
	}

	next, err := seekOffset(f.off, len(f.node.data), offset, whence)
	if err != nil {
		return f.off, err
	}

	f.off = next
	return next, nil
}

func (f *memFile) Stat() Stat {
	return Stat{Type: f.node.fileType(), Size: len(f.node.data)}
}

func (f *memFile) Ioctl(cmd int, arg0, arg1 uint32) (int, *kernel.Error) {
	if f.node.dev == nil {
		return -1, ErrUnsupported
	}
	return f.node.dev.Ioctl(cmd, arg0, arg1)
}

func (f *memFile) Close() *kernel.Error { return nil }
