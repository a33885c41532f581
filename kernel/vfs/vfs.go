// Package vfs routes the file and directory syscalls of a task to the
// mounted filesystems and keeps the per-task descriptor tables.
package vfs

import (
	"path"
	"strings"

	"github.com/zhangkepi/my-os/kernel"
)

// Errors reported by the filesystem layer.
var (
	ErrNotFound    = &kernel.Error{Module: "vfs", Message: "no such file or directory"}
	ErrIsDir       = &kernel.Error{Module: "vfs", Message: "is a directory"}
	ErrNotDir      = &kernel.Error{Module: "vfs", Message: "not a directory"}
	ErrReadOnly    = &kernel.Error{Module: "vfs", Message: "read-only filesystem"}
	ErrBadFD       = &kernel.Error{Module: "vfs", Message: "bad file descriptor"}
	ErrBadMode     = &kernel.Error{Module: "vfs", Message: "file not opened for this access mode"}
	ErrTooMany     = &kernel.Error{Module: "vfs", Message: "too many open files"}
	ErrInvalidSeek = &kernel.Error{Module: "vfs", Message: "invalid seek"}
	ErrUnsupported = &kernel.Error{Module: "vfs", Message: "operation not supported"}
	ErrBusy        = &kernel.Error{Module: "vfs", Message: "mount point already in use"}
)

// Open flags. The low two bits select the access mode.
const (
	ORdOnly = 0
	OWrOnly = 1
	ORdWr   = 2
	OCreate = 0x200
	OTrunc  = 0x400

	accessMask = 3
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// FileType identifies the kind of object behind a descriptor.
type FileType uint8

// File types.
const (
	TypeFile FileType = iota
	TypeDir
	TypeTTY
	TypeDevice
)

// Stat describes an open file.
type Stat struct {
	Type FileType
	Size int
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name string
	Type FileType
	Size int
}

// File is an open file of a mounted filesystem.
type File interface {
	Read(p []byte) (int, *kernel.Error)
	Write(p []byte) (int, *kernel.Error)
	Seek(offset int, whence int) (int, *kernel.Error)
	Stat() Stat
	Ioctl(cmd int, arg0, arg1 uint32) (int, *kernel.Error)
	Close() *kernel.Error
}

// FileSystem is implemented by mountable filesystems. Paths are relative to
// the mount point and use forward slashes.
type FileSystem interface {
	Open(name string, flags int) (File, *kernel.Error)
	ReadDir(name string) ([]DirEntry, *kernel.Error)
	Unlink(name string) *kernel.Error
}

type mount struct {
	point string
	fs    FileSystem
}

// Mounts resolves absolute paths to the filesystem mounted on the longest
// matching mount point. Paths with no matching mount point go to the root
// filesystem.
type Mounts struct {
	root   FileSystem
	mounts []mount
}

// NewMounts returns a mount table with root as the fallback filesystem.
func NewMounts(root FileSystem) *Mounts {
	return &Mounts{root: root}
}

// Mount attaches fs at point.
func (m *Mounts) Mount(point string, fs FileSystem) *kernel.Error {
	point = path.Clean("/" + point)
	for _, mnt := range m.mounts {
		if mnt.point == point {
			return ErrBusy
		}
	}

	m.mounts = append(m.mounts, mount{point: point, fs: fs})
	return nil
}

// Resolve returns the filesystem serving name and the path of name inside
// that filesystem.
func (m *Mounts) Resolve(name string) (FileSystem, string) {
	name = path.Clean("/" + name)

	var (
		best     FileSystem
		bestLen  = -1
		relative string
	)

	for _, mnt := range m.mounts {
		if name != mnt.point && !strings.HasPrefix(name, mnt.point+"/") {
			continue
		}
		if len(mnt.point) > bestLen {
			best, bestLen = mnt.fs, len(mnt.point)
			relative = strings.TrimPrefix(strings.TrimPrefix(name, mnt.point), "/")
		}
	}

	if best == nil {
		return m.root, strings.TrimPrefix(name, "/")
	}

	return best, relative
}

// Open implements FileSystem.
func (m *Mounts) Open(name string, flags int) (File, *kernel.Error) {
	fs, rel := m.Resolve(name)
	if fs == nil {
		return nil, ErrNotFound
	}
	return fs.Open(rel, flags)
}

// ReadDir implements FileSystem.
func (m *Mounts) ReadDir(name string) ([]DirEntry, *kernel.Error) {
	fs, rel := m.Resolve(name)
	if fs == nil {
		return nil, ErrNotFound
	}
	return fs.ReadDir(rel)
}

// Unlink implements FileSystem.
func (m *Mounts) Unlink(name string) *kernel.Error {
	fs, rel := m.Resolve(name)
	if fs == nil {
		return ErrNotFound
	}
	return fs.Unlink(rel)
}

// ReadFile reads the whole content of name.
func ReadFile(fs FileSystem, name string) ([]byte, *kernel.Error) {
	f, err := fs.Open(name, ORdOnly)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st := f.Stat()
	if st.Type == TypeDir {
		return nil, ErrIsDir
	}

	data := make([]byte, st.Size)
	for off := 0; off < len(data); {
		n, err := f.Read(data[off:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return data[:off], nil
		}
		off += n
	}

	return data, nil
}

// seekOffset computes the new offset of a seek request.
func seekOffset(cur, size, offset, whence int) (int, *kernel.Error) {
	var next int
	switch whence {
	case SeekSet:
		next = offset
	case SeekCur:
		next = cur + offset
	case SeekEnd:
		next = size + offset
	default:
		return cur, ErrInvalidSeek
	}

	if next < 0 {
		return cur, ErrInvalidSeek
	}

	return next, nil
}
