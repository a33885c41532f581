package vfs

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/zhangkepi/my-os/kernel"
	"golang.org/x/exp/mmap"
)

// HostFS exposes a host directory as a read-only filesystem. Files are
// memory mapped when opened so loading a program does not copy it twice.
type HostFS struct {
	root string
}

// NewHostFS returns a filesystem rooted at the host directory root.
func NewHostFS(root string) *HostFS {
	return &HostFS{root: root}
}

func (fs *HostFS) hostPath(name string) string {
	return filepath.Join(fs.root, filepath.FromSlash(cleanName(name)))
}

// Open implements FileSystem. Only read-only access is supported.
func (fs *HostFS) Open(name string, flags int) (File, *kernel.Error) {
	if flags&accessMask != ORdOnly || flags&(OCreate|OTrunc) != 0 {
		return nil, ErrReadOnly
	}

	hostPath := fs.hostPath(name)
	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, ErrNotFound
	}
	if info.IsDir() {
		return &hostDir{}, nil
	}

	r, err := mmap.Open(hostPath)
	if err != nil {
		return nil, &kernel.Error{Module: "hostfs", Message: err.Error()}
	}

	return &hostFile{r: r}, nil
}

// ReadDir implements FileSystem.
func (fs *HostFS) ReadDir(name string) ([]DirEntry, *kernel.Error) {
	infos, err := os.ReadDir(fs.hostPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, ErrNotDir
	}

	entries := make([]DirEntry, 0, len(infos))
	for _, de := range infos {
		entry := DirEntry{Name: de.Name(), Type: TypeFile}
		if de.IsDir() {
			entry.Type = TypeDir
		} else if info, err := de.Info(); err == nil {
			entry.Size = int(info.Size())
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Unlink implements FileSystem.
func (fs *HostFS) Unlink(string) *kernel.Error {
	return ErrReadOnly
}

type hostFile struct {
	r   *mmap.ReaderAt
	off int
}

func (f *hostFile) Read(p []byte) (int, *kernel.Error) {
	if f.off >= f.r.Len() {
		return 0, nil
	}

	n, err := f.r.ReadAt(p, int64(f.off))
	if n == 0 && err != nil {
		return 0, &kernel.Error{Module: "hostfs", Message: err.Error()}
	}

	f.off += n
	return n, nil
}

func (f *hostFile) Write([]byte) (int, *kernel.Error) {
	return 0, ErrReadOnly
}

func (f *hostFile) Seek(offset, whence int) (int, *kernel.Error) {
	next, err := seekOffset(f.off, f.r.Len(), offset, whence)
	if err != nil {
		return f.off, err
	}

	f.off = next
	return next, nil
}

func (f *hostFile) Stat() Stat {
	return Stat{Type: TypeFile, Size: f.r.Len()}
}

func (f *hostFile) Ioctl(int, uint32, uint32) (int, *kernel.Error) {
	return -1, ErrUnsupported
}

func (f *hostFile) Close() *kernel.Error {
	if err := f.r.Close(); err != nil {
		return &kernel.Error{Module: "hostfs", Message: err.Error()}
	}
	return nil
}

type hostDir struct{}

func (hostDir) Read([]byte) (int, *kernel.Error)               { return 0, ErrIsDir }
func (hostDir) Write([]byte) (int, *kernel.Error)              { return 0, ErrIsDir }
func (hostDir) Seek(int, int) (int, *kernel.Error)             { return 0, ErrIsDir }
func (hostDir) Stat() Stat                                     { return Stat{Type: TypeDir} }
func (hostDir) Ioctl(int, uint32, uint32) (int, *kernel.Error) { return -1, ErrUnsupported }
func (hostDir) Close() *kernel.Error                           { return nil }
