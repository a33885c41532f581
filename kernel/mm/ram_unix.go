//go:build linux || darwin || freebsd || netbsd || openbsd
// +build linux darwin freebsd netbsd openbsd

package mm

import "golang.org/x/sys/unix"

// allocBacking maps an anonymous private region so that physical memory is
// page aligned and zero-filled like real RAM after reset.
func allocBacking(size int) ([]byte, func([]byte) error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}

	return mem, unix.Munmap, nil
}
