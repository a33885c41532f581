// Package bitmap implements a first-fit allocator over a bit array where each
// bit tracks one allocation unit. The allocator has no locking of its own;
// callers serialize access.
package bitmap

// Bitmap tracks count allocation units; a set bit marks a used unit.
type Bitmap struct {
	bits  []byte
	count int
}

// ByteCount returns the number of bytes needed to track count units.
func ByteCount(count int) int {
	return (count + 7) / 8
}

// Init attaches the bitmap to buf and sets every unit to initial. buf must be
// at least ByteCount(count) bytes long; it is usually carved out of the
// memory region the bitmap describes.
func (b *Bitmap) Init(buf []byte, count int, initial bool) {
	b.bits = buf[:ByteCount(count)]
	b.count = count

	fill := byte(0)
	if initial {
		fill = 0xff
	}
	for i := range b.bits {
		b.bits[i] = fill
	}
}

// Count returns the number of units tracked by the bitmap.
func (b *Bitmap) Count() int {
	return b.count
}

// IsSet returns true if the unit at index is used.
func (b *Bitmap) IsSet(index int) bool {
	return b.bits[index/8]&(1<<uint(index%8)) != 0
}

// SetRange sets n units starting at index to value. Units past the end of
// the bitmap are ignored.
func (b *Bitmap) SetRange(index, n int, value bool) {
	for i := 0; i < n && index < b.count; i, index = i+1, index+1 {
		mask := byte(1 << uint(index%8))
		if value {
			b.bits[index/8] |= mask
		} else {
			b.bits[index/8] &^= mask
		}
	}
}

// AllocContiguous performs a linear first-fit scan, starting at hint, for n
// consecutive clear units and marks them used. It returns the index of the
// first unit or -1 if no such run exists. The scan does not wrap around.
func (b *Bitmap) AllocContiguous(hint, n int) int {
	if n <= 0 || hint < 0 {
		return -1
	}

	for start := hint; start+n <= b.count; {
		run := 0
		for run < n && !b.IsSet(start+run) {
			run++
		}

		if run == n {
			b.SetRange(start, n, true)
			return start
		}

		// skip past the used unit that ended the run
		start += run + 1
	}

	return -1
}

// FreeCount returns the number of clear units.
func (b *Bitmap) FreeCount() int {
	var free int
	for i := 0; i < b.count; i++ {
		if !b.IsSet(i) {
			free++
		}
	}
	return free
}
