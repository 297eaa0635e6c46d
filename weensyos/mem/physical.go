package mem

import "errors"

// ErrOutOfMemory is returned when no allocatable frame is free.
var ErrOutOfMemory = errors.New("mem: out of memory")

// Frame is the accounting record for one physical page.
type Frame struct {
	Refcount uint8
}

// Physical is the machine's physical memory together with per-frame
// reference counts.
//
// It is owned by the kernel's single control path and is not safe for
// concurrent use.
type Physical struct {
	frames [NPages]Frame
	data   []byte
}

// NewPhysical returns zeroed physical memory with every frame free.
func NewPhysical() *Physical {
	return &Physical{data: make([]byte, PhysicalSize)}
}

// Alloc returns the lowest free allocatable frame, with refcount 1 and its
// contents filled with AllocSentinel. It fails if size exceeds one page or
// no frame qualifies.
func (m *Physical) Alloc(size int) (uintptr, bool) {
	if size > PageSize {
		return 0, false
	}
	for pa := uintptr(0); pa != PhysicalSize; pa += PageSize {
		if Allocatable(pa) && m.frames[pa/PageSize].Refcount == 0 {
			m.frames[pa/PageSize].Refcount++
			m.Fill(pa, AllocSentinel, PageSize)
			return pa, true
		}
	}
	return 0, false
}

// Free drops one reference to the frame containing pa. Free(0) does
// nothing.
//
// Free does not check that pa was allocated or that its count is positive:
// releasing a frame more often than it was referenced corrupts the
// accounting, and avoiding that is the caller's job.
func (m *Physical) Free(pa uintptr) {
	if pa == 0 {
		return
	}
	m.frames[pa/PageSize].Refcount--
}

// Ref adds a reference to an already allocated frame.
func (m *Physical) Ref(pa uintptr) {
	m.frames[pa/PageSize].Refcount++
}

// Refcount returns the reference count of the frame containing pa.
func (m *Physical) Refcount(pa uintptr) int {
	if pa >= PhysicalSize {
		return 0
	}
	return int(m.frames[pa/PageSize].Refcount)
}

// FreeCount returns the number of allocatable frames with refcount 0.
func (m *Physical) FreeCount() int {
	n := 0
	for pa := uintptr(0); pa != PhysicalSize; pa += PageSize {
		if Allocatable(pa) && m.frames[pa/PageSize].Refcount == 0 {
			n++
		}
	}
	return n
}

// AllocatableCount returns the number of frames the allocator manages.
func AllocatableCount() int {
	n := 0
	for pa := uintptr(0); pa != PhysicalSize; pa += PageSize {
		if Allocatable(pa) {
			n++
		}
	}
	return n
}

// Page returns the page containing pa.
func (m *Physical) Page(pa uintptr) []byte {
	pa = RoundDown(pa)
	return m.data[pa : pa+PageSize : pa+PageSize]
}

// Bytes returns n bytes of physical memory starting at pa.
func (m *Physical) Bytes(pa uintptr, n int) []byte {
	return m.data[pa : pa+uintptr(n) : pa+uintptr(n)]
}

// Fill sets n bytes starting at pa to b.
func (m *Physical) Fill(pa uintptr, b byte, n int) {
	buf := m.Bytes(pa, n)
	for i := range buf {
		buf[i] = b
	}
}

// Copy copies n bytes from physical address src to dst.
func (m *Physical) Copy(dst, src uintptr, n int) {
	copy(m.Bytes(dst, n), m.Bytes(src, n))
}
