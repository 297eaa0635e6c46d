package mem

// Physical and virtual memory layout.
//
//	+-----+--------------------+----------------+--------------------+---------/
//	|     | Kernel      Kernel |       :    I/O | App 1        App 1 | App 2
//	|     | Code + Data  Stack |  ...  : Memory | Code + Data  Stack | Code ...
//	+-----+--------------------+----------------+--------------------+---------/
//	0  0x40000              0x80000 0xA0000 0x100000             0x140000
const (
	PageSize = 4096

	PhysicalSize = 0x200000
	VirtualSize  = 0x300000
	NPages       = PhysicalSize / PageSize

	KernelStartAddr = 0x40000
	KernelEndAddr   = 0x50000
	KernelStackTop  = 0x80000

	IOPhysMem  = 0xA0000
	ExtPhysMem = 0x100000

	ConsoleAddr = 0xB8000

	// ProcStartAddr separates the kernel-shared low region from the
	// per-process user region.
	ProcStartAddr = 0x100000
)

// AllocSentinel fills freshly allocated frames.
const AllocSentinel = 0xCC

// RoundDown rounds a down to a multiple of PageSize.
func RoundDown(a uintptr) uintptr { return a &^ (PageSize - 1) }

// RoundUp rounds a up to a multiple of PageSize.
func RoundUp(a uintptr) uintptr { return RoundDown(a + PageSize - 1) }

// Reserved reports whether pa is never usable as ordinary memory: the null
// page and the device hole.
func Reserved(pa uintptr) bool {
	return pa < PageSize || (pa >= IOPhysMem && pa < ExtPhysMem)
}

// Allocatable reports whether the frame containing pa may be handed out by
// the page allocator.
func Allocatable(pa uintptr) bool {
	return !Reserved(pa) &&
		(pa < KernelStartAddr || pa >= KernelEndAddr) &&
		(pa < KernelStackTop-PageSize || pa >= KernelStackTop) &&
		pa < PhysicalSize
}
