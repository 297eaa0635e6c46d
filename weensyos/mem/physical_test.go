package mem

import "testing"

func TestAllocatableCount(t *testing.T) {
	if got := AllocatableCount(); got != 398 {
		t.Fatalf("AllocatableCount() = %d, want 398", got)
	}
}

func TestAllocatableExcludesReservedRegions(t *testing.T) {
	for _, pa := range []uintptr{0, KernelStartAddr, KernelEndAddr - PageSize, KernelStackTop - PageSize, IOPhysMem, ConsoleAddr, PhysicalSize} {
		if Allocatable(pa) {
			t.Fatalf("Allocatable(%#x) = true, want false", pa)
		}
	}
	for _, pa := range []uintptr{PageSize, KernelEndAddr, KernelStackTop, ExtPhysMem, PhysicalSize - PageSize} {
		if !Allocatable(pa) {
			t.Fatalf("Allocatable(%#x) = false, want true", pa)
		}
	}
}

func TestAllocIncreasingOrder(t *testing.T) {
	m := NewPhysical()
	n := AllocatableCount()

	var last uintptr
	for i := 0; i < n; i++ {
		pa, ok := m.Alloc(PageSize)
		if !ok {
			t.Fatalf("Alloc() #%d failed", i)
		}
		if i > 0 && pa <= last {
			t.Fatalf("Alloc() #%d = %#x, want > %#x", i, pa, last)
		}
		if got := m.Refcount(pa); got != 1 {
			t.Fatalf("Refcount(%#x) = %d, want 1", pa, got)
		}
		last = pa
	}
	if _, ok := m.Alloc(PageSize); ok {
		t.Fatal("Alloc() succeeded with every frame held")
	}
	if got := m.FreeCount(); got != 0 {
		t.Fatalf("FreeCount() = %d, want 0", got)
	}
}

func TestAllocFirstFitReuse(t *testing.T) {
	m := NewPhysical()
	a, _ := m.Alloc(PageSize)
	b, _ := m.Alloc(PageSize)
	c, _ := m.Alloc(PageSize)

	m.Free(a)
	if got, _ := m.Alloc(PageSize); got != a {
		t.Fatalf("Alloc() after Free(%#x) = %#x, want %#x", a, got, a)
	}

	m.Free(c)
	m.Free(b)
	if got, _ := m.Alloc(1); got != b {
		t.Fatalf("Alloc() = %#x, want lowest free %#x", got, b)
	}
}

func TestAllocFillsSentinel(t *testing.T) {
	m := NewPhysical()
	pa, _ := m.Alloc(PageSize)
	for i, b := range m.Page(pa) {
		if b != AllocSentinel {
			t.Fatalf("page[%d] = %#x, want %#x", i, b, AllocSentinel)
		}
	}
}

func TestAllocRejectsLargeSize(t *testing.T) {
	m := NewPhysical()
	if _, ok := m.Alloc(PageSize + 1); ok {
		t.Fatal("Alloc(PageSize+1) succeeded")
	}
	if got := m.FreeCount(); got != AllocatableCount() {
		t.Fatalf("FreeCount() = %d, want %d", got, AllocatableCount())
	}
}

func TestFreeNullAndSharedFrames(t *testing.T) {
	m := NewPhysical()
	m.Free(0)

	pa, _ := m.Alloc(PageSize)
	m.Ref(pa)
	m.Free(pa)
	if got := m.Refcount(pa); got != 1 {
		t.Fatalf("Refcount() = %d, want 1", got)
	}
	if next, _ := m.Alloc(PageSize); next == pa {
		t.Fatal("Alloc() returned a frame that is still referenced")
	}
	m.Free(pa)
	if got := m.Refcount(pa); got != 0 {
		t.Fatalf("Refcount() = %d, want 0", got)
	}
}

func TestReserveBumps(t *testing.T) {
	m := NewPhysical()
	r := NewReserve(m, KernelEndAddr-2*PageSize, KernelEndAddr)
	a, ok := r.Alloc(PageSize)
	if !ok || a != KernelEndAddr-2*PageSize {
		t.Fatalf("Alloc() = %#x, %v", a, ok)
	}
	if _, ok := r.Alloc(PageSize); !ok {
		t.Fatal("second Alloc() failed")
	}
	if _, ok := r.Alloc(PageSize); ok {
		t.Fatal("Alloc() past the end succeeded")
	}
	if got := m.FreeCount(); got != AllocatableCount() {
		t.Fatalf("FreeCount() = %d, want %d", got, AllocatableCount())
	}
}
