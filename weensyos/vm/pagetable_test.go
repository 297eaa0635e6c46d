package vm

import (
	"errors"
	"testing"

	"weensy/weensyos/mem"
)

func newTable(t *testing.T) (*mem.Physical, *PageTable) {
	t.Helper()
	pm := mem.NewPhysical()
	pt, err := NewPageTable(pm, pm)
	if err != nil {
		t.Fatalf("NewPageTable() error = %v", err)
	}
	return pm, pt
}

func TestMapAndLookup(t *testing.T) {
	pm, pt := newTable(t)
	frame, _ := pm.Alloc(mem.PageSize)

	it := pt.Iter(mem.ProcStartAddr)
	if it.Present() {
		t.Fatal("fresh table reports a present page")
	}
	if got := it.PA(); got != NoAddr {
		t.Fatalf("PA() = %#x, want NoAddr", got)
	}
	if err := it.TryMap(frame, PermPresent|PermWritable|PermUser); err != nil {
		t.Fatalf("TryMap() error = %v", err)
	}

	pa, perm := pt.Lookup(mem.ProcStartAddr + 0x10)
	if pa != frame+0x10 {
		t.Fatalf("Lookup() pa = %#x, want %#x", pa, frame+0x10)
	}
	if perm != PermPresent|PermWritable|PermUser {
		t.Fatalf("Lookup() perm = %s, want PWU", perm)
	}
	if !pt.Iter(mem.ProcStartAddr).Writable() || !pt.Iter(mem.ProcStartAddr).User() {
		t.Fatal("mapping is not writable user memory")
	}
}

func TestTablesListsIntermediatePages(t *testing.T) {
	pm, pt := newTable(t)
	frame, _ := pm.Alloc(mem.PageSize)

	pt.Iter(0x1000).Map(frame, PermPresent)
	if got := len(pt.Tables()); got != 3 {
		t.Fatalf("len(Tables()) = %d, want 3", got)
	}
	// A second 2MB region needs one more leaf table.
	pt.Iter(mem.VirtualSize - mem.PageSize).Map(frame, PermPresent)
	tables := pt.Tables()
	if len(tables) != 4 {
		t.Fatalf("len(Tables()) = %d, want 4", len(tables))
	}
	for _, pa := range tables {
		if pa == pt.Root() {
			t.Fatal("Tables() includes the root")
		}
	}
}

func TestNonPresentMapDoesNotAllocate(t *testing.T) {
	pm, pt := newTable(t)
	before := pm.FreeCount()
	if err := pt.Iter(0).TryMap(0, 0); err != nil {
		t.Fatalf("TryMap() error = %v", err)
	}
	if got := pm.FreeCount(); got != before {
		t.Fatalf("FreeCount() = %d, want %d", got, before)
	}
	if got := len(pt.Tables()); got != 0 {
		t.Fatalf("len(Tables()) = %d, want 0", got)
	}
}

func TestTryMapOutOfMemory(t *testing.T) {
	pm, pt := newTable(t)
	for {
		if _, ok := pm.Alloc(mem.PageSize); !ok {
			break
		}
	}
	err := pt.Iter(mem.ProcStartAddr).TryMap(mem.ExtPhysMem, PermPresent|PermUser)
	if !errors.Is(err, mem.ErrOutOfMemory) {
		t.Fatalf("TryMap() error = %v, want ErrOutOfMemory", err)
	}
	if pt.Iter(mem.ProcStartAddr).Present() {
		t.Fatal("failed TryMap left a mapping behind")
	}
}

func TestTranslate(t *testing.T) {
	pm, pt := newTable(t)
	ro, _ := pm.Alloc(mem.PageSize)
	kern, _ := pm.Alloc(mem.PageSize)
	pt.Iter(mem.ProcStartAddr).Map(ro, PermPresent|PermUser)
	pt.Iter(mem.KernelStartAddr).Map(kern, PermPresent|PermWritable)

	tests := []struct {
		name   string
		va     uintptr
		access Access
		user   bool
		ok     bool
		fault  Fault
	}{
		{"user read", mem.ProcStartAddr + 8, AccessRead, true, true, 0},
		{"user write read-only", mem.ProcStartAddr, AccessWrite, true, false, FaultUser | FaultWrite | FaultPresent},
		{"user read kernel", mem.KernelStartAddr, AccessRead, true, false, FaultUser | FaultPresent},
		{"kernel write kernel", mem.KernelStartAddr, AccessWrite, false, true, 0},
		{"user read missing", mem.ProcStartAddr + mem.PageSize, AccessRead, true, false, FaultUser},
		{"kernel write missing", 0, AccessWrite, false, false, FaultWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fault, ok := pt.Translate(tt.va, tt.access, tt.user)
			if ok != tt.ok || fault != tt.fault {
				t.Fatalf("Translate() = (%#x, %v), want (%#x, %v)", fault, ok, tt.fault, tt.ok)
			}
		})
	}
}

func TestFaultDescriptions(t *testing.T) {
	f := FaultUser | FaultWrite | FaultPresent
	if f.Operation() != "write" || f.Problem() != "protection problem" {
		t.Fatalf("got %q %q", f.Operation(), f.Problem())
	}
	f = FaultUser
	if f.Operation() != "read" || f.Problem() != "missing page" {
		t.Fatalf("got %q %q", f.Operation(), f.Problem())
	}
}
