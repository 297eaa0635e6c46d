package kernel

import (
	"strings"
	"sync"
	"testing"

	"weensy/weensyos/cpu"
	"weensy/weensyos/mem"
	"weensy/weensyos/program"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) WriteLineString(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func boot(t *testing.T, command string) *Kernel {
	t.Helper()
	k, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	act := k.Start(command)
	if act.Kind != ActionRun || act.Proc.PID != 1 {
		t.Fatalf("Start(%q) = %v pid %v, want run pid 1", command, act.Kind, act.Proc)
	}
	return k
}

// registerTestProgram links a one-page program at ProcStartAddr with a
// writable data page holding data.
func registerTestProgram(t *testing.T, name string, data []byte, build func(a *cpu.Asm)) {
	t.Helper()
	a := cpu.NewAsm(mem.ProcStartAddr)
	build(a)
	code, err := a.Assemble()
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	program.Register(&program.Image{
		Name:  name,
		Entry: mem.ProcStartAddr,
		Segments: []program.Segment{
			{VA: mem.ProcStartAddr, Data: code, Size: uintptr(len(code))},
			{VA: mem.ProcStartAddr + mem.PageSize, Data: data, Size: mem.PageSize, Writable: true},
		},
	})
}

// checkRefcounts verifies that every allocatable frame's count equals the
// number of live references to it: page-table pages plus user mappings.
func checkRefcounts(t *testing.T, k *Kernel) {
	t.Helper()
	var want [mem.NPages]int
	for pid := 1; pid < NProc; pid++ {
		p := k.Proc(pid)
		if p.State == StateFree {
			if p.PageTable != nil {
				t.Fatalf("free pid %d still has a page table", pid)
			}
			continue
		}
		want[p.PageTable.Root()/mem.PageSize]++
		for _, tbl := range p.PageTable.Tables() {
			want[tbl/mem.PageSize]++
		}
		for it := p.PageTable.Iter(mem.ProcStartAddr); it.VA() < mem.VirtualSize; it.Next() {
			if it.User() {
				want[it.PA()/mem.PageSize]++
			}
		}
	}
	for i, n := range want {
		pa := uintptr(i) * mem.PageSize
		if !mem.Allocatable(pa) {
			if n != 0 {
				t.Fatalf("non-allocatable frame %#x referenced %d times", pa, n)
			}
			continue
		}
		if got := k.Physical().Refcount(pa); got != n {
			t.Fatalf("Refcount(%#x) = %d, want %d", pa, got, n)
		}
	}
}

type snapshot struct {
	refs   [mem.NPages]int
	states [NProc]State
}

func takeSnapshot(k *Kernel) snapshot {
	var s snapshot
	for i := range s.refs {
		s.refs[i] = k.Physical().Refcount(uintptr(i) * mem.PageSize)
	}
	for i := range s.states {
		s.states[i] = k.Proc(i).State
	}
	return s
}

func TestBootDefault(t *testing.T) {
	k := boot(t, "")
	for pid := 0; pid < NProc; pid++ {
		want := StateFree
		if pid >= 1 && pid <= 4 {
			want = StateRunnable
		}
		if got := k.Proc(pid).State; got != want {
			t.Fatalf("pid %d state = %s, want %s", pid, got, want)
		}
	}
	entries := []uint64{0x100000, 0x140000, 0x180000, 0x1C0000}
	for i, entry := range entries {
		p := k.Proc(i + 1)
		if p.Regs.RIP != entry {
			t.Fatalf("pid %d RIP = %#x, want %#x", p.PID, p.Regs.RIP, entry)
		}
		if p.Regs.RSP() != mem.VirtualSize {
			t.Fatalf("pid %d RSP = %#x, want %#x", p.PID, p.Regs.RSP(), mem.VirtualSize)
		}
	}
	if k.Ticks() != 1 {
		t.Fatalf("Ticks() = %d, want 1", k.Ticks())
	}
	checkRefcounts(t, k)
}

func TestBootNamedProgram(t *testing.T) {
	tests := []struct {
		command string
		procs   int
	}{
		{"fork", 1},
		{"  forkexit   with extra words", 1},
		{"nosuchprogram", 4},
		{`"unterminated`, 4},
	}
	for _, tt := range tests {
		k := boot(t, tt.command)
		n := 0
		for pid := 1; pid < NProc; pid++ {
			if k.Proc(pid).State == StateRunnable {
				n++
			}
		}
		if n != tt.procs {
			t.Fatalf("Start(%q) created %d processes, want %d", tt.command, n, tt.procs)
		}
	}
}

func TestAddressSpaceLayout(t *testing.T) {
	k := boot(t, "allocator")
	pt := k.Proc(1).PageTable

	if pa, perm := pt.Lookup(0); pa != ^uintptr(0) || perm != 0 {
		t.Fatalf("page 0 = %#x/%s, want unmapped", pa, perm)
	}
	if pa, perm := pt.Lookup(mem.KernelStartAddr); pa != mem.KernelStartAddr || perm.String() != "PW-" {
		t.Fatalf("kernel page = %#x/%s, want identity PW-", pa, perm)
	}
	if pa, perm := pt.Lookup(mem.ConsoleAddr); pa != mem.ConsoleAddr || perm.String() != "PWU" {
		t.Fatalf("console page = %#x/%s, want identity PWU", pa, perm)
	}
	if _, perm := pt.Lookup(mem.ProcStartAddr); perm.String() != "P-U" {
		t.Fatalf("text page perm = %s, want P-U", perm)
	}
	dataPA, perm := pt.Lookup(mem.ProcStartAddr + mem.PageSize)
	if perm.String() != "PWU" {
		t.Fatalf("data page perm = %s, want PWU", perm)
	}
	// The data page is zero beyond the initialized bytes.
	if b := k.Physical().Bytes(dataPA, mem.PageSize)[mem.PageSize-1]; b != 0 {
		t.Fatalf("data page tail = %#x, want 0", b)
	}
	if _, perm := pt.Lookup(mem.VirtualSize - mem.PageSize); perm.String() != "PWU" {
		t.Fatalf("stack page perm = %s, want PWU", perm)
	}
	if _, perm := pt.Lookup(mem.ProcStartAddr + 2*mem.PageSize); perm != 0 {
		t.Fatalf("heap page mapped before use: %s", perm)
	}
}

func TestScheduleRoundRobin(t *testing.T) {
	k := boot(t, "")
	ctx := &Context{Proc: k.Proc(1)}
	var order []int
	for i := 0; i < 8; i++ {
		regs := ctx.Proc.Regs
		regs.SetRAX(3) // yield
		act := k.Syscall(ctx, &regs)
		if act.Kind != ActionRun {
			t.Fatalf("yield %d = %s, want run", i, act.Kind)
		}
		order = append(order, act.Proc.PID)
		ctx = &Context{Proc: act.Proc}
	}
	want := []int{2, 3, 4, 1, 2, 3, 4, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("schedule order = %v, want %v", order, want)
		}
	}
}

func TestScheduleIdle(t *testing.T) {
	k := boot(t, "allocator")
	p := k.Proc(1)
	ctx := &Context{Proc: p}
	k.exit(p)

	act := k.schedule(ctx)
	if act.Kind != ActionIdle {
		t.Fatalf("schedule() = %s, want idle", act.Kind)
	}
	for i := 0; i < 10; i++ {
		if act = k.Idle(ctx); act.Kind != ActionIdle {
			t.Fatalf("Idle() = %s, want idle", act.Kind)
		}
	}
	if k.spins != 11*NProc {
		t.Fatalf("spins = %d, want %d", k.spins, 11*NProc)
	}
}

func TestForkExitRoundTrip(t *testing.T) {
	k := boot(t, "fork")
	parent := k.Proc(1)
	parent.Regs.SetRAX(99)
	ctx := &Context{Proc: parent}
	before := k.Physical().FreeCount()

	pid := k.fork(ctx)
	if pid != 2 {
		t.Fatalf("fork() = %d, want 2", pid)
	}
	child := k.Proc(2)
	if child.State != StateRunnable || child.Regs.RAX() != 0 || child.Regs.RIP != parent.Regs.RIP {
		t.Fatalf("child = %+v", child)
	}
	if parent.Regs.RAX() != 99 {
		t.Fatalf("parent RAX = %d, want 99", parent.Regs.RAX())
	}
	checkRefcounts(t, k)

	text, _ := parent.PageTable.Lookup(mem.ProcStartAddr)
	if ctext, _ := child.PageTable.Lookup(mem.ProcStartAddr); ctext != text {
		t.Fatalf("child text %#x, want shared %#x", ctext, text)
	}
	if n := k.Physical().Refcount(text); n != 2 {
		t.Fatalf("Refcount(text) = %d, want 2", n)
	}
	data, _ := parent.PageTable.Lookup(mem.ProcStartAddr + mem.PageSize)
	cdata, _ := child.PageTable.Lookup(mem.ProcStartAddr + mem.PageSize)
	if cdata == data {
		t.Fatalf("child data page shares parent frame %#x", data)
	}
	if string(k.Physical().Page(cdata)) != string(k.Physical().Page(data)) {
		t.Fatalf("child data page differs from parent")
	}

	k.exit(child)
	if child.State != StateFree || child.PageTable != nil {
		t.Fatalf("exited child = %+v", child)
	}
	if got := k.Physical().FreeCount(); got != before {
		t.Fatalf("FreeCount() after exit = %d, want %d", got, before)
	}
	if n := k.Physical().Refcount(text); n != 1 {
		t.Fatalf("Refcount(text) after exit = %d, want 1", n)
	}
	checkRefcounts(t, k)
}

func TestForkNoSlot(t *testing.T) {
	k := boot(t, "fork")
	ctx := &Context{Proc: k.Proc(1)}
	for want := 2; want < NProc; want++ {
		if pid := k.fork(ctx); pid != want {
			t.Fatalf("fork() = %d, want %d", pid, want)
		}
	}
	regs := ctx.Proc.Regs
	before := takeSnapshot(k)
	if pid := k.fork(ctx); pid != -1 {
		t.Fatalf("fork() with full table = %d, want -1", pid)
	}
	if takeSnapshot(k) != before || ctx.Proc.Regs != regs {
		t.Fatalf("failed fork changed state")
	}
	checkRefcounts(t, k)
}

func TestForkReusesExitedSlot(t *testing.T) {
	k := boot(t, "fork")
	ctx := &Context{Proc: k.Proc(1)}
	if pid := k.fork(ctx); pid != 2 {
		t.Fatalf("fork() = %d, want 2", pid)
	}
	if pid := k.fork(ctx); pid != 3 {
		t.Fatalf("fork() = %d, want 3", pid)
	}
	k.exit(k.Proc(2))
	if pid := k.fork(&Context{Proc: k.Proc(3)}); pid != 2 {
		t.Fatalf("fork() after exit = %d, want 2", pid)
	}
	checkRefcounts(t, k)
}

// exhaust allocates frames until only keep remain free.
func exhaust(k *Kernel, keep int) {
	for k.Physical().FreeCount() > keep {
		k.Physical().Alloc(mem.PageSize)
	}
}

func TestForkOutOfMemoryRollsBack(t *testing.T) {
	// A child of "fork" needs seven frames; every shortfall fails at a
	// different step and must leave no trace.
	for keep := 0; keep < 7; keep++ {
		k := boot(t, "fork")
		ctx := &Context{Proc: k.Proc(1)}
		exhaust(k, keep)
		before := takeSnapshot(k)
		regs := ctx.Proc.Regs

		if pid := k.fork(ctx); pid != -1 {
			t.Fatalf("fork() with %d free frames = %d, want -1", keep, pid)
		}
		if after := takeSnapshot(k); after != before {
			t.Fatalf("fork() with %d free frames changed frame counts or states", keep)
		}
		if ctx.Proc.Regs != regs {
			t.Fatalf("fork() with %d free frames changed the parent", keep)
		}
	}

	k := boot(t, "fork")
	exhaust(k, 7)
	if pid := k.fork(&Context{Proc: k.Proc(1)}); pid != 2 {
		t.Fatalf("fork() with 7 free frames = %d, want 2", pid)
	}
	if n := k.Physical().FreeCount(); n != 0 {
		t.Fatalf("FreeCount() = %d, want 0", n)
	}
}

func TestPageAlloc(t *testing.T) {
	k := boot(t, "allocator")
	p := k.Proc(1)
	heap := uintptr(mem.ProcStartAddr + 2*mem.PageSize)

	for _, va := range []uintptr{mem.ProcStartAddr + 1, mem.ProcStartAddr - mem.PageSize, mem.VirtualSize, 0} {
		before := k.Physical().FreeCount()
		if r := k.pageAlloc(p, va); r != -1 {
			t.Fatalf("pageAlloc(%#x) = %d, want -1", va, r)
		}
		if k.Physical().FreeCount() != before {
			t.Fatalf("pageAlloc(%#x) consumed a frame", va)
		}
	}
	if _, perm := p.PageTable.Lookup(mem.ProcStartAddr); perm.String() != "P-U" {
		t.Fatalf("text perm after rejected pageAlloc = %s, want P-U", perm)
	}

	if r := k.pageAlloc(p, heap); r != 0 {
		t.Fatalf("pageAlloc(%#x) = %d, want 0", heap, r)
	}
	pa, perm := p.PageTable.Lookup(heap)
	if perm.String() != "PWU" {
		t.Fatalf("heap perm = %s, want PWU", perm)
	}
	for _, b := range k.Physical().Page(pa) {
		if b != 0 {
			t.Fatalf("heap page not zeroed")
		}
	}
	checkRefcounts(t, k)

	exhaust(k, 0)
	if r := k.pageAlloc(p, heap+mem.PageSize); r != -1 {
		t.Fatalf("pageAlloc() with no memory = %d, want -1", r)
	}
	if _, perm := p.PageTable.Lookup(heap + mem.PageSize); perm != 0 {
		t.Fatalf("failed pageAlloc() left a mapping: %s", perm)
	}
}

func TestBootOutOfMemoryPanics(t *testing.T) {
	k, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	exhaust(k, 3)
	act := k.Start("")
	if act.Kind != ActionHalt || act.Panic == nil || act.Panic.Message != "Out of memory!" {
		t.Fatalf("Start() = %+v, want out of memory panic", act)
	}
	if k.Halted() != act.Panic {
		t.Fatalf("Halted() = %v, want %v", k.Halted(), act.Panic)
	}
}
