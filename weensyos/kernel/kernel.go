// Package kernel is the process and memory manager of a single-CPU
// teaching kernel. It builds per-process address spaces, forks and tears
// them down, dispatches traps and system calls, and schedules processes
// round-robin.
//
// The kernel is entered only through Start, Exception, Syscall and Idle.
// Each entry runs to completion on the caller's goroutine and returns an
// Action telling the machine where control goes next. Kernel state is not
// safe for concurrent use; the Machine serializes every entry.
package kernel

import (
	"fmt"

	"github.com/google/shlex"

	"weensy/weensyos/console"
	"weensy/weensyos/cpu"
	"weensy/weensyos/mem"
	"weensy/weensyos/memview"
	"weensy/weensyos/program"
	"weensy/weensyos/vm"
)

// HZ is the nominal timer frequency in ticks per second.
const HZ = 100

// The kernel page table lives in kernel data, outside the page allocator.
const (
	kernelTableStart = 0x48000
	kernelTableEnd   = mem.KernelEndAddr
)

const (
	consolePanicPos   = 24 * console.Columns
	consolePanicColor = 0xC000
	consoleFaultColor = 0x0C00
)

// spinsPerView is how often an idle kernel redraws the memory view.
const spinsPerView = 1 << 12

// Logger receives kernel log lines.
type Logger interface {
	WriteLineString(s string)
}

// Keyboard is polled for commands on every kernel entry.
type Keyboard interface {
	PollKey() (rune, bool)
}

// Config configures a Kernel. The zero value is usable.
type Config struct {
	// Quantum is the number of user instructions between timer
	// interrupts. Zero means cpu.DefaultQuantum.
	Quantum int
	Logger  Logger
	// Keyboard is optional.
	Keyboard Keyboard
	// MemoryView enables the memory map drawn on the console on every
	// kernel entry.
	MemoryView bool
	// OnPanic is invoked once, on the first kernel panic.
	OnPanic func(*Panic)
}

// Kernel owns physical memory, the process table and the CPU.
type Kernel struct {
	pm  *mem.Physical
	kpt *vm.PageTable
	cpu *cpu.CPU
	con *console.Console

	view *memview.Viewer

	ptable [NProc]Proc
	ticks  uint64

	spinPID int
	spins   uint64

	log     Logger
	kbd     Keyboard
	onPanic func(*Panic)
	halted  *Panic
}

// New powers on a machine: fresh physical memory, the kernel page table
// and a CPU. Call Start to boot it.
func New(cfg Config) (*Kernel, error) {
	pm := mem.NewPhysical()
	kpt, err := vm.NewPageTable(pm, mem.NewReserve(pm, kernelTableStart, kernelTableEnd))
	if err != nil {
		return nil, fmt.Errorf("kernel: page table: %w", err)
	}
	k := &Kernel{
		pm:      pm,
		kpt:     kpt,
		cpu:     cpu.New(pm, cfg.Quantum),
		con:     console.New(pm),
		log:     cfg.Logger,
		kbd:     cfg.Keyboard,
		onPanic: cfg.OnPanic,
	}
	if cfg.MemoryView {
		k.view = memview.New(pm, k.con, NProc)
	}
	if err := k.initKernelPageTable(); err != nil {
		return nil, err
	}
	return k, nil
}

// initKernelPageTable identity-maps physical memory. Everything is
// kernel-only except the console page; page 0 is left unmapped.
func (k *Kernel) initKernelPageTable() error {
	for it := k.kpt.Iter(0); it.VA() < mem.PhysicalSize; it.Next() {
		va := it.VA()
		var perm vm.Perm
		switch {
		case va == 0:
			continue
		case va == mem.ConsoleAddr:
			perm = vm.PermPresent | vm.PermWritable | vm.PermUser
		default:
			perm = vm.PermPresent | vm.PermWritable
		}
		if err := it.TryMap(va, perm); err != nil {
			return fmt.Errorf("kernel: map %#x: %w", va, err)
		}
	}
	return nil
}

// Physical returns the machine's physical memory.
func (k *Kernel) Physical() *mem.Physical { return k.pm }

// PageTable returns the kernel page table.
func (k *Kernel) PageTable() *vm.PageTable { return k.kpt }

// CPU returns the processor processes run on.
func (k *Kernel) CPU() *cpu.CPU { return k.cpu }

// Console returns the CGA console.
func (k *Kernel) Console() *console.Console { return k.con }

// Proc returns the descriptor in slot pid.
func (k *Kernel) Proc(pid int) *Proc { return &k.ptable[pid] }

// Ticks returns the timer tick count.
func (k *Kernel) Ticks() uint64 { return k.ticks }

// Halted returns the panic that stopped the kernel, if any.
func (k *Kernel) Halted() *Panic { return k.halted }

func (k *Kernel) logf(format string, args ...any) {
	if k.log == nil {
		return
	}
	k.log.WriteLineString(fmt.Sprintf(format, args...))
}

// Start boots the kernel. command names the program to run as process 1;
// when it is empty or unknown, four allocator processes start instead.
// Extra words after the program name are ignored.
func (k *Kernel) Start(command string) Action {
	return k.enter(func() Action {
		k.logf("Starting WeensyOS")
		k.ticks = 1
		k.cpu.AckTimer()
		k.con.Clear()

		for i := range k.ptable {
			k.ptable[i] = Proc{PID: i, State: StateFree}
		}

		name := bootProgram(command)
		if _, ok := program.Lookup(name); ok {
			k.processSetup(1, name)
		} else {
			if name != "" {
				k.logf("unknown program %q", name)
			}
			k.processSetup(1, "allocator")
			k.processSetup(2, "allocator2")
			k.processSetup(3, "allocator3")
			k.processSetup(4, "allocator4")
		}
		return k.run(&k.ptable[1])
	})
}

func bootProgram(command string) string {
	words, err := shlex.Split(command)
	if err != nil || len(words) == 0 {
		return ""
	}
	return words[0]
}

// processSetup loads program name into slot pid.
func (k *Kernel) processSetup(pid int, name string) {
	ctx := &Context{}
	img, ok := program.Lookup(name)
	if !ok {
		k.panicf(ctx, "Unknown program %s!", name)
	}
	p := &k.ptable[pid]
	*p = Proc{PID: pid}

	pt, err := vm.NewPageTable(k.pm, k.pm)
	if err != nil {
		k.panicf(ctx, "Out of memory!")
	}
	p.PageTable = pt
	k.copyKernelMappings(ctx, pt)

	for _, seg := range img.Segments {
		perm := vm.PermPresent | vm.PermUser
		if seg.Writable {
			perm |= vm.PermWritable
		}
		for _, va := range seg.Pages() {
			k.mapFresh(ctx, pt, va, perm)
		}
	}
	for _, seg := range img.Segments {
		for off := uintptr(0); off < seg.Size; {
			va := seg.VA + off
			n := mem.PageSize - va%mem.PageSize
			if n > seg.Size-off {
				n = seg.Size - off
			}
			dst := k.pm.Bytes(pt.Iter(va).PA(), int(n))
			clear(dst)
			if off < uintptr(len(seg.Data)) {
				copy(dst, seg.Data[off:])
			}
			off += n
		}
	}
	p.Regs.RIP = uint64(img.Entry)

	stack := uintptr(mem.VirtualSize - mem.PageSize)
	k.mapFresh(ctx, pt, stack, vm.PermPresent|vm.PermWritable|vm.PermUser)
	p.Regs.SetRSP(uint64(stack + mem.PageSize))
	p.State = StateRunnable
}

// copyKernelMappings installs the kernel-shared region of the kernel page
// table into pt. Frames are shared directly and not reference counted.
func (k *Kernel) copyKernelMappings(ctx *Context, pt *vm.PageTable) {
	pit := pt.Iter(0)
	for kit := k.kpt.Iter(0); kit.VA() < mem.ProcStartAddr; kit.Next() {
		if err := pit.Find(kit.VA()).TryMap(kit.PA(), kit.Perm()); err != nil {
			k.panicf(ctx, "Out of memory!")
		}
	}
}

func (k *Kernel) mapFresh(ctx *Context, pt *vm.PageTable, va uintptr, perm vm.Perm) {
	pa, ok := k.pm.Alloc(mem.PageSize)
	if !ok {
		k.panicf(ctx, "Out of memory!")
	}
	if err := pt.Iter(va).TryMap(pa, perm); err != nil {
		k.panicf(ctx, "Out of memory!")
	}
}

// checkPageTable asserts that pt still carries the kernel-shared mappings.
func (k *Kernel) checkPageTable(ctx *Context, pt *vm.PageTable) {
	if pt == nil || pt.Root() == 0 {
		k.panicf(ctx, "assertion failed: process has no page table")
	}
	for _, va := range []uintptr{0, mem.KernelStartAddr, mem.KernelStackTop - mem.PageSize, mem.ConsoleAddr} {
		kpa, kperm := k.kpt.Lookup(va)
		pa, perm := pt.Lookup(va)
		if pa != kpa || perm != kperm {
			k.panicf(ctx, "assertion failed: mapping for %#x is %#x/%s, kernel has %#x/%s", va, pa, perm, kpa, kperm)
		}
	}
}

// memshow redraws the memory view if it is enabled.
func (k *Kernel) memshow() {
	if k.view == nil {
		return
	}
	procs := make([]memview.Process, 0, NProc)
	for i := range k.ptable {
		p := &k.ptable[i]
		if p.State != StateFree && p.PageTable != nil {
			procs = append(procs, memview.Process{PID: p.PID, PageTable: p.PageTable})
		}
	}
	k.view.Show(procs, k.ticks)
}

// checkKeyboard polls for keyboard commands: q or Ctrl-C halts, a, f and
// e reboot into the allocators, fork or forkexit.
func (k *Kernel) checkKeyboard() {
	if k.kbd == nil {
		return
	}
	key, ok := k.kbd.PollKey()
	if !ok {
		return
	}
	switch key {
	case 'q', 0x03:
		panic(keyboardRequest{})
	case 'a':
		panic(keyboardRequest{reboot: true})
	case 'f':
		panic(keyboardRequest{reboot: true, command: "fork"})
	case 'e':
		panic(keyboardRequest{reboot: true, command: "forkexit"})
	}
}
