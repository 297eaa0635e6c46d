// Package memview draws physical and virtual memory maps on the console.
//
// The top half of the screen shows every physical frame, one character per
// frame, labelled with its owner. The bottom half shows one process's
// address space; the process shown rotates twice a second.
package memview

import (
	"weensy/weensyos/console"
	"weensy/weensyos/mem"
	"weensy/weensyos/vm"
)

// HZ is the timer frequency the rotation is measured against.
const HZ = 100

const pagesPerRow = 64

// Owner labels.
const (
	OwnerKernel   = 'K'
	OwnerReserved = 'R'
	OwnerFree     = '.'
	OwnerShared   = 'S'
	OwnerUnknown  = '?'
)

var pidColors = [...]uint16{0x0C00, 0x0A00, 0x0900, 0x0E00, 0x0F00}

// Process is one address space to account for.
type Process struct {
	PID       int
	PageTable *vm.PageTable
}

// Viewer renders memory maps. Its zero value is not usable; call New.
type Viewer struct {
	pm    *mem.Physical
	con   *console.Console
	nproc int

	showing   int
	lastTicks uint64
}

// New returns a viewer drawing into con. nproc is the process table size
// used to rotate between address spaces.
func New(pm *mem.Physical, con *console.Console, nproc int) *Viewer {
	return &Viewer{pm: pm, con: con, nproc: nproc}
}

// Showing returns the PID whose address space was last selected.
func (v *Viewer) Showing() int { return v.showing }

// Show redraws both maps. procs lists the live address spaces; the
// virtual map follows the next live PID at or after the rotation point.
func (v *Viewer) Show(procs []Process, ticks uint64) {
	if v.lastTicks == 0 || ticks-v.lastTicks >= HZ/2 {
		v.lastTicks = ticks
		v.showing = (v.showing + 1) % v.nproc
	}

	byPID := make(map[int]Process, len(procs))
	for _, p := range procs {
		if p.PageTable != nil {
			byPID[p.PID] = p
		}
	}
	var shown *Process
	for search := 0; search < v.nproc; search++ {
		if p, ok := byPID[v.showing]; ok {
			shown = &p
			break
		}
		v.showing = (v.showing + 1) % v.nproc
	}

	owners := v.Owners(procs)
	v.drawPhysical(owners)
	if shown == nil {
		v.con.Print(console.Pos(10, 29), 0x0F00, "VIRTUAL ADDRESS SPACE\n"+
			"                          [All processes have exited]\n"+
			"\n\n\n\n\n\n\n\n\n\n\n")
		return
	}
	v.drawVirtual(*shown, owners)
}

// Owners returns a label for every physical frame: a hex PID digit for a
// frame one process owns, OwnerShared for frames mapped by several, and the
// fixed labels for kernel, reserved and free frames.
func (v *Viewer) Owners(procs []Process) [mem.NPages]byte {
	var owners [mem.NPages]byte
	for i := range owners {
		pa := uintptr(i) * mem.PageSize
		switch {
		case mem.Reserved(pa):
			owners[i] = OwnerReserved
		case !mem.Allocatable(pa):
			owners[i] = OwnerKernel
		case v.pm.Refcount(pa) == 0:
			owners[i] = OwnerFree
		case v.pm.Refcount(pa) > 1:
			owners[i] = OwnerShared
		default:
			owners[i] = OwnerUnknown
		}
	}

	claim := func(pa uintptr, pid int) {
		if !mem.Allocatable(pa) {
			return
		}
		i := pa / mem.PageSize
		switch owners[i] {
		case OwnerUnknown:
			owners[i] = pidLabel(pid)
		case OwnerShared, OwnerFree:
		default:
			if owners[i] != pidLabel(pid) {
				owners[i] = OwnerShared
			}
		}
	}
	for _, p := range procs {
		if p.PageTable == nil {
			continue
		}
		claim(p.PageTable.Root(), p.PID)
		for _, t := range p.PageTable.Tables() {
			claim(t, p.PID)
		}
		for it := p.PageTable.Iter(mem.ProcStartAddr); it.VA() < mem.VirtualSize; it.Next() {
			if it.User() {
				claim(mem.RoundDown(it.PA()), p.PID)
			}
		}
	}
	return owners
}

func pidLabel(pid int) byte {
	const digits = "0123456789ABCDEF"
	return digits[pid&0xF]
}

func labelColor(label byte) uint16 {
	switch label {
	case OwnerKernel:
		return 0x0D00
	case OwnerReserved, OwnerFree:
		return 0x0700
	case OwnerShared:
		return 0x0F00
	case OwnerUnknown:
		return 0x4F00
	}
	for pid := 1; pid < 16; pid++ {
		if pidLabel(pid) == label {
			return pidColors[(pid-1)%len(pidColors)]
		}
	}
	return 0x0700
}

func (v *Viewer) drawPhysical(owners [mem.NPages]byte) {
	v.con.Print(console.Pos(0, 32), 0x0F00, "PHYSICAL MEMORY")
	for pn := 0; pn < mem.NPages; pn++ {
		if pn%pagesPerRow == 0 {
			v.con.Printf(console.Pos(1+pn/pagesPerRow, 3), 0x0F00, "0x%06X ", pn*mem.PageSize)
		}
		label := owners[pn]
		v.con.SetCell(console.Pos(1+pn/pagesPerRow, 12+pn%pagesPerRow), labelColor(label)|uint16(label))
	}
}

func (v *Viewer) drawVirtual(p Process, owners [mem.NPages]byte) {
	v.con.Printf(console.Pos(10, 26), 0x0F00, "VIRTUAL ADDRESS SPACE FOR %d\n", p.PID)
	const vpages = mem.VirtualSize / mem.PageSize
	for vn := 0; vn < vpages; vn++ {
		va := uintptr(vn) * mem.PageSize
		row := 11 + vn/pagesPerRow
		if vn%pagesPerRow == 0 {
			v.con.Printf(console.Pos(row, 3), 0x0F00, "0x%06X ", va)
		}
		it := p.PageTable.Iter(va)
		cell := uint16(' ')
		switch {
		case !it.Present():
		case it.PA() >= mem.PhysicalSize:
			cell = 0x4F00 | '?'
		default:
			label := owners[it.PA()/mem.PageSize]
			cell = labelColor(label) | uint16(label)
			if !it.User() {
				// Kernel-only pages are drawn reversed.
				cell = (cell&0x0F00)<<4 | uint16(label)
			}
		}
		v.con.SetCell(console.Pos(row, 12+vn%pagesPerRow), cell)
	}
}
