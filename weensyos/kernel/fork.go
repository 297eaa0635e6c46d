package kernel

import (
	"weensy/weensyos/mem"
	"weensy/weensyos/vm"
)

// fork duplicates the current process into the lowest free slot and
// returns the child's PID, or -1 if no slot or memory is available.
//
// Kernel-shared pages are mapped into the child as is. Writable user pages
// are copied. Read-only user pages are shared and gain a reference. On
// failure the partial child is torn down and every frame count is left as
// it was; the parent is never modified.
func (k *Kernel) fork(ctx *Context) int {
	parent := ctx.Proc
	pid := 0
	for i := 1; i < NProc; i++ {
		if k.ptable[i].State == StateFree {
			pid = i
			break
		}
	}
	if pid == 0 {
		return -1
	}

	pt, err := vm.NewPageTable(k.pm, k.pm)
	if err != nil {
		return -1
	}
	child := &k.ptable[pid]
	*child = Proc{PID: pid, State: StateFree, PageTable: pt}

	if !k.copyAddressSpace(parent.PageTable, pt) {
		k.exit(child)
		return -1
	}

	child.Regs = parent.Regs
	child.Regs.SetRAX(0)
	child.State = StateRunnable
	return pid
}

func (k *Kernel) copyAddressSpace(src, dst *vm.PageTable) bool {
	dit := dst.Iter(0)
	for it := src.Iter(0); it.VA() < mem.VirtualSize; it.Next() {
		if !it.Present() {
			continue
		}
		dit.Find(it.VA())
		switch {
		case it.VA() < mem.ProcStartAddr:
			if dit.TryMap(it.PA(), it.Perm()) != nil {
				return false
			}
		case it.Writable() && it.User():
			pa, ok := k.pm.Alloc(mem.PageSize)
			if !ok {
				return false
			}
			k.pm.Copy(pa, it.PA(), mem.PageSize)
			if dit.TryMap(pa, it.Perm()) != nil {
				k.pm.Free(pa)
				return false
			}
		case it.User():
			if dit.TryMap(it.PA(), it.Perm()) != nil {
				return false
			}
			k.pm.Ref(it.PA())
		default:
			if dit.TryMap(it.PA(), it.Perm()) != nil {
				return false
			}
		}
	}
	return true
}

// exit releases every frame p owns: its user pages (once per mapping, so
// shared pages lose one reference), then its page-table pages. The slot
// becomes free.
func (k *Kernel) exit(p *Proc) {
	pt := p.PageTable
	if pt != nil {
		for it := pt.Iter(mem.ProcStartAddr); it.VA() < mem.VirtualSize; it.Next() {
			if it.User() && it.VA() != mem.ConsoleAddr {
				k.pm.Free(mem.RoundDown(it.PA()))
			}
		}
		for _, t := range pt.Tables() {
			k.pm.Free(t)
		}
		k.pm.Free(pt.Root())
	}
	p.State = StateFree
	p.PageTable = nil
}
