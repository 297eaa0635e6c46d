package kernel

import (
	"weensy/weensyos/abi"
	"weensy/weensyos/console"
	"weensy/weensyos/cpu"
	"weensy/weensyos/mem"
	"weensy/weensyos/vm"
)

// maxPanicMessage bounds the message read by the panic system call.
const maxPanicMessage = 160

// Exception handles an interrupt or fault taken while ctx.Proc was
// running. regs is the register state at the time of the trap.
func (k *Kernel) Exception(ctx *Context, regs *cpu.Regs) Action {
	return k.enter(func() Action {
		p := ctx.Proc
		p.Regs = *regs
		regs = &p.Regs

		// The view is not redrawn for kernel faults; it might fault again.
		if regs.IntNo != cpu.IntPageFault || vm.Fault(regs.ErrCode)&vm.FaultUser != 0 {
			k.memshow()
		}
		k.checkKeyboard()

		switch regs.IntNo {
		case cpu.IntTimer:
			k.ticks++
			k.cpu.AckTimer()
			return k.schedule(ctx)

		case cpu.IntPageFault:
			addr := k.cpu.CR2()
			f := vm.Fault(regs.ErrCode)
			if f&vm.FaultUser == 0 {
				k.panicf(ctx, "Kernel page fault on %#x (%s %s)!", addr, f.Operation(), f.Problem())
			}
			k.con.Printf(console.Pos(24, 0), consoleFaultColor,
				"Process %d page fault on %#x (%s %s, rip=%#x)!\n",
				p.PID, addr, f.Operation(), f.Problem(), regs.RIP)
			k.logf("proc %d: page fault on %#x (%s %s, rip=%#x)", p.PID, addr, f.Operation(), f.Problem(), regs.RIP)
			p.State = StateFaulted

		default:
			k.panicf(ctx, "Unexpected exception %d!", regs.IntNo)
		}

		if p.State == StateRunnable {
			return k.run(p)
		}
		return k.schedule(ctx)
	})
}

// Syscall handles a system call made by ctx.Proc. The call number is in
// rax, the argument in rdi; the result is returned in rax.
func (k *Kernel) Syscall(ctx *Context, regs *cpu.Regs) Action {
	return k.enter(func() Action {
		p := ctx.Proc
		p.Regs = *regs
		regs = &p.Regs

		k.memshow()
		k.checkKeyboard()

		switch regs.RAX() {
		case abi.SysPanic:
			k.userPanic(ctx, uintptr(regs.RDI()))
			return Action{}

		case abi.SysGetPID:
			regs.SetRAX(uint64(p.PID))
			return k.run(p)

		case abi.SysYield:
			regs.SetRAX(0)
			return k.schedule(ctx)

		case abi.SysPageAlloc:
			regs.SetRAX(uint64(int64(k.pageAlloc(p, uintptr(regs.RDI())))))
			return k.run(p)

		case abi.SysFork:
			regs.SetRAX(uint64(int64(k.fork(ctx))))
			return k.run(p)

		case abi.SysExit:
			k.exit(p)
			return k.schedule(ctx)

		default:
			k.panicf(ctx, "Unexpected system call %d!", regs.RAX())
			return Action{}
		}
	})
}

// pageAlloc maps a fresh zeroed page at va for p. An existing mapping at
// va is replaced without being released.
func (k *Kernel) pageAlloc(p *Proc, va uintptr) int {
	if va%mem.PageSize != 0 || va < mem.ProcStartAddr || va >= mem.VirtualSize {
		return -1
	}
	pa, ok := k.pm.Alloc(mem.PageSize)
	if !ok {
		return -1
	}
	if p.PageTable.Iter(va).TryMap(pa, vm.PermPresent|vm.PermWritable|vm.PermUser) != nil {
		k.pm.Free(pa)
		return -1
	}
	k.pm.Fill(pa, 0, mem.PageSize)
	return 0
}

// userPanic reads the NUL-terminated message at va in the caller's address
// space and stops the system with it. A bad pointer is a kernel fault.
func (k *Kernel) userPanic(ctx *Context, va uintptr) {
	msg := make([]byte, 0, 64)
	for len(msg) < maxPanicMessage {
		pa, f, ok := ctx.Proc.PageTable.Translate(va, vm.AccessRead, false)
		if !ok {
			k.panicf(ctx, "Kernel page fault on %#x (%s %s)!", va, f.Operation(), f.Problem())
		}
		b := k.pm.Bytes(pa, 1)[0]
		if b == 0 {
			break
		}
		msg = append(msg, b)
		va++
	}
	k.panicf(ctx, "%s", msg)
}
