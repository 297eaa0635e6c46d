// Package cpu is the simulated processor the kernel dispatches processes
// onto. It interprets a small fixed-width instruction set out of a
// process's virtual address space, checking every access through the
// current page table, and stops at the first trap.
package cpu

import (
	"encoding/binary"

	"weensy/weensyos/mem"
	"weensy/weensyos/vm"
)

// Interrupt vectors.
const (
	IntDivide     = 0
	IntBreakpoint = 3
	IntInvalidOp  = 6
	IntPageFault  = 14
	IntIRQ        = 32
	IRQTimer      = 0
	IntTimer      = IntIRQ + IRQTimer
)

// DefaultQuantum is the number of instructions between timer interrupts.
const DefaultQuantum = 1000

// TrapKind tells the kernel which entry point a trap arrives through.
type TrapKind uint8

const (
	TrapException TrapKind = iota + 1
	TrapSyscall
)

func (k TrapKind) String() string {
	switch k {
	case TrapException:
		return "exception"
	case TrapSyscall:
		return "syscall"
	default:
		return "unknown"
	}
}

// CPU executes user code for one process at a time.
type CPU struct {
	pm *mem.Physical
	pt *vm.PageTable

	cr2 uintptr

	quantum int
	left    int
	retired uint64
}

// New returns a CPU whose timer fires every quantum instructions.
func New(pm *mem.Physical, quantum int) *CPU {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &CPU{pm: pm, quantum: quantum, left: quantum}
}

// SetPageTable installs the address space used for subsequent execution.
func (c *CPU) SetPageTable(pt *vm.PageTable) { c.pt = pt }

// PageTable returns the installed address space.
func (c *CPU) PageTable() *vm.PageTable { return c.pt }

// CR2 returns the address of the most recent page fault.
func (c *CPU) CR2() uintptr { return c.cr2 }

// Retired returns the number of instructions completed so far.
func (c *CPU) Retired() uint64 { return c.retired }

// AckTimer re-arms the timer for a full quantum.
func (c *CPU) AckTimer() { c.left = c.quantum }

// Exec runs regs until a trap and returns how it trapped. regs.IntNo and
// regs.ErrCode describe exceptions; a faulting instruction leaves RIP
// pointing at itself so that it restarts on resumption.
func (c *CPU) Exec(regs *Regs) TrapKind {
	for {
		if c.left <= 0 {
			return c.exception(regs, IntTimer, 0)
		}

		var raw [InstrSize]byte
		if f, ok := c.read(uintptr(regs.RIP), raw[:]); !ok {
			return c.exception(regs, IntPageFault, uint64(f))
		}
		in := Decode(raw[:])
		if in.Op != OpINT3 && (in.A >= numRegs || in.B >= numRegs) {
			return c.exception(regs, IntInvalidOp, 0)
		}

		kind, vec, code, trapped := c.step(regs, in)
		if trapped {
			if kind == TrapSyscall {
				c.left--
				c.retired++
				return TrapSyscall
			}
			return c.exception(regs, vec, code)
		}
		c.left--
		c.retired++
	}
}

func (c *CPU) exception(regs *Regs, vec, code uint64) TrapKind {
	regs.IntNo = vec
	regs.ErrCode = code
	return TrapException
}

// step executes one instruction. A trapping instruction reports the trap
// instead of completing; syscall and int3 still advance RIP.
func (c *CPU) step(regs *Regs, in Instr) (kind TrapKind, vec, code uint64, trapped bool) {
	next := regs.RIP + InstrSize
	if in.Op == OpINT3 {
		regs.RIP = next
		return TrapException, IntBreakpoint, 0, true
	}
	a, b := &regs.GPR[in.A], &regs.GPR[in.B]
	imm := uint64(int64(in.Imm))

	fault := func(f vm.Fault) (TrapKind, uint64, uint64, bool) {
		return TrapException, IntPageFault, uint64(f), true
	}

	switch in.Op {
	case OpNOP:
	case OpMOVI:
		*a = imm
	case OpMOV:
		*a = *b
	case OpADD:
		*a += *b
	case OpADDI:
		*a += imm
	case OpSUB:
		*a -= *b
	case OpMULI:
		*a *= imm
	case OpANDI:
		*a &= imm
	case OpSHRI:
		*a >>= uint(in.Imm) & 63
	case OpREMI:
		if imm == 0 {
			return TrapException, IntDivide, 0, true
		}
		*a %= imm
	case OpLOAD, OpLOADB:
		n := 8
		if in.Op == OpLOADB {
			n = 1
		}
		var buf [8]byte
		if f, ok := c.read(uintptr(*b+imm), buf[:n]); !ok {
			return fault(f)
		}
		*a = binary.LittleEndian.Uint64(buf[:])
	case OpSTORE, OpSTOREB, OpSTOREH:
		n := 8
		switch in.Op {
		case OpSTOREB:
			n = 1
		case OpSTOREH:
			n = 2
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], *b)
		if f, ok := c.write(uintptr(*a+imm), buf[:n]); !ok {
			return fault(f)
		}
	case OpCMP, OpCMPI:
		rhs := *b
		if in.Op == OpCMPI {
			rhs = imm
		}
		regs.RFLAGS &^= FlagZero | FlagSign
		if *a == rhs {
			regs.RFLAGS |= FlagZero
		}
		if int64(*a) < int64(rhs) {
			regs.RFLAGS |= FlagSign
		}
	case OpJMP:
		next = uint64(uint32(in.Imm))
	case OpJEQ, OpJNE, OpJLT, OpJGE:
		zero := regs.RFLAGS&FlagZero != 0
		less := regs.RFLAGS&FlagSign != 0
		take := (in.Op == OpJEQ && zero) || (in.Op == OpJNE && !zero) ||
			(in.Op == OpJLT && less) || (in.Op == OpJGE && !less)
		if take {
			next = uint64(uint32(in.Imm))
		}
	case OpPUSH, OpCALL:
		v := *a
		if in.Op == OpCALL {
			v = next
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		sp := regs.GPR[RSP] - 8
		if f, ok := c.write(uintptr(sp), buf[:]); !ok {
			return fault(f)
		}
		regs.GPR[RSP] = sp
		if in.Op == OpCALL {
			next = uint64(uint32(in.Imm))
		}
	case OpPOP, OpRET:
		var buf [8]byte
		if f, ok := c.read(uintptr(regs.GPR[RSP]), buf[:]); !ok {
			return fault(f)
		}
		regs.GPR[RSP] += 8
		if in.Op == OpRET {
			next = binary.LittleEndian.Uint64(buf[:])
		} else {
			*a = binary.LittleEndian.Uint64(buf[:])
		}
	case OpSYSCALL:
		regs.RIP = next
		return TrapSyscall, 0, 0, true
	default:
		return TrapException, IntInvalidOp, 0, true
	}
	regs.RIP = next
	return 0, 0, 0, false
}

func (c *CPU) read(va uintptr, dst []byte) (vm.Fault, bool) {
	return c.access(va, dst, vm.AccessRead)
}

func (c *CPU) write(va uintptr, src []byte) (vm.Fault, bool) {
	return c.access(va, src, vm.AccessWrite)
}

// access copies between buf and user memory page by page. Every page is
// checked before any byte moves, so a faulting store has no effect.
func (c *CPU) access(va uintptr, buf []byte, acc vm.Access) (vm.Fault, bool) {
	if c.pt == nil {
		c.cr2 = va
		return vm.FaultUser, false
	}
	type span struct {
		pa  uintptr
		off int
		n   int
	}
	var spans [2]span
	ns := 0
	for off := 0; off < len(buf); {
		addr := va + uintptr(off)
		pa, f, ok := c.pt.Translate(addr, acc, true)
		if !ok {
			c.cr2 = addr
			return f, false
		}
		n := int(mem.PageSize - addr%mem.PageSize)
		if n > len(buf)-off {
			n = len(buf) - off
		}
		spans[ns] = span{pa: pa, off: off, n: n}
		ns++
		off += n
	}
	for _, s := range spans[:ns] {
		if acc == vm.AccessWrite {
			copy(c.pm.Bytes(s.pa, s.n), buf[s.off:s.off+s.n])
		} else {
			copy(buf[s.off:s.off+s.n], c.pm.Bytes(s.pa, s.n))
		}
	}
	return 0, true
}
