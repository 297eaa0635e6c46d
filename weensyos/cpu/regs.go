package cpu

import "fmt"

// Reg names a general-purpose register.
type Reg uint8

const (
	RAX Reg = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	numRegs
)

var regNames = [numRegs]string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp"}

func (r Reg) String() string {
	if r < numRegs {
		return regNames[r]
	}
	return fmt.Sprintf("r?%d", uint8(r))
}

// Flag bits in Regs.RFLAGS.
const (
	FlagZero = 1 << 6
	FlagSign = 1 << 7
)

// Regs is the register state saved when a process traps into the kernel.
type Regs struct {
	GPR    [numRegs]uint64
	RIP    uint64
	RFLAGS uint64

	// IntNo and ErrCode describe the trap that saved this state.
	IntNo   uint64
	ErrCode uint64
}

func (r *Regs) RAX() uint64 { return r.GPR[RAX] }
func (r *Regs) RDI() uint64 { return r.GPR[RDI] }
func (r *Regs) RSP() uint64 { return r.GPR[RSP] }

func (r *Regs) SetRAX(v uint64) { r.GPR[RAX] = v }
func (r *Regs) SetRDI(v uint64) { r.GPR[RDI] = v }
func (r *Regs) SetRSP(v uint64) { r.GPR[RSP] = v }
