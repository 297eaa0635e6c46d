package cpu

import (
	"fmt"
	"strings"
)

// Asm builds machine code for a fixed load address. Jump targets may refer
// to labels defined before or after the jump.
type Asm struct {
	base   uint64
	code   []Instr
	labels map[string]uint64
	fixups []fixup
}

type fixup struct {
	idx   int
	label string
}

// NewAsm returns an assembler for code loaded at base.
func NewAsm(base uint64) *Asm {
	return &Asm{base: base, labels: make(map[string]uint64)}
}

// PC returns the address of the next emitted instruction.
func (a *Asm) PC() uint64 { return a.base + uint64(len(a.code))*InstrSize }

// Label binds name to the current PC.
func (a *Asm) Label(name string) { a.labels[name] = a.PC() }

// Emit appends one instruction.
func (a *Asm) Emit(in Instr) { a.code = append(a.code, in) }

func (a *Asm) emitJump(op Op, label string) {
	a.fixups = append(a.fixups, fixup{idx: len(a.code), label: label})
	a.Emit(Instr{Op: op})
}

func (a *Asm) Nop() { a.Emit(Instr{Op: OpNOP}) }
func (a *Asm) Movi(r Reg, v int32) { a.Emit(Instr{Op: OpMOVI, A: r, Imm: v}) }
func (a *Asm) Mov(dst, src Reg) { a.Emit(Instr{Op: OpMOV, A: dst, B: src}) }
func (a *Asm) Add(dst, src Reg) { a.Emit(Instr{Op: OpADD, A: dst, B: src}) }
func (a *Asm) Addi(r Reg, v int32) { a.Emit(Instr{Op: OpADDI, A: r, Imm: v}) }
func (a *Asm) Sub(dst, src Reg) { a.Emit(Instr{Op: OpSUB, A: dst, B: src}) }
func (a *Asm) Muli(r Reg, v int32) { a.Emit(Instr{Op: OpMULI, A: r, Imm: v}) }
func (a *Asm) Andi(r Reg, v int32) { a.Emit(Instr{Op: OpANDI, A: r, Imm: v}) }
func (a *Asm) Shri(r Reg, v int32) { a.Emit(Instr{Op: OpSHRI, A: r, Imm: v}) }
func (a *Asm) Remi(r Reg, v int32) { a.Emit(Instr{Op: OpREMI, A: r, Imm: v}) }
func (a *Asm) Load(dst, base Reg, off int32) { a.Emit(Instr{Op: OpLOAD, A: dst, B: base, Imm: off}) }
func (a *Asm) Loadb(dst, base Reg, off int32) { a.Emit(Instr{Op: OpLOADB, A: dst, B: base, Imm: off}) }
func (a *Asm) Store(base Reg, off int32, src Reg) { a.Emit(Instr{Op: OpSTORE, A: base, B: src, Imm: off}) }
func (a *Asm) Storeb(base Reg, off int32, src Reg) { a.Emit(Instr{Op: OpSTOREB, A: base, B: src, Imm: off}) }
func (a *Asm) Storeh(base Reg, off int32, src Reg) { a.Emit(Instr{Op: OpSTOREH, A: base, B: src, Imm: off}) }
func (a *Asm) Cmp(x, y Reg) { a.Emit(Instr{Op: OpCMP, A: x, B: y}) }
func (a *Asm) Cmpi(x Reg, v int32) { a.Emit(Instr{Op: OpCMPI, A: x, Imm: v}) }
func (a *Asm) Jmp(label string) { a.emitJump(OpJMP, label) }
func (a *Asm) Jeq(label string) { a.emitJump(OpJEQ, label) }
func (a *Asm) Jne(label string) { a.emitJump(OpJNE, label) }
func (a *Asm) Jlt(label string) { a.emitJump(OpJLT, label) }
func (a *Asm) Jge(label string) { a.emitJump(OpJGE, label) }
func (a *Asm) Call(label string) { a.emitJump(OpCALL, label) }
func (a *Asm) Ret() { a.Emit(Instr{Op: OpRET}) }
func (a *Asm) Push(r Reg) { a.Emit(Instr{Op: OpPUSH, A: r}) }
func (a *Asm) Pop(r Reg) { a.Emit(Instr{Op: OpPOP, A: r}) }
func (a *Asm) Syscall() { a.Emit(Instr{Op: OpSYSCALL}) }
func (a *Asm) Int3() { a.Emit(Instr{Op: OpINT3}) }

// Assemble resolves labels and returns the encoded program.
func (a *Asm) Assemble() ([]byte, error) {
	for _, f := range a.fixups {
		addr, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("asm: undefined label %q", f.label)
		}
		a.code[f.idx].Imm = int32(uint32(addr))
	}
	out := make([]byte, len(a.code)*InstrSize)
	for i, in := range a.code {
		in.Encode(out[i*InstrSize:])
	}
	return out, nil
}

// Disassemble formats code loaded at base, one instruction per line.
func Disassemble(code []byte, base uint64) string {
	var sb strings.Builder
	for off := 0; off+InstrSize <= len(code); off += InstrSize {
		fmt.Fprintf(&sb, "%8x:\t%s\n", base+uint64(off), Decode(code[off:]))
	}
	return sb.String()
}
