package cpu

import (
	"encoding/binary"
	"fmt"
)

// Op is an instruction opcode.
type Op uint8

const (
	OpNOP Op = iota
	OpMOVI
	OpMOV
	OpADD
	OpADDI
	OpSUB
	OpMULI
	OpANDI
	OpSHRI
	OpREMI
	OpLOAD
	OpSTORE
	OpLOADB
	OpSTOREB
	OpSTOREH
	OpCMP
	OpCMPI
	OpJMP
	OpJEQ
	OpJNE
	OpJLT
	OpJGE
	OpPUSH
	OpPOP
	OpCALL
	OpRET
	OpSYSCALL

	// OpINT3 matches the allocator's fill byte, so running uninitialized
	// memory traps immediately.
	OpINT3 Op = 0xCC
)

// InstrSize is the size of every encoded instruction.
const InstrSize = 8

var opNames = map[Op]string{
	OpNOP: "nop", OpMOVI: "movi", OpMOV: "mov", OpADD: "add", OpADDI: "addi",
	OpSUB: "sub", OpMULI: "muli", OpANDI: "andi", OpSHRI: "shri", OpREMI: "remi",
	OpLOAD: "load", OpSTORE: "store", OpLOADB: "loadb", OpSTOREB: "storeb",
	OpSTOREH: "storeh", OpCMP: "cmp", OpCMPI: "cmpi", OpJMP: "jmp", OpJEQ: "jeq",
	OpJNE: "jne", OpJLT: "jlt", OpJGE: "jge", OpPUSH: "push", OpPOP: "pop",
	OpCALL: "call", OpRET: "ret", OpSYSCALL: "syscall", OpINT3: "int3",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op?%#02x", uint8(o))
}

// Instr is one decoded instruction: [op][a][b][0][imm32 little endian].
type Instr struct {
	Op  Op
	A   Reg
	B   Reg
	Imm int32
}

// Encode writes the instruction into dst, which must hold InstrSize bytes.
func (in Instr) Encode(dst []byte) {
	dst[0] = byte(in.Op)
	dst[1] = byte(in.A)
	dst[2] = byte(in.B)
	dst[3] = 0
	binary.LittleEndian.PutUint32(dst[4:], uint32(in.Imm))
}

// Decode reads one instruction from src.
func Decode(src []byte) Instr {
	return Instr{
		Op:  Op(src[0]),
		A:   Reg(src[1]),
		B:   Reg(src[2]),
		Imm: int32(binary.LittleEndian.Uint32(src[4:])),
	}
}

func (in Instr) String() string {
	switch in.Op {
	case OpNOP, OpRET, OpSYSCALL, OpINT3:
		return in.Op.String()
	case OpMOV, OpADD, OpSUB, OpCMP:
		return fmt.Sprintf("%s %s, %s", in.Op, in.A, in.B)
	case OpMOVI, OpADDI, OpMULI, OpANDI, OpSHRI, OpREMI, OpCMPI:
		return fmt.Sprintf("%s %s, %d", in.Op, in.A, in.Imm)
	case OpLOAD, OpLOADB:
		return fmt.Sprintf("%s %s, [%s%+d]", in.Op, in.A, in.B, in.Imm)
	case OpSTORE, OpSTOREB, OpSTOREH:
		return fmt.Sprintf("%s [%s%+d], %s", in.Op, in.A, in.Imm, in.B)
	case OpJMP, OpJEQ, OpJNE, OpJLT, OpJGE, OpCALL:
		return fmt.Sprintf("%s %#x", in.Op, uint32(in.Imm))
	case OpPUSH, OpPOP:
		return fmt.Sprintf("%s %s", in.Op, in.A)
	}
	return fmt.Sprintf("%s %d, %d, %d", in.Op, in.A, in.B, in.Imm)
}
