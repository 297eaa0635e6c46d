package program

import (
	"weensy/weensyos/abi"
	"weensy/weensyos/cpu"
	"weensy/weensyos/mem"
)

// AllocSlowdown controls how often the allocator programs grab a page: a
// process with PID p allocates on roughly p of every AllocSlowdown turns.
const AllocSlowdown = 100

// Layout of every program's data page.
const (
	offSeed        = 0
	offHeapTop     = 8
	offStackBottom = 16
	offPID         = 24
	offIsChild     = 32
	offMessage     = 64
)

func init() {
	Register(mustBuild("allocator", 0x100000, allocatorMain))
	Register(mustBuild("allocator2", 0x140000, allocatorMain))
	Register(mustBuild("allocator3", 0x180000, allocatorMain))
	Register(mustBuild("allocator4", 0x1C0000, allocatorMain))
	Register(mustBuild("fork", 0x100000, forkMain))
	Register(mustBuild("forkexit", 0x100000, forkExitMain))
	Register(mustBuild("faulter", 0x100000, faulterMain))
	Register(mustBuild("spy", 0x100000, spyMain))
}

// layout describes where a program's text, data and heap live.
type layout struct {
	text uintptr
	data uintptr
	heap uintptr
}

func mustBuild(name string, base uintptr, body func(a *cpu.Asm, l layout)) *Image {
	l := layout{
		text: base,
		data: base + mem.PageSize,
		heap: base + 2*mem.PageSize,
	}
	a := cpu.NewAsm(uint64(l.text))
	body(a, l)
	emitRand(a, l)
	code, err := a.Assemble()
	if err != nil {
		panic("program " + name + ": " + err.Error())
	}
	if len(code) > mem.PageSize {
		panic("program " + name + ": text exceeds one page")
	}

	data := make([]byte, offMessage)
	data = append(data, name+": fork failed!\x00"...)

	return &Image{
		Name:  name,
		Entry: l.text,
		Segments: []Segment{
			{VA: l.text, Data: code, Size: uintptr(len(code))},
			{VA: l.data, Data: data, Size: mem.PageSize, Writable: true},
		},
	}
}

// emitRand emits "rand": rax = next pseudo-random number in [0, 0x7fff],
// using the seed stored in the data page.
func emitRand(a *cpu.Asm, l layout) {
	a.Label("rand")
	a.Movi(cpu.RSI, int32(l.data))
	a.Load(cpu.RAX, cpu.RSI, offSeed)
	a.Muli(cpu.RAX, 1103515245)
	a.Addi(cpu.RAX, 12345)
	a.Store(cpu.RSI, offSeed, cpu.RAX)
	a.Shri(cpu.RAX, 16)
	a.Andi(cpu.RAX, 0x7fff)
	a.Ret()
}

// emitSetup records the PID, seeds the generator and computes the heap and
// stack bounds.
func emitSetup(a *cpu.Asm, l layout) {
	a.Movi(cpu.RAX, abi.SysGetPID)
	a.Syscall()
	a.Movi(cpu.RSI, int32(l.data))
	a.Store(cpu.RSI, offPID, cpu.RAX)
	a.Store(cpu.RSI, offSeed, cpu.RAX)
	a.Movi(cpu.RCX, int32(l.heap))
	a.Store(cpu.RSI, offHeapTop, cpu.RCX)
	a.Mov(cpu.RCX, cpu.RSP)
	a.Addi(cpu.RCX, -1)
	a.Andi(cpu.RCX, -mem.PageSize)
	a.Store(cpu.RSI, offStackBottom, cpu.RCX)
}

// emitGrow allocates the page at heap_top, touches it with the PID and
// advances heap_top. It jumps to full when the heap meets the stack or the
// kernel refuses.
func emitGrow(a *cpu.Asm, l layout, full string) {
	a.Movi(cpu.RSI, int32(l.data))
	a.Load(cpu.RCX, cpu.RSI, offHeapTop)
	a.Load(cpu.RDX, cpu.RSI, offStackBottom)
	a.Cmp(cpu.RCX, cpu.RDX)
	a.Jeq(full)
	a.Movi(cpu.RAX, abi.SysPageAlloc)
	a.Mov(cpu.RDI, cpu.RCX)
	a.Syscall()
	a.Cmpi(cpu.RAX, 0)
	a.Jlt(full)
	a.Load(cpu.RBX, cpu.RSI, offPID)
	a.Storeb(cpu.RCX, 0, cpu.RBX)
	a.Addi(cpu.RCX, mem.PageSize)
	a.Store(cpu.RSI, offHeapTop, cpu.RCX)
}

func emitYield(a *cpu.Asm) {
	a.Movi(cpu.RAX, abi.SysYield)
	a.Syscall()
}

// allocatorMain: on each turn, with probability pid/AllocSlowdown, grow
// the heap by a page; once memory runs out, yield forever.
func allocatorMain(a *cpu.Asm, l layout) {
	emitSetup(a, l)
	emitAllocatorLoop(a, l)
}

func emitAllocatorLoop(a *cpu.Asm, l layout) {
	a.Label("loop")
	a.Call("rand")
	a.Remi(cpu.RAX, AllocSlowdown)
	a.Movi(cpu.RSI, int32(l.data))
	a.Load(cpu.RBX, cpu.RSI, offPID)
	a.Cmp(cpu.RAX, cpu.RBX)
	a.Jge("yield")
	emitGrow(a, l, "done")
	a.Label("yield")
	emitYield(a)
	a.Jmp("loop")

	a.Label("done")
	emitYield(a)
	a.Jmp("done")
}

// forkMain forks twice, so four processes share the text page, then each
// runs the allocator loop.
func forkMain(a *cpu.Asm, l layout) {
	for i := 0; i < 2; i++ {
		a.Movi(cpu.RAX, abi.SysFork)
		a.Syscall()
		a.Cmpi(cpu.RAX, 0)
		a.Jlt("fail")
	}
	emitSetup(a, l)
	emitAllocatorLoop(a, l)

	a.Label("fail")
	a.Movi(cpu.RDI, int32(l.data+offMessage))
	a.Movi(cpu.RAX, abi.SysPanic)
	a.Syscall()
}

// forkExitMain keeps forking; children occasionally exit, so slots and
// frames are recycled continuously.
func forkExitMain(a *cpu.Asm, l layout) {
	emitSetup(a, l)

	a.Label("loop")
	a.Call("rand")
	a.Remi(cpu.RAX, AllocSlowdown)
	a.Cmpi(cpu.RAX, 5)
	a.Jge("maybe_exit")
	a.Movi(cpu.RAX, abi.SysFork)
	a.Syscall()
	a.Cmpi(cpu.RAX, 0)
	a.Jne("maybe_exit")
	// Child: remember it and reseed from the new PID.
	a.Movi(cpu.RSI, int32(l.data))
	a.Movi(cpu.RBX, 1)
	a.Store(cpu.RSI, offIsChild, cpu.RBX)
	a.Movi(cpu.RAX, abi.SysGetPID)
	a.Syscall()
	a.Store(cpu.RSI, offPID, cpu.RAX)
	a.Store(cpu.RSI, offSeed, cpu.RAX)

	a.Label("maybe_exit")
	a.Movi(cpu.RSI, int32(l.data))
	a.Load(cpu.RBX, cpu.RSI, offIsChild)
	a.Cmpi(cpu.RBX, 1)
	a.Jne("maybe_grow")
	a.Call("rand")
	a.Remi(cpu.RAX, AllocSlowdown)
	a.Cmpi(cpu.RAX, 3)
	a.Jge("maybe_grow")
	a.Movi(cpu.RAX, abi.SysExit)
	a.Syscall()

	a.Label("maybe_grow")
	a.Call("rand")
	a.Remi(cpu.RAX, AllocSlowdown)
	a.Cmpi(cpu.RAX, 10)
	a.Jge("yield")
	emitGrow(a, l, "yield")
	a.Label("yield")
	emitYield(a)
	a.Jmp("loop")
}

// faulterMain writes into its own read-only text.
func faulterMain(a *cpu.Asm, l layout) {
	a.Movi(cpu.RBX, int32(l.text))
	a.Storeb(cpu.RBX, 0, cpu.RBX)
	a.Label("spin")
	emitYield(a)
	a.Jmp("spin")
}

// spyMain reads kernel memory, which is mapped but not user-accessible.
func spyMain(a *cpu.Asm, l layout) {
	a.Movi(cpu.RBX, mem.KernelStartAddr)
	a.Load(cpu.RCX, cpu.RBX, 0)
	a.Label("spin")
	emitYield(a)
	a.Jmp("spin")
}
