//go:build !tinygo

// Command objdump lists the built-in program images and disassembles their
// text segments.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"weensy/weensyos/abi"
	"weensy/weensyos/cpu"
	"weensy/weensyos/program"
)

func main() {
	list := flag.Bool("l", false, "List program names and exit.")
	headers := flag.Bool("h", false, "Print segment headers only.")
	syscalls := flag.Bool("s", false, "List system call sites instead of disassembling.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: objdump [-l] [-h] [-s] [program...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	mode := modeDisasm
	switch {
	case *headers:
		mode = modeHeaders
	case *syscalls:
		mode = modeSyscalls
	}
	if err := run(os.Stdout, *list, mode, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type dumpMode int

const (
	modeDisasm dumpMode = iota
	modeHeaders
	modeSyscalls
)

func run(w io.Writer, list bool, mode dumpMode, names []string) error {
	if list {
		for _, name := range program.Names() {
			fmt.Fprintln(w, name)
		}
		return nil
	}
	if len(names) == 0 {
		names = program.Names()
	}
	for i, name := range names {
		img, ok := program.Lookup(name)
		if !ok {
			return fmt.Errorf("objdump: unknown program %q", name)
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		dump(w, img, mode)
	}
	return nil
}

func dump(w io.Writer, img *program.Image, mode dumpMode) {
	fmt.Fprintf(w, "%s: entry %#x\n", img.Name, img.Entry)
	for _, seg := range img.Segments {
		perm := "r-x"
		if seg.Writable {
			perm = "rw-"
		}
		fmt.Fprintf(w, "  %s %#08x filesz %#x memsz %#x\n", perm, seg.VA, len(seg.Data), seg.Size)
	}
	for _, seg := range img.Segments {
		if seg.Writable {
			continue
		}
		switch mode {
		case modeDisasm:
			fmt.Fprintf(w, "\n%s <%#x>:\n", img.Name, seg.VA)
			fmt.Fprint(w, cpu.Disassemble(seg.Data, uint64(seg.VA)))
		case modeSyscalls:
			syscallSites(w, seg)
		}
	}
}

// syscallSites prints every syscall instruction with the call number last
// loaded into rax before it, when that is a constant.
func syscallSites(w io.Writer, seg program.Segment) {
	num := int64(-1)
	for off := 0; off+cpu.InstrSize <= len(seg.Data); off += cpu.InstrSize {
		in := cpu.Decode(seg.Data[off:])
		switch {
		case in.Op == cpu.OpMOVI && in.A == cpu.RAX:
			num = int64(in.Imm)
		case in.Op == cpu.OpSYSCALL:
			name := "?"
			if num >= 0 {
				name = abi.Name(uint64(num))
			}
			fmt.Fprintf(w, "  %#x\tsyscall %s\n", uint64(seg.VA)+uint64(off), name)
			num = -1
		case in.A == cpu.RAX && writesA[in.Op]:
			num = -1
		}
	}
}

// writesA holds the opcodes whose A operand is a destination register.
var writesA = map[cpu.Op]bool{
	cpu.OpMOV: true, cpu.OpADD: true, cpu.OpADDI: true, cpu.OpSUB: true,
	cpu.OpMULI: true, cpu.OpANDI: true, cpu.OpSHRI: true, cpu.OpREMI: true,
	cpu.OpLOAD: true, cpu.OpLOADB: true, cpu.OpPOP: true,
}
