package kernel

import (
	"weensy/weensyos/cpu"
	"weensy/weensyos/vm"
)

// NProc is the capacity of the process table. Slot 0 is never used, so
// PIDs run from 1 to NProc-1.
const NProc = 16

// State is a process's lifecycle state.
type State uint8

const (
	StateFree State = iota
	StateRunnable
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateRunnable:
		return "runnable"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Proc is a process descriptor.
type Proc struct {
	PID       int
	State     State
	Regs      cpu.Regs
	PageTable *vm.PageTable
}
