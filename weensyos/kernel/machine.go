package kernel

import (
	"context"
	"errors"
	"fmt"

	"weensy/weensyos/cpu"
)

// ErrHalted is returned by Run once the kernel has stopped.
var ErrHalted = errors.New("kernel: halted")

// Machine drives a kernel: it runs the dispatched process on the CPU until
// it traps, hands the trap to the kernel, and repeats. Every Step handles
// exactly one trap.
type Machine struct {
	cfg Config

	k    *Kernel
	next Action
	ctx  *Context

	steps uint64
}

// NewMachine returns an unbooted machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Kernel returns the running kernel, or nil before Boot.
func (m *Machine) Kernel() *Kernel { return m.k }

// Steps returns the number of traps handled since power-on.
func (m *Machine) Steps() uint64 { return m.steps }

// Boot powers the machine on with fresh memory and starts the kernel with
// command.
func (m *Machine) Boot(command string) (Action, error) {
	k, err := New(m.cfg)
	if err != nil {
		return Action{}, fmt.Errorf("boot: %w", err)
	}
	m.k = k
	m.ctx = &Context{}
	m.next = k.Start(command)
	return m.next, nil
}

// Step advances the machine by one kernel entry and returns the action it
// produced.
func (m *Machine) Step() Action {
	if m.k == nil {
		return Action{Kind: ActionHalt}
	}
	switch m.next.Kind {
	case ActionRun:
		p := m.next.Proc
		m.ctx = &Context{Proc: p}
		regs := p.Regs
		m.k.cpu.SetPageTable(p.PageTable)
		kind := m.k.cpu.Exec(&regs)
		if kind == cpu.TrapSyscall {
			m.next = m.k.Syscall(m.ctx, &regs)
		} else {
			m.next = m.k.Exception(m.ctx, &regs)
		}
	case ActionIdle:
		m.next = m.k.Idle(m.ctx)
	case ActionReboot:
		cmd := m.next.Command
		m.k.logf("rebooting with %q", cmd)
		if _, err := m.Boot(cmd); err != nil {
			m.next = Action{Kind: ActionHalt}
		}
		return m.next
	default:
		return m.next
	}
	m.steps++
	return m.next
}

// Run steps the machine until it halts, ctx is cancelled or maxSteps
// entries have been handled (maxSteps <= 0 means no limit).
func (m *Machine) Run(ctx context.Context, maxSteps int) (Action, error) {
	for n := 0; maxSteps <= 0 || n < maxSteps; n++ {
		if err := ctx.Err(); err != nil {
			return m.next, err
		}
		act := m.Step()
		if act.Kind == ActionHalt {
			if act.Panic != nil {
				return act, act.Panic
			}
			return act, ErrHalted
		}
	}
	return m.next, nil
}
