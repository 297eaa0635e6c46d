// Package app wires the simulated machine to a HAL: kernel log lines go to
// the HAL logger and the on-screen log pane, key presses go to the kernel's
// keyboard, and the console is redrawn after every batch of steps.
package app

import (
	"fmt"
	"runtime/debug"

	"weensy/hal"
	"weensy/internal/buildinfo"
	"weensy/weensyos/kernel"
	"weensy/weensyos/video"
)

// DefaultStepsPerTick is the number of kernel entries run per host
// millisecond tick.
const DefaultStepsPerTick = 64

// maxCatchUp bounds how many host ticks one step call will replay.
const maxCatchUp = 16

type Config struct {
	// Command selects the boot program: "", "fork", "forkexit" or any
	// registered program name.
	Command string
	Quantum int
	// MemoryView draws the memory map on the console.
	MemoryView   bool
	StepsPerTick int
	// ExitOnHalt makes the step function fail once the kernel halts.
	ExitOnHalt bool
}

type system struct {
	h   hal.HAL
	cfg Config

	m     *kernel.Machine
	video *video.Renderer
	fb    hal.Framebuffer
	ticks <-chan uint64

	halted  bool
	crashed bool
	err     error
}

// New boots the default allocator workload.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, Config{})
}

// NewWithConfig boots the machine described by cfg and returns the step
// function the host runner drives.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	s := newSystem(h, cfg)
	return s.step
}

func newSystem(h hal.HAL, cfg Config) *system {
	if cfg.StepsPerTick <= 0 {
		cfg.StepsPerTick = DefaultStepsPerTick
	}
	s := &system{h: h, cfg: cfg}

	if disp := h.Display(); disp != nil {
		if fb := disp.Framebuffer(); fb != nil {
			s.fb = fb
			s.video = video.New(fb)
		}
	}
	var kbd hal.Keyboard
	if in := h.Input(); in != nil {
		kbd = in.Keyboard()
	}
	if ht := h.Time(); ht != nil {
		s.ticks = ht.Ticks()
	}

	log := &fanoutLogger{hal: h.Logger(), pane: s.video}
	log.WriteLineString(buildinfo.String())

	s.m = kernel.NewMachine(kernel.Config{
		Quantum:    cfg.Quantum,
		Logger:     log,
		Keyboard:   keyboard{kb: kbd},
		MemoryView: cfg.MemoryView,
	})
	if _, err := s.m.Boot(cfg.Command); err != nil {
		log.WriteLineString(err.Error())
		s.err = err
	}
	return s
}

func (s *system) step() (err error) {
	if s.err != nil {
		return s.err
	}
	if s.crashed {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			s.crashed = true
			s.showPanic(v, debug.Stack())
			err = nil
			if s.cfg.ExitOnHalt {
				err = fmt.Errorf("simulator panic: %v", v)
			}
		}
	}()

	if !s.halted {
		for i, n := 0, s.budget(); i < n; i++ {
			act := s.m.Step()
			if act.Kind == kernel.ActionHalt {
				s.halted = true
				break
			}
		}
	}
	if s.video != nil {
		if k := s.m.Kernel(); k != nil {
			if err := s.video.Draw(k.Console()); err != nil {
				return err
			}
		}
	}
	if s.halted && s.cfg.ExitOnHalt {
		if k := s.m.Kernel(); k != nil && k.Halted() != nil {
			return k.Halted()
		}
		return kernel.ErrHalted
	}
	return nil
}

// budget converts elapsed host ticks into machine steps. Without a time
// source every call gets one tick's worth.
func (s *system) budget() int {
	if s.ticks == nil {
		return s.cfg.StepsPerTick
	}
	n := 0
drain:
	for n < maxCatchUp {
		select {
		case <-s.ticks:
			n++
		default:
			break drain
		}
	}
	return n * s.cfg.StepsPerTick
}

// fanoutLogger copies kernel log lines to the host logger and the log pane.
type fanoutLogger struct {
	hal  hal.Logger
	pane *video.Renderer
}

func (l *fanoutLogger) WriteLineString(s string) {
	if l.hal != nil {
		l.hal.WriteLineString(s)
	}
	if l.pane != nil {
		l.pane.WriteLineString(s)
	}
}

// keyboard adapts HAL key events to the kernel's polled keyboard. Only
// presses that carry a character count.
type keyboard struct {
	kb hal.Keyboard
}

func (k keyboard) PollKey() (rune, bool) {
	if k.kb == nil {
		return 0, false
	}
	ch := k.kb.Events()
	for {
		select {
		case ev := <-ch:
			if ev.Press && ev.Rune != 0 {
				return ev.Rune, true
			}
		default:
			return 0, false
		}
	}
}
