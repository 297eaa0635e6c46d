package kernel

import "fmt"

// ActionKind says what the machine does after a kernel entry returns.
type ActionKind uint8

const (
	// ActionRun resumes Action.Proc in user mode.
	ActionRun ActionKind = iota + 1
	// ActionIdle means nothing is runnable; the machine keeps spinning.
	ActionIdle
	// ActionHalt stops the machine. Action.Panic is set unless the halt
	// was requested from the keyboard.
	ActionHalt
	// ActionReboot restarts the machine with Action.Command.
	ActionReboot
)

func (k ActionKind) String() string {
	switch k {
	case ActionRun:
		return "run"
	case ActionIdle:
		return "idle"
	case ActionHalt:
		return "halt"
	case ActionReboot:
		return "reboot"
	default:
		return "unknown"
	}
}

// Action is the outcome of a kernel entry. Kernel entries never return to
// the code that trapped; they say where control goes next.
type Action struct {
	Kind    ActionKind
	Proc    *Proc
	Panic   *Panic
	Command string
}

// Panic describes a fatal kernel error.
type Panic struct {
	Message string
	// PID is the process that was current, or 0.
	PID int
}

func (p *Panic) Error() string { return "PANIC: " + p.Message }

// Context is the scheduling context of one kernel entry: the process that
// was running when the trap arrived. It is nil before the first dispatch.
type Context struct {
	Proc *Proc
}

func (c *Context) pid() int {
	if c == nil || c.Proc == nil {
		return 0
	}
	return c.Proc.PID
}

// keyboardRequest unwinds a kernel entry after a keyboard command.
type keyboardRequest struct {
	reboot  bool
	command string
}

func (k *Kernel) panicf(ctx *Context, format string, args ...any) {
	panic(&Panic{Message: fmt.Sprintf(format, args...), PID: ctx.pid()})
}

// enter runs one kernel entry. Kernel panics and keyboard commands unwind
// to here and become the entry's Action.
func (k *Kernel) enter(fn func() Action) (act Action) {
	if k.halted != nil {
		return Action{Kind: ActionHalt, Panic: k.halted}
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch v := r.(type) {
		case *Panic:
			act = k.halt(v)
		case keyboardRequest:
			if v.reboot {
				act = Action{Kind: ActionReboot, Command: v.command}
			} else {
				k.logf("keyboard abort")
				act = Action{Kind: ActionHalt}
			}
		default:
			panic(r)
		}
	}()
	return fn()
}

// halt records p, reports it and invokes the panic handler once.
func (k *Kernel) halt(p *Panic) Action {
	k.halted = p
	k.logf("%s", p.Error())
	k.con.Printf(consolePanicPos, consolePanicColor, "%s\n", p.Error())
	if k.onPanic != nil {
		k.onPanic(p)
	}
	return Action{Kind: ActionHalt, Panic: p}
}
