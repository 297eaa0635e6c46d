package kernel

// schedule picks the next runnable process after the current one,
// wrapping around the table. If none is runnable it returns ActionIdle and
// Idle continues the search.
func (k *Kernel) schedule(ctx *Context) Action {
	k.spinPID = ctx.pid()
	k.spins = 0
	return k.sweep(ctx)
}

// Idle continues an idle scheduler: one more pass over the process table.
func (k *Kernel) Idle(ctx *Context) Action {
	return k.enter(func() Action { return k.sweep(ctx) })
}

func (k *Kernel) sweep(ctx *Context) Action {
	for i := 0; i < NProc; i++ {
		k.spins++
		k.spinPID = (k.spinPID + 1) % NProc
		if p := &k.ptable[k.spinPID]; p.State == StateRunnable {
			return k.run(p)
		}

		k.checkKeyboard()
		if k.spins%spinsPerView == 0 {
			k.memshow()
			k.logf("%d", k.spins)
		}
	}
	return Action{Kind: ActionIdle, Proc: ctx.Proc}
}

// run dispatches p.
func (k *Kernel) run(p *Proc) Action {
	ctx := &Context{Proc: p}
	if p.State != StateRunnable {
		k.panicf(ctx, "assertion failed: run pid %d in state %s", p.PID, p.State)
	}
	k.checkPageTable(ctx, p.PageTable)
	return Action{Kind: ActionRun, Proc: p}
}
