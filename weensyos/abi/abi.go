// Package abi holds the system call numbers shared by the kernel and user
// programs. The call number travels in rax, the argument in rdi and the
// result comes back in rax.
package abi

const (
	SysPanic     = 1
	SysGetPID    = 2
	SysYield     = 3
	SysPageAlloc = 4
	SysFork      = 5
	SysExit      = 6
)

// Name returns a short name for a system call number.
func Name(n uint64) string {
	switch n {
	case SysPanic:
		return "panic"
	case SysGetPID:
		return "getpid"
	case SysYield:
		return "yield"
	case SysPageAlloc:
		return "page_alloc"
	case SysFork:
		return "fork"
	case SysExit:
		return "exit"
	default:
		return "unknown"
	}
}
