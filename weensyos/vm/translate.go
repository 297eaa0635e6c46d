package vm

// Access describes a memory access checked by Translate.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
)

// Fault is an x86 page-fault error code: FaultPresent set means a
// protection problem (the page was present), FaultWrite a write access and
// FaultUser an access made in user mode.
type Fault uint64

const (
	FaultPresent = Fault(PermPresent)
	FaultWrite   = Fault(PermWritable)
	FaultUser    = Fault(PermUser)
)

func (f Fault) Operation() string {
	if f&FaultWrite != 0 {
		return "write"
	}
	return "read"
}

func (f Fault) Problem() string {
	if f&FaultPresent != 0 {
		return "protection problem"
	}
	return "missing page"
}

// Translate resolves va for an access made with user privilege when user
// is set. ok is false when the access faults; fault then holds the error
// code the MMU reports.
func (pt *PageTable) Translate(va uintptr, access Access, user bool) (pa uintptr, fault Fault, ok bool) {
	if user {
		fault |= FaultUser
	}
	if access == AccessWrite {
		fault |= FaultWrite
	}

	it := pt.Iter(va)
	perm := it.Perm()
	if perm&PermPresent == 0 {
		return 0, fault, false
	}
	fault |= FaultPresent
	if user && perm&PermUser == 0 {
		return 0, fault, false
	}
	if access == AccessWrite && perm&PermWritable == 0 {
		return 0, fault, false
	}
	return it.PA(), 0, true
}
