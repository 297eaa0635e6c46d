package mem

// Reserve hands out pages from a fixed physical range outside the
// allocator's accounting. The kernel uses it for its own page table, which
// lives in kernel data.
type Reserve struct {
	m    *Physical
	next uintptr
	end  uintptr
}

// NewReserve returns a bump allocator over [start, end).
func NewReserve(m *Physical, start, end uintptr) *Reserve {
	return &Reserve{m: m, next: RoundUp(start), end: end}
}

// Alloc returns the next unused page of the range.
func (r *Reserve) Alloc(size int) (uintptr, bool) {
	if size > PageSize || r.next+PageSize > r.end {
		return 0, false
	}
	pa := r.next
	r.next += PageSize
	r.m.Fill(pa, AllocSentinel, PageSize)
	return pa, true
}
