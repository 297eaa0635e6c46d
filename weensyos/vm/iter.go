package vm

import "weensy/weensyos/mem"

// Iter walks an address space one page at a time.
type Iter struct {
	pt   *PageTable
	va   uintptr
	leaf uintptr
	e    uint64
}

// Find moves the iterator to va.
func (it *Iter) Find(va uintptr) *Iter {
	it.va = va
	it.leaf, _ = it.pt.walk(va, false)
	it.e = 0
	if it.leaf != 0 {
		it.e = it.pt.entry(it.leaf, index(0, va))
	}
	return it
}

// Next advances to the next page.
func (it *Iter) Next() *Iter {
	return it.Find(mem.RoundDown(it.va) + mem.PageSize)
}

// VA returns the current virtual address.
func (it *Iter) VA() uintptr { return it.va }

// PA returns the physical address mapped at the current virtual address,
// or NoAddr if nothing is present there.
func (it *Iter) PA() uintptr {
	if Perm(it.e)&PermPresent == 0 {
		return NoAddr
	}
	return uintptr(it.e&paMask) + it.va%mem.PageSize
}

// Perm returns the permission bits of the current mapping, or 0 if the page
// is not present.
func (it *Iter) Perm() Perm {
	if Perm(it.e)&PermPresent == 0 {
		return 0
	}
	return Perm(it.e) & permMask
}

func (it *Iter) Present() bool { return it.Perm()&PermPresent != 0 }
func (it *Iter) Writable() bool { return it.Perm()&(PermPresent|PermWritable) == PermPresent|PermWritable }
func (it *Iter) User() bool { return it.Perm()&(PermPresent|PermUser) == PermPresent|PermUser }

// TryMap maps the current page to pa with perm. Missing intermediate
// tables are allocated only when perm includes PermPresent; a non-present
// perm clears an existing entry. The previous mapping, if any, is replaced
// without being released.
func (it *Iter) TryMap(pa uintptr, perm Perm) error {
	if perm&PermPresent == 0 {
		if it.leaf != 0 {
			it.pt.setEntry(it.leaf, index(0, it.va), 0)
			it.e = 0
		}
		return nil
	}
	leaf, err := it.pt.walk(it.va, true)
	if err != nil {
		return err
	}
	it.leaf = leaf
	it.e = uint64(mem.RoundDown(pa)) | uint64(perm&permMask)
	it.pt.setEntry(leaf, index(0, it.va), it.e)
	return nil
}

// Map is TryMap for callers that cannot recover from a failed mapping.
func (it *Iter) Map(pa uintptr, perm Perm) {
	if err := it.TryMap(pa, perm); err != nil {
		panic(err)
	}
}
