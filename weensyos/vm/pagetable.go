// Package vm implements x86-64 style four-level page tables stored in
// simulated physical memory.
//
// Table pages are ordinary frames; an entry holds a physical address plus
// permission bits, so walking the hierarchy is index arithmetic over the
// physical memory arena.
package vm

import (
	"encoding/binary"
	"fmt"

	"weensy/weensyos/mem"
)

// Perm is a set of page-table entry permission bits.
type Perm uint64

const (
	PermPresent  Perm = 1 << 0
	PermWritable Perm = 1 << 1
	PermUser     Perm = 1 << 2

	permMask Perm = 0xFFF
)

const (
	entriesPerTable = 512
	entrySize       = 8
	levels          = 4
	pageShift       = 12
	indexBits       = 9

	paMask = 0x000FFFFFFFFFF000
)

// NoAddr is the physical address reported for unmapped virtual pages.
const NoAddr = ^uintptr(0)

func (p Perm) String() string {
	b := []byte("---")
	if p&PermPresent != 0 {
		b[0] = 'P'
	}
	if p&PermWritable != 0 {
		b[1] = 'W'
	}
	if p&PermUser != 0 {
		b[2] = 'U'
	}
	return string(b)
}

// Allocator provides zero-or-sentinel filled pages for table structures.
type Allocator interface {
	Alloc(size int) (uintptr, bool)
}

// PageTable is an address space rooted at a top-level table page.
type PageTable struct {
	pm    *mem.Physical
	alloc Allocator
	root  uintptr
}

// NewPageTable allocates and zeroes a top-level table.
func NewPageTable(pm *mem.Physical, alloc Allocator) (*PageTable, error) {
	root, ok := alloc.Alloc(mem.PageSize)
	if !ok {
		return nil, fmt.Errorf("vm: allocate root table: %w", mem.ErrOutOfMemory)
	}
	pm.Fill(root, 0, mem.PageSize)
	return &PageTable{pm: pm, alloc: alloc, root: root}, nil
}

// Root returns the physical address of the top-level table.
func (pt *PageTable) Root() uintptr { return pt.root }

// Iter returns an iterator positioned at va.
func (pt *PageTable) Iter(va uintptr) *Iter {
	it := &Iter{pt: pt}
	return it.Find(va)
}

// Lookup returns the physical address and permissions mapped at va.
func (pt *PageTable) Lookup(va uintptr) (uintptr, Perm) {
	it := pt.Iter(va)
	return it.PA(), it.Perm()
}

// Tables returns the physical address of every intermediate table page,
// lowest level first. The root is not included.
func (pt *PageTable) Tables() []uintptr {
	var out []uintptr
	pt.collect(pt.root, levels-1, &out)
	return out
}

func (pt *PageTable) collect(table uintptr, level int, out *[]uintptr) {
	if level == 0 {
		return
	}
	for i := 0; i < entriesPerTable; i++ {
		e := pt.entry(table, i)
		if Perm(e)&PermPresent == 0 {
			continue
		}
		child := uintptr(e & paMask)
		pt.collect(child, level-1, out)
		*out = append(*out, child)
	}
}

func (pt *PageTable) entry(table uintptr, idx int) uint64 {
	return binary.LittleEndian.Uint64(pt.pm.Bytes(table+uintptr(idx*entrySize), entrySize))
}

func (pt *PageTable) setEntry(table uintptr, idx int, v uint64) {
	binary.LittleEndian.PutUint64(pt.pm.Bytes(table+uintptr(idx*entrySize), entrySize), v)
}

func index(level int, va uintptr) int {
	return int(va>>(pageShift+indexBits*uint(level))) & (entriesPerTable - 1)
}

// walk returns the physical address of the leaf table covering va. With
// create set, missing intermediate tables are allocated.
func (pt *PageTable) walk(va uintptr, create bool) (uintptr, error) {
	table := pt.root
	for level := levels - 1; level > 0; level-- {
		idx := index(level, va)
		e := pt.entry(table, idx)
		if Perm(e)&PermPresent != 0 {
			table = uintptr(e & paMask)
			continue
		}
		if !create {
			return 0, nil
		}
		next, ok := pt.alloc.Alloc(mem.PageSize)
		if !ok {
			return 0, fmt.Errorf("vm: allocate level %d table for %#x: %w", level-1, va, mem.ErrOutOfMemory)
		}
		pt.pm.Fill(next, 0, mem.PageSize)
		pt.setEntry(table, idx, uint64(next)|uint64(PermPresent|PermWritable|PermUser))
		table = next
	}
	return table, nil
}
