package console

import (
	"testing"

	"weensy/weensyos/mem"
)

func TestPrintfLine(t *testing.T) {
	c := New(mem.NewPhysical())
	c.Clear()
	end := c.Printf(Pos(24, 0), Error, "Process %d page fault!", 3)
	if got, want := c.Line(24), "Process 3 page fault!"; got != want {
		t.Fatalf("Line(24) = %q, want %q", got, want)
	}
	if end != Pos(24, 21) {
		t.Fatalf("Printf() = %d, want %d", end, Pos(24, 21))
	}
	if got := c.Cell(Pos(24, 0)); got != Error|'P' {
		t.Fatalf("Cell() = %#x, want %#x", got, Error|'P')
	}
}

func TestPrintNewlineAndClip(t *testing.T) {
	c := New(mem.NewPhysical())
	c.Clear()
	pos := c.Print(Pos(0, 2), Normal, "ab\ncd")
	if c.Line(0) != "  ab" {
		t.Fatalf("Line(0) = %q", c.Line(0))
	}
	if c.Line(1) != "cd" || pos != Pos(1, 2) {
		t.Fatalf("Line(1) = %q, pos = %d", c.Line(1), pos)
	}
	if got := c.Print(Size-1, Normal, "xyz"); got != Size {
		t.Fatalf("Print() at end = %d, want %d", got, Size)
	}
}

func TestSharedWithPhysicalMemory(t *testing.T) {
	pm := mem.NewPhysical()
	c := New(pm)
	pm.Bytes(mem.ConsoleAddr, 2)[0] = 'Z'
	if c.Char(0) != 'Z' {
		t.Fatalf("Char(0) = %q, want 'Z'", c.Char(0))
	}
}

func TestAttr(t *testing.T) {
	if got := Attr(ColorLightGray, ColorBlack); got != Normal {
		t.Fatalf("Attr() = %#x, want %#x", got, Normal)
	}
}
