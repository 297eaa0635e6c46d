// Package console is the 80x25 CGA text screen. Its cells live in
// physical memory at mem.ConsoleAddr, so user processes that map the
// console page write to the same buffer the kernel does.
package console

import (
	"encoding/binary"
	"fmt"

	"weensy/weensyos/mem"
)

const (
	Columns = 80
	Rows    = 25
	Size    = Columns * Rows
)

// Colors in the attribute byte.
const (
	ColorBlack     = 0x0
	ColorBlue      = 0x1
	ColorGreen     = 0x2
	ColorCyan      = 0x3
	ColorRed       = 0x4
	ColorMagenta   = 0x5
	ColorBrown     = 0x6
	ColorLightGray = 0x7
	ColorDarkGray  = 0x8
	ColorYellow    = 0xE
	ColorWhite     = 0xF
)

// Attr builds an attribute byte shifted into a cell.
func Attr(fg, bg uint8) uint16 { return uint16(bg&0xF)<<12 | uint16(fg&0xF)<<8 }

// Default text attributes.
const (
	Normal = 0x0700
	Error  = 0xC000
)

// Pos returns the cell index of row, col.
func Pos(row, col int) int { return row*Columns + col }

// Console writes cells into physical memory.
type Console struct {
	pm *mem.Physical
}

// New returns a console over pm's console page.
func New(pm *mem.Physical) *Console { return &Console{pm: pm} }

func (c *Console) cells() []byte { return c.pm.Bytes(mem.ConsoleAddr, Size*2) }

// Cell returns the raw cell at pos: attribute in the high byte, character
// in the low byte.
func (c *Console) Cell(pos int) uint16 {
	if pos < 0 || pos >= Size {
		return 0
	}
	return binary.LittleEndian.Uint16(c.cells()[pos*2:])
}

// SetCell stores a raw cell.
func (c *Console) SetCell(pos int, v uint16) {
	if pos < 0 || pos >= Size {
		return
	}
	binary.LittleEndian.PutUint16(c.cells()[pos*2:], v)
}

// Char returns the character at pos.
func (c *Console) Char(pos int) byte { return byte(c.Cell(pos)) }

// Clear blanks the whole screen.
func (c *Console) Clear() {
	for i := 0; i < Size; i++ {
		c.SetCell(i, Normal|' ')
	}
}

// ClearLine blanks row.
func (c *Console) ClearLine(row int) {
	for col := 0; col < Columns; col++ {
		c.SetCell(Pos(row, col), Normal|' ')
	}
}

// Printf formats at pos using color as the attribute and returns the
// position after the last character. A newline blanks the rest of the row
// and moves to the start of the next; output past the last cell is dropped.
func (c *Console) Printf(pos int, color uint16, format string, args ...any) int {
	return c.Print(pos, color, fmt.Sprintf(format, args...))
}

// Print writes s like Printf.
func (c *Console) Print(pos int, color uint16, s string) int {
	for i := 0; i < len(s); i++ {
		if pos < 0 || pos >= Size {
			break
		}
		ch := s[i]
		if ch == '\n' {
			for end := pos + Columns - pos%Columns; pos < end; pos++ {
				c.SetCell(pos, color&0xFF00|' ')
			}
			continue
		}
		c.SetCell(pos, color&0xFF00|uint16(ch))
		pos++
	}
	return pos
}

// Line returns the text of row with trailing blanks trimmed.
func (c *Console) Line(row int) string {
	if row < 0 || row >= Rows {
		return ""
	}
	buf := make([]byte, Columns)
	end := 0
	for col := 0; col < Columns; col++ {
		ch := c.Char(Pos(row, col))
		if ch == 0 {
			ch = ' '
		}
		buf[col] = ch
		if ch != ' ' {
			end = col + 1
		}
	}
	return string(buf[:end])
}
