// Package video renders the CGA console and a kernel log pane into a
// framebuffer.
package video

import (
	"image/color"

	"weensy/hal"
	"weensy/weensyos/console"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

const (
	cellHeight = 10
	fontOffset = 6

	logRows = 8
	gap     = 4
)

var font = &proggy.TinySZ8pt7b

// palette holds the sixteen CGA colors.
var palette = [16]color.RGBA{
	{0x00, 0x00, 0x00, 0xFF}, {0x00, 0x00, 0xAA, 0xFF}, {0x00, 0xAA, 0x00, 0xFF}, {0x00, 0xAA, 0xAA, 0xFF},
	{0xAA, 0x00, 0x00, 0xFF}, {0xAA, 0x00, 0xAA, 0xFF}, {0xAA, 0x55, 0x00, 0xFF}, {0xAA, 0xAA, 0xAA, 0xFF},
	{0x55, 0x55, 0x55, 0xFF}, {0x55, 0x55, 0xFF, 0xFF}, {0x55, 0xFF, 0x55, 0xFF}, {0x55, 0xFF, 0xFF, 0xFF},
	{0xFF, 0x55, 0x55, 0xFF}, {0xFF, 0x55, 0xFF, 0xFF}, {0xFF, 0xFF, 0x55, 0xFF}, {0xFF, 0xFF, 0xFF, 0xFF},
}

func cellWidth() int {
	_, w := tinyfont.LineWidth(font, "0")
	if w == 0 {
		return 6
	}
	return int(w)
}

// Size returns the framebuffer dimensions a Renderer needs.
func Size() (width, height int) {
	return console.Columns * cellWidth(), console.Rows*cellHeight + gap + logRows*cellHeight
}

// Renderer draws console cells with tinyfont and mirrors log lines into a
// tinyterm pane below the console.
type Renderer struct {
	fb hal.Framebuffer

	screen *fbDisplay
	cellW  int

	shadow [console.Size]uint16
	drawn  bool

	pane  *fbDisplay
	term  *tinyterm.Terminal
	dirty bool
}

// New returns a renderer drawing into fb, which should be at least Size().
func New(fb hal.Framebuffer) *Renderer {
	r := &Renderer{fb: fb, cellW: cellWidth()}
	w := fb.Width()
	consoleH := console.Rows * cellHeight
	r.screen = newFBDisplay(fb, 0, 0, w, consoleH)

	paneY := consoleH + gap
	paneH := fb.Height() - paneY
	if paneH >= cellHeight {
		r.pane = newFBDisplay(fb, 0, paneY, w, paneH)
		r.term = tinyterm.NewTerminal(r.pane)
		r.term.Configure(&tinyterm.Config{
			Font:       font,
			FontHeight: cellHeight,
			FontOffset: fontOffset,
		})
	}
	fb.ClearRGB(0, 0, 0)
	return r
}

// Draw repaints the console cells that changed since the last call and
// presents the framebuffer.
func (r *Renderer) Draw(con *console.Console) error {
	for pos := 0; pos < console.Size; pos++ {
		c := con.Cell(pos)
		if r.drawn && r.shadow[pos] == c {
			continue
		}
		r.shadow[pos] = c
		r.drawCell(pos, c)
	}
	r.drawn = true
	if r.dirty {
		r.term.Display()
		r.dirty = false
	}
	return r.fb.Present()
}

func (r *Renderer) drawCell(pos int, c uint16) {
	x := int16(pos % console.Columns * r.cellW)
	y := int16(pos / console.Columns * cellHeight)
	fg := palette[c>>8&0xF]
	bg := palette[c>>12&0xF]
	_ = r.screen.FillRectangle(x, y, int16(r.cellW), cellHeight, bg)
	if ch := byte(c); ch > ' ' && ch < 0x7F {
		tinyfont.DrawChar(r.screen, font, x, y+fontOffset, rune(ch), fg)
	}
}

// WriteLineString appends s to the log pane.
func (r *Renderer) WriteLineString(s string) {
	if r.term == nil {
		return
	}
	_, _ = r.term.Write([]byte(s))
	_, _ = r.term.Write([]byte("\r\n"))
	r.dirty = true
}
