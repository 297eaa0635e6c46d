//go:build !tinygo

// Command snapshot boots the simulator headless, runs it for a number of
// kernel entries and writes the console (with the memory view) to a PNG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"

	gg "github.com/fogleman/gg"

	"weensy/hal"
	"weensy/weensyos/kernel"
	"weensy/weensyos/video"
)

type options struct {
	command string
	steps   int
	quantum int
	scale   float64
	out     string
}

func main() {
	var opt options
	flag.StringVar(&opt.command, "cmd", "", `Boot command: "", "fork", "forkexit" or a program name.`)
	flag.IntVar(&opt.steps, "steps", 20000, "Kernel entries to run before the snapshot.")
	flag.IntVar(&opt.quantum, "quantum", 0, "User instructions per timer interrupt (0 = default).")
	flag.Float64Var(&opt.scale, "scale", 1, "Output scale factor.")
	flag.StringVar(&opt.out, "o", "weensy.png", "Output PNG path.")
	flag.Parse()

	if err := run(context.Background(), os.Stderr, opt); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log io.Writer, opt options) error {
	w, h := video.Size()
	host := hal.New(hal.Config{Width: w, Height: h, Log: log})

	m := kernel.NewMachine(kernel.Config{
		Quantum:    opt.quantum,
		Logger:     host.Logger(),
		MemoryView: true,
	})
	if _, err := m.Boot(opt.command); err != nil {
		return err
	}
	if _, err := m.Run(ctx, opt.steps); err != nil && !errors.Is(err, kernel.ErrHalted) {
		var p *kernel.Panic
		if !errors.As(err, &p) {
			return err
		}
	}

	fb := host.Display().Framebuffer()
	r := video.New(fb)
	r.WriteLineString(fmt.Sprintf("snapshot after %d steps, %d ticks", m.Steps(), m.Kernel().Ticks()))
	if err := r.Draw(m.Kernel().Console()); err != nil {
		return err
	}

	dc := render(fb, opt.scale)
	if err := dc.SavePNG(opt.out); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// render copies an RGB565 framebuffer into a gg backbuffer, scaled.
func render(fb hal.Framebuffer, scale float64) *gg.Context {
	if scale <= 0 {
		scale = 1
	}
	src := image.NewRGBA(image.Rect(0, 0, fb.Width(), fb.Height()))
	buf := fb.Buffer()
	stride := fb.StrideBytes()
	for y := 0; y < fb.Height(); y++ {
		row := buf[y*stride:]
		dst := src.Pix[y*src.Stride:]
		for x := 0; x < fb.Width(); x++ {
			p := uint16(row[x*2]) | uint16(row[x*2+1])<<8
			dst[x*4+0] = uint8((p >> 11 & 0x1F) * 255 / 31)
			dst[x*4+1] = uint8((p >> 5 & 0x3F) * 255 / 63)
			dst[x*4+2] = uint8((p & 0x1F) * 255 / 31)
			dst[x*4+3] = 0xFF
		}
	}

	dc := gg.NewContext(int(float64(fb.Width())*scale), int(float64(fb.Height())*scale))
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.Scale(scale, scale)
	dc.DrawImage(src, 0, 0)
	return dc
}
