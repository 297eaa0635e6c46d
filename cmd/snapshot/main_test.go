package main

import (
	"context"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"weensy/hal"
	"weensy/weensyos/video"
)

func TestRender(t *testing.T) {
	fb := hal.New(hal.Config{Width: 8, Height: 4, Log: io.Discard}).Display().Framebuffer()
	fb.ClearRGB(0xFF, 0, 0)

	dc := render(fb, 2)
	if dc.Width() != 16 || dc.Height() != 8 {
		t.Fatalf("render() size = %dx%d, want 16x8", dc.Width(), dc.Height())
	}
	r, g, b, _ := dc.Image().At(7, 3).RGBA()
	if r>>8 != 0xFF || g != 0 || b != 0 {
		t.Fatalf("pixel = %#x %#x %#x, want red", r, g, b)
	}
}

func TestRunWritesPNG(t *testing.T) {
	out := filepath.Join(t.TempDir(), "shot.png")
	if err := run(context.Background(), io.Discard, options{steps: 500, scale: 1, out: out}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	w, h := video.Size()
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("image = %v, want %dx%d", b, w, h)
	}
}
