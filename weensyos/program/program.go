// Package program provides the loadable program images the kernel can
// start by name.
package program

import (
	"sort"

	"weensy/weensyos/mem"
)

// Segment is one loadable region of a program image. Size may exceed
// len(Data); the remainder is zero-filled.
type Segment struct {
	VA       uintptr
	Data     []byte
	Size     uintptr
	Writable bool
}

// Image is a program ready to be loaded into an address space.
type Image struct {
	Name     string
	Entry    uintptr
	Segments []Segment
}

var images = map[string]*Image{}

// Register adds img, replacing any image with the same name.
func Register(img *Image) { images[img.Name] = img }

// Lookup returns the image registered under name.
func Lookup(name string) (*Image, bool) {
	img, ok := images[name]
	return img, ok
}

// Names returns every registered program name in sorted order.
func Names() []string {
	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pages returns the page-aligned virtual addresses spanned by s.
func (s Segment) Pages() []uintptr {
	var out []uintptr
	for a := mem.RoundDown(s.VA); a < s.VA+s.Size; a += mem.PageSize {
		out = append(out, a)
	}
	return out
}
