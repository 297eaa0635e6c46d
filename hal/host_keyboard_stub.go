//go:build !tinygo && !cgo

package hal

// hostKeyboard without cgo has no window to read from; its channel stays
// empty and the kernel sees no commands.
type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

func (k *hostKeyboard) poll() {}
