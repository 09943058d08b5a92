package mmio

import "io"

// Window is a read-only view of a memory-mapped region, such as the
// QUADSPI external flash window.
type Window struct {
	bus  Bus
	base uintptr
	size int
}

// NewWindow returns a window of size bytes starting at base.
func NewWindow(bus Bus, base uintptr, size int) Window {
	return Window{bus: bus, base: base, size: size}
}

// Base returns the first address of the window.
func (w Window) Base() uintptr { return w.base }

// Len returns the size of the window in bytes.
func (w Window) Len() int { return w.size }

// At returns the byte at offset i. It panics when i is outside the window.
func (w Window) At(i int) byte {
	if i < 0 || i >= w.size {
		panic("mmio: window index out of range")
	}
	return w.bus.LoadUint8(w.base + uintptr(i))
}

// ReadAt implements io.ReaderAt. Aligned words are fetched with 32-bit
// loads.
func (w Window) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(w.size) {
		return 0, io.EOF
	}
	n := 0
	a := w.base + uintptr(off)
	end := w.base + uintptr(w.size)
	for n < len(p) && a < end {
		if a&3 == 0 && len(p)-n >= 4 && end-a >= 4 {
			v := w.bus.LoadUint32(a)
			p[n], p[n+1], p[n+2], p[n+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
			n += 4
			a += 4
			continue
		}
		p[n] = w.bus.LoadUint8(a)
		n++
		a++
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Section returns an io.SectionReader over the whole window.
func (w Window) Section() *io.SectionReader { return io.NewSectionReader(w, 0, int64(w.size)) }
