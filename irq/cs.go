package irq

import "github.com/ardnew/f4core/chip"

// CS is the token passed to the body of a critical section. Functions that
// require masked interrupts take a CS so the caller has to be inside [Free].
type CS struct{ _ [0]func() }

// Free runs fn with every maskable interrupt disabled and restores the
// previous PRIMASK afterwards, so critical sections nest.
func Free(core chip.Core, fn func(cs CS)) {
	s := core.DisableInterrupts()
	defer core.RestoreInterrupts(s)
	fn(CS{})
}

// Cell is a single-assignment slot for state shared between the foreground
// and interrupt handlers. Every access takes a CS.
type Cell[T any] struct {
	v   T
	set bool
}

// Init stores v. Initialising a cell twice is a programming error and
// panics.
func (c *Cell[T]) Init(_ CS, v T) {
	if c.set {
		panic("irq: Cell initialised twice")
	}
	c.v, c.set = v, true
}

// IsSet reports whether the cell holds a value.
func (c *Cell[T]) IsSet(CS) bool { return c.set }

// With calls fn with a pointer to the stored value. It reports false, and
// does not call fn, when the cell is empty. fn must not retain the pointer.
func (c *Cell[T]) With(_ CS, fn func(v *T)) bool {
	if !c.set {
		return false
	}
	fn(&c.v)
	return true
}

// Replace stores v and returns the previous value, if any.
func (c *Cell[T]) Replace(_ CS, v T) (old T, ok bool) {
	old, ok = c.v, c.set
	c.v, c.set = v, true
	return old, ok
}

// Take empties the cell and returns what it held.
func (c *Cell[T]) Take(CS) (v T, ok bool) {
	v, ok = c.v, c.set
	var zero T
	c.v, c.set = zero, false
	return v, ok
}
