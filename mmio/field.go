package mmio

import "golang.org/x/exp/constraints"

// Field describes a bit field of a 32-bit register.
type Field[T constraints.Unsigned] struct {
	Pos   uint8
	Width uint8
}

// Mask returns the in-place mask of the field.
func (f Field[T]) Mask() uint32 { return (1<<f.Width - 1) << f.Pos }

// Max returns the largest value the field can hold.
func (f Field[T]) Max() T { return T(1<<f.Width - 1) }

// Fits reports whether x can be stored without truncation.
func (f Field[T]) Fits(x T) bool { return uint64(x) <= uint64(f.Max()) }

// Get extracts the field from a register value.
func (f Field[T]) Get(v uint32) T { return T((v & f.Mask()) >> f.Pos) }

// Put returns v with the field replaced by x.
func (f Field[T]) Put(v uint32, x T) uint32 {
	return v&^f.Mask() | (uint32(x)<<f.Pos)&f.Mask()
}

// Read loads r and extracts the field.
func (f Field[T]) Read(r Register32) T { return f.Get(r.Get()) }

// Write replaces the field in r with a read-modify-write.
func (f Field[T]) Write(r Register32, x T) { r.Set(f.Put(r.Get(), x)) }
