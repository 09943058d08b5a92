package sim

import (
	"encoding/binary"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
)

// memory is byte-addressed little-endian RAM or ROM.
type memory struct {
	b        []byte
	readOnly bool
	next     uint32 // bump allocator for SRAM
}

func newMemory(size int, readOnly bool) *memory {
	return &memory{b: make([]byte, size), readOnly: readOnly}
}

func (r *memory) read(off uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(r.b[off])
	case 2:
		return uint32(binary.LittleEndian.Uint16(r.b[off:]))
	}
	return binary.LittleEndian.Uint32(r.b[off:])
}

func (r *memory) write(off uint32, size int, v uint32) {
	if r.readOnly {
		return
	}
	switch size {
	case 1:
		r.b[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(r.b[off:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(r.b[off:], v)
	}
}

// Alloc reserves n bytes of SRAM aligned to align and returns the address.
// Allocations are never freed.
func (m *Machine) Alloc(n, align int) uintptr {
	if align < 1 {
		align = 1
	}
	off := (int(m.sram.next) + align - 1) / align * align
	if off+n > len(m.sram.b) {
		panic("sim: SRAM exhausted")
	}
	m.sram.next = uint32(off + n)
	return chip.SRAMBase + uintptr(off)
}

// WriteMem copies p into memory at addr without consuming time.
func (m *Machine) WriteMem(addr uintptr, p []byte) {
	mem, off := m.memAt(addr, len(p))
	copy(mem.b[off:], p)
}

// ReadMem copies memory at addr into p without consuming time.
func (m *Machine) ReadMem(addr uintptr, p []byte) {
	mem, off := m.memAt(addr, len(p))
	copy(p, mem.b[off:])
}

// Bytes returns a copy of n bytes of memory at addr.
func (m *Machine) Bytes(addr uintptr, n int) []byte {
	p := make([]byte, n)
	m.ReadMem(addr, p)
	return p
}

func (m *Machine) memAt(addr uintptr, n int) (*memory, uintptr) {
	switch {
	case addr >= chip.SRAMBase && addr+uintptr(n) <= chip.SRAMBase+uintptr(len(m.sram.b)):
		return m.sram, addr - chip.SRAMBase
	case addr >= chip.FlashMemBase && addr+uintptr(n) <= chip.FlashMemBase+uintptr(len(m.flash.b)):
		return m.flash, addr - chip.FlashMemBase
	}
	panic("sim: address outside SRAM and flash")
}

// ProgramFlash writes the internal flash image at addr.
func (m *Machine) ProgramFlash(addr uintptr, p []byte) {
	copy(m.flash.b[addr-chip.FlashMemBase:], p)
}

// bitBand maps alias words onto single bits of the target region with an
// atomic read-modify-write.
type bitBand struct {
	m      *Machine
	region uintptr
	alias  uintptr
}

func (b *bitBand) target(off uint32) (uintptr, uint8) {
	addr, bit, _ := mmio.BitBandTarget(b.alias + uintptr(off))
	return addr, bit
}

func (b *bitBand) read(off uint32, _ int) uint32 {
	addr, bit := b.target(off)
	return b.m.access(addr, 4, 0, false) >> bit & 1
}

func (b *bitBand) write(off uint32, _ int, v uint32) {
	addr, bit := b.target(off)
	w := b.m.access(addr, 4, 0, false)
	if v&1 != 0 {
		w |= 1 << bit
	} else {
		w &^= 1 << bit
	}
	b.m.access(addr, 4, w, true)
}
