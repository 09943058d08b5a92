package mmio

import "github.com/ardnew/f4core/pkg"

// Bit-band regions of the Cortex-M4.
const (
	SRAMBase        = 0x2000_0000
	SRAMAliasBase   = 0x2200_0000
	PeriphBase      = 0x4000_0000
	PeriphAliasBase = 0x4200_0000
	bitBandSpan     = 0x0010_0000
)

// Bit is a single bit accessed through its bit-band alias word. Loads and
// stores of the alias are atomic read-modify-writes performed by the bus
// matrix, so they need no critical section.
type Bit struct {
	bus   Bus
	alias uintptr
}

// BitBand returns the alias of bit in the word at addr. Only the first
// megabyte of SRAM and of the peripheral region is aliased.
func BitBand(bus Bus, addr uintptr, bit uint8) (Bit, error) {
	if bit > 31 {
		return Bit{}, pkg.ErrOutOfRange
	}
	alias, ok := BitBandAlias(addr, bit)
	if !ok {
		return Bit{}, pkg.ErrOutOfRange
	}
	return Bit{bus: bus, alias: alias}, nil
}

// BitBandAlias computes alias = aliasBase + (addr-regionBase)*32 + bit*4.
func BitBandAlias(addr uintptr, bit uint8) (uintptr, bool) {
	switch {
	case addr >= PeriphBase && addr < PeriphBase+bitBandSpan:
		return PeriphAliasBase + (addr-PeriphBase)*32 + uintptr(bit)*4, true
	case addr >= SRAMBase && addr < SRAMBase+bitBandSpan:
		return SRAMAliasBase + (addr-SRAMBase)*32 + uintptr(bit)*4, true
	}
	return 0, false
}

// BitBandTarget inverts BitBandAlias: it returns the word address and bit
// number an alias address refers to.
func BitBandTarget(alias uintptr) (addr uintptr, bit uint8, ok bool) {
	var base, region uintptr
	switch {
	case alias >= PeriphAliasBase && alias < PeriphAliasBase+bitBandSpan*32:
		base, region = PeriphAliasBase, PeriphBase
	case alias >= SRAMAliasBase && alias < SRAMAliasBase+bitBandSpan*32:
		base, region = SRAMAliasBase, SRAMBase
	default:
		return 0, 0, false
	}
	off := alias - base
	byteOff := off / 32
	return region + byteOff&^3, uint8((byteOff&3)*8 + (off%32)/4), true
}

// Alias returns the alias word address.
func (b Bit) Alias() uintptr { return b.alias }

// Get reports whether the bit is set.
func (b Bit) Get() bool { return b.bus.LoadUint32(b.alias)&1 != 0 }

// Set sets the bit.
func (b Bit) Set() { b.bus.StoreUint32(b.alias, 1) }

// Clear clears the bit.
func (b Bit) Clear() { b.bus.StoreUint32(b.alias, 0) }

// Write stores v.
func (b Bit) Write(v bool) {
	if v {
		b.Set()
	} else {
		b.Clear()
	}
}
