package mmio

// Bus performs volatile single-instruction loads and stores at absolute
// addresses.
type Bus interface {
	LoadUint32(addr uintptr) uint32
	StoreUint32(addr uintptr, v uint32)
	LoadUint16(addr uintptr) uint16
	StoreUint16(addr uintptr, v uint16)
	LoadUint8(addr uintptr) uint8
	StoreUint8(addr uintptr, v uint8)
}

// Block is a peripheral register block at a fixed base address.
type Block struct {
	Bus  Bus
	Base uintptr
}

// R32 returns the 32-bit register at offset off.
func (b Block) R32(off uintptr) Register32 { return Register32{bus: b.Bus, addr: b.Base + off} }

// R16 returns the 16-bit register at offset off.
func (b Block) R16(off uintptr) Register16 { return Register16{bus: b.Bus, addr: b.Base + off} }

// R8 returns the 8-bit register at offset off.
func (b Block) R8(off uintptr) Register8 { return Register8{bus: b.Bus, addr: b.Base + off} }

// Register32 is a 32-bit memory-mapped register.
type Register32 struct {
	bus  Bus
	addr uintptr
}

// NewRegister32 returns the register at addr on bus.
func NewRegister32(bus Bus, addr uintptr) Register32 { return Register32{bus: bus, addr: addr} }

// Addr returns the absolute address of the register.
func (r Register32) Addr() uintptr { return r.addr }

// Get loads the register.
func (r Register32) Get() uint32 { return r.bus.LoadUint32(r.addr) }

// Set stores v.
func (r Register32) Set(v uint32) { r.bus.StoreUint32(r.addr, v) }

// SetBits sets the bits in mask with a read-modify-write.
func (r Register32) SetBits(mask uint32) { r.Set(r.Get() | mask) }

// ClearBits clears the bits in mask with a read-modify-write.
func (r Register32) ClearBits(mask uint32) { r.Set(r.Get() &^ mask) }

// HasBits reports whether any bit in mask is set.
func (r Register32) HasBits(mask uint32) bool { return r.Get()&mask != 0 }

// ReplaceBits replaces the field mask<<pos with value<<pos.
func (r Register32) ReplaceBits(value, mask uint32, pos uint8) {
	r.Set(r.Get()&^(mask<<pos) | (value&mask)<<pos)
}

// Register16 is a 16-bit memory-mapped register. Data registers whose access
// width selects the frame size (SPI DR, QUADSPI DR) must use the matching
// width.
type Register16 struct {
	bus  Bus
	addr uintptr
}

func (r Register16) Addr() uintptr         { return r.addr }
func (r Register16) Get() uint16           { return r.bus.LoadUint16(r.addr) }
func (r Register16) Set(v uint16)          { r.bus.StoreUint16(r.addr, v) }
func (r Register16) HasBits(m uint16) bool { return r.Get()&m != 0 }

// Register8 is an 8-bit memory-mapped register.
type Register8 struct {
	bus  Bus
	addr uintptr
}

func (r Register8) Addr() uintptr { return r.addr }
func (r Register8) Get() uint8    { return r.bus.LoadUint8(r.addr) }
func (r Register8) Set(v uint8)   { r.bus.StoreUint8(r.addr, v) }
