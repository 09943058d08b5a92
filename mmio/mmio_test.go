package mmio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ardnew/f4core/pkg"
)

// memBus is a little-endian byte-addressed RAM.
type memBus map[uintptr]byte

func (m memBus) LoadUint8(a uintptr) uint8       { return m[a] }
func (m memBus) StoreUint8(a uintptr, v uint8)   { m[a] = v }
func (m memBus) LoadUint16(a uintptr) uint16     { return uint16(m[a]) | uint16(m[a+1])<<8 }
func (m memBus) StoreUint16(a uintptr, v uint16) { m[a], m[a+1] = byte(v), byte(v>>8) }
func (m memBus) LoadUint32(a uintptr) uint32 {
	return uint32(m.LoadUint16(a)) | uint32(m.LoadUint16(a+2))<<16
}
func (m memBus) StoreUint32(a uintptr, v uint32) {
	m.StoreUint16(a, uint16(v))
	m.StoreUint16(a+2, uint16(v>>16))
}

func TestRegister32_ReplaceBits(t *testing.T) {
	bus := memBus{}
	r := Block{Bus: bus, Base: 0x4002_3800}.R32(0x04)
	r.Set(0xFFFF_FFFF)
	r.ReplaceBits(0x5, 0x3F, 0)
	if got := r.Get(); got != 0xFFFF_FFC5 {
		t.Errorf("Get() = %#x, want %#x", got, uint32(0xFFFF_FFC5))
	}
	r.ClearBits(0xF000_0000)
	if r.HasBits(0xF000_0000) {
		t.Errorf("HasBits(0xF0000000) = true after ClearBits")
	}
	if got := r.Addr(); got != 0x4002_3804 {
		t.Errorf("Addr() = %#x, want 0x40023804", got)
	}
}

func TestField(t *testing.T) {
	pllN := Field[uint16]{Pos: 6, Width: 9}
	v := pllN.Put(0xFFFF_FFFF, 192)
	if got := pllN.Get(v); got != 192 {
		t.Errorf("Get() = %d, want 192", got)
	}
	if v&^pllN.Mask() != 0xFFFF_FFFF&^pllN.Mask() {
		t.Errorf("Put() disturbed bits outside the field: %#x", v)
	}
	if pllN.Fits(512) {
		t.Error("Fits(512) = true, want false")
	}
	if got := pllN.Max(); got != 511 {
		t.Errorf("Max() = %d, want 511", got)
	}
}

func TestBitBandAlias(t *testing.T) {
	tests := []struct {
		addr uintptr
		bit  uint8
		want uintptr
		ok   bool
	}{
		{0x4002_3830, 0, 0x4247_0600, true}, // RCC_AHB1ENR GPIOAEN
		{0x4002_3830, 2, 0x4247_0608, true},
		{0x4000_7000, 8, 0x420E_0020, true}, // PWR_CR DBP
		{0x2000_0000, 31, 0x2200_007C, true},
		{0x5000_0000, 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := BitBandAlias(tt.addr, tt.bit)
		if ok != tt.ok || got != tt.want {
			t.Errorf("BitBandAlias(%#x, %d) = %#x, %v, want %#x, %v", tt.addr, tt.bit, got, ok, tt.want, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		addr, bit, ok := BitBandTarget(got)
		if !ok || addr != tt.addr || bit != tt.bit {
			t.Errorf("BitBandTarget(%#x) = %#x, %d, %v, want %#x, %d", got, addr, bit, ok, tt.addr, tt.bit)
		}
	}
}

func TestBitBand_Range(t *testing.T) {
	if _, err := BitBand(memBus{}, 0x4002_3830, 32); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("BitBand(bit 32) error = %v, want ErrOutOfRange", err)
	}
	if _, err := BitBand(memBus{}, 0xA000_1000, 0); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("BitBand(QUADSPI) error = %v, want ErrOutOfRange", err)
	}
}

func TestWindow_ReadAt(t *testing.T) {
	bus := memBus{}
	const base = 0x9000_0000
	for i := 0; i < 16; i++ {
		bus[base+uintptr(i)] = byte(i + 1)
	}
	w := NewWindow(bus, base, 16)
	buf := make([]byte, 7)
	n, err := w.ReadAt(buf, 3)
	if err != nil || n != 7 {
		t.Fatalf("ReadAt() = %d, %v, want 7, nil", n, err)
	}
	if want := []byte{4, 5, 6, 7, 8, 9, 10}; !bytes.Equal(buf, want) {
		t.Errorf("ReadAt() data = %v, want %v", buf, want)
	}
	n, err = w.ReadAt(buf, 12)
	if n != 4 || err != io.EOF {
		t.Errorf("ReadAt(tail) = %d, %v, want 4, EOF", n, err)
	}
	all, err := io.ReadAll(w.Section())
	if err != nil || len(all) != 16 || all[15] != 16 {
		t.Errorf("ReadAll(Section()) = %v, %v", all, err)
	}
	if got := w.At(0); got != 1 {
		t.Errorf("At(0) = %d, want 1", got)
	}
}
