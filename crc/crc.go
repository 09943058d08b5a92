// Package crc drives the CRC calculation unit.
//
// The unit implements CRC-32/MPEG-2: polynomial 0x04C11DB7, initial value
// 0xFFFFFFFF, words processed most significant bit first and no final
// xor. Every write continues from the previous result until [Unit.Reset].
package crc

import (
	"encoding/binary"

	"zappem.net/pub/debug/xcrc32"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regDR  = 0x00
	regIDR = 0x04
	regCR  = 0x08

	crRESET = 1 << 0

	// Initial is the register value after Reset.
	Initial = 0xFFFF_FFFF
)

// Unit is the CRC peripheral.
type Unit struct {
	m *chip.MCU
}

// Open claims the CRC unit, enables its clock and resets the result.
func Open(m *chip.MCU) (*Unit, error) {
	if err := m.Claim(chip.CRC); err != nil {
		return nil, err
	}
	rcc.Enable(m, chip.CRC)
	u := &Unit{m: m}
	u.Reset()
	return u, nil
}

func (u *Unit) reg(off uintptr) mmio.Register32 { return u.m.Block(chip.CRC).R32(off) }

// Reset loads Initial into the result register.
func (u *Unit) Reset() { u.reg(regCR).Set(crRESET) }

// settle waits out the four AHB cycles a word takes to process.
func (u *Unit) settle() {
	idr := u.reg(regIDR)
	for i := 0; i < 4; i++ {
		idr.Get()
	}
}

// Write feeds one word and returns the running CRC.
func (u *Unit) Write(w uint32) uint32 {
	u.reg(regDR).Set(w)
	return u.Sum()
}

// Feed writes words back to back and returns the running CRC.
func (u *Unit) Feed(ws []uint32) uint32 {
	dr := u.reg(regDR)
	for _, w := range ws {
		dr.Set(w)
	}
	return u.Sum()
}

// Bytes packs b into big-endian words, so the unit sees the bytes in
// order, and feeds them. A short final word is padded with zero bytes.
func (u *Unit) Bytes(b []byte) uint32 {
	dr := u.reg(regDR)
	for len(b) >= 4 {
		dr.Set(binary.BigEndian.Uint32(b))
		b = b[4:]
	}
	if len(b) > 0 {
		var tail [4]byte
		copy(tail[:], b)
		dr.Set(binary.BigEndian.Uint32(tail[:]))
	}
	return u.Sum()
}

// Sum returns the running CRC without feeding anything.
func (u *Unit) Sum() uint32 {
	u.settle()
	return u.reg(regDR).Get()
}

// IDR returns the independent data register, a scratch byte the CRC
// logic never touches.
func (u *Unit) IDR() uint8 { return uint8(u.reg(regIDR).Get()) }

// SetIDR writes the independent data register.
func (u *Unit) SetIDR(v uint8) { u.reg(regIDR).Set(uint32(v)) }

// Release disables the unit's clock and gives up the claim.
func (u *Unit) Release() {
	rcc.Disable(u.m, chip.CRC)
	u.m.Release(chip.CRC)
	pkg.LogDebug(pkg.ComponentCRC, "released")
}

// Checksum computes in software what a freshly reset unit returns from
// Bytes(b), for checking images on the host.
func Checksum(b []byte) uint32 {
	if n := len(b) % 4; n != 0 {
		b = append(b[:len(b):len(b)], make([]byte, 4-n)...)
	}
	_, c := xcrc32.NewCRC32(b)
	return c
}
