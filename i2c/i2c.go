package i2c

import (
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regCR1   = 0x00
	regCR2   = 0x04
	regOAR1  = 0x08
	regDR    = 0x10
	regSR1   = 0x14 // error flags are rc_w0
	regSR2   = 0x18 // reading SR1 then SR2 clears ADDR
	regCCR   = 0x1C
	regTRISE = 0x20
)

const (
	cr1PE    = 1 << 0
	cr1START = 1 << 8
	cr1STOP  = 1 << 9
	cr1ACK   = 1 << 10
	cr1POS   = 1 << 11
	cr1SWRST = 1 << 15

	cr2ITERREN = 1 << 8
	cr2ITEVTEN = 1 << 9
	cr2ITBUFEN = 1 << 10

	oar1Bit14 = 1 << 14 // must be kept set

	ccrDUTY = 1 << 14
	ccrFS   = 1 << 15

	srSB    = 1 << 0
	srADDR  = 1 << 1
	srBTF   = 1 << 2
	srSTOPF = 1 << 4
	srRXNE  = 1 << 6
	srTXE   = 1 << 7
	srBERR  = 1 << 8
	srARLO  = 1 << 9
	srAF    = 1 << 10
	srOVR   = 1 << 11
	srErr   = srBERR | srARLO | srAF | srOVR

	sr2BUSY = 1 << 1
	sr2TRA  = 1 << 2
)

var cr2FREQ = mmio.Field[uint32]{Pos: 0, Width: 6}

// Bus speed limits.
const (
	MinSpeed      = 10 * physic.KiloHertz
	StandardSpeed = 100 * physic.KiloHertz
	FastSpeed     = 400 * physic.KiloHertz
)

// Duty is the fast mode SCL low/high ratio.
type Duty uint8

// Fast mode duty cycles.
const (
	Duty2   Duty = iota // tlow/thigh = 2
	Duty169             // tlow/thigh = 16/9
)

// Timing holds the register values producing one bus speed.
type Timing struct {
	Freq  uint32 // CR2.FREQ, PCLK1 in MHz
	CCR   uint32
	TRISE uint32
}

// Solve computes the timing registers for bus speed f from pclk1. The
// resulting speed never exceeds f. Standard mode is used up to 100 kHz
// and fast mode with duty d above it.
func Solve(pclk1, f physic.Frequency, d Duty) (Timing, error) {
	mhz := uint32(pclk1 / physic.MegaHertz)
	if mhz < 2 || mhz > 50 {
		return Timing{}, pkg.ErrOutOfRange
	}
	if f < MinSpeed || f > FastSpeed || d > Duty169 {
		return Timing{}, pkg.ErrOutOfRange
	}
	hz := uint64(pclk1 / physic.Hertz)
	fh := uint64(f / physic.Hertz)
	div := func(k uint64) uint32 { return uint32((hz + k*fh - 1) / (k * fh)) }
	t := Timing{Freq: mhz}
	var ccr uint32
	if f <= StandardSpeed {
		ccr = max(div(2), 4)
		t.TRISE = mhz + 1
	} else {
		switch d {
		case Duty2:
			ccr = max(div(3), 1)
			t.CCR = ccrFS
		case Duty169:
			ccr = max(div(25), 1)
			t.CCR = ccrFS | ccrDUTY
		}
		t.TRISE = mhz*300/1000 + 1
	}
	if ccr > 0xFFF {
		return Timing{}, pkg.ErrOutOfRange
	}
	t.CCR |= ccr
	return t, nil
}

// Speed returns the SCL frequency produced by t.
func (t Timing) Speed() physic.Frequency {
	ccr := int64(t.CCR & 0xFFF)
	k := int64(2)
	switch {
	case t.CCR&ccrFS == 0:
	case t.CCR&ccrDUTY == 0:
		k = 3
	default:
		k = 25
	}
	if ccr == 0 {
		return 0
	}
	return physic.Frequency(int64(t.Freq)*1_000_000/(k*ccr)) * physic.Hertz
}

// block is the state shared by masters and slaves.
type block struct {
	m *chip.MCU
	p chip.Periph
}

func claim(m *chip.MCU, p chip.Periph) (block, error) {
	switch p {
	case chip.I2C1, chip.I2C2, chip.I2C3:
	default:
		return block{}, pkg.ErrNotSupported
	}
	if err := m.Claim(p); err != nil {
		return block{}, err
	}
	rcc.Enable(m, p)
	rcc.Reset(m, p)
	return block{m: m, p: p}, nil
}

func (b *block) reg(off uintptr) mmio.Register32 { return b.m.Block(b.p).R32(off) }

// setup programs the timing with PE clear, enables the block and then
// sets ACK, which the hardware clears while PE is off.
func (b *block) setup(t Timing, oar1 uint32) {
	cr1 := b.reg(regCR1)
	cr1.Set(cr1SWRST)
	cr1.Set(0)
	cr2FREQ.Write(b.reg(regCR2), t.Freq)
	b.reg(regCCR).Set(t.CCR)
	b.reg(regTRISE).Set(t.TRISE)
	b.reg(regOAR1).Set(oar1 | oar1Bit14)
	cr1.Set(cr1PE)
	cr1.Set(cr1PE | cr1ACK)
}

// IRQs returns the event and error interrupt lines.
func (b *block) IRQs() (ev, er chip.IRQ) {
	switch b.p {
	case chip.I2C1:
		return chip.IRQI2C1EV, chip.IRQI2C1ER
	case chip.I2C2:
		return chip.IRQI2C2EV, chip.IRQI2C2ER
	}
	return chip.IRQI2C3EV, chip.IRQI2C3ER
}

// String returns the peripheral name.
func (b *block) String() string { return b.p.String() }

// faultOf converts SR1 error flags and clears them.
func (b *block) faultOf(sr1 uint32) pkg.I2CError {
	e := pkg.I2CError{
		BusError:        sr1&srBERR != 0,
		ArbitrationLost: sr1&srARLO != 0,
		AckFailure:      sr1&srAF != 0,
		Overrun:         sr1&srOVR != 0,
	}
	b.reg(regSR1).Set(^(sr1 & srErr))
	return e
}

func (b *block) release() {
	b.reg(regCR2).Set(0)
	b.reg(regCR1).Set(0)
	rcc.Disable(b.m, b.p)
	b.m.Release(b.p)
	pkg.LogDebug(pkg.ComponentI2C, "released", "i2c", b.p)
}
