package dac

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regCR      = 0x00
	regSWTRIGR = 0x04
	regDHR12R1 = 0x08
	regDHR12L1 = 0x0C
	regDHR8R1  = 0x10
	regDHR12RD = 0x20
	regDOR1    = 0x2C
	regSR      = 0x34

	chStride = 0x0C // DHR12R2 - DHR12R1
)

const (
	crEN       = 1 << 0
	crBOFF     = 1 << 1
	crTEN      = 1 << 2
	crDMAEN    = 1 << 12
	crDMAUDRIE = 1 << 13

	srDMAUDR = 1 << 13
)

var (
	crTSEL = mmio.Field[uint32]{Pos: 3, Width: 3}
	crWAVE = mmio.Field[uint32]{Pos: 6, Width: 2}
	crMAMP = mmio.Field[uint32]{Pos: 8, Width: 4}
)

// Trigger selects what loads the output.
type Trigger uint8

// Triggers. Immediate loads on every holding register write.
const (
	Immediate Trigger = iota
	TIM6TRGO
	TIM8TRGO
	TIM7TRGO
	TIM5TRGO
	TIM2TRGO
	TIM4TRGO
	EXTI9
	Software
)

// Wave is a generator added to the holding register on every trigger.
type Wave uint8

// Wave generators.
const (
	NoWave Wave = iota
	Noise
	Triangle
)

// Config describes one channel.
type Config struct {
	Trigger Trigger
	Wave    Wave
	// Amplitude is the wave amplitude exponent: the noise mask or the
	// triangle peak is 2^(Amplitude+1)-1. It ranges 0..11.
	Amplitude uint8
	// Unbuffered disables the output buffer.
	Unbuffered bool
}

func (c Config) bits() (uint32, error) {
	if c.Trigger > Software || c.Wave > Triangle || c.Amplitude > 11 {
		return 0, pkg.ErrOutOfRange
	}
	if c.Wave != NoWave && c.Trigger == Immediate {
		return 0, pkg.ErrInvalidMode
	}
	var v uint32 = crEN
	if c.Unbuffered {
		v |= crBOFF
	}
	if c.Trigger != Immediate {
		v |= crTEN
		v = crTSEL.Put(v, uint32(c.Trigger-1))
	}
	v = crWAVE.Put(v, uint32(c.Wave))
	v = crMAMP.Put(v, uint32(c.Amplitude))
	return v, nil
}

// DAC is the converter shared by both channels.
type DAC struct {
	m    *chip.MCU
	used [2]bool
}

// Claim takes the DAC and enables its clock.
func Claim(m *chip.MCU) (*DAC, error) {
	if err := m.Claim(chip.DAC); err != nil {
		return nil, err
	}
	rcc.Enable(m, chip.DAC)
	rcc.Reset(m, chip.DAC)
	return &DAC{m: m}, nil
}

func (d *DAC) reg(off uintptr) mmio.Register32 { return d.m.Block(chip.DAC).R32(off) }

// Channel configures and enables output n (1 or 2).
func (d *DAC) Channel(n int, c Config) (*Channel, error) {
	if n != 1 && n != 2 {
		return nil, pkg.ErrOutOfRange
	}
	if d.used[n-1] {
		return nil, pkg.ErrClaimed
	}
	v, err := c.bits()
	if err != nil {
		return nil, err
	}
	ch := &Channel{d: d, i: n - 1, cfg: c}
	d.reg(regCR).ReplaceBits(v, 0xFFFF, ch.shift())
	d.used[n-1] = true
	pkg.LogDebug(pkg.ComponentDAC, "channel enabled", "ch", n, "trigger", c.Trigger, "wave", c.Wave)
	return ch, nil
}

// SetBoth writes both 12-bit holding registers at once.
func (d *DAC) SetBoth(v1, v2 uint16) {
	d.reg(regDHR12RD).Set(uint32(v1&0xFFF) | uint32(v2&0xFFF)<<16)
}

// IRQ returns the interrupt line shared with TIM6.
func (d *DAC) IRQ() chip.IRQ { return chip.IRQTIM6DAC }

// Release disables the DAC and gates its clock. Channels must not be used
// afterwards.
func (d *DAC) Release() {
	d.reg(regCR).Set(0)
	rcc.Disable(d.m, chip.DAC)
	d.m.Release(chip.DAC)
}

// Channel is one DAC output.
type Channel struct {
	d   *DAC
	i   int
	cfg Config
}

func (c *Channel) shift() uint8 { return uint8(16 * c.i) }

func (c *Channel) dhr(off uintptr) mmio.Register32 {
	return c.d.reg(off + uintptr(c.i)*chStride)
}

// Set writes a right-aligned 12-bit value.
func (c *Channel) Set(v uint16) error {
	if v > 0xFFF {
		return pkg.ErrOutOfRange
	}
	c.dhr(regDHR12R1).Set(uint32(v))
	return nil
}

// SetLeft writes a left-aligned 12-bit value; the low four bits are
// ignored.
func (c *Channel) SetLeft(v uint16) { c.dhr(regDHR12L1).Set(uint32(v)) }

// Set8 writes an 8-bit value, scaled to the top of the range.
func (c *Channel) Set8(v uint8) { c.dhr(regDHR8R1).Set(uint32(v)) }

// Output returns the code driven on the pin.
func (c *Channel) Output() uint16 {
	return uint16(c.d.reg(regDOR1 + uintptr(c.i)*4).Get())
}

// Trigger fires the software trigger.
func (c *Channel) Trigger() error {
	if c.cfg.Trigger != Software {
		return pkg.ErrInvalidMode
	}
	c.d.reg(regSWTRIGR).Set(1 << c.i)
	return nil
}

// Underrun reports and clears the DMA underrun flag.
func (c *Channel) Underrun() bool {
	sr := c.d.reg(regSR)
	bit := uint32(srDMAUDR) << c.shift()
	if !sr.HasBits(bit) {
		return false
	}
	sr.Set(bit)
	pkg.LogWarn(pkg.ComponentDAC, "dma underrun", "ch", c.i+1)
	return true
}

// ListenUnderrun enables or disables the underrun interrupt.
func (c *Channel) ListenUnderrun(on bool) {
	bit := uint32(crDMAUDRIE) << c.shift()
	if on {
		c.d.reg(regCR).SetBits(bit)
	} else {
		c.d.reg(regCR).ClearBits(bit)
	}
}

// Code converts volts to the channel code for reference vref.
func Code(volts, vref float64) uint16 {
	switch {
	case volts <= 0:
		return 0
	case volts >= vref:
		return 0xFFF
	}
	return uint16(volts/vref*4095 + 0.5)
}

// Request returns the channel's DMA request line.
func (c *Channel) Request() chip.DMARequest {
	if c.i == 0 {
		return chip.ReqDAC1
	}
	return chip.ReqDAC2
}

// Addr returns the 12-bit right-aligned holding register address, the
// usual DMA destination.
func (c *Channel) Addr() uintptr { return c.dhr(regDHR12R1).Addr() }

// EnableRequest sets or clears DMAEN. Requests are issued on triggers.
func (c *Channel) EnableRequest(on bool) {
	bit := uint32(crDMAEN) << c.shift()
	if on {
		c.d.reg(regCR).SetBits(bit)
	} else {
		c.d.reg(regCR).ClearBits(bit)
	}
}

// Release disables the channel.
func (c *Channel) Release() {
	c.d.reg(regCR).ReplaceBits(0, 0xFFFF, c.shift())
	c.d.used[c.i] = false
}
