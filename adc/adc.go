package adc

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regSR    = 0x00
	regCR1   = 0x04
	regCR2   = 0x08
	regSMPR1 = 0x0C // channels 10..18
	regSMPR2 = 0x10 // channels 0..9
	regJOFR1 = 0x14
	regHTR   = 0x24
	regLTR   = 0x28
	regSQR1  = 0x2C
	regSQR2  = 0x30
	regSQR3  = 0x34
	regJSQR  = 0x38
	regJDR1  = 0x3C
	regDR    = 0x4C
	regCCR   = 0x304 // common block
)

const (
	srAWD  = 1 << 0
	srEOC  = 1 << 1
	srJEOC = 1 << 2
	srSTRT = 1 << 4
	srOVR  = 1 << 5

	cr1SCAN   = 1 << 8
	cr1AWDSGL = 1 << 9
	cr1JAWDEN = 1 << 22
	cr1AWDEN  = 1 << 23

	cr2ADON    = 1 << 0
	cr2CONT    = 1 << 1
	cr2DMA     = 1 << 8
	cr2DDS     = 1 << 9
	cr2EOCS    = 1 << 10
	cr2ALIGN   = 1 << 11
	cr2JSWSTRT = 1 << 22
	cr2SWSTART = 1 << 30

	ccrVBATE   = 1 << 22
	ccrTSVREFE = 1 << 23
)

var (
	cr1AWDCH   = mmio.Field[uint32]{Pos: 0, Width: 5}
	cr1RES     = mmio.Field[uint32]{Pos: 24, Width: 2}
	cr2JEXTSEL = mmio.Field[uint32]{Pos: 16, Width: 4}
	cr2JEXTEN  = mmio.Field[uint32]{Pos: 20, Width: 2}
	cr2EXTSEL  = mmio.Field[uint32]{Pos: 24, Width: 4}
	cr2EXTEN   = mmio.Field[uint32]{Pos: 28, Width: 2}
	sqr1L      = mmio.Field[uint32]{Pos: 20, Width: 4}
	jsqrJL     = mmio.Field[uint32]{Pos: 20, Width: 2}
	ccrADCPRE  = mmio.Field[uint32]{Pos: 16, Width: 2}
)

// ADC clock limits for VDDA of 2.4 V and above.
const (
	MinClock = 600 * physic.KiloHertz
	MaxClock = 36 * physic.MegaHertz
)

// Channel is an analog input.
type Channel uint8

// Internal channels.
const (
	VREFINT    Channel = 17
	TempSensor Channel = 18
	VBAT       Channel = 18 // VBAT/4, when EnableVBAT is on
	maxChannel Channel = 18
)

// Resolution is the conversion width.
type Resolution uint8

// Resolutions, in CR1.RES order.
const (
	Bits12 Resolution = iota
	Bits10
	Bits8
	Bits6
)

// SampleTime is the sampling duration in ADC clock cycles.
type SampleTime uint8

// Sample times.
const (
	Sample3 SampleTime = iota
	Sample15
	Sample28
	Sample56
	Sample84
	Sample112
	Sample144
	Sample480
)

// Config is the converter setup.
type Config struct {
	Resolution Resolution
	LeftAlign  bool
	// Divider is the PCLK2 prescaler, 2, 4, 6 or 8. Zero picks the
	// smallest that keeps the ADC clock at or below MaxClock.
	Divider    uint8
	Scan       bool // convert the whole regular sequence per trigger
	Continuous bool
	// EOCEach raises EOC after every regular conversion rather than at
	// the end of the sequence, which also enables overrun detection.
	EOCEach bool
}

// prescaler returns the CCR.ADCPRE code for divider div, or the smallest
// valid one when div is zero.
func prescaler(pclk2 physic.Frequency, div uint8) (uint32, error) {
	if div != 0 {
		if div < 2 || div > 8 || div%2 != 0 {
			return 0, pkg.ErrOutOfRange
		}
		f := pclk2 / physic.Frequency(div)
		if f > MaxClock || f < MinClock {
			return 0, pkg.ErrOutOfRange
		}
		return uint32(div/2 - 1), nil
	}
	for code := uint32(0); code < 4; code++ {
		if f := pclk2 / physic.Frequency(2*code+2); f <= MaxClock {
			if f < MinClock {
				break
			}
			return code, nil
		}
	}
	return 0, pkg.ErrOutOfRange
}

// ADC is the ADC1 converter.
type ADC struct {
	m   *chip.MCU
	cfg Config
	clk physic.Frequency
	inj int // injected sequence length
}

// New claims ADC1 and powers it up with c.
func New(m *chip.MCU, c Config) (*ADC, error) {
	if c.Resolution > Bits6 {
		return nil, pkg.ErrOutOfRange
	}
	pclk2 := m.Clocks().PCLK(chip.APB2)
	pre, err := prescaler(pclk2, c.Divider)
	if err != nil {
		return nil, err
	}
	if err := m.Claim(chip.ADC1); err != nil {
		return nil, err
	}
	rcc.Enable(m, chip.ADC1)
	rcc.Reset(m, chip.ADC1)
	a := &ADC{m: m, cfg: c, clk: pclk2 / physic.Frequency(2*pre+2)}
	ccrADCPRE.Write(a.reg(regCCR), pre)
	var cr1 uint32
	if c.Scan {
		cr1 |= cr1SCAN
	}
	cr1 = cr1RES.Put(cr1, uint32(c.Resolution))
	a.reg(regCR1).Set(cr1)
	cr2 := uint32(cr2ADON)
	if c.LeftAlign {
		cr2 |= cr2ALIGN
	}
	if c.Continuous {
		cr2 |= cr2CONT
	}
	if c.EOCEach {
		cr2 |= cr2EOCS
	}
	a.reg(regCR2).Set(cr2)
	pkg.LogDebug(pkg.ComponentADC, "powered", "clock", a.clk, "res", c.Resolution)
	return a, nil
}

func (a *ADC) reg(off uintptr) mmio.Register32 { return a.m.Block(chip.ADC1).R32(off) }

// Clock returns the ADC clock.
func (a *ADC) Clock() physic.Frequency { return a.clk }

// ConversionTime returns the duration of one conversion with sample time st.
func (a *ADC) ConversionTime(st SampleTime) time.Duration {
	cycles := [...]int64{3, 15, 28, 56, 84, 112, 144, 480}[st&7] + int64(12-2*a.cfg.Resolution)
	return time.Duration(cycles) * time.Second / time.Duration(a.clk/physic.Hertz)
}

// SetSampleTime sets the sampling duration of ch.
func (a *ADC) SetSampleTime(ch Channel, st SampleTime) error {
	if ch > maxChannel || st > Sample480 {
		return pkg.ErrOutOfRange
	}
	if ch < 10 {
		a.reg(regSMPR2).ReplaceBits(uint32(st), 7, uint8(3*ch))
	} else {
		a.reg(regSMPR1).ReplaceBits(uint32(st), 7, uint8(3*(ch-10)))
	}
	return nil
}

// SetSequence defines the regular group, converted in the given order.
func (a *ADC) SetSequence(chs ...Channel) error {
	if len(chs) == 0 || len(chs) > 16 {
		return pkg.ErrOutOfRange
	}
	var sqr [3]uint32 // SQR3, SQR2, SQR1
	for i, ch := range chs {
		if ch > maxChannel {
			return pkg.ErrOutOfRange
		}
		sqr[i/6] |= uint32(ch) << (5 * (i % 6))
	}
	sqr[2] = sqr1L.Put(sqr[2], uint32(len(chs)-1))
	a.reg(regSQR3).Set(sqr[0])
	a.reg(regSQR2).Set(sqr[1])
	a.reg(regSQR1).Set(sqr[2])
	return nil
}

// Start begins a regular conversion by software.
func (a *ADC) Start() { a.reg(regCR2).SetBits(cr2SWSTART) }

// Stop ends continuous conversion after the current sequence.
func (a *ADC) Stop() {
	a.reg(regCR2).ClearBits(cr2CONT)
	a.reg(regSR).Set(^uint32(srSTRT))
}

// Busy reports whether a regular conversion has started and not finished.
func (a *ADC) Busy() bool { return a.reg(regSR).HasBits(srSTRT) }

// Read waits for the next regular result. An overrun clears the flag and
// returns pkg.ErrOverrun; the group must then be restarted.
func (a *ADC) Read() (uint16, error) {
	sr := a.reg(regSR)
	for i := 0; i < a.m.Spin; i++ {
		v := sr.Get()
		if v&srOVR != 0 {
			sr.Set(^uint32(srOVR | srSTRT))
			pkg.LogWarn(pkg.ComponentADC, "overrun")
			return 0, pkg.ErrOverrun
		}
		if v&srEOC != 0 {
			return uint16(a.reg(regDR).Get()), nil
		}
	}
	return 0, pkg.ErrBusTimeout
}

// Convert runs a single software-started conversion of ch. It replaces
// the regular sequence.
func (a *ADC) Convert(ch Channel) (uint16, error) {
	if err := a.SetSequence(ch); err != nil {
		return 0, err
	}
	a.Start()
	return a.Read()
}

// ReadSequence starts the regular group and collects one result per
// element of buf. Config.EOCEach must be set when the group is longer
// than one channel.
func (a *ADC) ReadSequence(buf []uint16) error {
	if len(buf) > 1 && !a.cfg.EOCEach {
		return pkg.ErrInvalidMode
	}
	a.Start()
	for i := range buf {
		v, err := a.Read()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

// SetInjected defines the injected group of one to four channels.
func (a *ADC) SetInjected(chs ...Channel) error {
	n := len(chs)
	if n == 0 || n > 4 {
		return pkg.ErrOutOfRange
	}
	var v uint32
	// With JL < 3 the sequence runs JSQ(4-n)..JSQ4.
	for i, ch := range chs {
		if ch > maxChannel {
			return pkg.ErrOutOfRange
		}
		v |= uint32(ch) << (5 * (4 - n + i))
	}
	v = jsqrJL.Put(v, uint32(n-1))
	a.reg(regJSQR).Set(v)
	a.inj = n
	return nil
}

// SetOffset sets the value subtracted from the result of injected rank i.
func (a *ADC) SetOffset(i int, off uint16) error {
	if i < 0 || i >= a.inj || off > 0xFFF {
		return pkg.ErrOutOfRange
	}
	a.reg(regJOFR1 + uintptr(4-a.inj+i)*4).Set(uint32(off))
	return nil
}

// StartInjected begins the injected group by software.
func (a *ADC) StartInjected() { a.reg(regCR2).SetBits(cr2JSWSTRT) }

// ReadInjected waits for the injected group to finish and copies its
// results, offset-corrected and therefore signed, into buf.
func (a *ADC) ReadInjected(buf []int16) error {
	if len(buf) > a.inj {
		return pkg.ErrOutOfRange
	}
	sr := a.reg(regSR)
	for i := 0; ; i++ {
		if i == a.m.Spin {
			return pkg.ErrBusTimeout
		}
		if sr.HasBits(srJEOC) {
			break
		}
	}
	sr.Set(^uint32(srJEOC))
	for i := range buf {
		buf[i] = int16(a.reg(regJDR1 + uintptr(4-a.inj+i)*4).Get())
	}
	return nil
}

// Release powers the converter down and gates its clock.
func (a *ADC) Release() {
	a.reg(regCR2).Set(0)
	a.reg(regCCR).Set(0)
	rcc.Disable(a.m, chip.ADC1)
	a.m.Release(chip.ADC1)
	pkg.LogDebug(pkg.ComponentADC, "released")
}
