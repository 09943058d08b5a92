package gpio

import (
	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// Port registers.
const (
	regMODER   = 0x00
	regOTYPER  = 0x04
	regOSPEEDR = 0x08
	regPUPDR   = 0x0C
	regIDR     = 0x10
	regODR     = 0x14
	regBSRR    = 0x18 // write-only: set in 15:0, reset in 31:16
	regLCKR    = 0x1C // key-unlocked: LCKK write/write/write/read/read
	regAFRL    = 0x20
	regAFRH    = 0x24

	lckK = 1 << 16
)

// Mode is the MODER setting of a pin.
type Mode uint8

// Pin modes.
const (
	ModeInput Mode = iota
	ModeOutput
	ModeAlternate
	ModeAnalog
)

var modeNames = [...]string{"input", "output", "alternate", "analog"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "mode?"
}

// Pull selects the internal pull resistor.
type Pull uint8

// Pull settings. The values match PUPDR.
const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Drive selects the output stage.
type Drive uint8

// Output stages. The values match OTYPER.
const (
	PushPull Drive = iota
	OpenDrain
)

// Speed is the output slew rate.
type Speed uint8

// Output speeds. The values match OSPEEDR.
const (
	SpeedLow Speed = iota
	SpeedMedium
	SpeedFast
	SpeedHigh
)

// Pin is a claimed pin whose mode the owner has not yet chosen.
type Pin struct {
	m  *chip.MCU
	id chip.Pin
}

// Claim takes ownership of id and enables its port clock. The pin keeps
// whatever mode it has.
func Claim(m *chip.MCU, id chip.Pin) (Pin, error) {
	if int(id) >= chip.NumPins {
		return Pin{}, pkg.ErrOutOfRange
	}
	if err := m.ClaimPin(id); err != nil {
		return Pin{}, err
	}
	rcc.Enable(m, id.Port().Periph())
	pkg.LogDebug(pkg.ComponentGPIO, "pin claimed", "pin", id)
	return Pin{m: m, id: id}, nil
}

// ID returns the pin's identity.
func (p Pin) ID() chip.Pin { return p.id }

// Mode returns the pin's current MODER setting.
func (p Pin) Mode() Mode {
	return Mode(p.regs().R32(regMODER).Get() >> (2 * p.id.Index()) & 3)
}

// Free gives up ownership of the pin. The mode is left as it is.
func (p Pin) Free() { p.m.ReleasePin(p.id) }

func (p Pin) regs() mmio.Block { return p.m.At(p.id.Port().Base()) }

// field replaces the width-bit field of this pin in register off. Ports
// are shared by every pin of the port, so the read-modify-write runs with
// interrupts masked.
func (p Pin) field(off uintptr, width uint8, v uint32) {
	r := p.regs().R32(off)
	s := p.m.Core.DisableInterrupts()
	r.ReplaceBits(v, 1<<width-1, p.id.Index()*width)
	p.m.Core.RestoreInterrupts(s)
}

func (p Pin) setMode(mode Mode) { p.field(regMODER, 2, uint32(mode)) }
func (p Pin) setPull(pull Pull) { p.field(regPUPDR, 2, uint32(pull)) }
func (p Pin) setSpeed(s Speed)  { p.field(regOSPEEDR, 2, uint32(s)) }
func (p Pin) setDrive(d Drive)  { p.field(regOTYPER, 1, uint32(d)) }

func (p Pin) setAF(af uint8) {
	off := uintptr(regAFRL)
	i := p.id.Index()
	if i >= 8 {
		off, i = regAFRH, i-8
	}
	r := p.regs().R32(off)
	s := p.m.Core.DisableInterrupts()
	r.ReplaceBits(uint32(af), 0xF, i*4)
	p.m.Core.RestoreInterrupts(s)
}

// write drives the output latch through BSRR, which needs no
// read-modify-write.
func (p Pin) write(l gpio.Level) {
	v := p.id.Mask()
	if !l {
		v <<= 16
	}
	p.regs().R32(regBSRR).Set(v)
}

func (p Pin) read() gpio.Level { return gpio.Level(p.regs().R32(regIDR).HasBits(p.id.Mask())) }

func (p Pin) latched() gpio.Level { return gpio.Level(p.regs().R32(regODR).HasBits(p.id.Mask())) }

// reset returns the pin to a floating input.
func (p Pin) reset() {
	p.setMode(ModeInput)
	p.setPull(PullNone)
	p.setDrive(PushPull)
	p.setSpeed(SpeedLow)
}

// lock freezes the pin's configuration until the next reset. A port lock
// covers every pin named in one sequence, so locking again on the same
// port fails.
func (p Pin) lock() error {
	r := p.regs().R32(regLCKR)
	if r.HasBits(lckK) {
		return pkg.ErrInvalidState
	}
	s := p.m.Core.DisableInterrupts()
	pins := p.id.Mask()
	r.Set(lckK | pins)
	r.Set(pins)
	r.Set(lckK | pins)
	r.Get()
	ok := r.HasBits(lckK)
	p.m.Core.RestoreInterrupts(s)
	if !ok {
		return pkg.ErrInvalidState
	}
	pkg.LogDebug(pkg.ComponentGPIO, "pin locked", "pin", p.id)
	return nil
}

// Input configures the pin as a digital input.
func (p Pin) Input(pull Pull) Input {
	p.setPull(pull)
	p.setMode(ModeInput)
	return Input{p}
}

// Output configures the pin as an output driving level. The latch is
// written before the mode switch so the pin never glitches.
func (p Pin) Output(d Drive, s Speed, level gpio.Level) Output {
	p.write(level)
	p.setDrive(d)
	p.setSpeed(s)
	p.setPull(PullNone)
	p.setMode(ModeOutput)
	return Output{p}
}

// Analog disconnects the digital input stage for ADC or DAC use.
func (p Pin) Analog() Analog {
	p.setPull(PullNone)
	p.setMode(ModeAnalog)
	return Analog{p}
}

// Alternate hands the pin to alternate function af. The owning
// peripheral's clock should already be running; use [Pin.AlternateFor]
// to have that checked.
func (p Pin) Alternate(af uint8, d Drive, s Speed, pull Pull) (Alternate, error) {
	if af > 15 {
		return Alternate{}, pkg.ErrOutOfRange
	}
	p.setAF(af)
	p.setDrive(d)
	p.setSpeed(s)
	p.setPull(pull)
	p.setMode(ModeAlternate)
	pkg.LogDebug(pkg.ComponentGPIO, "alternate function", "pin", p.id, "af", af)
	return Alternate{p, af}, nil
}

// AlternateFor connects the pin to signal sig of periph. It fails with
// pkg.ErrNotSupported when the pin cannot carry sig, and with
// pkg.ErrInvalidMode when periph's clock is off, since the pin would float
// until it is enabled.
func (p Pin) AlternateFor(periph chip.Periph, sig chip.Signal, d Drive, s Speed, pull Pull) (Alternate, error) {
	af, ok := chip.FindAF(p.id, periph, sig)
	if !ok {
		return Alternate{}, pkg.ErrNotSupported
	}
	if periph.Bus() != chip.BusNone && !rcc.Enabled(p.m, periph) {
		pkg.LogWarn(pkg.ComponentGPIO, "peripheral clock off", "pin", p.id, "periph", periph)
		return Alternate{}, pkg.ErrInvalidMode
	}
	return p.Alternate(af, d, s, pull)
}

// Input is a pin in input mode.
type Input struct{ p Pin }

// ID returns the pin's identity.
func (i Input) ID() chip.Pin { return i.p.id }

// Read returns the pin level.
func (i Input) Read() gpio.Level { return i.p.read() }

// SetPull changes the pull resistor.
func (i Input) SetPull(pull Pull) { i.p.setPull(pull) }

// Release returns the pin to a floating input.
func (i Input) Release() Pin { i.p.reset(); return i.p }

// Erase converts the handle into a run-time moded pin.
func (i Input) Erase() *Dynamic { return &Dynamic{p: i.p, mode: ModeInput} }

// Output is a pin in output mode.
type Output struct{ p Pin }

// ID returns the pin's identity.
func (o Output) ID() chip.Pin { return o.p.id }

// Set drives l.
func (o Output) Set(l gpio.Level) { o.p.write(l) }

// High drives the pin high.
func (o Output) High() { o.p.write(gpio.High) }

// Low drives the pin low.
func (o Output) Low() { o.p.write(gpio.Low) }

// Toggle inverts the output latch.
func (o Output) Toggle() { o.p.write(!o.p.latched()) }

// Latched returns the level the pin is told to drive.
func (o Output) Latched() gpio.Level { return o.p.latched() }

// Read returns the level seen on the pin, which differs from Latched for an
// open-drain output held low from outside.
func (o Output) Read() gpio.Level { return o.p.read() }

// SetSpeed changes the slew rate.
func (o Output) SetSpeed(s Speed) { o.p.setSpeed(s) }

// Lock freezes the pin's configuration until reset.
func (o Output) Lock() error { return o.p.lock() }

// Release returns the pin to a floating input.
func (o Output) Release() Pin { o.p.reset(); return o.p }

// Erase converts the handle into a run-time moded pin.
func (o Output) Erase() *Dynamic { return &Dynamic{p: o.p, mode: ModeOutput} }

// Analog is a pin in analog mode.
type Analog struct{ p Pin }

// ID returns the pin's identity.
func (a Analog) ID() chip.Pin { return a.p.id }

// Release returns the pin to a floating input.
func (a Analog) Release() Pin { a.p.reset(); return a.p }

// Erase converts the handle into a run-time moded pin.
func (a Analog) Erase() *Dynamic { return &Dynamic{p: a.p, mode: ModeAnalog} }

// Alternate is a pin handed to a peripheral.
type Alternate struct {
	p  Pin
	af uint8
}

// ID returns the pin's identity.
func (a Alternate) ID() chip.Pin { return a.p.id }

// AF returns the selected alternate function number.
func (a Alternate) AF() uint8 { return a.af }

// Read returns the pin level.
func (a Alternate) Read() gpio.Level { return a.p.read() }

// SetSpeed changes the slew rate.
func (a Alternate) SetSpeed(s Speed) { a.p.setSpeed(s) }

// Lock freezes the pin's configuration until reset.
func (a Alternate) Lock() error { return a.p.lock() }

// Release returns the pin to a floating input.
func (a Alternate) Release() Pin { a.p.reset(); return a.p }

// Erase converts the handle into a run-time moded pin.
func (a Alternate) Erase() *Dynamic { return &Dynamic{p: a.p, mode: ModeAlternate} }
