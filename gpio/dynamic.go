package gpio

import (
	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Dynamic is a pin whose mode is tracked at run time. Operations that do
// not fit the current mode fail with pkg.ErrInvalidMode.
type Dynamic struct {
	p    Pin
	mode Mode
}

// ID returns the pin's identity.
func (d *Dynamic) ID() chip.Pin { return d.p.id }

// Mode returns the tracked mode.
func (d *Dynamic) Mode() Mode { return d.mode }

// MakeInput switches to input mode.
func (d *Dynamic) MakeInput(pull Pull) {
	d.p.Input(pull)
	d.mode = ModeInput
}

// MakeOutput switches to output mode driving level.
func (d *Dynamic) MakeOutput(dr Drive, s Speed, level gpio.Level) {
	d.p.Output(dr, s, level)
	d.mode = ModeOutput
}

// MakeAnalog switches to analog mode.
func (d *Dynamic) MakeAnalog() {
	d.p.Analog()
	d.mode = ModeAnalog
}

// Read returns the pin level. Analog pins have no digital input.
func (d *Dynamic) Read() (gpio.Level, error) {
	if d.mode == ModeAnalog {
		return gpio.Low, pkg.ErrInvalidMode
	}
	return d.p.read(), nil
}

// Set drives l. The pin must be an output.
func (d *Dynamic) Set(l gpio.Level) error {
	if d.mode != ModeOutput {
		return pkg.ErrInvalidMode
	}
	d.p.write(l)
	return nil
}

// Toggle inverts the output latch. The pin must be an output.
func (d *Dynamic) Toggle() error {
	if d.mode != ModeOutput {
		return pkg.ErrInvalidMode
	}
	d.p.write(!d.p.latched())
	return nil
}

// SetSpeed changes the slew rate of an output or alternate pin.
func (d *Dynamic) SetSpeed(s Speed) error {
	if d.mode != ModeOutput && d.mode != ModeAlternate {
		return pkg.ErrInvalidMode
	}
	d.p.setSpeed(s)
	return nil
}

// Release returns the pin to a floating input.
func (d *Dynamic) Release() Pin {
	d.p.reset()
	d.mode = ModeInput
	return d.p
}
