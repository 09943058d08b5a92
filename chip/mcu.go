package chip

import (
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
)

// DefaultSpin bounds every busy-wait loop unless a driver is configured
// otherwise.
const DefaultSpin = 0x5000

// MCU is one STM32F4 device: its register bus, processor core, vector
// table, ownership registry and frozen clocks.
type MCU struct {
	Bus  mmio.Bus
	Core Core

	// Spin is the default poll budget of bounded waits.
	Spin int

	clocks  Clocks
	periphs [NumPeriph]bool
	pins    [NumPins]bool
	streams [16]bool
	vectors [VectorCount]func()
}

// New returns an MCU in its reset state.
func New(bus mmio.Bus, core Core) *MCU {
	return &MCU{Bus: bus, Core: core, Spin: DefaultSpin, clocks: ResetClocks()}
}

func (m *MCU) critical(fn func()) {
	state := m.Core.DisableInterrupts()
	fn()
	m.Core.RestoreInterrupts(state)
}

// Block returns the register block of p.
func (m *MCU) Block(p Periph) mmio.Block { return mmio.Block{Bus: m.Bus, Base: p.Base()} }

// At returns the register block at base.
func (m *MCU) At(base uintptr) mmio.Block { return mmio.Block{Bus: m.Bus, Base: base} }

// Clocks returns the frequencies frozen by the last clock configuration.
func (m *MCU) Clocks() Clocks { return m.clocks }

// SetClocks records a new clock configuration.
func (m *MCU) SetClocks(c Clocks) { m.clocks = c }

func claim(slot *bool) error {
	if *slot {
		return pkg.ErrClaimed
	}
	*slot = true
	return nil
}

// Claim takes ownership of p.
func (m *MCU) Claim(p Periph) (err error) {
	if int(p) >= NumPeriph {
		return pkg.ErrOutOfRange
	}
	m.critical(func() { err = claim(&m.periphs[p]) })
	return err
}

// Release gives up ownership of p.
func (m *MCU) Release(p Periph) {
	if int(p) < NumPeriph {
		m.critical(func() { m.periphs[p] = false })
	}
}

// Claimed reports whether p has an owner.
func (m *MCU) Claimed(p Periph) bool { return int(p) < NumPeriph && m.periphs[p] }

// ClaimPin takes ownership of pin.
func (m *MCU) ClaimPin(pin Pin) (err error) {
	if int(pin) >= NumPins {
		return pkg.ErrOutOfRange
	}
	m.critical(func() { err = claim(&m.pins[pin]) })
	return err
}

// ReleasePin gives up ownership of pin.
func (m *MCU) ReleasePin(pin Pin) {
	if int(pin) < NumPins {
		m.critical(func() { m.pins[pin] = false })
	}
}

// ClaimStream takes ownership of stream s (0..7) of DMA controller ctrl
// (1 or 2).
func (m *MCU) ClaimStream(ctrl, s uint8) (err error) {
	if ctrl < 1 || ctrl > 2 || s > 7 {
		return pkg.ErrOutOfRange
	}
	m.critical(func() { err = claim(&m.streams[(ctrl-1)*8+s]) })
	return err
}

// ReleaseStream gives up ownership of a DMA stream.
func (m *MCU) ReleaseStream(ctrl, s uint8) {
	if ctrl >= 1 && ctrl <= 2 && s <= 7 {
		m.critical(func() { m.streams[(ctrl-1)*8+s] = false })
	}
}

// Handle installs fn as the handler of irq, replacing any previous one. A
// nil fn removes the handler.
func (m *MCU) Handle(irq IRQ, fn func()) error {
	if !irq.Valid() {
		return pkg.ErrOutOfRange
	}
	m.critical(func() { m.vectors[irq-IRQNMI] = fn })
	return nil
}

// Dispatch runs the handler of irq. It reports false when none is
// installed.
func (m *MCU) Dispatch(irq IRQ) bool {
	if !irq.Valid() {
		return false
	}
	fn := m.vectors[irq-IRQNMI]
	if fn == nil {
		pkg.LogWarn(pkg.ComponentIRQ, "unhandled interrupt", "irq", irq)
		return false
	}
	fn()
	return true
}
