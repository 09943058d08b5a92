package irq

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// EXTI registers.
const (
	extiIMR   = 0x00
	extiEMR   = 0x04
	extiRTSR  = 0x08
	extiFTSR  = 0x0C
	extiSWIER = 0x10
	extiPR    = 0x14 // write 1 to clear

	syscfgEXTICR1 = 0x08
)

// Line is an EXTI line. Lines 0..15 follow the GPIO pin of the same
// number; the rest are wired to internal sources.
type Line uint8

// Internal EXTI lines.
const (
	LinePVD          Line = 16
	LineRTCAlarm     Line = 17
	LineOTGFSWakeup  Line = 18
	LineTamperStamp  Line = 21
	LineRTCWakeup    Line = 22
	numLines              = 23
	linesImplemented      = 0x67_FFFF
)

// LineOf returns the line a pin feeds.
func LineOf(pin chip.Pin) Line { return Line(pin.Index()) }

func (l Line) valid() bool { return l < numLines && linesImplemented&(1<<l) != 0 }

func (l Line) mask() uint32 { return 1 << l }

// IRQ returns the NVIC interrupt serving l. Lines 5..9 and 10..15 share
// one interrupt each.
func (l Line) IRQ() chip.IRQ { return chip.EXTIIRQ(uint8(l)) }

// Edge selects the trigger of a line.
type Edge uint8

// Trigger edges.
const (
	Rising Edge = 1 << iota
	Falling
	Both = Rising | Falling
)

// EXTI programs the external interrupt and event controller together with
// the SYSCFG port mux of lines 0..15.
type EXTI struct {
	m *chip.MCU
}

// NewEXTI returns the EXTI controller of m. SYSCFG's clock is enabled for
// the port mux.
func NewEXTI(m *chip.MCU) EXTI {
	rcc.Enable(m, chip.SYSCFG)
	return EXTI{m: m}
}

func (e EXTI) regs() mmio.Block { return e.m.At(chip.EXTIBase) }

// rmw writes the bit of l in a mask or trigger register through its
// bit-band alias. The bus performs the read-modify-write atomically.
func (e EXTI) rmw(off uintptr, l Line, on bool) {
	bit, err := mmio.BitBand(e.m.Bus, chip.EXTIBase+off, uint8(l))
	if err != nil {
		return
	}
	bit.Write(on)
}

// MapGPIO makes pin the source of its line. Pin N of only one port can
// drive line N; mapping another port's pin N takes the line over.
func (e EXTI) MapGPIO(pin chip.Pin) error {
	if int(pin) >= chip.NumPins {
		return pkg.ErrOutOfRange
	}
	i := pin.Index()
	r := e.m.Block(chip.SYSCFG).R32(syscfgEXTICR1 + uintptr(i/4)*4)
	s := e.m.Core.DisableInterrupts()
	r.ReplaceBits(uint32(pin.Port()), 0xF, (i%4)*4)
	e.m.Core.RestoreInterrupts(s)
	return nil
}

// Source returns the port driving GPIO line l.
func (e EXTI) Source(l Line) (chip.Port, bool) {
	if l > 15 {
		return 0, false
	}
	v := e.m.Block(chip.SYSCFG).R32(syscfgEXTICR1 + uintptr(l/4)*4).Get()
	return chip.Port(v >> ((l % 4) * 4) & 0xF), true
}

// SetTrigger selects the edges that trigger l.
func (e EXTI) SetTrigger(l Line, edge Edge) error {
	if !l.valid() || edge == 0 || edge > Both {
		return pkg.ErrOutOfRange
	}
	e.rmw(extiRTSR, l, edge&Rising != 0)
	e.rmw(extiFTSR, l, edge&Falling != 0)
	return nil
}

// Unmask lets l raise its interrupt.
func (e EXTI) Unmask(l Line) { e.rmw(extiIMR, l, true) }

// Mask stops l from raising its interrupt.
func (e EXTI) Mask(l Line) { e.rmw(extiIMR, l, false) }

// UnmaskEvent lets l wake a WaitForEvent.
func (e EXTI) UnmaskEvent(l Line) { e.rmw(extiEMR, l, true) }

// MaskEvent stops l from generating events.
func (e EXTI) MaskEvent(l Line) { e.rmw(extiEMR, l, false) }

// IsPending reports whether l has a pending request.
func (e EXTI) IsPending(l Line) bool { return e.regs().R32(extiPR).HasBits(l.mask()) }

// ClearPending clears l's pending bit. Handlers must do this before they
// return or the interrupt is taken again at once.
func (e EXTI) ClearPending(l Line) { e.regs().R32(extiPR).Set(l.mask()) }

// Pending returns and clears every pending line in mask. Handlers of
// shared interrupts (lines 5..9, 10..15) use it to learn which lines
// fired.
func (e EXTI) Pending(mask uint32) uint32 {
	pr := e.regs().R32(extiPR)
	v := pr.Get() & mask
	if v != 0 {
		pr.Set(v)
	}
	return v
}

// TriggerSoftware raises a request on l as if its edge had occurred.
func (e EXTI) TriggerSoftware(l Line) { e.regs().R32(extiSWIER).Set(l.mask()) }

// Listen routes pin to its line with the given edges, clears any stale
// request, unmasks the line and enables its interrupt at prio.
func (e EXTI) Listen(pin chip.Pin, edge Edge, prio uint8) error {
	l := LineOf(pin)
	if err := e.MapGPIO(pin); err != nil {
		return err
	}
	return e.ListenLine(l, edge, prio)
}

// ListenLine is Listen for a line whose source is already selected, such
// as the internal RTC lines.
func (e EXTI) ListenLine(l Line, edge Edge, prio uint8) error {
	if err := e.SetTrigger(l, edge); err != nil {
		return err
	}
	e.ClearPending(l)
	e.Unmask(l)
	n := NewNVIC(e.m)
	if err := n.SetPriority(l.IRQ(), prio); err != nil {
		return err
	}
	return n.ClearAndEnable(l.IRQ())
}
