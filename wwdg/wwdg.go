// Package wwdg drives the window watchdog.
//
// The WWDG is a 7-bit down counter clocked from PCLK1/4096/2^WDGTB. The
// chip resets when bit 6 of the counter clears (the count passes 0x40),
// and also when the counter is reloaded while it is still above the
// window value. The early wake-up interrupt fires at 0x40, one tick before
// the reset.
package wwdg

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/pwr"
	"github.com/ardnew/f4core/rcc"
)

const (
	regCR  = 0x00
	regCFR = 0x04
	regSR  = 0x08

	crWDGA  = 1 << 7
	cfrEWI  = 1 << 9
	srEWIF  = 1 << 0
	counter = 0x7F

	// Min is the smallest counter or window value; reaching it resets.
	Min = 0x40
	// Max is the largest counter value.
	Max = 0x7F
)

var cfrWDGTB = mmio.Field[uint32]{Pos: 7, Width: 2}

// Config programs the watchdog.
type Config struct {
	Prescaler   uint8 // WDGTB, divides the tick by 1<<Prescaler (0..3)
	Counter     uint8 // reload value, Min..Max
	Window      uint8 // highest counter value a reload is allowed at, Min..Max
	EarlyWakeup bool
}

func (c Config) validate() error {
	if c.Prescaler > 3 || c.Counter < Min || c.Counter > Max || c.Window < Min || c.Window > Max {
		return pkg.ErrOutOfRange
	}
	return nil
}

// Tick returns the counter period for PCLK1 and prescaler code tb.
func Tick(pclk1 physic.Frequency, tb uint8) time.Duration {
	hz := int64(pclk1 / physic.Hertz)
	if hz <= 0 {
		return 0
	}
	return time.Duration(int64(4096<<tb) * int64(time.Second) / hz)
}

// Timeout returns the time from a reload with counter to the reset.
func Timeout(pclk1 physic.Frequency, tb, counter uint8) time.Duration {
	return time.Duration(int(counter)-Min+1) * Tick(pclk1, tb)
}

// Compute returns the prescaler code and counter giving a timeout closest
// to d, with the finest tick that fits.
func Compute(pclk1 physic.Frequency, d time.Duration) (tb, counter uint8, err error) {
	for p := uint8(0); p <= 3; p++ {
		tick := Tick(pclk1, p)
		if tick <= 0 {
			return 0, 0, pkg.ErrClockNotReady
		}
		n := (d + tick/2) / tick
		if n >= 1 && n <= Max-Min+1 {
			return p, uint8(n) + Min - 1, nil
		}
	}
	return 0, 0, pkg.ErrOutOfRange
}

// Watchdog is an enabled WWDG. Only a reset disables it again.
type Watchdog struct {
	m   *chip.MCU
	cfg Config
}

// Start claims and enables the watchdog.
func Start(m *chip.MCU, c Config) (*Watchdog, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := m.Claim(chip.WWDG); err != nil {
		return nil, err
	}
	rcc.Enable(m, chip.WWDG)
	w := &Watchdog{m: m, cfg: c}
	cfr := cfrWDGTB.Put(uint32(c.Window), uint32(c.Prescaler))
	if c.EarlyWakeup {
		cfr |= cfrEWI
	}
	w.reg(regCFR).Set(cfr)
	w.reg(regSR).Set(0)
	w.reg(regCR).Set(crWDGA | uint32(c.Counter))
	pkg.LogInfo(pkg.ComponentWatchdog, "WWDG started",
		"timeout", w.Timeout(), "counter", c.Counter, "window", c.Window)
	return w, nil
}

func (w *Watchdog) reg(off uintptr) mmio.Register32 { return w.m.Block(chip.WWDG).R32(off) }

// Counter returns the current counter value.
func (w *Watchdog) Counter() uint8 { return uint8(w.reg(regCR).Get() & counter) }

// Timeout returns the time from a reload to the reset at the current PCLK1.
func (w *Watchdog) Timeout() time.Duration {
	return Timeout(w.m.Clocks().PCLK1, w.cfg.Prescaler, w.cfg.Counter)
}

// Open reports whether a reload is allowed now.
func (w *Watchdog) Open() bool { return w.Counter() <= w.cfg.Window }

// Feed reloads the counter unconditionally. Outside the window the
// hardware resets the chip.
func (w *Watchdog) Feed() { w.reg(regCR).Set(crWDGA | uint32(w.cfg.Counter)) }

// TryFeed reloads the counter if the window is open and returns
// ErrWatchdogWindow instead of resetting otherwise.
func (w *Watchdog) TryFeed() error {
	if !w.Open() {
		return pkg.ErrWatchdogWindow
	}
	w.Feed()
	return nil
}

// Listen enables the early wake-up interrupt at prio. The handler should
// call EarlyWakeup and then Feed.
func (w *Watchdog) Listen(prio uint8) error {
	if !w.cfg.EarlyWakeup {
		return pkg.ErrInvalidMode
	}
	return irq.NewNVIC(w.m).Enable(chip.IRQWWDG, prio)
}

// EarlyWakeup reports and clears the early wake-up flag.
func (w *Watchdog) EarlyWakeup() bool {
	sr := w.reg(regSR)
	if sr.Get()&srEWIF == 0 {
		return false
	}
	sr.Set(0)
	return true
}

// Freeze stops the counter while a debugger halts the core.
func (w *Watchdog) Freeze(on bool) error { return pwr.FreezeInDebug(w.m, chip.WWDG, on) }
