// Package iwdg drives the independent watchdog.
//
// The IWDG counts LSI cycles and resets the chip when the count runs out.
// Once started it can only be stopped by a reset, so [Start] is the only
// constructor and there is no Release.
package iwdg

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/pwr"
)

const (
	regKR  = 0x00
	regPR  = 0x04
	regRLR = 0x08
	regSR  = 0x0C

	keyUnlock = 0x5555
	keyReload = 0xAAAA
	keyStart  = 0xCCCC

	srPVU = 1 << 0
	srRVU = 1 << 1

	// MaxReload is the largest reload value.
	MaxReload = 0xFFF
)

// Compute returns the prescaler code (divider 4<<pr) and reload value
// closest to d, using the smallest divider that fits for the finest
// resolution. The LSI is nominally 32 kHz; on silicon it varies by tens of
// percent, so d is a nominal figure.
func Compute(d time.Duration) (pr uint8, rlr uint16, err error) {
	lsi := int64(chip.LSIFrequency / physic.Hertz)
	for p := uint8(0); p <= 6; p++ {
		div := int64(4) << p
		n := (int64(d)*lsi/div + int64(time.Second)/2) / int64(time.Second)
		if n >= 1 && n <= MaxReload+1 {
			return p, uint16(n - 1), nil
		}
	}
	return 0, 0, pkg.ErrOutOfRange
}

// Timeout returns the nominal time from a reload to the reset.
func Timeout(pr uint8, rlr uint16) time.Duration {
	lsi := int64(chip.LSIFrequency / physic.Hertz)
	return time.Duration(int64(rlr+1) * (4 << pr) * int64(time.Second) / lsi)
}

// Watchdog is a running IWDG.
type Watchdog struct {
	m       *chip.MCU
	pr      uint8
	rlr     uint16
	timeout time.Duration
}

// Start claims the IWDG, starts it and programs a timeout of d. The LSI is
// started by hardware.
func Start(m *chip.MCU, d time.Duration) (*Watchdog, error) {
	pr, rlr, err := Compute(d)
	if err != nil {
		return nil, err
	}
	if err := m.Claim(chip.IWDG); err != nil {
		return nil, err
	}
	w := &Watchdog{m: m, pr: pr, rlr: rlr, timeout: Timeout(pr, rlr)}
	kr := w.reg(regKR)
	kr.Set(keyStart)
	kr.Set(keyUnlock)
	w.reg(regPR).Set(uint32(pr))
	w.reg(regRLR).Set(uint32(rlr))
	if err := w.wait(); err != nil {
		// still running on the reset value
		kr.Set(keyReload)
		return w, err
	}
	kr.Set(keyReload)
	pkg.LogInfo(pkg.ComponentWatchdog, "IWDG started", "timeout", w.timeout, "pr", pr, "rlr", rlr)
	return w, nil
}

func (w *Watchdog) reg(off uintptr) mmio.Register32 { return w.m.Block(chip.IWDG).R32(off) }

// wait lets PR and RLR cross into the LSI domain, which takes up to five
// LSI periods.
func (w *Watchdog) wait() error {
	sr := w.reg(regSR)
	for i := 0; i < w.m.Spin; i++ {
		if sr.Get()&(srPVU|srRVU) == 0 {
			return nil
		}
	}
	return pkg.ErrBusTimeout
}

// Feed reloads the counter.
func (w *Watchdog) Feed() { w.reg(regKR).Set(keyReload) }

// Timeout returns the programmed timeout.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Freeze stops the counter while a debugger halts the core.
func (w *Watchdog) Freeze(on bool) error { return pwr.FreezeInDebug(w.m, chip.IWDG, on) }
