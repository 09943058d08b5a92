// Package systick drives the Cortex-M SysTick timer: a 24-bit down-counter
// clocked from HCLK or HCLK/8 that can raise the SysTick exception every
// time it wraps.
package systick

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
)

const (
	regCTRL  = 0x0
	regLOAD  = 0x4
	regVAL   = 0x8 // any write clears it and COUNTFLAG
	regCALIB = 0xC

	ctrlENABLE    = 1 << 0
	ctrlTICKINT   = 1 << 1
	ctrlCLKSOURCE = 1 << 2
	ctrlCOUNTFLAG = 1 << 16 // cleared by reading CTRL

	calibNOREF = 1 << 31
	calibSKEW  = 1 << 30

	// MaxReload is the largest reload value.
	MaxReload = 1<<24 - 1
)

// Source is the counter clock. It has no default: the zero value is
// rejected.
type Source uint8

// Counter clocks.
const (
	SourceUnset Source = iota
	SourceHCLK
	SourceHCLKDiv8
)

// Config configures the counter.
type Config struct {
	Source Source

	// Rate is the wrap frequency. When zero, Reload is used as is.
	Rate   physic.Frequency
	Reload uint32

	// Interrupt enables the SysTick exception at Priority.
	Interrupt bool
	Priority  uint8
}

// Timer is the configured SysTick counter.
type Timer struct {
	m      *chip.MCU
	src    Source
	reload uint32
}

func regs(m *chip.MCU) mmio.Block { return m.At(chip.SysTickBase) }

// Clock returns the counter frequency for src with the MCU's clocks.
func Clock(m *chip.MCU, src Source) physic.Frequency {
	h := m.Clocks().HCLK
	if src == SourceHCLKDiv8 {
		return h / 8
	}
	return h
}

// Configure programs the counter and leaves it stopped.
func Configure(m *chip.MCU, c Config) (*Timer, error) {
	if c.Source != SourceHCLK && c.Source != SourceHCLKDiv8 {
		return nil, pkg.ErrInvalidMode
	}
	reload := c.Reload
	if c.Rate > 0 {
		clk := Clock(m, c.Source)
		if c.Rate > clk {
			return nil, pkg.ErrOutOfRange
		}
		reload = uint32(int64(clk)/int64(c.Rate)) - 1
	}
	if reload == 0 || reload > MaxReload {
		return nil, pkg.ErrOutOfRange
	}
	if c.Interrupt {
		if err := irq.NewNVIC(m).SetPriority(chip.IRQSysTick, c.Priority); err != nil {
			return nil, err
		}
	}
	r := regs(m)
	r.R32(regCTRL).Set(0)
	r.R32(regLOAD).Set(reload)
	r.R32(regVAL).Set(0)
	ctrl := uint32(0)
	if c.Source == SourceHCLK {
		ctrl |= ctrlCLKSOURCE
	}
	if c.Interrupt {
		ctrl |= ctrlTICKINT
	}
	r.R32(regCTRL).Set(ctrl)
	pkg.LogDebug(pkg.ComponentSysTick, "configured", "reload", reload, "clock", Clock(m, c.Source))
	return &Timer{m: m, src: c.Source, reload: reload}, nil
}

// Start runs the counter from its reload value.
func (t *Timer) Start() {
	r := regs(t.m)
	r.R32(regVAL).Set(0)
	r.R32(regCTRL).SetBits(ctrlENABLE)
}

// Stop halts the counter. The exception, if enabled, stays enabled.
func (t *Timer) Stop() { regs(t.m).R32(regCTRL).ClearBits(ctrlENABLE) }

// Value returns the current count.
func (t *Timer) Value() uint32 { return regs(t.m).R32(regVAL).Get() }

// Reload returns the reload value.
func (t *Timer) Reload() uint32 { return t.reload }

// Period returns the time between wraps.
func (t *Timer) Period() time.Duration {
	hz := int64(Clock(t.m, t.src) / physic.Hertz)
	return time.Duration(int64(t.reload+1) * int64(time.Second) / hz)
}

// Wrapped reports whether the counter reached zero since the last call.
// Reading CTRL clears the flag.
func (t *Timer) Wrapped() bool { return regs(t.m).R32(regCTRL).HasBits(ctrlCOUNTFLAG) }

// Delay spins for at least d by counting wraps. The counter must be
// running; the first partial period is not counted.
func (t *Timer) Delay(d time.Duration) error {
	r := regs(t.m).R32(regCTRL)
	ctrl := r.Get()
	if ctrl&ctrlENABLE == 0 {
		return pkg.ErrInvalidState
	}
	p := t.Period()
	n := int64((d+p-1)/p) + 1
	for ; n > 0; n-- {
		for !r.HasBits(ctrlCOUNTFLAG) {
		}
	}
	return nil
}

// Calibration returns the TENMS reload value of the reference clock, or
// false when the part does not provide one.
func Calibration(m *chip.MCU) (tenms uint32, exact bool, ok bool) {
	v := regs(m).R32(regCALIB).Get()
	if v&calibNOREF != 0 && v&0xFF_FFFF == 0 {
		return 0, false, false
	}
	return v & 0xFF_FFFF, v&calibSKEW == 0, true
}
