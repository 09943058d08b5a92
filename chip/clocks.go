package chip

import "periph.io/x/conn/v3/physic"

// Oscillator frequencies fixed by the silicon.
const (
	HSIFrequency = 16 * physic.MegaHertz
	LSIFrequency = 32 * physic.KiloHertz
	LSEFrequency = 32768 * physic.Hertz
)

// Clocks is the set of bus frequencies produced by a clock configuration.
// Drivers read it to derive baud rates, prescalers and timeouts; it is
// never mutated after configuration.
type Clocks struct {
	SYSCLK  physic.Frequency
	HCLK    physic.Frequency
	PCLK1   physic.Frequency
	PCLK2   physic.Frequency
	TIMCLK1 physic.Frequency
	TIMCLK2 physic.Frequency
	PLL48   physic.Frequency
	HSE     physic.Frequency
	RTCCLK  physic.Frequency

	// Scale is the regulator voltage scale (1..3, 1 is highest).
	Scale uint8
}

// ResetClocks returns the clocks after a system reset: everything runs from
// HSI with all prescalers at 1.
func ResetClocks() Clocks {
	return Clocks{
		SYSCLK:  HSIFrequency,
		HCLK:    HSIFrequency,
		PCLK1:   HSIFrequency,
		PCLK2:   HSIFrequency,
		TIMCLK1: HSIFrequency,
		TIMCLK2: HSIFrequency,
		Scale:   2,
	}
}

// PCLK returns the clock of the given bus.
func (c Clocks) PCLK(b Bus) physic.Frequency {
	switch b {
	case APB1:
		return c.PCLK1
	case APB2:
		return c.PCLK2
	}
	return c.HCLK
}

// Kernel returns the clock feeding p's register interface and, for APB
// peripherals other than timers, its kernel.
func (c Clocks) Kernel(p Periph) physic.Frequency { return c.PCLK(p.Bus()) }

// Timer returns the counter clock of timer p.
func (c Clocks) Timer(p Periph) physic.Frequency {
	if p.Bus() == APB2 {
		return c.TIMCLK2
	}
	return c.TIMCLK1
}
