package tim

import (
	"periph.io/x/conn/v3/physic"
)

// Periodic is a timer generating update events at a fixed rate.
type Periodic struct {
	t  *Timer
	tb Timebase
}

// Periodic programs tb and returns the stopped timer.
func (t *Timer) Periodic(tb Timebase) (*Periodic, error) {
	if err := t.setup(tb); err != nil {
		return nil, err
	}
	return &Periodic{t: t, tb: tb}, nil
}

// PeriodicAt solves a timebase for update frequency f.
func (t *Timer) PeriodicAt(f physic.Frequency) (*Periodic, error) {
	tb, err := t.timebaseFor(f, true)
	if err != nil {
		return nil, err
	}
	return t.Periodic(tb)
}

// Timer returns the underlying timer for mode-independent settings.
func (p *Periodic) Timer() *Timer { return p.t }

// Frequency returns the update frequency.
func (p *Periodic) Frequency() physic.Frequency {
	return p.t.Clock() / physic.Frequency(uint64(p.tb.Prescaler)+1) / physic.Frequency(uint64(p.tb.Reload)+1)
}

// Start enables the counter.
func (p *Periodic) Start() { p.t.start() }

// Stop disables the counter. CNT keeps its value.
func (p *Periodic) Stop() { p.t.stop() }

// Running reports whether the counter is enabled. One-pulse mode clears it
// at the update event.
func (p *Periodic) Running() bool { return p.t.reg(regCR1).HasBits(cr1CEN) }

// Listen enables or disables the update interrupt.
func (p *Periodic) Listen(on bool) { p.t.listen(dierUIE, on) }

// Updated tests and clears the update flag. Handlers must clear it before
// returning, or the interrupt is taken again at once.
func (p *Periodic) Updated() bool { return p.t.flag(srUIF) }

// Wait spins until the next update event and clears its flag.
func (p *Periodic) Wait() {
	for !p.t.flag(srUIF) {
	}
}

// SetReload changes ARR. With preload on, the new period starts at the
// next update.
func (p *Periodic) SetReload(arr uint32) error {
	if arr == 0 || arr > p.t.MaxReload() {
		return errOutOfRange
	}
	p.t.reg(regARR).Set(arr)
	p.tb.Reload = arr
	return nil
}

// Release stops the timer and returns it unconfigured.
func (p *Periodic) Release() *Timer { return p.t.release() }
