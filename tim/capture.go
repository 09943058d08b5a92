package tim

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/pkg"
)

// Input selects the timer input a capture channel listens to.
type Input uint8

// Capture inputs. The values match CCxS.
const (
	// Direct maps channel n to TIn.
	Direct Input = 1
	// Cross maps channel 1 to TI2, 2 to TI1, 3 to TI4 and 4 to TI3.
	Cross Input = 2
)

// CaptureConfig configures one input capture channel.
type CaptureConfig struct {
	Input  Input
	Edge   Edge
	Filter Filter

	// Prescaler captures every 1, 2, 4 or 8 edges (0..3).
	Prescaler uint8
}

func (c CaptureConfig) ccmr() (uint8, error) {
	if c.Input != Direct && c.Input != Cross {
		return 0, pkg.ErrInvalidMode
	}
	if c.Edge > BothEdges || c.Filter > FilterDTS32N8 || c.Prescaler > 3 {
		return 0, errOutOfRange
	}
	return uint8(c.Input) | c.Prescaler<<2 | uint8(c.Filter)<<4, nil
}

// Capture is a timer latching CNT into CCR on input edges.
type Capture struct {
	t    *Timer
	tb   Timebase
	used [4]bool
}

// Capture programs tb and returns the stopped timer in input capture mode.
func (t *Timer) Capture(tb Timebase) (*Capture, error) {
	if t.k.channels == 0 {
		return nil, errNotSupported
	}
	if err := t.setup(tb); err != nil {
		return nil, err
	}
	return &Capture{t: t, tb: tb}, nil
}

// Timer returns the underlying timer.
func (c *Capture) Timer() *Timer { return c.t }

// Start enables the counter.
func (c *Capture) Start() { c.t.start() }

// Stop disables the counter.
func (c *Capture) Stop() { c.t.stop() }

// Channel configures channel ch for capture and enables it.
func (c *Capture) Channel(ch Channel, cfg CaptureConfig) (*CaptureChannel, error) {
	i, err := c.t.check(ch)
	if err != nil {
		return nil, err
	}
	if c.used[i] {
		return nil, errClaimed
	}
	ccmr, err := cfg.ccmr()
	if err != nil {
		return nil, err
	}
	c.t.setCCER(i, 0)
	c.t.setCCMR(i, ccmr)
	c.t.setCCER(i, cfg.Edge.ccer()|1)
	c.used[i] = true
	return &CaptureChannel{t: c.t, i: i}, nil
}

// Release stops the timer and returns it unconfigured.
func (c *Capture) Release() *Timer { return c.t.release() }

// CaptureChannel is one configured capture channel.
type CaptureChannel struct {
	t *Timer
	i int
}

// Captured returns the latched counter value when a capture happened since
// the last call. Reading CCR clears the capture flag.
func (c *CaptureChannel) Captured() (uint32, bool) {
	if !c.t.reg(regSR).HasBits(1 << (c.i + 1)) {
		return 0, false
	}
	return c.t.ccr(c.i).Get(), true
}

// Overcaptured tests and clears the overcapture flag: a capture happened
// while the previous one was still unread.
func (c *CaptureChannel) Overcaptured() bool { return c.t.flag(1 << (c.i + 9)) }

// Value returns CCR without regard to the flags.
func (c *CaptureChannel) Value() uint32 { return c.t.ccr(c.i).Get() }

// Listen enables or disables the capture interrupt.
func (c *CaptureChannel) Listen(on bool) { c.t.listen(1<<(c.i+1), on) }

// PulseMeter measures the period and high time of a signal on TI1.
// Channel 1 captures rising edges and resets the counter through the slave
// controller, so CCR1 holds the period; channel 2 captures the falling
// edge of the same input, so CCR2 holds the pulse width directly.
type PulseMeter struct {
	t    *Timer
	tick time.Duration
	per  uint32
	wid  uint32
	have uint8
}

// PulseMeter configures the timer to measure pulses with one counter tick
// every psc+1 timer clocks.
func (t *Timer) PulseMeter(psc uint16, f Filter) (*PulseMeter, error) {
	if !t.k.slave || t.k.channels < 2 {
		return nil, errNotSupported
	}
	if f > FilterDTS32N8 {
		return nil, errOutOfRange
	}
	if err := t.setup(Timebase{Prescaler: psc, Reload: t.MaxReload(), OverflowOnly: true}); err != nil {
		return nil, err
	}
	t.setCCMR(0, uint8(Direct)|uint8(f)<<4)
	t.setCCMR(1, uint8(Cross)|uint8(f)<<4)
	t.setCCER(0, Rising.ccer()|1)
	t.setCCER(1, Falling.ccer()|1)
	smcr := smcrSM.Put(0, smsReset)
	smcr = smcrTS.Put(smcr, tsTI1FP1)
	t.reg(regSMCR).Set(smcr)
	hz := int64(t.Clock() / physic.Hertz)
	tick := time.Duration(int64(psc+1) * int64(time.Second) / hz)
	return &PulseMeter{t: t, tick: tick}, nil
}

// Start enables the counter.
func (p *PulseMeter) Start() { p.t.start() }

// Stop disables the counter.
func (p *PulseMeter) Stop() { p.t.stop() }

// Poll collects new captures and reports whether both a period and a
// width have been seen.
func (p *PulseMeter) Poll() bool {
	sr := p.t.reg(regSR).Get()
	if sr&(1<<1) != 0 {
		p.per = p.t.ccr(0).Get()
		p.have |= 1
	}
	if sr&(1<<2) != 0 {
		p.wid = p.t.ccr(1).Get()
		p.have |= 2
	}
	return p.have == 3
}

// Ticks returns the last period and pulse width in counter ticks.
func (p *PulseMeter) Ticks() (period, width uint32, ok bool) {
	p.Poll()
	return p.per, p.wid, p.have == 3
}

// Measure returns the last period and pulse width.
func (p *PulseMeter) Measure() (period, width time.Duration, ok bool) {
	per, wid, ok := p.Ticks()
	return time.Duration(per) * p.tick, time.Duration(wid) * p.tick, ok
}

// Release stops the timer and returns it unconfigured.
func (p *PulseMeter) Release() *Timer { return p.t.release() }
