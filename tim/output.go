package tim

import (
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/pkg"
)

var (
	errOutOfRange   = pkg.ErrOutOfRange
	errClaimed      = pkg.ErrClaimed
	errNotSupported = pkg.ErrNotSupported
)

// OCMode is the output compare mode of a channel.
type OCMode uint8

// Output compare modes. The values match CCMRx.OCxM.
const (
	Frozen OCMode = iota
	ActiveOnMatch
	InactiveOnMatch
	ToggleOnMatch
	ForceInactive
	ForceActive
	PWM1 // active while CNT < CCR
	PWM2 // inactive while CNT < CCR
)

// Polarity is the active level of an output.
type Polarity uint8

// Output polarities.
const (
	ActiveHigh Polarity = iota
	ActiveLow
)

// ChannelConfig configures one output channel.
type ChannelConfig struct {
	Mode     OCMode
	Polarity Polarity
	Compare  uint32

	// Preload buffers CCR writes until the next update event. PWM needs
	// it to change duty without glitches.
	Preload bool

	// Complementary enables CHxN on TIM1 and TIM8 channels 1 to 3.
	Complementary         bool
	ComplementaryPolarity Polarity
}

// Output is a timer whose channels drive pins from compare matches.
type Output struct {
	t    *Timer
	tb   Timebase
	used [4]bool
}

// Output programs tb and returns the stopped timer in output compare mode.
func (t *Timer) Output(tb Timebase) (*Output, error) {
	if t.k.channels == 0 {
		return nil, errNotSupported
	}
	if err := t.setup(tb); err != nil {
		return nil, err
	}
	return &Output{t: t, tb: tb}, nil
}

// PWM solves a timebase for PWM frequency f with ARR preload.
func (t *Timer) PWM(f physic.Frequency) (*Output, error) {
	tb, err := t.timebaseFor(f, true)
	if err != nil {
		return nil, err
	}
	return t.Output(tb)
}

// Timer returns the underlying timer for mode-independent settings.
func (o *Output) Timer() *Timer { return o.t }

// Period returns ARR+1, the duty value of a 100 % PWM cycle.
func (o *Output) Period() uint32 { return o.tb.Reload + 1 }

// Start loads the compare values, then enables the counter and, on TIM1
// and TIM8, the main output.
func (o *Output) Start() {
	o.t.load()
	o.t.start()
}

// Stop disables the counter.
func (o *Output) Stop() { o.t.stop() }

// Channel configures channel ch as an output. The channel stays disabled
// until OutputChannel.Enable.
func (o *Output) Channel(ch Channel, c ChannelConfig) (*OutputChannel, error) {
	i, err := o.t.check(ch)
	if err != nil {
		return nil, err
	}
	if o.used[i] {
		return nil, errClaimed
	}
	if c.Mode > PWM2 || c.Compare > o.t.MaxReload() {
		return nil, errOutOfRange
	}
	if c.Complementary && (!o.t.k.advanced || ch == Ch4) {
		return nil, errNotSupported
	}
	ccmr := uint8(c.Mode) << 4
	if c.Preload {
		ccmr |= 1 << 3
	}
	o.t.setCCER(i, 0)
	o.t.setCCMR(i, ccmr)
	o.t.ccr(i).Set(c.Compare)
	o.used[i] = true
	oc := &OutputChannel{o: o, i: i}
	oc.ccer = uint8(c.Polarity&1) << 1
	if c.Complementary {
		oc.ccer |= 1<<2 | uint8(c.ComplementaryPolarity&1)<<3
	}
	pkg.LogDebug(pkg.ComponentTIM, "output channel", "timer", o.t.p, "ch", ch, "mode", c.Mode)
	return oc, nil
}

// Release stops the timer and returns it unconfigured.
func (o *Output) Release() *Timer { return o.t.release() }

// OutputChannel is one configured output channel.
type OutputChannel struct {
	o    *Output
	i    int
	ccer uint8
}

// Enable connects the channel (and CHxN when configured) to its pins.
func (c *OutputChannel) Enable() { c.o.t.setCCER(c.i, c.ccer|1) }

// Disable disconnects the channel outputs.
func (c *OutputChannel) Disable() { c.o.t.setCCER(c.i, c.ccer&^(1|1<<2)) }

// SetCompare writes CCR.
func (c *OutputChannel) SetCompare(v uint32) error {
	if v > c.o.t.MaxReload() {
		return errOutOfRange
	}
	c.o.t.ccr(c.i).Set(v)
	return nil
}

// Compare returns CCR.
func (c *OutputChannel) Compare() uint32 { return c.o.t.ccr(c.i).Get() }

// SetDuty sets a PWM duty of num/den of the period.
func (c *OutputChannel) SetDuty(num, den uint32) error {
	if den == 0 || num > den {
		return errOutOfRange
	}
	return c.SetCompare(uint32(uint64(c.o.Period()) * uint64(num) / uint64(den)))
}

// Listen enables or disables the compare interrupt.
func (c *OutputChannel) Listen(on bool) { c.o.t.listen(1<<(c.i+1), on) }

// Matched tests and clears the compare flag.
func (c *OutputChannel) Matched() bool { return c.o.t.flag(1 << (c.i + 1)) }

// Addr returns the address of CCR, the peripheral side of a DMA stream
// that streams duty values.
func (c *OutputChannel) Addr() uintptr { return c.o.t.ccr(c.i).Addr() }
