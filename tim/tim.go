package tim

import (
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// Registers.
const (
	regCR1   = 0x00
	regCR2   = 0x04
	regSMCR  = 0x08
	regDIER  = 0x0C
	regSR    = 0x10 // write 0 to clear
	regEGR   = 0x14
	regCCMR1 = 0x18
	regCCMR2 = 0x1C
	regCCER  = 0x20
	regCNT   = 0x24
	regPSC   = 0x28
	regARR   = 0x2C
	regRCR   = 0x30
	regCCR1  = 0x34
	regBDTR  = 0x44
)

const (
	cr1CEN  = 1 << 0
	cr1URS  = 1 << 2
	cr1OPM  = 1 << 3
	cr1DIR  = 1 << 4
	cr1ARPE = 1 << 7

	smcrECE = 1 << 14
	smcrETP = 1 << 15

	dierUIE = 1 << 0
	dierTIE = 1 << 6
	dierUDE = 1 << 8

	srUIF = 1 << 0
	srTIF = 1 << 6

	egrUG = 1 << 0

	bdtrMOE = 1 << 15
)

var (
	cr1CMS = mmio.Field[uint8]{Pos: 5, Width: 2}
	cr1CKD = mmio.Field[uint8]{Pos: 8, Width: 2}
	cr2MMS = mmio.Field[uint8]{Pos: 4, Width: 3}
	smcrSM = mmio.Field[uint8]{Pos: 0, Width: 3}
	smcrTS = mmio.Field[uint8]{Pos: 4, Width: 3}
	smcrEF = mmio.Field[uint8]{Pos: 8, Width: 4}
	smcrEP = mmio.Field[uint8]{Pos: 12, Width: 2}
)

// Slave modes (SMCR.SMS) and trigger inputs (SMCR.TS).
const (
	smsEncoder1 = 1
	smsReset    = 4
	smsTrigger  = 6
	smsExtClock = 7

	tsTI1FP1 = 5
	tsETRF   = 7
)

type kind struct {
	wide     bool
	channels int
	advanced bool
	slave    bool
	etr      bool
}

var kinds = map[chip.Periph]kind{
	chip.TIM1:  {channels: 4, advanced: true, slave: true, etr: true},
	chip.TIM8:  {channels: 4, advanced: true, slave: true, etr: true},
	chip.TIM2:  {wide: true, channels: 4, slave: true, etr: true},
	chip.TIM5:  {wide: true, channels: 4, slave: true},
	chip.TIM3:  {channels: 4, slave: true, etr: true},
	chip.TIM4:  {channels: 4, slave: true, etr: true},
	chip.TIM6:  {},
	chip.TIM7:  {},
	chip.TIM9:  {channels: 2, slave: true},
	chip.TIM10: {channels: 1},
	chip.TIM11: {channels: 1},
}

// Timer is a claimed timer not yet in any mode.
type Timer struct {
	m *chip.MCU
	p chip.Periph
	k kind
}

// Claim takes ownership of timer p, enables its clock and resets it.
func Claim(m *chip.MCU, p chip.Periph) (*Timer, error) {
	k, ok := kinds[p]
	if !ok {
		return nil, pkg.ErrNotSupported
	}
	if err := m.Claim(p); err != nil {
		return nil, err
	}
	rcc.Enable(m, p)
	rcc.Reset(m, p)
	pkg.LogDebug(pkg.ComponentTIM, "timer claimed", "timer", p)
	return &Timer{m: m, p: p, k: k}, nil
}

// Periph returns the timer instance.
func (t *Timer) Periph() chip.Periph { return t.p }

// Clock returns TIMxCLK.
func (t *Timer) Clock() physic.Frequency { return t.m.Clocks().Timer(t.p) }

// MaxReload returns the largest ARR value: 32 bits on TIM2 and TIM5, 16
// bits elsewhere.
func (t *Timer) MaxReload() uint32 {
	if t.k.wide {
		return 0xFFFF_FFFF
	}
	return 0xFFFF
}

// Channels returns the number of capture/compare channels.
func (t *Timer) Channels() int { return t.k.channels }

// IRQ returns the interrupt carrying update events. On TIM1 and TIM8 the
// other events have interrupts of their own; see chip.TimerIRQ.
func (t *Timer) IRQ() chip.IRQ {
	up, _, _, _ := chip.TimerIRQ(t.p)
	return up
}

// Free stops the timer, gates its clock and gives up ownership.
func (t *Timer) Free() {
	t.reg(regCR1).Set(0)
	rcc.Disable(t.m, t.p)
	t.m.Release(t.p)
}

func (t *Timer) reg(off uintptr) mmio.Register32 { return t.m.Block(t.p).R32(off) }

// Direction is the counting direction.
type Direction uint8

// Counting directions. The center-aligned modes differ in which direction
// sets the compare flags.
const (
	Up Direction = iota
	Down
	CenterAligned1
	CenterAligned2
	CenterAligned3
)

// ClockDivision sets tDTS, the sampling base of the input filters.
type ClockDivision uint8

// Filter sampling bases.
const (
	DTSDiv1 ClockDivision = iota
	DTSDiv2
	DTSDiv4
)

// Timebase is the counter setup shared by every mode.
type Timebase struct {
	Prescaler uint16
	Reload    uint32

	// Preload buffers ARR writes until the next update event.
	Preload       bool
	Direction     Direction
	ClockDivision ClockDivision

	// OverflowOnly keeps UG writes and slave resets from setting the
	// update flag.
	OverflowOnly bool

	// Repetition counts overflows per update event on TIM1 and TIM8.
	Repetition uint8
}

// Solve returns the prescaler and reload producing update frequency f from
// clk with the finest resolution that fits maxReload.
func Solve(clk, f physic.Frequency, maxReload uint32) (psc uint16, arr uint32, err error) {
	if f <= 0 || f > clk {
		return 0, 0, pkg.ErrOutOfRange
	}
	ticks := uint64(int64(clk) / int64(f))
	if ticks < 2 {
		return 0, 0, pkg.ErrOutOfRange
	}
	p := (ticks - 1) / (uint64(maxReload) + 1)
	if p > 0xFFFF {
		return 0, 0, pkg.ErrOutOfRange
	}
	return uint16(p), uint32(ticks/(p+1) - 1), nil
}

func (t *Timer) timebaseFor(f physic.Frequency, preload bool) (Timebase, error) {
	psc, arr, err := Solve(t.Clock(), f, t.MaxReload())
	if err != nil {
		return Timebase{}, err
	}
	return Timebase{Prescaler: psc, Reload: arr, Preload: preload}, nil
}

// setup stops the counter, programs tb and loads the shadow registers
// without leaving the update flag set.
func (t *Timer) setup(tb Timebase) error {
	if tb.Reload == 0 || tb.Reload > t.MaxReload() {
		return pkg.ErrOutOfRange
	}
	if tb.Direction > CenterAligned3 || tb.ClockDivision > DTSDiv4 {
		return pkg.ErrOutOfRange
	}
	if tb.Direction != Up && !t.k.slave {
		return pkg.ErrInvalidMode
	}
	if tb.Repetition != 0 && !t.k.advanced {
		return pkg.ErrNotSupported
	}
	cr1 := t.reg(regCR1)
	cr1.Set(cr1URS)
	t.reg(regPSC).Set(uint32(tb.Prescaler))
	t.reg(regARR).Set(tb.Reload)
	if t.k.advanced {
		t.reg(regRCR).Set(uint32(tb.Repetition))
	}
	t.reg(regEGR).Set(egrUG)
	t.reg(regSR).Set(0)
	var v uint32
	switch tb.Direction {
	case Down:
		v |= cr1DIR
	case CenterAligned1, CenterAligned2, CenterAligned3:
		v = cr1CMS.Put(v, uint8(tb.Direction-CenterAligned1+1))
	}
	v = cr1CKD.Put(v, uint8(tb.ClockDivision))
	if tb.Preload {
		v |= cr1ARPE
	}
	if tb.OverflowOnly {
		v |= cr1URS
	}
	cr1.Set(v)
	pkg.LogDebug(pkg.ComponentTIM, "timebase", "timer", t.p, "psc", tb.Prescaler, "arr", tb.Reload)
	return nil
}

func (t *Timer) start() {
	if t.k.advanced {
		t.reg(regBDTR).SetBits(bdtrMOE)
	}
	t.reg(regCR1).SetBits(cr1CEN)
}

// load copies the preload registers into their shadows without setting
// the update flag. It restarts the counter from zero.
func (t *Timer) load() {
	cr1 := t.reg(regCR1)
	v := cr1.Get()
	cr1.Set(v | cr1URS)
	t.reg(regEGR).Set(egrUG)
	cr1.Set(v)
}

func (t *Timer) stop() { t.reg(regCR1).ClearBits(cr1CEN) }

func (t *Timer) release() *Timer {
	t.reg(regCR1).Set(0)
	t.reg(regDIER).Set(0)
	t.reg(regSMCR).Set(0)
	t.reg(regCCER).Set(0)
	t.reg(regCCMR1).Set(0)
	t.reg(regCCMR2).Set(0)
	t.reg(regSR).Set(0)
	return t
}

// Trigger selects what the timer emits on TRGO.
type Trigger uint8

// TRGO sources. The values match CR2.MMS.
const (
	TriggerReset Trigger = iota
	TriggerEnable
	TriggerUpdate
	TriggerComparePulse
	TriggerOC1Ref
	TriggerOC2Ref
	TriggerOC3Ref
	TriggerOC4Ref
)

// SetTRGO selects the trigger output used to start other timers and to
// trigger the ADC and DAC. Basic timers only offer reset, enable and
// update.
func (t *Timer) SetTRGO(src Trigger) error {
	if src > TriggerOC4Ref || src > TriggerUpdate && t.k.channels == 0 {
		return pkg.ErrOutOfRange
	}
	cr2MMS.Write(t.reg(regCR2), uint8(src))
	return nil
}

// SetOnePulse makes the counter stop at the next update event.
func (t *Timer) SetOnePulse(on bool) {
	if on {
		t.reg(regCR1).SetBits(cr1OPM)
	} else {
		t.reg(regCR1).ClearBits(cr1OPM)
	}
}

// SetUpdateDMA makes every update event issue the timer's UP DMA request.
func (t *Timer) SetUpdateDMA(on bool) {
	if on {
		t.reg(regDIER).SetBits(dierUDE)
	} else {
		t.reg(regDIER).ClearBits(dierUDE)
	}
}

// UpdateRequest returns the DMA request of update events, if the timer has
// one.
func (t *Timer) UpdateRequest() (chip.DMARequest, bool) {
	switch t.p {
	case chip.TIM1:
		return chip.ReqTIM1UP, true
	case chip.TIM2:
		return chip.ReqTIM2UP, true
	case chip.TIM3:
		return chip.ReqTIM3UP, true
	}
	return 0, false
}

// Count returns CNT.
func (t *Timer) Count() uint32 { return t.reg(regCNT).Get() }

// SetCount writes CNT.
func (t *Timer) SetCount(v uint32) { t.reg(regCNT).Set(v) }

// Filter is an input filter setting: how often an input is sampled and how
// many equal samples in a row it takes to accept a new level.
type Filter uint8

// Input filters. N is the number of samples; CK samples at TIMxCLK, DTSn at
// tDTS/n.
const (
	FilterNone Filter = iota
	FilterCKN2
	FilterCKN4
	FilterCKN8
	FilterDTS2N6
	FilterDTS2N8
	FilterDTS4N6
	FilterDTS4N8
	FilterDTS8N6
	FilterDTS8N8
	FilterDTS16N5
	FilterDTS16N6
	FilterDTS16N8
	FilterDTS32N5
	FilterDTS32N6
	FilterDTS32N8
)

// Edge selects capture edges.
type Edge uint8

// Capture edges.
const (
	Rising Edge = iota
	Falling
	BothEdges
)

// ccer returns the CCxP/CCxNP bits selecting e.
func (e Edge) ccer() uint8 {
	switch e {
	case Falling:
		return 1 << 1
	case BothEdges:
		return 1<<1 | 1<<3
	}
	return 0
}

// Channel is a capture/compare channel, 1 to 4.
type Channel uint8

// Channels.
const (
	Ch1 Channel = 1 + iota
	Ch2
	Ch3
	Ch4
)

func (t *Timer) check(ch Channel) (int, error) {
	if ch < Ch1 || int(ch) > t.k.channels {
		return 0, pkg.ErrOutOfRange
	}
	return int(ch - 1), nil
}

func (t *Timer) setCCMR(i int, v uint8) {
	t.reg(regCCMR1+uintptr(i/2)*4).ReplaceBits(uint32(v), 0xFF, uint8(i%2)*8)
}

func (t *Timer) setCCER(i int, v uint8) {
	t.reg(regCCER).ReplaceBits(uint32(v), 0xF, uint8(i)*4)
}

func (t *Timer) ccr(i int) mmio.Register32 { return t.reg(regCCR1 + uintptr(i)*4) }

// flag tests and clears an SR bit. SR is rc_w0, so writing the
// complement clears only that bit.
func (t *Timer) flag(bit uint32) bool {
	sr := t.reg(regSR)
	if !sr.HasBits(bit) {
		return false
	}
	sr.Set(^bit)
	return true
}

func (t *Timer) listen(bit uint32, on bool) {
	if on {
		t.reg(regDIER).SetBits(bit)
	} else {
		t.reg(regDIER).ClearBits(bit)
	}
}
