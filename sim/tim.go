package sim

import (
	"github.com/ardnew/f4core/chip"
)

// TIM register offsets.
const (
	timCR1   = 0x00
	timCR2   = 0x04
	timSMCR  = 0x08
	timDIER  = 0x0C
	timSR    = 0x10
	timEGR   = 0x14
	timCCMR1 = 0x18
	timCCMR2 = 0x1C
	timCCER  = 0x20
	timCNT   = 0x24
	timPSC   = 0x28
	timARR   = 0x2C
	timRCR   = 0x30
	timCCR1  = 0x34
	timCCR4  = 0x40
	timBDTR  = 0x44
	timDCR   = 0x48
	timDMAR  = 0x4C
	timOR    = 0x50
)

const (
	cr1CEN  = 1 << 0
	cr1UDIS = 1 << 1
	cr1URS  = 1 << 2
	cr1OPM  = 1 << 3
	cr1DIR  = 1 << 4
	cr1ARPE = 1 << 7

	smcrECE = 1 << 14
	smcrETP = 1 << 15

	srUIF = 1 << 0
	srTIF = 1 << 6
	srBIF = 1 << 7

	egrUG = 1 << 0
	egrTG = 1 << 6

	dierUIE = 1 << 0
	dierTIE = 1 << 6
	dierBIE = 1 << 7
	dierUDE = 1 << 8

	bdtrMOE = 1 << 15
)

type updateCause uint8

const (
	causeOverflow updateCause = iota
	causeUG
	causeTrigger
)

// filterTable gives the sampling divider (relative to fDTS, 1 meaning
// fCK_INT) and the number of consecutive samples of each ICxF/ETF code.
var filterTable = [16]struct{ div, n int64 }{
	{0, 0}, {1, 2}, {1, 4}, {1, 8},
	{2, 6}, {2, 8}, {4, 6}, {4, 8},
	{8, 6}, {8, 8}, {16, 5}, {16, 6},
	{16, 8}, {32, 5}, {32, 6}, {32, 8},
}

// Timer models a general-purpose, advanced or basic timer. The counter is
// evaluated lazily from the time of its last synchronisation; an event is
// queued at the next overflow or compare match.
type Timer struct {
	m        *Machine
	p        chip.Periph
	wide     bool
	nch      int
	advanced bool

	cr1, cr2, smcr, dier, sr uint32
	ccmr                     [2]uint32
	ccer                     uint32
	cnt                      uint32
	psc, arr, rcr            uint32
	pscShadow, arrShadow     uint32
	ccr, ccrShadow           [4]uint32
	bdtr, dcr, or            uint32
	rep                      uint32

	at   int64
	tick int64
	down bool
	next *event

	ref     [4]bool
	raw     [5]bool // TI1..TI4, ETR as seen on the pins
	tif     [5]bool // filtered TIx and ETRF
	filt    [5]*event
	icCount [4]int
	etps    int
	gate    bool

	updates int
}

func newTimer(m *Machine, p chip.Periph) *Timer {
	t := &Timer{m: m, p: p}
	switch p {
	case chip.TIM2, chip.TIM5:
		t.wide, t.nch = true, 4
	case chip.TIM1, chip.TIM8:
		t.nch, t.advanced = 4, true
	case chip.TIM3, chip.TIM4:
		t.nch = 4
	case chip.TIM9:
		t.nch = 2
	case chip.TIM10, chip.TIM11:
		t.nch = 1
	}
	t.reset()
	return t
}

func (t *Timer) max() uint32 {
	if t.wide {
		return 0xFFFF_FFFF
	}
	return 0xFFFF
}

func (t *Timer) reset() {
	t.m.cancel(t.next)
	for _, e := range t.filt {
		t.m.cancel(e)
	}
	raw := t.raw
	*t = Timer{m: t.m, p: t.p, wide: t.wide, nch: t.nch, advanced: t.advanced}
	t.raw = raw
	t.tif = raw
	t.arr, t.arrShadow = t.max(), t.max()
	t.at = t.m.now
	t.retick()
	t.irqSync()
}

func (t *Timer) bus() chip.Bus { return t.p.Bus() }

func (t *Timer) retick() {
	t.tick = period(t.m.rcc.timclk(t.bus())) * int64(t.pscShadow+1)
}

func (t *Timer) sms() uint32 { return t.smcr & 7 }
func (t *Timer) ts() uint32  { return t.smcr >> 4 & 7 }
func (t *Timer) cms() uint32 { return t.cr1 >> 5 & 3 }

// ccs returns the CCxS selection of channel ch: 0 output, 1..3 input.
func (t *Timer) ccs(ch int) uint32 { return t.ccmr[ch/2] >> (8 * (ch % 2)) & 3 }

// ocm returns the OCxM output compare mode of channel ch.
func (t *Timer) ocm(ch int) uint32 { return t.ccmr[ch/2] >> (8*(ch%2) + 4) & 7 }

func (t *Timer) icf(ch int) uint32 { return t.ccmr[ch/2] >> (8*(ch%2) + 4) & 0xF }

func (t *Timer) icpsc(ch int) uint32 { return t.ccmr[ch/2] >> (8*(ch%2) + 2) & 3 }

func (t *Timer) preload(ch int) bool { return t.ccmr[ch/2]>>(8*(ch%2)+3)&1 != 0 }

func (t *Timer) ccerBit(ch int, b uint) bool { return t.ccer>>(4*uint(ch)+b)&1 != 0 }

// counting reports whether the internal clock drives the counter.
func (t *Timer) counting() bool {
	if t.cr1&cr1CEN == 0 || t.smcr&smcrECE != 0 {
		return false
	}
	switch t.sms() {
	case 1, 2, 3, 7:
		return false
	case 5:
		return t.gate
	}
	return true
}

// distance returns the number of ticks to the next overflow, underflow or
// compare match.
func (t *Timer) distance() int64 {
	arr, c := int64(t.arrShadow), int64(t.cnt)
	var d int64
	center := t.cms() != 0
	switch {
	case center && !t.down:
		d = arr - c
	case center:
		d = c
	case t.down:
		d = c + 1
	default:
		d = arr - c + 1
	}
	if d <= 0 {
		d = 1
	}
	for ch := 0; ch < t.nch; ch++ {
		if t.ccs(ch) != 0 {
			continue
		}
		r := int64(t.ccrShadow[ch])
		k := r - c
		if t.down {
			k = c - r
		}
		if k > 0 && k < d {
			d = k
		}
	}
	return d
}

// sync brings the counter up to the current time.
func (t *Timer) sync() {
	now := t.m.now
	for t.counting() && t.tick > 0 {
		d := t.distance()
		end := t.at + d*t.tick
		if end > now {
			k := (now - t.at) / t.tick
			if t.down {
				t.cnt -= uint32(k)
			} else {
				t.cnt += uint32(k)
			}
			t.at += k * t.tick
			return
		}
		t.at = end
		t.advance(d)
	}
	t.at = now
}

// advance moves the counter d ticks and handles the boundary it lands on.
func (t *Timer) advance(d int64) {
	arr := t.arrShadow
	switch {
	case t.down && int64(t.cnt)-d < 0:
		t.cnt = arr
		t.update(causeOverflow)
	case t.down:
		t.cnt -= uint32(d)
	case int64(t.cnt)+d > int64(arr):
		t.cnt = 0
		t.update(causeOverflow)
	default:
		t.cnt += uint32(d)
	}
	if t.cms() != 0 {
		if !t.down && t.cnt == arr {
			t.down = true
			t.update(causeOverflow)
		} else if t.down && t.cnt == 0 {
			t.down = false
			t.update(causeOverflow)
		}
	}
	t.matches()
}

// count moves the counter one step from an external clock or encoder.
func (t *Timer) count(up bool) {
	t.down = !up
	if up {
		if t.cnt >= t.arrShadow {
			t.cnt = 0
			t.update(causeOverflow)
		} else {
			t.cnt++
		}
	} else {
		if t.cnt == 0 {
			t.cnt = t.arrShadow
			t.update(causeOverflow)
		} else {
			t.cnt--
		}
	}
	t.matches()
}

func (t *Timer) matches() {
	for ch := 0; ch < t.nch; ch++ {
		if t.ccs(ch) == 0 && t.ccrShadow[ch] == t.cnt {
			t.compare(ch)
		}
	}
	t.outputs()
}

func (t *Timer) compare(ch int) {
	t.sr |= 1 << (ch + 1)
	switch t.ocm(ch) {
	case 1:
		t.ref[ch] = true
	case 2:
		t.ref[ch] = false
	case 3:
		t.ref[ch] = !t.ref[ch]
	}
	if ch == 0 && t.cr2>>4&7 == 3 {
		t.m.trgo(t.p)
	}
	t.irqSync()
}

// outputs recomputes PWM and forced references and pushes changes to the
// pins.
func (t *Timer) outputs() {
	changed := false
	for ch := 0; ch < t.nch; ch++ {
		if t.ccs(ch) != 0 {
			continue
		}
		old := t.ref[ch]
		switch t.ocm(ch) {
		case 4:
			t.ref[ch] = false
		case 5:
			t.ref[ch] = true
		case 6, 7:
			r := t.cnt < t.ccrShadow[ch]
			if t.down {
				r = t.cnt <= t.ccrShadow[ch]
			}
			if t.ocm(ch) == 7 {
				r = !r
			}
			t.ref[ch] = r
		}
		if t.ref[ch] != old {
			if mms := t.cr2 >> 4 & 7; mms >= 4 && int(mms-4) == ch && t.ref[ch] {
				t.m.trgo(t.p)
			}
			if t.ccerBit(ch, 0) || t.ccerBit(ch, 2) {
				changed = true
			}
		}
	}
	if changed {
		t.m.gpio.refresh()
	}
}

func (t *Timer) update(cause updateCause) {
	if t.cr1&cr1UDIS != 0 {
		return
	}
	if t.advanced && cause == causeOverflow && t.rep > 0 {
		t.rep--
		return
	}
	t.rep = t.rcr
	t.updates++
	t.pscShadow = t.psc
	t.arrShadow = t.arr
	for ch := 0; ch < t.nch; ch++ {
		t.ccrShadow[ch] = t.ccr[ch]
	}
	t.retick()
	if cause == causeOverflow || t.cr1&cr1URS == 0 {
		t.sr |= srUIF
		if t.dier&dierUDE != 0 {
			if r, ok := timerUpRequest(t.p); ok {
				t.m.dmaPulse(r)
			}
		}
	}
	mms := t.cr2 >> 4 & 7
	if mms == 2 || mms == 0 && cause == causeUG {
		t.m.trgo(t.p)
	}
	if cause == causeOverflow && t.cr1&cr1OPM != 0 {
		t.cr1 &^= cr1CEN
	}
	t.irqSync()
}

func timerUpRequest(p chip.Periph) (chip.DMARequest, bool) {
	switch p {
	case chip.TIM1:
		return chip.ReqTIM1UP, true
	case chip.TIM2:
		return chip.ReqTIM2UP, true
	case chip.TIM3:
		return chip.ReqTIM3UP, true
	}
	return 0, false
}

func (t *Timer) irqSync() {
	up, cc, trg, brk := chip.TimerIRQ(t.p)
	act := t.sr & t.dier
	name := t.p.String()
	if up == cc {
		t.m.lineFrom(up, name, act&0xDF != 0)
		return
	}
	t.m.lineFrom(up, name, act&srUIF != 0)
	t.m.lineFrom(cc, name, act&0x1E != 0)
	t.m.lineFrom(trg, name, act&srTIF != 0)
	t.m.lineFrom(brk, name, act&srBIF != 0)
}

func (t *Timer) schedule() {
	t.m.cancel(t.next)
	t.next = nil
	if !t.counting() || t.tick == 0 {
		return
	}
	at := t.at + t.distance()*t.tick
	t.next = t.m.schedule(at-t.m.now, func() {
		t.next = nil
		t.sync()
		t.schedule()
	})
}

// retime follows a change of the timer kernel clock.
func (t *Timer) retime() {
	t.sync()
	t.retick()
	t.schedule()
}

func (t *Timer) read(off uint32, _ int) uint32 {
	switch {
	case off == timCR1:
		v := t.cr1 &^ cr1DIR
		if t.down {
			v |= cr1DIR
		}
		return v
	case off == timCR2:
		return t.cr2
	case off == timSMCR:
		return t.smcr
	case off == timDIER:
		return t.dier
	case off == timSR:
		return t.sr
	case off == timCCMR1:
		return t.ccmr[0]
	case off == timCCMR2:
		return t.ccmr[1]
	case off == timCCER:
		return t.ccer
	case off == timCNT:
		t.sync()
		return t.cnt
	case off == timPSC:
		return t.psc
	case off == timARR:
		return t.arr
	case off == timRCR:
		return t.rcr
	case off >= timCCR1 && off <= timCCR4:
		ch := int(off-timCCR1) / 4
		if ch >= t.nch {
			return 0
		}
		if t.ccs(ch) != 0 {
			t.sr &^= 1 << (ch + 1)
			t.irqSync()
		}
		return t.ccr[ch]
	case off == timBDTR:
		return t.bdtr
	case off == timDCR:
		return t.dcr
	case off == timOR:
		return t.or
	}
	return 0
}

func (t *Timer) write(off uint32, _ int, v uint32) {
	t.sync()
	switch {
	case off == timCR1:
		old := t.cr1
		t.cr1 = v & 0x3FF
		if t.cms() == 0 && (t.sms() == 0 || t.sms() > 3) {
			t.down = v&cr1DIR != 0
		}
		if t.cr1&cr1CEN != 0 && old&cr1CEN == 0 {
			t.at = t.m.now
			if t.cr2>>4&7 == 1 {
				t.m.trgo(t.p)
			}
		}
	case off == timCR2:
		t.cr2 = v
	case off == timSMCR:
		t.smcr = v & 0xFFF7
		t.at = t.m.now
	case off == timDIER:
		t.dier = v & 0x5FFF
	case off == timSR:
		t.sr &= v
	case off == timEGR:
		t.generate(v)
	case off == timCCMR1, off == timCCMR2:
		t.ccmr[(off-timCCMR1)/4] = v
	case off == timCCER:
		t.ccer = v & 0xBBBB
		if t.advanced {
			t.ccer = v & 0xBFFF
		}
		// CCxE and CCxP change the pins without a reference edge.
		t.m.gpio.refresh()
	case off == timCNT:
		t.cnt = v & t.max()
		t.at = t.m.now
	case off == timPSC:
		t.psc = v & 0xFFFF
	case off == timARR:
		t.arr = v & t.max()
		if t.cr1&cr1ARPE == 0 {
			t.arrShadow = t.arr
		}
	case off == timRCR:
		t.rcr = v & 0xFF
	case off >= timCCR1 && off <= timCCR4:
		ch := int(off-timCCR1) / 4
		if ch < t.nch && t.ccs(ch) == 0 {
			t.ccr[ch] = v & t.max()
			if !t.preload(ch) {
				t.ccrShadow[ch] = t.ccr[ch]
			}
		}
	case off == timBDTR:
		t.bdtr = v
		t.m.gpio.refresh()
	case off == timDCR:
		t.dcr = v
	case off == timOR:
		t.or = v
	}
	t.outputs()
	t.irqSync()
	t.schedule()
}

func (t *Timer) generate(v uint32) {
	if v&egrUG != 0 {
		t.cnt = 0
		if t.down {
			t.cnt = t.arr
		}
		t.at = t.m.now
		t.update(causeUG)
	}
	for ch := 0; ch < t.nch; ch++ {
		if v&(1<<(ch+1)) == 0 {
			continue
		}
		if t.ccs(ch) == 0 {
			t.compare(ch)
		} else {
			t.capture(ch)
		}
	}
	if v&egrTG != 0 {
		t.sr |= srTIF
	}
}

func (t *Timer) capture(ch int) {
	t.sync()
	bit := uint32(1) << (ch + 1)
	if t.sr&bit != 0 {
		t.sr |= 1 << (ch + 9)
	}
	t.ccr[ch] = t.cnt
	t.ccrShadow[ch] = t.cnt
	t.sr |= bit
	if ch == 0 && t.cr2>>4&7 == 3 {
		t.m.trgo(t.p)
	}
	t.irqSync()
}

// output returns the level the timer drives on a pin carrying sig.
func (t *Timer) output(sig chip.Signal) (high, driven bool) {
	ch := -1
	comp := false
	switch sig {
	case chip.CH1, chip.CH2, chip.CH3, chip.CH4:
		ch = int(sig - chip.CH1)
	case chip.CH1N, chip.CH2N, chip.CH3N:
		ch, comp = int(sig-chip.CH1N), true
	}
	if ch < 0 || ch >= t.nch || t.ccs(ch) != 0 {
		return false, false
	}
	if t.advanced && t.bdtr&bdtrMOE == 0 {
		return false, false
	}
	if comp {
		if !t.ccerBit(ch, 2) {
			return false, false
		}
		return !t.ref[ch] != t.ccerBit(ch, 3), true
	}
	if !t.ccerBit(ch, 0) {
		return false, false
	}
	return t.ref[ch] != t.ccerBit(ch, 1), true
}

// input receives a raw pin edge on sig and runs it through the digital
// filter.
func (t *Timer) input(sig chip.Signal, high bool) {
	i := -1
	var f uint32
	switch sig {
	case chip.CH1, chip.CH2, chip.CH3, chip.CH4:
		i = int(sig - chip.CH1)
		if i >= t.nch {
			return
		}
		for ch := 0; ch < t.nch; ch++ {
			if t.tiFor(ch) == i && t.icf(ch) > f {
				f = t.icf(ch)
			}
		}
	case chip.ETR:
		i = 4
		f = t.smcr >> 8 & 0xF
	default:
		return
	}
	t.raw[i] = high
	t.m.cancel(t.filt[i])
	t.filt[i] = nil
	d := t.filterDelay(f)
	if d == 0 {
		t.accept(i, high)
		return
	}
	t.filt[i] = t.m.schedule(d, func() {
		t.filt[i] = nil
		if t.raw[i] == high {
			t.accept(i, high)
		}
	})
}

func (t *Timer) filterDelay(f uint32) int64 {
	e := filterTable[f&0xF]
	if e.n == 0 {
		return 0
	}
	ck := period(t.m.rcc.timclk(t.bus()))
	if f <= 3 {
		return ck * e.n
	}
	dts := ck << (t.cr1 >> 8 & 3)
	return dts * e.div * e.n
}

// tiFor returns the TI input feeding channel ch, or -1.
func (t *Timer) tiFor(ch int) int {
	switch t.ccs(ch) {
	case 1:
		return ch
	case 2:
		return ch ^ 1
	}
	return -1
}

func (t *Timer) accept(i int, level bool) {
	if t.tif[i] == level {
		return
	}
	t.tif[i] = level
	if i == 4 {
		t.etrEdge(level)
		return
	}
	t.sync()

	for ch := 0; ch < t.nch; ch++ {
		if t.tiFor(ch) != i || !t.ccerBit(ch, 0) {
			continue
		}
		if !t.polarityMatch(ch, level) {
			continue
		}
		t.icCount[ch]++
		if t.icCount[ch]%(1<<t.icpsc(ch)) == 0 {
			t.capture(ch)
		}
	}

	if sms := t.sms(); sms >= 1 && sms <= 3 && t.cr1&cr1CEN != 0 && i < 2 {
		ti1 := t.tif[0] != t.ccerBit(0, 1)
		ti2 := t.tif[1] != t.ccerBit(1, 1)
		switch {
		case i == 0 && sms != 2:
			t.count(ti1 != ti2)
		case i == 1 && sms != 1:
			t.count(ti1 == ti2)
		}
	}

	switch ts := t.ts(); {
	case ts == 4 && i == 0:
		t.trigger(true)
	case ts == 5 && i == 0, ts == 6 && i == 1:
		t.trigger(level != t.ccerBit(i, 1))
	}
	t.schedule()
}

// polarityMatch applies CCxP/CCxNP edge selection.
func (t *Timer) polarityMatch(ch int, rising bool) bool {
	p, np := t.ccerBit(ch, 1), t.ccerBit(ch, 3)
	switch {
	case p && np:
		return true
	case p:
		return !rising
	}
	return rising
}

func (t *Timer) etrEdge(level bool) {
	etrp := level != (t.smcr&smcrETP != 0)
	if !etrp {
		if t.ts() == 7 {
			t.trigger(false)
		}
		return
	}
	t.etps++
	if t.etps%(1<<(t.smcr>>12&3)) != 0 {
		return
	}
	t.sync()
	if t.smcr&smcrECE != 0 && t.cr1&cr1CEN != 0 {
		t.count(true)
	}
	if t.ts() == 7 {
		t.trigger(true)
	}
	t.schedule()
}

// trigger handles a TRGI edge; rising is false for the trailing edge,
// which only matters to gated mode.
func (t *Timer) trigger(rising bool) {
	if t.sms() == 5 {
		t.sync()
		t.gate = rising
		t.at = t.m.now
		t.sr |= srTIF
		t.irqSync()
		return
	}
	if !rising {
		return
	}
	t.sr |= srTIF
	switch t.sms() {
	case 4:
		t.cnt = 0
		if t.down {
			t.cnt = t.arrShadow
		}
		t.at = t.m.now
		t.update(causeTrigger)
	case 6:
		if t.cr1&cr1CEN == 0 {
			t.cr1 |= cr1CEN
			t.at = t.m.now
		}
	case 7:
		if t.cr1&cr1CEN != 0 {
			t.count(true)
		}
	}
	t.irqSync()
}

// trgo delivers a timer trigger output pulse to the converters.
func (m *Machine) trgo(p chip.Periph) {
	m.adc.timerTrigger(p)
	m.dac.timerTrigger(p)
}

// TIM returns the model of timer p.
func (m *Machine) TIM(p chip.Periph) *Timer { return m.tims[p] }

// Updates returns the number of update events since reset.
func (t *Timer) Updates() int { return t.updates }

// Count returns the current counter value.
func (t *Timer) Count() uint32 {
	t.sync()
	return t.cnt
}
