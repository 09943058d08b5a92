package sim

import (
	"github.com/ardnew/f4core/chip"
)

// ADC register offsets and bits.
const (
	adcSR    = 0x00
	adcCR1   = 0x04
	adcCR2   = 0x08
	adcSMPR1 = 0x0C
	adcSMPR2 = 0x10
	adcJOFR1 = 0x14
	adcHTR   = 0x24
	adcLTR   = 0x28
	adcSQR1  = 0x2C
	adcSQR2  = 0x30
	adcSQR3  = 0x34
	adcJSQR  = 0x38
	adcJDR1  = 0x3C
	adcDR    = 0x4C
	adcCCR   = 0x304

	adcAWD   = 1 << 0
	adcEOC   = 1 << 1
	adcJEOC  = 1 << 2
	adcJSTRT = 1 << 3
	adcSTRT  = 1 << 4
	adcOVR   = 1 << 5

	adcEOCIE   = 1 << 5
	adcAWDIE   = 1 << 6
	adcJEOCIE  = 1 << 7
	adcSCAN    = 1 << 8
	adcAWDSGL  = 1 << 9
	adcJAUTO   = 1 << 10
	adcDISCEN  = 1 << 11
	adcJAWDEN  = 1 << 22
	adcAWDEN   = 1 << 23
	adcOVRIE   = 1 << 26
	adcADON    = 1 << 0
	adcCONT    = 1 << 1
	adcDMA     = 1 << 8
	adcEOCS    = 1 << 10
	adcALIGN   = 1 << 11
	adcJSWSTRT = 1 << 22
	adcSWSTART = 1 << 30

	adcTSVREFE = 1 << 23
	adcVBATE   = 1 << 22
)

// Analog constants of the model.
const (
	VDDA      = 3.3
	VREFINT   = 1.21
	tempV25   = 0.76
	tempSlope = 0.0025
	vbatVolts = 3.0
)

var adcSampleCycles = [8]int64{3, 15, 28, 56, 84, 112, 144, 480}

// ADC models ADC1 and the common control register.
type ADC struct {
	m            *Machine
	sr, cr1, cr2 uint32
	smpr         [2]uint32
	jofr         [4]uint32
	htr, ltr     uint32
	sqr          [3]uint32
	jsqr         uint32
	jdr          [4]uint32
	dr           uint32
	ccr          uint32
	drFull       bool
	pos          int // next regular rank
	disc         int
	injPending   bool
	conv         *event
	volts        [16]float64
	temp         float64
	conversions  int
}

func newADC(m *Machine) *ADC {
	a := &ADC{m: m, temp: 25}
	a.reset()
	return a
}

func (a *ADC) reset() {
	a.m.cancel(a.conv)
	*a = ADC{m: a.m, volts: a.volts, temp: a.temp, htr: 0xFFF}
	a.sync()
}

func (a *ADC) sync() {
	s, c := a.sr, a.cr1
	a.m.line(chip.IRQADC, c&adcEOCIE != 0 && s&adcEOC != 0 ||
		c&adcJEOCIE != 0 && s&adcJEOC != 0 ||
		c&adcAWDIE != 0 && s&adcAWD != 0 ||
		c&adcOVRIE != 0 && s&adcOVR != 0)
}

// adcClock is PCLK2 divided by 2, 4, 6 or 8.
func (a *ADC) period() int64 {
	return period(a.m.rcc.pclk(chip.APB2)) * int64(2*(a.ccr>>16&3)+2)
}

func (a *ADC) bits() uint { return 12 - 2*uint(a.cr1>>24&3) }

func (a *ADC) convTime(ch int) int64 {
	var smp uint32
	if ch < 10 {
		smp = a.smpr[1] >> (3 * ch) & 7
	} else {
		smp = a.smpr[0] >> (3 * (ch - 10)) & 7
	}
	return (adcSampleCycles[smp] + int64(a.bits())) * a.period()
}

func (a *ADC) seqLen() int { return int(a.sqr[0]>>20&0xF) + 1 }

func (a *ADC) rank(i int) int {
	switch {
	case i < 6:
		return int(a.sqr[2] >> (5 * i) & 0x1F)
	case i < 12:
		return int(a.sqr[1] >> (5 * (i - 6)) & 0x1F)
	}
	return int(a.sqr[0] >> (5 * (i - 12)) & 0x1F)
}

// injected returns the injected sequence; with JL<3 it starts at JSQ(4-JL).
func (a *ADC) injected() []int {
	n := int(a.jsqr>>20&3) + 1
	var chs []int
	for i := 4 - n; i < 4; i++ {
		chs = append(chs, int(a.jsqr>>(5*i)&0x1F))
	}
	return chs
}

// sample returns the raw 12-bit code of channel ch.
func (a *ADC) sample(ch int) uint32 {
	var v float64
	switch {
	case ch < 16:
		v = a.volts[ch]
	case ch == 16 || ch == 18:
		// VBAT shares channel 18 with the temperature sensor on F411
		switch {
		case a.ccr&adcVBATE != 0:
			v = vbatVolts / 4
		case a.ccr&adcTSVREFE != 0:
			v = tempV25 + (a.temp-25)*tempSlope
		}
	case ch == 17:
		if a.ccr&adcTSVREFE != 0 {
			v = VREFINT
		}
	}
	if v < 0 {
		v = 0
	}
	if v > VDDA {
		v = VDDA
	}
	code := uint32(v/VDDA*4095 + 0.5)
	return code >> (12 - a.bits())
}

func (a *ADC) align(code uint32, offset uint32) uint32 {
	v := int32(code) - int32(offset)
	if a.cr2&adcALIGN == 0 {
		return uint32(v) & 0xFFFF
	}
	shift := 16 - a.bits()
	if a.bits() == 6 {
		shift = 8 - 6
	}
	return uint32(v<<shift) & 0xFFFF
}

func (a *ADC) watch(ch int, code uint32, injected bool) {
	if injected && a.cr1&adcJAWDEN == 0 || !injected && a.cr1&adcAWDEN == 0 {
		return
	}
	if a.cr1&adcAWDSGL != 0 && uint32(ch) != a.cr1&0x1F {
		return
	}
	if code > a.htr || code < a.ltr {
		a.sr |= adcAWD
	}
}

func (a *ADC) read(off uint32, _ int) uint32 {
	switch {
	case off == adcSR:
		return a.sr
	case off == adcCR1:
		return a.cr1
	case off == adcCR2:
		return a.cr2
	case off == adcSMPR1 || off == adcSMPR2:
		return a.smpr[(off-adcSMPR1)/4]
	case off >= adcJOFR1 && off < adcHTR:
		return a.jofr[(off-adcJOFR1)/4]
	case off == adcHTR:
		return a.htr
	case off == adcLTR:
		return a.ltr
	case off >= adcSQR1 && off <= adcSQR3:
		return a.sqr[(off-adcSQR1)/4]
	case off == adcJSQR:
		return a.jsqr
	case off >= adcJDR1 && off < adcDR:
		return a.jdr[(off-adcJDR1)/4]
	case off == adcDR:
		a.sr &^= adcEOC
		a.drFull = false
		a.sync()
		return a.dr
	case off == adcCCR:
		return a.ccr
	}
	return 0
}

func (a *ADC) write(off uint32, _ int, v uint32) {
	switch {
	case off == adcSR:
		a.sr &^= 0x3F &^ v
	case off == adcCR1:
		a.cr1 = v & 0x07C0_FFFF
	case off == adcCR2:
		a.writeCR2(v)
	case off == adcSMPR1 || off == adcSMPR2:
		a.smpr[(off-adcSMPR1)/4] = v & 0x3FFF_FFFF
	case off >= adcJOFR1 && off < adcHTR:
		a.jofr[(off-adcJOFR1)/4] = v & 0xFFF
	case off == adcHTR:
		a.htr = v & 0xFFF
	case off == adcLTR:
		a.ltr = v & 0xFFF
	case off >= adcSQR1 && off <= adcSQR3:
		a.sqr[(off-adcSQR1)/4] = v & 0x3FFF_FFFF
	case off == adcJSQR:
		a.jsqr = v & 0x3F_FFFF
	case off == adcCCR:
		a.ccr = v & 0x00C3_0000
	}
	a.sync()
}

func (a *ADC) writeCR2(v uint32) {
	a.cr2 = v &^ (adcSWSTART | adcJSWSTRT)
	if a.cr2&adcADON == 0 {
		a.m.cancel(a.conv)
		a.conv = nil
		a.sr &^= adcSTRT | adcJSTRT
		return
	}
	if v&adcJSWSTRT != 0 {
		a.startInjected()
	}
	if v&adcSWSTART != 0 {
		a.startRegular()
	}
}

// timerTrigger is called on a TRGO pulse of timer p.
func (a *ADC) timerTrigger(p chip.Periph) {
	if a.cr2&adcADON == 0 {
		return
	}
	if a.cr2>>28&3 != 0 {
		var sel uint32 = 0xFF
		switch p {
		case chip.TIM2:
			sel = 6
		case chip.TIM3:
			sel = 8
		case chip.TIM8:
			sel = 14
		}
		if a.cr2>>24&0xF == sel {
			a.startRegular()
		}
	}
	if a.cr2>>20&3 != 0 {
		var sel uint32 = 0xFF
		switch p {
		case chip.TIM1:
			sel = 1
		case chip.TIM2:
			sel = 3
		case chip.TIM4:
			sel = 9
		case chip.TIM5:
			sel = 11
		}
		if a.cr2>>16&0xF == sel {
			a.startInjected()
		}
	}
}

func (a *ADC) startRegular() {
	if a.sr&adcSTRT != 0 && a.conv != nil {
		return
	}
	a.sr |= adcSTRT
	a.disc = 0
	if a.pos >= a.seqLen() || a.cr1&adcDISCEN == 0 {
		a.pos = 0
	}
	a.next()
}

func (a *ADC) startInjected() {
	a.sr |= adcJSTRT
	if a.conv != nil {
		a.injPending = true
		return
	}
	a.runInjected()
}

func (a *ADC) runInjected() {
	a.injPending = false
	chs := a.injected()
	var t int64
	for _, ch := range chs {
		t += a.convTime(ch)
	}
	a.conv = a.m.schedule(t, func() {
		a.conv = nil
		for i, ch := range chs {
			code := a.sample(ch)
			a.watch(ch, code, true)
			a.jdr[4-len(chs)+i] = a.align(code, a.jofr[4-len(chs)+i])
		}
		a.conversions += len(chs)
		a.sr |= adcJEOC
		a.sync()
		switch {
		case a.cr1&adcJAUTO != 0 && a.cr2&adcCONT != 0:
			a.startRegular()
		case a.sr&adcSTRT != 0 && a.pos > 0:
			a.next()
		}
	})
}

// next converts the regular channel at pos.
func (a *ADC) next() {
	ch := a.rank(a.pos)
	a.conv = a.m.schedule(a.convTime(ch), func() {
		a.conv = nil
		a.finish(ch)
	})
}

func (a *ADC) finish(ch int) {
	code := a.sample(ch)
	a.watch(ch, code, false)
	a.conversions++
	if a.drFull && (a.cr2&adcDMA != 0 || a.cr2&adcEOCS != 0) {
		a.sr |= adcOVR
		a.sr &^= adcSTRT
		a.pos = 0
		a.sync()
		return
	}
	a.dr = a.align(code, 0)
	a.drFull = true
	a.pos++
	a.disc++
	last := a.pos >= a.seqLen() || a.cr1&adcSCAN == 0
	if a.cr2&adcEOCS != 0 || last {
		a.sr |= adcEOC
	}
	a.sync()
	if a.cr2&adcDMA != 0 {
		a.m.dmaPulse(chip.ReqADC1)
	}
	switch {
	case last && a.cr1&adcJAUTO != 0:
		a.pos = 0
		a.sr &^= adcSTRT
		a.runInjected()
		return
	case last:
		a.pos = 0
		if a.cr2&adcCONT != 0 && a.cr1&adcDISCEN == 0 {
			a.next()
			return
		}
		a.sr &^= adcSTRT
	case a.cr1&adcDISCEN != 0 && a.disc > int(a.cr1>>13&7):
		// wait for the next trigger
	default:
		if a.injPending {
			a.runInjected()
			return
		}
		a.next()
		return
	}
	if a.injPending {
		a.runInjected()
	}
}

// SetInput sets the voltage on analog input ch (0..15).
func (a *ADC) SetInput(ch int, volts float64) { a.volts[ch] = volts }

// SetTemperature sets the die temperature in degrees Celsius.
func (a *ADC) SetTemperature(c float64) { a.temp = c }

// Conversions returns the number of completed conversions.
func (a *ADC) Conversions() int { return a.conversions }

// ADC returns the ADC1 model.
func (m *Machine) ADC() *ADC { return m.adc }
