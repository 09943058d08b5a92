package sim

import "time"

// RTC register offsets and bits.
const (
	rtcTR       = 0x00
	rtcDR       = 0x04
	rtcCR       = 0x08
	rtcISR      = 0x0C
	rtcPRER     = 0x10
	rtcWUTR     = 0x14
	rtcCALIBR   = 0x18
	rtcALRMAR   = 0x1C
	rtcALRMBR   = 0x20
	rtcWPR      = 0x24
	rtcSSR      = 0x28
	rtcSHIFTR   = 0x2C
	rtcCALR     = 0x3C
	rtcTAFCR    = 0x40
	rtcALRMASSR = 0x44
	rtcALRMBSSR = 0x48
	rtcBKP0R    = 0x50
	rtcBKPRegs  = 20

	rtcFMT    = 1 << 6
	rtcALRAE  = 1 << 8
	rtcALRBE  = 1 << 9
	rtcWUTE   = 1 << 10
	rtcALRAIE = 1 << 12
	rtcALRBIE = 1 << 13
	rtcWUTIE  = 1 << 14

	rtcALRAWF = 1 << 0
	rtcALRBWF = 1 << 1
	rtcWUTWF  = 1 << 2
	rtcINITS  = 1 << 4
	rtcRSF    = 1 << 5
	rtcINITF  = 1 << 6
	rtcINIT   = 1 << 7
	rtcALRAF  = 1 << 8
	rtcALRBF  = 1 << 9
	rtcWUTF   = 1 << 10

	rtcDRReset   = 0x0000_2101
	rtcPRERReset = 0x007F_00FF
)

// RTC models the real-time clock and its backup registers. It lives in the
// backup domain: a system reset leaves the calendar running.
type RTC struct {
	m          *Machine
	tr, dr, cr uint32
	isr        uint32
	prer, wutr uint32
	calibr     uint32
	alrm       [2]uint32
	alrmss     [2]uint32
	calr       uint32
	tafcr      uint32
	bkp        [rtcBKPRegs]uint32
	wpr        int // key sequence progress; 2 means unlocked

	clock    int64 // RTCCLK period in ps, 0 when stopped
	secStart int64 // start of the current second
	sec      *event
	secAt    int64
	wut      *event
	wutAt    int64
	rsf      *event
	initf    *event
	seconds  int
	alarms   [2]int
	wakeups  int
}

func newRTC(m *Machine) *RTC {
	r := &RTC{m: m}
	r.backupReset()
	return r
}

// backupReset returns every register to its backup-domain reset value.
func (r *RTC) backupReset() {
	r.stop()
	*r = RTC{m: r.m, dr: rtcDRReset, prer: rtcPRERReset, wutr: 0xFFFF,
		isr: rtcALRAWF | rtcALRBWF | rtcWUTWF}
}

func (r *RTC) stop() {
	for _, e := range []*event{r.sec, r.wut, r.rsf, r.initf} {
		r.m.cancel(e)
	}
	r.sec, r.wut, r.rsf, r.initf = nil, nil, nil, nil
}

// systemReset re-arms the calendar events the reset dropped from the
// queue and relocks the registers.
func (r *RTC) systemReset() {
	r.sec, r.wut, r.rsf, r.initf = nil, nil, nil, nil
	r.wpr = 0
	r.isr &^= rtcRSF
	if r.clock != 0 && r.secAt > 0 {
		r.sec = r.m.schedule(r.secAt-r.m.now, r.tick)
		if r.wutAt > 0 && r.cr&rtcWUTE != 0 {
			r.wut = r.m.schedule(r.wutAt-r.m.now, r.wakeup)
		}
	}
	r.retime()
	r.syncShadow()
}

func (r *RTC) running() bool { return r.m.rcc.bdcr&bdcrRTCEN != 0 && r.m.rcc.rtcclk() > 0 }

// retime follows a change of RTCCLK or RTCEN.
func (r *RTC) retime() {
	var p int64
	if r.running() {
		p = period(r.m.rcc.rtcclk())
	}
	if p == r.clock && (p == 0 || r.sec != nil || r.isr&rtcINITF != 0) {
		return
	}
	r.clock = p
	r.m.cancel(r.sec)
	r.sec = nil
	r.secAt = 0
	if p == 0 {
		r.m.cancel(r.wut)
		r.wut = nil
		return
	}
	r.restart()
	r.armWakeup()
}

func (r *RTC) apre() int64 { return int64(r.prer>>16&0x7F) + 1 }
func (r *RTC) spre() int64 { return int64(r.prer&0x7FFF) + 1 }

// secondLen is the ck_spre period.
func (r *RTC) secondLen() int64 { return r.clock * r.apre() * r.spre() }

// restart begins a new second at now.
func (r *RTC) restart() {
	r.m.cancel(r.sec)
	r.sec = nil
	if r.clock == 0 || r.isr&rtcINITF != 0 {
		return
	}
	r.secStart = r.m.now
	r.secAt = r.m.now + r.secondLen()
	r.sec = r.m.schedule(r.secondLen(), r.tick)
}

func (r *RTC) tick() {
	r.sec = nil
	r.seconds++
	r.tr, r.dr = advance(r.tr, r.dr, r.cr&rtcFMT != 0)
	r.secStart = r.m.now
	r.secAt = r.m.now + r.secondLen()
	r.sec = r.m.schedule(r.secondLen(), r.tick)
	for i := 0; i < 2; i++ {
		if r.cr&(rtcALRAE<<i) != 0 && alarmMatch(r.alrm[i], r.tr, r.dr) {
			r.alarms[i]++
			r.isr |= rtcALRAF << i
			r.m.exti.edge(17, true)
			if r.cr&(rtcALRAIE<<i) != 0 {
				r.m.pwr.rtcWake()
			}
		}
	}
}

// wuckPeriod is the wake-up counter clock period.
func (r *RTC) wuckPeriod() int64 {
	sel := r.cr & 7
	if sel < 4 {
		return r.clock * int64(16>>sel)
	}
	return r.secondLen()
}

func (r *RTC) armWakeup() {
	r.m.cancel(r.wut)
	r.wut = nil
	r.wutAt = 0
	if r.cr&rtcWUTE == 0 || r.clock == 0 {
		return
	}
	n := int64(r.wutr&0xFFFF) + 1
	if r.cr&7 >= 6 {
		n += 1 << 16
	}
	d := n * r.wuckPeriod()
	r.wutAt = r.m.now + d
	r.wut = r.m.schedule(d, r.wakeup)
}

func (r *RTC) wakeup() {
	r.wut = nil
	r.wakeups++
	r.isr |= rtcWUTF
	r.m.exti.edge(22, true)
	if r.cr&rtcWUTIE != 0 {
		r.m.pwr.rtcWake()
	}
	r.armWakeup()
}

func (r *RTC) writable() bool { return r.wpr == 2 && r.m.pwr.backupWritable() }

func (r *RTC) syncShadow() {
	if r.clock == 0 || r.isr&rtcRSF != 0 {
		return
	}
	r.m.cancel(r.rsf)
	r.rsf = r.m.schedule(2*r.clock*r.apre(), func() {
		r.rsf = nil
		r.isr |= rtcRSF
	})
}

func (r *RTC) ssr() uint32 {
	if r.clock == 0 || r.sec == nil {
		return r.prer & 0x7FFF
	}
	el := (r.m.now - r.secStart) / (r.clock * r.apre())
	s := int64(r.prer&0x7FFF) - el
	if s < 0 {
		s = 0
	}
	return uint32(s)
}

func (r *RTC) read(off uint32, _ int) uint32 {
	switch {
	case off == rtcTR:
		return r.tr
	case off == rtcDR:
		return r.dr
	case off == rtcCR:
		return r.cr
	case off == rtcISR:
		return r.isr
	case off == rtcPRER:
		return r.prer
	case off == rtcWUTR:
		return r.wutr
	case off == rtcCALIBR:
		return r.calibr
	case off == rtcALRMAR || off == rtcALRMBR:
		return r.alrm[(off-rtcALRMAR)/4]
	case off == rtcSSR:
		return r.ssr()
	case off == rtcCALR:
		return r.calr
	case off == rtcTAFCR:
		return r.tafcr
	case off == rtcALRMASSR || off == rtcALRMBSSR:
		return r.alrmss[(off-rtcALRMASSR)/4]
	case off >= rtcBKP0R && off < rtcBKP0R+4*rtcBKPRegs:
		return r.bkp[(off-rtcBKP0R)/4]
	}
	return 0
}

func (r *RTC) write(off uint32, _ int, v uint32) {
	if !r.m.pwr.backupWritable() {
		return
	}
	switch {
	case off == rtcWPR:
		switch {
		case v&0xFF == 0xCA:
			r.wpr = 1
		case v&0xFF == 0x53 && r.wpr == 1:
			r.wpr = 2
		default:
			r.wpr = 0
		}
		return
	case off >= rtcBKP0R && off < rtcBKP0R+4*rtcBKPRegs:
		r.bkp[(off-rtcBKP0R)/4] = v
		return
	case off == rtcTAFCR:
		r.tafcr = v
		return
	case off == rtcISR:
		r.writeISR(v)
		return
	}
	if !r.writable() {
		return
	}
	initf := r.isr&rtcINITF != 0
	switch {
	case off == rtcTR && initf:
		r.tr = v & 0x007F_7F7F
	case off == rtcDR && initf:
		r.dr = v & 0x00FF_FF3F
	case off == rtcPRER && initf:
		r.prer = v & 0x007F_7FFF
	case off == rtcCR:
		r.writeCR(v)
	case off == rtcWUTR && r.isr&rtcWUTWF != 0:
		r.wutr = v & 0xFFFF
	case off == rtcCALIBR && initf:
		r.calibr = v & 0xBF
	case (off == rtcALRMAR || off == rtcALRMBR):
		i := (off - rtcALRMAR) / 4
		if r.isr&(rtcALRAWF<<i) != 0 {
			r.alrm[i] = v
		}
	case off == rtcALRMASSR || off == rtcALRMBSSR:
		i := (off - rtcALRMASSR) / 4
		if r.isr&(rtcALRAWF<<i) != 0 {
			r.alrmss[i] = v & 0x0F00_7FFF
		}
	case off == rtcCALR:
		r.calr = v & 0xE1FF
	case off == rtcSHIFTR:
		if v&0x7FFF != 0 && r.clock != 0 {
			// sub-second shift delays the next second
			d := int64(v&0x7FFF) * r.clock * r.apre()
			r.m.cancel(r.sec)
			r.secAt += d
			r.sec = r.m.schedule(r.secAt-r.m.now, r.tick)
		}
	}
}

func (r *RTC) writeISR(v uint32) {
	// ALRAF, ALRBF, WUTF, TSF, TSOVF, TAMPxF and RSF are rc_w0
	clr := uint32(rtcALRAF|rtcALRBF|rtcWUTF|0x7800|rtcRSF) &^ v
	r.isr &^= clr
	if clr&rtcRSF != 0 {
		r.syncShadow()
	}
	if !r.writable() {
		return
	}
	switch {
	case v&rtcINIT != 0 && r.isr&rtcINIT == 0:
		r.isr |= rtcINIT
		r.m.cancel(r.initf)
		d := 2 * r.clock
		if d == 0 {
			d = ps(time.Microsecond)
		}
		r.initf = r.m.schedule(d, func() {
			r.initf = nil
			if r.isr&rtcINIT != 0 {
				r.isr |= rtcINITF
				r.m.cancel(r.sec)
				r.sec = nil
			}
		})
	case v&rtcINIT == 0 && r.isr&rtcINIT != 0:
		r.isr &^= rtcINIT | rtcINITF | rtcRSF
		if r.dr>>16&0xFF != 0 {
			r.isr |= rtcINITS
		}
		r.restart()
		r.syncShadow()
	}
}

func (r *RTC) writeCR(v uint32) {
	old := r.cr
	if old&rtcWUTE != 0 && r.isr&rtcWUTWF == 0 {
		// WUCKSEL is frozen while the timer runs
		v = v&^7 | old&7
	}
	r.cr = v & 0x00FF_FFFF
	for i := uint32(0); i < 2; i++ {
		if r.cr&(rtcALRAE<<i) == 0 {
			r.isr |= rtcALRAWF << i
		} else {
			r.isr &^= rtcALRAWF << i
		}
	}
	switch {
	case r.cr&rtcWUTE == 0:
		r.m.cancel(r.wut)
		r.wut = nil
		r.wutAt = 0
		r.isr |= rtcWUTWF
	case old&rtcWUTE == 0:
		r.isr &^= rtcWUTWF
		r.armWakeup()
	}
	if v&(1<<16) != 0 || v&(1<<17) != 0 {
		// daylight saving: ADD1H / SUB1H
		t := decodeTime(r.tr, r.cr&rtcFMT != 0)
		if v&(1<<16) != 0 {
			t.hour = (t.hour + 1) % 24
		} else if t.hour > 0 {
			t.hour--
		}
		r.tr = encodeTime(t, r.cr&rtcFMT != 0)
		r.cr &^= 3 << 16
	}
}

type calendar struct {
	year, month, day, wday int
	hour, min, sec         int
}

func bcd(v uint32) int   { return int(v>>4)*10 + int(v&0xF) }
func tobcd(v int) uint32 { return uint32(v/10)<<4 | uint32(v%10) }

func decodeTime(tr uint32, h12 bool) calendar {
	c := calendar{hour: bcd(tr >> 16 & 0x3F), min: bcd(tr >> 8 & 0x7F), sec: bcd(tr & 0x7F)}
	if h12 {
		c.hour %= 12
		if tr&(1<<22) != 0 {
			c.hour += 12
		}
	}
	return c
}

func encodeTime(c calendar, h12 bool) uint32 {
	h := c.hour
	var pm uint32
	if h12 {
		if h >= 12 {
			pm = 1 << 22
		}
		h %= 12
		if h == 0 {
			h = 12
		}
	}
	return pm | tobcd(h)<<16 | tobcd(c.min)<<8 | tobcd(c.sec)
}

func daysIn(year, month int) int {
	switch month {
	case 2:
		if year%4 == 0 {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	}
	return 31
}

// advance adds one second to the BCD time and date registers.
func advance(tr, dr uint32, h12 bool) (uint32, uint32) {
	c := decodeTime(tr, h12)
	year, month, day := bcd(dr>>16&0xFF), bcd(dr>>8&0x1F), bcd(dr&0x3F)
	wday := int(dr >> 13 & 7)
	c.sec++
	if c.sec == 60 {
		c.sec = 0
		c.min++
	}
	if c.min == 60 {
		c.min = 0
		c.hour++
	}
	if c.hour == 24 {
		c.hour = 0
		day++
		wday = wday%7 + 1
		if day > daysIn(year, month) {
			day = 1
			month++
		}
		if month > 12 {
			month = 1
			year = (year + 1) % 100
		}
	}
	return encodeTime(c, h12), tobcd(year)<<16 | uint32(wday)<<13 | tobcd(month)<<8 | tobcd(day)
}

// alarmMatch compares an ALRMxR value with the calendar, honouring the
// MSK1..MSK4 don't-care bits.
func alarmMatch(a, tr, dr uint32) bool {
	if a&(1<<7) == 0 && a&0x7F != tr&0x7F {
		return false
	}
	if a&(1<<15) == 0 && a>>8&0x7F != tr>>8&0x7F {
		return false
	}
	if a&(1<<23) == 0 && a>>16&0x7F != tr>>16&0x7F {
		return false
	}
	if a&(1<<31) == 0 {
		if a&(1<<30) != 0 {
			return a>>24&0xF == dr>>13&7
		}
		return a>>24&0x3F == dr&0x3F
	}
	return true
}

// Seconds returns the number of calendar seconds elapsed.
func (r *RTC) Seconds() int { return r.seconds }

// Alarms returns how many times alarm A (0) or B (1) matched.
func (r *RTC) Alarms(i int) int { return r.alarms[i] }

// Wakeups returns the number of wake-up timer expiries.
func (r *RTC) Wakeups() int { return r.wakeups }

// Backup returns backup register i.
func (r *RTC) Backup(i int) uint32 { return r.bkp[i] }

// RTC returns the RTC model.
func (m *Machine) RTC() *RTC { return m.rtc }
