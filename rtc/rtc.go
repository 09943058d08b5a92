package rtc

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regTR    = 0x00
	regDR    = 0x04
	regCR    = 0x08
	regISR   = 0x0C
	regPRER  = 0x10
	regWUTR  = 0x14
	regALRMA = 0x1C
	regWPR   = 0x24
	regSSR   = 0x28
	regBKP0R = 0x50

	// BackupRegisters is the number of 32-bit backup registers.
	BackupRegisters = 20
)

const (
	crFMT   = 1 << 6
	crALRAE = 1 << 8
	crWUTE  = 1 << 10
	crALRAI = 1 << 12
	crWUTIE = 1 << 14
	crADD1H = 1 << 16
	crSUB1H = 1 << 17

	isrALRAWF = 1 << 0
	isrWUTWF  = 1 << 2
	isrINITS  = 1 << 4
	isrRSF    = 1 << 5
	isrINITF  = 1 << 6
	isrINIT   = 1 << 7
	isrALRAF  = 1 << 8
	isrWUTF   = 1 << 10

	trPM = 1 << 22
)

// Shadow register resynchronisation takes up to two RTCCLK periods times
// the asynchronous divider, far longer than the core's usual spin budget.
const syncSpin = 16

var (
	prerA     = mmio.Field[uint32]{Pos: 16, Width: 7}
	prerS     = mmio.Field[uint32]{Pos: 0, Width: 15}
	crWUCKSEL = mmio.Field[uint32]{Pos: 0, Width: 3}
)

// Config selects the kernel clock and prescalers. The asynchronous and
// synchronous dividers multiply to give the 1 Hz calendar tick.
type Config struct {
	Source rcc.RTCSource
	Async  uint8  // 0..127, divides by Async+1
	Sync   uint16 // 0..32767, divides by Sync+1
	Hour12 bool
}

// Prescalers returns the largest asynchronous divider that splits f into a
// whole 1 Hz tick, which keeps power lowest, and the matching synchronous
// one.
func Prescalers(f physic.Frequency) (async uint8, sync uint16, err error) {
	hz := int64(f / physic.Hertz)
	for a := int64(128); a >= 1; a-- {
		if hz%a != 0 {
			continue
		}
		if s := hz / a; s >= 1 && s <= 1<<15 {
			return uint8(a - 1), uint16(s - 1), nil
		}
	}
	return 0, 0, pkg.ErrOutOfRange
}

// RTC is the calendar.
type RTC struct {
	m    *chip.MCU
	cfg  Config
	exti irq.EXTI
}

// Open claims the RTC, unlocks the backup domain and selects the clock. A
// calendar that is already initialized with the same prescalers keeps
// running.
func Open(m *chip.MCU, c Config) (*RTC, error) {
	if c.Source == rcc.RTCNone || c.Source > rcc.RTCHSE || c.Async > 127 || c.Sync > 0x7FFF {
		return nil, pkg.ErrOutOfRange
	}
	if err := m.Claim(chip.RTC); err != nil {
		return nil, err
	}
	rcc.UnlockBackup(m)
	rcc.SelectRTCClock(m, c.Source)
	r := &RTC{m: m, cfg: c, exti: irq.NewEXTI(m)}
	if r.Initialized() && r.prescalers() == c.prer() {
		pkg.LogDebug(pkg.ComponentRTC, "calendar kept")
		return r, nil
	}
	if err := r.init(func() { r.reg(regPRER).Set(c.prer()) }); err != nil {
		m.Release(chip.RTC)
		return nil, err
	}
	return r, nil
}

func (c Config) prer() uint32 {
	return prerA.Put(prerS.Put(0, uint32(c.Sync)), uint32(c.Async))
}

func (r *RTC) reg(off uintptr) mmio.Register32 { return r.m.Block(chip.RTC).R32(off) }

func (r *RTC) prescalers() uint32 { return r.reg(regPRER).Get() & 0x7F_7FFF }

func (r *RTC) unlock() {
	wpr := r.reg(regWPR)
	wpr.Set(0xCA)
	wpr.Set(0x53)
}

func (r *RTC) lock() { r.reg(regWPR).Set(0xFF) }

// clear writes zero to the rc_w0 flags in bits and leaves INIT as it is.
func (r *RTC) clear(bits uint32) {
	isr := r.reg(regISR)
	isr.Set(^bits&^isrINIT | isr.Get()&isrINIT)
}

func (r *RTC) waitISR(bit uint32, spin int) error {
	isr := r.reg(regISR)
	for i := 0; i < spin; i++ {
		if isr.HasBits(bit) {
			return nil
		}
	}
	return pkg.ErrBusTimeout
}

// init runs fn in initialization mode with the registers unlocked. The
// prescalers are written as two separate accesses as the hardware
// requires.
func (r *RTC) init(fn func()) error {
	r.unlock()
	defer r.lock()
	isr := r.reg(regISR)
	isr.Set(isrINIT | ^uint32(0xFF))
	if err := r.waitISR(isrINITF, r.m.Spin); err != nil {
		isr.Set(^uint32(isrINIT))
		pkg.LogWarn(pkg.ComponentRTC, "init mode not entered")
		return err
	}
	fn()
	cr := r.reg(regCR)
	if r.cfg.Hour12 {
		cr.SetBits(crFMT)
	} else {
		cr.ClearBits(crFMT)
	}
	isr.Set(^uint32(isrINIT))
	return nil
}

// Initialized reports whether the calendar has been set since the last
// backup domain reset.
func (r *RTC) Initialized() bool { return r.reg(regISR).HasBits(isrINITS) }

// sync waits until the shadow registers hold the current calendar.
func (r *RTC) sync() error {
	r.clear(isrRSF)
	return r.waitISR(isrRSF, r.m.Spin*syncSpin)
}

// Set loads the calendar with t, ignoring its location and sub-second
// part. Years run 2000..2099.
func (r *RTC) Set(t time.Time) error {
	if t.Year() < 2000 || t.Year() > 2099 {
		return pkg.ErrOutOfRange
	}
	tr, dr := encode(t, r.cfg.Hour12)
	prer := r.cfg.prer()
	err := r.init(func() {
		r.reg(regPRER).Set(prerS.Put(0, uint32(r.cfg.Sync)))
		r.reg(regPRER).Set(prer)
		r.reg(regTR).Set(tr)
		r.reg(regDR).Set(dr)
	})
	if err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentRTC, "calendar set", "time", t.Format(time.DateTime))
	return r.sync()
}

// Now returns the calendar time in UTC with the sub-second counter folded
// in.
func (r *RTC) Now() (time.Time, error) {
	if err := r.sync(); err != nil {
		return time.Time{}, err
	}
	// SSR, then TR locks the shadow until DR is read.
	ss := r.reg(regSSR).Get() & 0xFFFF
	tr := r.reg(regTR).Get()
	dr := r.reg(regDR).Get()
	t := decode(tr, dr, r.reg(regCR).HasBits(crFMT))
	s := uint32(r.cfg.Sync)
	if ss <= s {
		t = t.Add(time.Duration(s-ss) * time.Second / time.Duration(s+1))
	}
	return t, nil
}

// SubSeconds returns the synchronous prescaler counter, which counts
// down from Sync to 0 within each second.
func (r *RTC) SubSeconds() uint16 { return uint16(r.reg(regSSR).Get()) }

// AdjustHour adds or removes one hour without entering initialization
// mode, for daylight saving changes.
func (r *RTC) AdjustHour(forward bool) {
	r.unlock()
	defer r.lock()
	if forward {
		r.reg(regCR).SetBits(crADD1H)
	} else {
		r.reg(regCR).SetBits(crSUB1H)
	}
}

func bcd(v int) uint32   { return uint32(v/10)<<4 | uint32(v%10) }
func unbcd(v uint32) int { return int(v>>4)*10 + int(v&0xF) }

func encode(t time.Time, h12 bool) (tr, dr uint32) {
	h := t.Hour()
	if h12 {
		if h >= 12 {
			tr |= trPM
		}
		if h %= 12; h == 0 {
			h = 12
		}
	}
	tr |= bcd(h)<<16 | bcd(t.Minute())<<8 | bcd(t.Second())
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	dr = bcd(t.Year()-2000)<<16 | uint32(wd)<<13 | bcd(int(t.Month()))<<8 | bcd(t.Day())
	return tr, dr
}

func decode(tr, dr uint32, h12 bool) time.Time {
	h := unbcd(tr >> 16 & 0x3F)
	if h12 {
		h %= 12
		if tr&trPM != 0 {
			h += 12
		}
	}
	return time.Date(2000+unbcd(dr>>16&0xFF), time.Month(unbcd(dr>>8&0x1F)), unbcd(dr&0x3F),
		h, unbcd(tr>>8&0x7F), unbcd(tr&0x7F), 0, time.UTC)
}

// Backup returns backup register i.
func (r *RTC) Backup(i int) (uint32, error) {
	if i < 0 || i >= BackupRegisters {
		return 0, pkg.ErrOutOfRange
	}
	return r.reg(regBKP0R + uintptr(i)*4).Get(), nil
}

// SetBackup writes backup register i.
func (r *RTC) SetBackup(i int, v uint32) error {
	if i < 0 || i >= BackupRegisters {
		return pkg.ErrOutOfRange
	}
	r.reg(regBKP0R + uintptr(i)*4).Set(v)
	return nil
}

// Release gives up the handle. The calendar keeps running.
func (r *RTC) Release() {
	rcc.LockBackup(r.m)
	r.m.Release(chip.RTC)
}
