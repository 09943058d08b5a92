package rtc

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// Which names one of the two alarms.
type Which uint8

const (
	AlarmA Which = iota
	AlarmB
)

func (w Which) String() string {
	if w == AlarmB {
		return "B"
	}
	return "A"
}

// Match selects the calendar fields an alarm compares. Unselected fields
// are don't-care, so an alarm matching nothing fires every second.
type Match uint8

const (
	MatchSecond Match = 1 << iota
	MatchMinute
	MatchHour
	MatchDay     // day of month
	MatchWeekday // Weekday instead of Day
)

// Alarm is a calendar comparison. Hour is 0..23 in either hour format.
type Alarm struct {
	Hour, Minute, Second int
	Day                  int
	Weekday              time.Weekday
	Match                Match
}

func (a Alarm) encode(h12 bool) (uint32, error) {
	if a.Hour < 0 || a.Hour > 23 || a.Minute < 0 || a.Minute > 59 || a.Second < 0 || a.Second > 59 ||
		a.Weekday < time.Sunday || a.Weekday > time.Saturday {
		return 0, pkg.ErrOutOfRange
	}
	if a.Match&MatchDay != 0 && (a.Day < 1 || a.Day > 31 || a.Match&MatchWeekday != 0) {
		return 0, pkg.ErrOutOfRange
	}
	tr, _ := encode(time.Date(2000, 1, 1, a.Hour, a.Minute, a.Second, 0, time.UTC), h12)
	v := tr
	if a.Match&MatchSecond == 0 {
		v |= 1 << 7
	}
	if a.Match&MatchMinute == 0 {
		v |= 1 << 15
	}
	if a.Match&MatchHour == 0 {
		v |= 1 << 23
	}
	switch {
	case a.Match&MatchWeekday != 0:
		wd := uint32(a.Weekday)
		if wd == 0 {
			wd = 7
		}
		v |= 1<<30 | wd<<24
	case a.Match&MatchDay != 0:
		v |= bcd(a.Day) << 24
	default:
		v |= 1 << 31
	}
	return v, nil
}

// Event selects RTC interrupts for Listen.
type Event uint8

const (
	EventAlarmA Event = 1 << iota
	EventAlarmB
	EventWakeup
)

// Clock returns the RTC kernel clock for the configured source. The HSE
// divider comes from the last clock configuration.
func (r *RTC) Clock() physic.Frequency {
	switch r.cfg.Source {
	case rcc.RTCLSE:
		return chip.LSEFrequency
	case rcc.RTCLSI:
		return chip.LSIFrequency
	case rcc.RTCHSE:
		return r.m.Clocks().RTCCLK
	}
	return 0
}

func (r *RTC) modifyCR(set, clear uint32) {
	r.unlock()
	defer r.lock()
	cr := r.reg(regCR)
	cr.Set(cr.Get()&^clear | set)
}

// SetAlarm programs and enables alarm w. The rising edge on EXTI line 17
// is selected so the alarm can wake the core as an event or interrupt.
func (r *RTC) SetAlarm(w Which, a Alarm) error {
	if w > AlarmB {
		return pkg.ErrOutOfRange
	}
	v, err := a.encode(r.reg(regCR).HasBits(crFMT))
	if err != nil {
		return err
	}
	en := uint32(crALRAE) << w
	r.unlock()
	defer r.lock()
	cr := r.reg(regCR)
	cr.ClearBits(en)
	if err := r.waitISR(isrALRAWF<<w, r.m.Spin); err != nil {
		return err
	}
	r.reg(regALRMA + uintptr(w)*4).Set(v)
	r.clear(isrALRAF << w)
	if err := r.exti.SetTrigger(irq.LineRTCAlarm, irq.Rising); err != nil {
		return err
	}
	cr.SetBits(en)
	pkg.LogDebug(pkg.ComponentRTC, "alarm set", "alarm", w, "value", v)
	return nil
}

// DisableAlarm stops alarm w.
func (r *RTC) DisableAlarm(w Which) {
	r.modifyCR(0, (crALRAE|crALRAI)<<w)
	r.clear(isrALRAF << w)
}

// AlarmFired reports and acknowledges a match of alarm w.
func (r *RTC) AlarmFired(w Which) bool {
	if !r.reg(regISR).HasBits(isrALRAF << w) {
		return false
	}
	r.clear(isrALRAF << w)
	r.exti.ClearPending(irq.LineRTCAlarm)
	return true
}

// WaitAlarm sleeps in WFE until alarm w matches. The alarm line is used as
// an event, so no interrupt handler is needed.
func (r *RTC) WaitAlarm(w Which) {
	r.exti.UnmaskEvent(irq.LineRTCAlarm)
	for !r.AlarmFired(w) {
		r.m.Core.WaitForEvent()
	}
}

// SetWakeup starts the periodic wake-up timer. The finest RTCCLK divider
// that covers d is used; periods beyond 32 s count seconds, up to 36
// hours.
func (r *RTC) SetWakeup(d time.Duration) error {
	sel, n, err := wakeupCount(r.Clock(), d)
	if err != nil {
		return err
	}
	r.unlock()
	defer r.lock()
	cr := r.reg(regCR)
	cr.ClearBits(crWUTE | crWUTIE)
	if err := r.waitISR(isrWUTWF, r.m.Spin); err != nil {
		return err
	}
	r.reg(regWUTR).Set(n)
	r.clear(isrWUTF)
	if err := r.exti.SetTrigger(irq.LineRTCWakeup, irq.Rising); err != nil {
		return err
	}
	cr.Set(crWUCKSEL.Put(cr.Get(), sel) | crWUTE | crWUTIE)
	pkg.LogDebug(pkg.ComponentRTC, "wake-up timer", "period", d, "wucksel", sel, "wutr", n)
	return nil
}

// wakeupCount returns WUCKSEL and WUTR for d.
func wakeupCount(clk physic.Frequency, d time.Duration) (sel, wutr uint32, err error) {
	hz := int64(clk / physic.Hertz)
	if hz <= 0 {
		return 0, 0, pkg.ErrClockNotReady
	}
	if d <= 0 {
		return 0, 0, pkg.ErrOutOfRange
	}
	for s := uint32(3); s < 4; s-- {
		div := int64(16 >> s)
		n := (int64(d)*hz/div + int64(time.Second)/2) / int64(time.Second)
		if n >= 1 && n <= 1<<16 {
			return s, uint32(n - 1), nil
		}
	}
	n := int64((d + time.Second/2) / time.Second)
	switch {
	case n >= 1 && n <= 1<<16:
		return 4, uint32(n - 1), nil
	case n > 1<<16 && n <= 1<<17:
		return 6, uint32(n - 1 - 1<<16), nil
	}
	return 0, 0, pkg.ErrOutOfRange
}

// StopWakeup disables the wake-up timer.
func (r *RTC) StopWakeup() {
	r.modifyCR(0, crWUTE|crWUTIE)
	r.clear(isrWUTF)
}

// WakeupFired reports and acknowledges a wake-up timer expiry.
func (r *RTC) WakeupFired() bool {
	if !r.reg(regISR).HasBits(isrWUTF) {
		return false
	}
	r.clear(isrWUTF)
	r.exti.ClearPending(irq.LineRTCWakeup)
	return true
}

// Listen enables the interrupts in e through their EXTI lines at prio.
func (r *RTC) Listen(e Event, prio uint8) error {
	var ie uint32
	if e&EventAlarmA != 0 {
		ie |= crALRAI
	}
	if e&EventAlarmB != 0 {
		ie |= crALRAI << 1
	}
	if e&EventWakeup != 0 {
		ie |= crWUTIE
	}
	r.modifyCR(ie, 0)
	if e&(EventAlarmA|EventAlarmB) != 0 {
		if err := r.exti.ListenLine(irq.LineRTCAlarm, irq.Rising, prio); err != nil {
			return err
		}
	}
	if e&EventWakeup != 0 {
		return r.exti.ListenLine(irq.LineRTCWakeup, irq.Rising, prio)
	}
	return nil
}
