package rtc

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/pwr"
	"github.com/ardnew/f4core/rcc"
	"github.com/ardnew/f4core/sim"
)

func TestPrescalers(t *testing.T) {
	tests := []struct {
		f          physic.Frequency
		async      uint8
		sync       uint16
		shouldFail bool
	}{
		{f: physic.MegaHertz, async: 124, sync: 7999},
		{f: chip.LSEFrequency, async: 127, sync: 255},
		{f: chip.LSIFrequency, async: 127, sync: 249},
		{f: physic.Hertz, async: 0, sync: 0},
		{f: 16 * physic.MegaHertz, shouldFail: true},
	}
	for _, tt := range tests {
		a, s, err := Prescalers(tt.f)
		if tt.shouldFail {
			if !errors.Is(err, pkg.ErrOutOfRange) {
				t.Errorf("Prescalers(%v) error = %v, want ErrOutOfRange", tt.f, err)
			}
			continue
		}
		if err != nil || a != tt.async || s != tt.sync {
			t.Errorf("Prescalers(%v) = %d, %d, %v, want %d, %d", tt.f, a, s, err, tt.async, tt.sync)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		t      time.Time
		h12    bool
		tr, dr uint32
	}{
		{time.Date(2024, 2, 29, 13, 5, 9, 0, time.UTC), true, 0x41_0509, 0x24_8229},
		{time.Date(2024, 2, 29, 13, 5, 9, 0, time.UTC), false, 0x13_0509, 0x24_8229},
		{time.Date(2031, 12, 7, 0, 30, 0, 0, time.UTC), true, 0x12_3000, 0x31_F207},
		{time.Date(2000, 1, 1, 23, 59, 59, 0, time.UTC), false, 0x23_5959, 0x00_C101},
	}
	for _, tt := range tests {
		tr, dr := encode(tt.t, tt.h12)
		if tr != tt.tr || dr != tt.dr {
			t.Errorf("encode(%v, %v) = %#x, %#x, want %#x, %#x", tt.t, tt.h12, tr, dr, tt.tr, tt.dr)
		}
		if got := decode(tr, dr, tt.h12); !got.Equal(tt.t) {
			t.Errorf("decode(%#x, %#x) = %v, want %v", tr, dr, got, tt.t)
		}
	}
}

func TestWakeupCount(t *testing.T) {
	tests := []struct {
		clk       physic.Frequency
		d         time.Duration
		sel, wutr uint32
		err       error
	}{
		{chip.LSEFrequency, time.Second, 3, 16383, nil},
		{chip.LSEFrequency, 5 * time.Second, 2, 40959, nil},
		{chip.LSEFrequency, 30 * time.Second, 0, 61439, nil},
		{chip.LSEFrequency, time.Minute, 4, 59, nil},
		{chip.LSEFrequency, 20 * time.Hour, 6, 6463, nil},
		{chip.LSEFrequency, 40 * time.Hour, 0, 0, pkg.ErrOutOfRange},
		{chip.LSEFrequency, 0, 0, 0, pkg.ErrOutOfRange},
		{0, time.Second, 0, 0, pkg.ErrClockNotReady},
	}
	for _, tt := range tests {
		sel, n, err := wakeupCount(tt.clk, tt.d)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("wakeupCount(%v, %v) error = %v, want %v", tt.clk, tt.d, err, tt.err)
			}
			continue
		}
		if err != nil || sel != tt.sel || n != tt.wutr {
			t.Errorf("wakeupCount(%v, %v) = %d, %d, %v, want %d, %d", tt.clk, tt.d, sel, n, err, tt.sel, tt.wutr)
		}
	}
}

func TestAlarmEncode(t *testing.T) {
	tests := []struct {
		a    Alarm
		h12  bool
		want uint32
		err  bool
	}{
		{a: Alarm{}, want: 0x8080_8080},
		{a: Alarm{Second: 30, Match: MatchSecond}, want: 0x8080_8030},
		{a: Alarm{Hour: 7, Minute: 15, Match: MatchHour | MatchMinute}, want: 0x8007_1580},
		{a: Alarm{Hour: 19, Day: 15, Match: MatchHour | MatchDay}, h12: true, want: 0x1547_8080},
		{a: Alarm{Weekday: time.Sunday, Match: MatchWeekday}, want: 0x4780_8080},
		{a: Alarm{Hour: 24}, err: true},
		{a: Alarm{Match: MatchDay}, err: true},
		{a: Alarm{Day: 3, Match: MatchDay | MatchWeekday}, err: true},
	}
	for _, tt := range tests {
		got, err := tt.a.encode(tt.h12)
		if (err != nil) != tt.err {
			t.Errorf("%+v.encode() error = %v, want error %v", tt.a, err, tt.err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("%+v.encode() = %#x, want %#x", tt.a, got, tt.want)
		}
	}
}

// openHSE runs the RTC from an 8 MHz crystal divided down to 1 MHz.
func openHSE(t *testing.T) (*RTC, *sim.Machine) {
	t.Helper()
	m, s := sim.NewMCU(sim.WithHSE(8 * physic.MegaHertz))
	if _, err := rcc.Configure(m, rcc.Plan{HSE: 8 * physic.MegaHertz, SysClk: rcc.HSE, RTCPrescaler: 8}); err != nil {
		t.Fatal(err)
	}
	a, sy, err := Prescalers(m.Clocks().RTCCLK)
	if err != nil {
		t.Fatal(err)
	}
	if a != 124 || sy != 7999 {
		t.Fatalf("Prescalers(%v) = %d, %d, want 124, 7999", m.Clocks().RTCCLK, a, sy)
	}
	r, err := Open(m, Config{Source: rcc.RTCHSE, Async: a, Sync: sy})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r, s
}

// openLSE runs the RTC from the 32.768 kHz crystal, which keeps running
// through a system reset.
func openLSE(t *testing.T, m *chip.MCU) *RTC {
	t.Helper()
	rcc.UnlockBackup(m)
	if err := rcc.StartLSE(m, false, 1<<20); err != nil {
		t.Fatalf("StartLSE() error = %v", err)
	}
	r, err := Open(m, Config{Source: rcc.RTCLSE, Async: 127, Sync: 255})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r
}

func TestWaitAlarm(t *testing.T) {
	r, s := openHSE(t)
	start := time.Date(2024, 12, 31, 23, 50, 0, 0, time.UTC)
	if err := r.Set(start); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	t0, err := r.Now()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetAlarm(AlarmA, Alarm{}); err != nil {
		t.Fatalf("SetAlarm() error = %v", err)
	}
	for i := 0; i < 1000; i++ {
		r.WaitAlarm(AlarmA)
	}
	t1, err := r.Now()
	if err != nil {
		t.Fatal(err)
	}
	if d := t1.Sub(t0); d < 999*time.Second || d > 1001*time.Second {
		t.Errorf("1000 alarms advanced the calendar by %v, want 1000s", d)
	}
	if t1.Year() != 2025 {
		t.Errorf("Now() = %v, want a time in 2025", t1)
	}
	if got := s.RTC().Alarms(0); got != 1000 {
		t.Errorf("Alarms(0) = %d, want 1000", got)
	}
}

func TestAlarmMatch(t *testing.T) {
	r, s := openHSE(t)
	if err := r.Set(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetAlarm(AlarmB, Alarm{Second: 5, Match: MatchSecond}); err != nil {
		t.Fatal(err)
	}
	s.Advance(4500 * time.Millisecond)
	if r.AlarmFired(AlarmB) {
		t.Error("AlarmFired(B) = true before second 5")
	}
	s.Advance(time.Second)
	if !r.AlarmFired(AlarmB) {
		t.Error("AlarmFired(B) = false after second 5")
	}
	if r.AlarmFired(AlarmB) {
		t.Error("AlarmFired(B) = true after acknowledge")
	}
	r.DisableAlarm(AlarmB)
	s.Advance(time.Minute)
	if got := s.RTC().Alarms(1); got != 1 {
		t.Errorf("Alarms(1) = %d, want 1", got)
	}
}

func TestCalendarSurvivesReset(t *testing.T) {
	m, s := sim.NewMCU(sim.WithLSE())
	r := openLSE(t, m)
	if r.Initialized() {
		t.Fatal("Initialized() = true after backup domain reset")
	}
	if err := r.Set(time.Date(2024, 2, 29, 23, 59, 58, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetBackup(3, 0xCAFE_F00D); err != nil {
		t.Fatal(err)
	}
	r.Release()

	pwr.SystemReset(m)
	s.Advance(time.Microsecond)
	if s.Resets() != 1 || s.LastReset() != sim.ResetSoftware {
		t.Fatalf("Resets() = %d, LastReset() = %v, want one software reset", s.Resets(), s.LastReset())
	}

	s.Advance(3 * time.Second)
	r, err := Open(m, Config{Source: rcc.RTCLSE, Async: 127, Sync: 255})
	if err != nil {
		t.Fatalf("Open() after reset error = %v", err)
	}
	if !r.Initialized() {
		t.Error("Initialized() = false after reset")
	}
	now, err := r.Now()
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC)
	if !now.Truncate(time.Second).Equal(want) {
		t.Errorf("Now() = %v, want %v", now, want)
	}
	if v, _ := r.Backup(3); v != 0xCAFE_F00D {
		t.Errorf("Backup(3) = %#x, want 0xcafef00d", v)
	}
}

func TestBackup(t *testing.T) {
	m, s := sim.NewMCU(sim.WithLSE())
	r := openLSE(t, m)
	for i := 0; i < BackupRegisters; i++ {
		if err := r.SetBackup(i, uint32(i)*0x0101_0101); err != nil {
			t.Fatalf("SetBackup(%d) error = %v", i, err)
		}
	}
	for i := 0; i < BackupRegisters; i++ {
		if got, _ := r.Backup(i); got != uint32(i)*0x0101_0101 {
			t.Errorf("Backup(%d) = %#x, want %#x", i, got, uint32(i)*0x0101_0101)
		}
	}
	if got := s.RTC().Backup(7); got != 0x0707_0707 {
		t.Errorf("backup register 7 = %#x, want 0x07070707", got)
	}
	if err := r.SetBackup(BackupRegisters, 1); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("SetBackup(%d) error = %v, want ErrOutOfRange", BackupRegisters, err)
	}
	if _, err := r.Backup(-1); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Backup(-1) error = %v, want ErrOutOfRange", err)
	}

	rcc.LockBackup(m)
	_ = r.SetBackup(0, 0xFFFF)
	if got, _ := r.Backup(0); got != 0 {
		t.Errorf("Backup(0) = %#x after a write without DBP, want 0", got)
	}
}

func TestWriteProtection(t *testing.T) {
	m, s := sim.NewMCU(sim.WithLSE())
	r := openLSE(t, m)
	if err := r.Set(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	// The key sequence is required: a bare INIT request is ignored.
	s.Poke(chip.RTCBase+regISR, isrINIT|^uint32(0xFF))
	s.Advance(time.Millisecond)
	if s.Peek(chip.RTCBase+regISR)&isrINITF != 0 {
		t.Error("INITF set without the write protection key")
	}
	rcc.LockBackup(m)
	if err := r.Set(time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, pkg.ErrBusTimeout) {
		t.Errorf("Set() without DBP error = %v, want ErrBusTimeout", err)
	}
	rcc.UnlockBackup(m)
	now, err := r.Now()
	if err != nil {
		t.Fatal(err)
	}
	if now.Year() != 2030 {
		t.Errorf("Now() = %v, want the calendar untouched", now)
	}
}

func TestWakeupInterrupt(t *testing.T) {
	m, s := sim.NewMCU(sim.WithLSE())
	r := openLSE(t, m)
	if r.Clock() != chip.LSEFrequency {
		t.Errorf("Clock() = %v, want %v", r.Clock(), chip.LSEFrequency)
	}
	n := 0
	if err := m.Handle(chip.IRQRTCWKUP, func() {
		if r.WakeupFired() {
			n++
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetWakeup(250 * time.Millisecond); err != nil {
		t.Fatalf("SetWakeup() error = %v", err)
	}
	if err := r.Listen(EventWakeup, 3); err != nil {
		t.Fatal(err)
	}
	s.Advance(1010 * time.Millisecond)
	if n != 4 {
		t.Errorf("wake-up interrupts = %d, want 4", n)
	}
	r.StopWakeup()
	s.Advance(time.Second)
	if got := s.RTC().Wakeups(); got != 4 {
		t.Errorf("Wakeups() = %d, want 4", got)
	}
}

func TestAdjustHour(t *testing.T) {
	m, _ := sim.NewMCU(sim.WithLSE())
	r := openLSE(t, m)
	if err := r.Set(time.Date(2025, 3, 30, 2, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	r.AdjustHour(true)
	now, err := r.Now()
	if err != nil {
		t.Fatal(err)
	}
	if now.Hour() != 3 {
		t.Errorf("Now().Hour() = %d after AdjustHour(true), want 3", now.Hour())
	}
	r.AdjustHour(false)
	r.AdjustHour(false)
	if now, _ = r.Now(); now.Hour() != 1 {
		t.Errorf("Now().Hour() = %d after two AdjustHour(false), want 1", now.Hour())
	}
}

func TestOpenValidation(t *testing.T) {
	m, _ := sim.NewMCU()
	for _, c := range []Config{
		{Source: rcc.RTCNone},
		{Source: rcc.RTCLSI, Async: 128},
		{Source: rcc.RTCLSI, Sync: 0x8000},
	} {
		if _, err := Open(m, c); !errors.Is(err, pkg.ErrOutOfRange) {
			t.Errorf("Open(%+v) error = %v, want ErrOutOfRange", c, err)
		}
	}
	if err := rcc.StartLSI(m); err != nil {
		t.Fatal(err)
	}
	r, err := Open(m, Config{Source: rcc.RTCLSI, Async: 127, Sync: 249})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(m, Config{Source: rcc.RTCLSI, Async: 127, Sync: 249}); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("second Open() error = %v, want ErrClaimed", err)
	}
	r.Release()
}
