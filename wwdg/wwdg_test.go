package wwdg

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		pclk       physic.Frequency
		d          time.Duration
		tb, cnt    uint8
		shouldFail bool
	}{
		{pclk: 16 * physic.MegaHertz, d: 16384 * time.Microsecond, tb: 0, cnt: 0x7F},
		{pclk: 16 * physic.MegaHertz, d: 2560 * time.Microsecond, tb: 0, cnt: 0x49},
		{pclk: 16 * physic.MegaHertz, d: 131 * time.Millisecond, tb: 3, cnt: 0x7F},
		{pclk: 42 * physic.MegaHertz, d: 50 * time.Millisecond, tb: 3, cnt: 0x7F},
		{pclk: 16 * physic.MegaHertz, d: time.Second, shouldFail: true},
	}
	for _, tt := range tests {
		tb, cnt, err := Compute(tt.pclk, tt.d)
		if tt.shouldFail {
			if !errors.Is(err, pkg.ErrOutOfRange) {
				t.Errorf("Compute(%v, %v) error = %v, want ErrOutOfRange", tt.pclk, tt.d, err)
			}
			continue
		}
		if err != nil || tb != tt.tb || cnt != tt.cnt {
			t.Errorf("Compute(%v, %v) = %d, %#x, %v, want %d, %#x", tt.pclk, tt.d, tb, cnt, err, tt.tb, tt.cnt)
		}
	}
	if got := Timeout(16*physic.MegaHertz, 3, Max); got != 131072*time.Microsecond {
		t.Errorf("Timeout(16MHz, 3, Max) = %v, want 131.072ms", got)
	}
}

var windowed = Config{Prescaler: 3, Counter: Max, Window: 0x50}

func TestWindow(t *testing.T) {
	m, s := sim.NewMCU()
	w, err := Start(m, windowed)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.TryFeed(); !errors.Is(err, pkg.ErrWatchdogWindow) {
		t.Errorf("TryFeed() right after start error = %v, want ErrWatchdogWindow", err)
	}
	for i := 0; i < 10; i++ {
		s.Advance(100 * time.Millisecond)
		if got := w.Counter(); got != 0x4F {
			t.Fatalf("Counter() = %#x after 100ms, want 0x4f", got)
		}
		if err := w.TryFeed(); err != nil {
			t.Fatalf("TryFeed() inside the window error = %v", err)
		}
	}
	if s.Resets() != 0 {
		t.Errorf("Resets() = %d, want 0", s.Resets())
	}
}

func TestEarlyFeedResets(t *testing.T) {
	m, s := sim.NewMCU()
	w, err := Start(m, windowed)
	if err != nil {
		t.Fatal(err)
	}
	s.Advance(10 * time.Millisecond)
	w.Feed()
	s.Advance(time.Microsecond)
	if s.Resets() != 1 || s.LastReset() != sim.ResetWWDG {
		t.Errorf("Resets() = %d, LastReset() = %v, want one WWDG reset", s.Resets(), s.LastReset())
	}
}

func TestTimeoutResets(t *testing.T) {
	m, s := sim.NewMCU()
	w, err := Start(m, windowed)
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Timeout(); got != 131072*time.Microsecond {
		t.Errorf("Timeout() = %v, want 131.072ms", got)
	}
	s.Advance(130 * time.Millisecond)
	if s.Resets() != 0 {
		t.Fatal("reset before the timeout")
	}
	s.Advance(2 * time.Millisecond)
	if s.Resets() != 1 || s.LastReset() != sim.ResetWWDG {
		t.Errorf("Resets() = %d, LastReset() = %v, want one WWDG reset", s.Resets(), s.LastReset())
	}
}

func TestEarlyWakeupFeeds(t *testing.T) {
	m, s := sim.NewMCU()
	c := windowed
	c.EarlyWakeup = true
	w, err := Start(m, c)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	if err := m.Handle(chip.IRQWWDG, func() {
		if w.EarlyWakeup() {
			n++
			w.Feed()
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.Listen(1); err != nil {
		t.Fatal(err)
	}
	s.Advance(time.Second)
	if s.Resets() != 0 {
		t.Errorf("Resets() = %d with the early wake-up handler feeding", s.Resets())
	}
	// One early wake-up every 63 ticks of 2.048ms.
	if n != 7 {
		t.Errorf("early wake-ups = %d, want 7", n)
	}
}

func TestStartValidation(t *testing.T) {
	m, _ := sim.NewMCU()
	for _, c := range []Config{
		{Prescaler: 4, Counter: Max, Window: Max},
		{Counter: 0x3F, Window: Max},
		{Counter: Max, Window: 0x30},
	} {
		if _, err := Start(m, c); !errors.Is(err, pkg.ErrOutOfRange) {
			t.Errorf("Start(%+v) error = %v, want ErrOutOfRange", c, err)
		}
	}
	w, err := Start(m, Config{Counter: Max, Window: Max})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Listen(0); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("Listen() without early wake-up error = %v, want ErrInvalidMode", err)
	}
	if err := w.Freeze(true); err != nil {
		t.Errorf("Freeze(true) error = %v", err)
	}
}
