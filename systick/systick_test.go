package systick

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
)

func TestConfigureRejects(t *testing.T) {
	m, _ := sim.NewMCU()
	tests := []struct {
		name string
		c    Config
		want error
	}{
		{"no source", Config{Rate: physic.KiloHertz}, pkg.ErrInvalidMode},
		{"zero reload", Config{Source: SourceHCLK}, pkg.ErrOutOfRange},
		{"reload too big", Config{Source: SourceHCLK, Reload: MaxReload + 1}, pkg.ErrOutOfRange},
		{"rate too slow", Config{Source: SourceHCLK, Rate: physic.Hertz / 2}, pkg.ErrOutOfRange},
		{"rate above clock", Config{Source: SourceHCLKDiv8, Rate: 4 * physic.MegaHertz}, pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Configure(m, tt.c); !errors.Is(err, tt.want) {
				t.Errorf("Configure() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTickInterrupt(t *testing.T) {
	m, s := sim.NewMCU()
	tm, err := Configure(m, Config{Source: SourceHCLK, Rate: physic.KiloHertz, Interrupt: true, Priority: 2})
	if err != nil {
		t.Fatal(err)
	}
	if tm.Reload() != 15999 {
		t.Errorf("Reload() = %d, want 15999", tm.Reload())
	}
	if tm.Period() != time.Millisecond {
		t.Errorf("Period() = %v, want 1ms", tm.Period())
	}
	ticks := 0
	m.Handle(chip.IRQSysTick, func() { ticks++ })
	tm.Start()
	s.Advance(10*time.Millisecond + 10*time.Microsecond)
	if ticks != 10 {
		t.Errorf("ticks = %d after 10ms, want 10", ticks)
	}
	if s.Priority(chip.IRQSysTick) != 0x20 {
		t.Errorf("SysTick priority = %#x, want 0x20", s.Priority(chip.IRQSysTick))
	}
	tm.Stop()
	s.Advance(5 * time.Millisecond)
	if ticks != 10 {
		t.Errorf("ticks = %d after Stop, want 10", ticks)
	}
}

func TestDivideByEight(t *testing.T) {
	m, s := sim.NewMCU()
	tm, err := Configure(m, Config{Source: SourceHCLKDiv8, Reload: 1999})
	if err != nil {
		t.Fatal(err)
	}
	if tm.Period() != time.Millisecond {
		t.Errorf("Period() = %v, want 1ms", tm.Period())
	}
	tm.Start()
	s.Advance(500 * time.Microsecond)
	if v := tm.Value(); v < 990 || v > 1010 {
		t.Errorf("Value() = %d half way, want ~1000", v)
	}
}

func TestDelay(t *testing.T) {
	m, s := sim.NewMCU()
	tm, _ := Configure(m, Config{Source: SourceHCLK, Rate: 10 * physic.KiloHertz})
	if err := tm.Delay(time.Millisecond); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Delay() on a stopped timer error = %v, want ErrInvalidState", err)
	}
	tm.Start()
	start := s.Now()
	if err := tm.Delay(3 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if d := s.Now() - start; d < 3*time.Millisecond || d > 3200*time.Microsecond {
		t.Errorf("Delay(3ms) took %v", d)
	}
	if tm.Wrapped() {
		t.Error("Wrapped() = true right after Delay consumed the flag")
	}
}

func TestCalibration(t *testing.T) {
	m, _ := sim.NewMCU()
	tenms, exact, ok := Calibration(m)
	if !ok || tenms != 1999 || exact {
		t.Errorf("Calibration() = %d, %v, %v, want 1999, false, true", tenms, exact, ok)
	}
}
