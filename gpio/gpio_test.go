package gpio

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
	"github.com/ardnew/f4core/sim"
)

func TestClaim(t *testing.T) {
	m, _ := sim.NewMCU()
	p, err := Claim(m, chip.PC13)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !rcc.Enabled(m, chip.GPIOC) {
		t.Error("GPIOC clock off after Claim")
	}
	if _, err := Claim(m, chip.PC13); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("second Claim() error = %v, want ErrClaimed", err)
	}
	p.Free()
	if _, err := Claim(m, chip.PC13); err != nil {
		t.Errorf("Claim() after Free error = %v", err)
	}
}

func TestOutput(t *testing.T) {
	m, s := sim.NewMCU()
	p, _ := Claim(m, chip.PC13)
	var edges []bool
	s.GPIO().Watch(chip.PC13, func(high bool) { edges = append(edges, high) })
	o := p.Output(PushPull, SpeedLow, gpio.High)
	if !s.GPIO().Level(chip.PC13) {
		t.Fatal("PC13 low after Output(High)")
	}
	// Initial level is latched before the mode switch: one rising edge only.
	if len(edges) != 1 || !edges[0] {
		t.Errorf("edges = %v, want [true]", edges)
	}
	o.Toggle()
	if s.GPIO().Level(chip.PC13) || o.Latched() != gpio.Low {
		t.Error("Toggle() did not drive low")
	}
	o.High()
	if o.Read() != gpio.High {
		t.Error("Read() = Low after High()")
	}
	if got := s.GPIO().Mode(chip.PC13); got != uint32(ModeOutput) {
		t.Errorf("MODER = %d, want output", got)
	}
	p = o.Release()
	if p.Mode() != ModeInput {
		t.Errorf("Mode() after Release = %v, want input", p.Mode())
	}
}

func TestOpenDrain(t *testing.T) {
	m, s := sim.NewMCU()
	p, _ := Claim(m, chip.PB7)
	s.GPIO().Drive(chip.PB7, false)
	o := p.Output(OpenDrain, SpeedMedium, gpio.High)
	if o.Latched() != gpio.High || o.Read() != gpio.Low {
		t.Errorf("Latched() = %v, Read() = %v, want High, Low", o.Latched(), o.Read())
	}
}

func TestInputPull(t *testing.T) {
	m, s := sim.NewMCU()
	p, _ := Claim(m, chip.PA0)
	in := p.Input(PullDown)
	if in.Read() != gpio.Low {
		t.Error("pulled-down input reads High")
	}
	in.SetPull(PullUp)
	if in.Read() != gpio.High {
		t.Error("pulled-up input reads Low")
	}
	s.GPIO().Drive(chip.PA0, false)
	if in.Read() != gpio.Low {
		t.Error("driven-low input reads High")
	}
}

func TestAlternateFor(t *testing.T) {
	m, s := sim.NewMCU()
	p, _ := Claim(m, chip.PA9)
	if _, err := p.AlternateFor(chip.USART1, chip.TX, PushPull, SpeedHigh, PullNone); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("AlternateFor() with clock off error = %v, want ErrInvalidMode", err)
	}
	if p.Mode() != ModeInput {
		t.Error("pin mode changed by a rejected AlternateFor")
	}
	rcc.Enable(m, chip.USART1)
	a, err := p.AlternateFor(chip.USART1, chip.TX, PushPull, SpeedHigh, PullNone)
	if err != nil {
		t.Fatalf("AlternateFor() error = %v", err)
	}
	if a.AF() != 7 || s.GPIO().AF(chip.PA9) != 7 {
		t.Errorf("AF = %d (register %d), want 7", a.AF(), s.GPIO().AF(chip.PA9))
	}
	if _, err := p.AlternateFor(chip.SPI1, chip.SCK, PushPull, SpeedHigh, PullNone); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("AlternateFor(SPI1 SCK on PA9) error = %v, want ErrNotSupported", err)
	}
	if _, err := p.Alternate(16, PushPull, SpeedLow, PullNone); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Alternate(16) error = %v, want ErrOutOfRange", err)
	}
}

func TestDynamic(t *testing.T) {
	m, s := sim.NewMCU()
	p, _ := Claim(m, chip.PB0)
	d := p.Analog().Erase()
	if _, err := d.Read(); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("Read() on analog error = %v, want ErrInvalidMode", err)
	}
	if err := d.Set(gpio.High); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("Set() on analog error = %v, want ErrInvalidMode", err)
	}
	d.MakeOutput(PushPull, SpeedLow, gpio.Low)
	if err := d.Toggle(); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if !s.GPIO().Level(chip.PB0) {
		t.Error("PB0 low after Toggle")
	}
	d.MakeInput(PullNone)
	if err := d.SetSpeed(SpeedHigh); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("SetSpeed() on input error = %v, want ErrInvalidMode", err)
	}
	if d.Release().Mode() != ModeInput {
		t.Error("Release() left a non-input mode")
	}
}

func TestLock(t *testing.T) {
	m, s := sim.NewMCU()
	p, _ := Claim(m, chip.PC13)
	o := p.Output(PushPull, SpeedLow, gpio.Low)
	if err := o.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	o.Release()
	if got := s.GPIO().Mode(chip.PC13); got != uint32(ModeOutput) {
		t.Errorf("MODER = %d after Release of a locked pin, want output", got)
	}
	o.High()
	if !s.GPIO().Level(chip.PC13) {
		t.Error("locked pin no longer drives its latch")
	}
	q, _ := Claim(m, chip.PC14)
	if err := q.Output(PushPull, SpeedLow, gpio.Low).Lock(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("second Lock() on the port error = %v, want ErrInvalidState", err)
	}
}
