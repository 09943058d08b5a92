package tim

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	f4gpio "github.com/ardnew/f4core/gpio"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
	"github.com/ardnew/f4core/sim"
)

type edge struct {
	at   time.Duration
	high bool
}

func record(s *sim.Machine, pin chip.Pin) *[]edge {
	var e []edge
	s.GPIO().Watch(pin, func(high bool) { e = append(e, edge{s.Now(), high}) })
	return &e
}

func near(got, want, tol time.Duration) bool {
	d := got - want
	return d >= -tol && d <= tol
}

func alternate(t *testing.T, m *chip.MCU, pin chip.Pin, p chip.Periph, sig chip.Signal) {
	t.Helper()
	gp, err := f4gpio.Claim(m, pin)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gp.AlternateFor(p, sig, f4gpio.PushPull, f4gpio.SpeedHigh, f4gpio.PullNone); err != nil {
		t.Fatalf("AlternateFor(%v, %v) error = %v", p, sig, err)
	}
}

func TestSolve(t *testing.T) {
	const mhz = physic.MegaHertz
	tests := []struct {
		name    string
		clk, f  physic.Frequency
		max     uint32
		psc     uint16
		arr     uint32
		wantErr bool
	}{
		{"1kHz from 16MHz", 16 * mhz, physic.KiloHertz, 0xFFFF, 0, 15999, false},
		{"1Hz 16-bit", 16 * mhz, physic.Hertz, 0xFFFF, 244, 65305, false},
		{"1Hz 32-bit", 16 * mhz, physic.Hertz, 0xFFFF_FFFF, 0, 15_999_999, false},
		{"zero", 16 * mhz, 0, 0xFFFF, 0, 0, true},
		{"above clock", 16 * mhz, 32 * mhz, 0xFFFF, 0, 0, true},
		{"at clock", 16 * mhz, 16 * mhz, 0xFFFF, 0, 0, true},
		{"too slow", 100 * mhz, physic.MilliHertz, 0xFFFF, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			psc, arr, err := Solve(tt.clk, tt.f, tt.max)
			if tt.wantErr {
				if !errors.Is(err, pkg.ErrOutOfRange) {
					t.Errorf("Solve() error = %v, want ErrOutOfRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Solve() error = %v", err)
			}
			if psc != tt.psc || arr != tt.arr {
				t.Errorf("Solve() = %d, %d, want %d, %d", psc, arr, tt.psc, tt.arr)
			}
		})
	}
}

func TestClaim(t *testing.T) {
	m, _ := sim.NewMCU()
	if _, err := Claim(m, chip.USART1); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Claim(USART1) error = %v, want ErrNotSupported", err)
	}
	basic, err := Claim(m, chip.TIM6)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Claim(m, chip.TIM6); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("second Claim() error = %v, want ErrClaimed", err)
	}
	if _, err := basic.Capture(Timebase{Reload: 100}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("TIM6 Capture() error = %v, want ErrNotSupported", err)
	}
	if _, err := basic.Periodic(Timebase{Reload: 100, Direction: Down}); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("TIM6 counting down error = %v, want ErrInvalidMode", err)
	}
	small, _ := Claim(m, chip.TIM10)
	o, err := small.Output(Timebase{Reload: 100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Channel(Ch2, ChannelConfig{Mode: PWM1}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("TIM10 Channel(Ch2) error = %v, want ErrOutOfRange", err)
	}
	if small.MaxReload() != 0xFFFF {
		t.Errorf("TIM10 MaxReload() = %#x", small.MaxReload())
	}
	wide, _ := Claim(m, chip.TIM2)
	if wide.MaxReload() != 0xFFFF_FFFF {
		t.Errorf("TIM2 MaxReload() = %#x", wide.MaxReload())
	}
}

func TestBlink(t *testing.T) {
	m, s := sim.NewMCU(sim.WithHSE(8 * physic.MegaHertz))
	if _, err := rcc.Configure(m, rcc.Plan{HSE: 8 * physic.MegaHertz, SysClk: rcc.HSE, AHB: 8}); err != nil {
		t.Fatal(err)
	}
	gp, _ := f4gpio.Claim(m, chip.PC13)
	led := gp.Output(f4gpio.PushPull, f4gpio.SpeedLow, gpio.High)
	edges := record(s, chip.PC13)

	tm, err := Claim(m, chip.TIM2)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Clock() != physic.MegaHertz {
		t.Fatalf("TIM2 clock = %v, want 1MHz", tm.Clock())
	}
	p, err := tm.Periodic(Timebase{Prescaler: 999, Reload: 999})
	if err != nil {
		t.Fatal(err)
	}
	if p.Frequency() != physic.Hertz {
		t.Errorf("Frequency() = %v, want 1Hz", p.Frequency())
	}
	m.Handle(chip.IRQTIM2, func() {
		if p.Updated() {
			led.Toggle()
		}
	})
	p.Listen(true)
	if err := irq.NewNVIC(m).Enable(tm.IRQ(), 1); err != nil {
		t.Fatal(err)
	}
	p.Start()
	s.Advance(2500 * time.Millisecond)

	if len(*edges) != 2 {
		t.Fatalf("PC13 edges = %v, want 2", *edges)
	}
	for i, want := range []time.Duration{time.Second, 2 * time.Second} {
		e := (*edges)[i]
		if !near(e.at, want, time.Millisecond) {
			t.Errorf("edge %d at %v, want %v", i, e.at, want)
		}
		if e.high != (i == 1) {
			t.Errorf("edge %d high = %v", i, e.high)
		}
	}
}

func TestPeriodicWait(t *testing.T) {
	m, s := sim.NewMCU()
	tm, _ := Claim(m, chip.TIM6)
	p, err := tm.PeriodicAt(10 * physic.KiloHertz)
	if err != nil {
		t.Fatal(err)
	}
	if p.Updated() {
		t.Fatal("update flag set by setup")
	}
	start := s.Now()
	p.Start()
	p.Wait()
	p.Wait()
	if got := s.Now() - start; !near(got, 200*time.Microsecond, 2*time.Microsecond) {
		t.Errorf("two periods took %v, want 200µs", got)
	}
	p.Stop()
	if p.Running() {
		t.Error("Running() after Stop")
	}
}

func TestPWM(t *testing.T) {
	m, s := sim.NewMCU()
	tm, _ := Claim(m, chip.TIM3)
	alternate(t, m, chip.PA6, chip.TIM3, chip.CH1)
	edges := record(s, chip.PA6)
	o, err := tm.PWM(physic.KiloHertz)
	if err != nil {
		t.Fatal(err)
	}
	if o.Period() != 16000 {
		t.Fatalf("Period() = %d, want 16000", o.Period())
	}
	ch, err := o.Channel(Ch1, ChannelConfig{Mode: PWM1, Preload: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Channel(Ch1, ChannelConfig{Mode: PWM1}); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("second Channel(Ch1) error = %v, want ErrClaimed", err)
	}
	if err := ch.SetDuty(1, 4); err != nil {
		t.Fatal(err)
	}
	if ch.Compare() != 4000 {
		t.Errorf("Compare() = %d, want 4000", ch.Compare())
	}
	ch.Enable()
	o.Start()
	s.Advance(3*time.Millisecond + 100*time.Microsecond)

	var rises, highs []time.Duration
	for i, e := range *edges {
		if e.high {
			rises = append(rises, e.at)
		} else if i > 0 && (*edges)[i-1].high {
			highs = append(highs, e.at-(*edges)[i-1].at)
		}
	}
	if len(rises) < 3 || len(highs) < 3 {
		t.Fatalf("edges = %v", *edges)
	}
	for i := 1; i < len(rises); i++ {
		if d := rises[i] - rises[i-1]; !near(d, time.Millisecond, time.Microsecond) {
			t.Errorf("period %d = %v, want 1ms", i, d)
		}
	}
	for i, h := range highs {
		if !near(h, 250*time.Microsecond, time.Microsecond) {
			t.Errorf("pulse %d = %v, want 250µs", i, h)
		}
	}

	ch.Disable()
	if s.GPIO().Level(chip.PA6) {
		t.Error("PA6 still driven high after Disable")
	}
	if err := ch.SetCompare(0x1_0000); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("SetCompare(0x10000) error = %v, want ErrOutOfRange", err)
	}
}

func TestForcedOutputFollowsEnable(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChannelConfig
		want bool
	}{
		{"active high", ChannelConfig{Mode: ForceActive}, true},
		{"inactive high", ChannelConfig{Mode: ForceInactive}, false},
		{"inactive low", ChannelConfig{Mode: ForceInactive, Polarity: ActiveLow}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s := sim.NewMCU()
			tm, _ := Claim(m, chip.TIM3)
			alternate(t, m, chip.PA6, chip.TIM3, chip.CH1)
			o, err := tm.Output(Timebase{Reload: 999})
			if err != nil {
				t.Fatal(err)
			}
			ch, err := o.Channel(Ch1, tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if s.GPIO().Level(chip.PA6) {
				t.Error("PA6 high before Enable")
			}
			ch.Enable()
			if got := s.GPIO().Level(chip.PA6); got != tt.want {
				t.Errorf("PA6 = %v after Enable, want %v", got, tt.want)
			}
			ch.Disable()
			if s.GPIO().Level(chip.PA6) {
				t.Error("PA6 high after Disable")
			}
		})
	}
}

func TestCapture(t *testing.T) {
	m, s := sim.NewMCU()
	s.GPIO().Drive(chip.PA0, false)
	tm, _ := Claim(m, chip.TIM2)
	alternate(t, m, chip.PA0, chip.TIM2, chip.CH1)
	c, err := tm.Capture(Timebase{Prescaler: 15, Reload: tm.MaxReload()})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := c.Channel(Ch1, CaptureConfig{Input: Direct, Edge: Rising})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Channel(Ch2, CaptureConfig{Input: 3}); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("Channel(Input 3) error = %v, want ErrInvalidMode", err)
	}
	c.Start()
	start := s.Now()
	s.Advance(100 * time.Microsecond)
	s.GPIO().Drive(chip.PA0, true)
	want := uint32((s.Now() - start) / time.Microsecond)
	v, ok := ch.Captured()
	if !ok {
		t.Fatal("Captured() = false after rising edge")
	}
	if v+2 < want || v > want+2 {
		t.Errorf("Captured() = %d, want about %d", v, want)
	}
	if _, ok := ch.Captured(); ok {
		t.Error("Captured() = true twice for one edge")
	}

	s.GPIO().Drive(chip.PA0, false)
	if _, ok := ch.Captured(); ok {
		t.Error("falling edge captured with Rising selected")
	}
	for i := 0; i < 2; i++ {
		s.Advance(10 * time.Microsecond)
		s.GPIO().Drive(chip.PA0, true)
		s.Advance(10 * time.Microsecond)
		s.GPIO().Drive(chip.PA0, false)
	}
	if !ch.Overcaptured() {
		t.Error("Overcaptured() = false after two unread captures")
	}
	if ch.Overcaptured() {
		t.Error("Overcaptured() not cleared")
	}
}

func TestPulseMeter(t *testing.T) {
	m, s := sim.NewMCU()
	s.GPIO().Drive(chip.PA6, false)
	tm, _ := Claim(m, chip.TIM3)
	alternate(t, m, chip.PA6, chip.TIM3, chip.CH1)
	pm, err := tm.PulseMeter(15, FilterNone)
	if err != nil {
		t.Fatal(err)
	}
	pm.Start()
	for i := 0; i < 3; i++ {
		s.GPIO().Drive(chip.PA6, true)
		s.Advance(300 * time.Microsecond)
		s.GPIO().Drive(chip.PA6, false)
		s.Advance(700 * time.Microsecond)
	}
	s.GPIO().Drive(chip.PA6, true)
	period, width, ok := pm.Measure()
	if !ok {
		t.Fatal("Measure() not ready")
	}
	if !near(period, time.Millisecond, time.Microsecond) || !near(width, 300*time.Microsecond, time.Microsecond) {
		t.Errorf("Measure() = %v, %v, want 1ms, 300µs", period, width)
	}

	basic, _ := Claim(m, chip.TIM7)
	if _, err := basic.PulseMeter(0, FilterNone); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("TIM7 PulseMeter() error = %v, want ErrNotSupported", err)
	}
}

// quadrature drives n full cycles on a and b; a leads b.
func quadrature(s *sim.Machine, a, b chip.Pin, n int) {
	for i := 0; i < n; i++ {
		for _, st := range [][2]bool{{true, false}, {true, true}, {false, true}, {false, false}} {
			s.GPIO().Drive(a, st[0])
			s.GPIO().Drive(b, st[1])
			s.Advance(10 * time.Microsecond)
		}
	}
}

func TestEncoder(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EncoderConfig
		forward uint32
		dir     Direction
	}{
		{"x4", EncoderConfig{Mode: EncoderBoth}, 8, Up},
		{"x2", EncoderConfig{Mode: EncoderTI1}, 4, Up},
		{"inverted", EncoderConfig{Mode: EncoderBoth, Invert1: true, Reload: 999}, 992, Down},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s := sim.NewMCU()
			s.GPIO().Drive(chip.PB6, false)
			s.GPIO().Drive(chip.PB7, false)
			tm, _ := Claim(m, chip.TIM4)
			alternate(t, m, chip.PB6, chip.TIM4, chip.CH1)
			alternate(t, m, chip.PB7, chip.TIM4, chip.CH2)
			e, err := tm.Encoder(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			quadrature(s, chip.PB6, chip.PB7, 2)
			if got := e.Position(); got != tt.forward {
				t.Errorf("Position() = %d, want %d", got, tt.forward)
			}
			if got := e.Direction(); got != tt.dir {
				t.Errorf("Direction() = %v, want %v", got, tt.dir)
			}
		})
	}

	m, s := sim.NewMCU()
	tm, _ := Claim(m, chip.TIM4)
	alternate(t, m, chip.PB6, chip.TIM4, chip.CH1)
	alternate(t, m, chip.PB7, chip.TIM4, chip.CH2)
	e, _ := tm.Encoder(EncoderConfig{Mode: EncoderBoth})
	e.SetPosition(100)
	quadrature(s, chip.PB7, chip.PB6, 1)
	if e.Position() != 96 || e.Direction() != Down {
		t.Errorf("reverse: Position() = %d, Direction() = %v, want 96, Down", e.Position(), e.Direction())
	}
	if _, err := e.Release().Encoder(EncoderConfig{}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Encoder(mode 0) error = %v, want ErrOutOfRange", err)
	}
}

func TestExternalDebounce(t *testing.T) {
	for _, mode := range []ETRMode{ExternalClock1, ExternalClock2} {
		m, s := sim.NewMCU()
		s.GPIO().Drive(chip.PD2, false)
		tm, _ := Claim(m, chip.TIM3)
		alternate(t, m, chip.PD2, chip.TIM3, chip.ETR)
		// 32 samples of fDTS/32 at 16MHz: 16µs of stable input.
		x, err := tm.External(ETRConfig{Mode: mode, Filter: FilterDTS32N8})
		if err != nil {
			t.Fatal(err)
		}
		x.Start()

		press := func() {
			for _, l := range []bool{true, false, true, false, true} {
				s.GPIO().Drive(chip.PD2, l)
				s.Advance(2 * time.Microsecond)
			}
			s.Advance(50 * time.Microsecond)
		}
		press()
		if x.Count() != 1 {
			t.Errorf("mode %d: Count() after bouncy press = %d, want 1", mode, x.Count())
		}
		s.GPIO().Drive(chip.PD2, false)
		s.Advance(time.Microsecond)
		s.GPIO().Drive(chip.PD2, true)
		s.Advance(50 * time.Microsecond)
		if x.Count() != 1 {
			t.Errorf("mode %d: glitch counted, Count() = %d", mode, x.Count())
		}
		s.GPIO().Drive(chip.PD2, false)
		s.Advance(50 * time.Microsecond)
		press()
		if x.Count() != 2 {
			t.Errorf("mode %d: Count() after second press = %d, want 2", mode, x.Count())
		}
		if triggered := x.Triggered(); triggered != (mode == ExternalClock1) {
			t.Errorf("mode %d: Triggered() = %v", mode, triggered)
		}
	}

	m, _ := sim.NewMCU()
	tm, _ := Claim(m, chip.TIM5)
	if _, err := tm.External(ETRConfig{}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("TIM5 External() error = %v, want ErrNotSupported", err)
	}
}

func TestTRGO(t *testing.T) {
	m, _ := sim.NewMCU()
	tm, _ := Claim(m, chip.TIM6)
	if err := tm.SetTRGO(TriggerOC1Ref); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("TIM6 SetTRGO(OC1Ref) error = %v, want ErrOutOfRange", err)
	}
	if err := tm.SetTRGO(TriggerUpdate); err != nil {
		t.Errorf("SetTRGO(Update) error = %v", err)
	}
	if _, ok := tm.UpdateRequest(); ok {
		t.Error("TIM6 reports an update DMA request")
	}
}
