package adc

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
	"github.com/ardnew/f4core/tim"
)

func TestPrescaler(t *testing.T) {
	const mhz = physic.MegaHertz
	tests := []struct {
		pclk2   physic.Frequency
		div     uint8
		want    uint32
		wantErr bool
	}{
		{16 * mhz, 0, 0, false},
		{84 * mhz, 0, 1, false},
		{100 * mhz, 0, 1, false},
		{100 * mhz, 6, 2, false},
		{16 * mhz, 2, 0, false},
		{100 * mhz, 2, 0, true},
		{16 * mhz, 5, 0, true},
		{1 * mhz, 0, 0, true},
	}
	for _, tt := range tests {
		got, err := prescaler(tt.pclk2, tt.div)
		if (err != nil) != tt.wantErr {
			t.Errorf("prescaler(%v, %d) error = %v, wantErr %v", tt.pclk2, tt.div, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("prescaler(%v, %d) = %d, want %d", tt.pclk2, tt.div, got, tt.want)
		}
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		c    Config
		want uint16
	}{
		{"right12", Config{}, 2048},
		{"left12", Config{LeftAlign: true}, 2048 << 4},
		{"right8", Config{Resolution: Bits8}, 128},
		{"left6", Config{Resolution: Bits6, LeftAlign: true}, 32 << 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s := sim.NewMCU()
			s.ADC().SetInput(3, 1.65)
			a, err := New(m, tt.c)
			if err != nil {
				t.Fatal(err)
			}
			got, err := a.Convert(3)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Convert(3) = %d, want %d", got, tt.want)
			}
			if v := a.Volts(got, 3.3); math.Abs(v-1.65) > 0.06 {
				t.Errorf("Volts() = %.3f, want about 1.65", v)
			}
		})
	}
}

func TestScanSequence(t *testing.T) {
	m, s := sim.NewMCU()
	s.ADC().SetInput(0, 1.1)
	s.ADC().SetInput(1, 3.3)
	a, err := New(m, Config{Scan: true, EOCEach: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range []Channel{0, 1, 2} {
		if err := a.SetSampleTime(ch, Sample56); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.SetSequence(1, 0, 2); err != nil {
		t.Fatal(err)
	}
	buf := make([]uint16, 3)
	if err := a.ReadSequence(buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint16{4095, 1365, 0}, buf); diff != "" {
		t.Errorf("ReadSequence() mismatch (-want +got):\n%s", diff)
	}
	if err := a.SetSequence(make([]Channel, 17)...); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("SetSequence(17 entries) = %v, want %v", err, pkg.ErrOutOfRange)
	}
	if err := a.SetSampleTime(19, Sample3); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("SetSampleTime(19) = %v, want %v", err, pkg.ErrOutOfRange)
	}
}

func TestInternalChannels(t *testing.T) {
	m, s := sim.NewMCU()
	s.ADC().SetTemperature(40)
	a, err := New(m, Config{})
	if err != nil {
		t.Fatal(err)
	}
	a.EnableInternal(true)
	a.SetSampleTime(VREFINT, Sample480)
	a.SetSampleTime(TempSensor, Sample480)
	vref, err := a.Convert(VREFINT)
	if err != nil {
		t.Fatal(err)
	}
	vdda := a.VDDA(vref)
	if math.Abs(vdda-sim.VDDA) > 0.01 {
		t.Errorf("VDDA() = %.3f, want %.2f", vdda, sim.VDDA)
	}
	code, err := a.Convert(TempSensor)
	if err != nil {
		t.Fatal(err)
	}
	if c := a.Celsius(code, vdda); math.Abs(c-40) > 1 {
		t.Errorf("Celsius() = %.1f, want about 40", c)
	}
	a.EnableVBAT(true)
	code, _ = a.Convert(VBAT)
	if v := 4 * a.Volts(code, vdda); math.Abs(v-3.0) > 0.02 {
		t.Errorf("VBAT = %.3f V, want about 3.0", v)
	}
}

func TestInjected(t *testing.T) {
	m, s := sim.NewMCU()
	s.ADC().SetInput(4, 1.1)
	s.ADC().SetInput(5, 2.2)
	a, err := New(m, Config{Scan: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetInjected(4, 5); err != nil {
		t.Fatal(err)
	}
	if err := a.SetOffset(0, 1400); err != nil {
		t.Fatal(err)
	}
	if err := a.SetOffset(2, 0); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("SetOffset(2) = %v, want %v", err, pkg.ErrOutOfRange)
	}
	a.StartInjected()
	buf := make([]int16, 2)
	if err := a.ReadInjected(buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int16{1365 - 1400, 2730}, buf); diff != "" {
		t.Errorf("ReadInjected() mismatch (-want +got):\n%s", diff)
	}
}

func TestTimerTrigger(t *testing.T) {
	m, s := sim.NewMCU()
	a, err := New(m, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetSequence(0); err != nil {
		t.Fatal(err)
	}
	if err := a.SetTrigger(TIM2TRGO, Rising); err != nil {
		t.Fatal(err)
	}
	n := 0
	m.Handle(a.IRQ(), func() {
		if _, err := a.Read(); err != nil {
			t.Error(err)
		}
		n++
	})
	a.Listen(EventEOC, true)
	if err := irq.NewNVIC(m).Enable(a.IRQ(), 5); err != nil {
		t.Fatal(err)
	}

	tm, err := tim.Claim(m, chip.TIM2)
	if err != nil {
		t.Fatal(err)
	}
	p, err := tm.PeriodicAt(physic.KiloHertz)
	if err != nil {
		t.Fatal(err)
	}
	if err := tm.SetTRGO(tim.TriggerUpdate); err != nil {
		t.Fatal(err)
	}
	p.Start()
	s.Advance(10*time.Millisecond + 500*time.Microsecond)
	if n < 9 || n > 11 {
		t.Errorf("triggered conversions = %d, want 10", n)
	}
}

func TestWatchdog(t *testing.T) {
	m, s := sim.NewMCU()
	a, err := New(m, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetWatchdog(Watchdog{Low: 1000, High: 3000, Single: true, Channel: 2, Regular: true}); err != nil {
		t.Fatal(err)
	}
	s.ADC().SetInput(2, 3.0)
	s.ADC().SetInput(3, 3.0)
	a.Convert(3)
	if a.Tripped() {
		t.Error("Tripped() on an unguarded channel")
	}
	a.Convert(2)
	if !a.Tripped() {
		t.Error("Tripped() = false above the window")
	}
	s.ADC().SetInput(2, 1.65)
	a.Convert(2)
	if a.Tripped() {
		t.Error("Tripped() = true inside the window")
	}
	if err := a.SetWatchdog(Watchdog{Low: 3000, High: 1000}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("SetWatchdog(inverted) = %v, want %v", err, pkg.ErrOutOfRange)
	}
}

func TestOverrun(t *testing.T) {
	m, s := sim.NewMCU()
	a, err := New(m, Config{Continuous: true, EOCEach: true})
	if err != nil {
		t.Fatal(err)
	}
	a.SetSequence(1)
	a.Start()
	s.Advance(100 * time.Microsecond)
	if _, err := a.Read(); !errors.Is(err, pkg.ErrOverrun) {
		t.Errorf("Read() after idle = %v, want %v", err, pkg.ErrOverrun)
	}
	if a.Busy() {
		t.Error("Busy() after overrun")
	}
	a.Release()
	if m.Claimed(chip.ADC1) {
		t.Error("ADC1 claimed after Release")
	}
}
