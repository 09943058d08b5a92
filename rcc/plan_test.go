package rcc

import (
	"errors"
	"strings"
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/pkg"
)

const mhz = physic.MegaHertz

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		plan   Plan
		field  string
		sysclk physic.Frequency
		pclk1  physic.Frequency
		lat    uint32
		scale  uint8
	}{
		{"reset", Default(), "", 16 * mhz, 16 * mhz, 0, 3},
		{"hse", Plan{HSE: 8 * mhz, SysClk: HSE}, "", 8 * mhz, 8 * mhz, 0, 3},
		{"max", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 4, 100, 2, 5}}, "", 100 * mhz, 50 * mhz, 3, 1},
		{"usb", Plan{HSE: 25 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 25, 384, 4, 8}}, "", 96 * mhz, 48 * mhz, 3, 1},
		{"hsi pll 84", Plan{SysClk: PLL, PLL: PLLConfig{HSI, 8, 168, 4, 7}}, "", 84 * mhz, 42 * mhz, 2, 2},
		{"hse low", Plan{HSE: 2 * mhz, SysClk: HSE}, "HSE", 0, 0, 0, 0},
		{"hse high", Plan{HSE: 30 * mhz, SysClk: HSE}, "HSE", 0, 0, 0, 0},
		{"bypass", Plan{HSE: 40 * mhz, HSEBypass: true, SysClk: HSE}, "", 40 * mhz, 40 * mhz, 1, 3},
		{"apb1", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 4, 100, 2, 5}, APB1: 1}, "APB1", 0, 0, 0, 0},
		{"vco in", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 2, 100, 2, 5}}, "PLL.M", 0, 0, 0, 0},
		{"vco out", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 8, 50, 2, 2}}, "PLL.N", 0, 0, 0, 0},
		{"p odd", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 4, 100, 3, 5}}, "PLL.P", 0, 0, 0, 0},
		{"overclock", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 4, 120, 2, 5}}, "SysClk", 0, 0, 0, 0},
		{"pll48", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 4, 100, 2, 4}}, "PLL.Q", 0, 0, 0, 0},
		{"scale", Plan{HSE: 8 * mhz, SysClk: PLL, PLL: PLLConfig{HSE, 4, 100, 2, 5}, Scale: 3}, "Scale", 0, 0, 0, 0},
		{"ahb", Plan{SysClk: HSI, AHB: 32}, "AHB", 0, 0, 0, 0},
		{"rtcpre", Plan{HSE: 8 * mhz, SysClk: HSI, RTCPrescaler: 4}, "RTCPrescaler", 0, 0, 0, 0},
		{"mco", Plan{SysClk: HSI, MCO1: &MCO{Source: MCO1HSI, Div: 6}}, "MCO1", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Validate(tt.plan)
			if tt.field != "" {
				var pe *pkg.PlanError
				if !errors.As(err, &pe) {
					t.Fatalf("Validate() error = %v, want PlanError", err)
				}
				if pe.Field != tt.field {
					t.Errorf("PlanError.Field = %q, want %q (%v)", pe.Field, tt.field, err)
				}
				if !errors.Is(err, pkg.ErrClockPlanInvalid) {
					t.Errorf("errors.Is(%v, ErrClockPlanInvalid) = false", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if s.Clocks.SYSCLK != tt.sysclk {
				t.Errorf("SYSCLK = %v, want %v", s.Clocks.SYSCLK, tt.sysclk)
			}
			if s.Clocks.PCLK1 != tt.pclk1 {
				t.Errorf("PCLK1 = %v, want %v", s.Clocks.PCLK1, tt.pclk1)
			}
			if s.Latency != tt.lat {
				t.Errorf("Latency = %d, want %d", s.Latency, tt.lat)
			}
			if s.Clocks.Scale != tt.scale {
				t.Errorf("Scale = %d, want %d", s.Clocks.Scale, tt.scale)
			}
		})
	}
}

func TestTimerClock(t *testing.T) {
	tests := []struct {
		d    uint8
		x4   bool
		want physic.Frequency
	}{
		{1, false, 100 * mhz},
		{2, false, 100 * mhz},
		{4, false, 50 * mhz},
		{4, true, 100 * mhz},
		{2, true, 100 * mhz},
		{16, true, 25 * mhz},
	}
	for _, tt := range tests {
		if got := timerClock(100*mhz, tt.d, tt.x4); got != tt.want {
			t.Errorf("timerClock(100MHz, %d, %v) = %v, want %v", tt.d, tt.x4, got, tt.want)
		}
	}
}

func TestFlashLatency(t *testing.T) {
	tests := []struct {
		hclk physic.Frequency
		want uint32
		ok   bool
	}{
		{16 * mhz, 0, true},
		{30 * mhz, 0, true},
		{31 * mhz, 1, true},
		{84 * mhz, 2, true},
		{100 * mhz, 3, true},
		{101 * mhz, 0, false},
	}
	for _, tt := range tests {
		got, ok := FlashLatency(tt.hclk)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FlashLatency(%v) = %d, %v, want %d, %v", tt.hclk, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSolvePLL(t *testing.T) {
	tests := []struct {
		in, out physic.Frequency
		usb     bool
	}{
		{8 * mhz, 100 * mhz, false},
		{8 * mhz, 96 * mhz, true},
		{25 * mhz, 96 * mhz, true},
		{16 * mhz, 84 * mhz, false},
	}
	for _, tt := range tests {
		c, err := SolvePLL(HSE, tt.in, tt.out, tt.usb)
		if err != nil {
			t.Errorf("SolvePLL(%v, %v) error = %v", tt.in, tt.out, err)
			continue
		}
		s, err := Validate(Plan{HSE: tt.in, SysClk: PLL, PLL: c})
		if err != nil {
			t.Errorf("SolvePLL(%v, %v) = %+v, invalid: %v", tt.in, tt.out, c, err)
			continue
		}
		if s.Clocks.SYSCLK != tt.out {
			t.Errorf("SolvePLL(%v, %v) gives %v", tt.in, tt.out, s.Clocks.SYSCLK)
		}
		if tt.usb && s.Clocks.PLL48 != 48*mhz {
			t.Errorf("SolvePLL(%v, %v) PLL48 = %v, want 48MHz", tt.in, tt.out, s.Clocks.PLL48)
		}
	}
	for _, out := range []physic.Frequency{101 * mhz, 168 * mhz, 0} {
		if _, err := SolvePLL(HSE, 8*mhz, out, false); !errors.Is(err, pkg.ErrClockPlanInvalid) {
			t.Errorf("SolvePLL(8MHz, %v) error = %v, want %v", out, err, pkg.ErrClockPlanInvalid)
		}
	}
}

func TestParsePlan(t *testing.T) {
	doc := `
hse: 8MHz
target: 96MHz
usb: true
pll:
  source: hse
apb1: 2
caches: true
mco1:
  source: pll
  div: 4
`
	p, err := ParsePlan(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParsePlan() error = %v", err)
	}
	if p.SysClk != PLL || p.PLL.Source != HSE || p.HSE != 8*mhz {
		t.Errorf("ParsePlan() = %+v", p)
	}
	if p.MCO1 == nil || p.MCO1.Source != MCO1PLL || p.MCO1.Div != 4 {
		t.Errorf("ParsePlan() MCO1 = %+v", p.MCO1)
	}
	s, _ := Validate(p)
	if s.Clocks.PLL48 != 48*mhz {
		t.Errorf("PLL48 = %v, want 48MHz", s.Clocks.PLL48)
	}

	bad := []string{
		"sysclk: msi\n",
		"hse: fast\nsysclk: hse\n",
		"sysclk: hse\nhse: 40MHz\n",
		"mco2:\n  source: lsi\n",
	}
	for _, b := range bad {
		if _, err := ParsePlan(strings.NewReader(b)); err == nil {
			t.Errorf("ParsePlan(%q) succeeded, want error", b)
		}
	}
}
