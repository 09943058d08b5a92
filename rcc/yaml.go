package rcc

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// planDoc is the YAML form of a Plan. Frequencies are written with units,
// such as "8MHz".
type planDoc struct {
	HSE       string `yaml:"hse"`
	HSEBypass bool   `yaml:"hse_bypass"`
	SysClk    string `yaml:"sysclk"`
	PLL       *struct {
		Source string `yaml:"source"`
		M      uint32 `yaml:"m"`
		N      uint32 `yaml:"n"`
		P      uint32 `yaml:"p"`
		Q      uint32 `yaml:"q"`
	} `yaml:"pll"`
	Target       string  `yaml:"target"`
	USB          bool    `yaml:"usb"`
	AHB          uint16  `yaml:"ahb"`
	APB1         uint8   `yaml:"apb1"`
	APB2         uint8   `yaml:"apb2"`
	Scale        uint8   `yaml:"scale"`
	Caches       bool    `yaml:"caches"`
	TimerX4      bool    `yaml:"timer_x4"`
	RTCPrescaler uint8   `yaml:"rtc_prescaler"`
	MCO1         *mcoDoc `yaml:"mco1"`
	MCO2         *mcoDoc `yaml:"mco2"`
}

type mcoDoc struct {
	Source string `yaml:"source"`
	Div    uint8  `yaml:"div"`
}

func parseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "", "hsi":
		return HSI, nil
	case "hse":
		return HSE, nil
	case "pll":
		return PLL, nil
	}
	return 0, fmt.Errorf("unknown clock source %q", s)
}

func parseFrequency(s string) (physic.Frequency, error) {
	var f physic.Frequency
	if s == "" {
		return 0, nil
	}
	if err := f.Set(s); err != nil {
		return 0, fmt.Errorf("frequency %q: %w", s, err)
	}
	return f, nil
}

var mco1Names = map[string]MCOSource{"hsi": MCO1HSI, "lse": MCO1LSE, "hse": MCO1HSE, "pll": MCO1PLL}
var mco2Names = map[string]MCOSource{"sysclk": MCO2SYSCLK, "plli2s": MCO2PLLI2S, "hse": MCO2HSE, "pll": MCO2PLL}

func (d *mcoDoc) mco(names map[string]MCOSource) (*MCO, error) {
	if d == nil {
		return nil, nil
	}
	s, ok := names[strings.ToLower(d.Source)]
	if !ok {
		return nil, fmt.Errorf("unknown MCO source %q", d.Source)
	}
	div := d.Div
	if div == 0 {
		div = 1
	}
	return &MCO{Source: s, Div: div}, nil
}

// UnmarshalYAML decodes a plan. Instead of explicit PLL dividers a plan
// may give a target SYSCLK, in which case the dividers are solved for.
func (p *Plan) UnmarshalYAML(n *yaml.Node) error {
	var d planDoc
	if err := n.Decode(&d); err != nil {
		return err
	}
	var q Plan
	var err error
	if q.HSE, err = parseFrequency(d.HSE); err != nil {
		return err
	}
	q.HSEBypass = d.HSEBypass
	if q.SysClk, err = parseSource(d.SysClk); err != nil {
		return err
	}
	if d.PLL != nil {
		if q.PLL.Source, err = parseSource(d.PLL.Source); err != nil {
			return err
		}
		q.PLL.M, q.PLL.N, q.PLL.P, q.PLL.Q = d.PLL.M, d.PLL.N, d.PLL.P, d.PLL.Q
	}
	if d.Target != "" {
		target, err := parseFrequency(d.Target)
		if err != nil {
			return err
		}
		in := q.HSE
		if q.PLL.Source == HSI {
			in = 16 * physic.MegaHertz
		}
		if q.PLL, err = SolvePLL(q.PLL.Source, in, target, d.USB); err != nil {
			return err
		}
		q.SysClk = PLL
	}
	q.AHB, q.APB1, q.APB2 = d.AHB, d.APB1, d.APB2
	q.Scale = d.Scale
	q.Caches = d.Caches
	q.TimerPrescalerX4 = d.TimerX4
	q.RTCPrescaler = d.RTCPrescaler
	if q.MCO1, err = d.MCO1.mco(mco1Names); err != nil {
		return err
	}
	if q.MCO2, err = d.MCO2.mco(mco2Names); err != nil {
		return err
	}
	*p = q
	return nil
}

// ParsePlan decodes and validates a YAML clock plan.
func ParsePlan(r io.Reader) (Plan, error) {
	var p Plan
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("rcc: %w", err)
	}
	if _, err := Validate(p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Default returns the reset clock tree: SYSCLK from the 16 MHz HSI with
// every prescaler at 1.
func Default() Plan { return Plan{SysClk: HSI} }

// Max returns a 100 MHz plan running from an hse crystal, with the 48 MHz
// domain at 40 MHz.
func Max(hse physic.Frequency) (Plan, error) {
	pll, err := SolvePLL(HSE, hse, MaxSYSCLK, false)
	if err != nil {
		return Plan{}, err
	}
	return Plan{HSE: hse, SysClk: PLL, PLL: pll, Caches: true}, nil
}

// USB returns a 96 MHz plan from an hse crystal with an exact 48 MHz
// clock for the USB OTG FS core.
func USB(hse physic.Frequency) (Plan, error) {
	pll, err := SolvePLL(HSE, hse, 96*physic.MegaHertz, true)
	if err != nil {
		return Plan{}, err
	}
	return Plan{HSE: hse, SysClk: PLL, PLL: pll, Caches: true}, nil
}
