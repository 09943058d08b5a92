package rcc

import (
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Source is a system clock or PLL input source.
type Source uint8

// Clock sources. The values match CFGR.SW.
const (
	HSI Source = iota
	HSE
	PLL
)

func (s Source) String() string {
	switch s {
	case HSI:
		return "HSI"
	case HSE:
		return "HSE"
	case PLL:
		return "PLL"
	}
	return fmt.Sprintf("Source(%d)", uint8(s))
}

// PLLConfig holds the main PLL dividers:
// VCO = input / M * N, SYSCLK = VCO / P, PLL48 = VCO / Q.
type PLLConfig struct {
	Source Source // HSI or HSE
	M      uint32
	N      uint32
	P      uint32
	Q      uint32
}

// MCOSource selects the clock driven on an MCO pin.
type MCOSource uint8

// MCO1 (PA8) sources.
const (
	MCO1HSI MCOSource = iota
	MCO1LSE
	MCO1HSE
	MCO1PLL
)

// MCO2 (PC9) sources.
const (
	MCO2SYSCLK MCOSource = iota
	MCO2PLLI2S
	MCO2HSE
	MCO2PLL
)

// MCO configures one microcontroller clock output.
type MCO struct {
	Source MCOSource
	Div    uint8 // 1..5
}

// Plan is a complete clock tree configuration. Zero prescalers select the
// smallest divider that keeps the bus within its limit; a zero Scale
// selects the lowest-power regulator scale that supports SYSCLK.
type Plan struct {
	HSE       physic.Frequency
	HSEBypass bool
	SysClk    Source
	PLL       PLLConfig
	AHB       uint16 // 1, 2, 4, 8, 16, 64, 128, 256, 512
	APB1      uint8  // 1, 2, 4, 8, 16
	APB2      uint8
	Scale     uint8 // 1..3
	Caches    bool  // prefetch, instruction and data caches

	// TimerPrescalerX4 sets DCKCFGR.TIMPRE: timers run at 4x PCLK when the
	// APB divider is 4 or more.
	TimerPrescalerX4 bool

	// RTCPrescaler divides HSE for the RTC (2..31, 0 leaves RTCPRE alone).
	RTCPrescaler uint8

	MCO1 *MCO
	MCO2 *MCO
}

// Datasheet limits.
const (
	MaxSYSCLK = 100 * physic.MegaHertz
	MaxAPB1   = 50 * physic.MegaHertz
	MaxAPB2   = 100 * physic.MegaHertz
	MaxPLL48  = 48 * physic.MegaHertz

	MinVCOIn  = 1 * physic.MegaHertz
	MaxVCOIn  = 2 * physic.MegaHertz
	MinVCOOut = 100 * physic.MegaHertz
	MaxVCOOut = 432 * physic.MegaHertz

	MinHSE       = 4 * physic.MegaHertz
	MaxHSE       = 26 * physic.MegaHertz
	MaxHSEBypass = 50 * physic.MegaHertz
	MaxRTCHSE    = 1 * physic.MegaHertz
)

// scaleLimit is the SYSCLK limit of regulator scales 1..3.
var scaleLimit = [4]physic.Frequency{0, 100 * physic.MegaHertz, 84 * physic.MegaHertz, 64 * physic.MegaHertz}

// latencyLimit is the HCLK limit for 0..3 flash wait states at 2.7 to 3.6 V.
var latencyLimit = [4]physic.Frequency{
	30 * physic.MegaHertz,
	64 * physic.MegaHertz,
	90 * physic.MegaHertz,
	100 * physic.MegaHertz,
}

// FlashLatency returns the wait states required at hclk.
func FlashLatency(hclk physic.Frequency) (uint32, bool) {
	for ws, max := range latencyLimit {
		if hclk <= max {
			return uint32(ws), true
		}
	}
	return 0, false
}

// hpre maps an AHB divisor to CFGR.HPRE.
var hpre = map[uint16]uint32{1: 0, 2: 8, 4: 9, 8: 10, 16: 11, 64: 12, 128: 13, 256: 14, 512: 15}

// ppre maps an APB divisor to CFGR.PPREx.
var ppre = map[uint8]uint32{1: 0, 2: 4, 4: 5, 8: 6, 16: 7}

// Settings is a validated plan resolved to register values.
type Settings struct {
	Plan    Plan
	Clocks  chip.Clocks
	Latency uint32
	VOS     uint32 // PWR_CR.VOS field value
}

func invalid(field, format string, args ...any) error {
	return &pkg.PlanError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func div(f physic.Frequency, d int64) physic.Frequency { return physic.Frequency(int64(f) / d) }

// Validate checks p against the datasheet limits and resolves the
// frequencies it produces. It never touches hardware.
func Validate(p Plan) (Settings, error) {
	s := Settings{Plan: p}
	usesHSE := p.SysClk == HSE || (p.SysClk == PLL && p.PLL.Source == HSE) || p.RTCPrescaler != 0 ||
		(p.MCO1 != nil && p.MCO1.Source == MCO1HSE) || (p.MCO2 != nil && p.MCO2.Source == MCO2HSE)
	if usesHSE {
		max := MaxHSE
		min := MinHSE
		if p.HSEBypass {
			max, min = MaxHSEBypass, physic.MegaHertz
		}
		if p.HSE < min || p.HSE > max {
			return s, invalid("HSE", "%v outside %v..%v", p.HSE, min, max)
		}
	}

	var sysclk physic.Frequency
	switch p.SysClk {
	case HSI:
		sysclk = chip.HSIFrequency
	case HSE:
		sysclk = p.HSE
	case PLL:
		vco, err := validatePLL(p)
		if err != nil {
			return s, err
		}
		sysclk = div(vco, int64(p.PLL.P))
		s.Clocks.PLL48 = div(vco, int64(p.PLL.Q))
	default:
		return s, invalid("SysClk", "unknown source %v", p.SysClk)
	}
	if sysclk > MaxSYSCLK {
		return s, invalid("SysClk", "%v above %v", sysclk, MaxSYSCLK)
	}

	if p.AHB == 0 {
		p.AHB = 1
	}
	if _, ok := hpre[p.AHB]; !ok {
		return s, invalid("AHB", "divisor %d not supported", p.AHB)
	}
	hclk := div(sysclk, int64(p.AHB))
	var err error
	if p.APB1, err = busDivider("APB1", p.APB1, hclk, MaxAPB1); err != nil {
		return s, err
	}
	if p.APB2, err = busDivider("APB2", p.APB2, hclk, MaxAPB2); err != nil {
		return s, err
	}

	if p.Scale == 0 {
		p.Scale = 3
		for p.Scale > 1 && sysclk > scaleLimit[p.Scale] {
			p.Scale--
		}
	}
	if p.Scale > 3 {
		return s, invalid("Scale", "scale %d does not exist", p.Scale)
	}
	if sysclk > scaleLimit[p.Scale] {
		return s, invalid("Scale", "scale %d supports at most %v, SYSCLK is %v", p.Scale, scaleLimit[p.Scale], sysclk)
	}

	lat, ok := FlashLatency(hclk)
	if !ok {
		return s, invalid("AHB", "HCLK %v above the flash latency table", hclk)
	}

	if p.RTCPrescaler != 0 {
		if p.RTCPrescaler < 2 || p.RTCPrescaler > 31 {
			return s, invalid("RTCPrescaler", "%d outside 2..31", p.RTCPrescaler)
		}
		if r := div(p.HSE, int64(p.RTCPrescaler)); r > MaxRTCHSE {
			return s, invalid("RTCPrescaler", "HSE/%d = %v above %v", p.RTCPrescaler, r, MaxRTCHSE)
		}
		s.Clocks.RTCCLK = div(p.HSE, int64(p.RTCPrescaler))
	}
	for i, m := range []*MCO{p.MCO1, p.MCO2} {
		if m != nil && (m.Div < 1 || m.Div > 5 || m.Source > 3) {
			return s, invalid(fmt.Sprintf("MCO%d", i+1), "source %d divider %d", m.Source, m.Div)
		}
	}

	s.Plan = p
	s.Latency = lat
	s.VOS = 4 - uint32(p.Scale)
	s.Clocks.SYSCLK = sysclk
	s.Clocks.HCLK = hclk
	s.Clocks.PCLK1 = div(hclk, int64(p.APB1))
	s.Clocks.PCLK2 = div(hclk, int64(p.APB2))
	s.Clocks.TIMCLK1 = timerClock(hclk, p.APB1, p.TimerPrescalerX4)
	s.Clocks.TIMCLK2 = timerClock(hclk, p.APB2, p.TimerPrescalerX4)
	s.Clocks.Scale = p.Scale
	if usesHSE {
		s.Clocks.HSE = p.HSE
	}
	return s, nil
}

func validatePLL(p Plan) (physic.Frequency, error) {
	c := p.PLL
	in := chip.HSIFrequency
	switch c.Source {
	case HSI:
	case HSE:
		in = p.HSE
	default:
		return 0, invalid("PLL.Source", "PLL cannot run from %v", c.Source)
	}
	if c.M < 2 || c.M > 63 {
		return 0, invalid("PLL.M", "%d outside 2..63", c.M)
	}
	if c.N < 50 || c.N > 432 {
		return 0, invalid("PLL.N", "%d outside 50..432", c.N)
	}
	if c.P != 2 && c.P != 4 && c.P != 6 && c.P != 8 {
		return 0, invalid("PLL.P", "%d not one of 2, 4, 6, 8", c.P)
	}
	if c.Q < 2 || c.Q > 15 {
		return 0, invalid("PLL.Q", "%d outside 2..15", c.Q)
	}
	vin := div(in, int64(c.M))
	if vin < MinVCOIn || vin > MaxVCOIn {
		return 0, invalid("PLL.M", "VCO input %v outside %v..%v", vin, MinVCOIn, MaxVCOIn)
	}
	vco := physic.Frequency(int64(vin) * int64(c.N))
	if vco < MinVCOOut || vco > MaxVCOOut {
		return 0, invalid("PLL.N", "VCO output %v outside %v..%v", vco, MinVCOOut, MaxVCOOut)
	}
	if q := div(vco, int64(c.Q)); q > MaxPLL48 {
		return 0, invalid("PLL.Q", "48 MHz domain %v above %v", q, MaxPLL48)
	}
	return vco, nil
}

func busDivider(field string, d uint8, hclk, max physic.Frequency) (uint8, error) {
	if d == 0 {
		for d = 1; d < 16 && div(hclk, int64(d)) > max; d *= 2 {
		}
	}
	if _, ok := ppre[d]; !ok {
		return 0, invalid(field, "divisor %d not supported", d)
	}
	if f := div(hclk, int64(d)); f > max {
		return 0, invalid(field, "%v above %v", f, max)
	}
	return d, nil
}

func timerClock(hclk physic.Frequency, d uint8, x4 bool) physic.Frequency {
	switch {
	case d == 1:
		return hclk
	case x4 && d >= 4:
		return div(hclk, int64(d)/4)
	}
	return div(hclk, int64(d)/2)
}

// SolvePLL finds PLL dividers producing sysclk exactly from in. With usb
// set the 48 MHz domain must also be exact. The VCO input is kept at 2 MHz
// where possible to minimise jitter.
func SolvePLL(src Source, in, sysclk physic.Frequency, usb bool) (PLLConfig, error) {
	if sysclk <= 0 || sysclk > MaxSYSCLK {
		return PLLConfig{}, invalid("SysClk", "%v outside (0, %v]", sysclk, MaxSYSCLK)
	}
	for vin := MaxVCOIn; vin >= MinVCOIn; vin -= 250 * physic.KiloHertz {
		if int64(in)%int64(vin) != 0 {
			continue
		}
		m := uint32(int64(in) / int64(vin))
		if m < 2 || m > 63 {
			continue
		}
		for _, p := range []uint32{2, 4, 6, 8} {
			vco := physic.Frequency(int64(sysclk) * int64(p))
			if vco < MinVCOOut || vco > MaxVCOOut || int64(vco)%int64(vin) != 0 {
				continue
			}
			n := uint32(int64(vco) / int64(vin))
			if n < 50 || n > 432 {
				continue
			}
			q := uint32((int64(vco) + int64(MaxPLL48) - 1) / int64(MaxPLL48))
			if q < 2 {
				q = 2
			}
			if usb && int64(vco)%int64(MaxPLL48) != 0 {
				continue
			}
			if q > 15 {
				continue
			}
			return PLLConfig{Source: src, M: m, N: n, P: p, Q: q}, nil
		}
	}
	return PLLConfig{}, invalid("PLL", "no divider set gives %v from %v", sysclk, in)
}
