package adc

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Edge selects which trigger edges start a conversion.
type Edge uint8

// Trigger edges, in EXTEN order. TriggerOff leaves software start only.
const (
	TriggerOff Edge = iota
	Rising
	Falling
	BothEdges
)

// Source is a regular group trigger, in EXTSEL order.
type Source uint8

// Regular group triggers.
const (
	TIM1CC1 Source = iota
	TIM1CC2
	TIM1CC3
	TIM2CC2
	TIM2CC3
	TIM2CC4
	TIM2TRGO
	TIM3CC1
	TIM3TRGO
	TIM4CC4
	TIM5CC1
	TIM5CC2
	TIM5CC3
	TIM8CC1
	TIM8TRGO
	EXTI11
)

// InjectedSource is an injected group trigger, in JEXTSEL order.
type InjectedSource uint8

// Injected group triggers.
const (
	InjTIM1CC4 InjectedSource = iota
	InjTIM1TRGO
	InjTIM2CC1
	InjTIM2TRGO
	InjTIM3CC2
	InjTIM3CC4
	InjTIM4CC1
	InjTIM4CC2
	InjTIM4CC3
	InjTIM4TRGO
	InjTIM5CC4
	InjTIM5TRGO
	InjTIM8CC2
	InjTIM8CC3
	InjTIM8CC4
	InjEXTI15
)

// SetTrigger makes src start the regular group on edge.
func (a *ADC) SetTrigger(src Source, edge Edge) error {
	if src > EXTI11 || edge > BothEdges {
		return pkg.ErrOutOfRange
	}
	cr2 := a.reg(regCR2)
	v := cr2.Get()
	v = cr2EXTSEL.Put(v, uint32(src))
	v = cr2EXTEN.Put(v, uint32(edge))
	cr2.Set(v)
	return nil
}

// SetInjectedTrigger makes src start the injected group on edge.
func (a *ADC) SetInjectedTrigger(src InjectedSource, edge Edge) error {
	if src > InjEXTI15 || edge > BothEdges {
		return pkg.ErrOutOfRange
	}
	cr2 := a.reg(regCR2)
	v := cr2.Get()
	v = cr2JEXTSEL.Put(v, uint32(src))
	v = cr2JEXTEN.Put(v, uint32(edge))
	cr2.Set(v)
	return nil
}

// Watchdog is an analog window on one or all channels.
type Watchdog struct {
	Low, High uint16 // 12-bit thresholds; the window is [Low, High]
	// Single restricts the guard to Channel.
	Single   bool
	Channel  Channel
	Regular  bool
	Injected bool
}

// SetWatchdog programs the analog watchdog. A result outside the window
// sets the flag reported by Tripped.
func (a *ADC) SetWatchdog(w Watchdog) error {
	if w.Low > 0xFFF || w.High > 0xFFF || w.Low > w.High || w.Channel > maxChannel {
		return pkg.ErrOutOfRange
	}
	a.reg(regHTR).Set(uint32(w.High))
	a.reg(regLTR).Set(uint32(w.Low))
	cr1 := a.reg(regCR1)
	v := cr1.Get() &^ (cr1AWDSGL | cr1AWDEN | cr1JAWDEN)
	v = cr1AWDCH.Put(v, uint32(w.Channel))
	if w.Single {
		v |= cr1AWDSGL
	}
	if w.Regular {
		v |= cr1AWDEN
	}
	if w.Injected {
		v |= cr1JAWDEN
	}
	cr1.Set(v)
	return nil
}

// Tripped reports and clears the analog watchdog flag.
func (a *ADC) Tripped() bool {
	sr := a.reg(regSR)
	if !sr.HasBits(srAWD) {
		return false
	}
	sr.Set(^uint32(srAWD))
	return true
}

// Event is an interrupt source, in CR1 bit positions.
type Event uint32

// Interrupt sources.
const (
	EventEOC     Event = 1 << 5
	EventWatch   Event = 1 << 6
	EventJEOC    Event = 1 << 7
	EventOverrun Event = 1 << 26
	events             = EventEOC | EventWatch | EventJEOC | EventOverrun
)

// Listen enables or disables interrupt sources ev.
func (a *ADC) Listen(ev Event, on bool) {
	if on {
		a.reg(regCR1).SetBits(uint32(ev & events))
	} else {
		a.reg(regCR1).ClearBits(uint32(ev & events))
	}
}

// IRQ returns the interrupt line shared by the ADCs.
func (a *ADC) IRQ() chip.IRQ { return chip.IRQADC }

// EnableInternal connects the temperature sensor and VREFINT.
func (a *ADC) EnableInternal(on bool) {
	if on {
		a.reg(regCCR).SetBits(ccrTSVREFE)
	} else {
		a.reg(regCCR).ClearBits(ccrTSVREFE)
	}
}

// EnableVBAT connects VBAT/4 to channel 18, taking precedence over the
// temperature sensor.
func (a *ADC) EnableVBAT(on bool) {
	if on {
		a.reg(regCCR).SetBits(ccrVBATE)
	} else {
		a.reg(regCCR).ClearBits(ccrVBATE)
	}
}

// DMA is the regular group request, for use with the dma package.
type DMA struct{ a *ADC }

// DMA returns the regular group request. Requests continue after the
// last transfer of a stream (DDS), so circular streams keep running.
func (a *ADC) DMA() DMA { return DMA{a} }

// Request returns the request line.
func (d DMA) Request() chip.DMARequest { return chip.ReqADC1 }

// Addr returns the regular data register address.
func (d DMA) Addr() uintptr { return d.a.reg(regDR).Addr() }

// EnableRequest sets or clears DMA and DDS.
func (d DMA) EnableRequest(on bool) {
	if on {
		d.a.reg(regCR2).SetBits(cr2DMA | cr2DDS)
	} else {
		d.a.reg(regCR2).ClearBits(cr2DMA | cr2DDS)
	}
}

// Typical analog characteristics.
const (
	VREFINTVolts = 1.21
	TempV25      = 0.76   // sensor output at 25 °C
	TempSlope    = 0.0025 // V/°C
)

// full returns the full-scale code of the configured resolution.
func (a *ADC) full() float64 { return float64(uint32(1)<<(12-2*a.cfg.Resolution) - 1) }

// raw undoes left alignment.
func (a *ADC) raw(code uint16) float64 {
	if a.cfg.LeftAlign {
		shift := 4 + 2*uint(a.cfg.Resolution)
		if a.cfg.Resolution == Bits6 {
			shift = 2
		}
		return float64(code >> shift)
	}
	return float64(code)
}

// VDDA returns the analog supply computed from a VREFINT result.
func (a *ADC) VDDA(vref uint16) float64 {
	r := a.raw(vref)
	if r == 0 {
		return 0
	}
	return VREFINTVolts * a.full() / r
}

// Volts converts a result to volts for supply vdda.
func (a *ADC) Volts(code uint16, vdda float64) float64 { return a.raw(code) * vdda / a.full() }

// Celsius converts a temperature sensor result for supply vdda.
func (a *ADC) Celsius(code uint16, vdda float64) float64 {
	return (a.Volts(code, vdda)-TempV25)/TempSlope + 25
}
