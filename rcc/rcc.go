package rcc

import (
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
)

// RCC_CR bits.
const (
	crHSION  = 1 << 0
	crHSIRDY = 1 << 1
	crHSEON  = 1 << 16
	crHSERDY = 1 << 17
	crHSEBYP = 1 << 18
	crPLLON  = 1 << 24
	crPLLRDY = 1 << 25
)

// RCC_CFGR fields.
var (
	cfgrSW     = mmio.Field[uint32]{Pos: 0, Width: 2}
	cfgrSWS    = mmio.Field[uint32]{Pos: 2, Width: 2}
	cfgrHPRE   = mmio.Field[uint32]{Pos: 4, Width: 4}
	cfgrPPRE1  = mmio.Field[uint32]{Pos: 10, Width: 3}
	cfgrPPRE2  = mmio.Field[uint32]{Pos: 13, Width: 3}
	cfgrRTCPRE = mmio.Field[uint32]{Pos: 16, Width: 5}
	cfgrMCO1   = mmio.Field[uint32]{Pos: 21, Width: 2}
	cfgrMCO1PR = mmio.Field[uint32]{Pos: 24, Width: 3}
	cfgrMCO2PR = mmio.Field[uint32]{Pos: 27, Width: 3}
	cfgrMCO2   = mmio.Field[uint32]{Pos: 30, Width: 2}
)

const (
	pllcfgrSrcHSE = 1 << 22
	dckTIMPRE     = 1 << 24

	bdcrLSEON  = 1 << 0
	bdcrLSERDY = 1 << 1
	bdcrLSEBYP = 1 << 2
	bdcrRTCEN  = 1 << 15
	bdcrBDRST  = 1 << 16

	csrLSION  = 1 << 0
	csrLSIRDY = 1 << 1
	csrRMVF   = 1 << 24
)

// PWR and FLASH registers touched during clock configuration.
const (
	pwrCR     = 0x00
	pwrCSR    = 0x04
	pwrDBP    = 1 << 8
	pwrVOSRDY = 1 << 14

	flashACR   = 0x00
	acrPRFTEN  = 1 << 8
	acrICEN    = 1 << 9
	acrDCEN    = 1 << 10
	acrLatency = 0xF
)

var pwrVOS = mmio.Field[uint32]{Pos: 14, Width: 2}

func regs(m *chip.MCU) mmio.Block { return m.At(chip.RCCBase) }

// wait polls cond at most spin times.
func wait(spin int, cond func() bool) bool {
	for i := 0; i < spin; i++ {
		if cond() {
			return true
		}
	}
	return false
}

// Enable switches on the clock of p. The register is read back so the
// peripheral is clocked before the first access that follows.
func Enable(m *chip.MCU, p chip.Periph) {
	b := p.Bus()
	if b == chip.BusNone {
		return
	}
	r := regs(m).R32(b.ENR())
	r.SetBits(p.Mask())
	_ = r.Get()
}

// Disable switches off the clock of p.
func Disable(m *chip.MCU, p chip.Periph) {
	if b := p.Bus(); b != chip.BusNone {
		regs(m).R32(b.ENR()).ClearBits(p.Mask())
	}
}

// Enabled reports whether the clock of p is on.
func Enabled(m *chip.MCU, p chip.Periph) bool {
	b := p.Bus()
	return b == chip.BusNone || regs(m).R32(b.ENR()).HasBits(p.Mask())
}

// Reset pulses the reset line of p, returning its registers to their reset
// values.
func Reset(m *chip.MCU, p chip.Periph) {
	b := p.Bus()
	if b == chip.BusNone {
		return
	}
	r := regs(m).R32(b.RSTR())
	r.SetBits(p.Mask())
	r.ClearBits(p.Mask())
}

// Configure applies p. On success the frozen frequencies are recorded in
// m and returned.
func Configure(m *chip.MCU, p Plan) (chip.Clocks, error) {
	s, err := Validate(p)
	if err != nil {
		pkg.LogError(pkg.ComponentRCC, "invalid clock plan", "err", err)
		return chip.Clocks{}, err
	}
	p = s.Plan
	r := regs(m)
	cr := r.R32(chip.RCCCR)
	cfgr := r.R32(chip.RCCCFGR)
	acr := m.At(chip.FlashBase).R32(flashACR)

	// Leave the PLL before touching anything it feeds.
	if cfgrSWS.Read(cfgr) == uint32(PLL) {
		if err := startHSI(m); err != nil {
			return chip.Clocks{}, err
		}
		if err := switchTo(m, HSI); err != nil {
			return chip.Clocks{}, err
		}
	}

	Enable(m, chip.PWR)
	pwr := m.At(chip.PWRBase).R32(pwrCR)
	pwrVOS.Write(pwr, s.VOS)

	// fail turns off the oscillators this call started so that a timeout
	// leaves nothing running that the old configuration did not use.
	startedHSE, startedPLL := false, false
	fail := func(err error) (chip.Clocks, error) {
		if src := SysClkSource(m); (startedPLL && src == PLL) || (startedHSE && src == HSE) {
			_ = switchTo(m, HSI)
		}
		if startedPLL {
			cr.ClearBits(crPLLON)
		}
		if startedHSE {
			cr.ClearBits(crHSEON)
		}
		return chip.Clocks{}, err
	}
	needHSE := p.SysClk == HSE || (p.SysClk == PLL && p.PLL.Source == HSE) || p.RTCPrescaler != 0
	if needHSE && !cr.HasBits(crHSERDY) {
		if p.HSEBypass {
			cr.SetBits(crHSEBYP)
		} else {
			cr.ClearBits(crHSEBYP)
		}
		cr.SetBits(crHSEON)
		startedHSE = true
		if !wait(m.Spin, func() bool { return cr.HasBits(crHSERDY) }) {
			pkg.LogError(pkg.ComponentRCC, "HSE not ready", "hse", p.HSE)
			return fail(pkg.ErrClockNotReady)
		}
	}
	if p.SysClk == HSI || (p.SysClk == PLL && p.PLL.Source == HSI) {
		if err := startHSI(m); err != nil {
			return fail(err)
		}
	}

	if p.SysClk == PLL {
		cr.ClearBits(crPLLON)
		if !wait(m.Spin, func() bool { return !cr.HasBits(crPLLRDY) }) {
			pkg.LogError(pkg.ComponentRCC, "PLL did not stop")
			return fail(pkg.ErrClockNotReady)
		}
		v := p.PLL.M | p.PLL.N<<6 | (p.PLL.P/2-1)<<16 | p.PLL.Q<<24
		if p.PLL.Source == HSE {
			v |= pllcfgrSrcHSE
		}
		r.R32(chip.RCCPLLCFGR).Set(v)
		cr.SetBits(crPLLON)
		startedPLL = true
		if !wait(m.Spin, func() bool { return cr.HasBits(crPLLRDY) }) {
			pkg.LogError(pkg.ComponentRCC, "PLL did not lock")
			return fail(pkg.ErrClockNotReady)
		}
	}

	c := cfgr.Get()
	c = cfgrHPRE.Put(c, hpre[p.AHB])
	c = cfgrPPRE1.Put(c, ppre[p.APB1])
	c = cfgrPPRE2.Put(c, ppre[p.APB2])
	if p.RTCPrescaler != 0 {
		c = cfgrRTCPRE.Put(c, uint32(p.RTCPrescaler))
	}
	cfgr.Set(c)
	dck := r.R32(chip.RCCDCKCFGR)
	if p.TimerPrescalerX4 {
		dck.SetBits(dckTIMPRE)
	} else {
		dck.ClearBits(dckTIMPRE)
	}

	a := s.Latency
	if p.Caches {
		a |= acrPRFTEN | acrICEN | acrDCEN
	}
	if cur := acr.Get() & acrLatency; s.Latency > cur {
		acr.Set(a)
		if acr.Get()&acrLatency != s.Latency {
			return fail(pkg.ErrClockNotReady)
		}
	}

	if err := switchTo(m, p.SysClk); err != nil {
		return fail(err)
	}
	if p.SysClk == PLL {
		csr := m.At(chip.PWRBase).R32(pwrCSR)
		if !wait(m.Spin, func() bool { return csr.HasBits(pwrVOSRDY) }) {
			pkg.LogError(pkg.ComponentRCC, "regulator scale not ready")
			return fail(pkg.ErrClockNotReady)
		}
	}
	acr.Set(a)

	if p.MCO1 != nil || p.MCO2 != nil {
		c = cfgr.Get()
		if p.MCO1 != nil {
			c = cfgrMCO1.Put(c, uint32(p.MCO1.Source))
			c = cfgrMCO1PR.Put(c, mcoPrescaler(p.MCO1.Div))
		}
		if p.MCO2 != nil {
			c = cfgrMCO2.Put(c, uint32(p.MCO2.Source))
			c = cfgrMCO2PR.Put(c, mcoPrescaler(p.MCO2.Div))
		}
		cfgr.Set(c)
	}

	m.SetClocks(s.Clocks)
	pkg.LogInfo(pkg.ComponentRCC, "clocks configured",
		"sysclk", s.Clocks.SYSCLK, "hclk", s.Clocks.HCLK,
		"pclk1", s.Clocks.PCLK1, "pclk2", s.Clocks.PCLK2,
		"latency", s.Latency, "scale", p.Scale)
	return s.Clocks, nil
}

// mcoPrescaler encodes a 1..5 divider as MCOxPRE.
func mcoPrescaler(d uint8) uint32 {
	if d <= 1 {
		return 0
	}
	return uint32(d) + 2
}

func startHSI(m *chip.MCU) error {
	cr := regs(m).R32(chip.RCCCR)
	if cr.HasBits(crHSIRDY) {
		return nil
	}
	cr.SetBits(crHSION)
	if !wait(m.Spin, func() bool { return cr.HasBits(crHSIRDY) }) {
		return pkg.ErrClockNotReady
	}
	return nil
}

// switchTo selects src as SYSCLK. On timeout SW goes back to the source
// SYSCLK still runs from.
func switchTo(m *chip.MCU, src Source) error {
	cfgr := regs(m).R32(chip.RCCCFGR)
	cfgrSW.Write(cfgr, uint32(src))
	if !wait(m.Spin, func() bool { return cfgrSWS.Read(cfgr) == uint32(src) }) {
		cfgrSW.Write(cfgr, cfgrSWS.Read(cfgr))
		pkg.LogError(pkg.ComponentRCC, "SYSCLK switch timed out", "source", src)
		return pkg.ErrClockNotReady
	}
	return nil
}

// SysClkSource returns the source SYSCLK currently runs from.
func SysClkSource(m *chip.MCU) Source {
	return Source(cfgrSWS.Read(regs(m).R32(chip.RCCCFGR)))
}

// RTCSource selects the RTC kernel clock.
type RTCSource uint8

// RTC clock sources. The values match BDCR.RTCSEL.
const (
	RTCNone RTCSource = iota
	RTCLSE
	RTCLSI
	RTCHSE
)

var bdcrRTCSEL = mmio.Field[uint32]{Pos: 8, Width: 2}

// UnlockBackup enables writes to the backup domain.
func UnlockBackup(m *chip.MCU) {
	Enable(m, chip.PWR)
	m.At(chip.PWRBase).R32(pwrCR).SetBits(pwrDBP)
}

// LockBackup write-protects the backup domain again.
func LockBackup(m *chip.MCU) {
	m.At(chip.PWRBase).R32(pwrCR).ClearBits(pwrDBP)
}

// StartLSI starts the internal 32 kHz oscillator.
func StartLSI(m *chip.MCU) error {
	csr := regs(m).R32(chip.RCCCSR)
	csr.SetBits(csrLSION)
	if !wait(m.Spin, func() bool { return csr.HasBits(csrLSIRDY) }) {
		csr.ClearBits(csrLSION)
		return pkg.ErrClockNotReady
	}
	return nil
}

// StartLSE starts the 32.768 kHz crystal. The backup domain must be
// unlocked. LSE start-up takes far longer than the other oscillators, so
// the wait budget is spin.
func StartLSE(m *chip.MCU, bypass bool, spin int) error {
	bdcr := regs(m).R32(chip.RCCBDCR)
	if bypass {
		bdcr.SetBits(bdcrLSEBYP)
	}
	bdcr.SetBits(bdcrLSEON)
	if !wait(spin, func() bool { return bdcr.HasBits(bdcrLSERDY) }) {
		bdcr.ClearBits(bdcrLSEON)
		pkg.LogError(pkg.ComponentRCC, "LSE not ready")
		return pkg.ErrClockNotReady
	}
	return nil
}

// SelectRTCClock routes src to the RTC and enables it. RTCSEL can only be
// changed once per backup domain reset; if a different source is already
// selected the domain is reset first, which clears the backup registers.
func SelectRTCClock(m *chip.MCU, src RTCSource) {
	bdcr := regs(m).R32(chip.RCCBDCR)
	v := bdcr.Get()
	if cur := bdcrRTCSEL.Get(v); cur != 0 && cur != uint32(src) {
		pkg.LogWarn(pkg.ComponentRCC, "resetting backup domain to change RTC clock", "from", cur, "to", src)
		bdcr.Set(bdcrBDRST)
		bdcr.Set(0)
		v = v & (bdcrLSEON | bdcrLSEBYP)
		bdcr.Set(v)
	}
	v = bdcr.Get()
	v = bdcrRTCSEL.Put(v, uint32(src)) | bdcrRTCEN
	bdcr.Set(v)
}

// ResetFlags returns the reset cause flags of RCC_CSR (bits 25..31) and
// clears them.
func ResetFlags(m *chip.MCU) uint32 {
	csr := regs(m).R32(chip.RCCCSR)
	f := csr.Get() & 0xFE00_0000
	csr.SetBits(csrRMVF)
	return f
}

// Current derives the clocks from the RCC registers as they stand, for use
// after the hardware changed the tree behind the driver's back (leaving
// Stop mode selects HSI and stops the PLL). HSE keeps the frequency
// recorded by the last Configure.
func Current(m *chip.MCU) chip.Clocks {
	r := regs(m)
	cfgr := r.R32(chip.RCCCFGR).Get()
	old := m.Clocks()
	c := chip.Clocks{HSE: old.HSE, RTCCLK: old.RTCCLK, Scale: old.Scale}
	in := chip.HSIFrequency
	pll := r.R32(chip.RCCPLLCFGR).Get()
	if pll&pllcfgrSrcHSE != 0 {
		in = old.HSE
	}
	var vco physic.Frequency
	if mdiv := int64(pll & 0x3F); mdiv >= 2 && r.R32(chip.RCCCR).HasBits(crPLLRDY) {
		vco = physic.Frequency(int64(in) / mdiv * int64(pll>>6&0x1FF))
		if q := int64(pll >> 24 & 0xF); q >= 2 {
			c.PLL48 = div(vco, q)
		}
	}
	switch Source(cfgrSWS.Get(cfgr)) {
	case HSI:
		c.SYSCLK = chip.HSIFrequency
	case HSE:
		c.SYSCLK = old.HSE
	case PLL:
		c.SYSCLK = div(vco, int64(pll>>16&3+1)*2)
	}
	for d, code := range hpre {
		if code == cfgrHPRE.Get(cfgr) || (code == 0 && cfgrHPRE.Get(cfgr) < 8) {
			c.HCLK = div(c.SYSCLK, int64(d))
			break
		}
	}
	x4 := r.R32(chip.RCCDCKCFGR).HasBits(dckTIMPRE)
	for d, code := range ppre {
		if code == cfgrPPRE1.Get(cfgr) || (code == 0 && cfgrPPRE1.Get(cfgr) < 4) {
			c.PCLK1, c.TIMCLK1 = div(c.HCLK, int64(d)), timerClock(c.HCLK, d, x4)
		}
		if code == cfgrPPRE2.Get(cfgr) || (code == 0 && cfgrPPRE2.Get(cfgr) < 4) {
			c.PCLK2, c.TIMCLK2 = div(c.HCLK, int64(d)), timerClock(c.HCLK, d, x4)
		}
	}
	return c
}
