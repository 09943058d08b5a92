package sim

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// RCC bits used by the model.
const (
	crHSION    = 1 << 0
	crHSIRDY   = 1 << 1
	crHSEON    = 1 << 16
	crHSERDY   = 1 << 17
	crHSEBYP   = 1 << 18
	crPLLON    = 1 << 24
	crPLLRDY   = 1 << 25
	crResetV   = 0x0000_0083
	pllReset   = 0x2400_3010
	bdcrLSEON  = 1 << 0
	bdcrLSERDY = 1 << 1
	bdcrRTCEN  = 1 << 15
	bdcrBDRST  = 1 << 16

	csrLSION    = 1 << 0
	csrLSIRDY   = 1 << 1
	csrRMVF     = 1 << 24
	csrBORRSTF  = 1 << 25
	csrPINRSTF  = 1 << 26
	csrPORRSTF  = 1 << 27
	csrSFTRSTF  = 1 << 28
	csrIWDGRSTF = 1 << 29
	csrWWDGRSTF = 1 << 30
	csrLPWRRSTF = 1 << 31

	dckTIMPRE = 1 << 24
)

// Oscillator and PLL settling times.
const (
	hsiStartup = 2 * time.Microsecond
	lsiStartup = 40 * time.Microsecond
	lseStartup = 10 * time.Millisecond
	pllLock    = 50 * time.Microsecond
	vosSettle  = 10 * time.Microsecond
)

func resetFlag(c ResetCause) uint32 {
	switch c {
	case ResetSoftware:
		return csrSFTRSTF
	case ResetIWDG:
		return csrIWDGRSTF
	case ResetWWDG:
		return csrWWDGRSTF
	case ResetLowPower:
		return csrLPWRRSTF
	}
	return 0
}

type rccModel struct {
	m *Machine

	cr, pllcfgr, cfgr uint32
	rstr, enr         [5]uint32 // indexed by chip.Bus-1
	bdcr, csr         uint32
	dckcfgr           uint32
	pending           [4]*event // HSI, HSE, PLL, SWS

	hclkPeriod int64
}

func newRCC(m *Machine) *rccModel {
	r := &rccModel{m: m}
	r.reset()
	return r
}

func (r *rccModel) reset() {
	for _, e := range r.pending {
		r.m.cancel(e)
	}
	*r = rccModel{m: r.m, cr: crResetV, pllcfgr: pllReset, bdcr: r.bdcr, csr: r.csr}
	r.hclkPeriod = period(chip.HSIFrequency)
}

func busIndex(off uint32, base uint32) (int, bool) {
	i := int(off-base) / 4
	return i, off >= base && i <= 5 && i != 3 // 0x1C and 0x3C are reserved
}

// bus maps register slots 0..4 to AHB1, AHB2, AHB3, APB1, APB2.
func slotBus(i int) int {
	if i < 3 {
		return i
	}
	return i - 1
}

func (r *rccModel) enabled(p chip.Periph) bool {
	b := p.Bus()
	if b == chip.BusNone {
		return true
	}
	return r.enr[b-1]&p.Mask() != 0
}

func (r *rccModel) read(off uint32, _ int) uint32 {
	switch {
	case off == chip.RCCCR:
		return r.cr
	case off == chip.RCCPLLCFGR:
		return r.pllcfgr
	case off == chip.RCCCFGR:
		return r.cfgr
	case off >= chip.RCCAHB1RSTR && off <= chip.RCCAPB2RSTR:
		if i, ok := busIndex(off, chip.RCCAHB1RSTR); ok {
			return r.rstr[slotBus(i)]
		}
	case off >= chip.RCCAHB1ENR && off <= chip.RCCAPB2ENR:
		if i, ok := busIndex(off, chip.RCCAHB1ENR); ok {
			return r.enr[slotBus(i)]
		}
	case off == chip.RCCBDCR:
		return r.bdcr
	case off == chip.RCCCSR:
		return r.csr
	case off == chip.RCCDCKCFGR:
		return r.dckcfgr
	}
	return 0
}

func (r *rccModel) write(off uint32, _ int, v uint32) {
	switch {
	case off == chip.RCCCR:
		r.writeCR(v)
	case off == chip.RCCPLLCFGR:
		if r.cr&crPLLON != 0 {
			pkg.LogWarn(pkg.ComponentSim, "PLLCFGR written while PLL is on; ignored")
			return
		}
		r.pllcfgr = v & 0x0F43_7FFF
	case off == chip.RCCCFGR:
		r.writeCFGR(v)
	case off >= chip.RCCAHB1RSTR && off <= chip.RCCAPB2RSTR:
		if i, ok := busIndex(off, chip.RCCAHB1RSTR); ok {
			b := slotBus(i)
			rise := v &^ r.rstr[b]
			r.rstr[b] = v
			r.resetPeriphs(chip.Bus(b+1), rise)
		}
	case off >= chip.RCCAHB1ENR && off <= chip.RCCAPB2ENR:
		if i, ok := busIndex(off, chip.RCCAHB1ENR); ok {
			r.enr[slotBus(i)] = v
		}
	case off == chip.RCCBDCR:
		r.writeBDCR(v)
	case off == chip.RCCCSR:
		r.writeCSR(v)
	case off == chip.RCCDCKCFGR:
		r.dckcfgr = v
		r.changed()
	}
}

func (r *rccModel) writeCR(v uint32) {
	const rw = crHSION | crHSEON | crHSEBYP | crPLLON | 0xF8
	old := r.cr
	r.cr = r.cr&^rw | v&rw

	// A source feeding SYSCLK or the PLL in use cannot be stopped.
	sws := (r.cfgr >> 2) & 3
	if sws == 0 || (sws == 2 && r.pllcfgr&(1<<22) == 0) {
		r.cr |= crHSION
	}
	if sws == 1 || (sws == 2 && r.pllcfgr&(1<<22) != 0 && old&crPLLON != 0) {
		r.cr |= crHSEON & old
	}
	if sws == 2 {
		r.cr |= crPLLON & old
	}

	on := r.cr &^ old
	off := old &^ r.cr
	if on&crHSION != 0 {
		r.pending[0] = r.m.schedule(ps(hsiStartup), func() { r.cr |= crHSIRDY; r.kick() })
	}
	if off&crHSION != 0 {
		r.m.cancel(r.pending[0])
		r.cr &^= crHSIRDY
	}
	if on&crHSEON != 0 && r.m.hse != 0 {
		d := r.m.hseStartup
		if r.cr&crHSEBYP != 0 {
			d = ps(time.Microsecond)
		}
		r.pending[1] = r.m.schedule(d, func() { r.cr |= crHSERDY; r.kick() })
	}
	if off&crHSEON != 0 {
		r.m.cancel(r.pending[1])
		r.cr &^= crHSERDY
	}
	if on&crPLLON != 0 {
		r.lockPLL()
	}
	if off&crPLLON != 0 {
		r.m.cancel(r.pending[2])
		r.cr &^= crPLLRDY
		r.m.pwr.pllOff()
	}
}

// lockPLL asserts PLLRDY once the PLL input is running.
func (r *rccModel) lockPLL() {
	r.m.cancel(r.pending[2])
	r.pending[2] = r.m.schedule(ps(pllLock), r.pllLocked)
}

func (r *rccModel) pllLocked() {
	if r.cr&crPLLON == 0 {
		return
	}
	src := uint32(crHSIRDY)
	if r.pllcfgr&(1<<22) != 0 {
		src = crHSERDY
	}
	if r.cr&src == 0 {
		r.pending[2] = r.m.schedule(ps(pllLock), r.pllLocked)
		return
	}
	r.cr |= crPLLRDY
	r.m.pwr.pllLocked()
	r.kick()
}

// kick completes a pending SYSCLK switch once its source is ready.
func (r *rccModel) kick() {
	sw := r.cfgr & 3
	if (r.cfgr>>2)&3 == sw || !r.sourceReady(sw) {
		return
	}
	r.m.cancel(r.pending[3])
	r.pending[3] = r.m.schedule(2*r.hclkPeriod, func() {
		if !r.sourceReady(sw) || r.cfgr&3 != sw {
			return
		}
		r.cfgr = r.cfgr&^(3<<2) | sw<<2
		r.changed()
	})
}

func (r *rccModel) sourceReady(sw uint32) bool {
	switch sw {
	case 0:
		return r.cr&crHSIRDY != 0
	case 1:
		return r.cr&crHSERDY != 0
	case 2:
		return r.cr&crPLLRDY != 0
	}
	return false
}

func (r *rccModel) writeCFGR(v uint32) {
	r.cfgr = r.cfgr&(3<<2) | v&^(3<<2)
	r.changed()
	r.kick()
}

func (r *rccModel) writeBDCR(v uint32) {
	if !r.m.pwr.backupWritable() {
		return
	}
	if v&bdcrBDRST != 0 {
		r.bdcr = bdcrBDRST
		r.m.rtc.backupReset()
		return
	}
	old := r.bdcr
	r.bdcr = v&^bdcrLSERDY | old&bdcrLSERDY
	if v&bdcrLSEON != 0 && old&bdcrLSEON == 0 && r.m.lse {
		r.m.schedule(ps(lseStartup), func() {
			if r.bdcr&bdcrLSEON != 0 {
				r.bdcr |= bdcrLSERDY
				r.m.rtc.retime()
			}
		})
	}
	if v&bdcrLSEON == 0 {
		r.bdcr &^= bdcrLSERDY
	}
	r.m.rtc.retime()
}

func (r *rccModel) writeCSR(v uint32) {
	if v&csrRMVF != 0 {
		r.csr &^= 0xFE00_0000
	}
	old := r.csr
	r.csr = r.csr&^csrLSION | v&csrLSION
	if v&csrLSION != 0 && old&csrLSION == 0 {
		r.m.schedule(ps(lsiStartup), func() {
			if r.csr&csrLSION != 0 {
				r.csr |= csrLSIRDY
				r.m.rtc.retime()
			}
		})
	}
	if v&csrLSION == 0 && !r.m.iwdg.running {
		r.csr &^= csrLSIRDY
	}
}

// startLSI is used by the IWDG, which forces LSI on.
func (r *rccModel) startLSI() {
	if r.csr&csrLSION == 0 {
		r.csr |= csrLSION | csrLSIRDY
	}
}

func (r *rccModel) resetPeriphs(b chip.Bus, mask uint32) {
	for p := chip.Periph(0); int(p) < chip.NumPeriph; p++ {
		if p.Bus() == b && mask&p.Mask() != 0 {
			r.m.resetPeriph(p)
		}
	}
}

func (r *rccModel) enterStop() {}

// exitStop leaves Stop mode on HSI with the PLL and HSE stopped.
func (r *rccModel) exitStop() {
	for _, e := range r.pending[1:] {
		r.m.cancel(e)
	}
	r.cr = r.cr&^(crHSEON|crHSERDY|crPLLON|crPLLRDY) | crHSION | crHSIRDY
	r.cfgr &^= 0xF
	r.m.pwr.pllOff()
	r.changed()
}

var ahbDiv = [16]int64{1, 1, 1, 1, 1, 1, 1, 1, 2, 4, 8, 16, 64, 128, 256, 512}
var apbDiv = [8]int64{1, 1, 1, 1, 2, 4, 8, 16}

func (r *rccModel) pllInput() physic.Frequency {
	if r.pllcfgr&(1<<22) != 0 {
		return r.m.hse
	}
	return chip.HSIFrequency
}

func (r *rccModel) vco() physic.Frequency {
	mDiv := int64(r.pllcfgr & 0x3F)
	n := int64(r.pllcfgr >> 6 & 0x1FF)
	if mDiv == 0 {
		return 0
	}
	return physic.Frequency(int64(r.pllInput()) / mDiv * n)
}

func (r *rccModel) sysclk() physic.Frequency {
	switch (r.cfgr >> 2) & 3 {
	case 1:
		return r.m.hse
	case 2:
		p := int64(r.pllcfgr>>16&3)*2 + 2
		return physic.Frequency(int64(r.vco()) / p)
	}
	return chip.HSIFrequency
}

func (r *rccModel) hclk() physic.Frequency {
	return physic.Frequency(int64(r.sysclk()) / ahbDiv[r.cfgr>>4&0xF])
}

func (r *rccModel) pclk(b chip.Bus) physic.Frequency {
	switch b {
	case chip.APB1:
		return physic.Frequency(int64(r.hclk()) / apbDiv[r.cfgr>>10&7])
	case chip.APB2:
		return physic.Frequency(int64(r.hclk()) / apbDiv[r.cfgr>>13&7])
	}
	return r.hclk()
}

func (r *rccModel) timclk(b chip.Bus) physic.Frequency {
	div := apbDiv[r.cfgr>>10&7]
	if b == chip.APB2 {
		div = apbDiv[r.cfgr>>13&7]
	}
	switch {
	case div == 1:
		return r.hclk()
	case r.dckcfgr&dckTIMPRE != 0 && div >= 4:
		return physic.Frequency(int64(r.hclk()) * 4 / div)
	}
	return physic.Frequency(int64(r.hclk()) * 2 / div)
}

func (r *rccModel) pll48() physic.Frequency {
	q := int64(r.pllcfgr >> 24 & 0xF)
	if q < 2 || r.cr&crPLLRDY == 0 {
		return 0
	}
	return physic.Frequency(int64(r.vco()) / q)
}

// rtcclk returns the clock selected by BDCR.RTCSEL, or 0 if it is stopped.
func (r *rccModel) rtcclk() physic.Frequency {
	switch r.bdcr >> 8 & 3 {
	case 1:
		if r.bdcr&bdcrLSERDY != 0 {
			return chip.LSEFrequency
		}
	case 2:
		if r.csr&csrLSIRDY != 0 {
			return chip.LSIFrequency
		}
	case 3:
		pre := int64(r.cfgr >> 16 & 0x1F)
		if pre >= 2 && r.cr&crHSERDY != 0 {
			return physic.Frequency(int64(r.m.hse) / pre)
		}
	}
	return 0
}

// changed recomputes the bus clocks and retimes every clocked model.
func (r *rccModel) changed() {
	h := r.hclk()
	r.hclkPeriod = period(h)
	r.m.fif.check(h)
	r.m.pwr.check(r.sysclk())
	if r.m.systick != nil {
		r.m.systick.retime()
	}
	for _, t := range r.m.tims {
		t.retime()
	}
	if r.m.rtc != nil {
		r.m.rtc.retime()
	}
}

// Clock accessors for tests.

// SYSCLK returns the current system clock.
func (m *Machine) SYSCLK() physic.Frequency { return m.rcc.sysclk() }

// HCLK returns the current AHB clock.
func (m *Machine) HCLK() physic.Frequency { return m.rcc.hclk() }

// PCLK1 returns the current APB1 clock.
func (m *Machine) PCLK1() physic.Frequency { return m.rcc.pclk(chip.APB1) }

// PCLK2 returns the current APB2 clock.
func (m *Machine) PCLK2() physic.Frequency { return m.rcc.pclk(chip.APB2) }

// PLL48 returns the PLL 48 MHz-domain output, or 0 when the PLL is stopped.
func (m *Machine) PLL48() physic.Frequency { return m.rcc.pll48() }

// MCO returns the frequency driven on MCO1 (n=1) or MCO2 (n=2).
func (m *Machine) MCO(n int) physic.Frequency {
	r := m.rcc
	var src physic.Frequency
	var pre uint32
	if n == 1 {
		switch r.cfgr >> 21 & 3 {
		case 0:
			src = chip.HSIFrequency
		case 1:
			src = chip.LSEFrequency
		case 2:
			src = m.hse
		case 3:
			src = physic.Frequency(int64(r.vco()) / (int64(r.pllcfgr>>16&3)*2 + 2))
		}
		pre = r.cfgr >> 24 & 7
	} else {
		switch r.cfgr >> 30 & 3 {
		case 0:
			src = r.sysclk()
		case 2:
			src = m.hse
		case 3:
			src = physic.Frequency(int64(r.vco()) / (int64(r.pllcfgr>>16&3)*2 + 2))
		}
		pre = r.cfgr >> 27 & 7
	}
	if pre >= 4 {
		return physic.Frequency(int64(src) / int64(pre-2))
	}
	return src
}

// resetPeriph returns a peripheral model to its reset state.
func (m *Machine) resetPeriph(p chip.Periph) {
	switch {
	case p <= chip.GPIOH:
		m.gpio.resetPort(chip.Port(p - chip.GPIOA))
	case p == chip.SYSCFG:
		m.syscfg.reset()
	case p == chip.CRC:
		m.crc.dr = 0xFFFF_FFFF
	case p == chip.DMA1 || p == chip.DMA2:
		m.dmas[p-chip.DMA1].reset()
	case p == chip.RNG:
		m.rng.reset()
	case p == chip.OTGFS:
		m.otg.reset()
	case p == chip.QSPI:
		m.qspi.reset()
	case p == chip.WWDG:
		m.wwdg.reset()
	case p == chip.ADC1:
		m.adc.reset()
	case p == chip.DAC:
		m.dac.reset()
	case p == chip.PWR:
		m.pwr.reset(false)
	}
	if t, ok := m.tims[p]; ok {
		t.reset()
	}
	if s, ok := m.spis[p]; ok {
		s.reset()
	}
	if c, ok := m.i2cs[p]; ok {
		c.reset()
	}
	if u, ok := m.usarts[p]; ok {
		u.reset()
	}
}

// flashIF models FLASH_ACR and flags HCLK frequencies its latency cannot
// sustain.
type flashIF struct {
	m          *Machine
	acr        uint32
	violations int
}

// maxHCLK per flash latency at 2.7 to 3.6 V.
var flashMax = [...]physic.Frequency{
	30 * physic.MegaHertz,
	64 * physic.MegaHertz,
	90 * physic.MegaHertz,
	100 * physic.MegaHertz,
}

func (f *flashIF) read(off uint32, _ int) uint32 {
	if off == 0 {
		return f.acr
	}
	return 0
}

func (f *flashIF) write(off uint32, _ int, v uint32) {
	if off != 0 {
		return
	}
	f.acr = v & (0xF | 1<<8 | 1<<9 | 1<<10)
	f.check(f.m.rcc.hclk())
}

func (f *flashIF) check(h physic.Frequency) {
	lat := f.acr & 0xF
	if int(lat) < len(flashMax) && h > flashMax[lat] {
		f.violations++
		pkg.LogWarn(pkg.ComponentSim, "HCLK too fast for flash latency", "hclk", h, "latency", lat)
	}
}

// FlashLatency returns FLASH_ACR.LATENCY.
func (m *Machine) FlashLatency() uint32 { return m.fif.acr & 0xF }

// FlashCaches reports the prefetch, instruction and data cache enables.
func (m *Machine) FlashCaches() (prefetch, icache, dcache bool) {
	a := m.fif.acr
	return a&(1<<8) != 0, a&(1<<9) != 0, a&(1<<10) != 0
}

// ClockViolations returns how many times HCLK exceeded the flash latency or
// regulator scale limits.
func (m *Machine) ClockViolations() int { return m.fif.violations + m.pwr.violations }

// dbgModel holds DBGMCU registers.
type dbgModel struct {
	cr, apb1, apb2 uint32
}

func (d *dbgModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x0:
		return 0x1000_6431
	case 0x4:
		return d.cr
	case 0x8:
		return d.apb1
	case 0xC:
		return d.apb2
	}
	return 0
}

func (d *dbgModel) write(off uint32, _ int, v uint32) {
	switch off {
	case 0x4:
		d.cr = v
	case 0x8:
		d.apb1 = v
	case 0xC:
		d.apb2 = v
	}
}

// DebugFreeze returns DBGMCU APB1_FZ and APB2_FZ.
func (m *Machine) DebugFreeze() (apb1, apb2 uint32) { return m.dbg.apb1, m.dbg.apb2 }
