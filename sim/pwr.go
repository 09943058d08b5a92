package sim

import (
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/pkg"
)

// PWR bits.
const (
	pwrLPDS  = 1 << 0
	pwrPDDS  = 1 << 1
	pwrCWUF  = 1 << 2
	pwrCSBF  = 1 << 3
	pwrDBP   = 1 << 8
	pwrVOS   = 3 << 14
	pwrCRRst = 2 << 14

	pwrWUF    = 1 << 0
	pwrSBF    = 1 << 1
	pwrBRR    = 1 << 3
	pwrEWUP   = 1 << 8
	pwrBRE    = 1 << 9
	pwrVOSRDY = 1 << 14
)

type pwrModel struct {
	m          *Machine
	cr, csr    uint32
	standby    bool
	woken      bool
	violations int
	vos        *event
}

func (p *pwrModel) reset(fromStandby bool) {
	p.m.cancel(p.vos)
	p.vos = nil
	p.cr = pwrCRRst
	p.csr &^= pwrVOSRDY
	if fromStandby {
		p.csr |= pwrSBF | pwrWUF
	}
}

func (p *pwrModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x0:
		return p.cr
	case 0x4:
		return p.csr
	}
	return 0
}

func (p *pwrModel) write(off uint32, _ int, v uint32) {
	switch off {
	case 0x0:
		if v&pwrCWUF != 0 {
			p.csr &^= pwrWUF
		}
		if v&pwrCSBF != 0 {
			p.csr &^= pwrSBF
		}
		p.cr = v &^ (pwrCWUF | pwrCSBF)
		if p.cr&pwrVOS == 0 {
			p.cr |= 1 << 14
		}
		p.check(p.m.rcc.sysclk())
	case 0x4:
		p.csr = p.csr&^(pwrEWUP|pwrBRE) | v&(pwrEWUP|pwrBRE)
		if v&pwrBRE != 0 {
			p.csr |= pwrBRR
		}
	}
}

func (p *pwrModel) backupWritable() bool { return p.cr&pwrDBP != 0 }

// VOS takes effect when the PLL locks.
func (p *pwrModel) pllLocked() {
	p.m.cancel(p.vos)
	p.vos = p.m.schedule(ps(vosSettle), func() { p.csr |= pwrVOSRDY })
}

func (p *pwrModel) pllOff() {
	p.m.cancel(p.vos)
	p.vos = nil
	p.csr &^= pwrVOSRDY
}

// scaleMax is the SYSCLK limit of each VOS field value.
var scaleMax = [4]physic.Frequency{0, 64 * physic.MegaHertz, 84 * physic.MegaHertz, 100 * physic.MegaHertz}

func (p *pwrModel) check(sysclk physic.Frequency) {
	if sysclk > scaleMax[p.cr>>14&3] {
		p.violations++
		pkg.LogWarn(pkg.ComponentSim, "SYSCLK above regulator scale limit", "sysclk", sysclk, "vos", p.cr>>14&3)
	}
}

// wakeupPin is called on a rising edge of PA0.
func (p *pwrModel) wakeupPin() {
	if p.standby && p.csr&pwrEWUP != 0 {
		p.woken = true
	}
}

// rtcWake is called when an enabled RTC alarm or wake-up event fires.
func (p *pwrModel) rtcWake() {
	if p.standby {
		p.woken = true
	}
}

// Standby reports whether the machine is in Standby mode.
func (m *Machine) Standby() bool { return m.pwr.standby }

// PWRFlags returns PWR_CSR.
func (m *Machine) PWRFlags() uint32 { return m.pwr.csr }
