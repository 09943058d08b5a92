package pwr

import (
	"strings"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// PWR registers.
const (
	regCR  = 0x00
	regCSR = 0x04

	crLPDS = 1 << 0
	crPDDS = 1 << 1
	crCWUF = 1 << 2 // write 1: clear WUF
	crCSBF = 1 << 3 // write 1: clear SBF
	crDBP  = 1 << 8

	csrWUF    = 1 << 0
	csrSBF    = 1 << 1
	csrEWUP   = 1 << 8
	csrVOSRDY = 1 << 14
)

var crVOS = mmio.Field[uint8]{Pos: 14, Width: 2}

// SCB system control register.
const (
	scbAIRCR       = 0xE000_ED0C
	scbSCR         = 0xE000_ED10
	scrSLEEPONEXIT = 1 << 1
	scrSLEEPDEEP   = 1 << 2
	scrSEVONPEND   = 1 << 4
)

func regs(m *chip.MCU) mmio.Block {
	rcc.Enable(m, chip.PWR)
	return m.At(chip.PWRBase)
}

// SetScale programs the regulator voltage scale (1 highest performance, 3
// lowest power). The new scale is reported ready only once the PLL runs.
func SetScale(m *chip.MCU, scale uint8) error {
	if scale < 1 || scale > 3 {
		return pkg.ErrOutOfRange
	}
	// VOS encodes scale 1 as 3 and scale 3 as 1.
	crVOS.Write(regs(m).R32(regCR), 4-scale)
	pkg.LogDebug(pkg.ComponentPWR, "regulator scale set", "scale", scale)
	return nil
}

// Scale returns the programmed regulator scale.
func Scale(m *chip.MCU) uint8 { return 4 - crVOS.Read(regs(m).R32(regCR)) }

// ScaleReady reports PWR_CSR.VOSRDY.
func ScaleReady(m *chip.MCU) bool { return regs(m).R32(regCSR).HasBits(csrVOSRDY) }

// EnableBackupAccess sets DBP so the RTC, the backup registers and
// RCC_BDCR accept writes.
func EnableBackupAccess(m *chip.MCU) { regs(m).R32(regCR).SetBits(crDBP) }

// DisableBackupAccess clears DBP.
func DisableBackupAccess(m *chip.MCU) { regs(m).R32(regCR).ClearBits(crDBP) }

// SleepOnExit makes the core return to sleep whenever an interrupt handler
// exits to thread mode.
func SleepOnExit(m *chip.MCU, on bool) {
	scr := mmio.NewRegister32(m.Bus, scbSCR)
	if on {
		scr.SetBits(scrSLEEPONEXIT)
	} else {
		scr.ClearBits(scrSLEEPONEXIT)
	}
}

// WakeOnPending sets SEVONPEND: a newly pending interrupt wakes WFE even
// when it is disabled in the NVIC.
func WakeOnPending(m *chip.MCU, on bool) {
	scr := mmio.NewRegister32(m.Bus, scbSCR)
	if on {
		scr.SetBits(scrSEVONPEND)
	} else {
		scr.ClearBits(scrSEVONPEND)
	}
}

// Sleep waits for an interrupt in Sleep mode.
func Sleep(m *chip.MCU) {
	mmio.NewRegister32(m.Bus, scbSCR).ClearBits(scrSLEEPDEEP)
	m.Core.WaitForInterrupt()
}

// SleepUntilEvent waits for an event in Sleep mode.
func SleepUntilEvent(m *chip.MCU) {
	mmio.NewRegister32(m.Bus, scbSCR).ClearBits(scrSLEEPDEEP)
	m.Core.WaitForEvent()
}

// Stop enters Stop mode and returns after an EXTI wake-up. With
// lowPowerRegulator set the regulator runs in low-power mode, which
// lengthens the wake-up time. The MCU's clocks are updated to the
// HSI-driven tree the core wakes up with.
func Stop(m *chip.MCU, lowPowerRegulator bool) {
	cr := regs(m).R32(regCR)
	v := cr.Get() &^ (crPDDS | crLPDS)
	if lowPowerRegulator {
		v |= crLPDS
	}
	cr.Set(v | crCWUF)
	scr := mmio.NewRegister32(m.Bus, scbSCR)
	scr.SetBits(scrSLEEPDEEP)
	m.Core.WaitForInterrupt()
	scr.ClearBits(scrSLEEPDEEP)
	m.SetClocks(rcc.Current(m))
	pkg.LogDebug(pkg.ComponentPWR, "left stop mode", "sysclk", m.Clocks().SYSCLK)
}

// Standby enters Standby mode. It returns only on the simulator when the
// wake-up is modelled as a reset the caller observes through OnReset; on
// hardware execution restarts at the reset vector.
func Standby(m *chip.MCU) {
	cr := regs(m).R32(regCR)
	cr.Set(cr.Get() | crPDDS | crCWUF)
	mmio.NewRegister32(m.Bus, scbSCR).SetBits(scrSLEEPDEEP)
	pkg.LogInfo(pkg.ComponentPWR, "entering standby")
	m.Core.WaitForInterrupt()
}

// EnableWakeupPin lets a rising edge on PA0 (WKUP) leave Standby.
func EnableWakeupPin(m *chip.MCU, on bool) {
	csr := regs(m).R32(regCSR)
	if on {
		csr.SetBits(csrEWUP)
	} else {
		csr.ClearBits(csrEWUP)
	}
}

// WokeFromStandby reports and clears PWR_CSR.SBF and WUF.
func WokeFromStandby(m *chip.MCU) bool {
	r := regs(m)
	sb := r.R32(regCSR).HasBits(csrSBF)
	r.R32(regCR).SetBits(crCSBF | crCWUF)
	return sb
}

// Cause is a set of reset causes.
type Cause uint8

// Reset causes, matching RCC_CSR bits 25..31.
const (
	CauseBrownOut Cause = 1 << iota
	CausePin
	CausePowerOn
	CauseSoftware
	CauseIWDG
	CauseWWDG
	CauseLowPower
	// CauseStandby is not an RCC flag; it is reported from PWR_CSR.SBF.
	CauseStandby
)

var causeNames = [...]string{"brown-out", "pin", "power-on", "software", "iwdg", "wwdg", "low-power", "standby"}

func (c Cause) String() string {
	var s []string
	for i, n := range causeNames {
		if c&(1<<i) != 0 {
			s = append(s, n)
		}
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}

// Has reports whether every cause in x is set.
func (c Cause) Has(x Cause) bool { return c&x == x }

// ResetCause returns the reset flags and clears them, so the next reset
// reports only its own cause.
func ResetCause(m *chip.MCU) Cause {
	c := Cause(rcc.ResetFlags(m) >> 25)
	if WokeFromStandby(m) {
		c |= CauseStandby
	}
	return c
}

// SystemReset requests a software reset through SCB_AIRCR. On hardware it
// does not return; the simulator performs the reset at the next access.
func SystemReset(m *chip.MCU) {
	m.Core.DataSyncBarrier()
	mmio.NewRegister32(m.Bus, scbAIRCR).Set(0x05FA_0000 | 1<<2)
	m.Core.DataSyncBarrier()
	pkg.LogInfo(pkg.ComponentPWR, "software reset requested")
}

// DBGMCU freeze registers.
const (
	dbgAPB1FZ = 0x08
	dbgAPB2FZ = 0x0C
)

var apb1Freeze = map[chip.Periph]uint32{
	chip.TIM2: 0, chip.TIM3: 1, chip.TIM4: 2, chip.TIM5: 3, chip.TIM6: 4, chip.TIM7: 5,
	chip.RTC: 10, chip.WWDG: 11, chip.IWDG: 12, chip.I2C1: 21, chip.I2C2: 22, chip.I2C3: 23,
}

var apb2Freeze = map[chip.Periph]uint32{
	chip.TIM1: 0, chip.TIM8: 1, chip.TIM9: 16, chip.TIM10: 17, chip.TIM11: 18,
}

// FreezeInDebug stops p (a timer, a watchdog, the RTC or an I2C SMBus
// timeout) while the core is halted by a debugger.
func FreezeInDebug(m *chip.MCU, p chip.Periph, on bool) error {
	off, bit := uintptr(dbgAPB1FZ), uint32(0)
	if b, ok := apb1Freeze[p]; ok {
		bit = b
	} else if b, ok := apb2Freeze[p]; ok {
		off, bit = dbgAPB2FZ, b
	} else {
		return pkg.ErrNotSupported
	}
	r := m.At(chip.DBGMCUBase).R32(off)
	if on {
		r.SetBits(1 << bit)
	} else {
		r.ClearBits(1 << bit)
	}
	return nil
}
