package irq

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
)

// NVIC register offsets from chip.NVICBase.
const (
	nvicISER = 0x000
	nvicICER = 0x080
	nvicISPR = 0x100
	nvicICPR = 0x180
	nvicIABR = 0x200
	nvicIPR  = 0x300
)

// System handler priority registers (SCB SHPR1..3) and ICSR.
const (
	scbICSR       = 0x04
	scbSHPR1      = 0x18
	icsrPENDSTSET = 1 << 26
	icsrPENDSTCLR = 1 << 25
	icsrPENDSVSET = 1 << 28
	icsrPENDSVCLR = 1 << 27
)

// PriorityBits is the number of implemented priority bits. Priorities are
// stored in the upper bits of each priority byte.
const PriorityBits = 4

// NVIC programs the nested vectored interrupt controller. Lower priority
// values preempt higher ones.
type NVIC struct {
	m *chip.MCU
}

// NewNVIC returns the NVIC of m.
func NewNVIC(m *chip.MCU) NVIC { return NVIC{m: m} }

func (n NVIC) regs() mmio.Block { return n.m.At(chip.NVICBase) }

func word(irq chip.IRQ) (uintptr, uint32) { return uintptr(irq/32) * 4, 1 << (uint(irq) % 32) }

func check(irq chip.IRQ) error {
	if !irq.Valid() || irq.IsException() {
		return pkg.ErrOutOfRange
	}
	return nil
}

// SetPriority sets the priority of irq (0..15). System exceptions with a
// configurable priority go to the SCB.
func (n NVIC) SetPriority(irq chip.IRQ, prio uint8) error {
	if !irq.Valid() || prio >= 1<<PriorityBits {
		return pkg.ErrOutOfRange
	}
	v := prio << (8 - PriorityBits)
	if !irq.IsException() {
		n.regs().R8(nvicIPR + uintptr(irq)).Set(v)
		return nil
	}
	exc := irq.Vector()
	if exc < 4 {
		return pkg.ErrNotSupported // reset, NMI and HardFault are fixed
	}
	r := n.m.At(chip.SCBBase).R32(scbSHPR1 + uintptr(exc-4)&^3)
	r.ReplaceBits(uint32(v), 0xFF, uint8(exc%4)*8)
	return nil
}

// Priority returns the priority of a peripheral interrupt.
func (n NVIC) Priority(irq chip.IRQ) uint8 {
	if check(irq) != nil {
		return 0
	}
	return n.regs().R8(nvicIPR+uintptr(irq)).Get() >> (8 - PriorityBits)
}

// Enable sets the priority of irq and then unmasks it.
func (n NVIC) Enable(irq chip.IRQ, prio uint8) error {
	if err := check(irq); err != nil {
		return err
	}
	if err := n.SetPriority(irq, prio); err != nil {
		return err
	}
	off, bit := word(irq)
	n.regs().R32(nvicISER + off).Set(bit)
	pkg.LogDebug(pkg.ComponentIRQ, "interrupt enabled", "irq", irq, "prio", prio)
	return nil
}

// Disable masks irq. Its pending state is kept.
func (n NVIC) Disable(irq chip.IRQ) error {
	if err := check(irq); err != nil {
		return err
	}
	off, bit := word(irq)
	n.regs().R32(nvicICER + off).Set(bit)
	n.m.Core.DataSyncBarrier()
	return nil
}

// Pend sets irq pending from software. SysTick and PendSV are pended
// through the SCB.
func (n NVIC) Pend(irq chip.IRQ) error {
	switch irq {
	case chip.IRQSysTick:
		n.m.At(chip.SCBBase).R32(scbICSR).Set(icsrPENDSTSET)
		return nil
	case chip.IRQPendSV:
		n.m.At(chip.SCBBase).R32(scbICSR).Set(icsrPENDSVSET)
		return nil
	}
	if err := check(irq); err != nil {
		return err
	}
	off, bit := word(irq)
	n.regs().R32(nvicISPR + off).Set(bit)
	return nil
}

// Unpend clears the pending state of irq. A level-triggered source that is
// still asserted pends it again.
func (n NVIC) Unpend(irq chip.IRQ) error {
	switch irq {
	case chip.IRQSysTick:
		n.m.At(chip.SCBBase).R32(scbICSR).Set(icsrPENDSTCLR)
		return nil
	case chip.IRQPendSV:
		n.m.At(chip.SCBBase).R32(scbICSR).Set(icsrPENDSVCLR)
		return nil
	}
	if err := check(irq); err != nil {
		return err
	}
	off, bit := word(irq)
	n.regs().R32(nvicICPR + off).Set(bit)
	return nil
}

// ClearAndEnable drops a stale pending state and unmasks irq. The barrier
// makes sure the clear has landed before the unmask, or the handler would
// run once for the old request.
func (n NVIC) ClearAndEnable(irq chip.IRQ) error {
	if err := check(irq); err != nil {
		return err
	}
	if err := n.Unpend(irq); err != nil {
		return err
	}
	n.m.Core.DataSyncBarrier()
	off, bit := word(irq)
	n.regs().R32(nvicISER + off).Set(bit)
	return nil
}

// IsEnabled reports whether irq is unmasked.
func (n NVIC) IsEnabled(irq chip.IRQ) bool {
	if check(irq) != nil {
		return false
	}
	off, bit := word(irq)
	return n.regs().R32(nvicISER + off).HasBits(bit)
}

// IsPending reports whether irq is pending.
func (n NVIC) IsPending(irq chip.IRQ) bool {
	if check(irq) != nil {
		return false
	}
	off, bit := word(irq)
	return n.regs().R32(nvicISPR + off).HasBits(bit)
}

// IsActive reports whether the handler of irq is running or preempted.
func (n NVIC) IsActive(irq chip.IRQ) bool {
	if check(irq) != nil {
		return false
	}
	off, bit := word(irq)
	return n.regs().R32(nvicIABR + off).HasBits(bit)
}
