package sim

import (
	"fmt"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

const numVectors = 16 + chip.NumIRQ

// nvicModel holds pending, enable, active and priority state for every
// exception. Index is irq+16.
type nvicModel struct {
	m       *Machine
	enabled [numVectors]bool
	pending [numVectors]bool
	level   [numVectors]bool
	active  [numVectors]bool
	prio    [numVectors]uint8
	stack   []chip.IRQ
	primask bool
}

func newNVIC(m *Machine) *nvicModel {
	n := &nvicModel{m: m}
	n.reset()
	return n
}

func (n *nvicModel) reset() {
	*n = nvicModel{m: n.m}
	for i := 0; i < 16; i++ {
		n.enabled[i] = true
	}
}

func idx(irq chip.IRQ) int { return int(irq) + 16 }

// NVIC register offsets from 0xE000E100.
const (
	nvicISER = 0x000
	nvicICER = 0x080
	nvicISPR = 0x100
	nvicICPR = 0x180
	nvicIABR = 0x200
	nvicIPR  = 0x300
)

func (n *nvicModel) bits(base uint32, off uint32, get func(i int) bool) uint32 {
	var v uint32
	first := int(off-base) / 4 * 32
	for b := 0; b < 32; b++ {
		if irq := first + b; irq < chip.NumIRQ && get(irq+16) {
			v |= 1 << b
		}
	}
	return v
}

func (n *nvicModel) each(base, off, v uint32, fn func(i int)) {
	first := int(off-base) / 4 * 32
	for b := 0; b < 32; b++ {
		if irq := first + b; v&(1<<b) != 0 && irq < chip.NumIRQ {
			fn(irq + 16)
		}
	}
}

func (n *nvicModel) read(off uint32, size int) uint32 {
	switch {
	case off < nvicICER:
		return n.bits(nvicISER, off, func(i int) bool { return n.enabled[i] })
	case off < nvicISPR:
		return n.bits(nvicICER, off, func(i int) bool { return n.enabled[i] })
	case off < nvicICPR:
		return n.bits(nvicISPR, off, func(i int) bool { return n.pending[i] })
	case off < nvicIABR:
		return n.bits(nvicICPR, off, func(i int) bool { return n.pending[i] })
	case off < nvicIPR:
		return n.bits(nvicIABR, off, func(i int) bool { return n.active[i] })
	}
	var v uint32
	for b := 0; b < size; b++ {
		if irq := int(off-nvicIPR) + b; irq < chip.NumIRQ {
			v |= uint32(n.prio[irq+16]) << (8 * b)
		}
	}
	return v
}

func (n *nvicModel) write(off uint32, size int, v uint32) {
	switch {
	case off < nvicICER:
		n.each(nvicISER, off, v, func(i int) { n.enabled[i] = true })
	case off < nvicISPR:
		n.each(nvicICER, off, v, func(i int) { n.enabled[i] = false })
	case off < nvicICPR:
		n.each(nvicISPR, off, v, func(i int) { n.pending[i] = true })
	case off < nvicIABR:
		n.each(nvicICPR, off, v, func(i int) { n.pending[i] = n.level[i] })
	case off < nvicIPR:
	default:
		for b := 0; b < size; b++ {
			if irq := int(off-nvicIPR) + b; irq < chip.NumIRQ {
				n.prio[irq+16] = uint8(v>>(8*b)) & 0xF0
			}
		}
	}
}

// line sets the level of a peripheral interrupt request. A rising level
// pends the interrupt; a level still high when its handler returns pends it
// again.
func (m *Machine) line(irq chip.IRQ, level bool) {
	i := idx(irq)
	n := m.nvic
	if level && !n.level[i] {
		n.pending[i] = true
		if m.scb.scr&scrSEVONPEND != 0 {
			m.eventReg = true
		}
	}
	n.level[i] = level
}

// lineFrom drives a line shared by several request sources; the line is
// high while any source is.
func (m *Machine) lineFrom(irq chip.IRQ, src string, level bool) {
	if !irq.Valid() {
		return
	}
	if m.shared == nil {
		m.shared = map[chip.IRQ]map[string]bool{}
	}
	s := m.shared[irq]
	if s == nil {
		s = map[string]bool{}
		m.shared[irq] = s
	}
	s[src] = level
	high := false
	for _, l := range s {
		high = high || l
	}
	m.line(irq, high)
}

// pend sets an exception pending without a level.
func (m *Machine) pend(irq chip.IRQ) {
	m.nvic.pending[idx(irq)] = true
	if m.scb.scr&scrSEVONPEND != 0 {
		m.eventReg = true
	}
}

// Pending reports whether irq is pending in the NVIC.
func (m *Machine) Pending(irq chip.IRQ) bool { return m.nvic.pending[idx(irq)] }

// Enabled reports whether irq is enabled in the NVIC.
func (m *Machine) Enabled(irq chip.IRQ) bool { return m.nvic.enabled[idx(irq)] }

// Priority returns the programmed priority byte of irq.
func (m *Machine) Priority(irq chip.IRQ) uint8 { return m.nvic.prio[idx(irq)] }

func (n *nvicModel) current() int {
	if len(n.stack) == 0 {
		return 256
	}
	return int(n.prio[idx(n.stack[len(n.stack)-1])])
}

// next returns the exception that would preempt the current execution
// priority. Ties go to the lowest exception number.
func (n *nvicModel) next(filter func(chip.IRQ) bool) (chip.IRQ, bool) {
	best, bestPrio := chip.IRQ(0), n.current()
	found := false
	for i := 0; i < numVectors; i++ {
		if !n.pending[i] || !n.enabled[i] || n.active[i] {
			continue
		}
		irq := chip.IRQ(i - 16)
		if filter != nil && !filter(irq) {
			continue
		}
		if p := int(n.prio[i]); p < bestPrio {
			best, bestPrio, found = irq, p, true
		}
	}
	return best, found
}

func (m *Machine) checkInterrupts() {
	n := m.nvic
	if n.primask || m.pwr.standby || m.stopped {
		return
	}
	var last chip.IRQ
	repeat := 0
	for {
		irq, ok := n.next(nil)
		if !ok {
			return
		}
		if irq == last {
			repeat++
			if repeat > m.stormLimit {
				panic(fmt.Sprintf("sim: interrupt storm on %v: handler returns with its source still asserted", irq))
			}
		} else {
			last, repeat = irq, 0
		}
		m.take(irq)
		if n.primask {
			return
		}
	}
}

func (m *Machine) take(irq chip.IRQ) {
	n := m.nvic
	i := idx(irq)
	n.pending[i] = false
	n.active[i] = true
	n.stack = append(n.stack, irq)
	m.taken++
	m.eventReg = true
	if m.mcu == nil || !m.mcu.Dispatch(irq) {
		pkg.LogWarn(pkg.ComponentSim, "exception without handler", "irq", irq)
	}
	n.stack = n.stack[:len(n.stack)-1]
	n.active[i] = false
	if n.level[i] {
		n.pending[i] = true
	}
}

// scbModel is the System Control Block subset the drivers use.
type scbModel struct {
	m     *Machine
	vtor  uint32
	scr   uint32
	ccr   uint32
	shpr  [3]uint32
	shcsr uint32
}

// SCB register offsets from 0xE000ED00 and SCR bits.
const (
	scbCPUID = 0x00
	scbICSR  = 0x04
	scbVTOR  = 0x08
	scbAIRCR = 0x0C
	scbSCR   = 0x10
	scbCCR   = 0x14
	scbSHPR1 = 0x18
	scbSHCSR = 0x24

	scrSLEEPONEXIT = 1 << 1
	scrSLEEPDEEP   = 1 << 2
	scrSEVONPEND   = 1 << 4

	icsrPENDSTCLR = 1 << 25
	icsrPENDSTSET = 1 << 26
	icsrPENDSVCLR = 1 << 27
	icsrPENDSVSET = 1 << 28
)

func (s *scbModel) reset() { *s = scbModel{m: s.m, ccr: 0x200} }

func (s *scbModel) read(off uint32, _ int) uint32 {
	n := s.m.nvic
	switch off {
	case scbCPUID:
		return 0x410F_C241
	case scbICSR:
		var v uint32
		if len(n.stack) > 0 {
			v |= uint32(idx(n.stack[len(n.stack)-1])) & 0x1FF
		}
		if n.pending[idx(chip.IRQSysTick)] {
			v |= icsrPENDSTSET
		}
		if n.pending[idx(chip.IRQPendSV)] {
			v |= icsrPENDSVSET
		}
		return v
	case scbVTOR:
		return s.vtor
	case scbAIRCR:
		return 0xFA05_0000
	case scbSCR:
		return s.scr
	case scbCCR:
		return s.ccr
	case scbSHPR1, scbSHPR1 + 4, scbSHPR1 + 8:
		return s.shpr[(off-scbSHPR1)/4]
	case scbSHCSR:
		return s.shcsr
	}
	return 0
}

func (s *scbModel) write(off uint32, _ int, v uint32) {
	n := s.m.nvic
	switch off {
	case scbICSR:
		if v&icsrPENDSTSET != 0 {
			s.m.pend(chip.IRQSysTick)
		}
		if v&icsrPENDSTCLR != 0 {
			n.pending[idx(chip.IRQSysTick)] = false
		}
		if v&icsrPENDSVSET != 0 {
			s.m.pend(chip.IRQPendSV)
		}
		if v&icsrPENDSVCLR != 0 {
			n.pending[idx(chip.IRQPendSV)] = false
		}
	case scbVTOR:
		s.vtor = v &^ 0x7F
	case scbAIRCR:
		if v>>16 == 0x05FA && v&(1<<2) != 0 {
			s.m.schedule(0, func() { s.m.systemReset(ResetSoftware) })
		}
	case scbSCR:
		s.scr = v & (scrSLEEPONEXIT | scrSLEEPDEEP | scrSEVONPEND)
	case scbCCR:
		s.ccr = v
	case scbSHPR1, scbSHPR1 + 4, scbSHPR1 + 8:
		s.shpr[(off-scbSHPR1)/4] = v & 0xF0F0_F0F0
		// SHPR1..3 hold priorities of exceptions 4..15, one byte each.
		for b := 0; b < 4; b++ {
			exc := 4 + int(off-scbSHPR1) + b
			n.prio[exc] = uint8(v >> (8 * b) & 0xF0)
		}
	case scbSHCSR:
		s.shcsr = v
	}
}

// systickModel is the 24-bit SysTick down-counter, evaluated lazily.
type systickModel struct {
	m       *Machine
	ctrl    uint32
	load    uint32
	start   int64  // time the counter last (re)started
	val0    uint32 // value at start
	frozen  uint32 // value while disabled
	flag    bool
	pending *event
}

// SysTick register offsets and CTRL bits.
const (
	stCTRL  = 0x0
	stLOAD  = 0x4
	stVAL   = 0x8
	stCALIB = 0xC

	stENABLE    = 1 << 0
	stTICKINT   = 1 << 1
	stCLKSOURCE = 1 << 2
	stCOUNTFLAG = 1 << 16
)

func (s *systickModel) reset() {
	s.m.cancel(s.pending)
	*s = systickModel{m: s.m}
}

func (s *systickModel) tick() int64 {
	p := s.m.rcc.hclkPeriod
	if s.ctrl&stCLKSOURCE == 0 {
		p *= 8
	}
	return p
}

// firstZero returns the time the counter reaches zero after start.
func (s *systickModel) firstZero() int64 {
	if s.val0 == 0 {
		return s.start + int64(s.load+1)*s.tick()
	}
	return s.start + int64(s.val0)*s.tick()
}

func (s *systickModel) value() uint32 {
	if s.ctrl&stENABLE == 0 {
		return s.frozen
	}
	t := s.tick()
	k := (s.m.now - s.start) / t
	z := s.firstZero()
	if s.m.now < z {
		if s.val0 == 0 {
			if k == 0 {
				return 0
			}
			return s.load + 1 - uint32(k)
		}
		return s.val0 - uint32(k)
	}
	j := ((s.m.now - z) / t) % int64(s.load+1)
	if j == 0 {
		return 0
	}
	return s.load + 1 - uint32(j)
}

func (s *systickModel) restart(v uint32) {
	s.m.cancel(s.pending)
	s.pending = nil
	s.start, s.val0 = s.m.now, v
	if s.ctrl&stENABLE == 0 || (s.load == 0 && v == 0) {
		s.frozen = v
		return
	}
	s.pending = s.m.schedule(s.firstZero()-s.m.now, s.zero)
}

func (s *systickModel) zero() {
	s.flag = true
	if s.ctrl&stTICKINT != 0 {
		s.m.pend(chip.IRQSysTick)
	}
	if s.load == 0 {
		s.pending = nil
		return
	}
	s.pending = s.m.schedule(int64(s.load+1)*s.tick(), s.zero)
}

func (s *systickModel) retime() {
	if s.ctrl&stENABLE != 0 {
		s.restart(s.value())
	}
}

func (s *systickModel) read(off uint32, _ int) uint32 {
	switch off {
	case stCTRL:
		v := s.ctrl
		if s.flag {
			v |= stCOUNTFLAG
		}
		s.flag = false
		return v
	case stLOAD:
		return s.load
	case stVAL:
		return s.value()
	case stCALIB:
		return 0x4000_0000 | (2000 - 1)
	}
	return 0
}

func (s *systickModel) write(off uint32, _ int, v uint32) {
	switch off {
	case stCTRL:
		cur := s.value()
		was := s.ctrl & stENABLE
		s.ctrl = v & (stENABLE | stTICKINT | stCLKSOURCE)
		if s.ctrl&stENABLE == 0 {
			s.m.cancel(s.pending)
			s.pending = nil
			s.frozen = cur
			return
		}
		if was == 0 {
			s.restart(s.frozen)
		} else {
			s.restart(cur)
		}
	case stLOAD:
		cur := s.value()
		s.load = v & 0xFF_FFFF
		if s.ctrl&stENABLE != 0 {
			s.restart(cur)
		}
	case stVAL:
		s.flag = false
		s.frozen = 0
		if s.ctrl&stENABLE != 0 {
			s.restart(0)
		}
	}
}

// DisableInterrupts implements chip.Core.
func (m *Machine) DisableInterrupts() uintptr {
	prev := m.nvic.primask
	m.nvic.primask = true
	if prev {
		return 1
	}
	return 0
}

// RestoreInterrupts implements chip.Core.
func (m *Machine) RestoreInterrupts(state uintptr) {
	m.nvic.primask = state != 0
	if !m.nvic.primask {
		m.checkInterrupts()
	}
}

// PRIMASK reports whether interrupts are masked.
func (m *Machine) PRIMASK() bool { return m.nvic.primask }

// DataSyncBarrier implements chip.Core. Simulated accesses complete in
// order, so it only costs a cycle.
func (m *Machine) DataSyncBarrier() {
	m.now += m.rcc.hclkPeriod
	m.runDue()
	m.checkInterrupts()
}

// SendEvent implements chip.Core.
func (m *Machine) SendEvent() { m.eventReg = true }

// event sets the event register from an EXTI event line.
func (m *Machine) event() { m.eventReg = true }

// WaitForEvent implements chip.Core.
func (m *Machine) WaitForEvent() {
	for !m.eventReg {
		if !m.runNext() {
			panic("sim: WFE with nothing scheduled")
		}
	}
	m.eventReg = false
}

type sleepMode uint8

const (
	modeSleep sleepMode = iota
	modeStop
	modeStandby
)

func (m *Machine) sleepMode() sleepMode {
	if m.scb.scr&scrSLEEPDEEP == 0 {
		return modeSleep
	}
	if m.pwr.cr&pwrPDDS != 0 {
		return modeStandby
	}
	return modeStop
}

// stopWake reports whether irq is an EXTI-routed source able to leave Stop
// mode.
func stopWake(irq chip.IRQ) bool {
	switch irq {
	case chip.IRQEXTI0, chip.IRQEXTI1, chip.IRQEXTI2, chip.IRQEXTI3, chip.IRQEXTI4,
		chip.IRQEXTI95, chip.IRQEXTI1510, chip.IRQPVD, chip.IRQRTCAlarm,
		chip.IRQRTCWKUP, chip.IRQTAMPSTAMP, chip.IRQOTGFSWKUP:
		return true
	}
	return false
}

// WaitForInterrupt implements chip.Core. It returns once an interrupt has
// been taken, or once one is pending while PRIMASK is set. With
// SLEEPONEXIT set the core goes back to sleep after every handler.
func (m *Machine) WaitForInterrupt() {
	mode := m.sleepMode()
	if mode == modeStandby {
		m.standby()
		return
	}
	m.sleepDepth++
	defer func() { m.sleepDepth-- }()
	var filter func(chip.IRQ) bool
	if mode == modeStop {
		filter = stopWake
		m.rcc.enterStop()
		m.stopped = true
		defer func() { m.stopped = false }()
	}
	start := m.taken
	for {
		if _, ok := m.nvic.next(filter); ok {
			if mode == modeStop {
				m.stopped = false
				m.rcc.exitStop()
				mode, filter = modeSleep, nil
			}
			if m.nvic.primask {
				return
			}
			m.checkInterrupts()
		}
		if m.taken != start && m.scb.scr&scrSLEEPONEXIT == 0 {
			return
		}
		if !m.runNext() {
			panic("sim: WFI with nothing scheduled")
		}
	}
}

// Sleeping reports whether the core is inside WaitForInterrupt.
func (m *Machine) Sleeping() bool { return m.sleepDepth > 0 }

func (m *Machine) standby() {
	pkg.LogInfo(pkg.ComponentSim, "entering standby", "at", m.Now())
	m.pwr.standby = true
	for !m.pwr.woken {
		if !m.runNext() {
			panic("sim: standby with no wake-up source")
		}
		if !m.pwr.standby {
			return // left through a watchdog reset
		}
	}
	m.pwr.standby = false
	m.pwr.woken = false
	m.systemReset(ResetStandby)
}
