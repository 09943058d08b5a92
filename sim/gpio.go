package sim

import (
	"github.com/ardnew/f4core/chip"
)

// GPIO register offsets.
const (
	gpioMODER   = 0x00
	gpioOTYPER  = 0x04
	gpioOSPEEDR = 0x08
	gpioPUPDR   = 0x0C
	gpioIDR     = 0x10
	gpioODR     = 0x14
	gpioBSRR    = 0x18
	gpioLCKR    = 0x1C
	gpioAFRL    = 0x20
	gpioAFRH    = 0x24

	lckK = 1 << 16
)

type portState struct {
	moder, otyper, ospeedr, pupdr uint32
	odr                           uint32
	afr                           [2]uint32
	lck                           uint32 // locked pins, LCKK in bit 16
	lckSeq                        int
	ext                           uint32 // pins driven from outside
	extLevel                      uint32
	level                         uint32 // last resolved pin levels
}

// GPIO models every port's registers and the electrical level of each pin.
// Tests drive inputs with Drive and observe outputs with Level and Watch.
type GPIO struct {
	m       *Machine
	ports   [8]portState
	watch   map[chip.Pin][]func(bool)
	edges   [chip.NumPins]int
	resetAt [8]portState
}

func newGPIO(m *Machine) *GPIO {
	g := &GPIO{m: m, watch: map[chip.Pin][]func(bool){}}
	// Port A and B come out of reset with the debug pins configured.
	g.resetAt[chip.PortA] = portState{moder: 0xA800_0000, ospeedr: 0x0C00_0000, pupdr: 0x6400_0000}
	g.resetAt[chip.PortB] = portState{moder: 0x0000_0280, ospeedr: 0x0000_00C0, pupdr: 0x0000_0100}
	g.reset()
	return g
}

func (g *GPIO) reset() {
	for p := range g.ports {
		g.resetPort(chip.Port(p))
	}
}

func (g *GPIO) resetPort(p chip.Port) {
	s := &g.ports[p]
	ext, lvl := s.ext, s.extLevel
	prev := s.level
	*s = g.resetAt[p]
	s.ext, s.extLevel = ext, lvl
	s.level = prev
	g.update(p)
}

type gpioPort struct {
	g    *GPIO
	port chip.Port
}

func (d *gpioPort) read(off uint32, _ int) uint32 {
	s := &d.g.ports[d.port]
	switch off {
	case gpioMODER:
		return s.moder
	case gpioOTYPER:
		return s.otyper
	case gpioOSPEEDR:
		return s.ospeedr
	case gpioPUPDR:
		return s.pupdr
	case gpioIDR:
		return s.level
	case gpioODR:
		return s.odr
	case gpioLCKR:
		if s.lckSeq == 3 {
			s.lckSeq = 4
		} else if s.lckSeq == 4 {
			s.lck |= lckK
			s.lckSeq = 0
		}
		return s.lck
	case gpioAFRL:
		return s.afr[0]
	case gpioAFRH:
		return s.afr[1]
	}
	return 0
}

// spread expands a 16-bit pin mask to a field mask of width bits per pin.
func spread(pins uint32, width uint) uint32 {
	var m uint32
	for i := uint(0); i < 16; i++ {
		if pins&(1<<i) != 0 {
			m |= (1<<width - 1) << (i * width)
		}
	}
	return m
}

func (d *gpioPort) write(off uint32, _ int, v uint32) {
	s := &d.g.ports[d.port]
	locked := uint32(0)
	if s.lck&lckK != 0 {
		locked = s.lck & 0xFFFF
	}
	keep := func(old, mask uint32) uint32 { return old&mask | v&^mask }
	switch off {
	case gpioMODER:
		s.moder = keep(s.moder, spread(locked, 2))
	case gpioOTYPER:
		s.otyper = keep(s.otyper, locked) & 0xFFFF
	case gpioOSPEEDR:
		s.ospeedr = keep(s.ospeedr, spread(locked, 2))
	case gpioPUPDR:
		s.pupdr = keep(s.pupdr, spread(locked, 2))
	case gpioODR:
		s.odr = v & 0xFFFF
	case gpioBSRR:
		s.odr = s.odr&^(v>>16) | v&0xFFFF
	case gpioLCKR:
		d.lockStep(v)
		return
	case gpioAFRL:
		s.afr[0] = keep(s.afr[0], spread(locked&0xFF, 4))
	case gpioAFRH:
		s.afr[1] = keep(s.afr[1], spread(locked>>8, 4))
	default:
		return
	}
	d.g.update(d.port)
}

// lockStep follows the LCKK write/write/write/read/read sequence. Any write
// that breaks it restarts the sequence.
func (d *gpioPort) lockStep(v uint32) {
	s := &d.g.ports[d.port]
	if s.lck&lckK != 0 {
		return
	}
	pins := v & 0xFFFF
	want := [3]uint32{lckK, 0, lckK}
	switch {
	case s.lckSeq < 3 && v&lckK == want[s.lckSeq] && (s.lckSeq == 0 || pins == s.lck&0xFFFF):
		s.lck = pins
		s.lckSeq++
	case v&lckK == lckK:
		s.lck = pins
		s.lckSeq = 1
	default:
		s.lckSeq = 0
	}
}

// resolve computes the level of every pin of p.
func (g *GPIO) resolve(p chip.Port) uint32 {
	s := &g.ports[p]
	var lvl uint32
	for i := uint(0); i < 16; i++ {
		bit := uint32(1) << i
		mode := s.moder >> (2 * i) & 3
		pull := s.pupdr >> (2 * i) & 3
		out := false
		switch mode {
		case 1:
			out = true
			if s.odr&bit != 0 {
				lvl |= bit
			}
		case 2:
			af := uint8(s.afr[i/8] >> (4 * (i % 8)) & 0xF)
			if high, driven := g.m.altOut(chip.NewPin(p, uint8(i)), af); driven {
				out = true
				if high {
					lvl |= bit
				}
			}
		}
		od := s.otyper&bit != 0
		switch {
		case out && !od:
		case out && lvl&bit == 0:
		case s.ext&bit != 0:
			lvl = lvl&^bit | s.extLevel&bit
		case pull == 1:
			lvl |= bit
		case pull == 2 || mode == 3:
			lvl &^= bit
		}
	}
	return lvl
}

// update recomputes the levels of p and propagates edges.
func (g *GPIO) update(p chip.Port) {
	s := &g.ports[p]
	lvl := g.resolve(p)
	changed := lvl ^ s.level
	s.level = lvl
	for i := uint8(0); changed != 0 && i < 16; i++ {
		bit := uint32(1) << i
		if changed&bit == 0 {
			continue
		}
		pin := chip.NewPin(p, i)
		high := lvl&bit != 0
		g.edges[pin]++
		g.m.exti.pin(p, i, high)
		if s.moder>>(2*i)&3 == 2 {
			g.m.altIn(pin, uint8(s.afr[i/8]>>(4*(i%8))&0xF), high)
		}
		if pin == chip.PA0 && high {
			g.m.pwr.wakeupPin()
		}
		for _, fn := range g.watch[pin] {
			fn(high)
		}
	}
}

// Drive forces an external level onto pin, like a button or another chip
// would. An output configured push-pull still wins.
func (g *GPIO) Drive(pin chip.Pin, high bool) {
	s := &g.ports[pin.Port()]
	s.ext |= pin.Mask()
	if high {
		s.extLevel |= pin.Mask()
	} else {
		s.extLevel &^= pin.Mask()
	}
	g.update(pin.Port())
}

// Release stops driving pin from outside.
func (g *GPIO) Release(pin chip.Pin) {
	g.ports[pin.Port()].ext &^= pin.Mask()
	g.update(pin.Port())
}

// Level returns the electrical level of pin.
func (g *GPIO) Level(pin chip.Pin) bool { return g.ports[pin.Port()].level&pin.Mask() != 0 }

// Mode returns the MODER field of pin.
func (g *GPIO) Mode(pin chip.Pin) uint32 {
	return g.ports[pin.Port()].moder >> (2 * pin.Index()) & 3
}

// AF returns the alternate function number selected for pin.
func (g *GPIO) AF(pin chip.Pin) uint8 {
	i := pin.Index()
	return uint8(g.ports[pin.Port()].afr[i/8] >> (4 * (i % 8)) & 0xF)
}

// Edges returns how many times pin changed level.
func (g *GPIO) Edges(pin chip.Pin) int { return g.edges[pin] }

// Watch calls fn on every level change of pin.
func (g *GPIO) Watch(pin chip.Pin, fn func(high bool)) {
	g.watch[pin] = append(g.watch[pin], fn)
}

// refresh re-resolves every port after a peripheral output changed.
func (g *GPIO) refresh() {
	for p := range g.ports {
		g.update(chip.Port(p))
	}
}

// altOut returns the level a peripheral drives onto pin through af.
func (m *Machine) altOut(pin chip.Pin, af uint8) (high, driven bool) {
	p, sig, ok := chip.PinFunction(pin, af)
	if !ok {
		return false, false
	}
	if t, ok := m.tims[p]; ok && m.rcc.enabled(p) {
		return t.output(sig)
	}
	if p == chip.USART1 || p == chip.USART2 || p == chip.USART3 || p == chip.USART6 {
		if sig == chip.TX {
			return true, true // idle high
		}
	}
	return false, false
}

// altIn feeds an edge on an alternate-function input to its peripheral.
func (m *Machine) altIn(pin chip.Pin, af uint8, high bool) {
	p, sig, ok := chip.PinFunction(pin, af)
	if !ok {
		return
	}
	if t, ok := m.tims[p]; ok && m.rcc.enabled(p) {
		t.input(sig, high)
	}
}

// GPIO returns the pin model.
func (m *Machine) GPIO() *GPIO { return m.gpio }

// extiModel is the external interrupt and event controller.
type extiModel struct {
	m                               *Machine
	imr, emr, rtsr, ftsr, swier, pr uint32
}

const extiLines = 0x7F_FFFF

func (e *extiModel) reset() { *e = extiModel{m: e.m} }

func (e *extiModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x00:
		return e.imr
	case 0x04:
		return e.emr
	case 0x08:
		return e.rtsr
	case 0x0C:
		return e.ftsr
	case 0x10:
		return e.swier
	case 0x14:
		return e.pr
	}
	return 0
}

func (e *extiModel) write(off uint32, _ int, v uint32) {
	v &= extiLines
	switch off {
	case 0x00:
		e.imr = v
	case 0x04:
		e.emr = v
	case 0x08:
		e.rtsr = v
	case 0x0C:
		e.ftsr = v
	case 0x10:
		rise := v &^ e.swier
		e.swier |= v
		for n := uint8(0); rise != 0 && n < 23; n++ {
			if rise&(1<<n) != 0 {
				e.trigger(n)
			}
		}
	case 0x14:
		e.pr &^= v
		e.swier &^= v
	}
	e.sync()
}

// pin feeds a GPIO edge into the line SYSCFG routes it to.
func (e *extiModel) pin(p chip.Port, n uint8, high bool) {
	if e.m.syscfg.port(n) != p {
		return
	}
	e.edge(n, high)
}

// edge reports a level change on line n.
func (e *extiModel) edge(n uint8, rising bool) {
	bit := uint32(1) << n
	if rising && e.rtsr&bit == 0 || !rising && e.ftsr&bit == 0 {
		return
	}
	e.trigger(n)
	e.sync()
}

func (e *extiModel) trigger(n uint8) {
	bit := uint32(1) << n
	if e.imr&bit != 0 {
		e.pr |= bit
	}
	if e.emr&bit != 0 {
		e.m.event()
	}
}

// sync drives each EXTI interrupt line from the pending register.
func (e *extiModel) sync() {
	levels := map[chip.IRQ]bool{}
	for n := uint8(0); n < 23; n++ {
		irq := chip.EXTIIRQ(n)
		if !irq.Valid() || irq.IsException() {
			continue
		}
		levels[irq] = levels[irq] || e.pr&(1<<n) != 0
	}
	for irq, l := range levels {
		e.m.line(irq, l)
	}
}

// syscfgModel holds the EXTI port selection.
type syscfgModel struct {
	m      *Machine
	memrmp uint32
	pmc    uint32
	exticr [4]uint32
}

func (s *syscfgModel) reset() { *s = syscfgModel{m: s.m} }

func (s *syscfgModel) port(n uint8) chip.Port {
	if n > 15 {
		return 0xFF
	}
	return chip.Port(s.exticr[n/4] >> (4 * (n % 4)) & 0xF)
}

func (s *syscfgModel) read(off uint32, _ int) uint32 {
	switch {
	case off == 0x00:
		return s.memrmp
	case off == 0x04:
		return s.pmc
	case off >= 0x08 && off <= 0x14:
		return s.exticr[(off-0x08)/4]
	case off == 0x20:
		return 1 << 8 // CMPCR.READY
	}
	return 0
}

func (s *syscfgModel) write(off uint32, _ int, v uint32) {
	switch {
	case off == 0x00:
		s.memrmp = v & 3
	case off == 0x04:
		s.pmc = v
	case off >= 0x08 && off <= 0x14:
		s.exticr[(off-0x08)/4] = v & 0xFFFF
	}
}

// EXTIPending returns EXTI_PR.
func (m *Machine) EXTIPending() uint32 { return m.exti.pr }
