package sim

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// DMA stream CR bits.
const (
	dmaEN     = 1 << 0
	dmaDMEIE  = 1 << 1
	dmaTEIE   = 1 << 2
	dmaHTIE   = 1 << 3
	dmaTCIE   = 1 << 4
	dmaPFCTRL = 1 << 5
	dmaCIRC   = 1 << 8
	dmaPINC   = 1 << 9
	dmaMINC   = 1 << 10
	dmaPINCOS = 1 << 15
	dmaDBM    = 1 << 18
	dmaCT     = 1 << 19

	dmaFTH   = 3
	dmaDMDIS = 1 << 2
	dmaFEIE  = 1 << 7

	// flags, relative to the stream's position in LISR/HISR
	dmaFEIF  = 1 << 0
	dmaDMEIF = 1 << 2
	dmaTEIF  = 1 << 3
	dmaHTIF  = 1 << 4
	dmaTCIF  = 1 << 5
	dmaFlags = dmaFEIF | dmaDMEIF | dmaTEIF | dmaHTIF | dmaTCIF

	dmaFIFOBytes = 16
)

var dmaFlagShift = [8]uint{0, 6, 16, 22, 0, 6, 16, 22}

type dmaStream struct {
	d      *dmaModel
	n      uint8
	cr     uint32
	ndtr   uint32
	par    uint32
	m0ar   uint32
	m1ar   uint32
	fcr    uint32
	flags  uint32
	start  uint32 // NDTR latched at enable
	pAddr  uintptr
	mAddr  uintptr
	fifo   []byte
	htDone bool
	beat   *event
	halt   *event
	tc     int
}

// dmaModel is one DMA controller with eight streams.
type dmaModel struct {
	m       *Machine
	ctrl    uint8
	streams [8]*dmaStream
}

func newDMA(m *Machine, ctrl uint8) *dmaModel {
	d := &dmaModel{m: m, ctrl: ctrl}
	for i := range d.streams {
		d.streams[i] = &dmaStream{d: d, n: uint8(i)}
	}
	d.reset()
	return d
}

func (d *dmaModel) reset() {
	for _, s := range d.streams {
		d.m.cancel(s.beat)
		d.m.cancel(s.halt)
		*s = dmaStream{d: d, n: s.n, fcr: 0x21}
		s.sync()
	}
}

func (s *dmaStream) irq() chip.IRQ {
	if s.d.ctrl == 1 {
		if s.n == 7 {
			return chip.IRQDMA1Stream7
		}
		return chip.IRQDMA1Stream0 + chip.IRQ(s.n)
	}
	if s.n < 5 {
		return chip.IRQDMA2Stream0 + chip.IRQ(s.n)
	}
	return chip.IRQDMA2Stream5 + chip.IRQ(s.n-5)
}

func (s *dmaStream) sync() {
	f, c := s.flags, s.cr
	s.d.m.line(s.irq(), f&dmaTCIF != 0 && c&dmaTCIE != 0 ||
		f&dmaHTIF != 0 && c&dmaHTIE != 0 ||
		f&dmaTEIF != 0 && c&dmaTEIE != 0 ||
		f&dmaDMEIF != 0 && c&dmaDMEIE != 0 ||
		f&dmaFEIF != 0 && s.fcr&dmaFEIE != 0)
}

func (s *dmaStream) dir() uint32    { return s.cr >> 6 & 3 }
func (s *dmaStream) psize() int     { return 1 << (s.cr >> 11 & 3) }
func (s *dmaStream) channel() uint8 { return uint8(s.cr >> 25 & 7) }
func (s *dmaStream) direct() bool   { return s.fcr&dmaDMDIS == 0 }

func (s *dmaStream) msize() int {
	if s.direct() {
		return s.psize()
	}
	return 1 << (s.cr >> 13 & 3)
}

func burstBeats(b uint32) int { return [4]int{1, 4, 8, 16}[b&3] }

// fifoValid applies the FIFO threshold / memory burst compatibility rule:
// one burst must fit the threshold level a whole number of times.
func (s *dmaStream) fifoValid() bool {
	if s.direct() {
		return true
	}
	burst := burstBeats(s.cr>>23) * s.msize()
	level := (int(s.fcr&dmaFTH) + 1) * dmaFIFOBytes / 4
	if burst == 1 || burst > level {
		return burst <= level
	}
	return level%burst == 0
}

func (d *dmaModel) read(off uint32, _ int) uint32 {
	switch {
	case off == 0x0 || off == 0x4:
		var v uint32
		for i := 0; i < 4; i++ {
			s := d.streams[int(off/4)*4+i]
			v |= s.flags << dmaFlagShift[s.n]
		}
		return v
	case off >= 0x10 && off < 0x10+8*0x18:
		s := d.streams[(off-0x10)/0x18]
		switch (off - 0x10) % 0x18 {
		case 0x00:
			return s.cr
		case 0x04:
			return s.ndtr
		case 0x08:
			return s.par
		case 0x0C:
			return s.m0ar
		case 0x10:
			return s.m1ar
		case 0x14:
			return s.fcr&^(7<<3) | s.fifoStatus()<<3
		}
	}
	return 0
}

func (s *dmaStream) fifoStatus() uint32 {
	if s.direct() {
		return 0
	}
	n := len(s.fifo)
	switch {
	case n == 0:
		return 4
	case n == dmaFIFOBytes:
		return 5
	}
	return uint32(n * 4 / dmaFIFOBytes)
}

func (d *dmaModel) write(off uint32, _ int, v uint32) {
	switch {
	case off == 0x8 || off == 0xC:
		for i := 0; i < 4; i++ {
			s := d.streams[int(off-0x8)/4*4+i]
			s.flags &^= v >> dmaFlagShift[s.n] & dmaFlags
			s.sync()
		}
	case off >= 0x10 && off < 0x10+8*0x18:
		s := d.streams[(off-0x10)/0x18]
		s.write((off-0x10)%0x18, v)
	}
}

func (s *dmaStream) write(reg uint32, v uint32) {
	on := s.cr&dmaEN != 0
	switch reg {
	case 0x00:
		switch {
		case on && v&dmaEN == 0:
			s.stop()
		case on:
			// only CT-independent bits may change while enabled
		case v&dmaEN != 0:
			s.cr = v &^ dmaEN
			s.enable()
		default:
			s.cr = v & 0x0FEF_FFFF
		}
	case 0x04:
		if !on {
			s.ndtr = v & 0xFFFF
		}
	case 0x08:
		if !on {
			s.par = v
		}
	case 0x0C:
		if !on || s.cr&dmaDBM != 0 && s.cr&dmaCT != 0 {
			s.m0ar = v
		}
	case 0x10:
		if !on || s.cr&dmaDBM != 0 && s.cr&dmaCT == 0 {
			s.m1ar = v
		}
	case 0x14:
		if !on {
			s.fcr = v & 0xBF
		}
	}
	s.sync()
}

func (s *dmaStream) enable() {
	m := s.d.m
	if s.flags != 0 {
		pkg.LogDebug(pkg.ComponentSim, "DMA enable ignored, flags pending",
			"ctrl", s.d.ctrl, "stream", s.n, "flags", s.flags)
		return
	}
	if s.dir() == 2 {
		if s.d.ctrl == 1 || s.cr&dmaCIRC != 0 {
			s.flags |= dmaTEIF
			return
		}
		s.fcr |= dmaDMDIS
	}
	if !s.fifoValid() || s.dir() == 3 {
		s.flags |= dmaFEIF
		return
	}
	if s.ndtr == 0 {
		return
	}
	s.cr |= dmaEN
	s.start = s.ndtr
	s.htDone = false
	s.fifo = s.fifo[:0]
	s.load()
	if s.dir() == 2 {
		s.schedule()
		return
	}
	if r, ok := chip.RequestAt(chip.DMASlot{Controller: s.d.ctrl, Stream: s.n, Channel: s.channel()}); ok {
		if m.dmaLevel(r) {
			// a request latched before the stream was ready
			s.flags |= dmaFEIF
		}
	}
	m.dmaKick()
}

func (s *dmaStream) load() {
	s.pAddr = uintptr(s.par)
	s.mAddr = uintptr(s.m0ar)
	if s.cr&dmaDBM != 0 && s.cr&dmaCT != 0 {
		s.mAddr = uintptr(s.m1ar)
	}
}

// stop disables the stream after the beat in progress.
func (s *dmaStream) stop() {
	m := s.d.m
	m.cancel(s.beat)
	s.beat = nil
	if s.halt != nil {
		return
	}
	s.halt = m.schedule(2*m.rcc.hclkPeriod, func() {
		s.halt = nil
		s.cr &^= dmaEN
		if s.ndtr != 0 {
			s.flags |= dmaTCIF
		}
		s.sync()
	})
}

func (s *dmaStream) schedule() {
	m := s.d.m
	s.beat = m.schedule(2*m.rcc.hclkPeriod, func() {
		s.beat = nil
		if s.cr&dmaEN == 0 || s.halt != nil {
			return
		}
		s.item()
		if s.cr&dmaEN != 0 {
			s.schedule()
		}
	})
}

// access performs one DMA bus access and reports a transfer error for
// unmapped addresses.
func (m *Machine) dmaAccess(addr uintptr, size int, v uint32, write bool) (uint32, bool) {
	if m.find(addr) == nil {
		return 0, false
	}
	return m.access(addr, size, v, write), true
}

func getN(b []byte, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

func putN(v uint32, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// item moves one peripheral-side data item and updates NDTR and flags.
func (s *dmaStream) item() {
	m := s.d.m
	ps, ms := s.psize(), s.msize()
	pStep := uintptr(ps)
	if s.cr&dmaPINCOS != 0 {
		pStep = 4
	}
	ok := true
	switch s.dir() {
	case 0, 2: // peripheral (or source memory) to memory
		var v uint32
		v, ok = m.dmaAccess(s.pAddr, ps, 0, false)
		s.fifo = append(s.fifo, putN(v, ps)...)
		if s.cr&dmaPINC != 0 {
			s.pAddr += pStep
		}
		last := s.ndtr == 1
		for ok && (len(s.fifo) >= ms || last && len(s.fifo) > 0) {
			n := ms
			if len(s.fifo) < n {
				n = len(s.fifo)
			}
			_, ok = m.dmaAccess(s.mAddr, n, getN(s.fifo, n), true)
			s.fifo = s.fifo[n:]
			if s.cr&dmaMINC != 0 {
				s.mAddr += uintptr(n)
			}
		}
	case 1: // memory to peripheral
		for ok && len(s.fifo) < ps {
			var v uint32
			v, ok = m.dmaAccess(s.mAddr, ms, 0, false)
			s.fifo = append(s.fifo, putN(v, ms)...)
			if s.cr&dmaMINC != 0 {
				s.mAddr += uintptr(ms)
			}
		}
		if ok {
			_, ok = m.dmaAccess(s.pAddr, ps, getN(s.fifo, ps), true)
			s.fifo = s.fifo[ps:]
			if s.cr&dmaPINC != 0 {
				s.pAddr += pStep
			}
		}
	}
	if !ok {
		pkg.LogWarn(pkg.ComponentSim, "DMA transfer error", "ctrl", s.d.ctrl, "stream", s.n)
		s.flags |= dmaTEIF
		s.cr &^= dmaEN
		s.sync()
		return
	}
	s.ndtr--
	if !s.htDone && s.ndtr <= s.start/2 {
		s.htDone = true
		s.flags |= dmaHTIF
	}
	if s.ndtr == 0 {
		s.tc++
		s.flags |= dmaTCIF
		switch {
		case s.cr&dmaDBM != 0:
			s.cr ^= dmaCT
			s.ndtr = s.start
			s.htDone = false
			s.load()
		case s.cr&dmaCIRC != 0:
			s.ndtr = s.start
			s.htDone = false
			s.load()
		default:
			s.cr &^= dmaEN
		}
	}
	s.sync()
}

// active reports whether the stream serves request r right now.
func (s *dmaStream) serves(r chip.DMARequest) bool {
	return s.cr&dmaEN != 0 && s.halt == nil && s.dir() != 2 &&
		r.Serves(chip.DMASlot{Controller: s.d.ctrl, Stream: s.n, Channel: s.channel()})
}

// dmaLevel returns the state of a level-sensitive request line.
func (m *Machine) dmaLevel(r chip.DMARequest) bool {
	spi := func(p chip.Periph, tx bool) bool {
		return m.rcc.enabled(p) && m.spis[p].dmaLevel(tx)
	}
	usart := func(p chip.Periph, tx bool) bool {
		return m.rcc.enabled(p) && m.usarts[p].dmaLevel(tx)
	}
	i2c := func(p chip.Periph, tx bool) bool {
		return m.rcc.enabled(p) && m.i2cs[p].dmaLevel(tx)
	}
	switch r {
	case chip.ReqSPI1RX, chip.ReqSPI1TX:
		return spi(chip.SPI1, r == chip.ReqSPI1TX)
	case chip.ReqSPI2RX, chip.ReqSPI2TX:
		return spi(chip.SPI2, r == chip.ReqSPI2TX)
	case chip.ReqSPI3RX, chip.ReqSPI3TX:
		return spi(chip.SPI3, r == chip.ReqSPI3TX)
	case chip.ReqUSART1RX, chip.ReqUSART1TX:
		return usart(chip.USART1, r == chip.ReqUSART1TX)
	case chip.ReqUSART2RX, chip.ReqUSART2TX:
		return usart(chip.USART2, r == chip.ReqUSART2TX)
	case chip.ReqUSART6RX, chip.ReqUSART6TX:
		return usart(chip.USART6, r == chip.ReqUSART6TX)
	case chip.ReqI2C1RX, chip.ReqI2C1TX:
		return i2c(chip.I2C1, r == chip.ReqI2C1TX)
	case chip.ReqI2C3RX, chip.ReqI2C3TX:
		return i2c(chip.I2C3, r == chip.ReqI2C3TX)
	case chip.ReqQSPI:
		return m.rcc.enabled(chip.QSPI) && m.qspi.dmaLevel()
	}
	return false
}

// dmaPulse records a single-shot request from a timer update, an ADC end
// of conversion or a DAC trigger.
func (m *Machine) dmaPulse(r chip.DMARequest) {
	m.dmaPulses = append(m.dmaPulses, r)
	m.dmaKick()
}

// dmaKick serves pending requests until every request line is idle. Calls
// made while it runs are folded into the running pass.
func (m *Machine) dmaKick() {
	if m.dmas[0] == nil || m.dmas[1] == nil {
		return
	}
	if m.dmaBusy {
		m.dmaAgain = true
		return
	}
	m.dmaBusy = true
	defer func() { m.dmaBusy = false }()
	for pass := 0; ; pass++ {
		m.dmaAgain = false
		for len(m.dmaPulses) > 0 {
			r := m.dmaPulses[0]
			m.dmaPulses = m.dmaPulses[1:]
			if s := m.dmaStreamFor(r); s != nil {
				s.item()
			}
		}
		for _, s := range m.dmaByPriority() {
			if s.cr&dmaEN == 0 || s.dir() == 2 || s.halt != nil {
				continue
			}
			r, ok := chip.RequestAt(chip.DMASlot{Controller: s.d.ctrl, Stream: s.n, Channel: s.channel()})
			if !ok || !isLevel(r) {
				continue
			}
			for n := 0; s.cr&dmaEN != 0 && m.dmaLevel(r) && n < 0x10000; n++ {
				s.item()
			}
		}
		if !m.dmaAgain || pass > 64 {
			return
		}
	}
}

func isLevel(r chip.DMARequest) bool {
	switch r {
	case chip.ReqADC1, chip.ReqDAC1, chip.ReqDAC2, chip.ReqTIM1UP, chip.ReqTIM2UP, chip.ReqTIM3UP:
		return false
	}
	return true
}

func (m *Machine) dmaStreamFor(r chip.DMARequest) *dmaStream {
	for _, s := range m.dmaByPriority() {
		if s.serves(r) {
			return s
		}
	}
	return nil
}

// dmaByPriority orders streams by PL, then controller, then stream number.
func (m *Machine) dmaByPriority() []*dmaStream {
	var out []*dmaStream
	for pl := 3; pl >= 0; pl-- {
		for _, d := range m.dmas {
			for _, s := range d.streams {
				if int(s.cr>>16&3) == pl {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// DMACompletions returns how many times a stream reached NDTR=0.
func (m *Machine) DMACompletions(ctrl, stream uint8) int {
	return m.dmas[ctrl-1].streams[stream].tc
}
