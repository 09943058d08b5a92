package sim

import (
	"time"

	"github.com/ardnew/f4core/chip"
)

// SPI register offsets and bits.
const (
	spiCR1    = 0x00
	spiCR2    = 0x04
	spiSR     = 0x08
	spiDR     = 0x0C
	spiCRCPR  = 0x10
	spiRXCRCR = 0x14
	spiTXCRCR = 0x18
	spiI2SCFG = 0x1C
	spiI2SPR  = 0x20

	spiMSTR    = 1 << 2
	spiSPE     = 1 << 6
	spiSSI     = 1 << 8
	spiSSM     = 1 << 9
	spiDFF     = 1 << 11
	spiCRCNEXT = 1 << 12
	spiCRCEN   = 1 << 13

	spiRXDMAEN = 1 << 0
	spiTXDMAEN = 1 << 1
	spiSSOE    = 1 << 2
	spiERRIE   = 1 << 5
	spiRXNEIE  = 1 << 6
	spiTXEIE   = 1 << 7

	spiRXNE   = 1 << 0
	spiTXE    = 1 << 1
	spiCRCERR = 1 << 4
	spiMODF   = 1 << 5
	spiOVR    = 1 << 6
	spiBSY    = 1 << 7
)

// SPI models one SPI block. A master exchanges frames with a linked slave
// model or with a device function attached by a test.
type SPI struct {
	m             *Machine
	p             chip.Periph
	cr1, cr2, sr  uint32
	crcpr         uint32
	rxcrc, txcrc  uint32
	i2scfg, i2spr uint32

	rx      uint16 // receive buffer
	tx      uint16 // transmit buffer
	txFull  bool
	shift   *event
	sending bool

	peer   *SPI
	device func(mosi uint16) uint16

	ovrDR   bool
	modfSR  bool
	frames  []uint16
	lastEnd int64
}

func newSPI(m *Machine, p chip.Periph) *SPI {
	s := &SPI{m: m, p: p}
	s.reset()
	return s
}

func (s *SPI) reset() {
	s.m.cancel(s.shift)
	peer, dev := s.peer, s.device
	*s = SPI{m: s.m, p: s.p, peer: peer, device: dev, sr: spiTXE, crcpr: 7}
	s.sync()
}

func (s *SPI) irq() chip.IRQ {
	switch s.p {
	case chip.SPI1:
		return chip.IRQSPI1
	case chip.SPI2:
		return chip.IRQSPI2
	case chip.SPI3:
		return chip.IRQSPI3
	case chip.SPI4:
		return chip.IRQSPI4
	}
	return chip.IRQSPI5
}

func (s *SPI) master() bool { return s.cr1&spiMSTR != 0 }
func (s *SPI) wide() bool   { return s.cr1&spiDFF != 0 }

func (s *SPI) mask() uint16 {
	if s.wide() {
		return 0xFFFF
	}
	return 0xFF
}

// sync updates the interrupt line and DMA requests.
func (s *SPI) sync() {
	sr, cr2 := s.sr, s.cr2
	l := cr2&spiTXEIE != 0 && sr&spiTXE != 0 ||
		cr2&spiRXNEIE != 0 && sr&spiRXNE != 0 ||
		cr2&spiERRIE != 0 && sr&(spiOVR|spiMODF|spiCRCERR) != 0
	s.m.line(s.irq(), l)
	s.m.dmaKick()
}

func (s *SPI) dmaLevel(tx bool) bool {
	if s.cr1&spiSPE == 0 {
		return false
	}
	if tx {
		return s.cr2&spiTXDMAEN != 0 && s.sr&spiTXE != 0
	}
	return s.cr2&spiRXDMAEN != 0 && s.sr&spiRXNE != 0
}

// frameTime returns the duration of one frame at the master's bit rate.
func (s *SPI) frameTime() int64 {
	br := s.cr1 >> 3 & 7
	f := s.m.rcc.pclk(s.p.Bus())
	bits := int64(8)
	if s.wide() {
		bits = 16
	}
	return period(f) * int64(2<<br) * bits
}

func (s *SPI) read(off uint32, _ int) uint32 {
	switch off {
	case spiCR1:
		return s.cr1
	case spiCR2:
		return s.cr2
	case spiSR:
		v := s.sr
		if s.ovrDR {
			s.sr &^= spiOVR
			s.ovrDR = false
			s.sync()
		}
		if v&spiMODF != 0 {
			s.modfSR = true
		}
		return v
	case spiDR:
		v := s.rx
		if s.sr&spiOVR != 0 {
			s.ovrDR = true
		}
		s.sr &^= spiRXNE
		s.sync()
		return uint32(v)
	case spiCRCPR:
		return s.crcpr
	case spiRXCRCR:
		return s.rxcrc
	case spiTXCRCR:
		return s.txcrc
	case spiI2SCFG:
		return s.i2scfg
	case spiI2SPR:
		return s.i2spr
	}
	return 0
}

func (s *SPI) write(off uint32, _ int, v uint32) {
	switch off {
	case spiCR1:
		if s.modfSR {
			s.sr &^= spiMODF
			s.modfSR = false
		}
		old := s.cr1
		s.cr1 = v & 0xFFFF
		if s.cr1&spiCRCEN != 0 && old&spiCRCEN == 0 {
			s.rxcrc, s.txcrc = 0, 0
		}
		if s.master() && s.cr1&spiSPE != 0 && s.cr1&spiSSM != 0 && s.cr1&spiSSI == 0 {
			s.sr |= spiMODF
			s.cr1 &^= spiSPE | spiMSTR
		}
		if s.cr1&spiSPE != 0 && old&spiSPE == 0 {
			s.kick()
		}
	case spiCR2:
		s.cr2 = v & 0xF7
	case spiSR:
		s.sr &^= spiCRCERR &^ v
	case spiDR:
		s.tx = uint16(v) & s.mask()
		s.txFull = true
		s.sr &^= spiTXE
		s.kick()
	case spiCRCPR:
		s.crcpr = v & 0xFFFF
	case spiI2SCFG:
		s.i2scfg = v
	case spiI2SPR:
		s.i2spr = v
	}
	s.sync()
}

// kick starts the next master frame when the shifter is idle.
func (s *SPI) kick() {
	if !s.master() || s.cr1&spiSPE == 0 || s.sending || !s.txFull {
		return
	}
	out := s.tx
	s.txFull = false
	s.sr |= spiTXE | spiBSY
	s.sending = true
	s.updateCRC(&s.txcrc, out)
	if s.peer != nil {
		s.peer.sr |= spiBSY
	}
	s.shift = s.m.schedule(s.frameTime(), func() { s.endFrame(out) })
	s.sync()
}

// endFrame completes a master frame. CRCNEXT set while the frame was
// shifting appends the CRC frame.
func (s *SPI) endFrame(out uint16) {
	s.sending = false
	var in uint16
	switch {
	case s.peer != nil && s.peer.cr1&spiSPE != 0:
		in = s.peer.exchange(out)
	case s.device != nil:
		in = s.device(out) & s.mask()
	}
	s.receive(in)
	if s.cr1&spiCRCNEXT != 0 && !s.txFull {
		s.cr1 &^= spiCRCNEXT
		s.sendCRC()
		return
	}
	if s.txFull {
		s.kick()
		return
	}
	s.sr &^= spiBSY
	s.lastEnd = s.m.now
	s.sync()
}

// sendCRC shifts out the transmit CRC as one extra frame.
func (s *SPI) sendCRC() {
	out := uint16(s.txcrc) & s.mask()
	s.sending = true
	s.shift = s.m.schedule(s.frameTime(), func() {
		s.sending = false
		if p := s.peer; p != nil && p.cr1&spiSPE != 0 {
			if uint32(out) != p.rxcrc&uint32(p.mask()) {
				p.sr |= spiCRCERR
			}
			p.sr &^= spiBSY
			p.sync()
		}
		s.sr &^= spiBSY
		s.lastEnd = s.m.now
		s.sync()
	})
}

// exchange is the slave side of one frame.
func (s *SPI) exchange(in uint16) uint16 {
	out := s.tx
	if s.txFull {
		s.txFull = false
		s.sr |= spiTXE
	}
	s.updateCRC(&s.txcrc, out)
	s.receive(in & s.mask())
	s.sr &^= spiBSY
	s.sync()
	return out & s.mask()
}

func (s *SPI) receive(v uint16) {
	if s.sr&spiRXNE != 0 {
		s.sr |= spiOVR
	} else {
		s.rx = v
		s.sr |= spiRXNE
	}
	s.updateCRC(&s.rxcrc, v)
	s.frames = append(s.frames, v)
}

func (s *SPI) updateCRC(reg *uint32, v uint16) {
	if s.cr1&spiCRCEN == 0 {
		return
	}
	bits := 8
	if s.wide() {
		bits = 16
	}
	top := uint32(1) << (bits - 1)
	mask := uint32(1)<<bits - 1
	c := *reg
	for i := bits - 1; i >= 0; i-- {
		b := uint32(v>>i) & 1
		fb := (c&top != 0) != (b != 0)
		c = c << 1 & mask
		if fb {
			c ^= s.crcpr & mask
		}
	}
	*reg = c
}

// LinkSPI wires master and slave together: SCK, MOSI, MISO and NSS.
func (m *Machine) LinkSPI(master, slave chip.Periph) {
	a, b := m.spis[master], m.spis[slave]
	a.peer, b.peer = b, a
}

// AttachSPI connects a device function answering each frame on p's bus.
func (m *Machine) AttachSPI(p chip.Periph, dev func(mosi uint16) (miso uint16)) {
	m.spis[p].device = dev
}

// SPI returns the model of p.
func (m *Machine) SPI(p chip.Periph) *SPI { return m.spis[p] }

// Frames returns every frame received since reset.
func (s *SPI) Frames() []uint16 { return append([]uint16(nil), s.frames...) }

// LastFrameEnd returns when the last master frame finished shifting.
func (s *SPI) LastFrameEnd() time.Duration { return time.Duration(s.lastEnd / 1000) }
