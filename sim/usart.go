package sim

import (
	"github.com/ardnew/f4core/chip"
)

// USART register offsets and bits.
const (
	usartSR   = 0x00
	usartDR   = 0x04
	usartBRR  = 0x08
	usartCR1  = 0x0C
	usartCR2  = 0x10
	usartCR3  = 0x14
	usartGTPR = 0x18

	usartPE   = 1 << 0
	usartFE   = 1 << 1
	usartNF   = 1 << 2
	usartORE  = 1 << 3
	usartIDLE = 1 << 4
	usartRXNE = 1 << 5
	usartTC   = 1 << 6
	usartTXE  = 1 << 7
	usartLBD  = 1 << 8

	usartSBK    = 1 << 0
	usartRE     = 1 << 2
	usartTE     = 1 << 3
	usartIDLEIE = 1 << 4
	usartRXNEIE = 1 << 5
	usartTCIE   = 1 << 6
	usartTXEIE  = 1 << 7
	usartPEIE   = 1 << 8
	usartPCE    = 1 << 10
	usartM      = 1 << 12
	usartUE     = 1 << 13
	usartOVER8  = 1 << 15

	usartEIE   = 1 << 0
	usartHDSEL = 1 << 3
	usartDMAR  = 1 << 6
	usartDMAT  = 1 << 7
)

// RXFault marks an injected byte as received with a line error.
type RXFault uint8

// Receive faults.
const (
	FaultParity RXFault = 1 << iota
	FaultFraming
	FaultNoise
)

type rxFrame struct {
	b     uint16
	fault RXFault
}

// USART models one USART block. Transmitted frames go to a sink and an
// optional linked USART; received frames are injected by tests.
type USART struct {
	m             *Machine
	p             chip.Periph
	sr, brr       uint32
	cr1, cr2, cr3 uint32
	gtpr          uint32
	rdr, tdr      uint16
	tdrFull       bool
	srRead        bool
	tx            *event
	rxq           []rxFrame
	rx            *event
	idle          *event
	peer          *USART
	sink          []func(b byte)
	sent          []byte
	breaks        int
	overruns      int
}

func newUSART(m *Machine, p chip.Periph) *USART {
	u := &USART{m: m, p: p}
	u.reset()
	return u
}

func (u *USART) reset() {
	for _, e := range []*event{u.tx, u.rx, u.idle} {
		u.m.cancel(e)
	}
	*u = USART{m: u.m, p: u.p, peer: u.peer, sink: u.sink, sent: u.sent, sr: usartTXE | usartTC}
	u.sync()
}

func (u *USART) irq() chip.IRQ {
	switch u.p {
	case chip.USART1:
		return chip.IRQUSART1
	case chip.USART2:
		return chip.IRQUSART2
	case chip.USART3:
		return chip.IRQUSART3
	}
	return chip.IRQUSART6
}

func (u *USART) sync() {
	s, c1 := u.sr, u.cr1
	l := c1&usartTXEIE != 0 && s&usartTXE != 0 ||
		c1&usartTCIE != 0 && s&usartTC != 0 ||
		c1&usartRXNEIE != 0 && s&(usartRXNE|usartORE) != 0 ||
		c1&usartIDLEIE != 0 && s&usartIDLE != 0 ||
		c1&usartPEIE != 0 && s&usartPE != 0 ||
		u.cr3&usartEIE != 0 && u.cr3&usartDMAR != 0 && s&(usartFE|usartNF|usartORE) != 0
	u.m.line(u.irq(), l)
	u.m.dmaKick()
}

func (u *USART) dmaLevel(tx bool) bool {
	if u.cr1&usartUE == 0 {
		return false
	}
	if tx {
		return u.cr3&usartDMAT != 0 && u.sr&usartTXE != 0 && u.cr1&usartTE != 0
	}
	return u.cr3&usartDMAR != 0 && u.sr&usartRXNE != 0
}

// frameTime is the duration of one character including start and stop
// bits.
func (u *USART) frameTime() int64 {
	// one bit lasts BRR kernel clocks, or mantissa*8+fraction with OVER8
	div := int64(u.brr & 0xFFFF)
	if u.cr1&usartOVER8 != 0 {
		div = int64(u.brr>>4&0xFFF)*8 + int64(u.brr&7)
	}
	if div == 0 {
		div = 16
	}
	bits := int64(10)
	if u.cr1&usartM != 0 {
		bits++
	}
	if u.cr2>>12&3 >= 2 {
		bits++
	}
	return period(u.m.rcc.pclk(u.p.Bus())) * div * bits
}

func (u *USART) read(off uint32, _ int) uint32 {
	switch off {
	case usartSR:
		u.srRead = true
		return u.sr
	case usartDR:
		v := uint32(u.rdr)
		if u.srRead {
			u.sr &^= usartPE | usartFE | usartNF | usartORE | usartIDLE
		}
		u.srRead = false
		u.sr &^= usartRXNE
		u.sync()
		return v
	case usartBRR:
		return u.brr
	case usartCR1:
		return u.cr1
	case usartCR2:
		return u.cr2
	case usartCR3:
		return u.cr3
	case usartGTPR:
		return u.gtpr
	}
	return 0
}

func (u *USART) write(off uint32, _ int, v uint32) {
	switch off {
	case usartSR:
		// RXNE, TC and LBD are rc_w0.
		u.sr &^= (usartRXNE | usartTC | usartLBD) &^ v
	case usartDR:
		if u.srRead {
			u.sr &^= usartTC
		}
		u.srRead = false
		u.writeDR(uint16(v & 0x1FF))
	case usartBRR:
		u.brr = v & 0xFFFF
	case usartCR1:
		old := u.cr1
		u.cr1 = v & 0xBFFF
		if u.cr1&usartUE == 0 {
			u.m.cancel(u.tx)
			u.tx = nil
			u.tdrFull = false
			u.sr |= usartTXE
		}
		if u.cr1&usartTE != 0 && old&usartTE == 0 && u.cr1&usartUE != 0 && u.tx == nil {
			// idle frame preamble
			u.tx = u.m.schedule(u.frameTime(), func() { u.tx = nil; u.txDone() })
		}
		if v&usartSBK != 0 {
			u.sendBreak()
		}
		if u.cr1&usartRE != 0 && old&usartRE == 0 {
			u.receive()
		}
	case usartCR2:
		u.cr2 = v & 0x7F7F
	case usartCR3:
		u.cr3 = v & 0xFFF
	case usartGTPR:
		u.gtpr = v & 0xFFFF
	}
	u.sync()
}

func (u *USART) writeDR(v uint16) {
	if u.cr1&usartUE == 0 || u.cr1&usartTE == 0 {
		return
	}
	u.tdr = v
	u.tdrFull = true
	u.sr &^= usartTXE | usartTC
	if u.tx == nil {
		u.shift()
	}
}

func (u *USART) shift() {
	b := u.tdr
	u.tdrFull = false
	u.sr |= usartTXE
	u.tx = u.m.schedule(u.frameTime(), func() {
		u.tx = nil
		u.emit(b)
		u.txDone()
	})
}

func (u *USART) txDone() {
	if u.tdrFull {
		u.shift()
	} else if u.cr1&usartSBK == 0 {
		u.sr |= usartTC
	}
	u.sync()
}

func (u *USART) sendBreak() {
	if u.cr1&usartTE == 0 || u.cr1&usartUE == 0 {
		return
	}
	u.breaks++
	if u.peer != nil && u.peer.cr1&usartRE != 0 {
		u.peer.deliver(rxFrame{0, FaultFraming})
	}
	u.m.schedule(u.frameTime(), func() {
		u.cr1 &^= usartSBK
		u.sr |= usartTC
		u.sync()
	})
}

func (u *USART) emit(b uint16) {
	c := byte(b)
	if u.cr1&usartPCE != 0 && u.cr1&usartM == 0 {
		c &= 0x7F
	}
	u.sent = append(u.sent, c)
	for _, fn := range u.sink {
		fn(c)
	}
	if u.peer != nil {
		u.peer.Inject(c)
	}
	if u.cr3&usartHDSEL != 0 && u.cr1&usartRE != 0 {
		u.deliver(rxFrame{b: b})
	}
}

// receive starts shifting queued frames in, one frame time each.
func (u *USART) receive() {
	if u.rx != nil || len(u.rxq) == 0 || u.cr1&usartUE == 0 || u.cr1&usartRE == 0 {
		return
	}
	u.m.cancel(u.idle)
	u.idle = nil
	u.rx = u.m.schedule(u.frameTime(), func() {
		u.rx = nil
		f := u.rxq[0]
		u.rxq = u.rxq[1:]
		u.deliver(f)
		if len(u.rxq) > 0 {
			u.receive()
			return
		}
		u.idle = u.m.schedule(u.frameTime(), func() {
			u.idle = nil
			u.sr |= usartIDLE
			u.sync()
		})
	})
}

func (u *USART) deliver(f rxFrame) {
	if u.cr1&usartUE == 0 || u.cr1&usartRE == 0 {
		return
	}
	if u.sr&usartRXNE != 0 {
		u.sr |= usartORE
		u.overruns++
		u.sync()
		return
	}
	u.rdr = f.b
	u.sr |= usartRXNE
	if f.fault&FaultParity != 0 && u.cr1&usartPCE != 0 {
		u.sr |= usartPE
	}
	if f.fault&FaultFraming != 0 {
		u.sr |= usartFE
	}
	if f.fault&FaultNoise != 0 {
		u.sr |= usartNF
	}
	u.sync()
}

// Inject queues bytes on the receive line. They arrive back to back at the
// configured baud rate.
func (u *USART) Inject(p ...byte) {
	for _, b := range p {
		u.rxq = append(u.rxq, rxFrame{b: uint16(b)})
	}
	u.receive()
}

// InjectFault queues one byte received with the given line errors.
func (u *USART) InjectFault(b byte, f RXFault) {
	u.rxq = append(u.rxq, rxFrame{uint16(b), f})
	u.receive()
}

// OnTransmit calls fn with every transmitted byte.
func (u *USART) OnTransmit(fn func(b byte)) { u.sink = append(u.sink, fn) }

// Transmitted returns every byte sent since power-on.
func (u *USART) Transmitted() []byte { return append([]byte(nil), u.sent...) }

// ClearTransmitted forgets the transmitted bytes.
func (u *USART) ClearTransmitted() { u.sent = nil }

// Overruns counts frames lost because RXNE was still set.
func (u *USART) Overruns() int { return u.overruns }

// Breaks returns the number of break frames sent.
func (u *USART) Breaks() int { return u.breaks }

// Baud returns the configured baud rate in bits per second.
func (u *USART) Baud() int64 {
	t := u.frameTime()
	if t == 0 {
		return 0
	}
	bits := int64(10)
	if u.cr1&usartM != 0 {
		bits++
	}
	if u.cr2>>12&3 >= 2 {
		bits++
	}
	return bits * 1e12 / t
}

// USART returns the model of p.
func (m *Machine) USART(p chip.Periph) *USART { return m.usarts[p] }

// LinkUART cross-connects the TX and RX lines of a and b.
func (m *Machine) LinkUART(a, b chip.Periph) {
	m.usarts[a].peer = m.usarts[b]
	m.usarts[b].peer = m.usarts[a]
}
