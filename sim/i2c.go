package sim

import (
	"fmt"
	"strings"

	"github.com/ardnew/f4core/chip"
)

// I2C register offsets and bits.
const (
	i2cCR1   = 0x00
	i2cCR2   = 0x04
	i2cOAR1  = 0x08
	i2cOAR2  = 0x0C
	i2cDR    = 0x10
	i2cSR1   = 0x14
	i2cSR2   = 0x18
	i2cCCR   = 0x1C
	i2cTRISE = 0x20
	i2cFLTR  = 0x24

	i2cPE    = 1 << 0
	i2cSTART = 1 << 8
	i2cSTOP  = 1 << 9
	i2cACK   = 1 << 10
	i2cPOS   = 1 << 11
	i2cSWRST = 1 << 15

	i2cITERREN = 1 << 8
	i2cITEVTEN = 1 << 9
	i2cITBUFEN = 1 << 10
	i2cDMAEN   = 1 << 11

	i2cSB    = 1 << 0
	i2cADDR  = 1 << 1
	i2cBTF   = 1 << 2
	i2cSTOPF = 1 << 4
	i2cRXNE  = 1 << 6
	i2cTXE   = 1 << 7
	i2cBERR  = 1 << 8
	i2cARLO  = 1 << 9
	i2cAF    = 1 << 10
	i2cOVR   = 1 << 11

	i2cMSL  = 1 << 0
	i2cBUSY = 1 << 1
	i2cTRA  = 1 << 2
)

// I2CKind classifies a bus symbol.
type I2CKind uint8

// Bus symbols.
const (
	I2CStart I2CKind = iota
	I2CRestart
	I2CByte
	I2CAck
	I2CNack
	I2CStop
)

// I2CSymbol is one observed bus condition or byte.
type I2CSymbol struct {
	Kind I2CKind
	Byte byte
}

func (s I2CSymbol) String() string {
	switch s.Kind {
	case I2CStart:
		return "START"
	case I2CRestart:
		return "RESTART"
	case I2CByte:
		return fmt.Sprintf("0x%02X", s.Byte)
	case I2CAck:
		return "ACK"
	case I2CNack:
		return "NACK"
	}
	return "STOP"
}

// I2CDevice is a target attached to the simulated bus by a test.
type I2CDevice interface {
	// Address reports whether the device acknowledges its address.
	Address(read bool) bool
	// Receive takes a byte from the controller and reports the ACK.
	Receive(b byte) bool
	// Transmit returns the next byte for the controller.
	Transmit() byte
	Stop()
}

// i2cTarget is the bus-side view of an addressed target. put and get
// report ready=false while the target stretches the clock, and call
// resume once it can continue.
type i2cTarget interface {
	address(read bool) bool
	put(b byte, resume func()) (ack, ready bool)
	get(resume func()) (b byte, ready bool)
	acked(ack bool)
	stop()
}

// I2CBus is the shared SDA/SCL pair of every I²C block and attached
// device.
type I2CBus struct {
	m       *Machine
	owner   *i2cModel
	waiting []*i2cModel
	devices map[uint8]I2CDevice
	trace   []I2CSymbol
}

func (b *I2CBus) emit(k I2CKind, v byte) { b.trace = append(b.trace, I2CSymbol{k, v}) }

// Attach connects dev at the 7-bit address addr.
func (b *I2CBus) Attach(addr uint8, dev I2CDevice) {
	if b.devices == nil {
		b.devices = map[uint8]I2CDevice{}
	}
	b.devices[addr&0x7F] = dev
}

// Trace returns the recorded bus symbols.
func (b *I2CBus) Trace() []I2CSymbol { return append([]I2CSymbol(nil), b.trace...) }

// ClearTrace forgets the recorded symbols.
func (b *I2CBus) ClearTrace() { b.trace = nil }

// TraceString renders the trace as "START 0xAA ACK ...".
func (b *I2CBus) TraceString() string {
	s := make([]string, len(b.trace))
	for i, x := range b.trace {
		s[i] = x.String()
	}
	return strings.Join(s, " ")
}

func (b *I2CBus) resolve(addr uint8, read bool) i2cTarget {
	for _, p := range []chip.Periph{chip.I2C1, chip.I2C2, chip.I2C3} {
		c := b.m.i2cs[p]
		if c != b.owner && b.m.rcc.enabled(p) && c.cr1&i2cPE != 0 && c.sr2&i2cMSL == 0 &&
			uint8(c.oar1>>1&0x7F) == addr {
			return c
		}
	}
	if d, ok := b.devices[addr]; ok {
		return deviceTarget{d}
	}
	return nil
}

func (b *I2CBus) release() {
	b.owner = nil
	if len(b.waiting) > 0 {
		c := b.waiting[0]
		b.waiting = b.waiting[1:]
		c.begin()
	}
}

// I2CBus returns the shared bus.
func (m *Machine) I2CBus() *I2CBus { return m.i2cBus }

type deviceTarget struct{ d I2CDevice }

func (t deviceTarget) address(read bool) bool            { return t.d.Address(read) }
func (t deviceTarget) put(b byte, _ func()) (bool, bool) { return t.d.Receive(b), true }
func (t deviceTarget) get(_ func()) (byte, bool)         { return t.d.Transmit(), true }
func (t deviceTarget) acked(bool)                        {}
func (t deviceTarget) stop()                             { t.d.Stop() }

// i2cModel is one I2C block acting as master or addressed slave.
type i2cModel struct {
	m   *Machine
	p   chip.Periph
	bus *I2CBus

	cr1, cr2, oar1, oar2 uint32
	ccr, trise, fltr     uint32
	sr1, sr2             uint32

	dr      byte
	txFull  bool
	sr1Read bool

	// master
	target    i2cTarget
	reading   bool
	addrPhase bool
	shifting  bool
	stopReq   bool
	startReq  bool
	hold      []byte
	lastAck   bool
	ackNext   bool
	pend      *event

	// slave
	addressed bool
	waiter    func()
}

func newI2C(m *Machine, p chip.Periph) *i2cModel {
	c := &i2cModel{m: m, p: p, bus: m.i2cBus}
	c.reset()
	return c
}

func (c *i2cModel) reset() {
	c.m.cancel(c.pend)
	if c.bus.owner == c {
		c.bus.owner = nil
	}
	*c = i2cModel{m: c.m, p: c.p, bus: c.bus}
	c.sync()
}

func (c *i2cModel) irqs() (ev, er chip.IRQ) {
	switch c.p {
	case chip.I2C1:
		return chip.IRQI2C1EV, chip.IRQI2C1ER
	case chip.I2C2:
		return chip.IRQI2C2EV, chip.IRQI2C2ER
	}
	return chip.IRQI2C3EV, chip.IRQI2C3ER
}

func (c *i2cModel) sync() {
	ev, er := c.irqs()
	s := c.sr1
	evt := c.cr2&i2cITEVTEN != 0 && (s&(i2cSB|i2cADDR|i2cBTF|i2cSTOPF) != 0 ||
		c.cr2&i2cITBUFEN != 0 && s&(i2cTXE|i2cRXNE) != 0)
	c.m.line(ev, evt)
	c.m.line(er, c.cr2&i2cITERREN != 0 && s&0xDF00 != 0)
	c.m.dmaKick()
}

func (c *i2cModel) dmaLevel(tx bool) bool {
	if c.cr2&i2cDMAEN == 0 {
		return false
	}
	if tx {
		return c.sr1&i2cTXE != 0 && c.sr2&i2cTRA != 0 && c.sr1&i2cADDR == 0 && !c.txFull
	}
	return c.sr1&i2cRXNE != 0
}

func (c *i2cModel) master() bool { return c.sr2&i2cMSL != 0 }

// sclPeriod derives the SCL period from CCR and the APB1 clock.
func (c *i2cModel) sclPeriod() int64 {
	ccr := int64(c.ccr & 0xFFF)
	if ccr == 0 {
		return ps(10_000) // 100 kHz
	}
	t := period(c.m.rcc.pclk(chip.APB1))
	switch {
	case c.ccr&(1<<15) == 0:
		return 2 * ccr * t
	case c.ccr&(1<<14) == 0:
		return 3 * ccr * t
	}
	return 25 * ccr * t
}

func (c *i2cModel) byteTime() int64 { return 9 * c.sclPeriod() }

func (c *i2cModel) read(off uint32, _ int) uint32 {
	switch off {
	case i2cCR1:
		return c.cr1
	case i2cCR2:
		return c.cr2
	case i2cOAR1:
		return c.oar1
	case i2cOAR2:
		return c.oar2
	case i2cDR:
		return uint32(c.readDR())
	case i2cSR1:
		c.sr1Read = true
		return c.sr1
	case i2cSR2:
		v := c.sr2
		if c.sr1Read && c.sr1&i2cADDR != 0 {
			c.sr1 &^= i2cADDR
			c.sr1Read = false
			c.addrCleared()
		}
		return v
	case i2cCCR:
		return c.ccr
	case i2cTRISE:
		return c.trise
	case i2cFLTR:
		return c.fltr
	}
	return 0
}

func (c *i2cModel) write(off uint32, _ int, v uint32) {
	switch off {
	case i2cCR1:
		c.writeCR1(v)
	case i2cCR2:
		c.cr2 = v & 0x1F3F
	case i2cOAR1:
		c.oar1 = v
	case i2cOAR2:
		c.oar2 = v
	case i2cDR:
		c.writeDR(byte(v))
	case i2cSR1:
		c.sr1 &^= 0xDF00 &^ v
	case i2cCCR:
		c.ccr = v
	case i2cTRISE:
		c.trise = v & 0x3F
	case i2cFLTR:
		c.fltr = v & 0x1F
	}
	c.sync()
}

func (c *i2cModel) writeCR1(v uint32) {
	if c.sr1Read && c.sr1&i2cSTOPF != 0 {
		c.sr1 &^= i2cSTOPF
	}
	c.sr1Read = false
	if v&i2cSWRST != 0 {
		c.reset()
		c.cr1 = i2cSWRST
		return
	}
	old := c.cr1
	c.cr1 = v & 0xBFFF
	if c.cr1&i2cPE == 0 {
		c.cr1 &^= i2cACK
		if old&i2cPE != 0 {
			c.abort()
		}
		return
	}
	if c.cr1&i2cSTART != 0 && old&i2cSTART == 0 {
		switch {
		case !c.master():
			if c.bus.owner == nil {
				c.begin()
			} else if c.bus.owner != c {
				c.bus.waiting = append(c.bus.waiting, c)
			}
		case c.shifting:
			c.startReq = true
		default:
			c.begin()
		}
	}
	if c.cr1&i2cSTOP != 0 && old&i2cSTOP == 0 && c.master() {
		if c.shifting {
			c.stopReq = true
		} else {
			c.end()
		}
	}
}

// begin generates a START or repeated START.
func (c *i2cModel) begin() {
	c.bus.owner = c
	restart := c.master()
	c.sr2 |= i2cMSL | i2cBUSY
	c.sr1 &^= i2cBTF | i2cTXE
	c.addrPhase = true
	c.reading = false
	c.startReq = false
	c.m.cancel(c.pend)
	c.pend = c.m.schedule(c.sclPeriod()/2, func() {
		c.pend = nil
		if restart {
			c.bus.emit(I2CRestart, 0)
		} else {
			c.bus.emit(I2CStart, 0)
		}
		c.cr1 &^= i2cSTART
		c.sr1 |= i2cSB
		c.sync()
	})
}

// end generates a STOP and releases the bus.
func (c *i2cModel) end() {
	c.bus.emit(I2CStop, 0)
	if c.target != nil {
		c.target.stop()
	}
	c.target = nil
	c.cr1 &^= i2cSTOP
	c.stopReq = false
	c.sr2 &^= i2cMSL | i2cBUSY | i2cTRA
	c.sr1 &^= i2cTXE | i2cBTF
	c.addrPhase = false
	c.bus.release()
	c.sync()
}

// abort drops the bus when the peripheral is disabled mid-transfer.
func (c *i2cModel) abort() {
	c.m.cancel(c.pend)
	c.pend = nil
	if c.bus.owner == c {
		c.bus.release()
	}
	c.sr1, c.sr2 = 0, 0
	c.shifting = false
	c.target = nil
	c.sync()
}

func (c *i2cModel) writeDR(b byte) {
	sr1Read := c.sr1Read
	c.sr1Read = false
	if c.master() && c.addrPhase && c.sr1&i2cSB != 0 && sr1Read {
		c.sr1 &^= i2cSB
		c.addrPhase = false
		c.sendAddress(b)
		return
	}
	if !c.master() {
		if c.addressed && c.sr2&i2cTRA != 0 {
			c.dr = b
			c.txFull = true
			c.sr1 &^= i2cTXE | i2cBTF
			c.wake()
		}
		return
	}
	c.dr = b
	c.txFull = true
	c.sr1 &^= i2cTXE | i2cBTF
	c.startTx()
}

func (c *i2cModel) readDR() byte {
	b := c.dr
	c.sr1Read = false
	c.sr1 &^= i2cRXNE | i2cBTF
	switch {
	case len(c.hold) > 0:
		c.dr = c.hold[0]
		c.hold = c.hold[1:]
		c.sr1 |= i2cRXNE
		if c.master() && c.lastAck && !c.stopReq && !c.startReq {
			c.startRx()
		}
	case !c.master():
		c.wake()
	}
	c.sync()
	return b
}

func (c *i2cModel) sendAddress(a byte) {
	read := a&1 != 0
	c.shifting = true
	c.pend = c.m.schedule(c.byteTime(), func() {
		c.pend = nil
		c.shifting = false
		c.bus.emit(I2CByte, a)
		t := c.bus.resolve(a>>1, read)
		if t == nil || !t.address(read) {
			c.bus.emit(I2CNack, 0)
			c.sr1 |= i2cAF
			c.target = nil
		} else {
			c.bus.emit(I2CAck, 0)
			c.target = t
			c.reading = read
			c.sr1 |= i2cADDR
			if read {
				c.sr2 &^= i2cTRA
			} else {
				c.sr2 |= i2cTRA
			}
		}
		c.pending()
		c.sync()
	})
}

// pending applies a STOP or START requested while the shifter was busy.
func (c *i2cModel) pending() {
	switch {
	case c.stopReq:
		c.end()
	case c.startReq:
		c.begin()
	}
}

func (c *i2cModel) addrCleared() {
	if c.master() {
		if c.reading {
			c.startRx()
		} else {
			c.sr1 |= i2cTXE
			c.startTx()
		}
		c.sync()
		return
	}
	if c.sr2&i2cTRA != 0 && !c.txFull {
		c.sr1 |= i2cTXE
	}
	c.wake()
	c.sync()
}

func (c *i2cModel) startTx() {
	if c.shifting || !c.txFull || c.target == nil || c.sr1&i2cADDR != 0 || c.reading {
		return
	}
	b := c.dr
	c.txFull = false
	c.sr1 |= i2cTXE
	c.shifting = true
	c.pend = c.m.schedule(c.byteTime(), func() {
		c.pend = nil
		c.finishTx(b)
	})
}

func (c *i2cModel) finishTx(b byte) {
	ack, ready := c.target.put(b, func() { c.finishTx(b) })
	if !ready {
		return
	}
	c.shifting = false
	c.bus.emit(I2CByte, b)
	if ack {
		c.bus.emit(I2CAck, 0)
	} else {
		c.bus.emit(I2CNack, 0)
		c.sr1 |= i2cAF
	}
	switch {
	case c.stopReq || c.startReq:
		c.pending()
	case ack && c.txFull:
		c.startTx()
	case ack:
		c.sr1 |= i2cBTF
	}
	c.sync()
}

func (c *i2cModel) startRx() {
	if c.shifting || c.target == nil {
		return
	}
	c.shifting = true
	c.ackNext = c.cr1&i2cACK != 0
	c.pend = c.m.schedule(c.byteTime(), func() {
		c.pend = nil
		c.finishRx()
	})
}

func (c *i2cModel) finishRx() {
	b, ready := c.target.get(c.finishRx)
	if !ready {
		return
	}
	c.shifting = false
	// With POS set, ACK was sampled when the byte started shifting.
	ack := c.cr1&i2cACK != 0
	if c.cr1&i2cPOS != 0 {
		ack = c.ackNext
	}
	c.lastAck = ack
	c.bus.emit(I2CByte, b)
	if ack {
		c.bus.emit(I2CAck, 0)
	} else {
		c.bus.emit(I2CNack, 0)
	}
	c.target.acked(ack)
	if c.sr1&i2cRXNE != 0 {
		c.hold = append(c.hold, b)
		c.sr1 |= i2cBTF
	} else {
		c.dr = b
		c.sr1 |= i2cRXNE
	}
	switch {
	case c.stopReq || c.startReq:
		c.pending()
	case ack && len(c.hold) == 0:
		c.startRx()
	}
	c.sync()
}

// Slave side.

func (c *i2cModel) address(read bool) bool {
	if c.cr1&i2cACK == 0 {
		return false
	}
	c.addressed = true
	c.sr1 |= i2cADDR
	c.sr2 |= i2cBUSY
	if read {
		c.sr2 |= i2cTRA
	} else {
		c.sr2 &^= i2cTRA
	}
	c.sync()
	return true
}

func (c *i2cModel) put(b byte, resume func()) (bool, bool) {
	if c.sr1&(i2cADDR|i2cRXNE) != 0 {
		c.waiter = resume
		if c.sr1&i2cRXNE != 0 {
			c.sr1 |= i2cBTF
			c.sync()
		}
		return false, false
	}
	c.dr = b
	c.sr1 |= i2cRXNE
	c.sync()
	return c.cr1&i2cACK != 0, true
}

func (c *i2cModel) get(resume func()) (byte, bool) {
	if c.sr1&i2cADDR != 0 || !c.txFull {
		c.waiter = resume
		if c.sr1&i2cADDR == 0 {
			c.sr1 |= i2cBTF
			c.sync()
		}
		return 0, false
	}
	c.txFull = false
	c.sr1 |= i2cTXE
	c.sync()
	return c.dr, true
}

func (c *i2cModel) acked(ack bool) {
	if !ack {
		c.sr1 |= i2cAF
		c.sr1 &^= i2cTXE
		c.sync()
	}
}

func (c *i2cModel) stop() {
	if !c.addressed {
		return
	}
	c.addressed = false
	c.waiter = nil
	c.sr1 |= i2cSTOPF
	c.sr2 &^= i2cBUSY | i2cTRA
	c.sync()
}

// wake resumes a master stretched by this slave.
func (c *i2cModel) wake() {
	if w := c.waiter; w != nil {
		c.waiter = nil
		w()
	}
}

// EEPROM24 is a 24C-series serial EEPROM with a one or two byte memory
// address.
type EEPROM24 struct {
	mem       []byte
	addrBytes int
	ptr       int
	got       int
	writing   bool
}

// NewEEPROM24 returns a blank (0xFF) EEPROM of size bytes.
func NewEEPROM24(size, addrBytes int) *EEPROM24 {
	e := &EEPROM24{mem: make([]byte, size), addrBytes: addrBytes}
	for i := range e.mem {
		e.mem[i] = 0xFF
	}
	return e
}

func (e *EEPROM24) Address(read bool) bool {
	e.writing = !read
	e.got = 0
	return true
}

func (e *EEPROM24) Receive(b byte) bool {
	if e.got < e.addrBytes {
		if e.got == 0 {
			e.ptr = 0
		}
		e.ptr = e.ptr<<8 | int(b)
		e.ptr %= len(e.mem)
		e.got++
		return true
	}
	e.mem[e.ptr] = b
	e.ptr = (e.ptr + 1) % len(e.mem)
	return true
}

func (e *EEPROM24) Transmit() byte {
	b := e.mem[e.ptr]
	e.ptr = (e.ptr + 1) % len(e.mem)
	return b
}

func (e *EEPROM24) Stop() {}

// Contents returns the memory array.
func (e *EEPROM24) Contents() []byte { return e.mem }
