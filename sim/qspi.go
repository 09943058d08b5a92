package sim

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// QUADSPI register offsets and bits.
const (
	qspiCR    = 0x00
	qspiDCR   = 0x04
	qspiSR    = 0x08
	qspiFCR   = 0x0C
	qspiDLR   = 0x10
	qspiCCR   = 0x14
	qspiAR    = 0x18
	qspiABR   = 0x1C
	qspiDR    = 0x20
	qspiPSMKR = 0x24
	qspiPSMAR = 0x28
	qspiPIR   = 0x2C
	qspiLPTR  = 0x30

	qspiEN    = 1 << 0
	qspiABORT = 1 << 1
	qspiDMAEN = 1 << 2
	qspiTEIE  = 1 << 16
	qspiTCIE  = 1 << 17
	qspiFTIE  = 1 << 18
	qspiSMIE  = 1 << 19
	qspiTOIE  = 1 << 20
	qspiAPMS  = 1 << 22
	qspiPMM   = 1 << 23

	qspiTEF  = 1 << 0
	qspiTCF  = 1 << 1
	qspiFTF  = 1 << 2
	qspiSMF  = 1 << 3
	qspiTOF  = 1 << 4
	qspiBUSY = 1 << 5

	qspiFIFO = 32

	fmodeWrite  = 0
	fmodeRead   = 1
	fmodePoll   = 2
	fmodeMapped = 3
)

// qspiXfer is one command as seen on the wire. Modes are line counts: 0
// (phase skipped), 1, 2 or 4.
type qspiXfer struct {
	inst      byte
	imode     uint8
	addr      uint32
	admode    uint8
	addrBytes int
	alt       uint32
	abmode    uint8
	altBytes  int
	dummy     int
	dmode     uint8
}

type qspiTarget interface {
	begin(x qspiXfer)
	read() byte
	write(b byte)
	end()
}

func lines(mode uint32) uint8 { return [4]uint8{0, 1, 2, 4}[mode&3] }

// qspiModel is the QUADSPI controller.
type qspiModel struct {
	m            *Machine
	flash        qspiTarget
	cr, dcr, sr  uint32
	dlr, ccr, ar uint32
	abr          uint32
	psmkr, psmar uint32
	pir, lptr    uint32
	fifo         []byte
	remaining    int // bytes left in the data phase; -1 means undefined length
	active       bool
	op           *event
	commands     int
}

func newQSPI(m *Machine, flash *W25Q) *qspiModel {
	flash.m = m
	q := &qspiModel{m: m, flash: flash}
	q.reset()
	return q
}

func (q *qspiModel) reset() {
	q.m.cancel(q.op)
	*q = qspiModel{m: q.m, flash: q.flash}
	q.sync()
}

func (q *qspiModel) fmode() uint32 { return q.ccr >> 26 & 3 }

func (q *qspiModel) threshold() int { return int(q.cr>>8&0x1F) + 1 }

func (q *qspiModel) sync() {
	s, c := q.sr, q.cr
	// FTF follows the FIFO level in indirect mode
	if q.active && (q.fmode() == fmodeRead || q.fmode() == fmodeWrite) {
		s &^= qspiFTF
		if q.fmode() == fmodeRead && (len(q.fifo) >= q.threshold() || q.remaining == 0 && len(q.fifo) > 0) ||
			q.fmode() == fmodeWrite && q.remaining > 0 && qspiFIFO-len(q.fifo) >= q.threshold() {
			s |= qspiFTF
		}
		q.sr = s
	}
	q.m.line(chip.IRQQUADSPI, c&qspiTEIE != 0 && s&qspiTEF != 0 ||
		c&qspiTCIE != 0 && s&qspiTCF != 0 ||
		c&qspiFTIE != 0 && s&qspiFTF != 0 ||
		c&qspiSMIE != 0 && s&qspiSMF != 0 ||
		c&qspiTOIE != 0 && s&qspiTOF != 0)
	q.m.dmaKick()
}

func (q *qspiModel) dmaLevel() bool {
	return q.cr&qspiDMAEN != 0 && q.active && q.sr&qspiFTF != 0 &&
		(q.fmode() == fmodeRead || q.fmode() == fmodeWrite)
}

func (q *qspiModel) flashSize() uint32 { return 2 << (q.dcr >> 16 & 0x1F) }

// clk is the QUADSPI clock period.
func (q *qspiModel) clk() int64 { return q.m.rcc.hclkPeriod * int64(q.cr>>24+1) }

func (q *qspiModel) xfer(addr uint32) qspiXfer {
	c := q.ccr
	return qspiXfer{
		inst:      byte(c),
		imode:     lines(c >> 8),
		addr:      addr,
		admode:    lines(c >> 10),
		addrBytes: int(c>>12&3) + 1,
		alt:       q.abr,
		abmode:    lines(c >> 14),
		altBytes:  int(c>>16&3) + 1,
		dummy:     int(c >> 18 & 0x1F),
		dmode:     lines(c >> 24),
	}
}

// header is the number of clock cycles before the data phase.
func (x qspiXfer) header() int64 {
	n := int64(x.dummy)
	if x.imode != 0 {
		n += 8 / int64(x.imode)
	}
	if x.admode != 0 {
		n += int64(x.addrBytes) * 8 / int64(x.admode)
	}
	if x.abmode != 0 {
		n += int64(x.altBytes) * 8 / int64(x.abmode)
	}
	return n
}

func (x qspiXfer) byteCycles() int64 {
	if x.dmode == 0 {
		return 0
	}
	return 8 / int64(x.dmode)
}

func (q *qspiModel) read(off uint32, size int) uint32 {
	switch off {
	case qspiCR:
		return q.cr
	case qspiDCR:
		return q.dcr
	case qspiSR:
		return q.sr | uint32(len(q.fifo))<<8
	case qspiDLR:
		return q.dlr
	case qspiCCR:
		return q.ccr
	case qspiAR:
		return q.ar
	case qspiABR:
		return q.abr
	case qspiDR:
		return q.readDR(size)
	case qspiPSMKR:
		return q.psmkr
	case qspiPSMAR:
		return q.psmar
	case qspiPIR:
		return q.pir
	case qspiLPTR:
		return q.lptr
	}
	return 0
}

func (q *qspiModel) write(off uint32, size int, v uint32) {
	busy := q.sr&qspiBUSY != 0
	switch off {
	case qspiCR:
		q.writeCR(v)
	case qspiDCR:
		if !busy {
			q.dcr = v & 0x001F_0701
		}
	case qspiFCR:
		q.sr &^= v & (qspiTEF | qspiTCF | qspiSMF | qspiTOF)
	case qspiDLR:
		if !busy {
			q.dlr = v
		}
	case qspiCCR:
		if !busy {
			q.ccr = v
			q.trigger(off)
		}
	case qspiAR:
		if !busy {
			q.ar = v
			q.trigger(off)
		}
	case qspiABR:
		if !busy {
			q.abr = v
		}
	case qspiDR:
		q.writeDR(v, size)
	case qspiPSMKR:
		if !busy {
			q.psmkr = v
		}
	case qspiPSMAR:
		if !busy {
			q.psmar = v
		}
	case qspiPIR:
		if !busy {
			q.pir = v & 0xFFFF
		}
	case qspiLPTR:
		if !busy {
			q.lptr = v & 0xFFFF
		}
	}
	q.sync()
}

func (q *qspiModel) writeCR(v uint32) {
	if v&qspiABORT != 0 {
		q.abort()
		v &^= qspiABORT
	}
	if q.sr&qspiBUSY != 0 {
		// only EN, ABORT, DMAEN and the interrupt enables change while busy
		q.cr = q.cr&^(qspiEN|qspiDMAEN|0x1F_0000) | v&(qspiEN|qspiDMAEN|0x1F_0000)
	} else {
		q.cr = v &^ (1 << 5) & 0xFFDF_1FDF
	}
	if q.cr&qspiEN == 0 && q.active {
		q.abort()
	}
}

func (q *qspiModel) abort() {
	q.m.cancel(q.op)
	q.op = nil
	if q.active {
		q.flash.end()
	}
	q.active = false
	q.fifo = q.fifo[:0]
	q.sr &^= qspiBUSY | qspiFTF
	q.cr &^= qspiABORT
	if q.fmode() == fmodeMapped {
		q.ccr &^= 3 << 26
	}
}

// trigger starts the command once the last field it needs is written.
func (q *qspiModel) trigger(field uint32) {
	if q.cr&qspiEN == 0 {
		return
	}
	needAddr := q.ccr>>10&3 != 0
	needData := q.ccr>>24&3 != 0
	switch q.fmode() {
	case fmodeMapped:
		if field == qspiCCR {
			q.sr |= qspiBUSY
			q.commands++
		}
		return
	case fmodeWrite:
		if needData {
			if needAddr && field == qspiAR {
				q.start()
			} else if !needAddr && field == qspiCCR {
				q.start()
			}
			// the data phase waits for the first DR write
			return
		}
	}
	if needAddr && field == qspiAR || !needAddr && field == qspiCCR {
		q.start()
	}
}

func (q *qspiModel) start() {
	x := q.xfer(q.ar)
	if x.admode != 0 && q.ar >= q.flashSize() {
		q.sr |= qspiTEF
		pkg.LogWarn(pkg.ComponentQSPI, "QUADSPI address beyond flash size", "addr", q.ar)
		return
	}
	q.commands++
	q.active = true
	q.sr |= qspiBUSY
	q.sr &^= qspiTCF
	q.fifo = q.fifo[:0]
	q.remaining = -1
	if x.dmode != 0 && q.dlr != 0xFFFF_FFFF {
		q.remaining = int(q.dlr) + 1
	}
	if x.dmode == 0 {
		q.remaining = 0
	}
	q.flash.begin(x)
	d := x.header() * q.clk()
	switch q.fmode() {
	case fmodeRead:
		q.op = q.m.schedule(d, q.fill)
	case fmodeWrite:
		q.op = q.m.schedule(d, q.drain)
	case fmodePoll:
		q.op = q.m.schedule(d, q.poll)
	}
}

// fill clocks bytes from the flash into the FIFO until it is full.
func (q *qspiModel) fill() {
	q.op = nil
	x := q.xfer(q.ar)
	n := qspiFIFO - len(q.fifo)
	if q.remaining >= 0 && q.remaining < n {
		n = q.remaining
	}
	for i := 0; i < n; i++ {
		q.fifo = append(q.fifo, q.flash.read())
	}
	if q.remaining > 0 {
		q.remaining -= n
	}
	if q.remaining == 0 {
		q.complete()
	}
	q.sync()
	if q.remaining != 0 && len(q.fifo) < qspiFIFO {
		q.op = q.m.schedule(int64(qspiFIFO-len(q.fifo))*x.byteCycles()*q.clk(), q.fill)
	}
}

// drain clocks FIFO bytes out to the flash.
func (q *qspiModel) drain() {
	q.op = nil
	n := len(q.fifo)
	if q.remaining >= 0 && q.remaining < n {
		n = q.remaining
	}
	for _, b := range q.fifo[:n] {
		q.flash.write(b)
	}
	q.fifo = q.fifo[n:]
	if q.remaining > 0 {
		q.remaining -= n
	}
	if q.remaining == 0 {
		q.complete()
	}
	q.sync()
}

func (q *qspiModel) complete() {
	q.flash.end()
	q.sr |= qspiTCF
	if q.fmode() != fmodeRead || len(q.fifo) == 0 {
		q.active = false
		q.sr &^= qspiBUSY
	}
}

// poll reads the status bytes once and compares them.
func (q *qspiModel) poll() {
	q.op = nil
	x := q.xfer(q.ar)
	n := int(q.dlr&3) + 1
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(q.flash.read()) << (8 * i)
	}
	q.flash.end()
	q.fifo = append(q.fifo[:0], putN(v, n)...)
	mask := q.psmkr & (1<<(8*n) - 1)
	if n == 4 {
		mask = q.psmkr
	}
	match := v&mask == q.psmar&mask
	if q.cr&qspiPMM != 0 {
		match = ^(v^q.psmar)&mask != 0
	}
	if match {
		q.sr |= qspiSMF
		if q.cr&qspiAPMS != 0 {
			q.active = false
			q.sr &^= qspiBUSY
			q.sync()
			return
		}
	}
	q.sync()
	interval := (int64(q.pir) + 1 + x.header() + int64(n)*x.byteCycles()) * q.clk()
	q.op = q.m.schedule(interval, func() {
		q.flash.begin(x)
		q.poll()
	})
}

func (q *qspiModel) readDR(size int) uint32 {
	if q.fmode() == fmodePoll {
		return getN(append(q.fifo, 0, 0, 0, 0), 4)
	}
	if q.fmode() != fmodeRead {
		return 0
	}
	n := size
	if n > len(q.fifo) {
		n = len(q.fifo)
	}
	v := getN(q.fifo, n)
	q.fifo = q.fifo[n:]
	if !q.active {
		return v
	}
	if q.remaining == 0 && len(q.fifo) == 0 {
		q.active = false
		q.sr &^= qspiBUSY
	} else if q.op == nil && q.remaining != 0 {
		q.op = q.m.schedule(int64(n)*q.xfer(q.ar).byteCycles()*q.clk(), q.fill)
	}
	q.sync()
	return v
}

func (q *qspiModel) writeDR(v uint32, size int) {
	if q.fmode() != fmodeWrite || q.cr&qspiEN == 0 {
		return
	}
	if !q.active {
		if q.ccr>>24&3 == 0 {
			return
		}
		q.start()
		if !q.active {
			return
		}
		q.m.cancel(q.op)
		q.op = nil
	}
	if len(q.fifo)+size > qspiFIFO {
		// the bus stalls until space frees; the model drains at once
		q.drain()
	}
	q.fifo = append(q.fifo, putN(v, size)...)
	if q.op == nil {
		x := q.xfer(q.ar)
		q.op = q.m.schedule(int64(size)*x.byteCycles()*q.clk(), q.drain)
	}
}

// mapped reads n bytes at off through the memory-mapped command.
func (q *qspiModel) mapped(off uint32, n int) (uint32, bool) {
	if q.cr&qspiEN == 0 || q.fmode() != fmodeMapped || off+uint32(n) > q.flashSize() {
		return 0, false
	}
	x := q.xfer(off)
	q.flash.begin(x)
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(q.flash.read()) << (8 * i)
	}
	q.flash.end()
	return v, true
}

// qspiWindow is the 0x9000_0000 memory-mapped region.
type qspiWindow struct{ q *qspiModel }

func (w *qspiWindow) read(off uint32, size int) uint32 {
	v, ok := w.q.mapped(off, size)
	if !ok {
		pkg.LogWarn(pkg.ComponentQSPI, "QUADSPI window read outside memory-mapped mode", "off", off)
	}
	return v
}

func (w *qspiWindow) write(off uint32, _ int, _ uint32) {
	pkg.LogWarn(pkg.ComponentQSPI, "QUADSPI window is read-only", "off", off)
}

// QSPICommands returns the number of commands the controller has started.
func (m *Machine) QSPICommands() int { return m.qspi.commands }
