package sim

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// OTG FS register offsets.
const (
	otgGOTGCTL  = 0x000
	otgGAHBCFG  = 0x008
	otgGUSBCFG  = 0x00C
	otgGRSTCTL  = 0x010
	otgGINTSTS  = 0x014
	otgGINTMSK  = 0x018
	otgGRXSTSR  = 0x01C
	otgGRXSTSP  = 0x020
	otgGRXFSIZ  = 0x024
	otgDIEPTXF0 = 0x028
	otgGCCFG    = 0x038
	otgCID      = 0x03C
	otgDIEPTXF  = 0x104 // + 4*(n-1)

	otgDCFG       = 0x800
	otgDCTL       = 0x804
	otgDSTS       = 0x808
	otgDIEPMSK    = 0x810
	otgDOEPMSK    = 0x814
	otgDAINT      = 0x818
	otgDAINTMSK   = 0x81C
	otgDIEPEMPMSK = 0x834

	otgDIEP    = 0x900 // + 0x20*n: CTL, INT at +8, TSIZ at +0x10, DTXFSTS at +0x18
	otgDOEP    = 0xB00 // + 0x20*n: CTL, INT at +8, TSIZ at +0x10
	otgPCGCCTL = 0xE00
	otgFIFO    = 0x1000 // + 0x1000*n

	otgEndpoints = 4
	otgFIFOWords = 320
)

// GINTSTS bits.
const (
	gintRXFLVL  = 1 << 4
	gintESUSP   = 1 << 10
	gintUSBSUSP = 1 << 11
	gintUSBRST  = 1 << 12
	gintENUMDNE = 1 << 13
	gintIEPINT  = 1 << 18
	gintOEPINT  = 1 << 19
	gintWKUPINT = 1 << 31

	gintW1C = 0xF030_FC0A
)

// Endpoint control and interrupt bits.
const (
	epUSBAEP = 1 << 15
	epNAKSTS = 1 << 17
	epSTALL  = 1 << 21
	epCNAK   = 1 << 26
	epSNAK   = 1 << 27
	epEPDIS  = 1 << 30
	epEPENA  = 1 << 31

	epXFRC   = 1 << 0
	epEPDISD = 1 << 1
	epSTUP   = 1 << 3
	epTXFE   = 1 << 7
)

// RX FIFO packet status values.
const (
	rxOutData   = 2
	rxOutDone   = 3
	rxSetupDone = 4
	rxSetupData = 6
)

type otgRx struct {
	status uint32
	data   []byte
}

type otgEP struct {
	ctl, intr, tsiz uint32
	nak             bool
	fifo            []byte // IN: bytes pushed by the CPU, word padded
}

func (e *otgEP) mps(n int) int {
	if n == 0 {
		return [4]int{64, 32, 16, 8}[e.ctl&3]
	}
	return int(e.ctl & 0x7FF)
}

func (e *otgEP) pktcnt(n int) int {
	if n == 0 {
		return int(e.tsiz >> 19 & 3)
	}
	return int(e.tsiz >> 19 & 0x3FF)
}

func (e *otgEP) xfrsiz(n int) int {
	if n == 0 {
		return int(e.tsiz & 0x7F)
	}
	return int(e.tsiz & 0x7_FFFF)
}

func (e *otgEP) setSize(n, pkts, bytes int) {
	if n == 0 {
		e.tsiz = e.tsiz&^(3<<19|0x7F) | uint32(pkts)<<19 | uint32(bytes)
		return
	}
	e.tsiz = e.tsiz&^(0x3FF<<19|0x7_FFFF) | uint32(pkts)<<19 | uint32(bytes)
}

// otgModel is the OTG FS core in device mode. The host side of the bus is
// driven by USBHost.
type otgModel struct {
	m *Machine

	gotgctl, gahbcfg, gusbcfg uint32
	gintsts, gintmsk          uint32
	grxfsiz                   uint32
	txf                       [otgEndpoints]uint32
	gccfg                     uint32
	dcfg, dctl                uint32
	diepmsk, doepmsk          uint32
	daintmsk, diepempmsk      uint32
	pcgcctl                   uint32
	resetting                 *event

	in, out [otgEndpoints]otgEP
	rx      []otgRx
	cur     []byte // data of the popped RX entry

	addr, oldAddr uint8
	latch         bool
	enumerated    bool
	suspended     bool
	wakeups       int
}

func newOTG(m *Machine) *otgModel {
	o := &otgModel{m: m}
	o.reset()
	return o
}

func (o *otgModel) reset() {
	o.m.cancel(o.resetting)
	*o = otgModel{m: o.m}
	o.coreReset()
}

// coreReset is the state after power-on or GRSTCTL.CSRST.
func (o *otgModel) coreReset() {
	o.gotgctl = 0x0001_0000
	o.gusbcfg = 0x0000_0A00
	o.gintsts = 0x0400_0020
	o.grxfsiz = 0x200
	for i := range o.txf {
		o.txf[i] = 0x0200_0200
	}
	o.dcfg = 0x0220_0000
	o.dctl = 0
	o.in = [otgEndpoints]otgEP{}
	o.out = [otgEndpoints]otgEP{}
	o.rx = nil
	o.cur = nil
	o.addr, o.latch = 0, false
	o.enumerated = false
	o.sync()
}

func (o *otgModel) deviceMode() bool { return o.gusbcfg&(1<<30) != 0 }

// pulledUp reports whether the device presents its D+ pull-up to the host.
func (o *otgModel) pulledUp() bool {
	return o.m.rcc.enabled(chip.OTGFS) && o.deviceMode() &&
		o.gccfg&(1<<16) != 0 && o.dctl&(1<<1) == 0
}

func (o *otgModel) inPending(n int) bool {
	e := &o.in[n]
	if e.intr&o.diepmsk&0x7F != 0 {
		return true
	}
	return len(e.fifo) == 0 && e.ctl&epEPENA != 0 && o.diepempmsk&(1<<n) != 0
}

func (o *otgModel) daint() uint32 {
	var v uint32
	for n := 0; n < otgEndpoints; n++ {
		if o.inPending(n) {
			v |= 1 << n
		}
		if o.out[n].intr&o.doepmsk != 0 {
			v |= 1 << (16 + n)
		}
	}
	return v
}

func (o *otgModel) status() uint32 {
	s := o.gintsts &^ (gintRXFLVL | gintIEPINT | gintOEPINT)
	if len(o.rx) > 0 {
		s |= gintRXFLVL
	}
	d := o.daint() & o.daintmsk
	if d&0xFFFF != 0 {
		s |= gintIEPINT
	}
	if d>>16 != 0 {
		s |= gintOEPINT
	}
	return s
}

func (o *otgModel) sync() {
	o.m.line(chip.IRQOTGFS, o.gahbcfg&1 != 0 && o.status()&o.gintmsk != 0)
}

func (o *otgModel) fifoLayout() (rx int, tx [otgEndpoints][2]int) {
	rx = int(o.grxfsiz & 0xFFFF)
	for i, v := range o.txf {
		tx[i] = [2]int{int(v & 0xFFFF), int(v >> 16)}
	}
	return rx, tx
}

func (o *otgModel) rxUsed() int {
	n := 0
	for _, e := range o.rx {
		n += 1 + (len(e.data)+3)/4
	}
	return n
}

func (o *otgModel) read(off uint32, size int) uint32 {
	switch {
	case off >= otgFIFO:
		return o.popWord()
	case off >= otgDIEP && off < otgDIEP+0x20*otgEndpoints:
		return o.readEP(&o.in[(off-otgDIEP)/0x20], int((off-otgDIEP)/0x20), off&0x1F, true)
	case off >= otgDOEP && off < otgDOEP+0x20*otgEndpoints:
		return o.readEP(&o.out[(off-otgDOEP)/0x20], int((off-otgDOEP)/0x20), off&0x1F, false)
	case off >= otgDIEPTXF && off < otgDIEPTXF+4*(otgEndpoints-1):
		return o.txf[1+(off-otgDIEPTXF)/4]
	}
	switch off {
	case otgGOTGCTL:
		return o.gotgctl
	case otgGAHBCFG:
		return o.gahbcfg
	case otgGUSBCFG:
		return o.gusbcfg
	case otgGRSTCTL:
		v := uint32(1 << 31) // AHBIDL
		if o.resetting != nil {
			v |= 1
		}
		return v
	case otgGINTSTS:
		return o.status()
	case otgGINTMSK:
		return o.gintmsk
	case otgGRXSTSR:
		if len(o.rx) == 0 {
			return 0
		}
		return o.rx[0].status
	case otgGRXSTSP:
		return o.popStatus()
	case otgGRXFSIZ:
		return o.grxfsiz
	case otgDIEPTXF0:
		return o.txf[0]
	case otgGCCFG:
		return o.gccfg
	case otgCID:
		return 0x0000_1200
	case otgDCFG:
		return o.dcfg
	case otgDCTL:
		return o.dctl
	case otgDSTS:
		v := uint32(o.m.now/ps(1e6)) & 0x3FFF << 8
		if o.suspended {
			v |= 1
		}
		if o.enumerated {
			v |= 3 << 1
		}
		return v
	case otgDIEPMSK:
		return o.diepmsk
	case otgDOEPMSK:
		return o.doepmsk
	case otgDAINT:
		return o.daint()
	case otgDAINTMSK:
		return o.daintmsk
	case otgDIEPEMPMSK:
		return o.diepempmsk
	case otgPCGCCTL:
		return o.pcgcctl
	}
	return 0
}

func (o *otgModel) readEP(e *otgEP, n int, reg uint32, in bool) uint32 {
	switch reg {
	case 0x00:
		v := e.ctl
		if e.nak {
			v |= epNAKSTS
		}
		if n == 0 {
			v |= epUSBAEP
		}
		return v
	case 0x08:
		if in && len(e.fifo) == 0 {
			return e.intr | epTXFE
		}
		return e.intr
	case 0x10:
		return e.tsiz
	case 0x18:
		if in {
			return uint32(o.txFree(n))
		}
	}
	return 0
}

func (o *otgModel) txFree(n int) int {
	depth := int(o.txf[n] >> 16)
	free := depth - len(o.in[n].fifo)/4
	if free < 0 {
		return 0
	}
	return free
}

func (o *otgModel) write(off uint32, size int, v uint32) {
	switch {
	case off >= otgFIFO:
		o.pushWord(int(off/otgFIFO-1), v)
	case off >= otgDIEP && off < otgDIEP+0x20*otgEndpoints:
		o.writeEP(&o.in[(off-otgDIEP)/0x20], int((off-otgDIEP)/0x20), off&0x1F, v, true)
	case off >= otgDOEP && off < otgDOEP+0x20*otgEndpoints:
		o.writeEP(&o.out[(off-otgDOEP)/0x20], int((off-otgDOEP)/0x20), off&0x1F, v, false)
	case off >= otgDIEPTXF && off < otgDIEPTXF+4*(otgEndpoints-1):
		o.txf[1+(off-otgDIEPTXF)/4] = v
		o.checkLayout()
	}
	switch off {
	case otgGOTGCTL:
		o.gotgctl = o.gotgctl&^0x0F00 | v&0x0F00
	case otgGAHBCFG:
		o.gahbcfg = v & 0x181
	case otgGUSBCFG:
		o.gusbcfg = v &^ (1 << 31)
	case otgGRSTCTL:
		o.writeRST(v)
	case otgGINTSTS:
		o.gintsts &^= v & gintW1C
	case otgGINTMSK:
		o.gintmsk = v
	case otgGRXFSIZ:
		o.grxfsiz = v & 0xFFFF
		o.checkLayout()
	case otgDIEPTXF0:
		o.txf[0] = v
		o.checkLayout()
	case otgGCCFG:
		o.gccfg = v & 0x003F_0000
	case otgDCFG:
		o.writeDCFG(v)
	case otgDCTL:
		if v&1 != 0 && o.dctl&1 == 0 && o.suspended {
			o.wakeups++
			pkg.LogDebug(pkg.ComponentSim, "USB remote wakeup signalled")
		}
		o.dctl = v & 0xF83
	case otgDIEPMSK:
		o.diepmsk = v
	case otgDOEPMSK:
		o.doepmsk = v
	case otgDAINTMSK:
		o.daintmsk = v
	case otgDIEPEMPMSK:
		o.diepempmsk = v & 0xFFFF
	case otgPCGCCTL:
		o.pcgcctl = v & 0x13
	}
	o.sync()
}

func (o *otgModel) writeRST(v uint32) {
	if v&1 != 0 && o.resetting == nil {
		o.resetting = o.m.schedule(3*o.m.rcc.hclkPeriod, func() {
			o.resetting = nil
			msk, cfg := o.gintmsk, o.gccfg
			o.coreReset()
			// the soft reset leaves the control registers intact
			o.gintmsk, o.gccfg = msk, cfg
			o.sync()
		})
	}
	if v&(1<<4) != 0 {
		o.rx, o.cur = nil, nil
	}
	if v&(1<<5) != 0 {
		num := int(v >> 6 & 0x1F)
		for i := range o.in {
			if num == 0x10 || num == i {
				o.in[i].fifo = nil
			}
		}
	}
}

func (o *otgModel) writeDCFG(v uint32) {
	addr := uint8(v >> 4 & 0x7F)
	if addr != o.addr {
		// the new address takes effect once the status stage completes
		o.oldAddr, o.addr, o.latch = o.addr, addr, true
	}
	o.dcfg = v
}

func (o *otgModel) writeEP(e *otgEP, n int, reg uint32, v uint32, in bool) {
	switch reg {
	case 0x00:
		keep := uint32(0x03FC_87FF) // MPSIZ, USBAEP, EPTYP, TXFNUM
		if !in {
			keep = 0x000C_87FF
		}
		ctl := e.ctl&^keep | v&keep
		if n == 0 {
			ctl |= v & epSTALL
		} else {
			ctl = ctl&^epSTALL | v&epSTALL
		}
		if v&epCNAK != 0 {
			e.nak = false
		}
		if v&epSNAK != 0 {
			e.nak = true
		}
		if v&epEPDIS != 0 && ctl&epEPENA != 0 {
			ctl &^= epEPENA
			e.intr |= epEPDISD
		}
		if v&epEPENA != 0 {
			ctl |= epEPENA
		}
		e.ctl = ctl
	case 0x08:
		e.intr &^= v &^ epTXFE
	case 0x10:
		e.tsiz = v
	}
}

func (o *otgModel) checkLayout() {
	rx, tx := o.fifoLayout()
	end := rx
	for _, t := range tx {
		if t[1] == 0 {
			continue
		}
		if t[0] < end {
			pkg.LogWarn(pkg.ComponentSim, "USB TX FIFO overlaps", "start", t[0], "end", end)
		}
		if t[0]+t[1] > end {
			end = t[0] + t[1]
		}
	}
	if end > otgFIFOWords {
		pkg.LogWarn(pkg.ComponentSim, "USB FIFO partition exceeds RAM", "words", end)
	}
}

func (o *otgModel) pushWord(n int, v uint32) {
	if n < 0 || n >= otgEndpoints {
		return
	}
	if o.txFree(n) == 0 {
		pkg.LogWarn(pkg.ComponentSim, "USB TX FIFO overflow", "ep", n)
		return
	}
	o.in[n].fifo = append(o.in[n].fifo, putN(v, 4)...)
}

func (o *otgModel) popStatus() uint32 {
	if len(o.rx) == 0 {
		return 0
	}
	e := o.rx[0]
	o.rx = o.rx[1:]
	o.cur = e.data
	ep := e.status & 0xF
	switch e.status >> 17 & 0xF {
	case rxSetupDone:
		o.out[0].intr |= epSTUP
	case rxOutDone:
		o.out[ep].intr |= epXFRC
	}
	o.sync()
	return e.status
}

func (o *otgModel) popWord() uint32 {
	v := getN(append(o.cur, 0, 0, 0, 0), 4)
	if len(o.cur) > 4 {
		o.cur = o.cur[4:]
	} else {
		o.cur = nil
	}
	return v
}

// responds reports whether the device answers tokens sent to addr.
func (o *otgModel) responds(addr uint8) bool {
	return o.pulledUp() && o.enumerated && !o.suspended &&
		(addr == o.addr || o.latch && addr == o.oldAddr)
}

func rxStatus(ep, kind, n int) uint32 {
	return uint32(ep) | uint32(n)<<4 | uint32(kind)<<17
}

// busReset is the end of a host reset signal.
func (o *otgModel) busReset() {
	o.gintsts |= gintUSBRST | gintENUMDNE
	o.enumerated = true
	o.suspended = false
	o.addr, o.latch = 0, false
	o.dcfg &^= 0x7F << 4
	for n := range o.in {
		o.in[n].ctl &^= epEPENA | epSTALL
		o.out[n].ctl &^= epEPENA | epSTALL
		o.in[n].nak, o.out[n].nak = true, true
		o.in[n].fifo = nil
	}
	o.rx, o.cur = nil, nil
	o.sync()
}

func (o *otgModel) suspend() {
	o.suspended = true
	o.gintsts |= gintUSBSUSP | gintESUSP
	o.sync()
}

func (o *otgModel) resume() {
	o.suspended = false
	o.dctl &^= 1
	o.gintsts |= gintWKUPINT
	o.sync()
}

// setup delivers a SETUP packet to endpoint 0.
func (o *otgModel) setup(p [8]byte) {
	o.rx = append(o.rx,
		otgRx{status: rxStatus(0, rxSetupData, 8), data: p[:]},
		otgRx{status: rxStatus(0, rxSetupDone, 0)})
	o.in[0].ctl &^= epSTALL
	o.out[0].ctl &^= epSTALL
	o.in[0].nak, o.out[0].nak = true, true
	if c := o.out[0].tsiz >> 29 & 3; c > 0 {
		o.out[0].tsiz = o.out[0].tsiz&^(3<<29) | (c-1)<<29
	}
	o.sync()
}

// outData delivers one OUT packet.
func (o *otgModel) outData(n int, p []byte) error {
	e := &o.out[n]
	if e.ctl&epSTALL != 0 {
		return pkg.ErrStall
	}
	if e.ctl&epEPENA == 0 || e.nak {
		return pkg.ErrNAK
	}
	mps := e.mps(n)
	if len(p) > mps {
		return pkg.ErrOverrun
	}
	if o.rxUsed()+1+(len(p)+3)/4 > int(o.grxfsiz&0xFFFF) {
		return pkg.ErrNAK
	}
	o.rx = append(o.rx, otgRx{status: rxStatus(n, rxOutData, len(p)), data: append([]byte(nil), p...)})
	pkts, size := e.pktcnt(n)-1, e.xfrsiz(n)-len(p)
	if size < 0 {
		size = 0
	}
	if pkts < 0 {
		pkts = 0
	}
	e.setSize(n, pkts, size)
	if pkts == 0 || len(p) < mps {
		o.rx = append(o.rx, otgRx{status: rxStatus(n, rxOutDone, 0)})
		e.ctl &^= epEPENA
		e.nak = true
	}
	o.sync()
	return nil
}

// inData answers one IN token.
func (o *otgModel) inData(n int) ([]byte, error) {
	e := &o.in[n]
	if e.ctl&epSTALL != 0 {
		return nil, pkg.ErrStall
	}
	if e.ctl&epEPENA == 0 || e.nak {
		return nil, pkg.ErrNAK
	}
	size := e.mps(n)
	if x := e.xfrsiz(n); x < size {
		size = x
	}
	if len(e.fifo) < size {
		return nil, pkg.ErrNAK
	}
	p := append([]byte(nil), e.fifo[:size]...)
	pad := (size + 3) &^ 3
	if pad > len(e.fifo) {
		pad = len(e.fifo)
	}
	e.fifo = e.fifo[pad:]
	pkts := e.pktcnt(n) - 1
	if pkts < 0 {
		pkts = 0
	}
	e.setSize(n, pkts, e.xfrsiz(n)-size)
	if pkts == 0 {
		e.ctl &^= epEPENA
		e.intr |= epXFRC
	}
	if n == 0 && o.latch {
		o.latch = false
	}
	o.sync()
	return p, nil
}
