package otgfs

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// Controller resources.
const (
	// Endpoints is the number of endpoints in each direction.
	Endpoints = 4

	// FIFOWords is the size of the shared packet memory in 32-bit words.
	FIFOWords = 320

	// RxFIFOWords is the receive FIFO share of the packet memory. It is
	// fixed so SETUP packets are never refused.
	RxFIFOWords = 128

	// MaxPacketSize is the largest packet of a full speed endpoint
	// supported here.
	MaxPacketSize = 64

	ep0Words  = MaxPacketSize / 4
	setupSize = 8
)

// clockTolerance is the accuracy USB full speed demands of the 48 MHz clock.
const clockTolerance = 120 * physic.KiloHertz

type endpoint struct {
	used  bool
	typ   hal.EndpointType
	mps   uint16
	words int // TX FIFO depth of an IN endpoint
}

type packet struct {
	buf   [MaxPacketSize]byte
	n     int
	ready bool
}

// HAL drives the OTG FS core in device mode. It implements
// [hal.DeviceHAL].
type HAL struct {
	m    *chip.MCU
	regs mmio.Block

	in, out [Endpoints]endpoint
	txWords int
	mps0    uint16

	rx         [Endpoints]packet
	setup      [setupSize]byte
	setupReady bool

	claimed bool
	enabled bool
}

// New returns the OTG FS controller of m. Nothing is touched until Init.
func New(m *chip.MCU) *HAL {
	h := &HAL{m: m, regs: m.Block(chip.OTGFS), mps0: MaxPacketSize}
	h.in[0] = endpoint{used: true, typ: hal.Control, mps: MaxPacketSize, words: ep0Words}
	h.out[0] = endpoint{used: true, typ: hal.Control, mps: MaxPacketSize}
	return h
}

var _ hal.DeviceHAL = (*HAL)(nil)

func (h *HAL) reg(off uintptr) mmio.Register32 { return h.regs.R32(off) }

func (h *HAL) inReg(n uint8, off uintptr) mmio.Register32 {
	return h.reg(regDIEP + epStride*uintptr(n) + off)
}

func (h *HAL) outReg(n uint8, off uintptr) mmio.Register32 {
	return h.reg(regDOEP + epStride*uintptr(n) + off)
}

// until polls cond within the MCU spin budget.
func (h *HAL) until(cond func() bool) bool {
	for i := 0; i < h.m.Spin; i++ {
		if cond() {
			return true
		}
	}
	return false
}

// turnaround returns GUSBCFG.TRDT for the AHB clock.
func turnaround(hclk physic.Frequency) uint32 {
	limits := []struct {
		min  physic.Frequency
		trdt uint32
	}{
		{32 * physic.MegaHertz, 0x6},
		{27500 * physic.KiloHertz, 0x7},
		{24 * physic.MegaHertz, 0x8},
		{21800 * physic.KiloHertz, 0x9},
		{20 * physic.MegaHertz, 0xA},
		{18500 * physic.KiloHertz, 0xB},
		{17200 * physic.KiloHertz, 0xC},
		{16 * physic.MegaHertz, 0xD},
		{15 * physic.MegaHertz, 0xE},
	}
	for _, l := range limits {
		if hclk >= l.min {
			return l.trdt
		}
	}
	return 0xF
}

// Init claims the controller, soft resets the core and leaves it in device
// mode, detached. The 48 MHz clock must already run.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clk := h.m.Clocks()
	if d := clk.PLL48 - 48*physic.MegaHertz; d > clockTolerance || d < -clockTolerance {
		return fmt.Errorf("otgfs: 48 MHz clock is %v: %w", clk.PLL48, pkg.ErrClockNotReady)
	}
	if !h.claimed {
		if err := h.m.Claim(chip.OTGFS); err != nil {
			return err
		}
		h.claimed = true
	}
	rcc.Enable(h.m, chip.OTGFS)

	rst := h.reg(regGRSTCTL)
	if !h.until(func() bool { return rst.HasBits(grstctlAHBIDL) }) {
		return fmt.Errorf("otgfs: AHB master busy: %w", pkg.ErrBusTimeout)
	}
	rst.Set(grstctlCSRST)
	if !h.until(func() bool { return !rst.HasBits(grstctlCSRST) }) {
		return fmt.Errorf("otgfs: core reset: %w", pkg.ErrBusTimeout)
	}

	h.reg(regGUSBCFG).Set(gusbcfgFDMOD | gusbcfgPHYSEL | gusbcfgTRDT.Put(0, turnaround(clk.HCLK)))
	h.reg(regGCCFG).Set(gccfgPWRDWN | gccfgNOVBUSSENS)
	h.reg(regPCGCCTL).Set(0)
	h.reg(regDCFG).Set(dcfgDSPDFull)
	h.reg(regDCTL).Set(dctlSDIS)

	h.reg(regGINTSTS).Set(0xFFFF_FFFF)
	h.reg(regGINTMSK).Set(gintRXFLVL | gintUSBSUSP | gintUSBRST | gintENUMDNE | gintIEPINT | gintWKUPINT)
	h.reg(regDIEPMSK).Set(intXFRC)
	h.reg(regDOEPMSK).Set(0)
	h.reg(regDIEPEMPMSK).Set(0)

	h.enabled = false
	h.clear()
	pkg.LogDebug(pkg.ComponentHAL, "otgfs core reset", "hclk", clk.HCLK)
	return nil
}

// AllocEndpoint reserves an endpoint. IN endpoints take their TX FIFO
// share of the packet memory here; ErrNoMemory reports that it ran out.
func (h *HAL) AllocEndpoint(c hal.EndpointConfig) (hal.EndpointAddress, error) {
	if h.enabled {
		return 0, fmt.Errorf("otgfs: endpoint allocation after enable: %w", pkg.ErrInvalidState)
	}
	if c.MaxPacketSize == 0 || c.MaxPacketSize > MaxPacketSize {
		return 0, fmt.Errorf("otgfs: max packet size %d: %w", c.MaxPacketSize, pkg.ErrOutOfRange)
	}
	dir := c.Address.Direction()
	n := c.Address.Number()
	if c.Type == hal.Control {
		if n != 0 {
			return 0, fmt.Errorf("otgfs: control endpoint %d: %w", n, pkg.ErrNotSupported)
		}
		switch c.MaxPacketSize {
		case 8, 16, 32, 64:
		default:
			return 0, fmt.Errorf("otgfs: control max packet size %d: %w", c.MaxPacketSize, pkg.ErrOutOfRange)
		}
		h.mps0 = c.MaxPacketSize
		return hal.Address(0, dir), nil
	}

	slots := &h.out
	if dir == hal.In {
		slots = &h.in
	}
	if n == 0 {
		for i := uint8(1); i < Endpoints; i++ {
			if !slots[i].used {
				n = i
				break
			}
		}
		if n == 0 {
			return 0, fmt.Errorf("otgfs: no free %v endpoint: %w", dir, pkg.ErrNoMemory)
		}
	} else if n >= Endpoints {
		return 0, fmt.Errorf("otgfs: endpoint %d: %w", n, pkg.ErrInvalidEndpoint)
	} else if slots[n].used {
		return 0, fmt.Errorf("otgfs: %v: %w", hal.Address(n, dir), pkg.ErrClaimed)
	}

	e := endpoint{used: true, typ: c.Type, mps: c.MaxPacketSize}
	if dir == hal.In {
		e.words = (int(c.MaxPacketSize) + 3) / 4
		if e.words < ep0Words {
			e.words = ep0Words
		}
		if RxFIFOWords+ep0Words+h.txWords+e.words > FIFOWords {
			return 0, fmt.Errorf("otgfs: TX FIFO for %v: %w", hal.Address(n, dir), pkg.ErrNoMemory)
		}
		h.txWords += e.words
	}
	slots[n] = e
	addr := hal.Address(n, dir)
	pkg.LogDebug(pkg.ComponentHAL, "endpoint allocated", "ep", addr, "type", c.Type, "mps", c.MaxPacketSize)
	return addr, nil
}

// Enable writes the FIFO partition and connects the pull-up.
func (h *HAL) Enable() error {
	if h.enabled {
		return nil
	}
	h.reg(regGRXFSIZ).Set(RxFIFOWords)
	start := uint32(RxFIFOWords)
	h.reg(regDIEPTXF0).Set(uint32(h.in[0].words)<<16 | start)
	start += uint32(h.in[0].words)
	for n := uint8(1); n < Endpoints; n++ {
		w := uint32(h.in[n].words)
		h.reg(regDIEPTXF + 4*uintptr(n-1)).Set(w<<16 | start)
		start += w
	}
	if err := h.flush(); err != nil {
		return err
	}
	h.reg(regGAHBCFG).SetBits(gahbcfgGINTMSK)
	h.reg(regDCTL).ClearBits(dctlSDIS)
	h.enabled = true
	pkg.LogInfo(pkg.ComponentHAL, "otgfs connected", "fifo_words", start)
	return nil
}

func (h *HAL) flush() error {
	rst := h.reg(regGRSTCTL)
	rst.Set(grstctlTXFFLSH | txfFlush.Put(0, 0x10))
	if !h.until(func() bool { return !rst.HasBits(grstctlTXFFLSH) }) {
		return fmt.Errorf("otgfs: TX FIFO flush: %w", pkg.ErrBusTimeout)
	}
	rst.Set(grstctlRXFFLSH)
	if !h.until(func() bool { return !rst.HasBits(grstctlRXFFLSH) }) {
		return fmt.Errorf("otgfs: RX FIFO flush: %w", pkg.ErrBusTimeout)
	}
	return nil
}

func (h *HAL) clear() {
	h.rx = [Endpoints]packet{}
	h.setupReady = false
}

// mps0Code encodes the control endpoint packet size for DIEPCTL0.MPSIZ.
func (h *HAL) mps0Code() uint32 {
	switch h.mps0 {
	case 32:
		return 1
	case 16:
		return 2
	case 8:
		return 3
	}
	return 0
}

// Reset activates every allocated endpoint after a bus reset.
func (h *HAL) Reset() {
	h.clear()
	dcfgDAD.Write(h.reg(regDCFG), 0)
	h.reg(regDAINTMSK).Set(0x0001_0001)

	h.inReg(0, 0).Set(ctlMPSIZ.Put(0, h.mps0Code()) | ctlSNAK)
	h.outReg(0, 0).Set(ctlMPSIZ.Put(0, h.mps0Code()))
	h.armOut(0)
	for n := uint8(1); n < Endpoints; n++ {
		if e := h.in[n]; e.used {
			h.inReg(n, 0).Set(ctlMPSIZ.Put(0, uint32(e.mps)) | ctlEPTYP.Put(0, uint32(e.typ)) |
				ctlTXFNUM.Put(0, uint32(n)) | ctlUSBAEP | ctlSD0PID | ctlSNAK)
			h.reg(regDAINTMSK).SetBits(1 << n)
		}
		if e := h.out[n]; e.used {
			h.outReg(n, 0).Set(ctlMPSIZ.Put(0, uint32(e.mps)) | ctlEPTYP.Put(0, uint32(e.typ)) |
				ctlUSBAEP | ctlSD0PID)
			h.armOut(n)
		}
	}
	if err := h.flush(); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "FIFO flush after reset", "err", err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "bus reset", "mps0", h.mps0)
}

// armOut lets OUT endpoint n accept one more packet.
func (h *HAL) armOut(n uint8) {
	mps := uint32(h.out[n].mps)
	tsiz := tsizPKTCNT.Put(0, 1) | tsizXFRSIZ.Put(0, mps)
	if n == 0 {
		mps = uint32(h.mps0)
		tsiz = tsizSTUPCNT3 | tsizPKTCNT.Put(0, 1) | tsizXFRSIZ.Put(0, mps)
	}
	h.outReg(n, epTSIZ).Set(tsiz)
	ctl := h.outReg(n, 0)
	ctl.Set(ctl.Get() | ctlEPENA | ctlCNAK)
}

// SetAddress programs the device address.
func (h *HAL) SetAddress(addr uint8) {
	dcfgDAD.Write(h.reg(regDCFG), uint32(addr))
	pkg.LogDebug(pkg.ComponentHAL, "address set", "addr", addr)
}

// SetAddressBeforeStatus reports true: the core keeps answering on the old
// address until the status stage completes.
func (h *HAL) SetAddressBeforeStatus() bool { return true }

func (h *HAL) check(ep hal.EndpointAddress, in bool) (uint8, error) {
	n := ep.Number()
	if n >= Endpoints || ep.IsIn() != in {
		return 0, fmt.Errorf("otgfs: %v: %w", ep, pkg.ErrInvalidEndpoint)
	}
	e := h.out[n]
	if in {
		e = h.in[n]
	}
	if !e.used {
		return 0, fmt.Errorf("otgfs: %v not allocated: %w", ep, pkg.ErrInvalidEndpoint)
	}
	return n, nil
}

// Write queues one packet on an IN endpoint.
func (h *HAL) Write(ep hal.EndpointAddress, p []byte) (int, error) {
	n, err := h.check(ep, true)
	if err != nil {
		return 0, err
	}
	mps := h.in[n].mps
	if n == 0 {
		mps = h.mps0
	}
	if len(p) > int(mps) {
		return 0, pkg.USBError{BufferOverflow: true}
	}
	ctl := h.inReg(n, 0)
	v := ctl.Get()
	if v&ctlSTALL != 0 {
		return 0, pkg.USBError{Stalled: true}
	}
	words := (len(p) + 3) / 4
	if v&ctlEPENA != 0 || int(h.inReg(n, epTXFSTS).Get()&0xFFFF) < words {
		return 0, pkg.USBError{WouldBlock: true}
	}
	h.inReg(n, epTSIZ).Set(tsizPKTCNT.Put(0, 1) | tsizXFRSIZ.Put(0, uint32(len(p))))
	ctl.Set(v | ctlEPENA | ctlCNAK)
	fifo := h.reg(regFIFO * uintptr(n+1))
	for i := 0; i < len(p); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(p); j++ {
			w |= uint32(p[i+j]) << (8 * j)
		}
		fifo.Set(w)
	}
	return len(p), nil
}

// Read takes the received packet of an OUT endpoint. On the control
// endpoint a pending data packet is returned before a pending SETUP packet.
func (h *HAL) Read(ep hal.EndpointAddress, p []byte) (int, error) {
	n, err := h.check(ep, false)
	if err != nil {
		return 0, err
	}
	if rx := &h.rx[n]; rx.ready {
		if len(p) < rx.n {
			return 0, pkg.USBError{BufferOverflow: true}
		}
		rx.ready = false
		h.armOut(n)
		return copy(p, rx.buf[:rx.n]), nil
	}
	if n == 0 && h.setupReady {
		if len(p) < setupSize {
			return 0, pkg.USBError{BufferOverflow: true}
		}
		h.setupReady = false
		h.armOut(0)
		return copy(p, h.setup[:]), nil
	}
	return 0, pkg.USBError{WouldBlock: true}
}

func (h *HAL) ctl(ep hal.EndpointAddress) mmio.Register32 {
	if ep.IsIn() {
		return h.inReg(ep.Number(), 0)
	}
	return h.outReg(ep.Number(), 0)
}

// SetStalled sets or clears STALL. Clearing also resets the data toggle.
// The control endpoint STALL is cleared by the core on the next SETUP.
func (h *HAL) SetStalled(ep hal.EndpointAddress, stalled bool) {
	if ep.Number() >= Endpoints {
		return
	}
	ctl := h.ctl(ep)
	v := ctl.Get() &^ (ctlEPENA | ctlEPDIS)
	if stalled {
		v |= ctlSTALL
		if ep.IsIn() && ctl.HasBits(ctlEPENA) {
			v |= ctlEPDIS
		}
	} else {
		v = v&^ctlSTALL | ctlSD0PID
	}
	ctl.Set(v)
	if !stalled && !ep.IsIn() && ep.Number() != 0 && h.out[ep.Number()].used {
		h.armOut(ep.Number())
	}
}

// IsStalled reports whether STALL is set on ep.
func (h *HAL) IsStalled(ep hal.EndpointAddress) bool {
	if ep.Number() >= Endpoints {
		return false
	}
	return h.ctl(ep).HasBits(ctlSTALL)
}

// Suspend is called once the bus has been idle for 3 ms.
func (h *HAL) Suspend() { pkg.LogDebug(pkg.ComponentHAL, "suspended") }

// Resume is called when bus activity returns.
func (h *HAL) Resume() { pkg.LogDebug(pkg.ComponentHAL, "resumed") }

// RemoteWakeup drives resume signalling while on is true.
func (h *HAL) RemoteWakeup(on bool) {
	if on {
		h.reg(regDCTL).SetBits(dctlRWUSIG)
	} else {
		h.reg(regDCTL).ClearBits(dctlRWUSIG)
	}
}

// Poll reports bus events first; endpoint activity is reported only when
// no bus event is pending.
func (h *HAL) Poll() hal.PollResult {
	var r hal.PollResult
	sts := h.reg(regGINTSTS)
	v := sts.Get()
	switch {
	case v&(gintUSBRST|gintENUMDNE) != 0:
		sts.Set(gintUSBRST | gintENUMDNE | gintUSBSUSP | gintWKUPINT)
		r.Reset = true
		return r
	case v&gintWKUPINT != 0:
		sts.Set(gintWKUPINT | gintUSBSUSP)
		r.Resume = true
		return r
	case v&gintUSBSUSP != 0:
		sts.Set(gintUSBSUSP)
		if h.reg(regDSTS).HasBits(dstsSUSPSTS) {
			r.Suspend = true
			return r
		}
	}

	for i := 0; v&gintRXFLVL != 0 && i < RxFIFOWords; i++ {
		h.receive(&r)
		v = sts.Get()
	}
	for n := uint8(0); n < Endpoints; n++ {
		if !h.in[n].used {
			continue
		}
		if ir := h.inReg(n, epINT); ir.HasBits(intXFRC) {
			ir.Set(intXFRC)
			r.InComplete |= 1 << n
		}
	}
	return r
}

// receive pops one entry of the RX FIFO.
func (h *HAL) receive(r *hal.PollResult) {
	st := h.reg(regGRXSTSP).Get()
	n := uint8(rxEPNUM.Get(st))
	count := int(rxBCNT.Get(st))
	switch rxPKTSTS.Get(st) {
	case pktSetupData:
		h.drain(h.setup[:], count)
	case pktSetupDone:
		h.outReg(n, epINT).Set(1 << 3)
		h.setupReady = true
		r.Setup |= 1 << n
	case pktOutData:
		rx := &h.rx[n]
		if count > len(rx.buf) {
			pkg.LogWarn(pkg.ComponentHAL, "oversized OUT packet dropped", "ep", n, "len", count)
			h.drain(nil, count)
			return
		}
		h.drain(rx.buf[:count], count)
		rx.n, rx.ready = count, true
		r.Out |= 1 << n
	case pktOutDone:
		h.outReg(n, epINT).Set(intXFRC)
	default:
		h.drain(nil, count)
	}
}

// drain pops count bytes from the RX FIFO into dst.
func (h *HAL) drain(dst []byte, count int) {
	fifo := h.reg(regFIFO)
	for i := 0; i < count; i += 4 {
		w := fifo.Get()
		for j := 0; j < 4 && i+j < len(dst); j++ {
			dst[i+j] = byte(w >> (8 * j))
		}
	}
}

// Speed returns the enumerated speed.
func (h *HAL) Speed() hal.Speed {
	switch dstsENUMSPD.Read(h.reg(regDSTS)) {
	case 3:
		return hal.SpeedFull
	case 2:
		return hal.SpeedLow
	}
	return hal.SpeedUnknown
}

// IRQ returns the controller's interrupt line.
func (h *HAL) IRQ() chip.IRQ { return chip.IRQOTGFS }

// Stop disconnects, gates the controller clock and releases it.
func (h *HAL) Stop() error {
	if !h.claimed {
		return nil
	}
	h.reg(regDCTL).SetBits(dctlSDIS)
	h.reg(regGAHBCFG).ClearBits(gahbcfgGINTMSK)
	rcc.Disable(h.m, chip.OTGFS)
	h.m.Release(chip.OTGFS)
	h.claimed, h.enabled = false, false
	pkg.LogInfo(pkg.ComponentHAL, "otgfs disconnected")
	return nil
}
