package spi

import (
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regCR1   = 0x00
	regCR2   = 0x04
	regSR    = 0x08 // CRCERR is rc_w0
	regDR    = 0x0C
	regCRCPR = 0x10
	regRXCRC = 0x14
	regTXCRC = 0x18
)

const (
	cr1CPHA     = 1 << 0
	cr1CPOL     = 1 << 1
	cr1MSTR     = 1 << 2
	cr1SPE      = 1 << 6
	cr1LSBFIRST = 1 << 7
	cr1SSI      = 1 << 8
	cr1SSM      = 1 << 9
	cr1DFF      = 1 << 11
	cr1CRCNEXT  = 1 << 12
	cr1CRCEN    = 1 << 13

	cr2RXDMAEN = 1 << 0
	cr2TXDMAEN = 1 << 1
	cr2SSOE    = 1 << 2

	srRXNE   = 1 << 0
	srTXE    = 1 << 1
	srCRCERR = 1 << 4
	srMODF   = 1 << 5
	srOVR    = 1 << 6
	srBSY    = 1 << 7
)

var cr1BR = mmio.Field[uint32]{Pos: 3, Width: 3}

// SlaveSelect chooses how NSS is handled.
type SlaveSelect uint8

// Slave select modes.
const (
	// SoftwareSS ignores the NSS pin. A master stays selected as master; a
	// slave is always selected.
	SoftwareSS SlaveSelect = iota
	// HardwareSS reads NSS from its pin.
	HardwareSS
	// HardwareSSOutput drives NSS low while a master is enabled. Only
	// valid for masters.
	HardwareSSOutput
)

// Config describes the frame format shared by both ends of a link.
type Config struct {
	// Mode is spi.Mode0..spi.Mode3, optionally or'ed with spi.LSBFirst.
	Mode spi.Mode

	// Bits is the frame size, 8 or 16. Zero means 8.
	Bits int

	SlaveSelect SlaveSelect

	// CRCPolynomial enables hardware CRC with this polynomial when
	// non-zero.
	CRCPolynomial uint16
}

func (c Config) cr1() (uint32, error) {
	var v uint32
	switch c.Mode &^ spi.LSBFirst {
	case spi.Mode0:
	case spi.Mode1:
		v |= cr1CPHA
	case spi.Mode2:
		v |= cr1CPOL
	case spi.Mode3:
		v |= cr1CPOL | cr1CPHA
	default:
		return 0, pkg.ErrNotSupported
	}
	if c.Mode&spi.LSBFirst != 0 {
		v |= cr1LSBFIRST
	}
	switch c.Bits {
	case 0, 8:
	case 16:
		v |= cr1DFF
	default:
		return 0, pkg.ErrOutOfRange
	}
	if c.SlaveSelect > HardwareSSOutput {
		return 0, pkg.ErrOutOfRange
	}
	if c.SlaveSelect == SoftwareSS {
		v |= cr1SSM
	}
	if c.CRCPolynomial != 0 {
		v |= cr1CRCEN
	}
	return v, nil
}

// Event is an interrupt source.
type Event uint32

// Interrupt sources. The values match CR2.
const (
	EventError Event = 1 << 5
	EventRXNE  Event = 1 << 6
	EventTXE   Event = 1 << 7
)

// port is the state common to masters and slaves.
type port struct {
	m    *chip.MCU
	p    chip.Periph
	wide bool
}

func claim(m *chip.MCU, p chip.Periph) (port, error) {
	switch p {
	case chip.SPI1, chip.SPI2, chip.SPI3, chip.SPI4, chip.SPI5:
	default:
		return port{}, pkg.ErrNotSupported
	}
	if err := m.Claim(p); err != nil {
		return port{}, err
	}
	rcc.Enable(m, p)
	rcc.Reset(m, p)
	return port{m: m, p: p}, nil
}

func (b *port) reg(off uintptr) mmio.Register32 { return b.m.Block(b.p).R32(off) }
func (b *port) dr() mmio.Register16             { return b.m.Block(b.p).R16(regDR) }

// configure writes the frame format with SPE clear, then enables the
// block. CR2 and the CRC polynomial must be set while SPE is off.
func (b *port) configure(cr1, cr2 uint32, poly uint16) {
	b.reg(regCR1).ClearBits(cr1SPE)
	b.reg(regCR2).Set(cr2)
	if poly != 0 {
		b.reg(regCRCPR).Set(uint32(poly))
	}
	b.reg(regCR1).Set(cr1)
	b.reg(regCR1).Set(cr1 | cr1SPE)
	b.wide = cr1&cr1DFF != 0
}

func (b *port) wait(bit uint32) (uint32, error) {
	sr := b.reg(regSR)
	for i := 0; i < b.m.Spin; i++ {
		v := sr.Get()
		if v&(srMODF|srOVR|srCRCERR) != 0 {
			return v, b.fault(v)
		}
		if v&bit != 0 {
			return v, nil
		}
	}
	return 0, pkg.ErrBusTimeout
}

// fault clears the flags set in sr and returns them as an error.
func (b *port) fault(sr uint32) error {
	e := pkg.SPIError{
		Overrun:   sr&srOVR != 0,
		ModeFault: sr&srMODF != 0,
		CRC:       sr&srCRCERR != 0,
	}
	if e.Overrun {
		b.dr().Get()
		b.reg(regSR).Get()
	}
	if e.ModeFault {
		// SR was read above; a CR1 write completes the sequence.
		b.reg(regCR1).Set(b.reg(regCR1).Get())
	}
	if e.CRC {
		b.reg(regSR).Set(^uint32(srCRCERR))
	}
	pkg.LogWarn(pkg.ComponentSPI, "fault", "spi", b.p, "err", e)
	return e
}

// Err returns and clears any latched fault.
func (b *port) Err() error {
	if sr := b.reg(regSR).Get(); sr&(srMODF|srOVR|srCRCERR) != 0 {
		return b.fault(sr)
	}
	return nil
}

// WriteFrame waits for room in the transmit buffer and queues f.
func (b *port) WriteFrame(f uint16) error {
	if _, err := b.wait(srTXE); err != nil {
		return err
	}
	b.dr().Set(f)
	return nil
}

// ReadFrame waits for a received frame and returns it.
func (b *port) ReadFrame() (uint16, error) {
	if _, err := b.wait(srRXNE); err != nil {
		return 0, err
	}
	return b.dr().Get(), nil
}

// Transfer sends f and returns the frame received at the same time.
func (b *port) Transfer(f uint16) (uint16, error) {
	if err := b.WriteFrame(f); err != nil {
		return 0, err
	}
	return b.ReadFrame()
}

// Ready reports whether a received frame is waiting, without blocking.
func (b *port) Ready() bool { return b.reg(regSR).HasBits(srRXNE) }

// Busy reports whether a frame is being shifted.
func (b *port) Busy() bool { return b.reg(regSR).HasBits(srBSY) }

// SendCRC makes the transmit CRC follow the frame currently being sent.
// Call it right after writing the last data frame.
func (b *port) SendCRC() { b.reg(regCR1).SetBits(cr1CRCNEXT) }

// CRC returns the receive and transmit CRC registers.
func (b *port) CRC() (rx, tx uint16) {
	return uint16(b.reg(regRXCRC).Get()), uint16(b.reg(regTXCRC).Get())
}

// Listen enables or disables an interrupt source. Handlers registered
// with chip.MCU.Handle on IRQ() must consume the event (read DR for RXNE,
// write DR or stop listening for TXE).
func (b *port) Listen(ev Event, on bool) {
	if on {
		b.reg(regCR2).SetBits(uint32(ev))
	} else {
		b.reg(regCR2).ClearBits(uint32(ev))
	}
}

// IRQ returns the interrupt line of the block.
func (b *port) IRQ() chip.IRQ {
	switch b.p {
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

// String returns the peripheral name.
func (b *port) String() string { return b.p.String() }

// drain waits for BSY to clear so the last frame is not cut short.
func (b *port) drain() error {
	sr := b.reg(regSR)
	for i := 0; i < b.m.Spin; i++ {
		if !sr.HasBits(srBSY) {
			return nil
		}
	}
	return pkg.ErrBusTimeout
}

func (b *port) release() error {
	err := b.drain()
	b.reg(regCR2).Set(0)
	b.reg(regCR1).Set(0)
	rcc.Disable(b.m, b.p)
	b.m.Release(b.p)
	pkg.LogDebug(pkg.ComponentSPI, "released", "spi", b.p)
	return err
}

// DMA is the transmit or receive request of an SPI block, for use with
// the dma package.
type DMA struct {
	b   *port
	req chip.DMARequest
	bit uint32
}

func (b *port) dma(tx bool) (DMA, error) {
	var rx, txr chip.DMARequest
	switch b.p {
	case chip.SPI1:
		rx, txr = chip.ReqSPI1RX, chip.ReqSPI1TX
	case chip.SPI2:
		rx, txr = chip.ReqSPI2RX, chip.ReqSPI2TX
	case chip.SPI3:
		rx, txr = chip.ReqSPI3RX, chip.ReqSPI3TX
	default:
		return DMA{}, pkg.ErrNotSupported
	}
	if tx {
		return DMA{b: b, req: txr, bit: cr2TXDMAEN}, nil
	}
	return DMA{b: b, req: rx, bit: cr2RXDMAEN}, nil
}

// RxDMA returns the receive request.
func (b *port) RxDMA() (DMA, error) { return b.dma(false) }

// TxDMA returns the transmit request.
func (b *port) TxDMA() (DMA, error) { return b.dma(true) }

// Request returns the request line.
func (d DMA) Request() chip.DMARequest { return d.req }

// Addr returns the data register address.
func (d DMA) Addr() uintptr { return d.b.dr().Addr() }

// EnableRequest sets or clears RXDMAEN/TXDMAEN.
func (d DMA) EnableRequest(on bool) {
	if on {
		d.b.reg(regCR2).SetBits(d.bit)
	} else {
		d.b.reg(regCR2).ClearBits(d.bit)
	}
}
