package usart

import (
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regSR   = 0x00
	regDR   = 0x04
	regBRR  = 0x08
	regCR1  = 0x0C
	regCR2  = 0x10
	regCR3  = 0x14
	regGTPR = 0x18
)

const (
	srPE   = 1 << 0
	srFE   = 1 << 1
	srNF   = 1 << 2
	srORE  = 1 << 3
	srIDLE = 1 << 4
	srRXNE = 1 << 5
	srTC   = 1 << 6
	srTXE  = 1 << 7
	srErr  = srPE | srFE | srNF | srORE

	cr1SBK    = 1 << 0
	cr1RE     = 1 << 2
	cr1TE     = 1 << 3
	cr1PS     = 1 << 9
	cr1PCE    = 1 << 10
	cr1M      = 1 << 12
	cr1UE     = 1 << 13
	cr1OVER8  = 1 << 15
	cr1Events = 0x1F0 // IDLEIE..PEIE

	cr3EIE   = 1 << 0
	cr3HDSEL = 1 << 3
	cr3DMAR  = 1 << 6
	cr3DMAT  = 1 << 7
)

var cr2STOP = mmio.Field[uint32]{Pos: 12, Width: 2}

// Parity selects the parity bit.
type Parity uint8

// Parity settings.
const (
	NoParity Parity = iota
	Even
	Odd
)

// StopBits selects the stop bit length.
type StopBits uint8

// Stop bit lengths, in CR2.STOP order.
const (
	Stop1 StopBits = iota
	StopHalf
	Stop2
	Stop1Half
)

// Direction enables the transmitter, the receiver or both.
type Direction uint8

// Directions.
const (
	TX Direction = 1 << iota
	RX
	Both = TX | RX
)

// Config describes the frame format and line use.
type Config struct {
	Baud     uint32
	DataBits uint8 // 7, 8 (default) or 9; data plus parity must be 8 or 9
	Parity   Parity
	StopBits StopBits
	// Over8 selects 8x oversampling, which doubles the reachable baud rate
	// at the cost of noise tolerance.
	Over8      bool
	Direction  Direction // zero means Both
	HalfDuplex bool
}

func (c Config) cr1() (uint32, error) {
	bits := c.DataBits
	if bits == 0 {
		bits = 8
	}
	if c.Parity > Odd || c.StopBits > Stop1Half || c.Direction > Both {
		return 0, pkg.ErrInvalidMode
	}
	if c.Parity != NoParity {
		bits++
	}
	var v uint32 = cr1UE
	switch bits {
	case 8:
	case 9:
		v |= cr1M
	default:
		return 0, pkg.ErrInvalidMode
	}
	switch c.Parity {
	case Even:
		v |= cr1PCE
	case Odd:
		v |= cr1PCE | cr1PS
	}
	if c.Over8 {
		v |= cr1OVER8
	}
	d := c.Direction
	if d == 0 {
		d = Both
	}
	if d&TX != 0 {
		v |= cr1TE
	}
	if d&RX != 0 {
		v |= cr1RE
	}
	return v, nil
}

// BRR computes the baud rate register for kernel clock fck. The divisor
// is rounded to the nearest sixteenth (eighth with over8).
func BRR(fck, baud uint32, over8 bool) (uint32, error) {
	if baud == 0 {
		return 0, pkg.ErrOutOfRange
	}
	// d is the bit time in kernel clocks: 16*USARTDIV, or 8*USARTDIV.
	d := (uint64(fck) + uint64(baud)/2) / uint64(baud)
	if over8 {
		if d < 8 || d>>3 > 0xFFF {
			return 0, pkg.ErrOutOfRange
		}
		return uint32(d>>3<<4 | d&7), nil
	}
	if d < 16 || d > 0xFFFF {
		return 0, pkg.ErrOutOfRange
	}
	return uint32(d), nil
}

// Baud returns the rate produced by brr from kernel clock fck.
func Baud(fck, brr uint32, over8 bool) uint32 {
	d := brr & 0xFFFF
	if over8 {
		d = brr>>4&0xFFF<<3 | brr&7
	}
	if d == 0 {
		return 0
	}
	return fck / d
}

// Event is an interrupt source, in CR1 bit positions.
type Event uint32

// Interrupt sources.
const (
	EventIdle   Event = 1 << 4
	EventRXNE   Event = 1 << 5 // also raised on overrun
	EventTC     Event = 1 << 6
	EventTXE    Event = 1 << 7
	EventParity Event = 1 << 8
)

// UART is an asynchronous USART.
type UART struct {
	m    *chip.MCU
	p    chip.Periph
	cfg  Config
	cr1  uint32
	wide bool // 9 data bits
}

// New claims p and configures it with c.
func New(m *chip.MCU, p chip.Periph, c Config) (*UART, error) {
	switch p {
	case chip.USART1, chip.USART2, chip.USART3, chip.USART6:
	default:
		return nil, pkg.ErrNotSupported
	}
	cr1, err := c.cr1()
	if err != nil {
		return nil, err
	}
	fck := uint32(m.Clocks().Kernel(p) / physic.Hertz)
	brr, err := BRR(fck, c.Baud, c.Over8)
	if err != nil {
		return nil, err
	}
	if err := m.Claim(p); err != nil {
		return nil, err
	}
	rcc.Enable(m, p)
	rcc.Reset(m, p)
	u := &UART{m: m, p: p, cfg: c, cr1: cr1, wide: cr1&(cr1M|cr1PCE) == cr1M}
	cr2STOP.Write(u.reg(regCR2), uint32(c.StopBits))
	if c.HalfDuplex {
		u.reg(regCR3).Set(cr3HDSEL)
	}
	u.reg(regBRR).Set(brr)
	u.reg(regCR1).Set(cr1)
	pkg.LogDebug(pkg.ComponentUSART, "configured", "usart", p,
		"baud", Baud(fck, brr, c.Over8), "brr", brr)
	return u, nil
}

func (u *UART) reg(off uintptr) mmio.Register32 { return u.m.Block(u.p).R32(off) }

// wait polls SR for bit.
func (u *UART) wait(bit uint32) error {
	sr := u.reg(regSR)
	for i := 0; i < u.m.Spin; i++ {
		if sr.HasBits(bit) {
			return nil
		}
	}
	return pkg.ErrBusTimeout
}

// Config returns the configuration.
func (u *UART) Config() Config { return u.cfg }

// Baud returns the actual baud rate.
func (u *UART) Baud() uint32 {
	fck := uint32(u.m.Clocks().Kernel(u.p) / physic.Hertz)
	return Baud(fck, u.reg(regBRR).Get(), u.cfg.Over8)
}

// WriteByte sends b once the transmit data register is free.
func (u *UART) WriteByte(b byte) error { return u.WriteWord(uint16(b)) }

// WriteWord sends one frame of up to 9 data bits.
func (u *UART) WriteWord(w uint16) error {
	if u.cr1&cr1TE == 0 {
		return pkg.ErrInvalidMode
	}
	if err := u.wait(srTXE); err != nil {
		return err
	}
	u.reg(regDR).Set(uint32(w & 0x1FF))
	return nil
}

// ReadByte waits for a frame and returns its data. A frame received with
// a line error is returned together with the pkg.UARTError; the flags
// are cleared.
func (u *UART) ReadByte() (byte, error) {
	w, err := u.ReadWord()
	return byte(w), err
}

// ReadWord is ReadByte for 9-bit frames.
func (u *UART) ReadWord() (uint16, error) {
	if u.cr1&cr1RE == 0 {
		return 0, pkg.ErrInvalidMode
	}
	sr := u.reg(regSR)
	for i := 0; i < u.m.Spin; i++ {
		v := sr.Get()
		if v&(srRXNE|srORE) == 0 {
			continue
		}
		// SR then DR clears the error flags.
		w := uint16(u.reg(regDR).Get())
		if !u.wide {
			w &= 0xFF
			if u.cr1&cr1PCE != 0 && u.cr1&cr1M == 0 {
				w &= 0x7F
			}
		}
		if v&srErr != 0 {
			e := pkg.UARTError{
				Parity:  v&srPE != 0,
				Framing: v&srFE != 0,
				Noise:   v&srNF != 0,
				Overrun: v&srORE != 0,
			}
			pkg.LogWarn(pkg.ComponentUSART, "receive fault", "usart", u.p, "err", e)
			return w, e
		}
		return w, nil
	}
	return 0, pkg.ErrBusTimeout
}

// Buffered reports whether a received frame is waiting.
func (u *UART) Buffered() bool { return u.reg(regSR).HasBits(srRXNE) }

// Write sends p and returns once the last byte is in the shift register.
func (u *UART) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := u.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Read waits for at least one byte, then returns every byte that arrives
// before the line goes quiet for a frame time.
func (u *UART) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := u.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = b
	n := 1
	sr := u.reg(regSR)
	for n < len(p) {
		// The byte in flight lands before IDLE is raised.
		v := uint32(0)
		for i := 0; i < u.m.Spin && v&(srRXNE|srIDLE) == 0; i++ {
			v = sr.Get()
		}
		if v&srRXNE == 0 {
			break
		}
		if p[n], err = u.ReadByte(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Flush waits for transmission complete.
func (u *UART) Flush() error { return u.wait(srTC) }

// Break sends a break frame after the current frame.
func (u *UART) Break() error {
	if err := u.wait(srTXE); err != nil {
		return err
	}
	u.reg(regCR1).SetBits(cr1SBK)
	return nil
}

// Idle reports and clears the idle-line flag. Clearing reads DR, so a
// waiting frame is discarded.
func (u *UART) Idle() bool {
	if !u.reg(regSR).HasBits(srIDLE) {
		return false
	}
	u.reg(regDR).Get()
	return true
}

// Listen enables or disables interrupt sources ev.
func (u *UART) Listen(ev Event, on bool) {
	cr1 := u.reg(regCR1)
	if on {
		cr1.SetBits(uint32(ev) & cr1Events)
	} else {
		cr1.ClearBits(uint32(ev) & cr1Events)
	}
}

// Pending returns the events whose flags are set.
func (u *UART) Pending() Event {
	sr := u.reg(regSR).Get()
	return Event(sr&(srIDLE|srRXNE|srTC|srTXE) | sr&srPE<<8)
}

// IRQ returns the interrupt line.
func (u *UART) IRQ() chip.IRQ {
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

// String returns the peripheral name.
func (u *UART) String() string { return u.p.String() }

// Release waits for the transmitter to drain, disables the block and
// gates its clock.
func (u *UART) Release() {
	if u.cr1&cr1TE != 0 {
		_ = u.Flush()
	}
	u.reg(regCR1).Set(0)
	u.reg(regCR3).Set(0)
	rcc.Disable(u.m, u.p)
	u.m.Release(u.p)
	pkg.LogDebug(pkg.ComponentUSART, "released", "usart", u.p)
}

// DMA is the transmit or receive request of a USART, for use with the
// dma package.
type DMA struct {
	u   *UART
	req chip.DMARequest
	bit uint32
}

func (u *UART) dma(tx bool) (DMA, error) {
	var rx, txr chip.DMARequest
	switch u.p {
	case chip.USART1:
		rx, txr = chip.ReqUSART1RX, chip.ReqUSART1TX
	case chip.USART2:
		rx, txr = chip.ReqUSART2RX, chip.ReqUSART2TX
	case chip.USART6:
		rx, txr = chip.ReqUSART6RX, chip.ReqUSART6TX
	default:
		return DMA{}, pkg.ErrNotSupported
	}
	if tx {
		return DMA{u: u, req: txr, bit: cr3DMAT}, nil
	}
	return DMA{u: u, req: rx, bit: cr3DMAR | cr3EIE}, nil
}

// RxDMA returns the receive request. Line errors raise the interrupt
// while it is enabled.
func (u *UART) RxDMA() (DMA, error) { return u.dma(false) }

// TxDMA returns the transmit request.
func (u *UART) TxDMA() (DMA, error) { return u.dma(true) }

// Request returns the request line.
func (d DMA) Request() chip.DMARequest { return d.req }

// Addr returns the data register address.
func (d DMA) Addr() uintptr { return d.u.reg(regDR).Addr() }

// EnableRequest sets or clears DMAR/DMAT.
func (d DMA) EnableRequest(on bool) {
	if on {
		d.u.reg(regCR3).SetBits(d.bit)
	} else {
		d.u.reg(regCR3).ClearBits(d.bit)
	}
}
