package qspi

import (
	"math/bits"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regCR    = 0x00
	regDCR   = 0x04
	regSR    = 0x08
	regFCR   = 0x0C
	regDLR   = 0x10
	regCCR   = 0x14
	regAR    = 0x18
	regABR   = 0x1C
	regDR    = 0x20
	regPSMKR = 0x24
	regPSMAR = 0x28
	regPIR   = 0x2C
	regLPTR  = 0x30

	crEN    = 1 << 0
	crABORT = 1 << 1
	crDMAEN = 1 << 2
	crTCEN  = 1 << 3
	crSSHFT = 1 << 4
	crAPMS  = 1 << 22

	srTEF  = 1 << 0
	srTCF  = 1 << 1
	srFTF  = 1 << 2
	srSMF  = 1 << 3
	srTOF  = 1 << 4
	srBUSY = 1 << 5

	dcrCKMODE = 1 << 0

	// FIFOBytes is the depth of the data FIFO.
	FIFOBytes = 32
)

var (
	crFTHRES    = mmio.Field[uint32]{Pos: 8, Width: 5}
	crPRESCALER = mmio.Field[uint32]{Pos: 24, Width: 8}
	dcrCSHT     = mmio.Field[uint32]{Pos: 8, Width: 3}
	dcrFSIZE    = mmio.Field[uint32]{Pos: 16, Width: 5}
	srFLEVEL    = mmio.Field[uint32]{Pos: 8, Width: 6}
)

// Config is the controller and flash geometry setup.
type Config struct {
	// Prescaler divides HCLK by Prescaler+1 to make the flash clock.
	Prescaler uint8
	// FlashSize is the flash size in bytes, a power of two from 2 bytes
	// to 4 GiB. It bounds addresses and the memory-mapped window.
	FlashSize uint64
	// FIFOThreshold is the FIFO level, 1..32, that raises FTF. Zero
	// means 1.
	FIFOThreshold int
	// ChipSelectHigh is the minimum number of clock cycles nCS stays high
	// between commands, 1..8. Zero means 1.
	ChipSelectHigh int
	// ClockMode3 idles the clock high between commands.
	ClockMode3 bool
	// SampleShift samples data half a cycle later.
	SampleShift bool
	// MappedTimeout releases nCS after this many idle clock cycles in
	// memory-mapped mode. Zero keeps nCS low.
	MappedTimeout uint16
}

func (c Config) registers() (cr, dcr uint32, err error) {
	th, cs := c.FIFOThreshold, c.ChipSelectHigh
	if th == 0 {
		th = 1
	}
	if cs == 0 {
		cs = 1
	}
	if th < 1 || th > FIFOBytes || cs < 1 || cs > 8 {
		return 0, 0, pkg.ErrOutOfRange
	}
	if c.FlashSize < 2 || c.FlashSize > 1<<32 || c.FlashSize&(c.FlashSize-1) != 0 {
		return 0, 0, pkg.ErrOutOfRange
	}
	cr = crPRESCALER.Put(0, uint32(c.Prescaler))
	cr = crFTHRES.Put(cr, uint32(th-1))
	if c.SampleShift {
		cr |= crSSHFT
	}
	if c.MappedTimeout != 0 {
		cr |= crTCEN
	}
	dcr = dcrFSIZE.Put(0, uint32(bits.TrailingZeros64(c.FlashSize)-1))
	dcr = dcrCSHT.Put(dcr, uint32(cs-1))
	if c.ClockMode3 {
		dcr |= dcrCKMODE
	}
	return cr, dcr, nil
}

// Indirect is the controller in indirect mode: every transfer moves
// through the FIFO under CPU or DMA control.
type Indirect struct {
	m      *chip.MCU
	cfg    Config
	mapped bool
}

// New claims QUADSPI, configures it with c and enables it.
func New(m *chip.MCU, c Config) (*Indirect, error) {
	cr, dcr, err := c.registers()
	if err != nil {
		return nil, err
	}
	if err := m.Claim(chip.QSPI); err != nil {
		return nil, err
	}
	rcc.Enable(m, chip.QSPI)
	rcc.Reset(m, chip.QSPI)
	q := &Indirect{m: m, cfg: c}
	q.reg(regDCR).Set(dcr)
	q.reg(regLPTR).Set(uint32(c.MappedTimeout))
	q.reg(regCR).Set(cr)
	q.reg(regCR).SetBits(crEN)
	pkg.LogDebug(pkg.ComponentQSPI, "configured", "clock", q.Clock(), "size", c.FlashSize)
	return q, nil
}

func (q *Indirect) reg(off uintptr) mmio.Register32 { return q.m.Block(chip.QSPI).R32(off) }

// Config returns the configuration.
func (q *Indirect) Config() Config { return q.cfg }

// Clock returns the flash clock frequency.
func (q *Indirect) Clock() physic.Frequency {
	return q.m.Clocks().HCLK / physic.Frequency(uint32(q.cfg.Prescaler)+1)
}

// wait polls SR up to spin times for any bit of mask. A transfer error
// wins over the bits waited for.
func (q *Indirect) wait(mask uint32, spin int) (uint32, error) {
	sr := q.reg(regSR)
	for i := 0; i < spin; i++ {
		v := sr.Get()
		if v&srTEF != 0 {
			q.reg(regFCR).Set(srTEF)
			pkg.LogWarn(pkg.ComponentQSPI, "transfer error", "sr", v)
			return v, pkg.QSPIError{TransferError: true}
		}
		if v&mask != 0 {
			return v, nil
		}
	}
	pkg.LogWarn(pkg.ComponentQSPI, "timeout", "mask", mask)
	return 0, pkg.QSPIError{Timeout: true}
}

// idle waits for BUSY to clear.
func (q *Indirect) idle() error {
	sr := q.reg(regSR)
	for i := 0; i < q.m.Spin; i++ {
		if !sr.HasBits(srBUSY) {
			return nil
		}
	}
	return pkg.QSPIError{Timeout: true}
}

// prepare programs the command fields in the order that starts the
// command on the last one. n is the data length; zero means no data
// phase.
func (q *Indirect) prepare(c Command, fmode uint32, n int) error {
	if q.mapped {
		return pkg.ErrInvalidMode
	}
	if err := c.validate(); err != nil {
		return err
	}
	if (c.DataLines != None) != (n > 0) {
		return pkg.ErrInvalidMode
	}
	if c.AddressLines != None && uint64(c.Address) >= q.cfg.FlashSize {
		return pkg.ErrOutOfRange
	}
	if err := q.idle(); err != nil {
		q.abort()
		return err
	}
	q.reg(regFCR).Set(srTEF | srTCF | srSMF | srTOF)
	if n > 0 {
		q.reg(regDLR).Set(uint32(n - 1))
	}
	if c.AlternateLines != None {
		q.reg(regABR).Set(c.Alternate)
	}
	q.reg(regCCR).Set(c.ccr(fmode))
	if c.AddressLines != None {
		q.reg(regAR).Set(c.Address)
	}
	pkg.LogDebug(pkg.ComponentQSPI, "command", "cmd", c, "len", n)
	return nil
}

// finish waits for transfer complete and the controller to go idle.
func (q *Indirect) finish() error {
	if _, err := q.wait(srTCF, q.m.Spin); err != nil {
		q.abort()
		return err
	}
	q.reg(regFCR).Set(srTCF)
	return q.idle()
}

// abort stops the current command and flushes the FIFO.
func (q *Indirect) abort() {
	cr := q.reg(regCR)
	cr.SetBits(crABORT)
	for i := 0; i < q.m.Spin && cr.HasBits(crABORT); i++ {
	}
}

// Abort stops the command in progress and flushes the FIFO.
func (q *Indirect) Abort() { q.abort() }

// Busy reports whether a command is in progress.
func (q *Indirect) Busy() bool { return q.reg(regSR).HasBits(srBUSY) }

// Command sends c with no data phase.
func (q *Indirect) Command(c Command) error {
	if err := q.prepare(c, modeWrite, 0); err != nil {
		return err
	}
	return q.finish()
}

// Write sends c and then p on the data lines.
func (q *Indirect) Write(c Command, p []byte) error {
	if err := q.prepare(c, modeWrite, len(p)); err != nil {
		return err
	}
	dr := q.m.Block(chip.QSPI).R8(regDR)
	for _, b := range p {
		if _, err := q.wait(srFTF, q.m.Spin); err != nil {
			q.abort()
			return err
		}
		dr.Set(b)
	}
	return q.finish()
}

// Read sends c and fills p from the data lines.
func (q *Indirect) Read(c Command, p []byte) error {
	if err := q.prepare(c, modeRead, len(p)); err != nil {
		return err
	}
	dr := q.m.Block(chip.QSPI).R8(regDR)
	for n := 0; n < len(p); {
		sr, err := q.wait(srFTF|srTCF, q.m.Spin)
		if err != nil {
			q.abort()
			return err
		}
		l := srFLEVEL.Get(sr)
		if l == 0 && sr&srTCF != 0 {
			q.abort()
			return pkg.QSPIError{TransferError: true}
		}
		for ; l > 0 && n < len(p); l-- {
			p[n] = dr.Get()
			n++
		}
	}
	return q.finish()
}

// StartRead sends c for an n-byte read and returns without moving data.
// The caller drains DR, usually by DMA, and then calls Finish.
func (q *Indirect) StartRead(c Command, n int) error {
	return q.prepare(c, modeRead, n)
}

// Finish waits for a command started by StartRead to complete.
func (q *Indirect) Finish() error { return q.finish() }

// Poll makes the controller read the status bytes of c every interval
// clock cycles until the bits under mask equal match, then stop. The CPU
// is not involved between reads. The status width is the number of bytes
// mask covers. Poll returns the status that matched, or a timeout error
// once spin status reads have passed.
func (q *Indirect) Poll(c Command, mask, match uint32, interval uint16, spin int) (uint32, error) {
	if mask == 0 {
		return 0, pkg.ErrOutOfRange
	}
	n := (bits.Len32(mask) + 7) / 8
	if q.mapped {
		return 0, pkg.ErrInvalidMode
	}
	if err := q.idle(); err != nil {
		return 0, err
	}
	q.reg(regPSMKR).Set(mask)
	q.reg(regPSMAR).Set(match)
	q.reg(regPIR).Set(uint32(interval))
	q.reg(regCR).SetBits(crAPMS)
	if err := q.prepare(c, modePoll, n); err != nil {
		return 0, err
	}
	if _, err := q.wait(srSMF, spin); err != nil {
		q.abort()
		return 0, err
	}
	v := q.reg(regDR).Get()
	q.reg(regFCR).Set(srSMF)
	if n < 4 {
		v &= 1<<(8*n) - 1
	}
	return v, q.idle()
}

// DMA is the QUADSPI FIFO request, for use with package dma.
type DMA struct{ q *Indirect }

// DMA returns the FIFO request. Requests follow FTF while a read or write
// command runs.
func (q *Indirect) DMA() DMA { return DMA{q} }

// Request returns the DMA request line.
func (d DMA) Request() chip.DMARequest { return chip.ReqQSPI }

// Addr returns the data register address.
func (d DMA) Addr() uintptr { return d.q.reg(regDR).Addr() }

// EnableRequest sets or clears DMAEN.
func (d DMA) EnableRequest(on bool) {
	if on {
		d.q.reg(regCR).SetBits(crDMAEN)
	} else {
		d.q.reg(regCR).ClearBits(crDMAEN)
	}
}

// IRQ returns the controller's interrupt.
func (q *Indirect) IRQ() chip.IRQ { return chip.IRQQUADSPI }

// Release disables the controller and frees its claim.
func (q *Indirect) Release() {
	q.reg(regCR).ClearBits(crEN)
	rcc.Disable(q.m, chip.QSPI)
	q.m.Release(chip.QSPI)
}

// MemoryMapped is the controller serving the external flash window.
type MemoryMapped struct {
	q   *Indirect
	cmd Command
	win mmio.Window
}

// MemoryMapped installs read command c for every access to the flash
// window. The indirect controller is unusable until
// [MemoryMapped.Indirect] gives it back.
func (q *Indirect) MemoryMapped(c Command) (*MemoryMapped, error) {
	if q.mapped {
		return nil, pkg.ErrInvalidMode
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.DataLines == None || c.AddressLines == None {
		return nil, pkg.ErrInvalidMode
	}
	if err := q.idle(); err != nil {
		return nil, err
	}
	q.reg(regFCR).Set(srTEF | srTCF | srSMF | srTOF)
	if c.AlternateLines != None {
		q.reg(regABR).Set(c.Alternate)
	}
	q.reg(regCCR).Set(c.ccr(modeMapped))
	q.mapped = true
	size := q.cfg.FlashSize
	if size > 256<<20 {
		size = 256 << 20
	}
	pkg.LogDebug(pkg.ComponentQSPI, "memory mapped", "cmd", c, "size", size)
	return &MemoryMapped{q: q, cmd: c, win: mmio.NewWindow(q.m.Bus, chip.QSPIWindow, int(size))}, nil
}

// Window returns the read-only flash window.
func (m *MemoryMapped) Window() mmio.Window { return m.win }

// Command returns the installed read command.
func (m *MemoryMapped) Command() Command { return m.cmd }

// Indirect aborts memory-mapped mode, disables the controller to flush
// the FIFO and returns the indirect controller.
func (m *MemoryMapped) Indirect() (*Indirect, error) {
	q := m.q
	q.abort()
	cr := q.reg(regCR)
	cr.ClearBits(crEN)
	if err := q.idle(); err != nil {
		return nil, err
	}
	q.reg(regCCR).Set(0)
	cr.SetBits(crEN)
	q.mapped = false
	pkg.LogDebug(pkg.ComponentQSPI, "memory mapping left")
	return q, nil
}
