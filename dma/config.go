package dma

import (
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
)

// Direction of a transfer.
type Direction uint8

const (
	PeriphToMem Direction = iota
	MemToPeriph
	// MemToMem copies from the address in Periph to Memory without a
	// request. Only DMA2 can do it.
	MemToMem
)

func (d Direction) String() string {
	switch d {
	case PeriphToMem:
		return "periph-to-mem"
	case MemToPeriph:
		return "mem-to-periph"
	case MemToMem:
		return "mem-to-mem"
	}
	return "invalid"
}

// Size is a data item width.
type Size uint8

const (
	Byte Size = iota
	HalfWord
	Word
)

// Bytes returns the width in bytes.
func (s Size) Bytes() int { return 1 << s }

// Burst is the number of beats moved per request.
type Burst uint8

const (
	Single Burst = iota
	Incr4
	Incr8
	Incr16
)

// Beats returns the number of data items in one burst.
func (b Burst) Beats() int { return [...]int{1, 4, 8, 16}[b&3] }

// Threshold is the FIFO fill level that triggers a memory burst.
type Threshold uint8

const (
	Quarter Threshold = iota
	Half
	ThreeQuarters
	Full
)

// FIFOBytes is the size of a stream FIFO.
const FIFOBytes = 16

// Bytes returns the fill level in bytes.
func (t Threshold) Bytes() int { return (int(t&3) + 1) * FIFOBytes / 4 }

// Priority arbitrates between streams of one controller.
type Priority uint8

const (
	Low Priority = iota
	Medium
	High
	VeryHigh
)

// MaxCount is the largest NDTR value.
const MaxCount = 0xFFFF

// Config is the complete programming of a stream.
type Config struct {
	Channel   uint8 // request channel 0..7
	Direction Direction

	// Periph is the peripheral data register, or the source for MemToMem.
	Periph uintptr
	Memory uintptr
	// Memory1 enables double-buffer mode: the stream alternates between
	// Memory and Memory1, which implies circular operation.
	Memory1 uintptr

	// Count is the number of peripheral-side items (NDTR), 1..MaxCount.
	Count int

	PSize, MSize   Size
	PInc, MInc     bool
	PBurst, MBurst Burst

	// FIFO selects FIFO mode; direct mode otherwise. MemToMem always
	// uses the FIFO.
	FIFO      bool
	Threshold Threshold

	Circular bool
	Priority Priority

	// Interrupts are the flags that raise the stream interrupt.
	Interrupts Flags
}

func (c Config) fifo() bool { return c.FIFO || c.Direction == MemToMem }

// msize is the memory-side width the hardware uses: direct mode ignores
// MSIZE and takes PSIZE.
func (c Config) msize() Size {
	if !c.fifo() {
		return c.PSize
	}
	return c.MSize
}

// validate checks c for controller ctrl. It returns ErrInvalidMode for
// impossible combinations, ErrOutOfRange for field ranges, ErrUnaligned
// for addresses and a DMAError for FIFO and burst incompatibilities.
func (c Config) validate(ctrl uint8) error {
	switch {
	case c.Direction > MemToMem:
		return pkg.ErrInvalidMode
	case c.Direction == MemToMem && ctrl != 2:
		return pkg.ErrInvalidMode
	case c.Direction == MemToMem && (c.Circular || c.Memory1 != 0):
		return pkg.ErrInvalidMode
	case c.Channel > 7 || c.PSize > Word || c.MSize > Word || c.Threshold > Full ||
		c.Priority > VeryHigh || c.PBurst > Incr16 || c.MBurst > Incr16:
		return pkg.ErrOutOfRange
	case c.Count < 1 || c.Count > MaxCount:
		return pkg.ErrOutOfRange
	}
	ps, ms := c.PSize.Bytes(), c.msize().Bytes()
	if c.Periph%uintptr(ps) != 0 || c.Memory%uintptr(ms) != 0 || c.Memory1%uintptr(ms) != 0 {
		return pkg.ErrUnaligned
	}
	if !c.fifo() {
		if c.PBurst != Single || c.MBurst != Single {
			return pkg.DMAError{DirectModeError: true}
		}
		return nil
	}
	level := c.Threshold.Bytes()
	mb := c.MBurst.Beats() * ms
	pb := c.PBurst.Beats() * ps
	switch {
	case mb > level, level%mb != 0:
		return pkg.DMAError{FIFOError: true}
	case pb > FIFOBytes:
		return pkg.DMAError{FIFOError: true}
	case c.Count*ps%mb != 0:
		// the last burst would be incomplete
		return pkg.DMAError{FIFOError: true}
	}
	return nil
}

// Stream CR and FCR fields.
const (
	crEN     = 1 << 0
	crDMEIE  = 1 << 1
	crTEIE   = 1 << 2
	crHTIE   = 1 << 3
	crTCIE   = 1 << 4
	crCIRC   = 1 << 8
	crPINC   = 1 << 9
	crMINC   = 1 << 10
	crDBM    = 1 << 18
	crCT     = 1 << 19
	fcrDMDIS = 1 << 2
	fcrFEIE  = 1 << 7
)

var (
	crDIR    = mmio.Field[uint32]{Pos: 6, Width: 2}
	crPSIZE  = mmio.Field[uint32]{Pos: 11, Width: 2}
	crMSIZE  = mmio.Field[uint32]{Pos: 13, Width: 2}
	crPL     = mmio.Field[uint32]{Pos: 16, Width: 2}
	crPBURST = mmio.Field[uint32]{Pos: 21, Width: 2}
	crMBURST = mmio.Field[uint32]{Pos: 23, Width: 2}
	crCHSEL  = mmio.Field[uint32]{Pos: 25, Width: 3}
	fcrFTH   = mmio.Field[uint32]{Pos: 0, Width: 2}
)

// registers returns CR without EN, and FCR.
func (c Config) registers() (cr, fcr uint32) {
	cr = crDIR.Put(cr, uint32(c.Direction))
	cr = crPSIZE.Put(cr, uint32(c.PSize))
	cr = crMSIZE.Put(cr, uint32(c.msize()))
	cr = crPL.Put(cr, uint32(c.Priority))
	cr = crPBURST.Put(cr, uint32(c.PBurst))
	cr = crMBURST.Put(cr, uint32(c.MBurst))
	cr = crCHSEL.Put(cr, uint32(c.Channel))
	if c.PInc {
		cr |= crPINC
	}
	if c.MInc {
		cr |= crMINC
	}
	if c.Circular {
		cr |= crCIRC
	}
	if c.Memory1 != 0 {
		cr |= crDBM | crCIRC
	}
	if c.Interrupts&FlagTC != 0 {
		cr |= crTCIE
	}
	if c.Interrupts&FlagHT != 0 {
		cr |= crHTIE
	}
	if c.Interrupts&FlagTE != 0 {
		cr |= crTEIE
	}
	if c.Interrupts&FlagDME != 0 {
		cr |= crDMEIE
	}
	if c.fifo() {
		fcr = fcrFTH.Put(fcrDMDIS, uint32(c.Threshold))
	}
	if c.Interrupts&FlagFE != 0 {
		fcr |= fcrFEIE
	}
	return cr, fcr
}
