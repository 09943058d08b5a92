package qspi

import (
	"fmt"

	"github.com/ardnew/f4core/pkg"
)

// Lines is the bus width of a command phase.
type Lines uint8

// Phase widths, in CCR mode-field order.
const (
	None Lines = iota
	Single
	Dual
	Quad
)

func (l Lines) String() string {
	switch l {
	case None:
		return "none"
	case Single:
		return "1-line"
	case Dual:
		return "2-line"
	case Quad:
		return "4-line"
	}
	return fmt.Sprintf("Lines(%d)", uint8(l))
}

// CCR fields.
const (
	ccrIMODE   = 8
	ccrADMODE  = 10
	ccrADSIZE  = 12
	ccrABMODE  = 14
	ccrABSIZE  = 16
	ccrDCYC    = 18
	ccrDMODE   = 24
	ccrFMODE   = 26
	ccrSIOO    = 1 << 28
	maxDummy   = 31
	maxAddress = 4
)

// Functional modes.
const (
	modeWrite uint32 = iota
	modeRead
	modePoll
	modeMapped
)

// Command is one QUADSPI transaction. A phase whose Lines is None is
// skipped; the data length comes from the buffer passed to the operation.
type Command struct {
	Instruction      byte
	InstructionLines Lines

	Address      uint32
	AddressLines Lines
	AddressSize  int // bytes, 1..4

	Alternate      uint32
	AlternateLines Lines
	AlternateSize  int // bytes, 1..4

	DummyCycles int // 0..31
	DataLines   Lines

	// SendOnce sends the instruction only for the first memory-mapped
	// access.
	SendOnce bool
}

// String formats c the way flash datasheets name commands.
func (c Command) String() string {
	s := fmt.Sprintf("%#02x", c.Instruction)
	if c.AddressLines != None {
		s += fmt.Sprintf(" addr=%#x/%v", c.Address, c.AddressLines)
	}
	if c.AlternateLines != None {
		s += fmt.Sprintf(" alt=%#x/%v", c.Alternate, c.AlternateLines)
	}
	if c.DummyCycles > 0 {
		s += fmt.Sprintf(" dummy=%d", c.DummyCycles)
	}
	if c.DataLines != None {
		s += " data/" + c.DataLines.String()
	}
	return s
}

func (c Command) validate() error {
	switch {
	case c.InstructionLines > Quad || c.AddressLines > Quad ||
		c.AlternateLines > Quad || c.DataLines > Quad:
		return pkg.ErrOutOfRange
	case c.DummyCycles < 0 || c.DummyCycles > maxDummy:
		return pkg.ErrOutOfRange
	case c.AddressLines != None && (c.AddressSize < 1 || c.AddressSize > maxAddress):
		return pkg.ErrOutOfRange
	case c.AlternateLines != None && (c.AlternateSize < 1 || c.AlternateSize > maxAddress):
		return pkg.ErrOutOfRange
	case c.AddressLines != None && c.AddressSize < 4 && c.Address>>(8*c.AddressSize) != 0:
		return pkg.ErrOutOfRange
	case c.InstructionLines == None && c.AddressLines == None && c.DataLines == None:
		return pkg.ErrInvalidMode
	}
	return nil
}

// ccr encodes c for functional mode fmode.
func (c Command) ccr(fmode uint32) uint32 {
	v := uint32(c.Instruction) |
		uint32(c.InstructionLines)<<ccrIMODE |
		uint32(c.AddressLines)<<ccrADMODE |
		uint32(c.AlternateLines)<<ccrABMODE |
		uint32(c.DummyCycles)<<ccrDCYC |
		uint32(c.DataLines)<<ccrDMODE |
		fmode<<ccrFMODE
	if c.AddressLines != None {
		v |= uint32(c.AddressSize-1) << ccrADSIZE
	}
	if c.AlternateLines != None {
		v |= uint32(c.AlternateSize-1) << ccrABSIZE
	}
	if c.SendOnce && fmode == modeMapped {
		v |= ccrSIOO
	}
	return v
}
