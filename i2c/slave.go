package i2c

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Handler receives the events of an addressed slave. Its methods run in
// interrupt context.
type Handler interface {
	// Addressed reports that a controller selected this device; read is
	// true when the controller reads.
	Addressed(read bool)
	// Received delivers a byte written by the controller.
	Received(b byte)
	// Transmit returns the next byte for the controller to read. One byte
	// more than the controller takes may be requested.
	Transmit() byte
	// Stopped reports the STOP condition ending the transaction.
	Stopped()
}

// Slave is an interrupt-driven I²C target with a 7-bit own address.
type Slave struct {
	block
	addr uint8
	h    Handler
}

// NewSlave claims p and makes it answer at addr with h. Interrupts are
// enabled on the block; route both lines from IRQs to Service.
func NewSlave(m *chip.MCU, p chip.Periph, addr uint8, h Handler) (*Slave, error) {
	if addr < 0x08 || addr > 0x77 {
		return nil, pkg.ErrOutOfRange
	}
	// The slave clock only sets data setup time; CCR is unused.
	t, err := Solve(m.Clocks().PCLK(chip.APB1), StandardSpeed, Duty2)
	if err != nil {
		return nil, err
	}
	b, err := claim(m, p)
	if err != nil {
		return nil, err
	}
	s := &Slave{block: b, addr: addr, h: h}
	s.setup(t, uint32(addr)<<1)
	s.reg(regCR2).SetBits(cr2ITEVTEN | cr2ITBUFEN | cr2ITERREN)
	pkg.LogDebug(pkg.ComponentI2C, "slave", "i2c", p, "addr", addr)
	return s, nil
}

// Address returns the own address.
func (s *Slave) Address() uint8 { return s.addr }

// Service handles every pending event. It loops until SR1 shows nothing
// left to do, since several flags can be raised by one interrupt. Bus
// errors are cleared and returned; acknowledge failure at the end of a
// slave transmission is normal and cleared silently.
func (s *Slave) Service() error {
	sr1r, dr, cr1 := s.reg(regSR1), s.reg(regDR), s.reg(regCR1)
	var fault error
	for {
		v := sr1r.Get()
		switch {
		case v&srADDR != 0:
			sr2 := s.reg(regSR2).Get()
			s.h.Addressed(sr2&sr2TRA != 0)
		case v&srRXNE != 0:
			s.h.Received(byte(dr.Get()))
		case v&srTXE != 0:
			dr.Set(uint32(s.h.Transmit()))
		case v&srSTOPF != 0:
			// SR1 read, then CR1 write.
			cr1.Set(cr1.Get())
			s.h.Stopped()
		case v&srAF != 0:
			sr1r.Set(^uint32(srAF))
		case v&srErr != 0:
			e := s.faultOf(v)
			pkg.LogWarn(pkg.ComponentI2C, "slave fault", "i2c", s.p, "err", e)
			fault = e
		default:
			return fault
		}
	}
}

// Release disables the block and gates its clock.
func (s *Slave) Release() { s.release() }
