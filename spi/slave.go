package spi

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Slave is an SPI block clocked by an external master.
type Slave struct {
	port
}

// NewSlave claims p and enables it as a slave.
func NewSlave(m *chip.MCU, p chip.Periph, c Config) (*Slave, error) {
	if c.SlaveSelect == HardwareSSOutput {
		return nil, pkg.ErrInvalidMode
	}
	cr1, err := c.cr1()
	if err != nil {
		return nil, err
	}
	b, err := claim(m, p)
	if err != nil {
		return nil, err
	}
	s := &Slave{port: b}
	s.configure(cr1, 0, c.CRCPolynomial)
	pkg.LogDebug(pkg.ComponentSPI, "slave", "spi", p, "mode", c.Mode)
	return s, nil
}

// Preload queues the frame returned to the master on its next exchange.
// It does not wait: it fails with pkg.ErrWouldBlock when the previous
// frame has not been taken yet.
func (s *Slave) Preload(f uint16) error {
	if !s.reg(regSR).HasBits(srTXE) {
		return pkg.ErrWouldBlock
	}
	s.dr().Set(f)
	return nil
}

// Release disables the block and gates its clock.
func (s *Slave) Release() error { return s.release() }
