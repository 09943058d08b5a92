package i2c

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Master is a polled I²C controller using 7-bit addresses.
type Master struct {
	block
	duty   Duty
	timing Timing
}

var _ i2c.Bus = (*Master)(nil)

// NewMaster claims p and enables it as a controller at no more than
// speed, using Duty2 in fast mode.
func NewMaster(m *chip.MCU, p chip.Periph, speed physic.Frequency) (*Master, error) {
	b, err := claim(m, p)
	if err != nil {
		return nil, err
	}
	c := &Master{block: b}
	if err := c.SetSpeed(speed); err != nil {
		b.release()
		return nil, err
	}
	return c, nil
}

// SetDuty selects the fast mode duty cycle used by later SetSpeed calls.
func (c *Master) SetDuty(d Duty) { c.duty = d }

// SetSpeed reprograms the bus clock. The block is reset, so it must not
// be called mid-transaction.
func (c *Master) SetSpeed(f physic.Frequency) error {
	t, err := Solve(c.m.Clocks().PCLK(chip.APB1), f, c.duty)
	if err != nil {
		return err
	}
	c.setup(t, 0)
	c.timing = t
	pkg.LogDebug(pkg.ComponentI2C, "master", "i2c", c.p, "speed", t.Speed(), "ccr", t.CCR)
	return nil
}

// Speed returns the actual SCL frequency.
func (c *Master) Speed() physic.Frequency { return c.timing.Speed() }

// wait polls SR1 for bit. On an error flag it clears the flag, releases
// the bus where the controller still owns it, and returns the fault.
func (c *Master) wait(bit uint32) error {
	sr1 := c.reg(regSR1)
	for i := 0; i < c.m.Spin; i++ {
		v := sr1.Get()
		if v&srErr != 0 {
			if v&(srAF|srBERR) != 0 {
				c.reg(regCR1).SetBits(cr1STOP)
			}
			e := c.faultOf(v)
			pkg.LogWarn(pkg.ComponentI2C, "transfer failed", "i2c", c.p, "err", e)
			c.waitStop()
			return e
		}
		if v&bit != 0 {
			return nil
		}
	}
	c.reg(regCR1).SetBits(cr1STOP)
	pkg.LogWarn(pkg.ComponentI2C, "timeout", "i2c", c.p, "flag", bit)
	return pkg.I2CError{Timeout: true}
}

// waitStop waits until the STOP condition has been sent.
func (c *Master) waitStop() {
	cr1 := c.reg(regCR1)
	for i := 0; i < c.m.Spin && cr1.HasBits(cr1STOP); i++ {
	}
}

// start sends a START (or repeated START) followed by the address byte.
func (c *Master) start(addr byte) error {
	c.reg(regCR1).SetBits(cr1START)
	if err := c.wait(srSB); err != nil {
		return err
	}
	c.reg(regDR).Set(uint32(addr))
	return nil
}

// clearADDR completes the SR1-then-SR2 read that releases ADDR. The
// caller's wait loop already read SR1.
func (c *Master) clearADDR() { c.reg(regSR2).Get() }

func (c *Master) idle() error {
	sr2 := c.reg(regSR2)
	for i := 0; i < c.m.Spin; i++ {
		if !sr2.HasBits(sr2BUSY) {
			return nil
		}
	}
	return pkg.ErrBusy
}

func check(addr uint16) error {
	if addr > 0x7F {
		return pkg.ErrOutOfRange
	}
	return nil
}

// transmit sends the address for writing and w, leaving the bus held
// with BTF set.
func (c *Master) transmit(addr uint16, w []byte) error {
	if err := c.start(byte(addr << 1)); err != nil {
		return err
	}
	if err := c.wait(srADDR); err != nil {
		return err
	}
	c.clearADDR()
	for _, b := range w {
		if err := c.wait(srTXE); err != nil {
			return err
		}
		c.reg(regDR).Set(uint32(b))
	}
	if len(w) > 0 {
		return c.wait(srBTF)
	}
	return nil
}

// receive reads len(r) bytes after a START, NACKs the last one and sends
// STOP.
func (c *Master) receive(addr uint16, r []byte) error {
	if err := c.start(byte(addr<<1) | 1); err != nil {
		return err
	}
	cr1, dr := c.reg(regCR1), c.reg(regDR)
	n := len(r)
	switch n {
	case 1:
		cr1.ClearBits(cr1ACK)
		if err := c.wait(srADDR); err != nil {
			return err
		}
		c.clearADDR()
		cr1.SetBits(cr1STOP)
		if err := c.wait(srRXNE); err != nil {
			return err
		}
		r[0] = byte(dr.Get())
	case 2:
		cr1.SetBits(cr1ACK | cr1POS)
		if err := c.wait(srADDR); err != nil {
			return err
		}
		c.clearADDR()
		cr1.ClearBits(cr1ACK)
		if err := c.wait(srBTF); err != nil {
			return err
		}
		cr1.SetBits(cr1STOP)
		r[0] = byte(dr.Get())
		r[1] = byte(dr.Get())
	default:
		cr1.SetBits(cr1ACK)
		if err := c.wait(srADDR); err != nil {
			return err
		}
		c.clearADDR()
		for i := 0; i < n-3; i++ {
			if err := c.wait(srRXNE); err != nil {
				return err
			}
			r[i] = byte(dr.Get())
		}
		// Data N-2 in DR, N-1 in the shift register: NACK N, then STOP.
		if err := c.wait(srBTF); err != nil {
			return err
		}
		cr1.ClearBits(cr1ACK)
		r[n-3] = byte(dr.Get())
		cr1.SetBits(cr1STOP)
		r[n-2] = byte(dr.Get())
		if err := c.wait(srRXNE); err != nil {
			return err
		}
		r[n-1] = byte(dr.Get())
	}
	c.waitStop()
	cr1.ReplaceBits(cr1ACK, cr1ACK|cr1POS, 0)
	return nil
}

// Write sends w to addr.
func (c *Master) Write(addr uint16, w []byte) error {
	if err := check(addr); err != nil {
		return err
	}
	if err := c.idle(); err != nil {
		return err
	}
	if err := c.transmit(addr, w); err != nil {
		return err
	}
	c.reg(regCR1).SetBits(cr1STOP)
	c.waitStop()
	return nil
}

// Read fills r from addr.
func (c *Master) Read(addr uint16, r []byte) error {
	if len(r) == 0 {
		return c.Write(addr, nil)
	}
	if err := check(addr); err != nil {
		return err
	}
	if err := c.idle(); err != nil {
		return err
	}
	return c.receive(addr, r)
}

// WriteRead sends w and then reads r after a repeated START, without
// releasing the bus in between.
func (c *Master) WriteRead(addr uint16, w, r []byte) error {
	if len(w) == 0 {
		return c.Read(addr, r)
	}
	if len(r) == 0 {
		return c.Write(addr, w)
	}
	if err := check(addr); err != nil {
		return err
	}
	if err := c.idle(); err != nil {
		return err
	}
	if err := c.transmit(addr, w); err != nil {
		return err
	}
	return c.receive(addr, r)
}

// Tx implements i2c.Bus.
func (c *Master) Tx(addr uint16, w, r []byte) error { return c.WriteRead(addr, w, r) }

// Release disables the block and gates its clock.
func (c *Master) Release() { c.release() }
