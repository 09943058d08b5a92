package spi

import (
	"encoding/binary"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// Master is an SPI block generating the clock.
type Master struct {
	port
	cfg   Config
	speed physic.Frequency
	limit physic.Frequency
}

var _ spi.Conn = (*Master)(nil)
var _ spi.Port = (*Master)(nil)

// NewMaster claims p, configures it as master clocking at no more than
// speed and enables it.
func NewMaster(m *chip.MCU, p chip.Periph, c Config, speed physic.Frequency) (*Master, error) {
	b, err := claim(m, p)
	if err != nil {
		return nil, err
	}
	s := &Master{port: b}
	if err := s.setup(c, speed); err != nil {
		s.port.release()
		return nil, err
	}
	return s, nil
}

// prescaler returns the BR field for the fastest clock not above f.
func prescaler(pclk, f physic.Frequency) (uint32, error) {
	if f <= 0 {
		return 0, pkg.ErrOutOfRange
	}
	for br := uint32(0); br < 8; br++ {
		if pclk/physic.Frequency(2<<br) <= f {
			return br, nil
		}
	}
	return 0, pkg.ErrOutOfRange
}

func (s *Master) setup(c Config, speed physic.Frequency) error {
	if s.limit != 0 && speed > s.limit {
		speed = s.limit
	}
	cr1, err := c.cr1()
	if err != nil {
		return err
	}
	pclk := s.m.Clocks().Kernel(s.p)
	br, err := prescaler(pclk, speed)
	if err != nil {
		return err
	}
	cr1 |= cr1MSTR | cr1BR.Put(0, br)
	var cr2 uint32
	switch c.SlaveSelect {
	case SoftwareSS:
		cr1 |= cr1SSI
	case HardwareSSOutput:
		cr2 |= cr2SSOE
	}
	if err := s.drain(); err != nil {
		return err
	}
	s.configure(cr1, cr2, c.CRCPolynomial)
	s.cfg = c
	s.speed = pclk / physic.Frequency(2<<br)
	pkg.LogDebug(pkg.ComponentSPI, "master", "spi", s.p, "speed", s.speed, "mode", c.Mode)
	return nil
}

// Speed returns the actual bus clock.
func (s *Master) Speed() physic.Frequency { return s.speed }

// Connect reconfigures the link for a device and returns the master as
// its connection.
func (s *Master) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	c := s.cfg
	c.Mode, c.Bits = mode, bits
	if err := s.setup(c, f); err != nil {
		return nil, err
	}
	return s, nil
}

// LimitSpeed caps the clock of later Connect calls.
func (s *Master) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return pkg.ErrOutOfRange
	}
	s.limit = f
	if s.speed > f {
		return s.setup(s.cfg, f)
	}
	return nil
}

// Duplex returns conn.Full.
func (s *Master) Duplex() conn.Duplex { return conn.Full }

// Tx exchanges w for r. Missing write bytes are sent as zero and extra
// read bytes are discarded. With 16-bit frames both lengths must be even;
// frames are packed big-endian.
func (s *Master) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	step := 1
	if s.wide {
		step = 2
		if len(w)%2 != 0 || len(r)%2 != 0 {
			return pkg.ErrUnaligned
		}
	}
	var out [2]byte
	for i := 0; i < n; i += step {
		out = [2]byte{}
		copy(out[:step], w[min(i, len(w)):])
		f := uint16(out[0])
		if s.wide {
			f = binary.BigEndian.Uint16(out[:])
		}
		in, err := s.Transfer(f)
		if err != nil {
			return err
		}
		if i < len(r) {
			if s.wide {
				binary.BigEndian.PutUint16(r[i:], in)
			} else {
				r[i] = byte(in)
			}
		}
	}
	return nil
}

// TxPackets runs each packet in order. BitsPerWord must be zero or the
// configured frame size.
func (s *Master) TxPackets(pkts []spi.Packet) error {
	bits := uint8(8)
	if s.wide {
		bits = 16
	}
	for _, p := range pkts {
		if p.BitsPerWord != 0 && p.BitsPerWord != bits {
			return pkg.ErrNotSupported
		}
		if err := s.Tx(p.W, p.R); err != nil {
			return err
		}
	}
	return s.drain()
}

// Release waits for the last frame, disables the block and gates its
// clock.
func (s *Master) Release() error { return s.release() }
