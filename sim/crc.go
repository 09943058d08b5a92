package sim

// crcModel is the CRC unit. A result read within four HCLK cycles of the
// last write returns the previous value.
type crcModel struct {
	m      *Machine
	dr     uint32
	prev   uint32
	idr    uint8
	settle int64
}

const crcPoly = 0x04C1_1DB7

func crcWord(crc, w uint32) uint32 {
	crc ^= w
	for i := 0; i < 32; i++ {
		if crc&0x8000_0000 != 0 {
			crc = crc<<1 ^ crcPoly
		} else {
			crc <<= 1
		}
	}
	return crc
}

func (c *crcModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x0:
		if c.m.now < c.settle {
			return c.prev
		}
		return c.dr
	case 0x4:
		return uint32(c.idr)
	}
	return 0
}

func (c *crcModel) write(off uint32, _ int, v uint32) {
	switch off {
	case 0x0:
		c.prev = c.dr
		c.dr = crcWord(c.dr, v)
		c.settle = c.m.now + 4*c.m.rcc.hclkPeriod
	case 0x4:
		c.idr = uint8(v)
	case 0x8:
		if v&1 != 0 {
			c.dr, c.prev = 0xFFFF_FFFF, 0xFFFF_FFFF
		}
	}
}
