package sim

import (
	"github.com/ardnew/f4core/chip"
)

// DAC register offsets.
const (
	dacCR      = 0x00
	dacSWTRIGR = 0x04
	dacDHR12R1 = 0x08
	dacDHR8RD  = 0x28
	dacDOR1    = 0x2C
	dacDOR2    = 0x30
	dacSR      = 0x34

	dacEN       = 1 << 0
	dacTEN      = 1 << 2
	dacDMAEN    = 1 << 12
	dacDMAUDRIE = 1 << 13
	dacDMAUDR   = 1 << 13

	dacHistory = 4096
)

type dacChannel struct {
	dhr, dor uint32
	lfsr     uint32
	tri      uint32
	down     bool
	request  bool
	history  []uint16
}

// DAC models the two-channel DAC.
type DAC struct {
	m    *Machine
	cr   uint32
	sr   uint32
	ch   [2]dacChannel
	pend [2]*event
}

func (d *DAC) reset() {
	for _, e := range d.pend {
		d.m.cancel(e)
	}
	*d = DAC{m: d.m}
	for i := range d.ch {
		d.ch[i].lfsr = 0xAAA
	}
	d.sync()
}

func (d *DAC) sync() {
	l := d.cr&dacDMAUDRIE != 0 && d.sr&dacDMAUDR != 0 ||
		d.cr&(dacDMAUDRIE<<16) != 0 && d.sr&(dacDMAUDR<<16) != 0
	d.m.lineFrom(chip.IRQTIM6DAC, "dac", l)
}

func (d *DAC) bits(i int) uint32 { return d.cr >> (16 * i) & 0xFFFF }

func (d *DAC) read(off uint32, _ int) uint32 {
	switch {
	case off == dacCR:
		return d.cr
	case off >= dacDHR12R1 && off <= dacDHR8RD:
		return d.ch[0].dhr | d.ch[1].dhr<<16
	case off == dacDOR1:
		return d.ch[0].dor
	case off == dacDOR2:
		return d.ch[1].dor
	case off == dacSR:
		return d.sr
	}
	return 0
}

func (d *DAC) write(off uint32, _ int, v uint32) {
	switch {
	case off == dacCR:
		d.cr = v & 0x3FFF_3FFF
	case off == dacSWTRIGR:
		for i := 0; i < 2; i++ {
			if v&(1<<i) != 0 && d.bits(i)>>3&7 == 7 {
				d.trigger(i)
			}
		}
	case off >= dacDHR12R1 && off <= dacDHR8RD:
		d.writeDHR(off, v)
	case off == dacSR:
		d.sr &^= v & (dacDMAUDR | dacDMAUDR<<16)
	}
	d.sync()
}

// writeDHR decodes the nine holding-register aliases.
func (d *DAC) writeDHR(off, v uint32) {
	set := func(i int, x uint32) {
		c := &d.ch[i]
		c.dhr = x & 0xFFF
		c.request = false
		if d.bits(i)&dacTEN == 0 {
			d.load(i, 1)
		}
	}
	switch off {
	case 0x08:
		set(0, v)
	case 0x0C:
		set(0, v>>4)
	case 0x10:
		set(0, (v&0xFF)<<4)
	case 0x14:
		set(1, v)
	case 0x18:
		set(1, v>>4)
	case 0x1C:
		set(1, (v&0xFF)<<4)
	case 0x20:
		set(0, v)
		set(1, v>>16)
	case 0x24:
		set(0, v>>4)
		set(1, v>>20)
	case 0x28:
		set(0, (v&0xFF)<<4)
		set(1, (v>>8&0xFF)<<4)
	}
}

// load transfers DHR plus any wave offset to DOR after n APB1 cycles.
func (d *DAC) load(i int, n int64) {
	d.m.cancel(d.pend[i])
	d.pend[i] = d.m.schedule(n*period(d.m.rcc.pclk(chip.APB1)), func() {
		d.pend[i] = nil
		c := &d.ch[i]
		b := d.bits(i)
		v := c.dhr
		mamp := b >> 8 & 0xF
		switch b >> 6 & 3 {
		case 1:
			v += c.lfsr & (1<<(mamp+1) - 1)
			bit := (c.lfsr ^ c.lfsr>>1 ^ c.lfsr>>4 ^ c.lfsr>>6) & 1
			c.lfsr = (c.lfsr>>1 | bit<<11) & 0xFFF
		case 2, 3:
			v += c.tri
			top := uint32(1)<<(mamp+1) - 1
			switch {
			case !c.down && c.tri >= top:
				c.down = true
				c.tri--
			case c.down && c.tri == 0:
				c.down = false
				c.tri++
			case c.down:
				c.tri--
			default:
				c.tri++
			}
		}
		if v > 0xFFF {
			v = 0xFFF
		}
		c.dor = v
		if d.bits(i)&dacEN != 0 {
			c.history = append(c.history, uint16(v))
			if len(c.history) > dacHistory {
				c.history = c.history[len(c.history)-dacHistory:]
			}
		}
	})
}

func (d *DAC) trigger(i int) {
	b := d.bits(i)
	if b&dacEN == 0 || b&dacTEN == 0 {
		return
	}
	d.load(i, 3)
	if b&dacDMAEN == 0 {
		return
	}
	c := &d.ch[i]
	if c.request {
		d.sr |= dacDMAUDR << (16 * i)
		c.request = false
		d.sync()
		return
	}
	c.request = true
	if i == 0 {
		d.m.dmaPulse(chip.ReqDAC1)
	} else {
		d.m.dmaPulse(chip.ReqDAC2)
	}
}

// timerTrigger is called on a TRGO pulse of timer p.
func (d *DAC) timerTrigger(p chip.Periph) {
	sel := map[chip.Periph]uint32{chip.TIM6: 0, chip.TIM8: 1, chip.TIM7: 2,
		chip.TIM5: 3, chip.TIM2: 4, chip.TIM4: 5}
	s, ok := sel[p]
	if !ok {
		return
	}
	for i := 0; i < 2; i++ {
		if d.bits(i)>>3&7 == s {
			d.trigger(i)
		}
	}
}

// Output returns the voltage on channel ch (1 or 2).
func (d *DAC) Output(ch int) float64 {
	if d.bits(ch-1)&dacEN == 0 {
		return 0
	}
	return float64(d.ch[ch-1].dor) * VDDA / 4095
}

// History returns the last output codes of channel ch (1 or 2).
func (d *DAC) History(ch int) []uint16 { return append([]uint16(nil), d.ch[ch-1].history...) }

// DAC returns the DAC model.
func (m *Machine) DAC() *DAC { return m.dac }
