package sim

import "github.com/ardnew/f4core/chip"

// RNG bits.
const (
	rngEN   = 1 << 2
	rngIE   = 1 << 3
	rngDRDY = 1 << 0
	rngCECS = 1 << 1
	rngSECS = 1 << 2
	rngCEIS = 1 << 5
	rngSEIS = 1 << 6

	rngCycles = 40 // RNG clock cycles per word
)

// rngModel produces xorshift words. A seed error is injected by tests;
// a clock error follows the PLL48 to HCLK ratio.
type rngModel struct {
	m      *Machine
	cr, sr uint32
	dr     uint32
	state  uint32
	next   *event
	seedAt int // fail the n-th word with a seed error, 0 = never
	words  int
}

func (r *rngModel) reset() {
	r.m.cancel(r.next)
	*r = rngModel{m: r.m, state: r.state, seedAt: r.seedAt}
	r.sync()
}

func (r *rngModel) sync() {
	r.m.line(chip.IRQRNG, r.cr&rngIE != 0 && r.sr&(rngDRDY|rngCEIS|rngSEIS) != 0)
}

func (r *rngModel) clockOK() bool {
	f := r.m.rcc.pll48()
	return f > 0 && int64(f)*12 >= int64(r.m.rcc.hclk())
}

func (r *rngModel) generate() {
	if r.next != nil || r.cr&rngEN == 0 || r.sr&(rngDRDY|rngSECS) != 0 {
		return
	}
	if !r.clockOK() {
		r.sr |= rngCECS | rngCEIS
		r.sync()
		return
	}
	r.sr &^= rngCECS
	r.next = r.m.schedule(rngCycles*period(r.m.rcc.pll48()), func() {
		r.next = nil
		if r.cr&rngEN == 0 {
			return
		}
		r.words++
		if r.seedAt != 0 && r.words == r.seedAt {
			r.sr |= rngSECS | rngSEIS
			r.sync()
			return
		}
		x := r.state
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		r.state = x
		r.dr = x
		r.sr |= rngDRDY
		r.sync()
	})
}

func (r *rngModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x0:
		return r.cr
	case 0x4:
		return r.sr
	case 0x8:
		if r.sr&rngDRDY == 0 {
			return 0
		}
		v := r.dr
		r.sr &^= rngDRDY
		r.sync()
		r.generate()
		return v
	}
	return 0
}

func (r *rngModel) write(off uint32, _ int, v uint32) {
	switch off {
	case 0x0:
		old := r.cr
		r.cr = v & (rngEN | rngIE)
		if r.cr&rngEN == 0 {
			r.m.cancel(r.next)
			r.next = nil
			r.sr &^= rngDRDY
		} else if old&rngEN == 0 {
			r.sr &^= rngSECS
			r.generate()
		}
	case 0x4:
		r.sr &^= (rngCEIS | rngSEIS) &^ v
		r.generate()
	}
	r.sync()
}

// InjectSeedError makes the n-th word generated from now on fail with a
// seed error.
func (m *Machine) InjectSeedError(n int) { m.rng.seedAt = m.rng.words + n }
