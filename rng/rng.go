// Package rng drives the true random number generator.
//
// The RNG runs from the 48 MHz PLL output, which must be at least HCLK/12.
// A seed error (the noise source stuck or too regular) is recovered by
// clearing SEIS and restarting the generator; a clock error clears by
// itself once the clock ratio is restored.
package rng

import (
	"encoding/binary"
	"io"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

const (
	regCR = 0x00
	regSR = 0x04
	regDR = 0x08

	crRNGEN = 1 << 2
	crIE    = 1 << 3

	srDRDY = 1 << 0
	srCECS = 1 << 1
	srSECS = 1 << 2
	srCEIS = 1 << 5
	srSEIS = 1 << 6

	// maxRecover bounds consecutive seed error recoveries for one word.
	maxRecover = 3
)

// Generator is an enabled RNG.
type Generator struct {
	m         *chip.MCU
	recovered int
}

var _ io.Reader = (*Generator)(nil)

func clockOK(c chip.Clocks) bool { return c.PLL48 > 0 && c.PLL48*12 >= c.HCLK }

// Open claims the RNG and starts it. The 48 MHz clock must already run.
func Open(m *chip.MCU) (*Generator, error) {
	if !clockOK(m.Clocks()) {
		pkg.LogError(pkg.ComponentRNG, "RNG clock too slow", "pll48", m.Clocks().PLL48, "hclk", m.Clocks().HCLK)
		return nil, pkg.ErrClockNotReady
	}
	if err := m.Claim(chip.RNG); err != nil {
		return nil, err
	}
	rcc.Enable(m, chip.RNG)
	g := &Generator{m: m}
	g.reg(regCR).Set(crRNGEN)
	return g, nil
}

func (g *Generator) reg(off uintptr) mmio.Register32 { return g.m.Block(chip.RNG).R32(off) }

// recover restarts the generator after a seed error.
func (g *Generator) recover() {
	g.reg(regSR).Set(^uint32(srSEIS))
	cr := g.reg(regCR)
	cr.ClearBits(crRNGEN)
	cr.SetBits(crRNGEN)
	g.recovered++
	pkg.LogWarn(pkg.ComponentRNG, "seed error recovered", "count", g.recovered)
}

// Uint32 waits for the next random word.
func (g *Generator) Uint32() (uint32, error) {
	sr := g.reg(regSR)
	tries := 0
	for i := 0; i < g.m.Spin; i++ {
		s := sr.Get()
		switch {
		case s&(srSECS|srSEIS) != 0:
			if tries++; tries > maxRecover {
				return 0, pkg.ErrTimeout
			}
			g.recover()
		case s&srCEIS != 0:
			sr.Set(^uint32(srCEIS))
			if s&srCECS != 0 {
				pkg.LogError(pkg.ComponentRNG, "clock error")
				return 0, pkg.ErrClockNotReady
			}
		case s&srDRDY != 0:
			return g.reg(regDR).Get(), nil
		}
	}
	return 0, pkg.ErrBusTimeout
}

// Read fills p with random bytes.
func (g *Generator) Read(p []byte) (int, error) {
	var w [4]byte
	n := 0
	for n < len(p) {
		v, err := g.Uint32()
		if err != nil {
			return n, err
		}
		binary.LittleEndian.PutUint32(w[:], v)
		n += copy(p[n:], w[:])
	}
	return n, nil
}

// Recovered returns the number of seed errors recovered so far.
func (g *Generator) Recovered() int { return g.recovered }

// Listen enables the data-ready and error interrupt at prio.
func (g *Generator) Listen(prio uint8) error {
	g.reg(regCR).SetBits(crIE)
	return irq.NewNVIC(g.m).Enable(chip.IRQRNG, prio)
}

// Ready reports whether a word is waiting, for use from the interrupt
// handler together with Uint32.
func (g *Generator) Ready() bool { return g.reg(regSR).HasBits(srDRDY) }

// Release stops the generator and gives up the claim.
func (g *Generator) Release() {
	g.reg(regCR).Set(0)
	rcc.Disable(g.m, chip.RNG)
	g.m.Release(chip.RNG)
}
