package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/crc"
	"github.com/ardnew/f4core/dma"
	"github.com/ardnew/f4core/i2c"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/qspi"
	"github.com/ardnew/f4core/qspi/w25q"
	"github.com/ardnew/f4core/rcc"
	"github.com/ardnew/f4core/spi"
	"github.com/ardnew/f4core/tim"
)

type scenario struct {
	name  string
	short string
	run   func(s *session, w io.Writer) error
}

var scenarios = []scenario{
	{"blink", "toggle the LED from a 1 Hz timer interrupt", runBlink},
	{"spi", "exchange 16-bit frames between SPI1 and SPI2", runSPI},
	{"i2c", "write a register file on I2C3 from I2C1", runI2C},
	{"dma", "copy memory with DMA2 stream 0", runDMA},
	{"qspi", "program the external flash and read it memory mapped", runQSPI},
	{"usb", "enumerate a WinUSB device through the simulated host", runUSB},
}

var scenarioCmd = &cobra.Command{
	Use:       "scenario {blink|spi|i2c|dma|qspi|usb|all}...",
	Short:     "Run canned driver scenarios",
	Long:      "Run driver scenarios on a freshly reset simulated MCU and report what the simulator observed.",
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: append(scenarioNames(), "all"),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range args {
			for _, sc := range scenarios {
				if name != "all" && name != sc.name {
					continue
				}
				fmt.Fprintf(cur.out, "== %s: %s\n", sc.name, sc.short)
				if err := sc.run(cur, cur.out); err != nil {
					return fmt.Errorf("scenario %s: %w", sc.name, err)
				}
			}
			if name != "all" && find(name) == nil {
				return fmt.Errorf("scenario %q: %w", name, pkg.ErrNotSupported)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func scenarioNames() []string {
	var names []string
	for _, sc := range scenarios {
		names = append(names, sc.name)
	}
	return names
}

func find(name string) *scenario {
	for i := range scenarios {
		if scenarios[i].name == name {
			return &scenarios[i]
		}
	}
	return nil
}

func runBlink(s *session, w io.Writer) error {
	m, sm := s.fresh()
	b := s.board
	if b.HSE() == 0 {
		return fmt.Errorf("board %s has no crystal: %w", b.Name, pkg.ErrClockNotReady)
	}
	if _, err := rcc.Configure(m, rcc.Plan{HSE: b.HSE(), SysClk: rcc.HSE, AHB: 8}); err != nil {
		return err
	}
	led, err := b.LEDPin(m)
	if err != nil {
		return err
	}
	edges := 0
	sm.GPIO().Watch(b.LED, func(high bool) {
		level := "low"
		if high {
			level = "high"
		}
		edges++
		fmt.Fprintf(w, "%8v  %v %s\n", sm.Now(), b.LED, level)
	})

	tm, err := tim.Claim(m, chip.TIM2)
	if err != nil {
		return err
	}
	p, err := tm.PeriodicAt(physic.Hertz)
	if err != nil {
		return err
	}
	if err := m.Handle(tm.IRQ(), func() {
		if p.Updated() {
			led.Toggle()
		}
	}); err != nil {
		return err
	}
	p.Listen(true)
	if err := irq.NewNVIC(m).Enable(tm.IRQ(), 1); err != nil {
		return err
	}
	p.Start()
	sm.Advance(2500 * time.Millisecond)
	fmt.Fprintf(w, "timer clock %v, %d edges in %v\n", tm.Clock(), edges, sm.Now())
	if edges != 2 {
		return fmt.Errorf("LED toggled %d times, want 2", edges)
	}
	return nil
}

func runSPI(s *session, w io.Writer) error {
	m, sm := s.fresh()
	sm.LinkSPI(chip.SPI1, chip.SPI2)
	ms, err := spi.NewMaster(m, chip.SPI1, spi.Config{Bits: 16}, physic.MegaHertz)
	if err != nil {
		return err
	}
	sl, err := spi.NewSlave(m, chip.SPI2, spi.Config{Bits: 16})
	if err != nil {
		return err
	}
	for i, out := range []uint16{0x1234, 0xBEEF, 0x0F0F} {
		reply := ^out
		if err := sl.Preload(reply); err != nil {
			return err
		}
		start := sm.Now()
		in, err := ms.Transfer(out)
		if err != nil {
			return err
		}
		got, err := sl.ReadFrame()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "frame %d: master sent %#04x got %#04x, slave got %#04x, %v\n", i, out, in, got, sm.Now()-start)
		if in != reply || got != out {
			return fmt.Errorf("frame %d corrupted", i)
		}
	}
	return nil
}

// regFile is an I2C target with a register pointer: the first byte of a
// write selects the register, later bytes fill registers in turn and reads
// continue from the pointer.
type regFile struct {
	regs  [16]byte
	ptr   int
	first bool
}

func (r *regFile) Addressed(read bool) { r.first = !read }

func (r *regFile) Received(b byte) {
	if r.first {
		r.ptr, r.first = int(b)%len(r.regs), false
		return
	}
	r.regs[r.ptr] = b
	r.ptr = (r.ptr + 1) % len(r.regs)
}

func (r *regFile) Transmit() byte {
	b := r.regs[r.ptr]
	r.ptr = (r.ptr + 1) % len(r.regs)
	return b
}

func (r *regFile) Stopped() {}

func runI2C(s *session, w io.Writer) error {
	const addr = 0x55
	m, sm := s.fresh()
	ms, err := i2c.NewMaster(m, chip.I2C1, i2c.StandardSpeed)
	if err != nil {
		return err
	}
	dev := &regFile{}
	sl, err := i2c.NewSlave(m, chip.I2C3, addr, dev)
	if err != nil {
		return err
	}
	var fault error
	service := func() {
		if err := sl.Service(); err != nil && fault == nil {
			fault = err
		}
	}
	ev, er := sl.IRQs()
	nvic := irq.NewNVIC(m)
	for _, n := range []chip.IRQ{ev, er} {
		if err := m.Handle(n, service); err != nil {
			return err
		}
		if err := nvic.Enable(n, 2); err != nil {
			return err
		}
	}

	if err := ms.Write(addr, []byte{0x04, 0xDE, 0xAD}); err != nil {
		return err
	}
	sm.Advance(100 * time.Microsecond)
	fmt.Fprintf(w, "write: %s\n", sm.I2CBus().TraceString())
	sm.I2CBus().ClearTrace()

	r := make([]byte, 2)
	if err := ms.WriteRead(addr, []byte{0x04}, r); err != nil {
		return err
	}
	sm.Advance(100 * time.Microsecond)
	fmt.Fprintf(w, "read:  %s\n", sm.I2CBus().TraceString())
	if fault != nil {
		return fault
	}
	if !bytes.Equal(r, []byte{0xDE, 0xAD}) {
		return fmt.Errorf("read back % x", r)
	}
	return nil
}

func runDMA(s *session, w io.Writer) error {
	m, sm := s.fresh()
	src, dst := sm.Alloc(8, 4), sm.Alloc(8, 4)
	data := []byte("f4core!!")
	sm.WriteMem(src, data)

	st, err := dma.Claim(m, 2, 0)
	if err != nil {
		return err
	}
	if err := st.Configure(dma.Config{
		Direction: dma.MemToMem,
		Periph:    src,
		Memory:    dst,
		Count:     len(data),
		PSize:     dma.Byte,
		MSize:     dma.Byte,
		PInc:      true,
		MInc:      true,
		PBurst:    dma.Incr8,
		MBurst:    dma.Incr8,
		FIFO:      true,
		Threshold: dma.Half,
		Priority:  dma.Medium,
	}); err != nil {
		return err
	}
	if err := st.Start(); err != nil {
		return err
	}
	for i := 0; i < 1000; i++ {
		f := st.HandleIRQ()
		if err := f.Err(); err != nil {
			return err
		}
		if f != 0 {
			fmt.Fprintf(w, "%v  %v remaining %d\n", st, f, st.Remaining())
		}
		if f&dma.FlagTC != 0 {
			break
		}
	}
	got := sm.Bytes(dst, len(data))
	fmt.Fprintf(w, "copied %q, %d completions\n", got, sm.DMACompletions(2, 0))
	if !bytes.Equal(got, data) {
		return fmt.Errorf("destination holds % x", got)
	}
	return nil
}

func runQSPI(s *session, w io.Writer) error {
	m, sm := s.fresh()
	sm.Flash().EraseTime = time.Millisecond
	q, err := qspi.New(m, qspi.Config{Prescaler: 1, FlashSize: uint64(s.board.FlashSize), FIFOThreshold: 4})
	if err != nil {
		return err
	}
	f, err := w25q.Open(q)
	if err != nil {
		return err
	}
	id, err := f.JEDECID()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "JEDEC ID % X, %d bytes (%s)\n", id[:], f.Size(), s.board.FlashPart)

	msg := []byte(strings.Repeat("f4core ", 8))
	if err := f.EraseSector(0); err != nil {
		return err
	}
	if err := f.Program(0x100, msg); err != nil {
		return err
	}
	mm, err := f.MemoryMap()
	if err != nil {
		return err
	}
	got := make([]byte, len(msg))
	if _, err := mm.Window().ReadAt(got, 0x100); err != nil {
		return err
	}
	if !bytes.Equal(got, msg) {
		return fmt.Errorf("memory mapped read % x", got)
	}

	u, err := crc.Open(m)
	if err != nil {
		return err
	}
	defer u.Release()
	sum := u.Bytes(got)
	fmt.Fprintf(w, "read %d bytes memory mapped, CRC %#08x (host %#08x), %d flash commands\n",
		len(got), sum, crc.Checksum(msg), len(sm.Flash().Commands()))
	return nil
}

func runUSB(s *session, w io.Writer) error {
	m, sm := s.fresh()
	return enumerate(m, sm, s.board, usbOpts.class, w)
}
