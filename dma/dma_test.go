package dma

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/adc"
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/dac"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
	"github.com/ardnew/f4core/spi"
	"github.com/ardnew/f4core/tim"
	"github.com/ardnew/f4core/usart"
)

func copyConfig(src, dst uintptr) Config {
	return Config{
		Direction: MemToMem,
		Periph:    src,
		Memory:    dst,
		Count:     8,
		PSize:     Byte,
		MSize:     Byte,
		PInc:      true,
		MInc:      true,
		PBurst:    Incr8,
		MBurst:    Incr8,
		FIFO:      true,
		Threshold: Half,
		Priority:  Medium,
	}
}

func TestMemToMem(t *testing.T) {
	m, s := sim.NewMCU()
	src, dst := s.Alloc(8, 4), s.Alloc(8, 4)
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	s.WriteMem(src, want)

	st, err := Claim(m, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(copyConfig(src, dst)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := st.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	var ht, tc int
	for i := 0; i < 1000 && tc == 0; i++ {
		f := st.HandleIRQ()
		if err := f.Err(); err != nil {
			t.Fatalf("flags %v", f)
		}
		if f&FlagHT != 0 {
			ht++
		}
		if f&FlagTC != 0 {
			tc++
		}
	}
	if ht != 1 || tc != 1 {
		t.Errorf("half transfer seen %d times, complete %d times, want 1 and 1", ht, tc)
	}
	if diff := cmp.Diff(want, s.Bytes(dst, 8)); diff != "" {
		t.Errorf("dst mismatch (-want +got):\n%s", diff)
	}
	if st.Enabled() {
		t.Error("Enabled() = true after a one-shot transfer")
	}
	if st.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", st.Remaining())
	}

	// Restart repeats the transfer with the original count.
	next := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	s.WriteMem(src, next)
	if err := st.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if err := st.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if diff := cmp.Diff(next, s.Bytes(dst, 8)); diff != "" {
		t.Errorf("dst after Restart mismatch (-want +got):\n%s", diff)
	}
	if got := s.DMACompletions(2, 0); got != 2 {
		t.Errorf("DMACompletions(2, 0) = %d, want 2", got)
	}
}

func TestStartNeedsClearedFlags(t *testing.T) {
	m, s := sim.NewMCU()
	src, dst := s.Alloc(8, 4), s.Alloc(8, 4)
	st, _ := Claim(m, 2, 1)
	if err := st.Configure(copyConfig(src, dst)); err != nil {
		t.Fatal(err)
	}
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	s.Advance(10 * time.Microsecond)
	if st.Flags()&FlagTC == 0 {
		t.Fatal("TC not set after the transfer")
	}
	// Writing EN with TC still set is ignored by the hardware; Start clears
	// the flags first, so the stream runs again.
	s.WriteMem(src, []byte("abcdefgh"))
	if err := st.Restart(); err != nil {
		t.Fatal(err)
	}
	s.Advance(10 * time.Microsecond)
	if got := string(s.Bytes(dst, 8)); got != "abcdefgh" {
		t.Errorf("dst = %q, want %q", got, "abcdefgh")
	}
}

func TestConfigureRejects(t *testing.T) {
	m, s := sim.NewMCU()
	src, dst := s.Alloc(64, 4), s.Alloc(64, 4)
	base := copyConfig(src, dst)
	tests := []struct {
		name string
		ctrl uint8
		edit func(*Config)
		want error
	}{
		{"mem2mem on DMA1", 1, func(c *Config) {}, pkg.ErrInvalidMode},
		{"circular mem2mem", 2, func(c *Config) { c.Circular = true }, pkg.ErrInvalidMode},
		{"zero count", 2, func(c *Config) { c.Count = 0 }, pkg.ErrOutOfRange},
		{"count too large", 2, func(c *Config) { c.Count = MaxCount + 1 }, pkg.ErrOutOfRange},
		{"channel 8", 2, func(c *Config) { c.Channel = 8 }, pkg.ErrOutOfRange},
		{"unaligned word", 2, func(c *Config) {
			c.PSize, c.MSize, c.PBurst, c.MBurst, c.Memory = Word, Word, Single, Single, dst+2
		}, pkg.ErrUnaligned},
		{"burst above threshold", 2, func(c *Config) { c.Threshold = Quarter }, pkg.DMAError{FIFOError: true}},
		{"burst not dividing threshold", 2, func(c *Config) {
			c.MSize, c.MBurst, c.Threshold, c.Count = HalfWord, Incr4, ThreeQuarters, 12
		}, pkg.DMAError{FIFOError: true}},
		{"peripheral burst too large", 2, func(c *Config) {
			c.PSize, c.PBurst, c.MSize, c.MBurst, c.Threshold = Word, Incr8, Word, Single, Full
		}, pkg.DMAError{FIFOError: true}},
		{"incomplete last burst", 2, func(c *Config) { c.Count = 6 }, pkg.DMAError{FIFOError: true}},
		{"burst in direct mode", 1, func(c *Config) {
			c.Direction, c.FIFO = PeriphToMem, false
		}, pkg.DMAError{DirectModeError: true}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Claim(m, tt.ctrl, uint8(i%8))
			if err != nil {
				t.Fatal(err)
			}
			defer st.Release()
			c := base
			tt.edit(&c)
			err = st.Configure(c)
			if !errors.Is(err, tt.want) && err != tt.want {
				t.Errorf("Configure() error = %v, want %v", err, tt.want)
			}
			if got := s.Peek(st.reg(regCR).Addr()); got != 0 {
				t.Errorf("CR = %#x after a rejected Configure, want 0", got)
			}
			if err := st.Start(); !errors.Is(err, pkg.ErrInvalidMode) {
				t.Errorf("Start() after rejected Configure error = %v, want ErrInvalidMode", err)
			}
		})
	}
}

func TestTransferError(t *testing.T) {
	m, s := sim.NewMCU()
	dst := s.Alloc(8, 4)
	st, _ := Claim(m, 2, 3)
	c := copyConfig(0x6000_0000, dst)
	if err := st.Configure(c); err != nil {
		t.Fatal(err)
	}
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}
	err := st.Wait()
	var de pkg.DMAError
	if !errors.As(err, &de) || !de.TransferError {
		t.Errorf("Wait() error = %v, want transfer error", err)
	}
	if !errors.Is(err, pkg.ErrDMA) {
		t.Errorf("Wait() error = %v, want ErrDMA", err)
	}
}

func TestClaimFor(t *testing.T) {
	m, _ := sim.NewMCU()
	a, err := ClaimFor(m, chip.ReqSPI1RX)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ClaimFor(m, chip.ReqSPI1RX)
	if err != nil {
		t.Fatal(err)
	}
	got := [][3]uint8{{a.Controller(), a.Number(), a.Channel()}, {b.Controller(), b.Number(), b.Channel()}}
	if diff := cmp.Diff([][3]uint8{{2, 0, 3}, {2, 2, 3}}, got); diff != "" {
		t.Errorf("ClaimFor() slots mismatch (-want +got):\n%s", diff)
	}
	if _, err := ClaimFor(m, chip.ReqSPI1RX); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("third ClaimFor() error = %v, want ErrClaimed", err)
	}
	if _, err := Claim(m, 2, 0); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("Claim(2, 0) error = %v, want ErrClaimed", err)
	}
	a.Release()
	if _, err := Claim(m, 2, 0); err != nil {
		t.Errorf("Claim(2, 0) after Release error = %v", err)
	}
	if a.IRQ() != chip.IRQDMA2Stream0 {
		t.Errorf("IRQ() = %v, want DMA2_Stream0", a.IRQ())
	}
}

func TestUSARTTransmit(t *testing.T) {
	m, s := sim.NewMCU()
	u, err := usart.New(m, chip.USART1, usart.Config{Baud: 115200})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := u.TxDMA()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello over dma")
	buf := s.Alloc(len(msg), 4)
	s.WriteMem(buf, msg)
	st, err := ClaimFor(m, tx.Request())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(Config{
		Channel:   st.Channel(),
		Direction: MemToPeriph,
		Periph:    tx.Addr(),
		Memory:    buf,
		Count:     len(msg),
		MInc:      true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.StartWith(tx); err != nil {
		t.Fatalf("StartWith() error = %v", err)
	}
	s.Advance(2 * time.Millisecond)
	if err := st.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := st.StopWith(tx); err != nil {
		t.Fatal(err)
	}
	if got := string(s.USART(chip.USART1).Transmitted()); got != string(msg) {
		t.Errorf("Transmitted() = %q, want %q", got, msg)
	}

	rx, _ := u.RxDMA()
	if err := st.StartWith(rx); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("StartWith(rx) on the TX stream error = %v, want ErrInvalidMode", err)
	}
}

func TestUSARTDoubleBuffer(t *testing.T) {
	m, s := sim.NewMCU()
	u, err := usart.New(m, chip.USART1, usart.Config{Baud: 115200, Direction: usart.RX})
	if err != nil {
		t.Fatal(err)
	}
	rx, _ := u.RxDMA()
	b0, b1 := s.Alloc(4, 4), s.Alloc(4, 4)
	st, err := Claim(m, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(Config{
		Channel:   4,
		Direction: PeriphToMem,
		Periph:    rx.Addr(),
		Memory:    b0,
		Memory1:   b1,
		Count:     4,
		MInc:      true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.StartWith(rx); err != nil {
		t.Fatal(err)
	}
	s.USART(chip.USART1).Inject([]byte("abcdefghij")...)
	s.Advance(2 * time.Millisecond)
	if got := string(s.Bytes(b0, 4)) + string(s.Bytes(b1, 4)); got != "ijcdefgh" {
		t.Errorf("buffers = %q, want %q", got, "ijcdefgh")
	}
	if st.Target() != 0 || st.Remaining() != 2 {
		t.Errorf("Target() = %d, Remaining() = %d, want 0, 2", st.Target(), st.Remaining())
	}
	if got := s.DMACompletions(2, 2); got != 2 {
		t.Errorf("DMACompletions(2, 2) = %d, want 2", got)
	}
	if err := st.StopWith(rx); err != nil {
		t.Fatal(err)
	}
}

func TestSPISlaveReceive(t *testing.T) {
	m, s := sim.NewMCU()
	s.LinkSPI(chip.SPI1, chip.SPI2)
	ms, err := spi.NewMaster(m, chip.SPI1, spi.Config{}, physic.MegaHertz)
	if err != nil {
		t.Fatal(err)
	}
	sl, err := spi.NewSlave(m, chip.SPI2, spi.Config{})
	if err != nil {
		t.Fatal(err)
	}
	rx, err := sl.RxDMA()
	if err != nil {
		t.Fatal(err)
	}
	buf := s.Alloc(4, 4)
	st, err := ClaimFor(m, rx.Request())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(Config{
		Channel:   st.Channel(),
		Direction: PeriphToMem,
		Periph:    rx.Addr(),
		Memory:    buf,
		Count:     4,
		MInc:      true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.StartWith(rx); err != nil {
		t.Fatal(err)
	}
	if err := ms.Tx([]byte{0xDE, 0xAD, 0xBE, 0xEF}, nil); err != nil {
		t.Fatal(err)
	}
	s.Advance(20 * time.Microsecond)
	if err := st.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0xDE, 0xAD, 0xBE, 0xEF}, s.Bytes(buf, 4)); diff != "" {
		t.Errorf("slave buffer mismatch (-want +got):\n%s", diff)
	}
}

func TestADCScan(t *testing.T) {
	m, s := sim.NewMCU()
	s.ADC().SetInput(0, 1.1)
	s.ADC().SetInput(1, 3.3)
	a, err := adc.New(m, adc.Config{Scan: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetSequence(0, 1, 2); err != nil {
		t.Fatal(err)
	}
	req := a.DMA()
	buf := s.Alloc(6, 4)
	st, err := ClaimFor(m, req.Request())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(Config{
		Channel:   st.Channel(),
		Direction: PeriphToMem,
		Periph:    req.Addr(),
		Memory:    buf,
		Count:     3,
		PSize:     HalfWord,
		MInc:      true,
		Circular:  true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.StartWith(req); err != nil {
		t.Fatal(err)
	}
	for round := 0; round < 2; round++ {
		a.Start()
		s.Advance(100 * time.Microsecond)
		got := make([]uint16, 3)
		for i, b := 0, s.Bytes(buf, 6); i < 3; i++ {
			got[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
		}
		if diff := cmp.Diff([]uint16{1365, 4095, 0}, got); diff != "" {
			t.Errorf("round %d: samples mismatch (-want +got):\n%s", round, diff)
		}
		if f := st.HandleIRQ(); f&FlagTC == 0 {
			t.Errorf("round %d: flags = %v, want TC", round, f)
		}
	}
	if !st.Enabled() {
		t.Error("circular stream stopped")
	}
}

func TestDACWaveTable(t *testing.T) {
	m, s := sim.NewMCU()
	table := []uint16{2048, 3496, 4095, 3496, 2048, 600, 0, 600}
	buf := s.Alloc(2*len(table), 4)
	for i, v := range table {
		s.WriteMem(buf+uintptr(2*i), []byte{byte(v), byte(v >> 8)})
	}
	d, err := dac.Claim(m)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := d.Channel(1, dac.Config{Trigger: dac.TIM6TRGO})
	if err != nil {
		t.Fatal(err)
	}
	st, err := ClaimFor(m, ch.Request())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(Config{
		Channel:   st.Channel(),
		Direction: MemToPeriph,
		Periph:    ch.Addr(),
		Memory:    buf,
		Count:     len(table),
		PSize:     HalfWord,
		MInc:      true,
		Circular:  true,
		Priority:  High,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.StartWith(ch); err != nil {
		t.Fatal(err)
	}
	tm, err := tim.Claim(m, chip.TIM6)
	if err != nil {
		t.Fatal(err)
	}
	p, err := tm.PeriodicAt(10 * physic.KiloHertz)
	if err != nil {
		t.Fatal(err)
	}
	tm.SetTRGO(tim.TriggerUpdate)
	p.Start()
	s.Advance(1750 * time.Microsecond)
	h := s.DAC().History(1)
	// The output holds its reset value until the first request is served.
	for len(h) > 0 && h[0] != table[0] {
		h = h[1:]
	}
	if len(h) < 16 {
		t.Fatalf("History(1) has %d samples from the first table entry, want at least 16", len(h))
	}
	want := append(append([]uint16(nil), table...), table...)
	if diff := cmp.Diff(want, h[:16]); diff != "" {
		t.Errorf("DAC output mismatch (-want +got):\n%s", diff)
	}
	if ch.Underrun() {
		t.Error("Underrun() with the stream serving every request")
	}
}
