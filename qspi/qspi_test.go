package qspi

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/dma"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
)

func open(t *testing.T) (*chip.MCU, *sim.Machine, *Indirect) {
	t.Helper()
	m, s := sim.NewMCU()
	q, err := New(m, Config{Prescaler: 1, FlashSize: 4 << 20, FIFOThreshold: 4})
	if err != nil {
		t.Fatal(err)
	}
	return m, s, q
}

func single(i byte) Command { return Command{Instruction: i, InstructionLines: Single} }

func singleAt(i byte, addr uint32) Command {
	c := single(i)
	c.Address, c.AddressLines, c.AddressSize = addr, Single, 3
	return c
}

func TestJEDECID(t *testing.T) {
	_, s, q := open(t)
	c := single(0x9F)
	c.DataLines = Single
	got := make([]byte, 3)
	if err := q.Read(c, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0xEF, 0x40, 0x16}, got); diff != "" {
		t.Errorf("JEDEC ID mismatch (-want +got):\n%s", diff)
	}
	if q.Busy() {
		t.Error("Busy() = true after the read")
	}
	if n := s.QSPICommands(); n != 1 {
		t.Errorf("QSPICommands() = %d, want 1", n)
	}
}

func TestCCR(t *testing.T) {
	tests := []struct {
		name  string
		c     Command
		fmode uint32
		want  uint32
	}{
		{"jedec id", Command{Instruction: 0x9F, InstructionLines: Single, DataLines: Single}, modeRead, 0x0500_019F},
		{"write enable", single(0x06), modeWrite, 0x0000_0106},
		{"quad io read", Command{
			Instruction: 0xEB, InstructionLines: Single,
			AddressLines: Quad, AddressSize: 3,
			AlternateLines: Quad, AlternateSize: 1,
			DummyCycles: 4, DataLines: Quad,
		}, modeRead, 0xEB | // INSTRUCTION
			1<<8 | // IMODE single
			3<<10 | // ADMODE quad
			2<<12 | // ADSIZE 24-bit
			3<<14 | // ABMODE quad
			0<<16 | // ABSIZE 8-bit
			4<<18 | // DCYC
			3<<24 | // DMODE quad
			1<<26, // FMODE indirect read
		},
		{"send once only when mapped", Command{
			Instruction: 0x03, InstructionLines: Single, AddressLines: Single, AddressSize: 3,
			DataLines: Single, SendOnce: true,
		}, modeMapped, 0x1D00_2503},
	}
	for _, tt := range tests {
		if got := tt.c.ccr(tt.fmode); got != tt.want {
			t.Errorf("%s: ccr() = %#08x, want %#08x", tt.name, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	_, _, q := open(t)
	buf := make([]byte, 4)
	tests := []struct {
		name string
		c    Command
		buf  []byte
		want error
	}{
		{"missing address size", Command{Instruction: 3, InstructionLines: Single, AddressLines: Single}, nil, pkg.ErrOutOfRange},
		{"too many dummy cycles", Command{Instruction: 3, InstructionLines: Single, DummyCycles: 32}, nil, pkg.ErrOutOfRange},
		{"bad width", Command{Instruction: 3, InstructionLines: 4}, nil, pkg.ErrOutOfRange},
		{"address wider than size", singleAt(3, 0x100_0000), nil, pkg.ErrOutOfRange},
		{"address beyond flash", Command{Instruction: 3, InstructionLines: Single, AddressLines: Single, AddressSize: 4, Address: 4 << 20}, nil, pkg.ErrOutOfRange},
		{"empty command", Command{}, nil, pkg.ErrInvalidMode},
		{"data without data phase", single(3), buf, pkg.ErrInvalidMode},
	}
	for _, tt := range tests {
		var err error
		if tt.buf != nil {
			err = q.Read(tt.c, tt.buf)
		} else {
			err = q.Command(tt.c)
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
	if _, err := New(q.m, Config{FlashSize: 3 << 20}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("New() with a size that is not a power of two error = %v", err)
	}
}

func TestWriteRead(t *testing.T) {
	_, s, q := open(t)
	data := []byte("quad spi page program, single line")
	if err := q.Command(single(0x06)); err != nil {
		t.Fatal(err)
	}
	c := singleAt(0x02, 0x1010)
	c.DataLines = Single
	if err := q.Write(c, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	st := single(0x05)
	st.DataLines = Single
	if _, err := q.Poll(st, 0x01, 0, 16, 1<<20); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if diff := cmp.Diff(data, s.Flash().Bytes(0x1010, len(data))); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}

	got := make([]byte, len(data))
	r := singleAt(0x03, 0x1010)
	r.DataLines = Single
	if err := q.Read(r, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	// Longer than the FIFO.
	big := make([]byte, 100)
	r.Address = 0
	if err := q.Read(r, big); err != nil {
		t.Fatalf("Read(100) error = %v", err)
	}
	if diff := cmp.Diff(s.Flash().Bytes(0, 100), big); diff != "" {
		t.Errorf("Read(100) mismatch (-want +got):\n%s", diff)
	}
}

func TestPoll(t *testing.T) {
	_, s, q := open(t)
	s.Flash().EraseTime = 2 * time.Millisecond
	if err := q.Command(single(0x06)); err != nil {
		t.Fatal(err)
	}
	if err := q.Command(singleAt(0x20, 0)); err != nil {
		t.Fatal(err)
	}
	if s.Flash().Status()&1 == 0 {
		t.Fatal("flash not busy after sector erase")
	}
	st := single(0x05)
	st.DataLines = Single

	_, err := q.Poll(st, 0x01, 0, 16, 100)
	var qe pkg.QSPIError
	if !errors.As(err, &qe) || !qe.Timeout || !errors.Is(err, pkg.ErrBusTimeout) {
		t.Errorf("Poll() with a short budget error = %v, want timeout", err)
	}
	if q.Busy() {
		t.Error("Busy() = true after the timed out poll was aborted")
	}

	start := s.Now()
	v, err := q.Poll(st, 0x01, 0, 16, 1<<20)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if v&1 != 0 {
		t.Errorf("Poll() = %#x, want BUSY clear", v)
	}
	if s.Flash().Status()&1 != 0 {
		t.Error("flash still busy after Poll")
	}
	if d := s.Now() - start; d > 2*time.Millisecond {
		t.Errorf("Poll() returned %v after start, want within the erase time", d)
	}
}

func TestMemoryMapped(t *testing.T) {
	_, s, q := open(t)
	data := []byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xBA, 0xDC, 0xFE, 0x01}
	s.Flash().Load(0x2001, data)

	fast := singleAt(0x0B, 0)
	fast.DummyCycles = 8
	fast.DataLines = Single
	mm, err := q.MemoryMapped(fast)
	if err != nil {
		t.Fatalf("MemoryMapped() error = %v", err)
	}
	w := mm.Window()
	if w.Base() != chip.QSPIWindow || w.Len() != 4<<20 {
		t.Errorf("Window() = %#x+%d, want %#x+%d", w.Base(), w.Len(), chip.QSPIWindow, 4<<20)
	}
	got := make([]byte, len(data))
	if _, err := w.ReadAt(got, 0x2001); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	if b := w.At(0x3000); b != 0xFF {
		t.Errorf("At(0x3000) = %#x, want erased 0xff", b)
	}

	if err := q.Read(fast, got); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("indirect Read() while mapped error = %v, want ErrInvalidMode", err)
	}
	if _, err := q.MemoryMapped(fast); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("second MemoryMapped() error = %v, want ErrInvalidMode", err)
	}

	q2, err := mm.Indirect()
	if err != nil {
		t.Fatalf("Indirect() error = %v", err)
	}
	c := single(0x9F)
	c.DataLines = Single
	id := make([]byte, 3)
	if err := q2.Read(c, id); err != nil {
		t.Fatalf("Read() after leaving mapped mode error = %v", err)
	}
	if id[0] != 0xEF {
		t.Errorf("JEDEC ID after leaving mapped mode = % X", id)
	}
	if s.Peek(chip.QSPIWindow) != 0 {
		t.Error("window still answers after leaving mapped mode")
	}
}

func TestDMARead(t *testing.T) {
	m, s, q := open(t)
	want := make([]byte, 64)
	for i := range want {
		want[i] = byte(i*7 + 3)
	}
	s.Flash().Load(0x400, want)
	buf := s.Alloc(len(want), 4)

	req := q.DMA()
	st, err := dma.ClaimFor(m, req.Request())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Configure(dma.Config{
		Channel:   st.Channel(),
		Direction: dma.PeriphToMem,
		Periph:    req.Addr(),
		Memory:    buf,
		Count:     len(want),
		MInc:      true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.StartWith(req); err != nil {
		t.Fatal(err)
	}
	r := singleAt(0x03, 0x400)
	r.DataLines = Single
	if err := q.StartRead(r, len(want)); err != nil {
		t.Fatal(err)
	}
	if err := st.Wait(); err != nil {
		t.Fatalf("stream Wait() error = %v", err)
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := st.StopWith(req); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, s.Bytes(buf, len(want))); diff != "" {
		t.Errorf("DMA buffer mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	m, _, q := open(t)
	if _, err := New(m, Config{FlashSize: 4 << 20}); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("second New() error = %v, want ErrClaimed", err)
	}
	q.Release()
	if _, err := New(m, Config{FlashSize: 4 << 20}); err != nil {
		t.Errorf("New() after Release error = %v", err)
	}
}
