package spi

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
	"github.com/ardnew/f4core/sim"
)

func TestPrescaler(t *testing.T) {
	const mhz = physic.MegaHertz
	tests := []struct {
		pclk, f physic.Frequency
		br      uint32
		wantErr bool
	}{
		{16 * mhz, 8 * mhz, 0, false},
		{16 * mhz, 20 * mhz, 0, false},
		{16 * mhz, 1 * mhz, 3, false},
		{16 * mhz, 900 * physic.KiloHertz, 4, false},
		{16 * mhz, 62500 * physic.Hertz, 7, false},
		{16 * mhz, 10 * physic.KiloHertz, 0, true},
		{16 * mhz, 0, 0, true},
	}
	for _, tt := range tests {
		br, err := prescaler(tt.pclk, tt.f)
		if (err != nil) != tt.wantErr {
			t.Errorf("prescaler(%v, %v) error = %v", tt.pclk, tt.f, err)
			continue
		}
		if err == nil && br != tt.br {
			t.Errorf("prescaler(%v, %v) = %d, want %d", tt.pclk, tt.f, br, tt.br)
		}
	}
}

func TestConfigRejects(t *testing.T) {
	m, _ := sim.NewMCU()
	tests := []struct {
		name  string
		c     Config
		speed physic.Frequency
		want  error
	}{
		{"bits", Config{Bits: 12}, physic.MegaHertz, pkg.ErrOutOfRange},
		{"mode", Config{Mode: spi.HalfDuplex}, physic.MegaHertz, pkg.ErrNotSupported},
		{"slow", Config{}, 10 * physic.KiloHertz, pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMaster(m, chip.SPI1, tt.c, tt.speed); !errors.Is(err, tt.want) {
				t.Errorf("NewMaster() error = %v, want %v", err, tt.want)
			}
			if m.Claimed(chip.SPI1) {
				t.Error("SPI1 still claimed after failed NewMaster")
			}
		})
	}
	if _, err := NewSlave(m, chip.SPI2, Config{SlaveSelect: HardwareSSOutput}); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("NewSlave(SSOutput) error = %v, want ErrInvalidMode", err)
	}
	if _, err := NewMaster(m, chip.USART1, Config{}, physic.MegaHertz); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("NewMaster(USART1) error = %v, want ErrNotSupported", err)
	}
}

func TestModeBits(t *testing.T) {
	m, s := sim.NewMCU()
	ms, err := NewMaster(m, chip.SPI1, Config{Mode: spi.Mode3 | spi.LSBFirst, Bits: 16}, physic.MegaHertz)
	if err != nil {
		t.Fatal(err)
	}
	cr1 := s.Peek(chip.SPI1.Base() + regCR1)
	want := uint32(cr1CPHA | cr1CPOL | cr1LSBFIRST | cr1DFF | cr1MSTR | cr1SPE | cr1SSM | cr1SSI)
	if cr1&want != want {
		t.Errorf("CR1 = %#x, want bits %#x", cr1, want)
	}
	if ms.Speed() != physic.MegaHertz {
		t.Errorf("Speed() = %v, want 1MHz", ms.Speed())
	}
}

func TestMasterSlave(t *testing.T) {
	m, s := sim.NewMCU()
	s.LinkSPI(chip.SPI1, chip.SPI2)
	ms, err := NewMaster(m, chip.SPI1, Config{}, physic.MegaHertz)
	if err != nil {
		t.Fatal(err)
	}
	sl, err := NewSlave(m, chip.SPI2, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sl.Preload(0xA5); err != nil {
		t.Fatal(err)
	}
	start := s.Now()
	in, err := ms.Transfer(0x3C)
	if err != nil {
		t.Fatal(err)
	}
	if in != 0xA5 {
		t.Errorf("Transfer() = %#x, want 0xa5", in)
	}
	if d := s.Now() - start; d < 8*time.Microsecond || d > 10*time.Microsecond {
		t.Errorf("8-bit frame at 1MHz took %v", d)
	}
	if got, err := sl.ReadFrame(); err != nil || got != 0x3C {
		t.Errorf("slave ReadFrame() = %#x, %v, want 0x3c", got, err)
	}
}

func TestTx(t *testing.T) {
	m, s := sim.NewMCU()
	var mosi []uint16
	s.AttachSPI(chip.SPI1, func(v uint16) uint16 {
		mosi = append(mosi, v)
		return v + 1
	})
	ms, err := NewMaster(m, chip.SPI1, Config{}, 4*physic.MegaHertz)
	if err != nil {
		t.Fatal(err)
	}
	var port spi.Port = ms
	c, err := port.Connect(2*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 4)
	if err := c.Tx([]byte{1, 2, 3}, r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{2, 3, 4, 1}, r); diff != "" {
		t.Errorf("Tx() read mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint16{1, 2, 3, 0}, mosi); diff != "" {
		t.Errorf("MOSI mismatch (-want +got):\n%s", diff)
	}

	mosi = nil
	c, err = port.Connect(2*physic.MegaHertz, spi.Mode0, 16)
	if err != nil {
		t.Fatal(err)
	}
	r = make([]byte, 2)
	err = c.TxPackets([]spi.Packet{{W: []byte{0x12, 0x34}, R: r}, {W: []byte{0xAB, 0xCD}}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint16{0x1234, 0xABCD}, mosi); diff != "" {
		t.Errorf("16-bit MOSI mismatch (-want +got):\n%s", diff)
	}
	if r[0] != 0x12 || r[1] != 0x35 {
		t.Errorf("16-bit read = % x, want 12 35", r)
	}
	if err := c.Tx([]byte{1, 2, 3}, nil); !errors.Is(err, pkg.ErrUnaligned) {
		t.Errorf("odd 16-bit Tx() error = %v, want ErrUnaligned", err)
	}
	if err := c.TxPackets([]spi.Packet{{W: []byte{1}, BitsPerWord: 9}}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("TxPackets(9 bits) error = %v, want ErrNotSupported", err)
	}

	if err := ms.LimitSpeed(physic.MegaHertz); err != nil {
		t.Fatal(err)
	}
	if ms.Speed() != physic.MegaHertz {
		t.Errorf("Speed() after LimitSpeed = %v", ms.Speed())
	}
}

func TestOverrun(t *testing.T) {
	m, s := sim.NewMCU()
	s.AttachSPI(chip.SPI1, func(v uint16) uint16 { return v })
	ms, _ := NewMaster(m, chip.SPI1, Config{}, 8*physic.MegaHertz)
	for _, f := range []uint16{1, 2} {
		if err := ms.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
	}
	s.Advance(10 * time.Microsecond)
	_, err := ms.ReadFrame()
	var se pkg.SPIError
	if !errors.As(err, &se) || !se.Overrun {
		t.Fatalf("ReadFrame() error = %v, want overrun", err)
	}
	if !errors.Is(err, pkg.ErrSPI) {
		t.Error("SPIError does not match ErrSPI")
	}
	if err := ms.Err(); err != nil {
		t.Errorf("Err() after clear sequence = %v", err)
	}
}

func TestCRC(t *testing.T) {
	m, s := sim.NewMCU()
	s.LinkSPI(chip.SPI1, chip.SPI2)
	c := Config{CRCPolynomial: 7}
	ms, _ := NewMaster(m, chip.SPI1, c, physic.MegaHertz)
	sl, _ := NewSlave(m, chip.SPI2, c)
	data := []uint16{0x31, 0x32, 0x33}
	for i, f := range data {
		if err := ms.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
		if i == len(data)-1 {
			ms.SendCRC()
		}
		if _, err := ms.ReadFrame(); err != nil {
			t.Fatal(err)
		}
		if got, err := sl.ReadFrame(); err != nil || got != f {
			t.Fatalf("slave frame %d = %#x, %v", i, got, err)
		}
	}
	s.Advance(20 * time.Microsecond)
	if err := sl.Err(); err != nil {
		t.Errorf("slave Err() = %v after matching CRC", err)
	}
	rx, _ := sl.CRC()
	_, tx := ms.CRC()
	if rx != tx || tx == 0 {
		t.Errorf("slave RXCRC = %#x, master TXCRC = %#x", rx, tx)
	}
}

func TestSlaveInterrupt(t *testing.T) {
	m, s := sim.NewMCU()
	s.LinkSPI(chip.SPI1, chip.SPI2)
	ms, _ := NewMaster(m, chip.SPI1, Config{}, physic.MegaHertz)
	sl, _ := NewSlave(m, chip.SPI2, Config{})
	var got []uint16
	m.Handle(sl.IRQ(), func() {
		f, err := sl.ReadFrame()
		if err != nil {
			t.Error(err)
		}
		got = append(got, f)
	})
	sl.Listen(EventRXNE, true)
	if err := irq.NewNVIC(m).Enable(sl.IRQ(), 3); err != nil {
		t.Fatal(err)
	}
	if err := ms.Tx([]byte{7, 8, 9}, nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint16{7, 8, 9}, got); diff != "" {
		t.Errorf("slave frames mismatch (-want +got):\n%s", diff)
	}
}

func TestReleaseWaitsForBusy(t *testing.T) {
	m, s := sim.NewMCU()
	s.AttachSPI(chip.SPI1, func(v uint16) uint16 { return 0 })
	ms, _ := NewMaster(m, chip.SPI1, Config{}, 62500*physic.Hertz)
	if err := ms.WriteFrame(0x55); err != nil {
		t.Fatal(err)
	}
	if err := ms.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if n := len(s.SPI(chip.SPI1).Frames()); n != 1 {
		t.Errorf("frames completed = %d, want 1", n)
	}
	if s.SPI(chip.SPI1).LastFrameEnd() > s.Now() {
		t.Error("clock gated before the last frame ended")
	}
	if rcc.Enabled(m, chip.SPI1) {
		t.Error("SPI1 clock still on after Release")
	}
	if _, err := NewMaster(m, chip.SPI1, Config{}, physic.MegaHertz); err != nil {
		t.Errorf("NewMaster() after Release error = %v", err)
	}
}
