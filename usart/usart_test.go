package usart

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
)

func TestBRR(t *testing.T) {
	tests := []struct {
		fck, baud uint32
		over8     bool
		want      uint32
		wantErr   bool
	}{
		{16_000_000, 115200, false, 0x8B, false},
		{16_000_000, 115200, true, 0x113, false},
		{16_000_000, 9600, false, 0x683, false},
		{16_000_000, 2_000_000, false, 0, true},
		{16_000_000, 2_000_000, true, 0x10, false},
		{84_000_000, 1200, false, 0, true},
		{84_000_000, 1200, true, 0, true},
		{16_000_000, 0, false, 0, true},
	}
	for _, tt := range tests {
		got, err := BRR(tt.fck, tt.baud, tt.over8)
		if (err != nil) != tt.wantErr {
			t.Errorf("BRR(%d, %d, %v) error = %v, wantErr %v", tt.fck, tt.baud, tt.over8, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("BRR(%d, %d, %v) = %#x, want %#x", tt.fck, tt.baud, tt.over8, got, tt.want)
		}
	}
	if got := Baud(16_000_000, 0x113, true); got != 115107 {
		t.Errorf("Baud(over8) = %d, want 115107", got)
	}
}

func open(t *testing.T, m *chip.MCU, p chip.Periph, c Config) *UART {
	t.Helper()
	u, err := New(m, p, c)
	if err != nil {
		t.Fatalf("New(%v) = %v", p, err)
	}
	return u
}

func TestWriteRead(t *testing.T) {
	m, s := sim.NewMCU()
	u := open(t, m, chip.USART1, Config{Baud: 115200})
	if got := s.USART(chip.USART1).Baud(); got < 114000 || got > 116000 {
		t.Errorf("line baud = %d, want about 115200", got)
	}
	if _, err := fmt.Fprintf(u, "hello %d", 42); err != nil {
		t.Fatal(err)
	}
	if err := u.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := string(s.USART(chip.USART1).Transmitted()); got != "hello 42" {
		t.Errorf("transmitted %q, want %q", got, "hello 42")
	}

	s.USART(chip.USART1).Inject('a', 'b', 'c')
	buf := make([]byte, 16)
	n, err := u.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "abc" {
		t.Errorf("Read() = %q, want %q", got, "abc")
	}
	if _, err := u.ReadByte(); !errors.Is(err, pkg.ErrBusTimeout) {
		t.Errorf("ReadByte() on a quiet line = %v, want %v", err, pkg.ErrBusTimeout)
	}
}

func TestFormats(t *testing.T) {
	m, s := sim.NewMCU()
	u := open(t, m, chip.USART2, Config{Baud: 57600, DataBits: 7, Parity: Even})
	s.USART(chip.USART2).Inject(0xC1)
	if b, err := u.ReadByte(); err != nil || b != 0x41 {
		t.Errorf("7E1 ReadByte() = %#x, %v, want 0x41", b, err)
	}
	u.Release()

	u = open(t, m, chip.USART2, Config{Baud: 57600, DataBits: 9, StopBits: Stop2})
	if err := u.WriteWord(0x1A5); err != nil {
		t.Fatal(err)
	}
	if err := u.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := s.USART(chip.USART2).Transmitted(); got[len(got)-1] != 0xA5 {
		t.Errorf("9N2 transmitted %#x, want 0xa5 low byte", got[len(got)-1])
	}
	u.Release()

	for _, c := range []Config{
		{Baud: 9600, DataBits: 9, Parity: Odd},
		{Baud: 9600, DataBits: 6},
		{Baud: 9600, StopBits: 4},
	} {
		if _, err := New(m, chip.USART2, c); !errors.Is(err, pkg.ErrInvalidMode) {
			t.Errorf("New(%+v) = %v, want %v", c, err, pkg.ErrInvalidMode)
		}
	}
}

func TestReceiveFaults(t *testing.T) {
	m, s := sim.NewMCU()
	u := open(t, m, chip.USART1, Config{Baud: 115200, Parity: Even})
	line := s.USART(chip.USART1)

	line.InjectFault(0x55, sim.FaultFraming|sim.FaultParity)
	b, err := u.ReadByte()
	if want := (pkg.UARTError{Framing: true, Parity: true}); err != want {
		t.Errorf("ReadByte() error = %v, want %v", err, want)
	}
	if !errors.Is(err, pkg.ErrUART) || b != 0x55 {
		t.Errorf("ReadByte() = %#x, %v", b, err)
	}

	line.Inject('a', 'b', 'c')
	s.Advance(time.Millisecond)
	b, err = u.ReadByte()
	var ue pkg.UARTError
	if !errors.As(err, &ue) || !ue.Overrun || b != 'a' {
		t.Errorf("ReadByte() after overrun = %q, %v, want 'a' with overrun", b, err)
	}
	if u.Buffered() {
		t.Error("Buffered() = true after reading the only held frame")
	}
	if got := line.Overruns(); got != 2 {
		t.Errorf("Overruns() = %d, want 2", got)
	}
}

func TestLinkAndBreak(t *testing.T) {
	m, s := sim.NewMCU()
	s.LinkUART(chip.USART1, chip.USART6)
	a := open(t, m, chip.USART1, Config{Baud: 230400, Over8: true})
	b := open(t, m, chip.USART6, Config{Baud: 230400, Over8: true})
	var got []byte
	for _, c := range []byte("ping") {
		if err := a.WriteByte(c); err != nil {
			t.Fatal(err)
		}
		r, err := b.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, r)
	}
	if string(got) != "ping" {
		t.Errorf("peer received %q, want %q", got, "ping")
	}

	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := a.Break(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ReadByte(); !errors.Is(err, pkg.ErrUART) {
		t.Errorf("break ReadByte() error = %v, want framing error", err)
	}
	if n := s.USART(chip.USART1).Breaks(); n != 1 {
		t.Errorf("Breaks() = %d, want 1", n)
	}
}

func TestHalfDuplex(t *testing.T) {
	m, _ := sim.NewMCU()
	u := open(t, m, chip.USART1, Config{Baud: 115200, HalfDuplex: true})
	if err := u.WriteByte('Q'); err != nil {
		t.Fatal(err)
	}
	if b, err := u.ReadByte(); err != nil || b != 'Q' {
		t.Errorf("half-duplex echo = %q, %v, want 'Q'", b, err)
	}
}

func TestIdleInterrupt(t *testing.T) {
	m, s := sim.NewMCU()
	u := open(t, m, chip.USART2, Config{Baud: 115200, Direction: RX})
	var got []byte
	idles := 0
	if err := m.Handle(u.IRQ(), func() {
		switch p := u.Pending(); {
		case p&EventRXNE != 0:
			b, err := u.ReadByte()
			if err != nil {
				t.Error(err)
			}
			got = append(got, b)
		case p&EventIdle != 0:
			if u.Idle() {
				idles++
			}
		}
	}); err != nil {
		t.Fatal(err)
	}
	u.Listen(EventRXNE|EventIdle, true)
	if err := irq.NewNVIC(m).Enable(u.IRQ(), 4); err != nil {
		t.Fatal(err)
	}
	s.USART(chip.USART2).Inject('x', 'y', 'z')
	s.Advance(2 * time.Millisecond)
	if diff := cmp.Diff([]byte("xyz"), got); diff != "" {
		t.Errorf("received mismatch (-want +got):\n%s", diff)
	}
	if idles != 1 {
		t.Errorf("idle events = %d, want 1", idles)
	}
	if err := u.WriteByte(0); !errors.Is(err, pkg.ErrInvalidMode) {
		t.Errorf("WriteByte() on receive-only = %v, want %v", err, pkg.ErrInvalidMode)
	}
}

func TestClaim(t *testing.T) {
	m, _ := sim.NewMCU()
	if _, err := New(m, chip.TIM2, Config{Baud: 9600}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("New(TIM2) = %v, want %v", err, pkg.ErrNotSupported)
	}
	if _, err := New(m, chip.USART1, Config{Baud: 4_000_000}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("New(4 Mbaud) = %v, want %v", err, pkg.ErrOutOfRange)
	}
	if m.Claimed(chip.USART1) {
		t.Error("USART1 claimed after failed New")
	}
	u := open(t, m, chip.USART1, Config{Baud: 9600})
	if _, err := New(m, chip.USART1, Config{Baud: 9600}); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("New() twice = %v, want %v", err, pkg.ErrClaimed)
	}
	if got := u.Baud(); got != 9598 {
		t.Errorf("Baud() = %d, want 9598", got)
	}
	u.Release()
}
