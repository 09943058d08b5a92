package i2c

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
)

func TestSolve(t *testing.T) {
	const mhz = physic.MegaHertz
	tests := []struct {
		pclk, f physic.Frequency
		d       Duty
		want    Timing
		wantErr bool
	}{
		{16 * mhz, StandardSpeed, Duty2, Timing{Freq: 16, CCR: 80, TRISE: 17}, false},
		{42 * mhz, StandardSpeed, Duty2, Timing{Freq: 42, CCR: 210, TRISE: 43}, false},
		{42 * mhz, FastSpeed, Duty2, Timing{Freq: 42, CCR: ccrFS | 35, TRISE: 13}, false},
		{42 * mhz, FastSpeed, Duty169, Timing{Freq: 42, CCR: ccrFS | ccrDUTY | 5, TRISE: 13}, false},
		{2 * mhz, StandardSpeed, Duty2, Timing{Freq: 2, CCR: 10, TRISE: 3}, false},
		{1 * mhz, StandardSpeed, Duty2, Timing{}, true},
		{60 * mhz, StandardSpeed, Duty2, Timing{}, true},
		{16 * mhz, 1 * physic.MegaHertz, Duty2, Timing{}, true},
		{16 * mhz, 5 * physic.KiloHertz, Duty2, Timing{}, true},
	}
	for _, tt := range tests {
		got, err := Solve(tt.pclk, tt.f, tt.d)
		if (err != nil) != tt.wantErr {
			t.Errorf("Solve(%v, %v) error = %v, wantErr %v", tt.pclk, tt.f, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Solve(%v, %v) = %+v, want %+v", tt.pclk, tt.f, got, tt.want)
		}
		if err == nil && got.Speed() > tt.f {
			t.Errorf("Solve(%v, %v).Speed() = %v, above request", tt.pclk, tt.f, got.Speed())
		}
	}
}

type recorder struct {
	addressed []bool
	rx        []byte
	tx        []byte
	stops     int
}

func (r *recorder) Addressed(read bool) { r.addressed = append(r.addressed, read) }
func (r *recorder) Received(b byte)     { r.rx = append(r.rx, b) }
func (r *recorder) Stopped()            { r.stops++ }
func (r *recorder) Transmit() byte {
	if len(r.tx) == 0 {
		return 0xFF
	}
	b := r.tx[0]
	r.tx = r.tx[1:]
	return b
}

func serve(t *testing.T, m *chip.MCU, s *Slave) {
	t.Helper()
	var fault error
	ev, er := s.IRQs()
	fn := func() {
		if err := s.Service(); err != nil && fault == nil {
			fault = err
			t.Errorf("Service() = %v", err)
		}
	}
	nvic := irq.NewNVIC(m)
	for _, n := range []chip.IRQ{ev, er} {
		if err := m.Handle(n, fn); err != nil {
			t.Fatal(err)
		}
		if err := nvic.Enable(n, 2); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMasterToSlave(t *testing.T) {
	m, s := sim.NewMCU()
	ms, err := NewMaster(m, chip.I2C1, StandardSpeed)
	if err != nil {
		t.Fatal(err)
	}
	h := &recorder{}
	sl, err := NewSlave(m, chip.I2C3, 0x55, h)
	if err != nil {
		t.Fatal(err)
	}
	serve(t, m, sl)

	w := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := ms.Write(0x55, w); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	s.Advance(100 * time.Microsecond)

	var b strings.Builder
	b.WriteString("START 0xAA ACK")
	for _, x := range w {
		b.WriteString(" 0x0")
		b.WriteByte('0' + x)
		b.WriteString(" ACK")
	}
	b.WriteString(" STOP")
	if got := s.I2CBus().TraceString(); got != b.String() {
		t.Errorf("trace = %q, want %q", got, b.String())
	}
	if diff := cmp.Diff(w, h.rx); diff != "" {
		t.Errorf("slave received mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false}, h.addressed); diff != "" {
		t.Errorf("Addressed() calls mismatch (-want +got):\n%s", diff)
	}
	if h.stops != 1 {
		t.Errorf("Stopped() calls = %d, want 1", h.stops)
	}

	// Slave transmitter.
	h.tx = []byte{0xC0, 0xFE}
	r := make([]byte, 2)
	if err := ms.Read(0x55, r); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	s.Advance(100 * time.Microsecond)
	if diff := cmp.Diff([]byte{0xC0, 0xFE}, r); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
	if h.stops != 2 {
		t.Errorf("Stopped() calls = %d, want 2", h.stops)
	}
}

func TestEEPROM(t *testing.T) {
	m, s := sim.NewMCU()
	rom := sim.NewEEPROM24(256, 1)
	s.I2CBus().Attach(0x50, rom)
	ms, err := NewMaster(m, chip.I2C1, FastSpeed)
	if err != nil {
		t.Fatal(err)
	}
	d := &i2c.Dev{Bus: ms, Addr: 0x50}
	if _, err := d.Write([]byte{0x10, 0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if diff := cmp.Diff([]byte{0xDE, 0xAD, 0xBE, 0xEF}, rom.Contents()[0x10:0x14]); diff != "" {
		t.Errorf("EEPROM contents mismatch (-want +got):\n%s", diff)
	}
	for n := 1; n <= 4; n++ {
		s.I2CBus().ClearTrace()
		r := make([]byte, n)
		if err := d.Tx([]byte{0x10}, r); err != nil {
			t.Fatalf("Tx(%d) = %v", n, err)
		}
		want := []byte{0xDE, 0xAD, 0xBE, 0xEF}[:n]
		if diff := cmp.Diff(want, r); diff != "" {
			t.Errorf("Tx(%d) mismatch (-want +got):\n%s", n, diff)
		}
		tr := s.I2CBus().Trace()
		if k := len(tr); k < 3 || tr[k-2].Kind != sim.I2CNack || tr[k-1].Kind != sim.I2CStop {
			t.Errorf("Tx(%d) trace = %s, want NACK STOP at the end", n, s.I2CBus().TraceString())
		}
		if !strings.Contains(s.I2CBus().TraceString(), "RESTART 0xA1 ACK") {
			t.Errorf("Tx(%d) trace = %s, want repeated START for read", n, s.I2CBus().TraceString())
		}
	}
	if got := ms.Speed(); got > FastSpeed {
		t.Errorf("Speed() = %v, above %v", got, FastSpeed)
	}
}

func TestAbsentAddress(t *testing.T) {
	m, s := sim.NewMCU()
	ms, err := NewMaster(m, chip.I2C1, StandardSpeed)
	if err != nil {
		t.Fatal(err)
	}
	err = ms.Write(0x33, []byte{1})
	var ie pkg.I2CError
	if !errors.As(err, &ie) || !ie.AckFailure {
		t.Fatalf("Write() to absent address = %v, want acknowledge failure", err)
	}
	if got, want := s.I2CBus().TraceString(), "START 0x66 NACK STOP"; got != want {
		t.Errorf("trace = %q, want %q", got, want)
	}
	// The bus is usable afterwards.
	rom := sim.NewEEPROM24(128, 1)
	s.I2CBus().Attach(0x33, rom)
	if err := ms.Write(0x33, []byte{0, 0x42}); err != nil {
		t.Fatalf("Write() after NACK = %v", err)
	}
	if rom.Contents()[0] != 0x42 {
		t.Errorf("EEPROM[0] = %#x, want 0x42", rom.Contents()[0])
	}
	if err := ms.Write(0x80, nil); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Write(0x80) = %v, want %v", err, pkg.ErrOutOfRange)
	}
}

func TestClaim(t *testing.T) {
	m, _ := sim.NewMCU()
	if _, err := NewMaster(m, chip.SPI1, StandardSpeed); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("NewMaster(SPI1) = %v, want %v", err, pkg.ErrNotSupported)
	}
	if _, err := NewSlave(m, chip.I2C2, 0x03, &recorder{}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("NewSlave(reserved address) = %v, want %v", err, pkg.ErrOutOfRange)
	}
	ms, err := NewMaster(m, chip.I2C2, StandardSpeed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewMaster(m, chip.I2C2, StandardSpeed); !errors.Is(err, pkg.ErrClaimed) {
		t.Errorf("NewMaster() twice = %v, want %v", err, pkg.ErrClaimed)
	}
	ms.Release()
	if _, err := NewMaster(m, chip.I2C2, 2*physic.MegaHertz); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("NewMaster(2 MHz) = %v, want %v", err, pkg.ErrOutOfRange)
	}
	if m.Claimed(chip.I2C2) {
		t.Error("I2C2 still claimed after failed NewMaster")
	}
}
