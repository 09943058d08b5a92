package w25q

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/qspi"
	"github.com/ardnew/f4core/sim"
)

func open(t *testing.T) (*sim.Machine, *Flash) {
	t.Helper()
	m, s := sim.NewMCU()
	s.Flash().EraseTime = time.Millisecond
	q, err := qspi.New(m, qspi.Config{Prescaler: 1, FlashSize: 4 << 20, FIFOThreshold: 4})
	if err != nil {
		t.Fatal(err)
	}
	f, err := Open(q)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, f
}

func TestIdentify(t *testing.T) {
	_, f := open(t)
	id, err := f.JEDECID()
	if err != nil {
		t.Fatal(err)
	}
	if id != [3]byte{0xEF, 0x40, 0x16} {
		t.Errorf("JEDECID() = % X, want EF 40 16", id[:])
	}
	if f.Size() != 4<<20 {
		t.Errorf("Size() = %d, want %d", f.Size(), 4<<20)
	}
	mfr, dev, err := f.ManufacturerDeviceID()
	if err != nil || mfr != 0xEF || dev != 0x15 {
		t.Errorf("ManufacturerDeviceID() = %#x, %#x, %v, want 0xef, 0x15", mfr, dev, err)
	}
	if _, err := f.ReadStatus(4); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("ReadStatus(4) error = %v, want ErrOutOfRange", err)
	}
}

func TestOpenSmallController(t *testing.T) {
	m, _ := sim.NewMCU()
	q, err := qspi.New(m, qspi.Config{FlashSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(q); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Open() behind a 1 MiB controller error = %v, want ErrOutOfRange", err)
	}
}

func TestProgramRead(t *testing.T) {
	s, f := open(t)
	if err := f.EraseSector(0); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	if err := f.Program(0x1F0, data); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	if s.Flash().Status()>>8&sr2QE == 0 {
		t.Error("QE not set by Program")
	}
	if n := bytes.Count(s.Flash().Commands(), []byte{cmdQuadPageProgram}); n != 3 {
		t.Errorf("page programs = %d, want 3 for a range spanning three pages", n)
	}
	if diff := cmp.Diff(data, s.Flash().Bytes(0x1F0, len(data))); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}
	got := make([]byte, len(data))
	if err := f.Read(0x1F0, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	// Programming only clears bits.
	if err := f.Program(0x1F0, []byte{0xF0}); err != nil {
		t.Fatal(err)
	}
	if b := s.Flash().Bytes(0x1F0, 1)[0]; b != 0x00 {
		t.Errorf("byte after reprogram = %#x, want 0x00", b)
	}
	if err := f.EraseSector(0); err != nil {
		t.Fatal(err)
	}
	if b := s.Flash().Bytes(0x1F0, 1)[0]; b != 0xFF {
		t.Errorf("byte after erase = %#x, want 0xff", b)
	}
}

func TestRanges(t *testing.T) {
	_, f := open(t)
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unaligned sector", f.EraseSector(0x100), pkg.ErrUnaligned},
		{"block beyond end", f.EraseBlock(4 << 20), pkg.ErrOutOfRange},
		{"program beyond end", f.Program(4<<20-1, []byte{1, 2}), pkg.ErrOutOfRange},
		{"read beyond end", f.Read(4<<20, []byte{0}), pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestMemoryMap(t *testing.T) {
	s, f := open(t)
	n, err := s.Flash().LoadHex(strings.NewReader(":0400100001020304E2\n:00000001FF\n"))
	if err != nil || n != 4 {
		t.Fatalf("LoadHex() = %d, %v", n, err)
	}
	mm, err := f.MemoryMap()
	if err != nil {
		t.Fatalf("MemoryMap() error = %v", err)
	}
	got := make([]byte, 4)
	if _, err := mm.Window().ReadAt(got, 0x10); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, got); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	q, err := mm.Indirect()
	if err != nil {
		t.Fatal(err)
	}
	f, err = Open(q)
	if err != nil {
		t.Fatalf("Open() after memory mapping error = %v", err)
	}
	got = make([]byte, 4)
	if _, err := f.ReadAt(got, 0x10); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, got); diff != "" {
		t.Errorf("ReadAt() mismatch (-want +got):\n%s", diff)
	}
}
