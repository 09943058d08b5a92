package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/f4core/crc"
	"github.com/ardnew/f4core/pkg"
)

func testSession(t *testing.T) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	s, err := newSession("", &out)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	cur = s
	t.Cleanup(func() { cur = nil })
	return &out
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"blink", []string{"PC13 low", "PC13 high", "2 edges"}},
		{"spi", []string{"master sent 0x1234 got 0xedcb, slave got 0x1234"}},
		{"i2c", []string{"write: START 0xAA ACK 0x04 ACK 0xDE ACK 0xAD ACK STOP"}},
		{"dma", []string{`copied "f4core!!", 1 completions`}},
		{"qspi", []string{"JEDEC ID EF 40 16", "read 56 bytes memory mapped"}},
		{"usb", []string{"Configured at address 5", `Echo: EP 0x01 -> EP 0x81 "ping"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSession(t)
			var out bytes.Buffer
			if err := find(tt.name).run(cur, &out); err != nil {
				t.Fatalf("run() error = %v\n%s", err, out.String())
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output lacks %q:\n%s", w, out.String())
				}
			}
		})
	}
}

func TestQSPICRC(t *testing.T) {
	testSession(t)
	var out bytes.Buffer
	if err := runQSPI(cur, &out); err != nil {
		t.Fatal(err)
	}
	sum := crc.Checksum([]byte(strings.Repeat("f4core ", 8)))
	want := fmt.Sprintf("CRC %#08x (host %#08x)", sum, sum)
	if !strings.Contains(out.String(), want) {
		t.Errorf("output lacks %q:\n%s", want, out.String())
	}
}

func TestUSBClasses(t *testing.T) {
	tests := []struct {
		class string
		want  []string
	}{
		{"acm", []string{"bDeviceClass       239", "bInterfaceClass    2", "Interface Association:", `Echo: EP 0x01 -> EP 0x82 "ping"`}},
		{"winusb", []string{"(Microsoft OS 2.0)", "bmAttributes     2 Bulk"}},
		{"raw", []string{"bmAttributes     3 Interrupt", `Echo: EP 0x01 -> EP 0x81 "ping"`}},
		{"webusb", []string{"(WebUSB)", "bInterfaceClass    255"}},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			testSession(t)
			var out bytes.Buffer
			m, s := cur.fresh()
			if err := enumerate(m, s, cur.board, tt.class, &out); err != nil {
				t.Fatalf("enumerate(%s) error = %v\n%s", tt.class, err, out.String())
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output lacks %q:\n%s", w, out.String())
				}
			}
		})
	}

	testSession(t)
	m, s := cur.fresh()
	if err := enumerate(m, s, cur.board, "hid", &bytes.Buffer{}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("enumerate(hid) error = %v, want %v", err, pkg.ErrNotSupported)
	}
}

func TestDataEndpoints(t *testing.T) {
	config := []byte{
		9, 2, 39, 0, 1, 1, 0, 0x80, 50,
		9, 4, 0, 0, 3, 0xFF, 0, 0, 0,
		7, 5, 0x81, 3, 8, 0, 10,
		7, 5, 0x02, 2, 64, 0, 0,
		7, 5, 0x83, 2, 64, 0, 0,
	}
	out, in := dataEndpoints(config)
	if out != 0x02 || in != 0x83 {
		t.Errorf("dataEndpoints() = %#x, %#x, want 0x02, 0x83", out, in)
	}
}

func TestScript(t *testing.T) {
	out := testSession(t)
	dir := t.TempDir()
	hex := filepath.Join(dir, "img.hex")
	if err := os.WriteFile(hex, []byte(":0400100001020304E2\n:00000001FF\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "patch.bin")
	if err := os.WriteFile(bin, []byte{0xAA, 0xBB}, 0o644); err != nil {
		t.Fatal(err)
	}
	script := fmt.Sprintf(`# load, patch and read back
flash load %q

flash id
flash write --addr 0x12 %q
flash dump --addr 0x10 --len 4 --out %q
`, hex, bin, filepath.Join(dir, "dump.bin"))
	if err := runScript(strings.NewReader(script), "test"); err != nil {
		t.Fatalf("runScript() error = %v\n%s", err, out.String())
	}
	if diff := cmp.Diff([]byte{1, 2, 0xAA, 0xBB}, cur.sim.Flash().Bytes(0x10, 4)); diff != "" {
		t.Errorf("flash mismatch (-want +got):\n%s", diff)
	}
	dump, err := os.ReadFile(filepath.Join(dir, "dump.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 0xAA, 0xBB}, dump); diff != "" {
		t.Errorf("dump mismatch (-want +got):\n%s", diff)
	}
	for _, w := range []string{"loaded 4 bytes", "JEDEC ID EF 40 16", "programmed 2 bytes at 0x12"} {
		if !strings.Contains(out.String(), w) {
			t.Errorf("output lacks %q:\n%s", w, out.String())
		}
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		script string
		want   string
	}{
		{"scenario nope\n", "test:1: scenario"},
		{"\n\nscript other.txt\n", "test:3: script"},
		{"flash\n", "test:1: flash"},
		{`flash load "unterminated` + "\n", "test:1"},
	}
	for _, tt := range tests {
		testSession(t)
		err := runScript(strings.NewReader(tt.script), "test")
		if err == nil || !strings.HasPrefix(err.Error(), tt.want) {
			t.Errorf("runScript(%q) error = %v, want prefix %q", tt.script, err, tt.want)
		}
	}
}
