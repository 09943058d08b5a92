//go:build linux

package usbid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `# usb.ids excerpt
1209  Generic
	0001  pid.codes Test PID
	5bf0  Arcade Controller
0483  STMicroelectronics
	5740  Virtual COM Port
		00  not a product
ffff
zzzz  Broken Vendor
	0001  orphan

# List of known device classes, subclasses and protocols
C 02  Communications
	02  Abstract (modem)
		01  AT-commands (v.25ter)
C ff  Vendor Specific Class
	ff  Vendor Specific Subclass
AT 0101  USB Streaming
`

func TestParse(t *testing.T) {
	db := NewWithPaths(nil)
	if err := db.Parse(strings.NewReader(sample)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"vendor", db.LookupVendor(0x1209), "Generic"},
		{"product", db.LookupProduct(0x1209, 0x0001), "pid.codes Test PID"},
		{"second product", db.LookupProduct(0x1209, 0x5bf0), "Arcade Controller"},
		{"other vendor", db.LookupProduct(0x0483, 0x5740), "Virtual COM Port"},
		{"unknown product", db.LookupProduct(0x0483, 0x0000), ""},
		{"orphan product", db.LookupProduct(0x0000, 0x0001), ""},
		{"class", db.LookupClass(0x02), "Communications"},
		{"subclass", db.LookupSubclass(0x02, 0x02), "Abstract (modem)"},
		{"vendor class", db.LookupClass(0xFF), "Vendor Specific Class"},
		{"unknown class", db.LookupClass(0x03), ""},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if db.VendorCount() != 2 || db.ProductCount() != 3 {
		t.Errorf("VendorCount(), ProductCount() = %d, %d, want 2, 3", db.VendorCount(), db.ProductCount())
	}
	if !db.IsLoaded() {
		t.Error("IsLoaded() = false after Parse")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usb.ids")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	db := NewWithPaths([]string{filepath.Join(t.TempDir(), "missing"), path})
	if !db.Load() {
		t.Fatal("Load() = false with a readable second path")
	}
	n := db.VendorCount()
	if !db.Load() || db.VendorCount() != n {
		t.Errorf("second Load() changed the database: %d vendors, want %d", db.VendorCount(), n)
	}
}

func TestLoadMissing(t *testing.T) {
	db := NewWithPaths([]string{"/nonexistent/usb.ids"})
	if db.Load() {
		t.Error("Load() = true without a database")
	}
	if !db.IsLoaded() {
		t.Error("IsLoaded() = false after a failed Load")
	}
	if db.LookupVendor(0x1209) != "" {
		t.Error("LookupVendor() found a name in an empty database")
	}
	if len(New().paths) != len(DefaultPaths) {
		t.Errorf("New() searches %d paths, want %d", len(New().paths), len(DefaultPaths))
	}
}
