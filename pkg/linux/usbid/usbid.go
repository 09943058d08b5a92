//go:build linux

package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ardnew/f4core/pkg"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches vendor, product and class names from the USB ID
// database.
type Database struct {
	mu       sync.RWMutex
	paths    []string
	loaded   bool
	vendors  map[uint16]string
	products map[uint32]string // VID<<16 | PID
	classes  map[uint16]string // class<<8 | subclass
	class    map[uint8]string
}

// New returns a database that searches DefaultPaths.
func New() *Database { return NewWithPaths(DefaultPaths) }

// NewWithPaths returns a database that searches paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		paths:    paths,
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[uint16]string),
		class:    make(map[uint8]string),
	}
}

// Load parses the first database file found. Later calls do nothing. It
// reports whether a file was read; a missing database is not retried.
func (db *Database) Load() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.loaded {
		return len(db.vendors) > 0 || len(db.class) > 0
	}
	db.loaded = true
	for _, path := range db.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		if err := db.parse(f); err != nil {
			pkg.LogWarn(pkg.ComponentCLI, "usb.ids truncated", "path", path, "error", err)
		}
		return true
	}
	return false
}

// Parse adds the entries of a usb.ids document read from r.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.loaded = true
	return db.parse(r)
}

// hexField splits "xxxx  Name" into its hex number and name.
func hexField(s string, digits int) (uint64, string, bool) {
	if len(s) < digits+2 || s[digits] != ' ' {
		return 0, "", false
	}
	v, err := strconv.ParseUint(s[:digits], 16, 4*digits)
	if err != nil {
		return 0, "", false
	}
	return v, strings.TrimLeft(s[digits:], " "), true
}

func (db *Database) parse(r io.Reader) error {
	const (
		none = iota
		vendor
		class
		other
	)
	section := none
	var vid uint16
	var cls uint8
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		switch {
		case strings.HasPrefix(line, "\t\t"):
			// Interfaces and protocols are not kept.
		case line[0] == '\t':
			switch section {
			case vendor:
				if pid, name, ok := hexField(line[1:], 4); ok {
					db.products[uint32(vid)<<16|uint32(pid)] = name
				}
			case class:
				if sub, name, ok := hexField(line[1:], 2); ok {
					db.classes[uint16(cls)<<8|uint16(sub)] = name
				}
			}
		case strings.HasPrefix(line, "C "):
			section = other
			if c, name, ok := hexField(line[2:], 2); ok {
				cls, section = uint8(c), class
				db.class[cls] = name
			}
		default:
			section = other
			if v, name, ok := hexField(line, 4); ok {
				vid, section = uint16(v), vendor
				db.vendors[vid] = name
			}
		}
	}
	return sc.Err()
}

// LookupVendor returns the vendor name of vid, or "".
func (db *Database) LookupVendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// LookupProduct returns the product name of vid:pid, or "".
func (db *Database) LookupProduct(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// LookupClass returns the name of a device or interface class, or "".
func (db *Database) LookupClass(class uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.class[class]
}

// LookupSubclass returns the name of a subclass within class, or "".
func (db *Database) LookupSubclass(class, subclass uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.classes[uint16(class)<<8|uint16(subclass)]
}

// IsLoaded reports whether Load or Parse has run.
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}

// VendorCount returns the number of vendors known.
func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// ProductCount returns the number of products known.
func (db *Database) ProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.products)
}
