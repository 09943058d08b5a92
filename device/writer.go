package device

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ardnew/f4core/pkg"
)

// DescriptorWriter assembles a configuration descriptor. Classes write
// their interface, endpoint and class-specific descriptors through it; the
// stack writes the configuration header and patches its totals.
type DescriptorWriter struct {
	buf []byte
	n   int

	interfaces uint8
	iface      int // offset of the last interface descriptor, or -1
}

func newDescriptorWriter(buf []byte) *DescriptorWriter {
	return &DescriptorWriter{buf: buf, iface: -1}
}

// Len returns the number of bytes written.
func (w *DescriptorWriter) Len() int { return w.n }

// Bytes returns the descriptors written so far.
func (w *DescriptorWriter) Bytes() []byte { return w.buf[:w.n] }

// Write appends a descriptor of type typ. The length byte is prefixed.
func (w *DescriptorWriter) Write(typ uint8, body ...byte) error {
	n := 2 + len(body)
	if n > 255 {
		return fmt.Errorf("descriptor type %#02x of %d bytes: %w", typ, n, pkg.ErrOutOfRange)
	}
	if w.n+n > len(w.buf) {
		return pkg.ErrBufferTooSmall
	}
	w.buf[w.n], w.buf[w.n+1] = byte(n), typ
	copy(w.buf[w.n+2:], body)
	w.n += n
	return nil
}

// IAD writes an interface association descriptor grouping count interfaces
// starting at first into one function. It must precede those interfaces.
func (w *DescriptorWriter) IAD(first InterfaceNumber, count, class, subClass, protocol uint8, name StringIndex) error {
	return w.Write(DescriptorTypeInterfaceAssociation, uint8(first), count, class, subClass, protocol, uint8(name))
}

// Interface writes alternate setting 0 of an interface.
func (w *DescriptorWriter) Interface(num InterfaceNumber, class, subClass, protocol uint8) error {
	return w.InterfaceAlt(num, 0, class, subClass, protocol, 0)
}

// InterfaceAlt writes an interface descriptor. Endpoints written after it
// are counted in its bNumEndpoints.
func (w *DescriptorWriter) InterfaceAlt(num InterfaceNumber, alt, class, subClass, protocol uint8, name StringIndex) error {
	at := w.n
	if err := w.Write(DescriptorTypeInterface, uint8(num), alt, 0, class, subClass, protocol, uint8(name)); err != nil {
		return err
	}
	if alt == 0 {
		w.interfaces++
	}
	w.iface = at
	return nil
}

// Endpoint writes the descriptor of ep under the last interface.
func (w *DescriptorWriter) Endpoint(ep Endpoint) error {
	if w.iface < 0 {
		return fmt.Errorf("endpoint %v outside an interface: %w", ep.Address(), pkg.ErrInvalidState)
	}
	mps := ep.MaxPacketSize()
	if err := w.Write(DescriptorTypeEndpoint, uint8(ep.Address()), uint8(ep.Type()),
		byte(mps), byte(mps>>8), ep.Interval()); err != nil {
		return err
	}
	w.buf[w.iface+4]++
	return nil
}

// BOSWriter assembles the Binary Object Store. The stack writes the BOS
// header and a USB 2.0 Extension capability; classes add theirs.
type BOSWriter struct {
	buf  []byte
	n    int
	caps uint8
}

func newBOSWriter(buf []byte) *BOSWriter { return &BOSWriter{buf: buf} }

// Bytes returns the descriptors written so far.
func (w *BOSWriter) Bytes() []byte { return w.buf[:w.n] }

// Capability writes a device capability descriptor of type typ.
func (w *BOSWriter) Capability(typ uint8, data ...byte) error {
	n := 3 + len(data)
	if n > 255 {
		return fmt.Errorf("capability %#02x of %d bytes: %w", typ, n, pkg.ErrOutOfRange)
	}
	if w.n+n > len(w.buf) {
		return pkg.ErrBufferTooSmall
	}
	w.buf[w.n], w.buf[w.n+1], w.buf[w.n+2] = byte(n), DescriptorTypeDeviceCapability, typ
	copy(w.buf[w.n+3:], data)
	w.n += n
	w.caps++
	return nil
}

// Platform writes a platform capability identified by uuid, in the mixed
// endian byte order the descriptor uses.
func (w *BOSWriter) Platform(uuid UUID, data ...byte) error {
	var body [17 + 64]byte
	if len(data) > len(body)-17 {
		return fmt.Errorf("platform capability of %d bytes: %w", len(data), pkg.ErrOutOfRange)
	}
	copy(body[1:], uuid[:])
	copy(body[17:], data)
	return w.Capability(CapabilityPlatform, body[:17+len(data)]...)
}

// UUID is a 128-bit identifier in wire order: the first three groups little
// endian, the last two as written.
type UUID [16]byte

// ParseUUID parses the canonical text form
// "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", with or without braces.
func ParseUUID(s string) (UUID, error) {
	var u UUID
	if len(s) == 38 && s[0] == '{' && s[37] == '}' {
		s = s[1:37]
	}
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return u, fmt.Errorf("uuid %q: %w", s, pkg.ErrOutOfRange)
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		return u, fmt.Errorf("uuid %q: %w", s, pkg.ErrOutOfRange)
	}
	binary.LittleEndian.PutUint32(u[0:], binary.BigEndian.Uint32(raw[0:]))
	binary.LittleEndian.PutUint16(u[4:], binary.BigEndian.Uint16(raw[4:]))
	binary.LittleEndian.PutUint16(u[6:], binary.BigEndian.Uint16(raw[6:]))
	copy(u[8:], raw[8:])
	return u, nil
}

// MustParseUUID is ParseUUID for constants; it panics on malformed input.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the canonical text form.
func (u UUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%X-%X",
		binary.LittleEndian.Uint32(u[0:]), binary.LittleEndian.Uint16(u[4:]),
		binary.LittleEndian.Uint16(u[6:]), u[8:10], u[10:])
}
