package winusb

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// PlatformUUID identifies the Microsoft OS 2.0 platform capability.
var PlatformUUID = device.MustParseUUID("D8DD60DF-4589-4CC7-9CD2-659D9E648A9F")

// DefaultVendorCode is the bRequest of the descriptor set request when a
// Config leaves it zero.
const DefaultVendorCode = 0x20

// IndexDescriptorSet is the wIndex of the request for the descriptor set.
const IndexDescriptorSet = 7

// Descriptors publishes a Microsoft OS 2.0 descriptor set: a platform
// capability in the BOS and the set itself behind a vendor request. It
// has no interfaces of its own; pass it to Stack.Poll beside the classes
// the set describes.
type Descriptors struct {
	device.BaseClass

	code uint8
	set  []byte
}

// NewDescriptors returns the class for a set built with DeviceSet or
// FunctionSet, answering vendor requests with bRequest code.
func NewDescriptors(code uint8, set []byte) *Descriptors {
	return &Descriptors{code: code, set: set}
}

// VendorCode returns the bRequest of the descriptor set request.
func (d *Descriptors) VendorCode() uint8 { return d.code }

// Set returns the descriptor set.
func (d *Descriptors) Set() []byte { return d.set }

// BOSDescriptors writes the platform capability.
func (d *Descriptors) BOSDescriptors(w *device.BOSWriter) error {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:], WindowsVersion)
	binary.LittleEndian.PutUint16(b[4:], uint16(len(d.set)))
	b[6] = d.code
	b[7] = 0 // bAltEnumCode
	return w.Platform(PlatformUUID, b[:]...)
}

// ControlIn returns the descriptor set.
func (d *Descriptors) ControlIn(x *device.ControlIn) {
	req := x.Request()
	if req.Type() != device.TypeVendor || req.Request != d.code || req.Index != IndexDescriptorSet {
		return
	}
	pkg.LogDebug(pkg.ComponentClass, "winusb: descriptor set", "length", req.Length)
	if err := x.Accept(d.set); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "winusb: descriptor set", "error", err)
	}
}

// Config describes a single-interface WinUSB device.
type Config struct {
	VendorCode    uint8  // default DefaultVendorCode
	GUID          string // DeviceInterfaceGUIDs entry, optional
	Name          string // interface string, omitted when empty
	MaxPacketSize uint16 // bulk endpoint size, zero for no endpoints
}

// WinUSB is a vendor-specific interface that Windows binds to the WinUSB
// driver without an INF file, with an optional pair of bulk endpoints.
type WinUSB struct {
	*Descriptors

	iface   device.InterfaceNumber
	name    device.StringIndex
	label   string
	in, out device.Endpoint
	bulk    bool

	configured bool
	inBusy     bool
	received   bool
}

// New allocates the interface and publishes a device-level descriptor set
// for it.
func New(alloc *device.Allocator, cfg Config) (*WinUSB, error) {
	if cfg.VendorCode == 0 {
		cfg.VendorCode = DefaultVendorCode
	}
	set, err := DeviceSet(cfg.GUID)
	if err != nil {
		return nil, err
	}
	w := &WinUSB{Descriptors: NewDescriptors(cfg.VendorCode, set), label: cfg.Name}
	if w.iface, err = alloc.Interface(); err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		if w.name, err = alloc.String(); err != nil {
			return nil, err
		}
	}
	if cfg.MaxPacketSize != 0 {
		if w.out, err = alloc.Bulk(hal.Out, cfg.MaxPacketSize); err != nil {
			return nil, fmt.Errorf("winusb: %w", err)
		}
		if w.in, err = alloc.Bulk(hal.In, cfg.MaxPacketSize); err != nil {
			return nil, fmt.Errorf("winusb: %w", err)
		}
		w.bulk = true
	}
	return w, nil
}

// Interface returns the interface number.
func (w *WinUSB) Interface() device.InterfaceNumber { return w.iface }

// ConfigurationDescriptors writes the vendor interface and its endpoints.
func (w *WinUSB) ConfigurationDescriptors(dw *device.DescriptorWriter) error {
	if err := dw.InterfaceAlt(w.iface, 0, device.ClassVendor, 0, 0, w.name); err != nil {
		return err
	}
	if !w.bulk {
		return nil
	}
	if err := dw.Endpoint(w.out); err != nil {
		return err
	}
	return dw.Endpoint(w.in)
}

// String returns the interface name.
func (w *WinUSB) String(index device.StringIndex, _ uint16) (string, bool) {
	if w.name == 0 || index != w.name {
		return "", false
	}
	return w.label, true
}

// Configured tracks SET_CONFIGURATION.
func (w *WinUSB) Configured(value uint8) {
	w.configured = value != 0
	w.inBusy, w.received = false, false
}

// Reset forgets the configuration.
func (w *WinUSB) Reset() { w.Configured(0) }

// EndpointOut notes a received packet.
func (w *WinUSB) EndpointOut(addr hal.EndpointAddress) {
	if w.bulk && addr == w.out.Address() {
		w.received = true
	}
}

// EndpointInComplete notes that the host took the last packet.
func (w *WinUSB) EndpointInComplete(addr hal.EndpointAddress) {
	if w.bulk && addr == w.in.Address() {
		w.inBusy = false
	}
}

// Received reports whether a packet is waiting on the OUT endpoint.
func (w *WinUSB) Received() bool { return w.received }

// Read takes one packet from the OUT endpoint.
func (w *WinUSB) Read(p []byte) (int, error) {
	if !w.bulk {
		return 0, pkg.ErrInvalidEndpoint
	}
	if !w.configured {
		return 0, pkg.ErrNotConfigured
	}
	n, err := w.out.Read(p)
	if err == nil {
		w.received = false
	}
	return n, err
}

// Write queues one packet on the IN endpoint. It fails with
// ErrWouldBlock until the host has taken the previous one.
func (w *WinUSB) Write(p []byte) (int, error) {
	if !w.bulk {
		return 0, pkg.ErrInvalidEndpoint
	}
	if !w.configured {
		return 0, pkg.ErrNotConfigured
	}
	if w.inBusy {
		return 0, pkg.ErrWouldBlock
	}
	n, err := w.in.Write(p)
	if err == nil {
		w.inBusy = true
	}
	return n, err
}
