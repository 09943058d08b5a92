// Package raw implements a vendor-specific interface with one interrupt
// OUT and one interrupt IN endpoint, for devices that talk to a custom
// host application.
package raw

import (
	"errors"
	"fmt"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// Defaults applied to a zero Config.
const (
	DefaultMaxPacketSize = 32
	DefaultInterval      = 1
)

const maxPacketSize = 64

// Config describes the interface.
type Config struct {
	Name          string // interface string, omitted when empty
	MaxPacketSize uint16
	Interval      uint8 // polling interval in frames
}

// Raw is the vendor interface. Received packets accumulate in a buffer of
// up to 64 bytes until Read takes them; Write sends one packet at a time.
type Raw struct {
	device.BaseClass

	iface   device.InterfaceNumber
	name    device.StringIndex
	label   string
	in, out device.Endpoint

	inEmpty    bool
	configured bool
	rx         [maxPacketSize]byte
	rxLen      int
}

// New allocates the interface and its endpoints.
func New(alloc *device.Allocator, cfg Config) (*Raw, error) {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.MaxPacketSize > maxPacketSize {
		return nil, fmt.Errorf("raw: packet size %d: %w", cfg.MaxPacketSize, pkg.ErrOutOfRange)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	r := &Raw{label: cfg.Name, inEmpty: true}
	var err error
	if r.iface, err = alloc.Interface(); err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		if r.name, err = alloc.String(); err != nil {
			return nil, err
		}
	}
	if r.in, err = alloc.Interrupt(hal.In, cfg.MaxPacketSize, cfg.Interval); err != nil {
		return nil, err
	}
	if r.out, err = alloc.Interrupt(hal.Out, cfg.MaxPacketSize, cfg.Interval); err != nil {
		return nil, err
	}
	return r, nil
}

// Interface returns the interface number.
func (r *Raw) Interface() device.InterfaceNumber { return r.iface }

// In returns the interrupt IN endpoint.
func (r *Raw) In() device.Endpoint { return r.in }

// Out returns the interrupt OUT endpoint.
func (r *Raw) Out() device.Endpoint { return r.out }

// ConfigurationDescriptors writes the interface, then the OUT and IN
// endpoints.
func (r *Raw) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	if err := w.InterfaceAlt(r.iface, 0, device.ClassVendor, 0, 0, r.name); err != nil {
		return err
	}
	if err := w.Endpoint(r.out); err != nil {
		return err
	}
	return w.Endpoint(r.in)
}

// String returns the interface name.
func (r *Raw) String(index device.StringIndex, _ uint16) (string, bool) {
	if r.name == 0 || index != r.name {
		return "", false
	}
	return r.label, true
}

// Configured tracks SET_CONFIGURATION.
func (r *Raw) Configured(value uint8) {
	r.configured = value != 0
	r.inEmpty, r.rxLen = true, 0
}

// Reset forgets the configuration.
func (r *Raw) Reset() { r.Configured(0) }

// EndpointOut appends a received packet to the buffer if it fits. A packet
// that does not fit stays with the controller until Read makes room.
func (r *Raw) EndpointOut(addr hal.EndpointAddress) {
	if addr == r.out.Address() {
		r.receive()
	}
}

func (r *Raw) receive() {
	if int(r.out.MaxPacketSize()) > len(r.rx)-r.rxLen {
		return
	}
	n, err := r.out.Read(r.rx[r.rxLen:])
	if err != nil {
		if !errors.Is(err, pkg.ErrWouldBlock) {
			pkg.LogWarn(pkg.ComponentClass, "raw: receive", "error", err)
		}
		return
	}
	r.rxLen += n
}

// EndpointInComplete marks the IN endpoint empty.
func (r *Raw) EndpointInComplete(addr hal.EndpointAddress) {
	if addr == r.in.Address() {
		r.inEmpty = true
	}
}

// Poll retries a packet that did not fit at the last OUT event.
func (r *Raw) Poll() {
	if r.configured {
		r.receive()
	}
}

// Write sends p as one packet. It fails with ErrWouldBlock until the host
// has taken the previous packet.
func (r *Raw) Write(p []byte) (int, error) {
	if !r.configured {
		return 0, pkg.ErrNotConfigured
	}
	if !r.inEmpty {
		return 0, pkg.ErrWouldBlock
	}
	n, err := r.in.Write(p)
	if err != nil {
		return 0, err
	}
	r.inEmpty = false
	return n, nil
}

// Read moves the buffered data into p. It fails with ErrWouldBlock when
// nothing has been received.
func (r *Raw) Read(p []byte) (int, error) {
	if r.rxLen == 0 {
		if !r.configured {
			return 0, pkg.ErrNotConfigured
		}
		return 0, pkg.ErrWouldBlock
	}
	if len(p) < r.rxLen {
		return 0, fmt.Errorf("raw: read of %d bytes: %w", r.rxLen, pkg.ErrBufferTooSmall)
	}
	n := copy(p, r.rx[:r.rxLen])
	r.rxLen = 0
	r.receive()
	return n, nil
}
