package device

import (
	"fmt"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// InterfaceNumber is an interface number handed out by an Allocator.
type InterfaceNumber uint8

// StringIndex is a string descriptor index handed out by an Allocator.
type StringIndex uint8

// Allocator hands out the device resources classes need while they are
// constructed: interface numbers, string indices and endpoints. It is
// frozen by New; allocation afterwards fails with ErrInvalidState.
type Allocator struct {
	hal hal.DeviceHAL

	interfaces uint8
	strings    uint8
	frozen     bool
}

// NewAllocator returns an allocator for the controller h.
func NewAllocator(h hal.DeviceHAL) *Allocator {
	return &Allocator{hal: h, strings: firstClassString}
}

func (a *Allocator) usable() error {
	if a.frozen {
		return fmt.Errorf("allocator: device already built: %w", pkg.ErrInvalidState)
	}
	return nil
}

// Interface returns the next interface number.
func (a *Allocator) Interface() (InterfaceNumber, error) {
	if err := a.usable(); err != nil {
		return 0, err
	}
	if a.interfaces >= MaxInterfaces {
		return 0, fmt.Errorf("allocator: interface %d: %w", a.interfaces, pkg.ErrOutOfRange)
	}
	a.interfaces++
	return InterfaceNumber(a.interfaces - 1), nil
}

// String returns the next free string index. Indices 1 to 3 belong to the
// device descriptor.
func (a *Allocator) String() (StringIndex, error) {
	if err := a.usable(); err != nil {
		return 0, err
	}
	if a.strings > MaxStrings {
		return 0, fmt.Errorf("allocator: string %d: %w", a.strings, pkg.ErrOutOfRange)
	}
	a.strings++
	return StringIndex(a.strings - 1), nil
}

// Bulk allocates a bulk endpoint in direction dir.
func (a *Allocator) Bulk(dir hal.Direction, maxPacket uint16) (Endpoint, error) {
	return a.Endpoint(hal.EndpointConfig{Address: hal.Address(0, dir), Type: hal.Bulk, MaxPacketSize: maxPacket})
}

// Interrupt allocates an interrupt endpoint polled every interval frames.
func (a *Allocator) Interrupt(dir hal.Direction, maxPacket uint16, interval uint8) (Endpoint, error) {
	return a.Endpoint(hal.EndpointConfig{Address: hal.Address(0, dir), Type: hal.Interrupt, MaxPacketSize: maxPacket, Interval: interval})
}

// Endpoint allocates an endpoint as described by c. An address with
// number zero lets the controller choose the number.
func (a *Allocator) Endpoint(c hal.EndpointConfig) (Endpoint, error) {
	if err := a.usable(); err != nil {
		return Endpoint{}, err
	}
	if c.Type == hal.Control {
		return Endpoint{}, fmt.Errorf("allocator: control endpoint: %w", pkg.ErrNotSupported)
	}
	addr, err := a.hal.AllocEndpoint(c)
	if err != nil {
		return Endpoint{}, err
	}
	c.Address = addr
	return Endpoint{hal: a.hal, cfg: c}, nil
}

// Endpoint is an allocated data endpoint.
type Endpoint struct {
	hal hal.DeviceHAL
	cfg hal.EndpointConfig
}

// Address returns the endpoint address.
func (e Endpoint) Address() hal.EndpointAddress { return e.cfg.Address }

// Type returns the transfer type.
func (e Endpoint) Type() hal.EndpointType { return e.cfg.Type }

// MaxPacketSize returns the largest packet of the endpoint.
func (e Endpoint) MaxPacketSize() uint16 { return e.cfg.MaxPacketSize }

// Interval returns the polling interval.
func (e Endpoint) Interval() uint8 { return e.cfg.Interval }

// Write queues one packet of at most MaxPacketSize bytes on an IN
// endpoint. It fails with ErrWouldBlock while the previous packet has not
// been taken by the host.
func (e Endpoint) Write(p []byte) (int, error) {
	if e.hal == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	return e.hal.Write(e.cfg.Address, p)
}

// Read takes the packet received on an OUT endpoint. It fails with
// ErrWouldBlock when none is waiting.
func (e Endpoint) Read(p []byte) (int, error) {
	if e.hal == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	return e.hal.Read(e.cfg.Address, p)
}

// Stall sets or clears the endpoint halt.
func (e Endpoint) Stall(on bool) {
	if e.hal != nil {
		e.hal.SetStalled(e.cfg.Address, on)
	}
}

// Stalled reports whether the endpoint is halted.
func (e Endpoint) Stalled() bool { return e.hal != nil && e.hal.IsStalled(e.cfg.Address) }
