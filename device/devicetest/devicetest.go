// Package devicetest provides an in-memory controller and a host that
// drives it, for testing the device stack and its classes without
// hardware.
package devicetest

import (
	"context"
	"fmt"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// HAL is an in-memory hal.DeviceHAL. The device side calls it through the
// interface; a test plays the host through the exported host methods.
type HAL struct {
	// AddressBeforeStatus is returned by SetAddressBeforeStatus.
	AddressBeforeStatus bool

	Enabled   bool
	Stopped   bool
	Address   uint8
	Suspended bool
	Wakeup    bool
	Resets    int

	Endpoints []hal.EndpointConfig

	events  hal.PollResult
	setup   []byte
	out     [16][][]byte
	in      [16][]byte
	inBusy  [16]bool
	used    [2][16]bool
	stalled map[hal.EndpointAddress]bool
	sent    [16][][]byte
}

var _ hal.DeviceHAL = (*HAL)(nil)

// New returns a controller with no endpoints allocated.
func New() *HAL {
	return &HAL{stalled: make(map[hal.EndpointAddress]bool)}
}

func dir(ep hal.EndpointAddress) int {
	if ep.IsIn() {
		return 1
	}
	return 0
}

// Init does nothing.
func (h *HAL) Init(context.Context) error { return nil }

// AllocEndpoint hands out the lowest free number in the direction asked.
func (h *HAL) AllocEndpoint(c hal.EndpointConfig) (hal.EndpointAddress, error) {
	if h.Enabled {
		return 0, pkg.ErrInvalidState
	}
	d := dir(c.Address)
	n := c.Address.Number()
	if c.Type == hal.Control {
		if n != 0 {
			return 0, pkg.ErrInvalidEndpoint
		}
	} else if n == 0 {
		for n = 1; n < 16 && h.used[d][n]; n++ {
		}
		if n == 16 {
			return 0, pkg.ErrNoMemory
		}
	}
	if h.used[d][n] && n != 0 {
		return 0, pkg.ErrClaimed
	}
	h.used[d][n] = true
	c.Address = hal.Address(n, c.Address.Direction())
	h.Endpoints = append(h.Endpoints, c)
	return c.Address, nil
}

// Enable marks the layout fixed.
func (h *HAL) Enable() error {
	h.Enabled = true
	return nil
}

// Reset drops every queued packet and stall.
func (h *HAL) Reset() {
	h.Resets++
	h.Address = 0
	h.setup = nil
	h.out = [16][][]byte{}
	h.in = [16][]byte{}
	h.inBusy = [16]bool{}
	clear(h.stalled)
}

func (h *HAL) SetAddress(addr uint8)        { h.Address = addr }
func (h *HAL) SetAddressBeforeStatus() bool { return h.AddressBeforeStatus }

// Write queues p as the endpoint's next IN packet.
func (h *HAL) Write(ep hal.EndpointAddress, p []byte) (int, error) {
	n := ep.Number()
	switch {
	case h.stalled[ep]:
		return 0, pkg.USBError{Stalled: true}
	case h.inBusy[n]:
		return 0, pkg.USBError{WouldBlock: true}
	}
	h.in[n] = append([]byte(nil), p...)
	h.inBusy[n] = true
	return len(p), nil
}

// Read returns the oldest OUT packet, then a pending SETUP packet.
func (h *HAL) Read(ep hal.EndpointAddress, p []byte) (int, error) {
	n := ep.Number()
	var pkt []byte
	switch {
	case len(h.out[n]) > 0:
		pkt = h.out[n][0]
		if len(p) < len(pkt) {
			return 0, pkg.USBError{BufferOverflow: true}
		}
		h.out[n] = h.out[n][1:]
	case n == 0 && h.setup != nil:
		pkt, h.setup = h.setup, nil
	default:
		return 0, pkg.USBError{WouldBlock: true}
	}
	return copy(p, pkt), nil
}

func (h *HAL) SetStalled(ep hal.EndpointAddress, stalled bool) { h.stalled[ep] = stalled }
func (h *HAL) IsStalled(ep hal.EndpointAddress) bool           { return h.stalled[ep] }

func (h *HAL) Suspend()             { h.Suspended = true }
func (h *HAL) Resume()              { h.Suspended = false }
func (h *HAL) RemoteWakeup(on bool) { h.Wakeup = on }

// Poll returns and clears the events raised by the host side.
func (h *HAL) Poll() hal.PollResult {
	r := h.events
	h.events = hal.PollResult{}
	return r
}

func (h *HAL) Speed() hal.Speed { return hal.SpeedFull }

func (h *HAL) Stop() error {
	h.Stopped = true
	return nil
}

// BusReset signals a bus reset.
func (h *HAL) BusReset() { h.events = hal.PollResult{Reset: true} }

// BusSuspend signals a suspended bus.
func (h *HAL) BusSuspend() { h.events = hal.PollResult{Suspend: true} }

// BusResume signals resume signalling.
func (h *HAL) BusResume() { h.events = hal.PollResult{Resume: true} }

// Setup delivers a SETUP packet to endpoint 0. As on hardware it clears
// the endpoint 0 stall and drops an unsent IN packet.
func (h *HAL) Setup(p []byte) {
	h.setup = append([]byte(nil), p...)
	h.stalled[hal.EP0In], h.stalled[hal.EP0Out] = false, false
	h.in[0], h.inBusy[0] = nil, false
	h.out[0] = nil
	h.events.Setup |= 1
}

// SendOut delivers an OUT packet to endpoint n.
func (h *HAL) SendOut(n uint8, p []byte) {
	h.out[n] = append(h.out[n], append([]byte(nil), p...))
	h.events.Out |= 1 << n
}

// Pending returns the number of OUT packets endpoint n has not read.
func (h *HAL) Pending(n uint8) int { return len(h.out[n]) }

// TakeIn takes the packet queued on IN endpoint n, if any.
func (h *HAL) TakeIn(n uint8) ([]byte, bool) {
	if !h.inBusy[n] {
		return nil, false
	}
	p := h.in[n]
	h.in[n], h.inBusy[n] = nil, false
	h.sent[n] = append(h.sent[n], p)
	h.events.InComplete |= 1 << n
	return p, true
}

// Sent returns every packet taken from IN endpoint n, and forgets them.
func (h *HAL) Sent(n uint8) [][]byte {
	s := h.sent[n]
	h.sent[n] = nil
	return s
}

// Host runs control transfers against a stack, polling it after every
// packet the way interrupts would.
type Host struct {
	HAL            *HAL
	Stack          *device.Stack
	Classes        []device.Class
	MaxPacketSize0 int
}

// NewHost returns a host for s on h, polling classes.
func NewHost(h *HAL, s *device.Stack, classes ...device.Class) *Host {
	return &Host{HAL: h, Stack: s, Classes: classes, MaxPacketSize0: int(s.Config().MaxPacketSize0)}
}

// Poll polls the stack once.
func (h *Host) Poll() { h.Stack.Poll(h.Classes...) }

func (h *Host) ep0Stalled() bool {
	return h.HAL.IsStalled(hal.EP0In) || h.HAL.IsStalled(hal.EP0Out)
}

// ControlIn runs a device-to-host transfer and returns its data stage.
// A stalled request fails with ErrStall.
func (h *Host) ControlIn(req device.SetupPacket) ([]byte, error) {
	b := req.Bytes()
	h.HAL.Setup(b[:])
	h.Poll()
	var data []byte
	for {
		if h.ep0Stalled() {
			return data, pkg.ErrStall
		}
		p, ok := h.HAL.TakeIn(0)
		if !ok {
			return data, fmt.Errorf("%v: no data packet: %w", req, pkg.ErrWouldBlock)
		}
		data = append(data, p...)
		h.Poll()
		if len(p) < h.MaxPacketSize0 || len(data) >= int(req.Length) {
			break
		}
	}
	h.HAL.SendOut(0, nil)
	h.Poll()
	return data, nil
}

// ControlOut runs a host-to-device transfer with data as its data stage.
// A stalled request fails with ErrStall.
func (h *Host) ControlOut(req device.SetupPacket, data []byte) error {
	req.Length = uint16(len(data))
	b := req.Bytes()
	h.HAL.Setup(b[:])
	h.Poll()
	for off := 0; off < len(data); off += h.MaxPacketSize0 {
		if h.ep0Stalled() {
			return pkg.ErrStall
		}
		h.HAL.SendOut(0, data[off:min(off+h.MaxPacketSize0, len(data))])
		h.Poll()
	}
	if h.ep0Stalled() {
		return pkg.ErrStall
	}
	p, ok := h.HAL.TakeIn(0)
	if !ok {
		return fmt.Errorf("%v: no status packet: %w", req, pkg.ErrWouldBlock)
	}
	if len(p) != 0 {
		return fmt.Errorf("%v: status packet of %d bytes: %w", req, len(p), pkg.ErrInvalidState)
	}
	h.Poll()
	return nil
}

// GetDescriptor requests descriptor typ/index with wLength length.
func (h *Host) GetDescriptor(typ, index uint8, lang, length uint16) ([]byte, error) {
	return h.ControlIn(device.SetupPacket{
		RequestType: 0x80,
		Request:     device.RequestGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Index:       lang,
		Length:      length,
	})
}

// Standard runs a standard host-to-device request to the device with no
// data stage.
func (h *Host) Standard(request uint8, value, index uint16) error {
	return h.ControlOut(device.SetupPacket{Request: request, Value: value, Index: index}, nil)
}

// Enumerate resets the bus, reads the device and configuration
// descriptors, assigns addr and selects the configuration.
func (h *Host) Enumerate(addr uint8) error {
	h.HAL.BusReset()
	h.Poll()
	if _, err := h.GetDescriptor(device.DescriptorTypeDevice, 0, 0, 64); err != nil {
		return fmt.Errorf("device descriptor: %w", err)
	}
	if err := h.Standard(device.RequestSetAddress, uint16(addr), 0); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	head, err := h.GetDescriptor(device.DescriptorTypeConfiguration, 0, 0, device.ConfigurationDescriptorSize)
	if err != nil {
		return fmt.Errorf("configuration header: %w", err)
	}
	c, err := device.ParseConfigurationDescriptor(head)
	if err != nil {
		return err
	}
	if _, err := h.GetDescriptor(device.DescriptorTypeConfiguration, 0, 0, c.TotalLength); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	return h.Standard(device.RequestSetConfiguration, uint16(c.ConfigurationValue), 0)
}
