package hal

import (
	"context"
	"fmt"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// MaxPacketSize0 returns the largest control endpoint packet at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	if s == SpeedLow || s == SpeedUnknown {
		return 8
	}
	return 64
}

// Direction is the data direction of an endpoint, seen from the host.
type Direction uint8

// Endpoint directions, encoded as in bit 7 of an endpoint address.
const (
	Out Direction = 0x00
	In  Direction = 0x80
)

func (d Direction) String() string {
	if d == In {
		return "IN"
	}
	return "OUT"
}

// EndpointAddress is an endpoint number with its direction bit.
type EndpointAddress uint8

// Address returns the endpoint address of number n in direction d.
func Address(n uint8, d Direction) EndpointAddress { return EndpointAddress(n&0x0F | uint8(d)) }

// Control endpoint addresses.
const (
	EP0Out EndpointAddress = 0x00
	EP0In  EndpointAddress = 0x80
)

// Number returns the endpoint number (0-15).
func (a EndpointAddress) Number() uint8 { return uint8(a) & 0x0F }

// Direction returns the endpoint direction.
func (a EndpointAddress) Direction() Direction { return Direction(a & 0x80) }

// IsIn returns true if this is an IN endpoint (device to host).
func (a EndpointAddress) IsIn() bool { return a&0x80 != 0 }

func (a EndpointAddress) String() string {
	return fmt.Sprintf("EP%d %s", a.Number(), a.Direction())
}

// EndpointType is the transfer type of an endpoint, encoded as in
// bmAttributes.
type EndpointType uint8

// Transfer types.
const (
	Control EndpointType = iota
	Isochronous
	Bulk
	Interrupt
)

func (t EndpointType) String() string {
	return [...]string{"control", "isochronous", "bulk", "interrupt"}[t&3]
}

// EndpointConfig describes an endpoint requested from the controller.
type EndpointConfig struct {
	Address       EndpointAddress // Number zero lets the controller choose
	Type          EndpointType
	MaxPacketSize uint16
	Interval      uint8 // Polling interval for interrupt/isochronous
}

// PollResult reports the bus events and endpoint activity seen by one
// call to [DeviceHAL.Poll]. At most one of Reset, Suspend and Resume is
// set; endpoint masks hold one bit per endpoint number.
type PollResult struct {
	Reset   bool
	Suspend bool
	Resume  bool

	// Out has a bit for every OUT endpoint holding a packet.
	Out uint16
	// InComplete has a bit for every IN endpoint whose packet was sent.
	InComplete uint16
	// Setup has a bit for every control endpoint holding a SETUP packet.
	Setup uint16
}

// Data reports whether any endpoint needs attention.
func (r PollResult) Data() bool { return r.Out|r.InComplete|r.Setup != 0 }

// None reports whether nothing happened.
func (r PollResult) None() bool { return !r.Reset && !r.Suspend && !r.Resume && !r.Data() }

// DeviceHAL is the controller contract of the device stack. It follows a
// poll model: the stack calls Poll from its main loop or from the USB
// interrupt, and every data call returns at once.
//
// Endpoints are allocated before Enable. Controller memory for each
// endpoint is reserved by AllocEndpoint and fixed by Enable.
type DeviceHAL interface {
	// Init resets the controller and leaves it detached from the bus.
	Init(ctx context.Context) error

	// AllocEndpoint reserves an endpoint and returns its address. An
	// address with number zero, other than the control endpoint, lets the
	// controller pick a free number.
	AllocEndpoint(c EndpointConfig) (EndpointAddress, error)

	// Enable fixes the endpoint layout and attaches to the bus.
	Enable() error

	// Reset returns the controller to the state after a bus reset:
	// address zero, every allocated endpoint active and its data toggle
	// cleared, OUT endpoints ready to receive.
	Reset()

	// SetAddress programs the device address.
	SetAddress(addr uint8)

	// SetAddressBeforeStatus reports whether SetAddress must be called
	// before the status stage of SET_ADDRESS rather than after it.
	SetAddressBeforeStatus() bool

	// Write queues one packet on an IN endpoint. It returns ErrWouldBlock
	// while the previous packet is still queued.
	Write(ep EndpointAddress, p []byte) (int, error)

	// Read takes the received packet of an OUT endpoint, or the SETUP
	// packet of a control endpoint. It returns ErrWouldBlock when none is
	// waiting and ErrBufferTooSmall when p is too short.
	Read(ep EndpointAddress, p []byte) (int, error)

	// SetStalled sets or clears the STALL handshake of an endpoint.
	SetStalled(ep EndpointAddress, stalled bool)

	// IsStalled reports whether an endpoint is stalled.
	IsStalled(ep EndpointAddress) bool

	// Suspend and Resume are called when the bus suspends and resumes.
	Suspend()
	Resume()

	// RemoteWakeup drives resume signalling on a suspended bus.
	RemoteWakeup(on bool)

	// Poll reports bus events and endpoint activity.
	Poll() PollResult

	// Speed returns the negotiated connection speed.
	Speed() Speed

	// Stop detaches from the bus and disables the controller.
	Stop() error
}
