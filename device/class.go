package device

import (
	"fmt"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// Class is a USB function plugged into the stack. The stack calls every
// class in the order given to Stack.Poll; for control requests it stops at
// the first class that accepts or rejects the transfer.
//
// Embed BaseClass to implement only the methods a class needs.
type Class interface {
	// ConfigurationDescriptors writes the class's interface, endpoint and
	// class-specific descriptors.
	ConfigurationDescriptors(w *DescriptorWriter) error

	// BOSDescriptors writes device capability descriptors.
	BOSDescriptors(w *BOSWriter) error

	// String returns the string for an index the class allocated.
	String(index StringIndex, lang uint16) (string, bool)

	// ControlIn and ControlOut see every control request not yet handled.
	// A class leaves a request it does not recognise untouched.
	ControlIn(x *ControlIn)
	ControlOut(x *ControlOut)

	// Endpoint events, other than on the control endpoint.
	EndpointSetup(addr hal.EndpointAddress)
	EndpointOut(addr hal.EndpointAddress)
	EndpointInComplete(addr hal.EndpointAddress)

	// Configured is called after SET_CONFIGURATION with the selected
	// value; zero deconfigures the device.
	Configured(value uint8)

	// Reset is called after a bus reset.
	Reset()

	// Poll is called on every Stack.Poll.
	Poll()
}

// BaseClass implements Class with no descriptors and no behaviour.
type BaseClass struct{}

func (BaseClass) ConfigurationDescriptors(*DescriptorWriter) error { return nil }
func (BaseClass) BOSDescriptors(*BOSWriter) error                  { return nil }
func (BaseClass) String(StringIndex, uint16) (string, bool)        { return "", false }
func (BaseClass) ControlIn(*ControlIn)                             {}
func (BaseClass) ControlOut(*ControlOut)                           {}
func (BaseClass) EndpointSetup(hal.EndpointAddress)                {}
func (BaseClass) EndpointOut(hal.EndpointAddress)                  {}
func (BaseClass) EndpointInComplete(hal.EndpointAddress)           {}
func (BaseClass) Configured(uint8)                                 {}
func (BaseClass) Reset()                                           {}
func (BaseClass) Poll()                                            {}

type resolution uint8

const (
	pending resolution = iota
	accepted
	rejected
)

// ControlIn is a device-to-host control request awaiting a response.
type ControlIn struct {
	req SetupPacket
	buf []byte
	n   int
	res resolution
}

// Request returns the SETUP packet.
func (x *ControlIn) Request() SetupPacket { return x.req }

// Accept answers the request with data. Data longer than wLength is cut
// to wLength.
func (x *ControlIn) Accept(data []byte) error {
	return x.AcceptWith(func(buf []byte) (int, error) {
		if len(data) > len(buf) {
			return 0, fmt.Errorf("control response of %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
		}
		return copy(buf, data), nil
	})
}

// AcceptWith answers the request with the bytes fn writes into the
// control buffer.
func (x *ControlIn) AcceptWith(fn func(buf []byte) (int, error)) error {
	if x.res != pending {
		return fmt.Errorf("control IN already resolved: %w", pkg.ErrInvalidState)
	}
	n, err := fn(x.buf)
	if err != nil {
		x.res = rejected
		return err
	}
	if n > int(x.req.Length) {
		n = int(x.req.Length)
	}
	x.n, x.res = n, accepted
	return nil
}

// Reject stalls the request.
func (x *ControlIn) Reject() {
	if x.res == pending {
		x.res = rejected
	}
}

// ControlOut is a host-to-device control request with its data stage
// already received.
type ControlOut struct {
	req  SetupPacket
	data []byte
	res  resolution
}

// Request returns the SETUP packet.
func (x *ControlOut) Request() SetupPacket { return x.req }

// Data returns the data stage.
func (x *ControlOut) Data() []byte { return x.data }

// Accept completes the request with a status stage.
func (x *ControlOut) Accept() {
	if x.res == pending {
		x.res = accepted
	}
}

// Reject stalls the request.
func (x *ControlOut) Reject() {
	if x.res == pending {
		x.res = rejected
	}
}
