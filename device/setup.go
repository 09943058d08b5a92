package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// RequestType is the type field of bmRequestType.
type RequestType uint8

// Request types.
const (
	TypeStandard RequestType = 0x00
	TypeClass    RequestType = 0x20
	TypeVendor   RequestType = 0x40
	TypeReserved RequestType = 0x60
)

func (t RequestType) String() string {
	return [...]string{"Standard", "Class", "Vendor", "Reserved"}[t>>5&3]
}

// Recipient is the recipient field of bmRequestType.
type Recipient uint8

// Request recipients.
const (
	RecipientDevice    Recipient = 0x00
	RecipientInterface Recipient = 0x01
	RecipientEndpoint  Recipient = 0x02
	RecipientOther     Recipient = 0x03
)

func (r Recipient) String() string {
	switch r {
	case RecipientDevice:
		return "Device"
	case RecipientInterface:
		return "Interface"
	case RecipientEndpoint:
		return "Endpoint"
	case RecipientOther:
		return "Other"
	}
	return fmt.Sprintf("Recipient(%d)", uint8(r))
}

// SetupPacketSize is the size of a SETUP packet.
const SetupPacketSize = 8

// SetupPacket is the decoded SETUP packet of a control transfer.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// ParseSetupPacket decodes the first 8 bytes of data.
func ParseSetupPacket(data []byte) (SetupPacket, error) {
	if len(data) < SetupPacketSize {
		return SetupPacket{}, pkg.ErrSetupPacketTooShort
	}
	return SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:]),
		Index:       binary.LittleEndian.Uint16(data[4:]),
		Length:      binary.LittleEndian.Uint16(data[6:]),
	}, nil
}

// Bytes encodes the packet as sent on the wire.
func (s SetupPacket) Bytes() [SetupPacketSize]byte {
	var b [SetupPacketSize]byte
	b[0], b[1] = s.RequestType, s.Request
	binary.LittleEndian.PutUint16(b[2:], s.Value)
	binary.LittleEndian.PutUint16(b[4:], s.Index)
	binary.LittleEndian.PutUint16(b[6:], s.Length)
	return b
}

// Direction returns the direction of the data stage.
func (s SetupPacket) Direction() hal.Direction { return hal.Direction(s.RequestType & 0x80) }

// IsIn reports a device-to-host request.
func (s SetupPacket) IsIn() bool { return s.RequestType&0x80 != 0 }

// Type returns the request type.
func (s SetupPacket) Type() RequestType { return RequestType(s.RequestType & 0x60) }

// Recipient returns the request recipient.
func (s SetupPacket) Recipient() Recipient { return Recipient(s.RequestType & 0x1F) }

// DescriptorType returns the high byte of wValue.
func (s SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the low byte of wValue.
func (s SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

func (s SetupPacket) String() string {
	return fmt.Sprintf("SETUP[%s %s %s] bRequest=%#02x wValue=%#04x wIndex=%#04x wLength=%d",
		s.Direction(), s.Type(), s.Recipient(), s.Request, s.Value, s.Index, s.Length)
}
