package device

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/f4core/pkg"
)

// Descriptor types (USB 2.0 Table 9-5, USB 3.2 Table 9-6).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfacePower       = 0x08
	DescriptorTypeOTG                  = 0x09
	DescriptorTypeDebug                = 0x0A
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeDeviceCapability     = 0x10
	DescriptorTypeCSInterface          = 0x24
	DescriptorTypeCSEndpoint           = 0x25
)

// Device capability types of the BOS descriptor.
const (
	CapabilityUSB20Extension = 0x02
	CapabilityPlatform       = 0x05
)

// Class codes.
const (
	ClassPerInterface = 0x00
	ClassAudio        = 0x01
	ClassCDC          = 0x02
	ClassHID          = 0x03
	ClassMassStorage  = 0x08
	ClassCDCData      = 0x0A
	ClassMisc         = 0xEF
	ClassAppSpecific  = 0xFE
	ClassVendor       = 0xFF
)

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// Descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	IADSize                     = 8
	BOSDescriptorSize           = 5
)

// DeviceDescriptor is the 18-byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo encodes d into buf and returns 18, or 0 if buf is too short.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0], buf[1] = DeviceDescriptorSize, DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:], d.USBVersion)
	buf[4], buf[5], buf[6], buf[7] = d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:], d.DeviceVersion)
	buf[14], buf[15], buf[16] = d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// check validates the length and type of a descriptor header.
func check(data []byte, size int, typ uint8) error {
	if len(data) < size || int(data[0]) < size {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != typ {
		return pkg.ErrDescriptorTypeMismatch
	}
	return nil
}

// ParseDeviceDescriptor decodes a device descriptor.
func ParseDeviceDescriptor(data []byte) (DeviceDescriptor, error) {
	if err := check(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return DeviceDescriptor{}, err
	}
	return DeviceDescriptor{
		USBVersion:        binary.LittleEndian.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          binary.LittleEndian.Uint16(data[8:]),
		ProductID:         binary.LittleEndian.Uint16(data[10:]),
		DeviceVersion:     binary.LittleEndian.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}, nil
}

// ConfigurationDescriptor is the header of a configuration.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// ParseConfigurationDescriptor decodes a configuration descriptor header.
func ParseConfigurationDescriptor(data []byte) (ConfigurationDescriptor, error) {
	if err := check(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return ConfigurationDescriptor{}, err
	}
	return ConfigurationDescriptor{
		TotalLength:        binary.LittleEndian.Uint16(data[2:]),
		NumInterfaces:      data[4],
		ConfigurationValue: data[5],
		ConfigurationIndex: data[6],
		Attributes:         data[7],
		MaxPower:           data[8],
	}, nil
}

// InterfaceDescriptor is an interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// ParseInterfaceDescriptor decodes an interface descriptor.
func ParseInterfaceDescriptor(data []byte) (InterfaceDescriptor, error) {
	if err := check(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return InterfaceDescriptor{}, err
	}
	return InterfaceDescriptor{
		InterfaceNumber:   data[2],
		AlternateSetting:  data[3],
		NumEndpoints:      data[4],
		InterfaceClass:    data[5],
		InterfaceSubClass: data[6],
		InterfaceProtocol: data[7],
		InterfaceIndex:    data[8],
	}, nil
}

// EndpointDescriptor is an endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// ParseEndpointDescriptor decodes an endpoint descriptor.
func ParseEndpointDescriptor(data []byte) (EndpointDescriptor, error) {
	if err := check(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return EndpointDescriptor{}, err
	}
	return EndpointDescriptor{
		EndpointAddress: data[2],
		Attributes:      data[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(data[4:]),
		Interval:        data[6],
	}, nil
}

// Walk calls fn with every descriptor in a concatenated block such as a
// full configuration or BOS descriptor, stopping early when fn returns
// false. A truncated descriptor ends the walk with ErrDescriptorTooShort.
func Walk(data []byte, fn func(typ uint8, desc []byte) bool) error {
	for len(data) > 0 {
		if len(data) < 2 || data[0] < 2 || int(data[0]) > len(data) {
			return pkg.ErrDescriptorTooShort
		}
		n := int(data[0])
		if !fn(data[1], data[:n]) {
			return nil
		}
		data = data[n:]
	}
	return nil
}

// StringDescriptorTo encodes s as a UTF-16LE string descriptor into buf,
// truncated to the 255-byte descriptor limit. It returns 0 if buf is too
// short.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if limit := (255 - 2) / 2; len(units) > limit {
		units = units[:limit]
	}
	n := 2 + 2*len(units)
	if len(buf) < n {
		return 0
	}
	buf[0], buf[1] = byte(n), DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*i:], u)
	}
	return n
}

// LanguageDescriptorTo writes string descriptor zero listing langIDs.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	n := 2 + 2*len(langIDs)
	if len(buf) < n {
		return 0
	}
	buf[0], buf[1] = byte(n), DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+2*i:], id)
	}
	return n
}

// ParseString decodes a string descriptor.
func ParseString(data []byte) (string, error) {
	if err := check(data, 2, DescriptorTypeString); err != nil {
		return "", err
	}
	n := int(data[0])
	if n > len(data) {
		n = len(data)
	}
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units)), nil
}
