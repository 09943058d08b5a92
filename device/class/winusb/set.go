package winusb

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/pkg"
)

// Microsoft OS 2.0 descriptor types.
const (
	TypeSetHeader        = 0x00
	TypeConfigSubset     = 0x01
	TypeFunctionSubset   = 0x02
	TypeCompatibleID     = 0x03
	TypeRegistryProperty = 0x04
)

// Descriptor sizes.
const (
	SetHeaderSize      = 10
	ConfigSubsetSize   = 8
	FunctionSubsetSize = 8
	CompatibleIDSize   = 20
)

// RegMultiSZ is the registry type of DeviceInterfaceGUIDs.
const RegMultiSZ = 7

// WindowsVersion is the minimum Windows version the set applies to
// (Windows 8.1).
const WindowsVersion = 0x06030000

// MaxSetSize is the largest descriptor set a single control transfer can
// carry on this stack.
const MaxSetSize = device.MaxControlDataSize

const propertyName = "DeviceInterfaceGUIDs"

// Function is one function of a composite device: the first interface of
// the function, and the interface GUID Windows registers for it.
type Function struct {
	Interface device.InterfaceNumber
	GUID      string // optional, such as {88BAE032-5A81-49F0-BC3D-A4FF138216D6}
}

// DeviceSet returns a descriptor set that applies WinUSB to the whole
// device. guid may be empty.
func DeviceSet(guid string) ([]byte, error) {
	f, err := features(guid)
	if err != nil {
		return nil, err
	}
	return header(f)
}

// FunctionSet returns a descriptor set with a configuration subset that
// applies WinUSB to each function separately.
func FunctionSet(fns ...Function) ([]byte, error) {
	if len(fns) == 0 {
		return nil, fmt.Errorf("winusb: function set without functions: %w", pkg.ErrInvalidState)
	}
	var subsets []byte
	for _, fn := range fns {
		f, err := features(fn.GUID)
		if err != nil {
			return nil, err
		}
		subsets = binary.LittleEndian.AppendUint16(subsets, FunctionSubsetSize)
		subsets = binary.LittleEndian.AppendUint16(subsets, TypeFunctionSubset)
		subsets = append(subsets, uint8(fn.Interface), 0)
		subsets = binary.LittleEndian.AppendUint16(subsets, uint16(FunctionSubsetSize+len(f)))
		subsets = append(subsets, f...)
	}
	// bConfigurationValue is an index here, so the first configuration is 0.
	b := binary.LittleEndian.AppendUint16(nil, ConfigSubsetSize)
	b = binary.LittleEndian.AppendUint16(b, TypeConfigSubset)
	b = append(b, 0, 0)
	b = binary.LittleEndian.AppendUint16(b, uint16(ConfigSubsetSize+len(subsets)))
	return header(append(b, subsets...))
}

func header(body []byte) ([]byte, error) {
	total := SetHeaderSize + len(body)
	if total > MaxSetSize {
		return nil, fmt.Errorf("winusb: descriptor set of %d bytes: %w", total, pkg.ErrOutOfRange)
	}
	b := make([]byte, 0, total)
	b = binary.LittleEndian.AppendUint16(b, SetHeaderSize)
	b = binary.LittleEndian.AppendUint16(b, TypeSetHeader)
	b = binary.LittleEndian.AppendUint32(b, WindowsVersion)
	b = binary.LittleEndian.AppendUint16(b, uint16(total))
	return append(b, body...), nil
}

// features returns the compatible ID descriptor, followed by the
// DeviceInterfaceGUIDs property when guid is set.
func features(guid string) ([]byte, error) {
	b := binary.LittleEndian.AppendUint16(nil, CompatibleIDSize)
	b = binary.LittleEndian.AppendUint16(b, TypeCompatibleID)
	b = append(b, "WINUSB\x00\x00"...)
	b = append(b, make([]byte, 8)...)
	if guid == "" {
		return b, nil
	}
	u, err := device.ParseUUID(guid)
	if err != nil {
		return nil, fmt.Errorf("winusb: interface GUID %q: %w", guid, err)
	}
	name := utf16le(propertyName + "\x00")
	data := utf16le("{" + u.String() + "}\x00\x00")
	b = binary.LittleEndian.AppendUint16(b, uint16(10+len(name)+len(data)))
	b = binary.LittleEndian.AppendUint16(b, TypeRegistryProperty)
	b = binary.LittleEndian.AppendUint16(b, RegMultiSZ)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(name)))
	b = append(b, name...)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...), nil
}

func utf16le(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 0, 2*len(u))
	for _, c := range u {
		b = binary.LittleEndian.AppendUint16(b, c)
	}
	return b
}
