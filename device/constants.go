package device

import "fmt"

// Fixed limits of the stack. Every table is sized by these so nothing is
// allocated after New.
const (
	// MaxInterfaces is the number of interfaces an Allocator hands out.
	MaxInterfaces = 8

	// MaxStrings is the highest string index an Allocator hands out.
	MaxStrings = 32

	// MaxControlDataSize is the largest data stage of a control transfer.
	MaxControlDataSize = 512

	// MaxDescriptorSize bounds the configuration and BOS descriptors.
	MaxDescriptorSize = 512
)

// Reserved string indices of the device descriptor.
const (
	StringManufacturer StringIndex = 1
	StringProduct      StringIndex = 2
	StringSerialNumber StringIndex = 3

	firstClassString = 4
)

// LangIDUSEnglish is the language of every string served by the stack.
const LangIDUSEnglish = 0x0409

// Test identifiers from the pid.codes open registry. Products must replace
// them.
const (
	PlaceholderVID = 0x1209
	PlaceholderPID = 0x0001
)

// State is the USB device state (USB 2.0 section 9.1).
type State uint8

// Device states. A suspended device remembers the state it resumes to.
const (
	StatePowered State = iota
	StateDefault
	StateAddressed
	StateConfigured
	StateSuspended
)

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
