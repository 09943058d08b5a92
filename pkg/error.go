package pkg

import (
	"errors"
	"strings"
)

// Hardware and driver errors.
var (
	// ErrClockNotReady indicates an oscillator, PLL or regulator failed to
	// report ready within its spin budget.
	ErrClockNotReady = errors.New("clock not ready")

	// ErrClockPlanInvalid indicates a clock plan violates a datasheet limit.
	ErrClockPlanInvalid = errors.New("clock plan invalid")

	// ErrBusTimeout indicates a bounded spin-wait exhausted its budget.
	ErrBusTimeout = errors.New("bus timeout")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrClaimed indicates a peripheral or pin already has an owner.
	ErrClaimed = errors.New("resource already claimed")

	// ErrWatchdogWindow indicates a window watchdog refresh outside its window.
	ErrWatchdogWindow = errors.New("watchdog refresh outside window")

	// ErrUnaligned indicates an address or length violates an alignment rule.
	ErrUnaligned = errors.New("unaligned access")

	// ErrOutOfRange indicates a parameter outside its hardware range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidMode indicates an operation is illegal in the current mode.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrWouldBlock indicates a non-blocking operation could not proceed.
	ErrWouldBlock = errors.New("operation would block")

	// ErrSPI, ErrI2C, ErrUART, ErrDMA, ErrQSPI and ErrUSB are the family
	// sentinels matched by the typed bus-fault errors below.
	ErrSPI  = errors.New("spi fault")
	ErrI2C  = errors.New("i2c fault")
	ErrUART = errors.New("uart fault")
	ErrDMA  = errors.New("dma fault")
	ErrQSPI = errors.New("quadspi fault")
	ErrUSB  = errors.New("usb fault")
)

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (device busy).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrOverrun indicates a data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates no device is present on the bus.
	ErrNoDevice = errors.New("device not present")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrNoMemory indicates insufficient memory, e.g. endpoint FIFO RAM.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")
)

// PlanError reports the first field of a clock plan that failed validation.
type PlanError struct {
	Field  string
	Reason string
}

func (e *PlanError) Error() string {
	return "clock plan invalid: " + e.Field + ": " + e.Reason
}

func (e *PlanError) Unwrap() error { return ErrClockPlanInvalid }

// flags joins the names of the set fault bits.
func flags(name string, bits ...any) string {
	var parts []string
	for i := 0; i+1 < len(bits); i += 2 {
		if bits[i+1].(bool) {
			parts = append(parts, bits[i].(string))
		}
	}
	if len(parts) == 0 {
		return name
	}
	return name + ": " + strings.Join(parts, "|")
}

// SPIError is a fault latched in the SPI status register.
type SPIError struct {
	Overrun   bool
	ModeFault bool
	CRC       bool
}

func (e SPIError) Error() string {
	return flags("spi fault", "overrun", e.Overrun, "mode fault", e.ModeFault, "crc", e.CRC)
}

// Is matches ErrSPI.
func (e SPIError) Is(target error) bool { return target == ErrSPI }

// Any reports whether any fault bit is set.
func (e SPIError) Any() bool { return e.Overrun || e.ModeFault || e.CRC }

// I2CError is a fault latched in I2C SR1 or detected by a bounded wait.
type I2CError struct {
	ArbitrationLost bool
	AckFailure      bool
	BusError        bool
	Overrun         bool
	Timeout         bool
}

func (e I2CError) Error() string {
	return flags("i2c fault", "arbitration lost", e.ArbitrationLost, "ack failure", e.AckFailure,
		"bus error", e.BusError, "overrun", e.Overrun, "timeout", e.Timeout)
}

// Is matches ErrI2C, and ErrBusTimeout when Timeout is set.
func (e I2CError) Is(target error) bool {
	return target == ErrI2C || (e.Timeout && target == ErrBusTimeout)
}

// Any reports whether any fault bit is set.
func (e I2CError) Any() bool {
	return e.ArbitrationLost || e.AckFailure || e.BusError || e.Overrun || e.Timeout
}

// UARTError is a receive fault latched in the USART status register.
type UARTError struct {
	Overrun bool
	Framing bool
	Parity  bool
	Noise   bool
}

func (e UARTError) Error() string {
	return flags("uart fault", "overrun", e.Overrun, "framing", e.Framing, "parity", e.Parity, "noise", e.Noise)
}

// Is matches ErrUART.
func (e UARTError) Is(target error) bool { return target == ErrUART }

// Any reports whether any fault bit is set.
func (e UARTError) Any() bool { return e.Overrun || e.Framing || e.Parity || e.Noise }

// DMAError is a stream fault, or a FIFO configuration rejected before enable.
type DMAError struct {
	TransferError   bool
	FIFOError       bool
	DirectModeError bool
}

func (e DMAError) Error() string {
	return flags("dma fault", "transfer error", e.TransferError, "fifo error", e.FIFOError,
		"direct mode error", e.DirectModeError)
}

// Is matches ErrDMA.
func (e DMAError) Is(target error) bool { return target == ErrDMA }

// Any reports whether any fault bit is set.
func (e DMAError) Any() bool { return e.TransferError || e.FIFOError || e.DirectModeError }

// QSPIError is a QUADSPI command failure.
type QSPIError struct {
	Timeout       bool
	TransferError bool
}

func (e QSPIError) Error() string {
	return flags("quadspi fault", "timeout", e.Timeout, "transfer error", e.TransferError)
}

// Is matches ErrQSPI, and ErrBusTimeout when Timeout is set.
func (e QSPIError) Is(target error) bool {
	return target == ErrQSPI || (e.Timeout && target == ErrBusTimeout)
}

// USBError is a device-side endpoint failure.
type USBError struct {
	WouldBlock     bool
	Stalled        bool
	BufferOverflow bool
}

func (e USBError) Error() string {
	return flags("usb fault", "would block", e.WouldBlock, "stalled", e.Stalled,
		"buffer overflow", e.BufferOverflow)
}

// Is matches ErrUSB, and the narrower sentinel for each set bit.
func (e USBError) Is(target error) bool {
	switch target {
	case ErrUSB:
		return true
	case ErrWouldBlock:
		return e.WouldBlock
	case ErrStall:
		return e.Stalled
	case ErrBufferTooSmall:
		return e.BufferOverflow
	}
	return false
}
