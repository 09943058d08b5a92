package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestFaultErrors_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"spi family", SPIError{Overrun: true}, ErrSPI, true},
		{"spi not i2c", SPIError{Overrun: true}, ErrI2C, false},
		{"i2c family", I2CError{AckFailure: true}, ErrI2C, true},
		{"i2c timeout", I2CError{Timeout: true}, ErrBusTimeout, true},
		{"i2c nack not timeout", I2CError{AckFailure: true}, ErrBusTimeout, false},
		{"uart family", UARTError{Framing: true}, ErrUART, true},
		{"dma family", DMAError{FIFOError: true}, ErrDMA, true},
		{"qspi timeout", QSPIError{Timeout: true}, ErrBusTimeout, true},
		{"usb would block", USBError{WouldBlock: true}, ErrWouldBlock, true},
		{"usb stalled", USBError{Stalled: true}, ErrStall, true},
		{"usb overflow", USBError{BufferOverflow: true}, ErrBufferTooSmall, true},
		{"usb not stalled", USBError{WouldBlock: true}, ErrStall, false},
		{"wrapped", fmt.Errorf("read: %w", DMAError{TransferError: true}), ErrDMA, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestFaultErrors_As(t *testing.T) {
	err := fmt.Errorf("transfer: %w", I2CError{ArbitrationLost: true, BusError: true})
	var ie I2CError
	if !errors.As(err, &ie) {
		t.Fatal("errors.As() = false, want true")
	}
	if !ie.ArbitrationLost || !ie.BusError || ie.AckFailure {
		t.Errorf("I2CError = %+v, want ArbitrationLost and BusError only", ie)
	}
	if !ie.Any() {
		t.Error("Any() = false, want true")
	}
}

func TestFaultErrors_Message(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{SPIError{}, "spi fault"},
		{SPIError{Overrun: true, CRC: true}, "spi fault: overrun|crc"},
		{UARTError{Parity: true}, "uart fault: parity"},
		{DMAError{FIFOError: true}, "dma fault: fifo error"},
		{USBError{Stalled: true}, "usb fault: stalled"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestPlanError(t *testing.T) {
	err := error(&PlanError{Field: "PLL.N", Reason: "outside 50..432"})
	if !errors.Is(err, ErrClockPlanInvalid) {
		t.Errorf("errors.Is(%v, ErrClockPlanInvalid) = false, want true", err)
	}
	if want := "clock plan invalid: PLL.N: outside 50..432"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
