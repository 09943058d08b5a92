package device

import (
	"errors"
	"testing"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	raw := []byte{0x80, 0x06, 0x00, 0x02, 0x00, 0x00, 0xFF, 0x00}
	s, err := ParseSetupPacket(raw)
	if err != nil {
		t.Fatalf("ParseSetupPacket() error = %v", err)
	}
	want := SetupPacket{RequestType: 0x80, Request: RequestGetDescriptor, Value: 0x0200, Length: 255}
	if s != want {
		t.Errorf("ParseSetupPacket() = %+v, want %+v", s, want)
	}
	if b := s.Bytes(); string(b[:]) != string(raw) {
		t.Errorf("Bytes() = % x, want % x", b, raw)
	}
	if _, err := ParseSetupPacket(raw[:7]); !errors.Is(err, pkg.ErrSetupPacketTooShort) {
		t.Errorf("ParseSetupPacket(7 bytes) error = %v, want %v", err, pkg.ErrSetupPacketTooShort)
	}
}

func TestSetupPacketFields(t *testing.T) {
	tests := []struct {
		requestType uint8
		dir         hal.Direction
		typ         RequestType
		recipient   Recipient
	}{
		{0x00, hal.Out, TypeStandard, RecipientDevice},
		{0x80, hal.In, TypeStandard, RecipientDevice},
		{0x21, hal.Out, TypeClass, RecipientInterface},
		{0xA1, hal.In, TypeClass, RecipientInterface},
		{0xC0, hal.In, TypeVendor, RecipientDevice},
		{0x02, hal.Out, TypeStandard, RecipientEndpoint},
	}
	for _, tt := range tests {
		s := SetupPacket{RequestType: tt.requestType}
		if s.Direction() != tt.dir || s.IsIn() != (tt.dir == hal.In) {
			t.Errorf("%#02x: Direction() = %v, want %v", tt.requestType, s.Direction(), tt.dir)
		}
		if s.Type() != tt.typ {
			t.Errorf("%#02x: Type() = %v, want %v", tt.requestType, s.Type(), tt.typ)
		}
		if s.Recipient() != tt.recipient {
			t.Errorf("%#02x: Recipient() = %v, want %v", tt.requestType, s.Recipient(), tt.recipient)
		}
	}

	s := SetupPacket{Value: 0x0302}
	if s.DescriptorType() != DescriptorTypeString || s.DescriptorIndex() != 2 {
		t.Errorf("DescriptorType(), DescriptorIndex() = %d, %d, want 3, 2", s.DescriptorType(), s.DescriptorIndex())
	}
}
