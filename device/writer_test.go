package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

func TestDescriptorWriter(t *testing.T) {
	var buf [64]byte
	w := newDescriptorWriter(buf[:])

	ep := func(addr hal.EndpointAddress, typ hal.EndpointType, mps uint16, interval uint8) Endpoint {
		return Endpoint{cfg: hal.EndpointConfig{Address: addr, Type: typ, MaxPacketSize: mps, Interval: interval}}
	}
	steps := []func() error{
		func() error { return w.IAD(0, 2, 0xFF, 0, 0, 0) },
		func() error { return w.Interface(0, 0xFF, 0, 0) },
		func() error { return w.Endpoint(ep(0x81, hal.Interrupt, 8, 10)) },
		func() error { return w.InterfaceAlt(1, 0, 0xFF, 1, 2, 4) },
		func() error { return w.Endpoint(ep(0x02, hal.Bulk, 64, 0)) },
		func() error { return w.Endpoint(ep(0x82, hal.Bulk, 64, 0)) },
		func() error { return w.InterfaceAlt(1, 1, 0xFF, 1, 2, 4) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	want := []byte{
		8, DescriptorTypeInterfaceAssociation, 0, 2, 0xFF, 0, 0, 0,
		9, DescriptorTypeInterface, 0, 0, 1, 0xFF, 0, 0, 0,
		7, DescriptorTypeEndpoint, 0x81, 3, 8, 0, 10,
		9, DescriptorTypeInterface, 1, 0, 2, 0xFF, 1, 2, 4,
		7, DescriptorTypeEndpoint, 0x02, 2, 64, 0, 0,
		7, DescriptorTypeEndpoint, 0x82, 2, 64, 0, 0,
	}
	got := w.Bytes()
	if len(got) < len(want) {
		t.Fatalf("Len() = %d, want at least %d", w.Len(), len(want))
	}
	if diff := cmp.Diff(want, got[:len(want)]); diff != "" {
		t.Errorf("descriptors mismatch (-want +got):\n%s", diff)
	}
	if w.interfaces != 2 {
		t.Errorf("interfaces = %d, want 2 (alternate settings are not counted)", w.interfaces)
	}
}

func TestDescriptorWriterErrors(t *testing.T) {
	var buf [12]byte
	w := newDescriptorWriter(buf[:])

	if err := w.Endpoint(Endpoint{}); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Endpoint() before interface error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if err := w.Interface(0, 0xFF, 0, 0); err != nil {
		t.Fatalf("Interface() error = %v", err)
	}
	if err := w.Interface(1, 0xFF, 0, 0); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Interface() past end error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	if err := w.Write(0x24, make([]byte, 254)...); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Write(256 bytes) error = %v, want %v", err, pkg.ErrOutOfRange)
	}
}

func TestBOSWriterPlatform(t *testing.T) {
	var buf [64]byte
	w := newBOSWriter(buf[:])
	u := MustParseUUID("D8DD60DF-4589-4CC7-9CD2-659D9E648A9F")
	if err := w.Platform(u, 0xAA, 0xBB); err != nil {
		t.Fatalf("Platform() error = %v", err)
	}
	want := []byte{
		22, DescriptorTypeDeviceCapability, CapabilityPlatform, 0,
		0xDF, 0x60, 0xDD, 0xD8, 0x89, 0x45, 0xC7, 0x4C,
		0x9C, 0xD2, 0x65, 0x9D, 0x9E, 0x64, 0x8A, 0x9F,
		0xAA, 0xBB,
	}
	if diff := cmp.Diff(want, w.Bytes()); diff != "" {
		t.Errorf("platform capability mismatch (-want +got):\n%s", diff)
	}
	if w.caps != 1 {
		t.Errorf("caps = %d, want 1", w.caps)
	}
}

func TestUUID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "3408B638-09A9-47A0-8BFD-A0768815B665", want: "3408B638-09A9-47A0-8BFD-A0768815B665"},
		{in: "{88bae032-5a81-49f0-bc3d-a4ff138216d6}", want: "88BAE032-5A81-49F0-BC3D-A4FF138216D6"},
		{in: "3408B638-09A9-47A0-8BFD", wantErr: true},
		{in: "3408B638x09A9-47A0-8BFD-A0768815B665", wantErr: true},
		{in: "3408B638-09A9-47A0-8BFD-A0768815B66G", wantErr: true},
	}
	for _, tt := range tests {
		u, err := ParseUUID(tt.in)
		if tt.wantErr {
			if !errors.Is(err, pkg.ErrOutOfRange) {
				t.Errorf("ParseUUID(%q) error = %v, want %v", tt.in, err, pkg.ErrOutOfRange)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUUID(%q) error = %v", tt.in, err)
			continue
		}
		if got := u.String(); got != tt.want {
			t.Errorf("ParseUUID(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWalk(t *testing.T) {
	data := []byte{
		9, DescriptorTypeInterface, 0, 0, 1, 0xFF, 0, 0, 0,
		7, DescriptorTypeEndpoint, 0x81, 3, 8, 0, 10,
	}
	var types []uint8
	err := Walk(data, func(typ uint8, desc []byte) bool {
		types = append(types, typ)
		return true
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if diff := cmp.Diff([]uint8{DescriptorTypeInterface, DescriptorTypeEndpoint}, types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}

	if err := Walk(data[:12], func(uint8, []byte) bool { return true }); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("Walk(truncated) error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}

	e, err := ParseEndpointDescriptor(data[9:])
	if err != nil {
		t.Fatalf("ParseEndpointDescriptor() error = %v", err)
	}
	if e.EndpointAddress != 0x81 || e.MaxPacketSize != 8 || e.Interval != 10 {
		t.Errorf("ParseEndpointDescriptor() = %+v", e)
	}
}
