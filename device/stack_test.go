package device_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/devicetest"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// vendorClass answers vendor requests with a fixed payload and records
// what the stack told it.
type vendorClass struct {
	device.BaseClass

	payload    []byte
	received   []byte
	configured []uint8
	resets     int
	polls      int
}

const vendorRequest = 0x42

func (c *vendorClass) ControlIn(x *device.ControlIn) {
	req := x.Request()
	if req.Type() == device.TypeVendor && req.Request == vendorRequest {
		_ = x.Accept(c.payload)
	}
}

func (c *vendorClass) ControlOut(x *device.ControlOut) {
	req := x.Request()
	if req.Type() == device.TypeVendor && req.Request == vendorRequest {
		c.received = append([]byte(nil), x.Data()...)
		x.Accept()
	}
}

func (c *vendorClass) Configured(v uint8) { c.configured = append(c.configured, v) }
func (c *vendorClass) Reset()             { c.resets++ }
func (c *vendorClass) Poll()              { c.polls++ }

func newTestStack(t *testing.T, cfg device.Config, classes ...device.Class) (*devicetest.HAL, *device.Stack, *devicetest.Host) {
	t.Helper()
	h := devicetest.New()
	s, err := device.New(device.NewAllocator(h), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h, s, devicetest.NewHost(h, s, classes...)
}

func vendorIn(length uint16) device.SetupPacket {
	return device.SetupPacket{RequestType: 0xC0, Request: vendorRequest, Length: length}
}

func TestNewDefaults(t *testing.T) {
	h, s, _ := newTestStack(t, device.Config{VendorID: device.PlaceholderVID, ProductID: device.PlaceholderPID})

	if !h.Enabled {
		t.Error("HAL not enabled")
	}
	cfg := s.Config()
	if cfg.USBVersion != 0x0210 {
		t.Errorf("USBVersion = %#04x, want 0x0210", cfg.USBVersion)
	}
	if cfg.MaxPacketSize0 != 64 {
		t.Errorf("MaxPacketSize0 = %d, want 64", cfg.MaxPacketSize0)
	}
	if cfg.MaxPower != 100 {
		t.Errorf("MaxPower = %d, want 100", cfg.MaxPower)
	}
	if s.State() != device.StatePowered {
		t.Errorf("State() = %v, want %v", s.State(), device.StatePowered)
	}
}

func TestNewRejectsConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  device.Config
	}{
		{"control packet size", device.Config{MaxPacketSize0: 48}},
		{"max power", device.Config{MaxPower: 600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := device.New(device.NewAllocator(devicetest.New()), tt.cfg)
			if !errors.Is(err, pkg.ErrOutOfRange) {
				t.Errorf("New() error = %v, want %v", err, pkg.ErrOutOfRange)
			}
		})
	}
}

func TestAllocatorFrozen(t *testing.T) {
	h := devicetest.New()
	alloc := device.NewAllocator(h)
	if _, err := device.New(alloc, device.Config{}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := alloc.Interface(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Interface() after New error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if _, err := alloc.Bulk(hal.In, 64); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Bulk() after New error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if _, err := device.New(alloc, device.Config{}); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("second New() error = %v, want %v", err, pkg.ErrInvalidState)
	}
}

func TestEnumerate(t *testing.T) {
	for _, before := range []bool{false, true} {
		c := &vendorClass{}
		h := devicetest.New()
		h.AddressBeforeStatus = before
		alloc := device.NewAllocator(h)
		s, err := device.New(alloc, device.Config{
			VendorID:     device.PlaceholderVID,
			ProductID:    device.PlaceholderPID,
			Manufacturer: "f4core",
			Product:      "test",
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		host := devicetest.NewHost(h, s, c)

		if err := host.Enumerate(9); err != nil {
			t.Fatalf("Enumerate(before=%v) error = %v", before, err)
		}
		if s.State() != device.StateConfigured {
			t.Errorf("State() = %v, want %v", s.State(), device.StateConfigured)
		}
		if s.Address() != 9 || h.Address != 9 {
			t.Errorf("Address() = %d, HAL address = %d, want 9", s.Address(), h.Address)
		}
		if s.Configuration() != 1 {
			t.Errorf("Configuration() = %d, want 1", s.Configuration())
		}
		if diff := cmp.Diff([]uint8{1}, c.configured); diff != "" {
			t.Errorf("Configured calls mismatch (-want +got):\n%s", diff)
		}
		if c.resets != 1 {
			t.Errorf("class resets = %d, want 1", c.resets)
		}
	}
}

func TestDeviceDescriptor(t *testing.T) {
	_, _, host := newTestStack(t, device.Config{
		VendorID:      0x1209,
		ProductID:     0x0001,
		DeviceVersion: 0x0100,
		Manufacturer:  "f4core",
		SerialNumber:  "0001",
	})
	host.HAL.BusReset()
	host.Poll()

	b, err := host.GetDescriptor(device.DescriptorTypeDevice, 0, 0, 255)
	if err != nil {
		t.Fatalf("GetDescriptor() error = %v", err)
	}
	got, err := device.ParseDeviceDescriptor(b)
	if err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	want := device.DeviceDescriptor{
		USBVersion:        0x0210,
		MaxPacketSize0:    64,
		VendorID:          0x1209,
		ProductID:         0x0001,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("device descriptor mismatch (-want +got):\n%s", diff)
	}

	// A host asking for 8 bytes gets exactly 8.
	b, err = host.GetDescriptor(device.DescriptorTypeDevice, 0, 0, 8)
	if err != nil {
		t.Fatalf("GetDescriptor(8) error = %v", err)
	}
	if len(b) != 8 {
		t.Errorf("len(descriptor) = %d, want 8", len(b))
	}
}

func TestControlInPackets(t *testing.T) {
	tests := []struct {
		name    string
		payload int
		length  uint16
		want    []int
	}{
		{"short", 10, 255, []int{10}},
		{"clipped", 10, 4, []int{4}},
		{"two packets", 100, 255, []int{64, 36}},
		{"packet boundary short of wLength", 64, 255, []int{64, 0}},
		{"packet boundary at wLength", 64, 64, []int{64}},
		{"two full packets", 128, 200, []int{64, 64, 0}},
		{"empty", 0, 16, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.payload)
			for i := range payload {
				payload[i] = byte(i)
			}
			c := &vendorClass{payload: payload}
			h, _, host := newTestStack(t, device.Config{}, c)

			data, err := host.ControlIn(vendorIn(tt.length))
			if err != nil {
				t.Fatalf("ControlIn() error = %v", err)
			}
			var sizes []int
			for _, p := range h.Sent(0) {
				sizes = append(sizes, len(p))
			}
			if diff := cmp.Diff(tt.want, sizes); diff != "" {
				t.Errorf("packet sizes mismatch (-want +got):\n%s", diff)
			}
			n := min(tt.payload, int(tt.length))
			if !bytes.Equal(data, payload[:n]) {
				t.Errorf("data = % x, want % x", data, payload[:n])
			}
		})
	}
}

func TestControlOutData(t *testing.T) {
	c := &vendorClass{}
	_, _, host := newTestStack(t, device.Config{}, c)

	data := make([]byte, 150)
	for i := range data {
		data[i] = byte(255 - i)
	}
	err := host.ControlOut(device.SetupPacket{RequestType: 0x40, Request: vendorRequest}, data)
	if err != nil {
		t.Fatalf("ControlOut() error = %v", err)
	}
	if !bytes.Equal(c.received, data) {
		t.Errorf("received %d bytes, want %d", len(c.received), len(data))
	}
}

func TestUnhandledRequestStalls(t *testing.T) {
	h, _, host := newTestStack(t, device.Config{})

	_, err := host.ControlIn(vendorIn(8))
	if !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("ControlIn() error = %v, want %v", err, pkg.ErrStall)
	}
	if !h.IsStalled(hal.EP0In) || !h.IsStalled(hal.EP0Out) {
		t.Error("endpoint 0 not stalled in both directions")
	}

	err = host.ControlOut(device.SetupPacket{RequestType: 0x40, Request: 0x01}, []byte{1, 2, 3})
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("ControlOut() error = %v, want %v", err, pkg.ErrStall)
	}

	// The next SETUP clears the stall.
	if _, err := host.GetDescriptor(device.DescriptorTypeDevice, 0, 0, 18); err != nil {
		t.Errorf("GetDescriptor() after stall error = %v", err)
	}
}

func TestOversizedControlOutStalls(t *testing.T) {
	_, _, host := newTestStack(t, device.Config{}, &vendorClass{})
	data := make([]byte, device.MaxControlDataSize+1)
	err := host.ControlOut(device.SetupPacket{RequestType: 0x40, Request: vendorRequest}, data)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("ControlOut() error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestStateTransitions(t *testing.T) {
	c := &vendorClass{}
	h, s, host := newTestStack(t, device.Config{}, c)

	// Requests that need an address are refused in the Default state.
	h.BusReset()
	host.Poll()
	if s.State() != device.StateDefault {
		t.Fatalf("State() after reset = %v, want %v", s.State(), device.StateDefault)
	}
	if err := host.Standard(device.RequestSetConfiguration, 1, 0); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_CONFIGURATION in Default error = %v, want %v", err, pkg.ErrStall)
	}

	if err := host.Enumerate(3); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	h.BusSuspend()
	host.Poll()
	if s.State() != device.StateSuspended || !h.Suspended {
		t.Errorf("State() after suspend = %v (HAL suspended %v), want %v", s.State(), h.Suspended, device.StateSuspended)
	}
	h.BusResume()
	host.Poll()
	if s.State() != device.StateConfigured {
		t.Errorf("State() after resume = %v, want %v", s.State(), device.StateConfigured)
	}

	// SET_CONFIGURATION(0) returns to Addressed.
	if err := host.Standard(device.RequestSetConfiguration, 0, 0); err != nil {
		t.Fatalf("SET_CONFIGURATION(0) error = %v", err)
	}
	if s.State() != device.StateAddressed {
		t.Errorf("State() = %v, want %v", s.State(), device.StateAddressed)
	}
	if err := host.Standard(device.RequestSetConfiguration, 2, 0); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_CONFIGURATION(2) error = %v, want %v", err, pkg.ErrStall)
	}

	// SET_ADDRESS(0) returns to Default.
	if err := host.Standard(device.RequestSetAddress, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS(0) error = %v", err)
	}
	if s.State() != device.StateDefault {
		t.Errorf("State() = %v, want %v", s.State(), device.StateDefault)
	}
	if err := host.Standard(device.RequestSetAddress, 128, 0); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_ADDRESS(128) error = %v, want %v", err, pkg.ErrStall)
	}

	h.BusReset()
	host.Poll()
	if s.State() != device.StateDefault || s.Configuration() != 0 {
		t.Errorf("after reset State() = %v, Configuration() = %d", s.State(), s.Configuration())
	}
	if diff := cmp.Diff([]uint8{1, 0}, c.configured); diff != "" {
		t.Errorf("Configured calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteWakeup(t *testing.T) {
	h, s, host := newTestStack(t, device.Config{RemoteWakeup: true})
	if err := host.Enumerate(1); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	h.BusSuspend()
	host.Poll()
	if err := s.RemoteWakeup(true); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("RemoteWakeup() before SET_FEATURE error = %v, want %v", err, pkg.ErrInvalidState)
	}
	h.BusResume()
	host.Poll()

	if err := host.Standard(device.RequestSetFeature, device.FeatureDeviceRemoteWakeup, 0); err != nil {
		t.Fatalf("SET_FEATURE error = %v", err)
	}
	status, err := host.ControlIn(device.SetupPacket{RequestType: 0x80, Request: device.RequestGetStatus, Length: 2})
	if err != nil {
		t.Fatalf("GET_STATUS error = %v", err)
	}
	if diff := cmp.Diff([]byte{0x02, 0x00}, status); diff != "" {
		t.Errorf("GET_STATUS mismatch (-want +got):\n%s", diff)
	}

	h.BusSuspend()
	host.Poll()
	if err := s.RemoteWakeup(true); err != nil {
		t.Fatalf("RemoteWakeup(true) error = %v", err)
	}
	if !h.Wakeup {
		t.Error("HAL not signalling resume")
	}
	h.BusResume()
	host.Poll()
	if h.Wakeup {
		t.Error("resume signalling still on after resume")
	}
	if s.State() != device.StateConfigured {
		t.Errorf("State() = %v, want %v", s.State(), device.StateConfigured)
	}
}

func TestRemoteWakeupNotAdvertised(t *testing.T) {
	_, _, host := newTestStack(t, device.Config{})
	if err := host.Enumerate(1); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	err := host.Standard(device.RequestSetFeature, device.FeatureDeviceRemoteWakeup, 0)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_FEATURE error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestEndpointHalt(t *testing.T) {
	h := devicetest.New()
	alloc := device.NewAllocator(h)
	ep, err := alloc.Bulk(hal.In, 64)
	if err != nil {
		t.Fatalf("Bulk() error = %v", err)
	}
	s, err := device.New(alloc, device.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	host := devicetest.NewHost(h, s)
	if err := host.Enumerate(1); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	status := func() byte {
		t.Helper()
		b, err := host.ControlIn(device.SetupPacket{RequestType: 0x82, Request: device.RequestGetStatus, Index: uint16(ep.Address()), Length: 2})
		if err != nil {
			t.Fatalf("GET_STATUS error = %v", err)
		}
		return b[0]
	}

	if err := host.ControlOut(device.SetupPacket{RequestType: 0x02, Request: device.RequestSetFeature, Value: device.FeatureEndpointHalt, Index: uint16(ep.Address())}, nil); err != nil {
		t.Fatalf("SET_FEATURE(HALT) error = %v", err)
	}
	if !ep.Stalled() || status() != 1 {
		t.Errorf("endpoint %v not halted", ep.Address())
	}
	if _, err := ep.Write([]byte{1}); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Write() on halted endpoint error = %v, want %v", err, pkg.ErrStall)
	}
	if err := host.ControlOut(device.SetupPacket{RequestType: 0x02, Request: device.RequestClearFeature, Value: device.FeatureEndpointHalt, Index: uint16(ep.Address())}, nil); err != nil {
		t.Fatalf("CLEAR_FEATURE(HALT) error = %v", err)
	}
	if ep.Stalled() || status() != 0 {
		t.Errorf("endpoint %v still halted", ep.Address())
	}
}

func TestStringDescriptors(t *testing.T) {
	_, _, host := newTestStack(t, device.Config{Product: "Blue Pill ✓"})

	langs, err := host.GetDescriptor(device.DescriptorTypeString, 0, 0, 255)
	if err != nil {
		t.Fatalf("GetDescriptor(string 0) error = %v", err)
	}
	if diff := cmp.Diff([]byte{4, device.DescriptorTypeString, 0x09, 0x04}, langs); diff != "" {
		t.Errorf("language list mismatch (-want +got):\n%s", diff)
	}

	b, err := host.GetDescriptor(device.DescriptorTypeString, uint8(device.StringProduct), device.LangIDUSEnglish, 255)
	if err != nil {
		t.Fatalf("GetDescriptor(product) error = %v", err)
	}
	got, err := device.ParseString(b)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	if got != "Blue Pill ✓" {
		t.Errorf("product = %q, want %q", got, "Blue Pill ✓")
	}

	if _, err := host.GetDescriptor(device.DescriptorTypeString, uint8(device.StringManufacturer), device.LangIDUSEnglish, 255); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("GetDescriptor(unset manufacturer) error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestClassPollAndEndpointEvents(t *testing.T) {
	h := devicetest.New()
	alloc := device.NewAllocator(h)
	out, err := alloc.Bulk(hal.Out, 64)
	if err != nil {
		t.Fatalf("Bulk(Out) error = %v", err)
	}
	in, err := alloc.Bulk(hal.In, 64)
	if err != nil {
		t.Fatalf("Bulk(In) error = %v", err)
	}
	s, err := device.New(alloc, device.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &eventClass{}
	host := devicetest.NewHost(h, s, rec)
	if err := host.Enumerate(1); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	h.SendOut(out.Address().Number(), []byte("ping"))
	host.Poll()
	if _, err := in.Write([]byte("pong")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := in.Write([]byte("again")); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("second Write() error = %v, want %v", err, pkg.ErrWouldBlock)
	}
	if _, ok := h.TakeIn(in.Address().Number()); !ok {
		t.Fatal("no IN packet queued")
	}
	host.Poll()

	want := []hal.EndpointAddress{out.Address(), in.Address()}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("endpoint events mismatch (-want +got):\n%s", diff)
	}
	if rec.polls == 0 {
		t.Error("class never polled")
	}
}

type eventClass struct {
	device.BaseClass
	events []hal.EndpointAddress
	polls  int
}

func (c *eventClass) EndpointOut(a hal.EndpointAddress)        { c.events = append(c.events, a) }
func (c *eventClass) EndpointInComplete(a hal.EndpointAddress) { c.events = append(c.events, a) }
func (c *eventClass) Poll()                                    { c.polls++ }
