package raw

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/devicetest"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

func setup(t *testing.T, cfg Config) (*Raw, *devicetest.HAL, *devicetest.Host) {
	t.Helper()
	h := devicetest.New()
	alloc := device.NewAllocator(h)
	r, err := New(alloc, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s, err := device.New(alloc, device.Config{VendorID: device.PlaceholderVID, ProductID: device.PlaceholderPID})
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	host := devicetest.NewHost(h, s, r)
	if err := host.Enumerate(1); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	return r, h, host
}

func TestNew(t *testing.T) {
	if _, err := New(device.NewAllocator(devicetest.New()), Config{MaxPacketSize: 65}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("New(65) error = %v, want %v", err, pkg.ErrOutOfRange)
	}

	h := devicetest.New()
	r, err := New(device.NewAllocator(h), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := []hal.EndpointConfig{
		{Address: r.In().Address(), Type: hal.Interrupt, MaxPacketSize: DefaultMaxPacketSize, Interval: DefaultInterval},
		{Address: r.Out().Address(), Type: hal.Interrupt, MaxPacketSize: DefaultMaxPacketSize, Interval: DefaultInterval},
	}
	if len(h.Endpoints) != 2 || h.Endpoints[0] != want[0] || h.Endpoints[1] != want[1] {
		t.Errorf("Endpoints = %+v, want %+v", h.Endpoints, want)
	}
}

func TestEcho(t *testing.T) {
	r, h, host := setup(t, Config{MaxPacketSize: 32, Name: "raw"})
	out, in := r.Out().Address().Number(), r.In().Address().Number()

	h.SendOut(out, []byte("abc"))
	host.Poll()
	buf := make([]byte, 64)
	n, err := r.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("Read() = %d, %v, want 3, nil", n, err)
	}
	if _, err := r.Write(buf[:n]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := r.Write(buf[:n]); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Write() while busy error = %v, want %v", err, pkg.ErrWouldBlock)
	}
	p, ok := h.TakeIn(in)
	if !ok || string(p) != "abc" {
		t.Errorf("TakeIn() = %q, %v, want %q, true", p, ok, "abc")
	}
	host.Poll()
	if _, err := r.Write([]byte("d")); err != nil {
		t.Errorf("Write() after completion error = %v", err)
	}
}

func TestReceiveBuffer(t *testing.T) {
	r, h, host := setup(t, Config{MaxPacketSize: 32})
	out := r.Out().Address().Number()

	for i := byte(1); i <= 3; i++ {
		h.SendOut(out, bytes.Repeat([]byte{i}, 32))
	}
	host.Poll()
	host.Poll()
	if h.Pending(out) != 1 {
		t.Fatalf("Pending() = %d, want 1 once the buffer is full", h.Pending(out))
	}
	if _, err := r.Read(make([]byte, 10)); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Read(10 bytes) error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	buf := make([]byte, 64)
	if n, err := r.Read(buf); n != 64 || err != nil {
		t.Fatalf("Read() = %d, %v, want 64, nil", n, err)
	}
	if buf[0] != 1 || buf[32] != 2 {
		t.Errorf("Read() = % x..., want packets 1 then 2", buf[:2])
	}
	if h.Pending(out) != 0 {
		t.Errorf("Pending() = %d after Read, want 0", h.Pending(out))
	}
	if n, err := r.Read(buf); n != 32 || err != nil || buf[0] != 3 {
		t.Errorf("Read() = %d, %v, first byte %d, want 32, nil, 3", n, err, buf[0])
	}
	if _, err := r.Read(buf); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Read() on empty buffer error = %v, want %v", err, pkg.ErrWouldBlock)
	}
}

func TestNotConfigured(t *testing.T) {
	r, err := New(device.NewAllocator(devicetest.New()), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.Write([]byte{1}); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Write() error = %v, want %v", err, pkg.ErrNotConfigured)
	}
	if _, err := r.Read(make([]byte, 64)); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Read() error = %v, want %v", err, pkg.ErrNotConfigured)
	}
}
