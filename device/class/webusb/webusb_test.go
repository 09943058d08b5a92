package webusb

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/devicetest"
	"github.com/ardnew/f4core/pkg"
)

func TestNew(t *testing.T) {
	tests := []struct {
		url     string
		want    []byte
		wantErr bool
	}{
		{url: "https://example.com", want: append([]byte{14, DescriptorTypeURL, SchemeHTTPS}, "example.com"...)},
		{url: "http://a.b/c", want: append([]byte{8, DescriptorTypeURL, SchemeHTTP}, "a.b/c"...)},
		{url: "file.local", want: append([]byte{13, DescriptorTypeURL, SchemeOther}, "file.local"...)},
		{url: "https://", wantErr: true},
		{url: "", wantErr: true},
		{url: "https://" + strings.Repeat("x", 253), wantErr: true},
	}
	for _, tt := range tests {
		w, err := New(Config{URL: tt.url})
		if tt.wantErr {
			if !errors.Is(err, pkg.ErrOutOfRange) {
				t.Errorf("New(%q) error = %v, want %v", tt.url, err, pkg.ErrOutOfRange)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q) error = %v", tt.url, err)
			continue
		}
		if !bytes.Equal(w.URLDescriptor(), tt.want) {
			t.Errorf("New(%q).URLDescriptor() = % x, want % x", tt.url, w.URLDescriptor(), tt.want)
		}
		if w.VendorCode() != DefaultVendorCode {
			t.Errorf("VendorCode() = %#x, want %#x", w.VendorCode(), DefaultVendorCode)
		}
	}
}

func TestGetURL(t *testing.T) {
	w, err := New(Config{VendorCode: 0x33, URL: "https://example.com/app"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h := devicetest.New()
	s, err := device.New(device.NewAllocator(h), device.Config{VendorID: device.PlaceholderVID, ProductID: device.PlaceholderPID})
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	host := devicetest.NewHost(h, s, w)
	if err := host.Enumerate(2); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	bos, err := host.GetDescriptor(device.DescriptorTypeBOS, 0, 0, 255)
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR(BOS) error = %v", err)
	}
	uuid := PlatformUUID
	i := bytes.Index(bos, uuid[:])
	if i < 0 {
		t.Fatalf("BOS % x lacks the WebUSB capability", bos)
	}
	if got, want := bos[i+16:i+20], []byte{0x00, 0x01, 0x33, LandingPage}; !bytes.Equal(got, want) {
		t.Errorf("capability data = % x, want % x", got, want)
	}

	tests := []struct {
		name  string
		value uint16
		index uint16
		want  []byte
		err   error
	}{
		{"landing page", LandingPage, IndexGetURL, w.URLDescriptor(), nil},
		{"other url", 2, IndexGetURL, nil, pkg.ErrStall},
		{"other index", LandingPage, 1, nil, pkg.ErrStall},
	}
	for _, tt := range tests {
		got, err := host.ControlIn(device.SetupPacket{
			RequestType: 0xC0,
			Request:     0x33,
			Value:       tt.value,
			Index:       tt.index,
			Length:      255,
		})
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("%s: error = %v, want %v", tt.name, err, tt.err)
			}
			continue
		}
		if err != nil || !bytes.Equal(got, tt.want) {
			t.Errorf("%s: = % x, %v, want % x, nil", tt.name, got, err, tt.want)
		}
	}
}
