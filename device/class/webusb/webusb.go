// Package webusb advertises a WebUSB landing page: a platform capability
// in the BOS and the URL descriptor behind a vendor request.
package webusb

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/pkg"
)

// PlatformUUID identifies the WebUSB platform capability.
var PlatformUUID = device.MustParseUUID("3408B638-09A9-47A0-8BFD-A0768815B665")

const (
	// Version is the bcdVersion of the capability.
	Version = 0x0100

	// DefaultVendorCode is the bRequest of WebUSB requests when a Config
	// leaves it zero.
	DefaultVendorCode = 0x30

	// IndexGetURL is the wIndex of the GET_URL request.
	IndexGetURL = 2

	// DescriptorTypeURL is the type of a URL descriptor.
	DescriptorTypeURL = 3

	// LandingPage is the URL index of the landing page.
	LandingPage = 1

	maxURL = 255 - 3
)

// URL schemes.
const (
	SchemeHTTP  = 0x00
	SchemeHTTPS = 0x01
	SchemeOther = 0xFF
)

// Config describes the landing page.
type Config struct {
	VendorCode uint8  // default DefaultVendorCode
	URL        string // such as https://example.com/app
}

// WebUSB is a class with no interfaces that answers GET_URL.
type WebUSB struct {
	device.BaseClass

	code uint8
	desc []byte
}

// New encodes the landing page URL descriptor.
func New(cfg Config) (*WebUSB, error) {
	if cfg.VendorCode == 0 {
		cfg.VendorCode = DefaultVendorCode
	}
	scheme, rest := SchemeOther, cfg.URL
	switch {
	case strings.HasPrefix(rest, "https://"):
		scheme, rest = SchemeHTTPS, rest[len("https://"):]
	case strings.HasPrefix(rest, "http://"):
		scheme, rest = SchemeHTTP, rest[len("http://"):]
	}
	if rest == "" || len(rest) > maxURL {
		return nil, fmt.Errorf("webusb: landing page %q: %w", cfg.URL, pkg.ErrOutOfRange)
	}
	desc := make([]byte, 0, 3+len(rest))
	desc = append(desc, byte(3+len(rest)), DescriptorTypeURL, byte(scheme))
	desc = append(desc, rest...)
	return &WebUSB{code: cfg.VendorCode, desc: desc}, nil
}

// VendorCode returns the bRequest of WebUSB requests.
func (w *WebUSB) VendorCode() uint8 { return w.code }

// URLDescriptor returns the encoded landing page.
func (w *WebUSB) URLDescriptor() []byte { return w.desc }

// BOSDescriptors writes the platform capability.
func (w *WebUSB) BOSDescriptors(bw *device.BOSWriter) error {
	var b [4]byte
	binary.LittleEndian.PutUint16(b[0:], Version)
	b[2] = w.code
	b[3] = LandingPage
	return bw.Platform(PlatformUUID, b[:]...)
}

// ControlIn answers GET_URL for the landing page and rejects other URL
// indices.
func (w *WebUSB) ControlIn(x *device.ControlIn) {
	req := x.Request()
	if req.Type() != device.TypeVendor || req.Request != w.code || req.Index != IndexGetURL {
		return
	}
	if req.Value != LandingPage {
		pkg.LogDebug(pkg.ComponentClass, "webusb: unknown url", "index", req.Value)
		x.Reject()
		return
	}
	if err := x.Accept(w.desc); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "webusb: get url", "error", err)
	}
}
