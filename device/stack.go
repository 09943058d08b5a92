package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// Config describes the device as the host sees it.
type Config struct {
	VendorID      uint16
	ProductID     uint16
	DeviceVersion uint16 // bcdDevice

	// USBVersion is bcdUSB. Zero selects 0x0210 so hosts fetch the BOS.
	USBVersion uint16

	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8

	// Composite marks a device whose functions are grouped by interface
	// association descriptors. It overrides the class triple with
	// EF/02/01.
	Composite bool

	// MaxPacketSize0 is the control endpoint packet size, 8 to 64. Zero
	// selects 64.
	MaxPacketSize0 uint8

	Manufacturer string
	Product      string
	SerialNumber string

	SelfPowered  bool
	RemoteWakeup bool

	// MaxPower is the bus current drawn when configured, in mA. Zero
	// selects 100 mA.
	MaxPower uint16
}

// configurationValue is the value of the single configuration.
const configurationValue = 1

func (c *Config) defaults() error {
	if c.USBVersion == 0 {
		c.USBVersion = 0x0210
	}
	switch c.MaxPacketSize0 {
	case 0:
		c.MaxPacketSize0 = 64
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("device: control packet size %d: %w", c.MaxPacketSize0, pkg.ErrOutOfRange)
	}
	if c.MaxPower == 0 {
		c.MaxPower = 100
	}
	if c.MaxPower > 500 {
		return fmt.Errorf("device: max power %d mA: %w", c.MaxPower, pkg.ErrOutOfRange)
	}
	if c.Composite {
		c.DeviceClass, c.DeviceSubClass, c.DeviceProtocol = ClassMisc, 0x02, 0x01
	}
	return nil
}

// Stack is a USB device: it owns the controller through the HAL, tracks
// the device state and runs the control endpoint. All work happens in
// Poll, which the application calls from its main loop or from the USB
// interrupt handler.
type Stack struct {
	hal hal.DeviceHAL
	cfg Config

	state       State
	resumeState State
	address     uint8
	newAddress  uint8
	addressSet  bool
	config      uint8
	wakeup      bool
	wakeupOn    bool
	alternates  [MaxInterfaces]uint8
	interfaces  uint8

	ctl  controlPipe
	buf  [MaxControlDataSize]byte
	desc [MaxDescriptorSize]byte
}

// New freezes alloc and attaches the device to the bus. The classes passed
// to Poll must be the ones built from alloc.
func New(alloc *Allocator, cfg Config) (*Stack, error) {
	if err := alloc.usable(); err != nil {
		return nil, err
	}
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	for _, d := range []hal.Direction{hal.Out, hal.In} {
		c := hal.EndpointConfig{Address: hal.Address(0, d), Type: hal.Control, MaxPacketSize: uint16(cfg.MaxPacketSize0)}
		if _, err := alloc.hal.AllocEndpoint(c); err != nil {
			return nil, err
		}
	}
	alloc.frozen = true
	s := &Stack{hal: alloc.hal, cfg: cfg, interfaces: alloc.interfaces}
	s.ctl.stack = s
	if err := s.hal.Enable(); err != nil {
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentStack, "device attached",
		"vid", fmt.Sprintf("%04x", cfg.VendorID), "pid", fmt.Sprintf("%04x", cfg.ProductID),
		"interfaces", alloc.interfaces)
	return s, nil
}

// State returns the device state.
func (s *Stack) State() State { return s.state }

// Address returns the assigned device address.
func (s *Stack) Address() uint8 { return s.address }

// Configuration returns the selected configuration value, or 0.
func (s *Stack) Configuration() uint8 { return s.config }

// Configured reports whether the host selected the configuration.
func (s *Stack) Configured() bool { return s.state == StateConfigured }

// RemoteWakeupEnabled reports whether the host armed remote wakeup.
func (s *Stack) RemoteWakeupEnabled() bool { return s.wakeup }

// Config returns the device configuration with defaults applied.
func (s *Stack) Config() Config { return s.cfg }

// RemoteWakeup starts (on) or ends resume signalling. Signalling must last
// 1 to 15 ms and is allowed only while suspended with remote wakeup armed
// by the host.
func (s *Stack) RemoteWakeup(on bool) error {
	if on && (s.state != StateSuspended || !s.wakeup) {
		return fmt.Errorf("device: remote wakeup in state %v: %w", s.state, pkg.ErrInvalidState)
	}
	s.wakeupOn = on
	s.hal.RemoteWakeup(on)
	return nil
}

func (s *Stack) setState(st State) {
	if s.state != st {
		pkg.LogDebug(pkg.ComponentStack, "state", "from", s.state, "to", st)
		s.state = st
	}
}

// Poll services the controller once. It reports whether anything
// happened on the bus.
func (s *Stack) Poll(classes ...Class) bool {
	r := s.hal.Poll()
	switch {
	case r.Reset:
		s.reset(classes)
		return true
	case r.Resume:
		if s.wakeupOn {
			s.wakeupOn = false
			s.hal.RemoteWakeup(false)
		}
		if s.state == StateSuspended {
			s.setState(s.resumeState)
		}
		s.hal.Resume()
		return true
	case r.Suspend:
		if s.state != StateSuspended {
			s.resumeState = s.state
			s.setState(StateSuspended)
			s.hal.Suspend()
		}
		return true
	}

	if r.InComplete&1 != 0 {
		s.ctl.inComplete()
	}
	if r.Out&1 != 0 {
		s.ctl.out(classes)
	}
	if r.Setup&1 != 0 {
		s.ctl.setup(classes)
	}
	for n := uint8(1); n < 16; n++ {
		bit := uint16(1) << n
		if (r.Setup|r.Out|r.InComplete)&bit == 0 {
			continue
		}
		for _, c := range classes {
			if r.Setup&bit != 0 {
				c.EndpointSetup(hal.Address(n, hal.Out))
			}
			if r.Out&bit != 0 {
				c.EndpointOut(hal.Address(n, hal.Out))
			}
			if r.InComplete&bit != 0 {
				c.EndpointInComplete(hal.Address(n, hal.In))
			}
		}
	}
	for _, c := range classes {
		c.Poll()
	}
	return r.Data()
}

func (s *Stack) reset(classes []Class) {
	s.hal.Reset()
	s.address, s.addressSet, s.config = 0, false, 0
	s.wakeup, s.wakeupOn = false, false
	s.alternates = [MaxInterfaces]uint8{}
	s.ctl.state = ctlIdle
	s.setState(StateDefault)
	for _, c := range classes {
		c.Reset()
	}
}

// deviceDescriptor writes the device descriptor into buf.
func (s *Stack) deviceDescriptor(buf []byte) int {
	d := DeviceDescriptor{
		USBVersion:        s.cfg.USBVersion,
		DeviceClass:       s.cfg.DeviceClass,
		DeviceSubClass:    s.cfg.DeviceSubClass,
		DeviceProtocol:    s.cfg.DeviceProtocol,
		MaxPacketSize0:    s.cfg.MaxPacketSize0,
		VendorID:          s.cfg.VendorID,
		ProductID:         s.cfg.ProductID,
		DeviceVersion:     s.cfg.DeviceVersion,
		NumConfigurations: 1,
	}
	if s.cfg.Manufacturer != "" {
		d.ManufacturerIndex = uint8(StringManufacturer)
	}
	if s.cfg.Product != "" {
		d.ProductIndex = uint8(StringProduct)
	}
	if s.cfg.SerialNumber != "" {
		d.SerialNumberIndex = uint8(StringSerialNumber)
	}
	return d.MarshalTo(buf)
}

// ConfigurationDescriptor assembles the full configuration descriptor
// from classes. The result aliases an internal buffer.
func (s *Stack) ConfigurationDescriptor(classes ...Class) ([]byte, error) {
	w := newDescriptorWriter(s.desc[:])
	attr := uint8(ConfigAttrBusPowered)
	if s.cfg.SelfPowered {
		attr |= ConfigAttrSelfPowered
	}
	if s.cfg.RemoteWakeup {
		attr |= ConfigAttrRemoteWakeup
	}
	if err := w.Write(DescriptorTypeConfiguration, 0, 0, 0, configurationValue, 0, attr, uint8(s.cfg.MaxPower/2)); err != nil {
		return nil, err
	}
	for _, c := range classes {
		if err := c.ConfigurationDescriptors(w); err != nil {
			return nil, err
		}
	}
	b := w.Bytes()
	binary.LittleEndian.PutUint16(b[2:], uint16(len(b)))
	b[4] = w.interfaces
	return b, nil
}

// BOSDescriptor assembles the BOS descriptor: a USB 2.0 Extension
// capability followed by the classes' capabilities.
func (s *Stack) BOSDescriptor(classes ...Class) ([]byte, error) {
	s.desc[0], s.desc[1] = BOSDescriptorSize, DescriptorTypeBOS
	w := newBOSWriter(s.desc[:])
	w.n = BOSDescriptorSize
	if err := w.Capability(CapabilityUSB20Extension, 0, 0, 0, 0); err != nil {
		return nil, err
	}
	for _, c := range classes {
		if err := c.BOSDescriptors(w); err != nil {
			return nil, err
		}
	}
	b := w.Bytes()
	binary.LittleEndian.PutUint16(b[2:], uint16(len(b)))
	b[4] = w.caps
	return b, nil
}

// str returns string index i, asking the classes for indices they own.
func (s *Stack) str(i uint8, lang uint16, classes []Class) (string, bool) {
	switch StringIndex(i) {
	case StringManufacturer:
		return s.cfg.Manufacturer, s.cfg.Manufacturer != ""
	case StringProduct:
		return s.cfg.Product, s.cfg.Product != ""
	case StringSerialNumber:
		return s.cfg.SerialNumber, s.cfg.SerialNumber != ""
	}
	for _, c := range classes {
		if v, ok := c.String(StringIndex(i), lang); ok {
			return v, true
		}
	}
	return "", false
}
