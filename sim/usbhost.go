package sim

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/pkg"
)

// Standard request codes and descriptor types used by the host.
const (
	reqGetDescriptor    = 0x06
	reqSetAddress       = 0x05
	reqSetConfiguration = 0x09

	descDevice = 0x01
	descConfig = 0x02
	descString = 0x03
	descBOS    = 0x0F
)

// USBHost drives the host side of the OTG FS bus: reset signalling, token
// transactions and control transfers. A transaction that is NAKed is
// retried until Timeout elapses, advancing the machine between attempts.
type USBHost struct {
	m   *Machine
	otg *otgModel

	addr uint8
	mps0 int

	// Timeout bounds the NAK retries of one transaction.
	Timeout time.Duration

	// Service runs before every retry, in place of interrupt-driven device
	// firmware.
	Service func()
}

// Enumeration is what the host learned from a device.
type Enumeration struct {
	Address       uint8
	MaxPacket0    int
	Device        []byte
	Configuration []byte
	BOS           []byte
	Strings       map[uint8]string
}

// VendorID returns idVendor from the device descriptor.
func (e *Enumeration) VendorID() uint16 { return le16(e.Device[8:]) }

// ProductID returns idProduct from the device descriptor.
func (e *Enumeration) ProductID() uint16 { return le16(e.Device[10:]) }

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

// USBHost returns the host attached to the OTG FS port.
func (m *Machine) USBHost() *USBHost { return m.host }

// RemoteWakeups returns how many times the device signalled resume while
// suspended.
func (h *USBHost) RemoteWakeups() int { return h.otg.wakeups }

// Attached reports whether the device presents its pull-up.
func (h *USBHost) Attached() bool { return h.otg.pulledUp() }

// Address returns the address the host uses for the device.
func (h *USBHost) Address() uint8 { return h.addr }

func (h *USBHost) timeout() time.Duration {
	if h.Timeout == 0 {
		return 50 * time.Millisecond
	}
	return h.Timeout
}

// Reset signals a 10 ms bus reset and returns the device to address 0.
func (h *USBHost) Reset() error {
	if !h.Attached() {
		return fmt.Errorf("usb host: no device attached: %w", pkg.ErrNoDevice)
	}
	if f := h.m.rcc.pll48(); f < 47880*physic.KiloHertz || f > 48120*physic.KiloHertz {
		return fmt.Errorf("usb host: device clock %v outside 48 MHz tolerance: %w", f, pkg.ErrProtocol)
	}
	h.otg.enumerated = false
	h.m.Advance(10 * time.Millisecond)
	h.otg.busReset()
	h.addr, h.mps0 = 0, 64
	h.service()
	h.m.Advance(time.Millisecond)
	return nil
}

// Suspend stops bus activity long enough for the device to suspend.
func (h *USBHost) Suspend() {
	h.m.Advance(3 * time.Millisecond)
	h.otg.suspend()
	h.service()
	h.m.Advance(time.Millisecond)
}

// Resume signals resume to a suspended device.
func (h *USBHost) Resume() {
	h.otg.resume()
	h.service()
	h.m.Advance(20 * time.Millisecond)
}

func (h *USBHost) service() {
	if h.Service != nil {
		h.Service()
	}
}

// packetTime is the bus time of a transaction carrying n data bytes.
func packetTime(n int) time.Duration {
	return time.Duration(n+16) * 8 * time.Second / 12_000_000
}

func (h *USBHost) transact(n int, fn func() error) error {
	deadline := h.m.now + ps(h.timeout())
	for {
		if !h.otg.responds(h.addr) {
			return fmt.Errorf("usb host: no handshake from address %d: %w", h.addr, pkg.ErrTimeout)
		}
		err := fn()
		if !errors.Is(err, pkg.ErrNAK) {
			h.m.Advance(packetTime(n))
			return err
		}
		if h.m.now >= deadline {
			return fmt.Errorf("usb host: NAKed for %v: %w", h.timeout(), pkg.ErrTimeout)
		}
		h.service()
		h.m.Advance(10 * time.Microsecond)
	}
}

// Setup sends a SETUP transaction to endpoint 0.
func (h *USBHost) Setup(p [8]byte) error {
	return h.transact(8, func() error {
		h.otg.setup(p)
		return nil
	})
}

// In reads one packet from IN endpoint ep.
func (h *USBHost) In(ep uint8) ([]byte, error) {
	if ep >= otgEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	var p []byte
	err := h.transact(64, func() (err error) {
		p, err = h.otg.inData(int(ep))
		return err
	})
	return p, err
}

// Out writes one packet to OUT endpoint ep.
func (h *USBHost) Out(ep uint8, p []byte) error {
	if ep >= otgEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	return h.transact(len(p), func() error { return h.otg.outData(int(ep), p) })
}

// Control runs a control transfer. For device-to-host requests it returns
// the data stage, which ends on a short packet or wLength bytes.
func (h *USBHost) Control(reqType, req uint8, value, index uint16, data []byte, length uint16) ([]byte, error) {
	p := [8]byte{reqType, req, byte(value), byte(value >> 8), byte(index), byte(index >> 8)}
	if reqType&0x80 == 0 {
		length = uint16(len(data))
	}
	p[6], p[7] = byte(length), byte(length>>8)
	if err := h.Setup(p); err != nil {
		return nil, err
	}
	if reqType&0x80 != 0 {
		var got []byte
		for len(got) < int(length) {
			pkt, err := h.In(0)
			if err != nil {
				return got, err
			}
			got = append(got, pkt...)
			if len(pkt) < h.mps0 {
				break
			}
		}
		return got, h.Out(0, nil)
	}
	for off := 0; off < len(data); off += h.mps0 {
		end := off + h.mps0
		if end > len(data) {
			end = len(data)
		}
		if err := h.Out(0, data[off:end]); err != nil {
			return nil, err
		}
	}
	zlp, err := h.In(0)
	if err == nil && len(zlp) != 0 {
		err = fmt.Errorf("usb host: %d byte status stage: %w", len(zlp), pkg.ErrProtocol)
	}
	return nil, err
}

// Descriptor reads a standard descriptor.
func (h *USBHost) Descriptor(typ, index uint8, lang uint16, length uint16) ([]byte, error) {
	return h.Control(0x80, reqGetDescriptor, uint16(typ)<<8|uint16(index), lang, nil, length)
}

// String reads string descriptor index in US English.
func (h *USBHost) String(index uint8) (string, error) {
	b, err := h.Descriptor(descString, index, 0x0409, 255)
	if err != nil {
		return "", err
	}
	if len(b) < 2 || b[1] != descString {
		return "", pkg.ErrDescriptorTypeMismatch
	}
	var r []rune
	for i := 2; i+1 < len(b) && i+1 < int(b[0]); i += 2 {
		r = append(r, rune(le16(b[i:])))
	}
	return string(r), nil
}

// SetAddress assigns addr and switches the host to it.
func (h *USBHost) SetAddress(addr uint8) error {
	if _, err := h.Control(0x00, reqSetAddress, uint16(addr), 0, nil, 0); err != nil {
		return err
	}
	h.addr = addr
	h.m.Advance(2 * time.Millisecond)
	return nil
}

// SetConfiguration selects configuration value.
func (h *USBHost) SetConfiguration(value uint8) error {
	_, err := h.Control(0x00, reqSetConfiguration, uint16(value), 0, nil, 0)
	return err
}

// Enumerate resets the bus and walks the device the way an operating system
// does: device descriptor, address, configuration, BOS, strings, and finally
// SET_CONFIGURATION with the first configuration.
func (h *USBHost) Enumerate(addr uint8) (*Enumeration, error) {
	if err := h.Reset(); err != nil {
		return nil, err
	}
	head, err := h.Descriptor(descDevice, 0, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("usb host: device descriptor: %w", err)
	}
	if len(head) < 8 {
		return nil, pkg.ErrDescriptorTooShort
	}
	h.mps0 = int(head[7])
	if err := h.Reset(); err != nil {
		return nil, err
	}
	h.mps0 = int(head[7])
	if err := h.SetAddress(addr); err != nil {
		return nil, fmt.Errorf("usb host: set address: %w", err)
	}
	e := &Enumeration{Address: addr, MaxPacket0: h.mps0, Strings: map[uint8]string{}}
	if e.Device, err = h.Descriptor(descDevice, 0, 0, 18); err != nil {
		return nil, err
	}
	if len(e.Device) < 18 {
		return nil, pkg.ErrDescriptorTooShort
	}
	cfg, err := h.Descriptor(descConfig, 0, 0, 9)
	if err != nil {
		return nil, err
	}
	if len(cfg) < 9 {
		return nil, pkg.ErrDescriptorTooShort
	}
	if e.Configuration, err = h.Descriptor(descConfig, 0, 0, le16(cfg[2:])); err != nil {
		return nil, err
	}
	if le16(e.Device[2:]) >= 0x0201 {
		bos, err := h.Descriptor(descBOS, 0, 0, 5)
		if err != nil {
			return nil, fmt.Errorf("usb host: BOS: %w", err)
		}
		if len(bos) >= 5 {
			if e.BOS, err = h.Descriptor(descBOS, 0, 0, le16(bos[2:])); err != nil {
				return nil, err
			}
		}
	}
	for _, i := range []uint8{e.Device[14], e.Device[15], e.Device[16]} {
		if i == 0 {
			continue
		}
		s, err := h.String(i)
		if err != nil {
			return nil, fmt.Errorf("usb host: string %d: %w", i, err)
		}
		e.Strings[i] = s
	}
	if err := h.SetConfiguration(cfg[5]); err != nil {
		return nil, fmt.Errorf("usb host: set configuration: %w", err)
	}
	pkg.LogInfo(pkg.ComponentSim, "USB device enumerated", "vid", e.VendorID(), "pid", e.ProductID(), "addr", addr)
	return e, nil
}
