package cdc

import (
	"errors"
	"fmt"

	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// DefaultBufferSize is the size of each direction's buffer when Config
// leaves it zero.
const DefaultBufferSize = 256

const (
	serialStateSize = 10
	maxPacketSize   = 64
)

// Config describes a CDC-ACM function.
type Config struct {
	Name          string // interface string, omitted when empty
	MaxPacketSize uint16 // bulk packet size, default 64
	BufferSize    int    // receive and transmit buffer sizes
}

// ACM implements a CDC-ACM (Abstract Control Model) class driver.
// It provides USB serial port functionality.
//
// Read and Write never block. Received packets are taken from the OUT
// endpoint only while the receive buffer has room for a whole packet, so
// a slow reader makes the host wait instead of losing data.
type ACM struct {
	device.BaseClass

	comm, data device.InterfaceNumber
	name       device.StringIndex
	label      string

	notify, in, out device.Endpoint

	lineCoding   LineCoding
	controlState uint16

	onLineCodingChange   func(LineCoding)
	onControlStateChange func(dtr, rts bool)
	onBreak              func(millis uint16)

	rx, tx     ring
	inBusy     bool
	zlp        bool
	configured bool
	pkt        [maxPacketSize]byte
}

// New allocates the interfaces and endpoints of a CDC-ACM function.
func New(alloc *device.Allocator, cfg Config) (*ACM, error) {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 64
	}
	if cfg.MaxPacketSize > maxPacketSize {
		return nil, fmt.Errorf("cdc: packet size %d: %w", cfg.MaxPacketSize, pkg.ErrOutOfRange)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize < int(cfg.MaxPacketSize) {
		return nil, fmt.Errorf("cdc: buffer of %d bytes: %w", cfg.BufferSize, pkg.ErrBufferTooSmall)
	}

	a := &ACM{
		label:      cfg.Name,
		lineCoding: DefaultLineCoding,
		rx:         newRing(cfg.BufferSize),
		tx:         newRing(cfg.BufferSize),
	}
	var err error
	if a.comm, err = alloc.Interface(); err != nil {
		return nil, err
	}
	if a.data, err = alloc.Interface(); err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		if a.name, err = alloc.String(); err != nil {
			return nil, err
		}
	}
	if a.notify, err = alloc.Interrupt(hal.In, 16, 255); err != nil {
		return nil, err
	}
	if a.out, err = alloc.Bulk(hal.Out, cfg.MaxPacketSize); err != nil {
		return nil, err
	}
	if a.in, err = alloc.Bulk(hal.In, cfg.MaxPacketSize); err != nil {
		return nil, err
	}
	return a, nil
}

// SetOnLineCodingChange sets the callback for line coding changes.
func (a *ACM) SetOnLineCodingChange(cb func(LineCoding)) { a.onLineCodingChange = cb }

// SetOnControlStateChange sets the callback for control line state changes.
func (a *ACM) SetOnControlStateChange(cb func(dtr, rts bool)) { a.onControlStateChange = cb }

// SetOnBreak sets the callback for break signaling.
func (a *ACM) SetOnBreak(cb func(millis uint16)) { a.onBreak = cb }

// LineCoding returns the coding last set by the host.
func (a *ACM) LineCoding() LineCoding { return a.lineCoding }

// DTR reports whether the host asserts Data Terminal Ready.
func (a *ACM) DTR() bool { return a.controlState&ControlLineDTR != 0 }

// RTS reports whether the host asserts Request To Send.
func (a *ACM) RTS() bool { return a.controlState&ControlLineRTS != 0 }

// IsConfigured reports whether the host has selected the configuration.
func (a *ACM) IsConfigured() bool { return a.configured }

// Buffered returns the number of received bytes waiting to be read.
func (a *ACM) Buffered() int { return a.rx.len() }

// ConfigurationDescriptors writes the IAD, the communications interface
// with its functional descriptors, and the data interface.
func (a *ACM) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	steps := []func() error{
		func() error { return w.IAD(a.comm, 2, ClassCDC, SubclassACM, ProtocolNone, a.name) },
		func() error { return w.InterfaceAlt(a.comm, 0, ClassCDC, SubclassACM, ProtocolNone, a.name) },
		func() error {
			return w.Write(DescriptorTypeCSInterface, SubtypeHeader, byte(CDCVersion&0xFF), byte(CDCVersion>>8))
		},
		func() error {
			return w.Write(DescriptorTypeCSInterface, SubtypeCallManagement, 0, uint8(a.data))
		},
		func() error { return w.Write(DescriptorTypeCSInterface, SubtypeACM, ACMCapLineCoding|ACMCapSendBreak) },
		func() error { return w.Write(DescriptorTypeCSInterface, SubtypeUnion, uint8(a.comm), uint8(a.data)) },
		func() error { return w.Endpoint(a.notify) },
		func() error { return w.Interface(a.data, ClassCDCData, SubclassNone, ProtocolNone) },
		func() error { return w.Endpoint(a.out) },
		func() error { return w.Endpoint(a.in) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("cdc: descriptors: %w", err)
		}
	}
	return nil
}

// String returns the interface name.
func (a *ACM) String(index device.StringIndex, _ uint16) (string, bool) {
	if a.name == 0 || index != a.name {
		return "", false
	}
	return a.label, true
}

func (a *ACM) mine(req device.SetupPacket) bool {
	return req.Type() == device.TypeClass &&
		req.Recipient() == device.RecipientInterface &&
		uint8(req.Index) == uint8(a.comm)
}

// ControlIn answers GET_LINE_CODING.
func (a *ACM) ControlIn(x *device.ControlIn) {
	req := x.Request()
	if !a.mine(req) {
		return
	}
	switch req.Request {
	case RequestGetLineCoding:
		err := x.AcceptWith(func(buf []byte) (int, error) {
			if n := a.lineCoding.MarshalTo(buf); n > 0 {
				return n, nil
			}
			return 0, pkg.ErrBufferTooSmall
		})
		if err != nil {
			pkg.LogWarn(pkg.ComponentClass, "cdc: get line coding", "error", err)
		}
	default:
		x.Reject()
	}
}

// ControlOut handles SET_LINE_CODING, SET_CONTROL_LINE_STATE and SEND_BREAK.
func (a *ACM) ControlOut(x *device.ControlOut) {
	req := x.Request()
	if !a.mine(req) {
		return
	}
	switch req.Request {
	case RequestSetLineCoding:
		lc, err := ParseLineCoding(x.Data())
		if err != nil {
			pkg.LogWarn(pkg.ComponentClass, "cdc: set line coding", "error", err)
			x.Reject()
			return
		}
		a.lineCoding = lc
		pkg.LogDebug(pkg.ComponentClass, "cdc: line coding", "coding", lc)
		if a.onLineCodingChange != nil {
			a.onLineCodingChange(lc)
		}
		x.Accept()
	case RequestSetControlLineState:
		a.controlState = req.Value & (ControlLineDTR | ControlLineRTS)
		if a.onControlStateChange != nil {
			a.onControlStateChange(a.DTR(), a.RTS())
		}
		x.Accept()
	case RequestSendBreak:
		if a.onBreak != nil {
			a.onBreak(req.Value)
		}
		x.Accept()
	default:
		x.Reject()
	}
}

// Configured tracks SET_CONFIGURATION.
func (a *ACM) Configured(value uint8) {
	a.configured = value != 0
	if !a.configured {
		a.clear()
	}
}

// Reset drops buffered data and returns the line state to defaults.
func (a *ACM) Reset() {
	a.configured = false
	a.lineCoding = DefaultLineCoding
	a.controlState = 0
	a.clear()
}

func (a *ACM) clear() {
	a.rx.reset()
	a.tx.reset()
	a.inBusy, a.zlp = false, false
}

// EndpointOut takes received packets while there is room for them.
func (a *ACM) EndpointOut(addr hal.EndpointAddress) {
	if addr == a.out.Address() {
		a.receive()
	}
}

// EndpointInComplete sends the next packet of buffered data.
func (a *ACM) EndpointInComplete(addr hal.EndpointAddress) {
	if addr == a.in.Address() {
		a.inBusy = false
		a.flush()
	}
}

// Poll moves data between the buffers and the endpoints.
func (a *ACM) Poll() {
	if !a.configured {
		return
	}
	a.receive()
	a.flush()
}

func (a *ACM) receive() {
	if !a.configured {
		return
	}
	for a.rx.free() >= int(a.out.MaxPacketSize()) {
		n, err := a.out.Read(a.pkt[:])
		if err != nil {
			if !errors.Is(err, pkg.ErrWouldBlock) {
				pkg.LogWarn(pkg.ComponentClass, "cdc: receive", "error", err)
			}
			return
		}
		a.rx.write(a.pkt[:n])
	}
}

// flush queues one packet when the IN endpoint is idle. A transfer that
// ends on a full packet is terminated with a zero-length packet.
func (a *ACM) flush() {
	if !a.configured || a.inBusy {
		return
	}
	if a.tx.len() == 0 && !a.zlp {
		return
	}
	mps := int(a.in.MaxPacketSize())
	n := a.tx.peek(a.pkt[:mps])
	if _, err := a.in.Write(a.pkt[:n]); err != nil {
		if !errors.Is(err, pkg.ErrWouldBlock) {
			pkg.LogWarn(pkg.ComponentClass, "cdc: transmit", "error", err)
		}
		return
	}
	a.tx.discard(n)
	a.inBusy = true
	a.zlp = n == mps && a.tx.len() == 0
}

// Read copies received data into p. It fails with ErrWouldBlock when
// nothing has been received.
func (a *ACM) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if a.rx.len() == 0 {
		if !a.configured {
			return 0, pkg.ErrNotConfigured
		}
		return 0, pkg.ErrWouldBlock
	}
	n := a.rx.read(p)
	a.receive()
	return n, nil
}

// Write buffers p for transmission and returns how much fit. It fails
// with ErrWouldBlock when the buffer is full.
func (a *ACM) Write(p []byte) (int, error) {
	if !a.configured {
		return 0, pkg.ErrNotConfigured
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := a.tx.write(p)
	if n == 0 {
		return 0, pkg.ErrWouldBlock
	}
	a.flush()
	return n, nil
}

// SendSerialState sends a SERIAL_STATE notification with the given
// SerialState bits on the notification endpoint.
func (a *ACM) SendSerialState(state uint16) error {
	if !a.configured {
		return pkg.ErrNotConfigured
	}
	msg := [serialStateSize]byte{
		0xA1, NotificationSerialState,
		0, 0,
		uint8(a.comm), 0,
		2, 0,
		byte(state), byte(state >> 8),
	}
	_, err := a.notify.Write(msg[:])
	return err
}

// ring is a fixed-capacity byte queue.
type ring struct {
	buf        []byte
	head, size int
}

func newRing(n int) ring { return ring{buf: make([]byte, n)} }

func (r *ring) len() int  { return r.size }
func (r *ring) free() int { return len(r.buf) - r.size }
func (r *ring) reset()    { r.head, r.size = 0, 0 }

func (r *ring) write(p []byte) int {
	n := min(len(p), r.free())
	for i := 0; i < n; i++ {
		r.buf[(r.head+r.size+i)%len(r.buf)] = p[i]
	}
	r.size += n
	return n
}

func (r *ring) peek(p []byte) int {
	n := min(len(p), r.size)
	for i := 0; i < n; i++ {
		p[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return n
}

func (r *ring) discard(n int) {
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}

func (r *ring) read(p []byte) int {
	n := r.peek(p)
	r.discard(n)
	return n
}
