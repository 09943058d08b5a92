package dma

import (
	"strings"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/irq"
	"github.com/ardnew/f4core/mmio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
)

// Controller register offsets.
const (
	regLISR  = 0x00
	regHISR  = 0x04
	regLIFCR = 0x08
	regHIFCR = 0x0C

	regStream = 0x10
	strideReg = 0x18

	regCR   = 0x00
	regNDTR = 0x04
	regPAR  = 0x08
	regM0AR = 0x0C
	regM1AR = 0x10
	regFCR  = 0x14
)

// Flags are the status flags of one stream, at their positions for
// stream 0.
type Flags uint8

const (
	FlagFE  Flags = 1 << 0 // FIFO error
	FlagDME Flags = 1 << 2 // direct mode error
	FlagTE  Flags = 1 << 3 // transfer error
	FlagHT  Flags = 1 << 4 // half transfer
	FlagTC  Flags = 1 << 5 // transfer complete

	AllFlags = FlagFE | FlagDME | FlagTE | FlagHT | FlagTC
)

var flagNames = [...]struct {
	f Flags
	s string
}{{FlagFE, "FE"}, {FlagDME, "DME"}, {FlagTE, "TE"}, {FlagHT, "HT"}, {FlagTC, "TC"}}

func (f Flags) String() string {
	var s []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			s = append(s, n.s)
		}
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}

// Err returns the error the flags report, or nil.
func (f Flags) Err() error {
	e := pkg.DMAError{
		TransferError:   f&FlagTE != 0,
		FIFOError:       f&FlagFE != 0,
		DirectModeError: f&FlagDME != 0,
	}
	if e.TransferError || e.FIFOError || e.DirectModeError {
		return e
	}
	return nil
}

var flagShift = [4]uint{0, 6, 16, 22}

// Requester is a peripheral that issues DMA requests.
type Requester interface {
	// Request returns the request line.
	Request() chip.DMARequest
	// Addr returns the peripheral data register.
	Addr() uintptr
	// EnableRequest sets or clears the peripheral's request enable.
	EnableRequest(on bool)
}

// Stream is a claimed DMA stream.
type Stream struct {
	m       *chip.MCU
	ctrl, n uint8
	channel uint8
	cfg     Config
	ready   bool
}

func controller(ctrl uint8) chip.Periph {
	if ctrl == 1 {
		return chip.DMA1
	}
	return chip.DMA2
}

// Claim takes stream n (0..7) of controller ctrl (1 or 2) and enables the
// controller's clock.
func Claim(m *chip.MCU, ctrl, n uint8) (*Stream, error) {
	if err := m.ClaimStream(ctrl, n); err != nil {
		return nil, err
	}
	rcc.Enable(m, controller(ctrl))
	s := &Stream{m: m, ctrl: ctrl, n: n}
	if err := s.disable(); err != nil {
		m.ReleaseStream(ctrl, n)
		return nil, err
	}
	return s, nil
}

// ClaimFor takes the first free stream that can serve r. Channel returns
// the channel to program.
func ClaimFor(m *chip.MCU, r chip.DMARequest) (*Stream, error) {
	slots := r.Slots()
	if len(slots) == 0 {
		return nil, pkg.ErrNotSupported
	}
	for _, sl := range slots {
		s, err := Claim(m, sl.Controller, sl.Stream)
		if err != nil {
			continue
		}
		s.channel = sl.Channel
		return s, nil
	}
	return nil, pkg.ErrClaimed
}

func (s *Stream) block() mmio.Block { return s.m.Block(controller(s.ctrl)) }

func (s *Stream) reg(off uintptr) mmio.Register32 {
	return s.block().R32(regStream + uintptr(s.n)*strideReg + off)
}

// Controller returns the controller number, 1 or 2.
func (s *Stream) Controller() uint8 { return s.ctrl }

// Number returns the stream number.
func (s *Stream) Number() uint8 { return s.n }

// Channel returns the channel of the request the stream was claimed for.
func (s *Stream) Channel() uint8 { return s.channel }

// IRQ returns the stream interrupt.
func (s *Stream) IRQ() chip.IRQ { return chip.DMAStreamIRQ(s.ctrl, s.n) }

func (s *Stream) String() string {
	return controller(s.ctrl).String() + " stream " + string(rune('0'+s.n))
}

// Flags returns the stream's status flags.
func (s *Stream) Flags() Flags {
	off := uintptr(regLISR)
	if s.n >= 4 {
		off = regHISR
	}
	return Flags(s.block().R32(off).Get() >> flagShift[s.n%4] & uint32(AllFlags))
}

// Clear clears flags f.
func (s *Stream) Clear(f Flags) {
	off := uintptr(regLIFCR)
	if s.n >= 4 {
		off = regHIFCR
	}
	s.block().R32(off).Set(uint32(f&AllFlags) << flagShift[s.n%4])
}

// HandleIRQ reads and clears the stream's flags, for interrupt handlers.
func (s *Stream) HandleIRQ() Flags {
	f := s.Flags()
	s.Clear(f)
	return f
}

// Enabled reports whether the stream is running.
func (s *Stream) Enabled() bool { return s.reg(regCR).HasBits(crEN) }

// Remaining returns NDTR.
func (s *Stream) Remaining() int { return int(s.reg(regNDTR).Get() & 0xFFFF) }

// Target returns the memory buffer in use in double-buffer mode: 0 for
// Memory, 1 for Memory1.
func (s *Stream) Target() int {
	if s.reg(regCR).HasBits(crCT) {
		return 1
	}
	return 0
}

// disable clears EN and waits for the stream to finish its current beat.
func (s *Stream) disable() error {
	cr := s.reg(regCR)
	cr.ClearBits(crEN)
	for i := 0; i < s.m.Spin; i++ {
		if !cr.HasBits(crEN) {
			return nil
		}
	}
	pkg.LogWarn(pkg.ComponentDMA, "stream did not stop", "stream", s)
	return pkg.ErrBusTimeout
}

// Configure validates c and programs the stream, stopping it first.
// Nothing is written if c is rejected.
func (s *Stream) Configure(c Config) error {
	if err := c.validate(s.ctrl); err != nil {
		pkg.LogDebug(pkg.ComponentDMA, "configuration rejected", "stream", s, "err", err)
		return err
	}
	if err := s.disable(); err != nil {
		return err
	}
	s.Clear(AllFlags)
	s.cfg = c
	s.load()
	s.ready = true
	return nil
}

// load writes the configuration into the disabled stream.
func (s *Stream) load() {
	cr, fcr := s.cfg.registers()
	s.reg(regCR).Set(cr)
	s.reg(regFCR).Set(fcr)
	s.reg(regNDTR).Set(uint32(s.cfg.Count))
	s.reg(regPAR).Set(uint32(s.cfg.Periph))
	s.reg(regM0AR).Set(uint32(s.cfg.Memory))
	s.reg(regM1AR).Set(uint32(s.cfg.Memory1))
}

// Start clears every flag and enables the stream. It reports an error the
// hardware raised on enable.
func (s *Stream) Start() error {
	if !s.ready {
		return pkg.ErrInvalidMode
	}
	s.Clear(AllFlags)
	s.reg(regCR).SetBits(crEN)
	if !s.Enabled() {
		if err := s.Flags().Err(); err != nil {
			pkg.LogWarn(pkg.ComponentDMA, "enable refused", "stream", s, "err", err)
			return err
		}
	}
	pkg.LogDebug(pkg.ComponentDMA, "started", "stream", s, "count", s.cfg.Count, "dir", s.cfg.Direction)
	return nil
}

// Stop disables the stream. A peripheral-paced transfer stops after the
// current beat and raises TC.
func (s *Stream) Stop() error { return s.disable() }

// StartWith starts the stream, then enables the peripheral's request. The
// request must be routed to this stream.
func (s *Stream) StartWith(r Requester) error {
	sl := chip.DMASlot{Controller: s.ctrl, Stream: s.n, Channel: s.cfg.Channel}
	if !r.Request().Serves(sl) {
		return pkg.ErrInvalidMode
	}
	if err := s.Start(); err != nil {
		return err
	}
	r.EnableRequest(true)
	return nil
}

// StopWith disables the peripheral's request, then the stream.
func (s *Stream) StopWith(r Requester) error {
	r.EnableRequest(false)
	return s.Stop()
}

// Restart reloads the stream from its configuration and starts it again,
// repeating a finished one-shot transfer.
func (s *Stream) Restart() error {
	if !s.ready {
		return pkg.ErrInvalidMode
	}
	if err := s.disable(); err != nil {
		return err
	}
	s.Clear(AllFlags)
	s.load()
	return s.Start()
}

// Wait polls until the transfer completes or fails and clears the flags
// it saw. A half-transfer flag is cleared on the way.
func (s *Stream) Wait() error {
	return s.WaitFor(s.m.Spin)
}

// WaitFor is Wait with a poll budget of spin.
func (s *Stream) WaitFor(spin int) error {
	for i := 0; i < spin; i++ {
		f := s.Flags()
		if f == 0 {
			continue
		}
		s.Clear(f)
		if err := f.Err(); err != nil {
			pkg.LogWarn(pkg.ComponentDMA, "transfer failed", "stream", s, "flags", f)
			return err
		}
		if f&FlagTC != 0 {
			return nil
		}
	}
	return pkg.ErrBusTimeout
}

// Listen enables the stream interrupt in the NVIC at prio. The flags that
// raise it come from Config.Interrupts.
func (s *Stream) Listen(prio uint8) error {
	return irq.NewNVIC(s.m).Enable(s.IRQ(), prio)
}

// Release stops the stream and gives up the claim.
func (s *Stream) Release() error {
	err := s.disable()
	s.Clear(AllFlags)
	s.m.ReleaseStream(s.ctrl, s.n)
	return err
}
