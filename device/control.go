package device

import (
	"errors"

	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

type controlState uint8

// Control pipe states. A transfer that ends in a short or full final
// packet goes DataIn → DataInLast; one that ends on a packet boundary
// short of wLength goes through DataInZLP first.
const (
	ctlIdle controlState = iota
	ctlDataIn
	ctlDataInZLP
	ctlDataInLast
	ctlStatusOut
	ctlDataOut
	ctlStatusIn
	ctlError
)

func (c controlState) String() string {
	return [...]string{"Idle", "DataIn", "DataInZLP", "DataInLast", "StatusOut", "DataOut", "StatusIn", "Error"}[c]
}

// controlPipe runs transfers on endpoint 0.
type controlPipe struct {
	stack *Stack
	state controlState
	req   SetupPacket
	i, n  int // bytes moved and bytes in the data stage
}

func (p *controlPipe) mps() int { return int(p.stack.cfg.MaxPacketSize0) }

func (p *controlPipe) setup(classes []Class) {
	s := p.stack
	var raw [SetupPacketSize]byte
	n, err := s.hal.Read(hal.EP0Out, raw[:])
	if err != nil {
		if !errors.Is(err, pkg.ErrWouldBlock) {
			pkg.LogWarn(pkg.ComponentStack, "SETUP read", "err", err)
		}
		return
	}
	req, err := ParseSetupPacket(raw[:n])
	if err != nil {
		p.stall()
		return
	}
	p.req, p.i, p.n = req, 0, 0
	pkg.LogDebug(pkg.ComponentStack, "setup", "req", req)

	switch {
	case req.IsIn():
		x := ControlIn{req: req, buf: s.buf[:]}
		for _, c := range classes {
			if c.ControlIn(&x); x.res != pending {
				break
			}
		}
		if x.res == pending {
			s.standardIn(&x, classes)
		}
		if x.res != accepted {
			p.stall()
			return
		}
		p.n = x.n
		p.state = ctlDataIn
		p.sendNext()
	case req.Length == 0:
		p.dispatchOut(classes, nil)
	case int(req.Length) > len(s.buf):
		p.stall()
	default:
		p.n = int(req.Length)
		p.state = ctlDataOut
	}
}

// sendNext writes the next data stage packet.
func (p *controlPipe) sendNext() {
	chunk := p.n - p.i
	if chunk > p.mps() {
		chunk = p.mps()
	}
	if !p.write(p.stack.buf[p.i : p.i+chunk]) {
		return
	}
	p.i += chunk
	switch {
	case p.i < p.n:
		p.state = ctlDataIn
	case chunk == p.mps() && p.n < int(p.req.Length):
		p.state = ctlDataInZLP
	default:
		p.state = ctlDataInLast
	}
}

func (p *controlPipe) write(b []byte) bool {
	if _, err := p.stack.hal.Write(hal.EP0In, b); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "control IN write", "err", err, "state", p.state)
		p.stall()
		return false
	}
	return true
}

func (p *controlPipe) inComplete() {
	switch p.state {
	case ctlDataIn:
		p.sendNext()
	case ctlDataInZLP:
		if p.write(nil) {
			p.state = ctlDataInLast
		}
	case ctlDataInLast:
		p.state = ctlStatusOut
	case ctlStatusIn:
		p.state = ctlIdle
		p.stack.statusComplete(p.req)
	}
}

func (p *controlPipe) out(classes []Class) {
	s := p.stack
	switch p.state {
	case ctlDataOut:
		n, err := s.hal.Read(hal.EP0Out, s.buf[p.i:])
		if err != nil {
			p.stall()
			return
		}
		p.i += n
		if p.i > p.n {
			p.stall()
			return
		}
		if p.i == p.n || n < p.mps() {
			p.dispatchOut(classes, s.buf[:p.i])
		}
	default:
		var discard [64]byte
		n, err := s.hal.Read(hal.EP0Out, discard[:])
		if err != nil {
			return
		}
		switch p.state {
		case ctlStatusOut, ctlDataIn, ctlDataInZLP, ctlDataInLast:
			// a status packet, possibly ending the data stage early
			if n != 0 {
				pkg.LogDebug(pkg.ComponentStack, "status stage carried data", "len", n)
			}
			p.state = ctlIdle
		}
	}
}

// dispatchOut offers a complete OUT request to the classes, then to the
// standard handler, and answers with a status packet or a stall.
func (p *controlPipe) dispatchOut(classes []Class, data []byte) {
	s := p.stack
	x := ControlOut{req: p.req, data: data}
	for _, c := range classes {
		if c.ControlOut(&x); x.res != pending {
			break
		}
	}
	if x.res == pending {
		s.standardOut(&x, classes)
	}
	if x.res != accepted {
		p.stall()
		return
	}
	if p.write(nil) {
		p.state = ctlStatusIn
	}
}

// stall answers the current transfer with STALL in both directions. The
// controller clears it on the next SETUP packet.
func (p *controlPipe) stall() {
	pkg.LogDebug(pkg.ComponentStack, "control stall", "req", p.req)
	p.stack.hal.SetStalled(hal.EP0In, true)
	p.stack.hal.SetStalled(hal.EP0Out, true)
	p.state = ctlError
}
