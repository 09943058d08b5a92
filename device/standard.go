package device

import (
	"github.com/ardnew/f4core/device/hal"
	"github.com/ardnew/f4core/pkg"
)

// standardIn answers standard device-to-host requests.
func (s *Stack) standardIn(x *ControlIn, classes []Class) {
	req := x.req
	if req.Type() != TypeStandard {
		return
	}
	switch req.Recipient() {
	case RecipientDevice:
		switch req.Request {
		case RequestGetStatus:
			var st byte
			if s.cfg.SelfPowered {
				st |= 1 << 0
			}
			if s.wakeup {
				st |= 1 << 1
			}
			_ = x.Accept([]byte{st, 0})
		case RequestGetDescriptor:
			s.getDescriptor(x, classes)
		case RequestGetConfiguration:
			_ = x.Accept([]byte{s.config})
		}
	case RecipientInterface:
		i := uint8(req.Index)
		if s.state != StateConfigured || i >= s.interfaces {
			return
		}
		switch req.Request {
		case RequestGetStatus:
			_ = x.Accept([]byte{0, 0})
		case RequestGetInterface:
			_ = x.Accept([]byte{s.alternates[i]})
		}
	case RecipientEndpoint:
		if req.Request == RequestGetStatus {
			var st byte
			if s.hal.IsStalled(hal.EndpointAddress(req.Index)) {
				st = 1
			}
			_ = x.Accept([]byte{st, 0})
		}
	}
}

func (s *Stack) getDescriptor(x *ControlIn, classes []Class) {
	req := x.req
	switch req.DescriptorType() {
	case DescriptorTypeDevice:
		_ = x.AcceptWith(func(buf []byte) (int, error) { return s.deviceDescriptor(buf), nil })
	case DescriptorTypeConfiguration:
		if req.DescriptorIndex() != 0 {
			return
		}
		b, err := s.ConfigurationDescriptor(classes...)
		if err != nil {
			pkg.LogError(pkg.ComponentStack, "configuration descriptor", "err", err)
			return
		}
		_ = x.Accept(b)
	case DescriptorTypeBOS:
		if s.cfg.USBVersion < 0x0201 {
			return
		}
		b, err := s.BOSDescriptor(classes...)
		if err != nil {
			pkg.LogError(pkg.ComponentStack, "BOS descriptor", "err", err)
			return
		}
		_ = x.Accept(b)
	case DescriptorTypeString:
		if req.DescriptorIndex() == 0 {
			_ = x.AcceptWith(func(buf []byte) (int, error) {
				return LanguageDescriptorTo(buf, LangIDUSEnglish), nil
			})
			return
		}
		v, ok := s.str(req.DescriptorIndex(), req.Index, classes)
		if !ok {
			return
		}
		_ = x.AcceptWith(func(buf []byte) (int, error) {
			n := StringDescriptorTo(buf, v)
			if n == 0 {
				return 0, pkg.ErrBufferTooSmall
			}
			return n, nil
		})
	}
	// A full speed only device has no device qualifier; leaving the
	// request pending stalls it.
}

// standardOut completes standard host-to-device requests.
func (s *Stack) standardOut(x *ControlOut, classes []Class) {
	req := x.req
	if req.Type() != TypeStandard {
		return
	}
	switch req.Recipient() {
	case RecipientDevice:
		switch req.Request {
		case RequestSetAddress:
			addr := uint8(req.Value)
			if req.Value > 127 || req.Index != 0 || s.state == StateConfigured {
				return
			}
			s.newAddress, s.addressSet = addr, false
			if s.hal.SetAddressBeforeStatus() {
				s.hal.SetAddress(addr)
				s.addressSet = true
			}
			x.Accept()
		case RequestSetConfiguration:
			s.setConfiguration(x, classes)
		case RequestSetFeature, RequestClearFeature:
			if req.Value != FeatureDeviceRemoteWakeup || !s.cfg.RemoteWakeup {
				return
			}
			s.wakeup = req.Request == RequestSetFeature
			x.Accept()
		}
	case RecipientInterface:
		i := uint8(req.Index)
		if req.Request != RequestSetInterface || s.state != StateConfigured || i >= s.interfaces {
			return
		}
		// Classes with alternate settings accept SET_INTERFACE themselves.
		if req.Value != 0 {
			return
		}
		s.alternates[i] = 0
		x.Accept()
	case RecipientEndpoint:
		if req.Value != FeatureEndpointHalt {
			return
		}
		ep := hal.EndpointAddress(req.Index)
		switch req.Request {
		case RequestSetFeature:
			if ep.Number() != 0 {
				s.hal.SetStalled(ep, true)
			}
			x.Accept()
		case RequestClearFeature:
			if ep.Number() != 0 {
				s.hal.SetStalled(ep, false)
			}
			x.Accept()
		}
	}
}

func (s *Stack) setConfiguration(x *ControlOut, classes []Class) {
	v := uint8(x.req.Value)
	if s.state != StateAddressed && s.state != StateConfigured {
		return
	}
	switch v {
	case 0:
		s.config = 0
		s.setState(StateAddressed)
	case configurationValue:
		s.config = v
		s.alternates = [MaxInterfaces]uint8{}
		s.setState(StateConfigured)
	default:
		return
	}
	x.Accept()
	for _, c := range classes {
		c.Configured(v)
	}
	pkg.LogInfo(pkg.ComponentStack, "configuration selected", "value", v)
}

// statusComplete finishes a host-to-device request once its status stage
// reached the host.
func (s *Stack) statusComplete(req SetupPacket) {
	if req.Type() != TypeStandard || req.Recipient() != RecipientDevice || req.Request != RequestSetAddress {
		return
	}
	if !s.addressSet {
		s.hal.SetAddress(s.newAddress)
		s.addressSet = true
	}
	s.address = s.newAddress
	if s.address == 0 {
		s.setState(StateDefault)
	} else {
		s.setState(StateAddressed)
	}
	pkg.LogInfo(pkg.ComponentStack, "address assigned", "addr", s.address)
}
