package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/f4core/pkg"
)

// DescriptorTypeCSInterface tags class-specific interface descriptors.
const DescriptorTypeCSInterface = 0x24

// Functional descriptor subtypes.
const (
	SubtypeHeader         = 0x00
	SubtypeCallManagement = 0x01
	SubtypeACM            = 0x02
	SubtypeUnion          = 0x06
)

// Interface codes of the two ACM interfaces.
const (
	ClassCDC     = 0x02
	ClassCDCData = 0x0A
	SubclassNone = 0x00
	SubclassACM  = 0x02
	ProtocolNone = 0x00
)

// ACM class requests. SET_COMM_FEATURE is recognised only to be stalled.
const (
	RequestSetCommFeature      = 0x02
	RequestSetLineCoding       = 0x20
	RequestGetLineCoding       = 0x21
	RequestSetControlLineState = 0x22
	RequestSendBreak           = 0x23
)

// NotificationSerialState reports UART state bits on the interrupt
// endpoint.
const NotificationSerialState = 0x20

// LineCoding is the host's view of the virtual UART frame.
type LineCoding struct {
	DTERate    uint32
	CharFormat uint8 // StopBits*
	ParityType uint8 // Parity*
	DataBits   uint8
}

// LineCodingSize is the wire size of LineCoding.
const LineCodingSize = 7

const (
	StopBits1 = iota
	StopBits1_5
	StopBits2
)

const (
	ParityNone = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// SET_CONTROL_LINE_STATE bits.
const (
	ControlLineDTR = 1 << iota
	ControlLineRTS
)

// SERIAL_STATE bits for SendSerialState.
const (
	SerialStateRxCarrier = 1 << iota
	SerialStateTxCarrier
	SerialStateBreak
	SerialStateRingSignal
	SerialStateFraming
	SerialStateParity
	SerialStateOverrun
)

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the GET_LINE_CODING reply to buf and returns its
// length, or 0 when buf is short.
func (lc LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf, lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding decodes a SET_LINE_CODING data stage.
func ParseLineCoding(data []byte) (LineCoding, error) {
	if len(data) < LineCodingSize {
		return LineCoding{}, fmt.Errorf("line coding of %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
	}
	return LineCoding{
		DTERate:    binary.LittleEndian.Uint32(data),
		CharFormat: data[4],
		ParityType: data[5],
		DataBits:   data[6],
	}, nil
}

// String formats the coding as rate and frame, such as 115200 8N1.
func (lc LineCoding) String() string {
	parity := "?"
	if int(lc.ParityType) < len("NOEMS") {
		parity = "NOEMS"[lc.ParityType : lc.ParityType+1]
	}
	stop := "1"
	switch lc.CharFormat {
	case StopBits1_5:
		stop = "1.5"
	case StopBits2:
		stop = "2"
	}
	return fmt.Sprintf("%d %d%s%s", lc.DTERate, lc.DataBits, parity, stop)
}

// ACM capabilities advertised in the functional descriptor.
const (
	ACMCapLineCoding = 1 << 1
	ACMCapSendBreak  = 1 << 2
)

// CDCVersion is the class release number the functional header carries.
const CDCVersion = 0x0110
