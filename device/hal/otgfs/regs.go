package otgfs

import "github.com/ardnew/f4core/mmio"

// Core global registers.
const (
	regGOTGCTL  = 0x000
	regGAHBCFG  = 0x008
	regGUSBCFG  = 0x00C
	regGRSTCTL  = 0x010
	regGINTSTS  = 0x014
	regGINTMSK  = 0x018
	regGRXSTSP  = 0x020
	regGRXFSIZ  = 0x024
	regDIEPTXF0 = 0x028
	regGCCFG    = 0x038
	regDIEPTXF  = 0x104 // DIEPTXF1, then one word per endpoint
)

// Device mode registers.
const (
	regDCFG       = 0x800
	regDCTL       = 0x804
	regDSTS       = 0x808
	regDIEPMSK    = 0x810
	regDOEPMSK    = 0x814
	regDAINTMSK   = 0x81C
	regDIEPEMPMSK = 0x834
	regDIEP       = 0x900
	regDOEP       = 0xB00
	regPCGCCTL    = 0xE00
	regFIFO       = 0x1000

	epStride = 0x20
	epINT    = 0x08
	epTSIZ   = 0x10
	epTXFSTS = 0x18
)

const (
	gahbcfgGINTMSK = 1 << 0

	gusbcfgPHYSEL = 1 << 6
	gusbcfgFDMOD  = 1 << 30

	grstctlCSRST   = 1 << 0
	grstctlRXFFLSH = 1 << 4
	grstctlTXFFLSH = 1 << 5
	grstctlAHBIDL  = 1 << 31

	// GINTSTS bits are write-1-to-clear where noted.
	gintRXFLVL  = 1 << 4
	gintUSBSUSP = 1 << 11 // w1c
	gintUSBRST  = 1 << 12 // w1c
	gintENUMDNE = 1 << 13 // w1c
	gintIEPINT  = 1 << 18
	gintOEPINT  = 1 << 19
	gintWKUPINT = 1 << 31 // w1c

	gccfgPWRDWN     = 1 << 16
	gccfgNOVBUSSENS = 1 << 21

	dcfgDSPDFull = 3

	dctlRWUSIG = 1 << 0
	dctlSDIS   = 1 << 1

	dstsSUSPSTS = 1 << 0

	ctlUSBAEP = 1 << 15
	ctlNAKSTS = 1 << 17
	ctlSTALL  = 1 << 21
	ctlCNAK   = 1 << 26
	ctlSNAK   = 1 << 27
	ctlSD0PID = 1 << 28
	ctlEPDIS  = 1 << 30
	ctlEPENA  = 1 << 31

	intXFRC = 1 << 0

	tsizSTUPCNT3 = 3 << 29
)

// RX status packet kinds.
const (
	pktOutData   = 2
	pktOutDone   = 3
	pktSetupDone = 4
	pktSetupData = 6
)

var (
	gusbcfgTRDT = mmio.Field[uint32]{Pos: 10, Width: 4}
	dcfgDAD     = mmio.Field[uint32]{Pos: 4, Width: 7}
	dstsENUMSPD = mmio.Field[uint32]{Pos: 1, Width: 2}
	ctlMPSIZ    = mmio.Field[uint32]{Pos: 0, Width: 11}
	ctlEPTYP    = mmio.Field[uint32]{Pos: 18, Width: 2}
	ctlTXFNUM   = mmio.Field[uint32]{Pos: 22, Width: 4}
	tsizPKTCNT  = mmio.Field[uint32]{Pos: 19, Width: 10}
	tsizXFRSIZ  = mmio.Field[uint32]{Pos: 0, Width: 19}
	rxEPNUM     = mmio.Field[uint32]{Pos: 0, Width: 4}
	rxBCNT      = mmio.Field[uint32]{Pos: 4, Width: 11}
	rxPKTSTS    = mmio.Field[uint32]{Pos: 17, Width: 4}
	txfFlush    = mmio.Field[uint32]{Pos: 6, Width: 5}
)
