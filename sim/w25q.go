package sim

import (
	"fmt"
	"io"
	"time"

	"github.com/marcinbor85/gohex"
)

// W25Q status bits.
const (
	w25BUSY = 1 << 0
	w25WEL  = 1 << 1
	w25QE   = 1 << 9 // SR2 bit 1
)

// W25Q models a Winbond W25Q-series serial NOR flash on the QUADSPI lines.
type W25Q struct {
	m       *Machine
	mem     []byte
	jedec   [3]byte
	devID   byte
	sr      uint32 // SR1 | SR2<<8 | SR3<<16
	vsr     bool   // volatile status write enabled by 0x50
	resetEn bool

	// ProgramTime and EraseTime are the BUSY durations of a page program
	// and a sector erase.
	ProgramTime time.Duration
	EraseTime   time.Duration

	x       qspiXfer
	valid   bool
	addr    uint32
	page    []byte
	busyEnd *event
	log     []byte
}

// NewW25Q32 returns a blank 4 MiB W25Q32JV.
func NewW25Q32() *W25Q {
	f := &W25Q{
		mem:         make([]byte, 4<<20),
		jedec:       [3]byte{0xEF, 0x40, 0x16},
		devID:       0x15,
		ProgramTime: 400 * time.Microsecond,
		EraseTime:   45 * time.Millisecond,
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

// Size returns the array size in bytes.
func (f *W25Q) Size() int { return len(f.mem) }

// Bytes returns n bytes of the array at addr.
func (f *W25Q) Bytes(addr, n int) []byte { return append([]byte(nil), f.mem[addr:addr+n]...) }

// Load copies p into the array at addr, bypassing program semantics.
func (f *W25Q) Load(addr int, p []byte) { copy(f.mem[addr:], p) }

// LoadHex copies the data records of an Intel HEX image into the array.
func (f *W25Q) LoadHex(r io.Reader) (int, error) {
	img := gohex.NewMemory()
	if err := img.ParseIntelHex(r); err != nil {
		return 0, err
	}
	n := 0
	for _, seg := range img.GetDataSegments() {
		if int(seg.Address)+len(seg.Data) > len(f.mem) {
			return n, fmt.Errorf("hex segment %#x+%d beyond %d byte flash", seg.Address, len(seg.Data), len(f.mem))
		}
		copy(f.mem[seg.Address:], seg.Data)
		n += len(seg.Data)
	}
	return n, nil
}

// Status returns SR1..SR3 packed as SR1 | SR2<<8 | SR3<<16.
func (f *W25Q) Status() uint32 { return f.sr }

// Commands returns every instruction byte received.
func (f *W25Q) Commands() []byte { return append([]byte(nil), f.log...) }

func (f *W25Q) quad() bool { return f.sr&w25QE != 0 }

// expect reports whether the transfer phases match what instruction inst
// needs: address width and lines, alternate bytes, dummy cycles, data
// lines.
func (f *W25Q) expect(addrLines, altLines uint8, dummy int, dataLines uint8) bool {
	x := f.x
	if addrLines != 0 && (x.admode != addrLines || x.addrBytes != 3) {
		return false
	}
	if addrLines == 0 && x.admode != 0 {
		return false
	}
	if altLines != 0 && (x.abmode != altLines || x.altBytes != 1) {
		return false
	}
	if x.dummy != dummy {
		return false
	}
	if dataLines != 0 && x.dmode != 0 && x.dmode != dataLines {
		return false
	}
	return true
}

// begin latches a command. Unknown or malformed commands leave the part
// idle and the data lines floating high.
func (f *W25Q) begin(x qspiXfer) {
	f.x = x
	f.valid = false
	f.page = f.page[:0]
	if x.imode == 0 {
		return
	}
	if x.imode != 1 {
		return // QPI mode is not entered
	}
	f.log = append(f.log, x.inst)
	busy := f.sr&w25BUSY != 0
	if x.inst != 0x05 && x.inst != 0x35 && x.inst != 0x15 && busy && x.inst != 0x66 && x.inst != 0x99 {
		return
	}
	if x.inst != 0x99 {
		f.resetEn = x.inst == 0x66
	}
	f.addr = x.addr
	switch x.inst {
	case 0x9F, 0x05, 0x35, 0x15:
		f.valid = f.expect(0, 0, 0, 1)
	case 0x90:
		f.valid = f.expect(1, 0, 0, 1)
	case 0x03:
		f.valid = f.expect(1, 0, 0, 1)
	case 0x0B:
		f.valid = f.expect(1, 0, 8, 1)
	case 0x6B:
		f.valid = f.quad() && f.expect(1, 0, 8, 4)
	case 0xEB:
		f.valid = f.quad() && f.expect(4, 4, 4, 4)
	case 0x06:
		f.sr |= w25WEL
	case 0x04:
		f.sr &^= w25WEL
	case 0x50:
		f.vsr = true
	case 0x01, 0x31, 0x11:
		f.valid = (f.sr&w25WEL != 0 || f.vsr) && f.expect(0, 0, 0, 1)
	case 0x02:
		f.valid = f.sr&w25WEL != 0 && f.expect(1, 0, 0, 1)
	case 0x32:
		f.valid = f.sr&w25WEL != 0 && f.quad() && f.expect(1, 0, 0, 4)
	case 0x20, 0xD8, 0x52:
		if f.sr&w25WEL != 0 && f.expect(1, 0, 0, 0) {
			f.erase(x.inst)
		}
	case 0x99:
		if f.resetEn {
			f.resetEn = false
			f.m.cancel(f.busyEnd)
			f.sr &^= w25BUSY | w25WEL
			f.vsr = false
		}
	}
}

func (f *W25Q) read() byte {
	if !f.valid {
		return 0xFF
	}
	var b byte
	switch f.x.inst {
	case 0x9F:
		b = f.jedec[f.addr%3]
		f.addr++
	case 0x90:
		if f.addr&1 == 0 {
			b = f.jedec[0]
		} else {
			b = f.devID
		}
		f.addr++
	case 0x05:
		b = byte(f.sr)
	case 0x35:
		b = byte(f.sr >> 8)
	case 0x15:
		b = byte(f.sr >> 16)
	default:
		b = f.mem[f.addr%uint32(len(f.mem))]
		f.addr++
	}
	return b
}

func (f *W25Q) write(b byte) {
	if !f.valid {
		return
	}
	switch f.x.inst {
	case 0x01:
		// SR1 then optionally SR2
		if len(f.page) == 0 {
			f.sr = f.sr&^0xFC | uint32(b)&0xFC
		} else if len(f.page) == 1 {
			f.sr = f.sr&^0xFF00 | uint32(b)<<8
		}
		f.page = append(f.page, b)
	case 0x31:
		f.sr = f.sr&^0xFF00 | uint32(b)<<8
	case 0x11:
		f.sr = f.sr&^0xFF0000 | uint32(b)<<16
	case 0x02, 0x32:
		f.page = append(f.page, b)
	}
}

// end deselects the part; writes take effect and BUSY starts.
func (f *W25Q) end() {
	if !f.valid {
		return
	}
	switch f.x.inst {
	case 0x01, 0x31, 0x11:
		f.vsr = false
		f.sr &^= w25WEL
	case 0x02, 0x32:
		base := f.x.addr &^ 0xFF
		off := f.x.addr & 0xFF
		for _, b := range f.page {
			a := (base + off) % uint32(len(f.mem))
			f.mem[a] &= b
			off = (off + 1) & 0xFF
		}
		f.busy(f.ProgramTime)
	}
	f.valid = false
}

func (f *W25Q) erase(inst byte) {
	size := uint32(4 << 10)
	d := f.EraseTime
	switch inst {
	case 0x52:
		size = 32 << 10
		d *= 3
	case 0xD8:
		size = 64 << 10
		d *= 4
	}
	base := f.x.addr &^ (size - 1) % uint32(len(f.mem))
	for i := base; i < base+size; i++ {
		f.mem[i] = 0xFF
	}
	f.busy(d)
}

func (f *W25Q) busy(d time.Duration) {
	f.sr |= w25BUSY
	if f.m == nil {
		f.sr &^= w25BUSY | w25WEL
		return
	}
	f.m.cancel(f.busyEnd)
	f.busyEnd = f.m.schedule(ps(d), func() {
		f.busyEnd = nil
		f.sr &^= w25BUSY | w25WEL
	})
}

// Flash returns the QUADSPI flash part.
func (m *Machine) Flash() *W25Q { return m.flashPart }
