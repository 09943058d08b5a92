// Package w25q drives Winbond W25Q-series serial NOR flash on QUADSPI.
//
// Reads use the fast read quad I/O command (0xEB) and programs the quad
// page program (0x32); both need the QE bit, which [Flash] sets on first
// use. Erase and program wait for BUSY to clear with the controller's
// automatic status polling.
package w25q

import (
	"fmt"

	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/qspi"
)

// Instructions.
const (
	cmdWriteEnable      = 0x06
	cmdVolatileSREnable = 0x50
	cmdReadSR1          = 0x05
	cmdReadSR2          = 0x35
	cmdReadSR3          = 0x15
	cmdWriteSR2         = 0x31
	cmdJEDECID          = 0x9F
	cmdManufacturerID   = 0x90
	cmdSectorErase      = 0x20
	cmdBlockErase       = 0xD8
	cmdQuadPageProgram  = 0x32
	cmdFastReadQuadIO   = 0xEB
	cmdEnableReset      = 0x66
	cmdReset            = 0x99
)

// Status bits.
const (
	sr1BUSY = 1 << 0
	sr2QE   = 1 << 1
)

// Geometry.
const (
	PageSize   = 256
	SectorSize = 4 << 10
	BlockSize  = 64 << 10

	// Manufacturer is the JEDEC manufacturer ID of Winbond.
	Manufacturer = 0xEF
)

// DefaultSpin bounds the status polling of erase and program operations.
const DefaultSpin = 1 << 24

// Flash is a W25Q part behind an indirect QUADSPI controller.
type Flash struct {
	q    *qspi.Indirect
	size uint32
	quad bool

	// Spin bounds each wait for BUSY to clear, in status register reads
	// of the controller.
	Spin int
}

func instruction(i byte) qspi.Command {
	return qspi.Command{Instruction: i, InstructionLines: qspi.Single}
}

func addressed(i byte, addr uint32) qspi.Command {
	c := instruction(i)
	c.Address, c.AddressLines, c.AddressSize = addr, qspi.Single, 3
	return c
}

// Open resets the part, identifies it by JEDEC ID and checks that its
// capacity fits the controller's flash size.
func Open(q *qspi.Indirect) (*Flash, error) {
	f := &Flash{q: q, Spin: DefaultSpin}
	if err := f.Reset(); err != nil {
		return nil, err
	}
	id, err := f.JEDECID()
	if err != nil {
		return nil, err
	}
	if id[0] != Manufacturer || id[2] < 16 || id[2] > 24 {
		return nil, fmt.Errorf("w25q: unexpected JEDEC ID % X: %w", id[:], pkg.ErrNotSupported)
	}
	f.size = 1 << id[2]
	if uint64(f.size) > q.Config().FlashSize {
		return nil, fmt.Errorf("w25q: %d byte part behind %d byte controller: %w",
			f.size, q.Config().FlashSize, pkg.ErrOutOfRange)
	}
	pkg.LogInfo(pkg.ComponentFlash, "identified", "jedec", fmt.Sprintf("% X", id[:]), "size", f.size)
	return f, nil
}

// Size returns the array size in bytes.
func (f *Flash) Size() int { return int(f.size) }

// Reset sends enable-reset then reset.
func (f *Flash) Reset() error {
	if err := f.q.Command(instruction(cmdEnableReset)); err != nil {
		return err
	}
	f.quad = false
	return f.q.Command(instruction(cmdReset))
}

// JEDECID reads the manufacturer, memory type and capacity bytes.
func (f *Flash) JEDECID() ([3]byte, error) {
	var id [3]byte
	c := instruction(cmdJEDECID)
	c.DataLines = qspi.Single
	err := f.q.Read(c, id[:])
	return id, err
}

// ManufacturerDeviceID reads the legacy two-byte identification.
func (f *Flash) ManufacturerDeviceID() (mfr, dev byte, err error) {
	c := addressed(cmdManufacturerID, 0)
	c.DataLines = qspi.Single
	var b [2]byte
	err = f.q.Read(c, b[:])
	return b[0], b[1], err
}

// ReadStatus reads status register n (1, 2 or 3).
func (f *Flash) ReadStatus(n int) (byte, error) {
	var i byte
	switch n {
	case 1:
		i = cmdReadSR1
	case 2:
		i = cmdReadSR2
	case 3:
		i = cmdReadSR3
	default:
		return 0, pkg.ErrOutOfRange
	}
	c := instruction(i)
	c.DataLines = qspi.Single
	var b [1]byte
	err := f.q.Read(c, b[:])
	return b[0], err
}

// WriteEnable sets the write enable latch.
func (f *Flash) WriteEnable() error { return f.q.Command(instruction(cmdWriteEnable)) }

// EnableQuad sets QE in status register 2 through a volatile status
// write, enabling the IO2 and IO3 pins.
func (f *Flash) EnableQuad() error {
	sr2, err := f.ReadStatus(2)
	if err != nil {
		return err
	}
	if sr2&sr2QE == 0 {
		if err := f.q.Command(instruction(cmdVolatileSREnable)); err != nil {
			return err
		}
		c := instruction(cmdWriteSR2)
		c.DataLines = qspi.Single
		if err := f.q.Write(c, []byte{sr2 | sr2QE}); err != nil {
			return err
		}
		if sr2, err = f.ReadStatus(2); err != nil {
			return err
		}
		if sr2&sr2QE == 0 {
			return fmt.Errorf("w25q: QE did not set: %w", pkg.ErrInvalidMode)
		}
	}
	f.quad = true
	pkg.LogDebug(pkg.ComponentFlash, "quad enabled")
	return nil
}

func (f *Flash) needQuad() error {
	if f.quad {
		return nil
	}
	return f.EnableQuad()
}

// WaitReady lets the controller poll status register 1 until BUSY clears.
func (f *Flash) WaitReady() error {
	c := instruction(cmdReadSR1)
	c.DataLines = qspi.Single
	_, err := f.q.Poll(c, sr1BUSY, 0, 16, f.Spin)
	return err
}

func (f *Flash) check(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(f.size) {
		return pkg.ErrOutOfRange
	}
	return nil
}

func (f *Flash) erase(i byte, addr, size uint32) error {
	if addr%size != 0 {
		return pkg.ErrUnaligned
	}
	if err := f.check(addr, int(size)); err != nil {
		return err
	}
	if err := f.WriteEnable(); err != nil {
		return err
	}
	if err := f.q.Command(addressed(i, addr)); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentFlash, "erase", "addr", addr, "size", size)
	return f.WaitReady()
}

// EraseSector erases the 4 KiB sector at addr.
func (f *Flash) EraseSector(addr uint32) error { return f.erase(cmdSectorErase, addr, SectorSize) }

// EraseBlock erases the 64 KiB block at addr.
func (f *Flash) EraseBlock(addr uint32) error { return f.erase(cmdBlockErase, addr, BlockSize) }

// Program writes p at addr with quad page programs, splitting at page
// boundaries. The range must be erased; programming only clears bits.
func (f *Flash) Program(addr uint32, p []byte) error {
	if err := f.check(addr, len(p)); err != nil {
		return err
	}
	if err := f.needQuad(); err != nil {
		return err
	}
	for len(p) > 0 {
		n := PageSize - int(addr%PageSize)
		if n > len(p) {
			n = len(p)
		}
		if err := f.WriteEnable(); err != nil {
			return err
		}
		c := addressed(cmdQuadPageProgram, addr)
		c.DataLines = qspi.Quad
		if err := f.q.Write(c, p[:n]); err != nil {
			return err
		}
		if err := f.WaitReady(); err != nil {
			return err
		}
		addr += uint32(n)
		p = p[n:]
	}
	return nil
}

// readCommand is the fast read quad I/O command at addr: quad address,
// mode byte 0xFF, four dummy cycles, quad data.
func readCommand(addr uint32) qspi.Command {
	return qspi.Command{
		Instruction:      cmdFastReadQuadIO,
		InstructionLines: qspi.Single,
		Address:          addr,
		AddressLines:     qspi.Quad,
		AddressSize:      3,
		Alternate:        0xFF,
		AlternateLines:   qspi.Quad,
		AlternateSize:    1,
		DummyCycles:      4,
		DataLines:        qspi.Quad,
	}
}

// Read fills p from addr.
func (f *Flash) Read(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := f.check(addr, len(p)); err != nil {
		return err
	}
	if err := f.needQuad(); err != nil {
		return err
	}
	return f.q.Read(readCommand(addr), p)
}

// ReadAt implements io.ReaderAt.
func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(f.size) {
		return 0, pkg.ErrOutOfRange
	}
	if err := f.Read(uint32(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// MemoryMap switches the controller to memory-mapped mode with the quad
// read command. The Flash is unusable until the controller is returned
// with qspi.MemoryMapped.Indirect and passed to Open again.
func (f *Flash) MemoryMap() (*qspi.MemoryMapped, error) {
	if err := f.needQuad(); err != nil {
		return nil, err
	}
	return f.q.MemoryMapped(readCommand(0))
}
