package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/ardnew/f4core/crc"
	"github.com/ardnew/f4core/qspi"
	"github.com/ardnew/f4core/qspi/w25q"
)

var (
	flashOpts = struct {
		addr   uint32
		length int
		out    string
	}{length: 256}

	flashCmd = &cobra.Command{
		Use:   "flash",
		Short: "Work with the external QUADSPI flash",
	}

	flashIDCmd = &cobra.Command{
		Use:   "id",
		Short: "Identify the flash part",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := cur.openFlash()
			if err != nil {
				return err
			}
			id, err := f.JEDECID()
			if err != nil {
				return err
			}
			cur.printf("%s: JEDEC ID % X, %d bytes\n", cur.board.FlashPart, id[:], f.Size())
			return nil
		},
	}

	flashLoadCmd = &cobra.Command{
		Use:   "load FILE",
		Short: "Preload the flash array from an Intel HEX or binary image",
		Long: `Copy an image straight into the simulated flash array, the way a
programmer would before the MCU starts. Files ending in .hex are Intel HEX;
anything else is raw binary placed at --addr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			part := cur.sim.Flash()
			if isHex(args[0]) {
				fd, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer fd.Close()
				n, err := part.LoadHex(fd)
				if err != nil {
					return err
				}
				cur.printf("loaded %d bytes from %s\n", n, args[0])
				return nil
			}
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if int(flashOpts.addr)+len(b) > part.Size() {
				return fmt.Errorf("%s: %d bytes at %#x exceed the %d byte part", args[0], len(b), flashOpts.addr, part.Size())
			}
			part.Load(int(flashOpts.addr), b)
			cur.printf("loaded %d bytes at %#x\n", len(b), flashOpts.addr)
			return nil
		},
	}

	flashWriteCmd = &cobra.Command{
		Use:   "write FILE",
		Short: "Erase and program an image through the QUADSPI driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := cur.openFlash()
			if err != nil {
				return err
			}
			segs, err := readImage(args[0], flashOpts.addr)
			if err != nil {
				return err
			}
			for _, s := range segs {
				if err := program(f, s.Address, s.Data); err != nil {
					return fmt.Errorf("segment %#x: %w", s.Address, err)
				}
				cur.printf("programmed %d bytes at %#x, CRC %#08x\n", len(s.Data), s.Address, crc.Checksum(s.Data))
			}
			return nil
		},
	}

	flashDumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Read flash through the QUADSPI driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := cur.openFlash()
			if err != nil {
				return err
			}
			b := make([]byte, flashOpts.length)
			if _, err := f.ReadAt(b, int64(flashOpts.addr)); err != nil {
				return err
			}
			if flashOpts.out != "" {
				return os.WriteFile(flashOpts.out, b, 0o644)
			}
			xxd.Print(int(flashOpts.addr), b)
			cur.printf("CRC %#08x\n", crc.Checksum(b))
			return nil
		},
	}
)

func init() {
	flashLoadCmd.Flags().Uint32VarP(&flashOpts.addr, "addr", "a", 0, "address of a binary image")
	flashWriteCmd.Flags().Uint32VarP(&flashOpts.addr, "addr", "a", 0, "address of a binary image")
	flashDumpCmd.Flags().Uint32VarP(&flashOpts.addr, "addr", "a", 0, "first address")
	flashDumpCmd.Flags().IntVarP(&flashOpts.length, "len", "n", flashOpts.length, "bytes to read")
	flashDumpCmd.Flags().StringVarP(&flashOpts.out, "out", "o", "", "write the bytes to a file instead of a hex dump")
	flashCmd.AddCommand(flashIDCmd, flashLoadCmd, flashWriteCmd, flashDumpCmd)
	rootCmd.AddCommand(flashCmd)
}

func isHex(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".hex" || ext == ".ihex"
}

// openFlash opens the session's flash through QUADSPI once.
func (s *session) openFlash() (*w25q.Flash, error) {
	if s.flash != nil {
		return s.flash, nil
	}
	q, err := qspi.New(s.mcu, qspi.Config{Prescaler: 1, FlashSize: uint64(s.board.FlashSize), FIFOThreshold: 4})
	if err != nil {
		return nil, err
	}
	f, err := w25q.Open(q)
	if err != nil {
		q.Release()
		return nil, err
	}
	s.flash = f
	return f, nil
}

// readImage returns the data segments of an Intel HEX file, or a binary
// file as one segment at addr.
func readImage(path string, addr uint32) ([]gohex.DataSegment, error) {
	if !isHex(path) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []gohex.DataSegment{{Address: addr, Data: b}}, nil
	}
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	img := gohex.NewMemory()
	if err := img.ParseIntelHex(fd); err != nil {
		return nil, err
	}
	return img.GetDataSegments(), nil
}

// program erases the sectors under [addr, addr+len(p)) and programs p.
// Bytes of those sectors outside the range are preserved.
func program(f *w25q.Flash, addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	first := addr &^ (w25q.SectorSize - 1)
	end := (addr + uint32(len(p)) + w25q.SectorSize - 1) &^ (w25q.SectorSize - 1)
	if int(end) > f.Size() {
		return fmt.Errorf("%d bytes at %#x exceed the %d byte part", len(p), addr, f.Size())
	}
	old := make([]byte, end-first)
	if err := f.Read(first, old); err != nil {
		return err
	}
	copy(old[addr-first:], p)
	for a := first; a < end; a += w25q.SectorSize {
		if err := f.EraseSector(a); err != nil {
			return err
		}
	}
	return f.Program(first, old)
}
