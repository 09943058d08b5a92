// Command f4sim drives the drivers of this module against the simulated
// MCU: canned scenarios, a USB enumeration dump, external flash images and
// a console bridged to a real serial port.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"

	"github.com/ardnew/f4core/board"
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/qspi/w25q"
	"github.com/ardnew/f4core/sim"
)

var (
	rootOpts = struct {
		board    string
		logLevel string
		logJSON  bool
		trace    bool
	}{}

	// cur is the simulated board shared by the commands of one process,
	// so a script can load flash and dump it afterwards.
	cur *session

	rootCmd = &cobra.Command{
		Use:           "f4sim",
		Short:         "Run STM32F4 drivers against the simulator",
		Long:          "f4sim runs the drivers of f4core against a simulated STM32F4 described by a board file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if cur != nil {
				return nil
			}
			s, err := newSession(rootOpts.board, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cur = s
			return nil
		},
	}
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootOpts.board, "board", "b", "", "board description (YAML); the reference board when empty")
	f.StringVar(&rootOpts.logLevel, "log-level", "warn", "driver log level: debug, info, warn or error")
	f.BoolVar(&rootOpts.logJSON, "log-json", false, "log as JSON lines")
	f.BoolVar(&rootOpts.trace, "trace", false, "record every register access in the simulator")
}

func setupLogging(w io.Writer) error {
	level, err := pkg.ParseLevel(rootOpts.logLevel)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	opts := &slog.HandlerOptions{Level: level}
	if rootOpts.logJSON {
		pkg.SetLogger(pkg.NewJSONLogger(w, opts))
	} else {
		pkg.SetLogger(pkg.NewLogger(w, opts))
	}
	return nil
}

// session is one simulated board.
type session struct {
	board *board.Board
	mcu   *chip.MCU
	sim   *sim.Machine
	flash *w25q.Flash
	out   io.Writer
}

func newSession(path string, out io.Writer) (*session, error) {
	b := board.Default()
	if path != "" {
		var err error
		if b, err = board.Open(path); err != nil {
			return nil, err
		}
	}
	opts := []sim.Option{sim.WithHSE(b.HSE())}
	if rootOpts.trace {
		opts = append(opts, sim.WithTrace())
	}
	m, s := sim.NewMCU(opts...)
	pkg.LogInfo(pkg.ComponentCLI, "session", "board", b.Name, "hse", b.HSE())
	return &session{board: b, mcu: m, sim: s, out: out}, nil
}

// fresh returns a new machine for the session's board, for scenarios that
// need the chip out of reset.
func (s *session) fresh() (*chip.MCU, *sim.Machine) {
	return sim.NewMCU(sim.WithHSE(s.board.HSE()))
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func main() {
	rootCmd.SetOut(colorable.NewColorableStdout())
	rootCmd.SetErr(colorable.NewColorableStderr())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "\x1b[31mf4sim: %v\x1b[0m\n", err)
		os.Exit(1)
	}
}
