package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/usart"
)

var (
	uartOpts = struct {
		port     string
		baud     int
		list     bool
		duration time.Duration
	}{baud: 115200}

	uartCmd = &cobra.Command{
		Use:   "uart",
		Short: "Bridge the console USART to a serial port",
		Long: `Run an echo console on the board's console USART and connect its
pins to a host serial port: bytes from the port are received by the USART
and everything the USART transmits goes back out of the port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uartOpts.list {
				ports, err := serial.GetPortsList()
				if err != nil {
					return err
				}
				for _, p := range ports {
					cur.printf("%s\n", p)
				}
				return nil
			}
			if uartOpts.port == "" {
				return fmt.Errorf("uart: no --port given: %w", pkg.ErrInvalidState)
			}
			port, err := serial.Open(uartOpts.port, &serial.Mode{BaudRate: uartOpts.baud})
			if err != nil {
				return err
			}
			defer port.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if uartOpts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, uartOpts.duration)
				defer cancel()
			}
			return bridge(ctx, cur, port)
		},
	}
)

func init() {
	f := uartCmd.Flags()
	f.StringVarP(&uartOpts.port, "port", "p", "", "serial port to bridge")
	f.IntVar(&uartOpts.baud, "baud", uartOpts.baud, "serial port baud rate")
	f.BoolVarP(&uartOpts.list, "list", "l", false, "list serial ports and exit")
	f.DurationVar(&uartOpts.duration, "for", 0, "stop after this long, zero runs until interrupted")
	rootCmd.AddCommand(uartCmd)
}

// echo is the console firmware: it returns every received byte and
// answers a carriage return with a prompt. Line faults drop the byte.
func echo(u *usart.UART) error {
	for u.Buffered() {
		b, err := u.ReadByte()
		if errors.Is(err, pkg.ErrUART) {
			continue
		}
		if err != nil {
			return err
		}
		if err := u.WriteByte(b); err != nil {
			return err
		}
		if b == '\r' {
			if _, err := u.Write([]byte("\nf4> ")); err != nil {
				return err
			}
		}
	}
	return nil
}

// bridge runs the simulator in step with the wall clock, feeding bytes
// from port into the console USART and forwarding its output.
func bridge(ctx context.Context, s *session, port io.ReadWriter) error {
	if _, err := s.board.Configure(s.mcu); err != nil {
		return err
	}
	u, err := s.board.OpenConsole(s.mcu)
	if err != nil {
		return err
	}
	defer u.Release()

	model := s.sim.USART(s.board.Console)
	var werr error
	model.OnTransmit(func(b byte) {
		if _, err := port.Write([]byte{b}); err != nil && werr == nil {
			werr = err
		}
	})

	rx := make(chan []byte, 16)
	go func() {
		defer close(rx)
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				select {
				case rx <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil || ctx.Err() != nil {
				return
			}
		}
	}()

	pkg.LogInfo(pkg.ComponentCLI, "bridge", "usart", s.board.Console, "baud", u.Baud())
	if _, err := u.Write([]byte("f4> ")); err != nil {
		return err
	}
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-rx:
			if !ok {
				return nil
			}
			model.Inject(p...)
		case <-tick.C:
		}
		s.sim.Advance(time.Millisecond)
		if err := echo(u); err != nil {
			return err
		}
		if werr != nil {
			return werr
		}
	}
}
