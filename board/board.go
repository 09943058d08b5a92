// Package board describes the hardware around the MCU: crystal and clock
// plan, the user LED and key, the console USART and the external flash.
// Boards are YAML documents; a reference board is embedded.
package board

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	f4gpio "github.com/ardnew/f4core/gpio"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/rcc"
	"github.com/ardnew/f4core/usart"
)

//go:embed default.yaml
var defaultDoc []byte

// Board is a loaded board description.
type Board struct {
	Name  string
	Clock rcc.Plan

	LED          chip.Pin
	LEDActiveLow bool

	Key     chip.Pin
	KeyPull f4gpio.Pull

	Console     chip.Periph
	ConsoleTX   chip.Pin
	ConsoleRX   chip.Pin
	ConsoleBaud uint32

	FlashPart string
	FlashSize int
}

type pinDoc struct {
	Pin       string `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
	Pull      string `yaml:"pull"`
}

type doc struct {
	Name    string   `yaml:"name"`
	Clock   rcc.Plan `yaml:"clock"`
	LED     pinDoc   `yaml:"led"`
	Key     pinDoc   `yaml:"key"`
	Console struct {
		USART string `yaml:"usart"`
		TX    string `yaml:"tx"`
		RX    string `yaml:"rx"`
		Baud  uint32 `yaml:"baud"`
	} `yaml:"console"`
	Flash struct {
		Part string `yaml:"part"`
		Size int    `yaml:"size"`
	} `yaml:"flash"`
}

// Load decodes and validates a board document.
func Load(r io.Reader) (*Board, error) {
	var d doc
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	if _, err := rcc.Validate(d.Clock); err != nil {
		return nil, fmt.Errorf("board %s: %w", d.Name, err)
	}
	b := &Board{
		Name:         d.Name,
		Clock:        d.Clock,
		LEDActiveLow: d.LED.ActiveLow,
		ConsoleBaud:  d.Console.Baud,
		FlashPart:    d.Flash.Part,
		FlashSize:    d.Flash.Size,
	}
	var err error
	pins := []struct {
		dst  *chip.Pin
		text string
		what string
	}{
		{&b.LED, d.LED.Pin, "led"},
		{&b.Key, d.Key.Pin, "key"},
		{&b.ConsoleTX, d.Console.TX, "console tx"},
		{&b.ConsoleRX, d.Console.RX, "console rx"},
	}
	for _, p := range pins {
		if *p.dst, err = ParsePin(p.text); err != nil {
			return nil, fmt.Errorf("board %s: %s: %w", d.Name, p.what, err)
		}
	}
	if b.KeyPull, err = parsePull(d.Key.Pull); err != nil {
		return nil, fmt.Errorf("board %s: key: %w", d.Name, err)
	}
	if b.Console, err = ParsePeriph(d.Console.USART); err != nil {
		return nil, fmt.Errorf("board %s: console: %w", d.Name, err)
	}
	if _, ok := chip.FindAF(b.ConsoleTX, b.Console, chip.TX); !ok {
		return nil, fmt.Errorf("board %s: %v cannot carry %v TX: %w", d.Name, b.ConsoleTX, b.Console, pkg.ErrNotSupported)
	}
	if _, ok := chip.FindAF(b.ConsoleRX, b.Console, chip.RX); !ok {
		return nil, fmt.Errorf("board %s: %v cannot carry %v RX: %w", d.Name, b.ConsoleRX, b.Console, pkg.ErrNotSupported)
	}
	if b.ConsoleBaud == 0 {
		b.ConsoleBaud = 115200
	}
	pkg.LogDebug(pkg.ComponentCLI, "board loaded", "name", b.Name, "hse", b.Clock.HSE)
	return b, nil
}

// Open loads the board document at path.
func Open(path string) (*Board, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded reference board.
func Default() *Board {
	b, err := Load(strings.NewReader(string(defaultDoc)))
	if err != nil {
		panic(err)
	}
	return b
}

// HSE returns the crystal frequency, zero when none is fitted.
func (b *Board) HSE() physic.Frequency { return b.Clock.HSE }

// Configure applies the board's clock plan.
func (b *Board) Configure(m *chip.MCU) (chip.Clocks, error) {
	return rcc.Configure(m, b.Clock)
}

// LEDPin claims the LED pin and drives it as an output with the LED off.
func (b *Board) LEDPin(m *chip.MCU) (f4gpio.Output, error) {
	p, err := f4gpio.Claim(m, b.LED)
	if err != nil {
		return f4gpio.Output{}, err
	}
	return p.Output(f4gpio.PushPull, f4gpio.SpeedLow, b.ledLevel(false)), nil
}

func (b *Board) ledLevel(on bool) gpio.Level {
	return gpio.Level(on != b.LEDActiveLow)
}

// KeyPin claims the key pin as an input with the board's pull.
func (b *Board) KeyPin(m *chip.MCU) (f4gpio.Input, error) {
	p, err := f4gpio.Claim(m, b.Key)
	if err != nil {
		return f4gpio.Input{}, err
	}
	return p.Input(b.KeyPull), nil
}

// OpenConsole routes the console pins and opens the USART at the board's
// baud rate.
func (b *Board) OpenConsole(m *chip.MCU) (*usart.UART, error) {
	u, err := usart.New(m, b.Console, usart.Config{Baud: b.ConsoleBaud})
	if err != nil {
		return nil, err
	}
	for _, s := range []struct {
		pin  chip.Pin
		sig  chip.Signal
		pull f4gpio.Pull
	}{
		{b.ConsoleTX, chip.TX, f4gpio.PullNone},
		{b.ConsoleRX, chip.RX, f4gpio.PullUp},
	} {
		p, err := f4gpio.Claim(m, s.pin)
		if err != nil {
			u.Release()
			return nil, err
		}
		if _, err := p.AlternateFor(b.Console, s.sig, f4gpio.PushPull, f4gpio.SpeedHigh, s.pull); err != nil {
			u.Release()
			return nil, err
		}
	}
	return u, nil
}

// ParsePin parses a pin name such as PC13.
func ParsePin(s string) (chip.Pin, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if len(t) < 3 || len(t) > 4 || t[0] != 'P' || t[1] < 'A' || t[1] > 'H' {
		return 0, fmt.Errorf("pin %q: %w", s, pkg.ErrOutOfRange)
	}
	n := 0
	for _, c := range t[2:] {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("pin %q: %w", s, pkg.ErrOutOfRange)
		}
		n = n*10 + int(c-'0')
	}
	if n > 15 {
		return 0, fmt.Errorf("pin %q: %w", s, pkg.ErrOutOfRange)
	}
	return chip.NewPin(chip.Port(t[1]-'A'), uint8(n)), nil
}

// ParsePeriph finds a peripheral by its reference manual name.
func ParsePeriph(s string) (chip.Periph, error) {
	for p := chip.Periph(0); int(p) < chip.NumPeriph; p++ {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("peripheral %q: %w", s, pkg.ErrOutOfRange)
}

func parsePull(s string) (f4gpio.Pull, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return f4gpio.PullNone, nil
	case "up":
		return f4gpio.PullUp, nil
	case "down":
		return f4gpio.PullDown, nil
	}
	return 0, fmt.Errorf("pull %q: %w", s, pkg.ErrOutOfRange)
}
