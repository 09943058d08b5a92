package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component tags every log record with the subsystem that produced it.
type Component string

// Driver components.
const (
	ComponentRCC      Component = "rcc"
	ComponentPWR      Component = "pwr"
	ComponentGPIO     Component = "gpio"
	ComponentIRQ      Component = "irq"
	ComponentTIM      Component = "tim"
	ComponentSPI      Component = "spi"
	ComponentI2C      Component = "i2c"
	ComponentUSART    Component = "usart"
	ComponentADC      Component = "adc"
	ComponentDAC      Component = "dac"
	ComponentRTC      Component = "rtc"
	ComponentSysTick  Component = "systick"
	ComponentCRC      Component = "crc"
	ComponentWatchdog Component = "watchdog"
	ComponentRNG      Component = "rng"
	ComponentDMA      Component = "dma"
	ComponentQSPI     Component = "qspi"
	ComponentFlash    Component = "flash"
	ComponentSim      Component = "sim"
	ComponentCLI      Component = "cli"
)

// USB device framework components.
const (
	ComponentDevice   Component = "device"
	ComponentStack    Component = "stack"
	ComponentHAL      Component = "hal"
	ComponentEndpoint Component = "endpoint"
	ComponentClass    Component = "class"
)

var (
	level = new(slog.LevelVar)

	mu     sync.RWMutex
	logger *slog.Logger
)

func init() {
	level.Set(slog.LevelWarn)
	logger = NewLogger(os.Stderr, nil)
}

// SetLogLevel sets the level below which driver records are dropped
// before their attributes are built.
func SetLogLevel(l slog.Level) { level.Set(l) }

// LogLevel returns the current driver log level.
func LogLevel() slog.Level { return level.Level() }

// SetLogger installs the sink every driver writes to. A nil logger
// restores the default text logger on standard error.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = NewLogger(os.Stderr, nil)
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the installed sink.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// NewLogger returns a text logger on w. Nil opts follow SetLogLevel.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: level}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger returns a JSON-lines logger on w. Nil opts follow
// SetLogLevel.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: level}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel parses "debug", "info", "warn" or "error" in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

func logAt(l slog.Level, c Component, msg string, args []any) {
	if l < level.Level() {
		return
	}
	lg := Logger()
	ctx := context.Background()
	if !lg.Enabled(ctx, l) {
		return
	}
	lg.Log(ctx, l, msg, append([]any{"component", string(c)}, args...)...)
}

// LogDebug logs a state transition.
func LogDebug(c Component, msg string, args ...any) { logAt(slog.LevelDebug, c, msg, args) }

// LogInfo logs a configuration milestone.
func LogInfo(c Component, msg string, args ...any) { logAt(slog.LevelInfo, c, msg, args) }

// LogWarn logs a fault the driver recovered from.
func LogWarn(c Component, msg string, args ...any) { logAt(slog.LevelWarn, c, msg, args) }

// LogError logs a fault the driver gave up on.
func LogError(c Component, msg string, args ...any) { logAt(slog.LevelError, c, msg, args) }
